package models

import "time"

// Payment provider constants used across billing-related models.
const (
	PaymentProviderPayPal = "paypal"
)

// Subscription row states mirroring the provider's lifecycle.
const (
	SubscriptionActive    = "active"
	SubscriptionCanceled  = "canceled"
	SubscriptionExpired   = "expired"
	SubscriptionSuspended = "suspended"
	SubscriptionPending   = "pending"
)

// Subscription mirrors one user's recurring billing agreement with the
// payment provider. At most one row exists per provider subscription id; the
// composite unique index is the idempotency key for webhook-driven upserts.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index" json:"user_id"`
	PaymentProvider        string     `gorm:"type:varchar(20);not null;default:'paypal';index:ux_subscriptions_provider_subid,unique,priority:1" json:"payment_provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	Amount                 float64    `gorm:"type:decimal(10,2);not null;default:0" json:"amount"`
	Currency               string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CanceledAt             *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	RawPayloadJSON         string     `gorm:"type:longtext" json:"raw_payload_json"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
