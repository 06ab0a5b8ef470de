package models

import "time"

const (
	CommissionNotificationEarned = "commission_earned"
)

// CommissionNotification is a queued digest entry for a referrer. Rows are
// inserted by the commission ledger writer and delivered later by an external
// digest process, never as an immediate email.
type CommissionNotification struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	ReferrerID       uint       `gorm:"not null;index" json:"referrer_id"`
	NotificationType string     `gorm:"type:varchar(50);not null" json:"notification_type"`
	Amount           float64    `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency         string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	ReferredUserName string     `gorm:"type:varchar(150);default:''" json:"referred_user_name"`
	PaymentProvider  string     `gorm:"type:varchar(20);not null;default:'paypal'" json:"payment_provider"`
	SentAt           *time.Time `gorm:"type:timestamp;default:null" json:"sent_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}
