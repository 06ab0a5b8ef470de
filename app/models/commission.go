package models

import "time"

const (
	CommissionStatusPending  = "pending"
	CommissionStatusPaid     = "paid"
	CommissionStatusCanceled = "canceled"
)

// Commission is a pending payable owed to a referrer when a referred user's
// payment completes. The provider's sale/transaction id is unique so that
// duplicate webhook deliveries cannot book the same commission twice.
type Commission struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	ReferrerID         uint      `gorm:"not null;index" json:"referrer_id"`
	ReferredUserID     uint      `gorm:"not null;index" json:"referred_user_id"`
	Amount             float64   `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency           string    `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Status             string    `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	PaymentProvider    string    `gorm:"type:varchar(20);not null;default:'paypal'" json:"payment_provider"`
	ProviderTransferID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_transfer_id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
