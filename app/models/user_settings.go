package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// UserSettings holds the sensitive per-user payout slice. The payout email is
// auto-populated once from the provider's subscriber contact on first
// activation and never silently overwritten afterwards.
type UserSettings struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	UserID               uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	PayPalPayoutEmail    string    `gorm:"column:paypal_payout_email;type:varchar(200);default:''" json:"-"`
	PayoutSetupCompleted bool      `gorm:"default:false" json:"payout_setup_completed"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetOrCreateUserSettings returns the settings row for a user, creating an
// empty one if none exists yet.
func GetOrCreateUserSettings(db *gorm.DB, userID uint) (*UserSettings, error) {
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}

	var us UserSettings
	err := db.Where("user_id = ?", userID).First(&us).Error
	if err == nil {
		return &us, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	us = UserSettings{UserID: userID}
	if err := db.Create(&us).Error; err != nil {
		return nil, err
	}
	return &us, nil
}
