package billing

import (
	"time"

	"github.com/velora-social/velora/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the billing service. All
// idempotency guarantees live here: guarded updates report whether they
// changed a row, and inserts on unique keys report whether they created one.
// Two concurrent deliveries of the same event cannot both observe "first",
// because the precondition is enforced by the store, not application logic.
type Repository interface {
	GetUserByID(userID uint) (*models.User, error)
	MarkProfileSubscriptionActive(userID uint) (bool, error)
	MarkProfileSubscriptionInactive(userID uint) error

	GetOrCreateUserSettings(userID uint) (*models.UserSettings, error)
	SetPayoutEmailIfEmpty(userID uint, email string) (bool, error)
	MarkPayoutSetupCompleted(userID uint) error

	UpsertSubscription(sub *models.Subscription) error
	GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error)
	UpdateSubscriptionStatus(provider, providerSubscriptionID, status string, canceledAt time.Time, periodEnd *time.Time) error

	CreateCommissionIfNotExists(c *models.Commission) (bool, error)
	EnqueueCommissionNotification(n *models.CommissionNotification) error

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUserByID(userID uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, userID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// MarkProfileSubscriptionActive flips the profile to active only if it is not
// already. The reported row count is the sole "first activation" signal.
func (r *gormRepository) MarkProfileSubscriptionActive(userID uint) (bool, error) {
	tx := r.db.Model(&models.User{}).
		Where("id = ? AND (subscription_status IS NULL OR subscription_status <> ?)", userID, models.SubscriptionStatusActive).
		Update("subscription_status", models.SubscriptionStatusActive)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkProfileSubscriptionInactive(userID uint) error {
	return r.db.Model(&models.User{}).
		Where("id = ?", userID).
		Update("subscription_status", models.SubscriptionStatusInactive).Error
}

func (r *gormRepository) GetOrCreateUserSettings(userID uint) (*models.UserSettings, error) {
	return models.GetOrCreateUserSettings(r.db, userID)
}

// SetPayoutEmailIfEmpty auto-populates the payout email, first write wins.
func (r *gormRepository) SetPayoutEmailIfEmpty(userID uint, email string) (bool, error) {
	tx := r.db.Model(&models.UserSettings{}).
		Where("user_id = ? AND (paypal_payout_email IS NULL OR paypal_payout_email = '')", userID).
		Updates(map[string]interface{}{
			"paypal_payout_email":    email,
			"payout_setup_completed": true,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkPayoutSetupCompleted(userID uint) error {
	return r.db.Model(&models.UserSettings{}).
		Where("user_id = ?", userID).
		Update("payout_setup_completed", true).Error
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "payment_provider"},
			{Name: "provider_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"status",
			"amount",
			"currency",
			"current_period_start",
			"current_period_end",
			"canceled_at",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("payment_provider = ? AND provider_subscription_id = ?", sub.PaymentProvider, sub.ProviderSubscriptionID).
		First(sub).Error
}

func (r *gormRepository) GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("payment_provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpdateSubscriptionStatus(provider, providerSubscriptionID, status string, canceledAt time.Time, periodEnd *time.Time) error {
	updates := map[string]interface{}{
		"status":      status,
		"canceled_at": &canceledAt,
	}
	if periodEnd != nil {
		updates["current_period_end"] = periodEnd
	}
	return r.db.Model(&models.Subscription{}).
		Where("payment_provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		Updates(updates).Error
}

// CreateCommissionIfNotExists books a commission at most once per provider
// transfer id, relying on the unique index instead of an application lock.
func (r *gormRepository) CreateCommissionIfNotExists(c *models.Commission) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_transfer_id"}},
		DoNothing: true,
	}).Create(c)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) EnqueueCommissionNotification(n *models.CommissionNotification) error {
	return r.db.Create(n).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
