package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/velora-social/velora/app/models"
	"github.com/velora-social/velora/internal/pkg/notify"
	"github.com/velora-social/velora/internal/pkg/paypal"
	"gorm.io/gorm"
)

// Flat referral commission booked per completed payment.
const (
	CommissionAmount   = 5.00
	CommissionCurrency = "USD"
)

// SubscriptionFetcher is the slice of the provider API client the reconciler
// needs: a bearer token and full subscription lookups for events whose
// embedded resource does not identify the owning user.
type SubscriptionFetcher interface {
	GetAccessToken(ctx context.Context) (string, error)
	GetSubscription(ctx context.Context, subscriptionID, accessToken string) (*paypal.SubscriptionResource, error)
}

// Service applies provider webhook events to local billing state. Every state
// transition is a conditional write, so repeated or concurrent deliveries of
// the same logical event produce the change at most once while still being
// acknowledged as successes.
type Service struct {
	repo     Repository
	provider SubscriptionFetcher
	notifier notify.Notifier
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, provider SubscriptionFetcher, notifier notify.Notifier) *Service {
	return &Service{repo: repo, provider: provider, notifier: notifier}
}

// NewServiceFromDB wires the service with a GORM-backed repository.
func NewServiceFromDB(db *gorm.DB, provider SubscriptionFetcher, notifier notify.Notifier) *Service {
	return NewService(NewRepository(db), provider, notifier)
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// RecordWebhookEvent persists webhook payloads idempotently. Events without a
// provider id are keyed by a payload hash instead.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        models.PaymentProviderPayPal,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// ProcessEvent routes one parsed webhook event to its handling behavior.
// Unknown event types are acknowledged no-ops.
func (s *Service) ProcessEvent(ctx context.Context, ev *paypal.Event) error {
	switch ClassifyEvent(ev.EventType) {
	case CategoryActivation:
		return s.handleActivation(ctx, ev, IsRenewalEvent(ev.EventType))
	case CategoryPaymentCompleted:
		return s.handleSaleCompleted(ctx, ev)
	case CategoryTermination:
		return s.handleTermination(ctx, ev)
	case CategoryPaymentFailed:
		return s.handlePaymentFailed(ctx, ev)
	default:
		log.Printf("billing: ignoring webhook event type %q", ev.EventType)
		return nil
	}
}

// handleActivation applies activation and renewal events. The profile status
// flip is the guarded first step; its row count alone decides whether this
// delivery is the first activation, which gates the payout auto-population
// and which notification (if any) is dispatched.
func (s *Service) handleActivation(ctx context.Context, ev *paypal.Event, renewal bool) error {
	res, err := ev.Subscription()
	if err != nil {
		return err
	}
	userID, ok := UserIDFromCustomID(res.CustomID)
	if !ok {
		log.Printf("billing: activation event %s has no usable custom_id, skipping", ev.ID)
		return nil
	}

	first, err := s.repo.MarkProfileSubscriptionActive(userID)
	if err != nil {
		return err
	}

	if first {
		if err := s.autoProvisionPayout(userID, res.Subscriber.EmailAddress); err != nil {
			return err
		}
	}

	start := paypal.ParseTime(res.BillingInfo.LastPayment.Time)
	if start.IsZero() {
		start = time.Now()
	}
	// Fixed monthly cadence; the provider does not expose plan intervals here.
	end := start.AddDate(0, 1, 0)

	amount, currency := paymentAmount(res.BillingInfo.LastPayment.Amount)
	sub := &models.Subscription{
		UserID:                 userID,
		PaymentProvider:        models.PaymentProviderPayPal,
		ProviderSubscriptionID: strings.TrimSpace(res.ID),
		Status:                 models.SubscriptionActive,
		Amount:                 amount,
		Currency:               currency,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
		RawPayloadJSON:         string(ev.Raw()),
	}
	if err := s.repo.UpsertSubscription(sub); err != nil {
		return err
	}

	// State is committed; everything below is best-effort.
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		log.Printf("billing: could not resolve user %d for activation notification: %v", userID, err)
		return nil
	}

	if first {
		if err := s.notifier.SendSubscriptionConfirmation(ctx, user.Email, user.Name); err != nil {
			log.Printf("billing: confirmation notification failed for user %d: %v", userID, err)
		}
	} else if renewal {
		if err := s.notifier.SendRenewalNotice(ctx, user.Email, user.Name); err != nil {
			log.Printf("billing: renewal notification failed for user %d: %v", userID, err)
		}
	}
	return nil
}

// autoProvisionPayout copies the subscriber contact into the payout slice on
// first activation. An already-configured payout email is never overwritten;
// if one exists without the completed flag, the flag is repaired.
func (s *Service) autoProvisionPayout(userID uint, subscriberEmail string) error {
	email := strings.TrimSpace(subscriberEmail)
	if email == "" {
		return nil
	}

	us, err := s.repo.GetOrCreateUserSettings(userID)
	if err != nil {
		return err
	}

	if strings.TrimSpace(us.PayPalPayoutEmail) == "" {
		_, err := s.repo.SetPayoutEmailIfEmpty(userID, email)
		return err
	}
	if !us.PayoutSetupCompleted {
		return s.repo.MarkPayoutSetupCompleted(userID)
	}
	return nil
}

// handleSaleCompleted runs the commission path. The sale only carries a
// billing-agreement id, so the owning user is recovered via the provider API;
// any failure along that side path skips the event gracefully.
func (s *Service) handleSaleCompleted(ctx context.Context, ev *paypal.Event) error {
	sale, err := ev.Sale()
	if err != nil {
		return err
	}
	agreementID := strings.TrimSpace(sale.BillingAgreementID)
	if agreementID == "" {
		return nil
	}

	token, err := s.provider.GetAccessToken(ctx)
	if err != nil {
		log.Printf("billing: token exchange failed for sale %s, skipping commission: %v", sale.ID, err)
		return nil
	}
	res, err := s.provider.GetSubscription(ctx, agreementID, token)
	if err != nil {
		log.Printf("billing: subscription lookup failed for sale %s, skipping commission: %v", sale.ID, err)
		return nil
	}
	userID, ok := UserIDFromCustomID(res.CustomID)
	if !ok {
		log.Printf("billing: subscription %s has no usable custom_id, skipping commission", agreementID)
		return nil
	}

	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("billing: no local user %d for sale %s, skipping commission", userID, sale.ID)
			return nil
		}
		return err
	}
	if user.ReferrerID == nil || *user.ReferrerID == 0 {
		return nil
	}

	currency := strings.TrimSpace(sale.Amount.Currency)
	if currency == "" {
		currency = CommissionCurrency
	}
	created, err := s.repo.CreateCommissionIfNotExists(&models.Commission{
		ReferrerID:         *user.ReferrerID,
		ReferredUserID:     userID,
		Amount:             CommissionAmount,
		Currency:           currency,
		Status:             models.CommissionStatusPending,
		PaymentProvider:    models.PaymentProviderPayPal,
		ProviderTransferID: strings.TrimSpace(sale.ID),
	})
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	return s.repo.EnqueueCommissionNotification(&models.CommissionNotification{
		ReferrerID:       *user.ReferrerID,
		NotificationType: models.CommissionNotificationEarned,
		Amount:           CommissionAmount,
		Currency:         currency,
		ReferredUserName: user.Name,
		PaymentProvider:  models.PaymentProviderPayPal,
	})
}

// handleTermination applies cancel/expire/suspend events. Setting the profile
// inactive is idempotent by nature, so no row-count gating is needed here.
func (s *Service) handleTermination(ctx context.Context, ev *paypal.Event) error {
	res, err := ev.Subscription()
	if err != nil {
		return err
	}
	providerSubID := strings.TrimSpace(res.ID)

	userID, ok := UserIDFromCustomID(res.CustomID)
	if !ok && providerSubID != "" {
		// Older events omit custom_id; fall back to the stored subscription.
		if sub, lookupErr := s.repo.GetSubscriptionByProviderID(models.PaymentProviderPayPal, providerSubID); lookupErr == nil {
			userID, ok = sub.UserID, sub.UserID != 0
		}
	}
	if ok {
		if err := s.repo.MarkProfileSubscriptionInactive(userID); err != nil {
			return err
		}
	}

	now := time.Now()
	accessUntil := paypal.ParseTime(res.BillingInfo.NextBillingTime)
	if accessUntil.IsZero() {
		accessUntil = now
	}
	if providerSubID != "" {
		if err := s.repo.UpdateSubscriptionStatus(models.PaymentProviderPayPal, providerSubID,
			TerminalStatusFor(ev.EventType), now, &accessUntil); err != nil {
			return err
		}
	}

	if !ok {
		return nil
	}
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		log.Printf("billing: could not resolve user %d for cancellation notification: %v", userID, err)
		return nil
	}
	if err := s.notifier.SendCancellationNotice(ctx, user.Email, user.Name, accessUntil); err != nil {
		log.Printf("billing: cancellation notification failed for user %d: %v", userID, err)
	}
	return nil
}

// handlePaymentFailed is purely advisory: no persisted state changes, just a
// best-effort notification to the affected user.
func (s *Service) handlePaymentFailed(ctx context.Context, ev *paypal.Event) error {
	subID := ""
	if sale, err := ev.Sale(); err == nil && strings.TrimSpace(sale.BillingAgreementID) != "" {
		subID = strings.TrimSpace(sale.BillingAgreementID)
	} else if res, err := ev.Subscription(); err == nil {
		subID = strings.TrimSpace(res.ID)
	}
	if subID == "" {
		log.Printf("billing: payment-failed event %s carries no subscription reference, skipping", ev.ID)
		return nil
	}

	token, err := s.provider.GetAccessToken(ctx)
	if err != nil {
		log.Printf("billing: token exchange failed for payment-failed event %s: %v", ev.ID, err)
		return nil
	}
	res, err := s.provider.GetSubscription(ctx, subID, token)
	if err != nil {
		log.Printf("billing: subscription lookup failed for payment-failed event %s: %v", ev.ID, err)
		return nil
	}
	userID, ok := UserIDFromCustomID(res.CustomID)
	if !ok {
		return nil
	}
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		log.Printf("billing: could not resolve user %d for payment-failed notification: %v", userID, err)
		return nil
	}
	if err := s.notifier.SendPaymentFailedNotice(ctx, user.Email, user.Name); err != nil {
		log.Printf("billing: payment-failed notification failed for user %d: %v", userID, err)
	}
	return nil
}

func paymentAmount(m paypal.Money) (float64, string) {
	raw := strings.TrimSpace(m.Value)
	currency := strings.TrimSpace(m.CurrencyCode)
	if raw == "" {
		raw = strings.TrimSpace(m.Total)
	}
	if currency == "" {
		currency = strings.TrimSpace(m.Currency)
	}
	if currency == "" {
		currency = CommissionCurrency
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, currency
	}
	return amount, currency
}
