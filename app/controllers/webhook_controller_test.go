package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/velora-social/velora/app/models"
	"github.com/velora-social/velora/internal/pkg/billing"
	"github.com/velora-social/velora/internal/pkg/paypal"
)

// stubVerifier answers signature checks without the provider.
type stubVerifier struct {
	ok  bool
	err error
}

func (v stubVerifier) VerifyWebhookSignature(_ context.Context, _ paypal.SignatureHeaders, _ []byte) (bool, error) {
	return v.ok, v.err
}

// stubRepo implements billing.Repository with just enough state for the
// handler paths under test.
type stubRepo struct {
	mu sync.Mutex

	users         map[uint]*models.User
	settings      map[uint]*models.UserSettings
	subscriptions map[string]*models.Subscription
	events        map[string]*models.WebhookEvent
	nextID        uint

	failActivation bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:         make(map[uint]*models.User),
		settings:      make(map[uint]*models.UserSettings),
		subscriptions: make(map[string]*models.Subscription),
		events:        make(map[string]*models.WebhookEvent),
	}
}

func (r *stubRepo) GetUserByID(userID uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *stubRepo) MarkProfileSubscriptionActive(userID uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failActivation {
		return false, errors.New("store unavailable")
	}
	u, ok := r.users[userID]
	if !ok || u.SubscriptionStatus == models.SubscriptionStatusActive {
		return false, nil
	}
	u.SubscriptionStatus = models.SubscriptionStatusActive
	return true, nil
}

func (r *stubRepo) MarkProfileSubscriptionInactive(userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.SubscriptionStatus = models.SubscriptionStatusInactive
	}
	return nil
}

func (r *stubRepo) GetOrCreateUserSettings(userID uint) (*models.UserSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if us, ok := r.settings[userID]; ok {
		cp := *us
		return &cp, nil
	}
	us := &models.UserSettings{UserID: userID}
	r.settings[userID] = us
	cp := *us
	return &cp, nil
}

func (r *stubRepo) SetPayoutEmailIfEmpty(userID uint, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	us, ok := r.settings[userID]
	if !ok || us.PayPalPayoutEmail != "" {
		return false, nil
	}
	us.PayPalPayoutEmail = email
	us.PayoutSetupCompleted = true
	return true, nil
}

func (r *stubRepo) MarkPayoutSetupCompleted(userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if us, ok := r.settings[userID]; ok {
		us.PayoutSetupCompleted = true
	}
	return nil
}

func (r *stubRepo) UpsertSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := sub.PaymentProvider + "|" + sub.ProviderSubscriptionID
	if existing, ok := r.subscriptions[key]; ok {
		existing.Status = sub.Status
		existing.CanceledAt = sub.CanceledAt
		*sub = *existing
		return nil
	}
	r.nextID++
	sub.ID = r.nextID
	cp := *sub
	r.subscriptions[key] = &cp
	return nil
}

func (r *stubRepo) GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscriptions[provider+"|"+providerSubscriptionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *stubRepo) UpdateSubscriptionStatus(provider, providerSubscriptionID, status string, canceledAt time.Time, periodEnd *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subscriptions[provider+"|"+providerSubscriptionID]; ok {
		sub.Status = status
		sub.CanceledAt = &canceledAt
	}
	return nil
}

func (r *stubRepo) CreateCommissionIfNotExists(_ *models.Commission) (bool, error) {
	return false, nil
}

func (r *stubRepo) EnqueueCommissionNotification(_ *models.CommissionNotification) error {
	return nil
}

func (r *stubRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "|" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	r.nextID++
	event.ID = r.nextID
	cp := *event
	r.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *stubRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, ev := range r.events {
		if ev.ID == id {
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
		}
	}
	return nil
}

type countingNotifier struct {
	mu            sync.Mutex
	confirmations int
}

func (n *countingNotifier) SendSubscriptionConfirmation(_ context.Context, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations++
	return nil
}

func (n *countingNotifier) SendRenewalNotice(_ context.Context, _, _ string) error      { return nil }
func (n *countingNotifier) SendPaymentFailedNotice(_ context.Context, _, _ string) error { return nil }
func (n *countingNotifier) SendCancellationNotice(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}

type noProvider struct{}

func (noProvider) GetAccessToken(_ context.Context) (string, error) {
	return "", errors.New("provider not wired in test")
}

func (noProvider) GetSubscription(_ context.Context, _, _ string) (*paypal.SubscriptionResource, error) {
	return nil, errors.New("provider not wired in test")
}

func newTestApp(repo *stubRepo, verifier SignatureVerifier, notifier *countingNotifier) *fiber.App {
	svc := billing.NewService(repo, noProvider{}, notifier)
	ctl := NewWebhookController(svc, verifier)

	app := fiber.New()
	app.Post("/webhooks/paypal", ctl.HandlePayPalWebhook)
	return app
}

func postWebhook(t *testing.T, app *fiber.App, body []byte) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("paypal-transmission-id", "tid-1")
	req.Header.Set("paypal-transmission-sig", "sig")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func activationBody(t *testing.T, eventID string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":         eventID,
		"event_type": "BILLING.SUBSCRIPTION.ACTIVATED",
		"resource": map[string]interface{}{
			"id":        "SUB-1",
			"custom_id": "user-42",
			"subscriber": map[string]interface{}{
				"email_address": "a@b.com",
			},
		},
	})
	require.NoError(t, err)
	return raw
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	repo := newStubRepo()
	repo.users[42] = &models.User{ID: 42, Name: "Anna", Email: "anna@example.com"}
	app := newTestApp(repo, stubVerifier{ok: false}, &countingNotifier{})

	resp, body := postWebhook(t, app, activationBody(t, "WH-1"))

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid signature", body["error"])
	assert.Empty(t, repo.events, "rejected requests must leave zero store writes")
	assert.Empty(t, repo.users[42].SubscriptionStatus)
}

func TestWebhookRejectsOnVerifierError(t *testing.T) {
	repo := newStubRepo()
	app := newTestApp(repo, stubVerifier{ok: false, err: errors.New("provider unreachable")}, &countingNotifier{})

	resp, _ := postWebhook(t, app, activationBody(t, "WH-1"))

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, repo.events)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	repo := newStubRepo()
	app := newTestApp(repo, stubVerifier{ok: true}, &countingNotifier{})

	resp, _ := postWebhook(t, app, []byte(`{not json`))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, repo.events)
}

func TestWebhookProcessesActivation(t *testing.T) {
	repo := newStubRepo()
	repo.users[42] = &models.User{ID: 42, Name: "Anna", Email: "anna@example.com"}
	notifier := &countingNotifier{}
	app := newTestApp(repo, stubVerifier{ok: true}, notifier)

	resp, body := postWebhook(t, app, activationBody(t, "WH-1"))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, models.SubscriptionStatusActive, repo.users[42].SubscriptionStatus)
	assert.Equal(t, 1, notifier.confirmations)

	ev := repo.events[models.PaymentProviderPayPal+"|WH-1"]
	require.NotNil(t, ev)
	assert.NotNil(t, ev.ProcessedAt)
	assert.Empty(t, ev.ProcessingError)
}

func TestWebhookDuplicateEventShortCircuits(t *testing.T) {
	repo := newStubRepo()
	repo.users[42] = &models.User{ID: 42, Name: "Anna", Email: "anna@example.com"}
	notifier := &countingNotifier{}
	app := newTestApp(repo, stubVerifier{ok: true}, notifier)

	resp1, body1 := postWebhook(t, app, activationBody(t, "WH-1"))
	resp2, body2 := postWebhook(t, app, activationBody(t, "WH-1"))

	assert.Equal(t, http.StatusOK, resp1.StatusCode)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Nil(t, body1["duplicate"])
	assert.Equal(t, true, body2["duplicate"])
	assert.Equal(t, 1, notifier.confirmations, "replayed event id must not re-run side effects")
}

func TestWebhookAcknowledgesUnknownEventType(t *testing.T) {
	repo := newStubRepo()
	notifier := &countingNotifier{}
	app := newTestApp(repo, stubVerifier{ok: true}, notifier)

	raw, err := json.Marshal(map[string]interface{}{
		"id":         "WH-9",
		"event_type": "CUSTOMER.DISPUTE.CREATED",
		"resource":   map[string]interface{}{"id": "X"},
	})
	require.NoError(t, err)

	resp, body := postWebhook(t, app, raw)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, 0, notifier.confirmations)
	assert.Empty(t, repo.subscriptions)
}

func TestWebhookSurfacesProcessingError(t *testing.T) {
	repo := newStubRepo()
	repo.users[42] = &models.User{ID: 42, Name: "Anna", Email: "anna@example.com"}
	repo.failActivation = true
	app := newTestApp(repo, stubVerifier{ok: true}, &countingNotifier{})

	resp, body := postWebhook(t, app, activationBody(t, "WH-1"))

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	ev := repo.events[models.PaymentProviderPayPal+"|WH-1"]
	require.NotNil(t, ev)
	assert.Equal(t, "store unavailable", ev.ProcessingError)
}

func TestWebhookRedeliveryAfterFailureReprocesses(t *testing.T) {
	repo := newStubRepo()
	repo.users[42] = &models.User{ID: 42, Name: "Anna", Email: "anna@example.com"}
	notifier := &countingNotifier{}
	app := newTestApp(repo, stubVerifier{ok: true}, notifier)

	repo.failActivation = true
	resp, _ := postWebhook(t, app, activationBody(t, "WH-1"))
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Empty(t, repo.users[42].SubscriptionStatus)

	// The store recovers and the provider redelivers the same body. The
	// stored event row carries a processing error, so it must not be treated
	// as a completed duplicate.
	repo.failActivation = false
	resp, body := postWebhook(t, app, activationBody(t, "WH-1"))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["duplicate"])
	assert.Equal(t, models.SubscriptionStatusActive, repo.users[42].SubscriptionStatus)
	assert.Equal(t, 1, notifier.confirmations)

	ev := repo.events[models.PaymentProviderPayPal+"|WH-1"]
	require.NotNil(t, ev)
	require.NotNil(t, ev.ProcessedAt)
	assert.Empty(t, ev.ProcessingError, "successful retry clears the recorded error")

	// A further redelivery now short-circuits as a duplicate.
	resp, body = postWebhook(t, app, activationBody(t, "WH-1"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["duplicate"])
	assert.Equal(t, 1, notifier.confirmations)
}
