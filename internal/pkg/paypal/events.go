package paypal

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Webhook event types this system reacts to. Everything else is acknowledged
// and ignored so the provider stops redelivering.
const (
	EventSubscriptionActivated     = "BILLING.SUBSCRIPTION.ACTIVATED"
	EventSubscriptionRenewed       = "BILLING.SUBSCRIPTION.RENEWED"
	EventSubscriptionCancelled     = "BILLING.SUBSCRIPTION.CANCELLED"
	EventSubscriptionExpired       = "BILLING.SUBSCRIPTION.EXPIRED"
	EventSubscriptionSuspended     = "BILLING.SUBSCRIPTION.SUSPENDED"
	EventSubscriptionPaymentFailed = "BILLING.SUBSCRIPTION.PAYMENT.FAILED"
	EventSaleCompleted             = "PAYMENT.SALE.COMPLETED"
	EventSaleDenied                = "PAYMENT.SALE.DENIED"
)

// Event is the provider's webhook envelope. The resource is kept raw and
// decoded into a typed shape at the router boundary depending on event_type.
type Event struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime string          `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`

	raw []byte
}

// Money is the provider's amount shape ({"total": "9.99", "currency": "EUR"}
// on sales, {"value": "9.99", "currency_code": "EUR"} on billing info).
type Money struct {
	Total        string `json:"total"`
	Currency     string `json:"currency"`
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

// SubscriptionResource is the billing subscription shape embedded in
// subscription lifecycle events and returned by the subscriptions API.
type SubscriptionResource struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	CustomID string `json:"custom_id"`

	Subscriber struct {
		EmailAddress string `json:"email_address"`
		Name         struct {
			GivenName string `json:"given_name"`
			Surname   string `json:"surname"`
		} `json:"name"`
	} `json:"subscriber"`

	BillingInfo struct {
		LastPayment struct {
			Time   string `json:"time"`
			Amount Money  `json:"amount"`
		} `json:"last_payment"`
		NextBillingTime string `json:"next_billing_time"`
	} `json:"billing_info"`
}

// SaleResource is the payment/sale shape embedded in PAYMENT.SALE.* events.
// It carries the owning billing agreement id but not the owning user; the
// subscription must be fetched from the provider to recover that.
type SaleResource struct {
	ID                 string `json:"id"`
	State              string `json:"state"`
	BillingAgreementID string `json:"billing_agreement_id"`
	Amount             Money  `json:"amount"`
	CreateTime         string `json:"create_time"`
}

// ParseEvent decodes the webhook envelope. The exact raw bytes are retained
// because the provider's signature covers them.
func ParseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ev.EventType) == "" {
		return nil, errors.New("webhook payload missing event_type")
	}
	ev.raw = append([]byte(nil), raw...)
	return &ev, nil
}

// Raw returns the exact request bytes the event was parsed from.
func (e *Event) Raw() []byte {
	return e.raw
}

// Subscription decodes the embedded resource as a subscription.
func (e *Event) Subscription() (*SubscriptionResource, error) {
	if len(e.Resource) == 0 {
		return nil, errors.New("webhook event has no resource")
	}
	var res SubscriptionResource
	if err := json.Unmarshal(e.Resource, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Sale decodes the embedded resource as a payment/sale.
func (e *Event) Sale() (*SaleResource, error) {
	if len(e.Resource) == 0 {
		return nil, errors.New("webhook event has no resource")
	}
	var res SaleResource
	if err := json.Unmarshal(e.Resource, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ParseTime decodes the provider's RFC3339 timestamps. Empty or malformed
// values return the zero time; callers fall back to time.Now().
func ParseTime(value string) time.Time {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
