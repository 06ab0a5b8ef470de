package billing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/velora-social/velora/app/models"
	"github.com/velora-social/velora/internal/pkg/paypal"
)

// EventCategory is the handling behavior a provider event type maps to.
type EventCategory int

const (
	CategoryUnknown EventCategory = iota
	CategoryActivation
	CategoryPaymentCompleted
	CategoryTermination
	CategoryPaymentFailed
)

func (c EventCategory) String() string {
	switch c {
	case CategoryActivation:
		return "activation"
	case CategoryPaymentCompleted:
		return "payment_completed"
	case CategoryTermination:
		return "termination"
	case CategoryPaymentFailed:
		return "payment_failed"
	default:
		return "unknown"
	}
}

// ClassifyEvent maps a provider event type string to exactly one handling
// behavior. Unknown types are never errors; the webhook contract requires a
// 200 acknowledgment for events the consumer does not act on.
func ClassifyEvent(eventType string) EventCategory {
	switch strings.ToUpper(strings.TrimSpace(eventType)) {
	case paypal.EventSubscriptionActivated, paypal.EventSubscriptionRenewed:
		return CategoryActivation
	case paypal.EventSaleCompleted:
		return CategoryPaymentCompleted
	case paypal.EventSubscriptionCancelled, paypal.EventSubscriptionExpired, paypal.EventSubscriptionSuspended:
		return CategoryTermination
	case paypal.EventSaleDenied, paypal.EventSubscriptionPaymentFailed:
		return CategoryPaymentFailed
	default:
		return CategoryUnknown
	}
}

// IsRenewalEvent reports whether the event type is specifically a renewal.
func IsRenewalEvent(eventType string) bool {
	return strings.EqualFold(strings.TrimSpace(eventType), paypal.EventSubscriptionRenewed)
}

// TerminalStatusFor maps a termination event type to the subscription row
// status it implies.
func TerminalStatusFor(eventType string) string {
	switch strings.ToUpper(strings.TrimSpace(eventType)) {
	case paypal.EventSubscriptionExpired:
		return models.SubscriptionExpired
	case paypal.EventSubscriptionSuspended:
		return models.SubscriptionSuspended
	default:
		return models.SubscriptionCanceled
	}
}

// CustomIDForUser builds the correlation id stored in the provider's
// custom_id field when a subscription is created for a user.
func CustomIDForUser(userID uint) string {
	return fmt.Sprintf("user-%d", userID)
}

// UserIDFromCustomID reverses CustomIDForUser. Bare numeric ids are accepted
// too, since older subscriptions stored the raw user id.
func UserIDFromCustomID(customID string) (uint, bool) {
	s := strings.TrimSpace(customID)
	s = strings.TrimPrefix(s, "user-")
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
