package controllers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/velora-social/velora/internal/pkg/billing"
	"github.com/velora-social/velora/internal/pkg/notify"
	"github.com/velora-social/velora/internal/pkg/paypal"
	"gorm.io/gorm"
)

// SignatureVerifier checks that a raw webhook body was sent by the provider.
type SignatureVerifier interface {
	VerifyWebhookSignature(ctx context.Context, hdr paypal.SignatureHeaders, rawBody []byte) (bool, error)
}

// WebhookController receives payment provider webhooks and drives the billing
// reconciler. Collaborators are injected so the handler is testable without a
// live provider or store.
type WebhookController struct {
	svc      *billing.Service
	verifier SignatureVerifier
}

func NewWebhookController(svc *billing.Service, verifier SignatureVerifier) *WebhookController {
	return &WebhookController{svc: svc, verifier: verifier}
}

// NewWebhookControllerFromEnv wires the controller with the real PayPal
// client, notifier and GORM repository.
func NewWebhookControllerFromEnv(db *gorm.DB) *WebhookController {
	client := paypal.NewClientFromEnv()
	svc := billing.NewServiceFromDB(db, client, notify.NewClientFromEnv())
	return NewWebhookController(svc, client)
}

// HandlePayPalWebhook processes one webhook delivery. Signature verification
// happens before any store write, so a tampered request leaves no trace.
// Replayed event ids short-circuit to 200 once a prior attempt succeeded;
// redeliveries after a 500 run the reconciler again. Everything after a
// committed state mutation is best-effort and never turns a processed event
// into a retry.
func (ctl *WebhookController) HandlePayPalWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	hdr := paypal.SignatureHeaders{
		AuthAlgo:         c.Get("paypal-auth-algo"),
		CertURL:          c.Get("paypal-cert-url"),
		TransmissionID:   c.Get("paypal-transmission-id"),
		TransmissionSig:  c.Get("paypal-transmission-sig"),
		TransmissionTime: c.Get("paypal-transmission-time"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	deliveryID := uuid.NewString()

	verified, err := ctl.verifier.VerifyWebhookSignature(ctx, hdr, rawBody)
	if err != nil || !verified {
		if err != nil {
			log.Printf("webhook delivery=%s signature verification error: %v", deliveryID, err)
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid signature"})
	}

	ev, err := paypal.ParseEvent(rawBody)
	if err != nil {
		log.Printf("webhook delivery=%s invalid payload: %v", deliveryID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	log.Printf("webhook delivery=%s event=%s type=%s", deliveryID, ev.ID, ev.EventType)

	created, stored, err := ctl.svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		ProviderEventID: ev.ID,
		EventType:       ev.EventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		log.Printf("webhook delivery=%s persist failed: %v", deliveryID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if !created {
		// Only a successfully processed prior attempt short-circuits. A row
		// whose processing failed (or never finished) must let the provider's
		// redelivery run the reconciler again; every downstream transition is
		// a conditional write, so reprocessing is safe.
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
		}
		log.Printf("webhook delivery=%s retrying event %s after failed attempt", deliveryID, ev.ID)
	}

	procErr := ctl.svc.ProcessEvent(ctx, ev)
	if err := ctl.svc.MarkWebhookProcessed(ctx, stored.ID, procErr); err != nil {
		log.Printf("webhook delivery=%s could not mark processed: %v", deliveryID, err)
	}
	if procErr != nil {
		log.Printf("webhook delivery=%s processing failed: %v", deliveryID, procErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": procErr.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}
