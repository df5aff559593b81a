package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/mixhaven/MixHaven/internal/pkg/database"
	"github.com/mixhaven/MixHaven/internal/pkg/env"
	"github.com/mixhaven/MixHaven/internal/pkg/logging"
	"github.com/mixhaven/MixHaven/internal/pkg/reconcile"
)

// HandleStripeWebhook is the payment provider's webhook endpoint. Every
// delivery lands in the webhook ledger first; only the delivery that wins
// the ledger insert is processed. Processing failures are recorded and
// acknowledged with 200 so the provider stops retrying, except structurally
// malformed payloads which get a 400.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	event, verifyErr := stripewebhook.ConstructEventWithOptions(rawBody, signature, secret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	signatureValid := verifyErr == nil

	// The event envelope is probed separately so invalid-signature
	// deliveries still land in the ledger with their event id.
	var probe struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	_ = json.Unmarshal(rawBody, &probe)

	svc := newReconcileService()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(ctx, models.WebhookEvent{
		Provider:        models.ProviderStripe,
		ProviderEventID: probe.ID,
		EventType:       probe.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		logging.L().WithError(err).Error("Webhook ledger insert failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !signatureValid {
		if created {
			_ = svc.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature"))
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}
	if !created {
		if stored.SignatureValid {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
		}
		// The stored row came from a delivery that failed signature
		// verification and was never processed. This delivery is
		// authentic, so it takes over the ledger slot.
		if err := svc.MarkWebhookSignatureValid(ctx, stored.ID, string(rawBody)); err != nil {
			logging.L().WithError(err).WithField("event_id", stored.ProviderEventID).Error("Webhook ledger reclaim failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
		}
	}

	procErr := svc.Process(ctx, &event)
	_ = svc.MarkWebhookProcessed(ctx, stored.ID, procErr)

	if procErr != nil {
		if errors.Is(procErr, reconcile.ErrMalformedPayload) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		logging.L().WithError(procErr).WithField("event_id", stored.ProviderEventID).Error("Webhook processing failed")
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func newReconcileService() *reconcile.Service {
	return reconcile.NewServiceFromDB(database.GetDB(), providerClientOrNil(), logging.L())
}
