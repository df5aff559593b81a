package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v82"
)

// invoicePayload is decoded straight from the raw event payload. Webhook
// invoices carry the customer as an unexpanded id and include failure
// fields that the typed SDK object does not surface.
type invoicePayload struct {
	ID                   string            `json:"id"`
	Customer             string            `json:"customer"`
	Charge               string            `json:"charge"`
	PaymentIntent        string            `json:"payment_intent"`
	AttemptFailureReason string            `json:"attempt_failure_reason"`
	Metadata             map[string]string `json:"metadata"`
	LastPaymentError     *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func parseInvoicePayload(event *stripe.Event) (*invoicePayload, error) {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: invoice: %v", ErrMalformedPayload, err)
	}
	if inv.ID == "" {
		return nil, fmt.Errorf("%w: invoice id missing", ErrMalformedPayload)
	}
	return &inv, nil
}

// failureReason picks the most specific failure description the payload
// offers.
func (inv *invoicePayload) failureReason() string {
	if inv.LastPaymentError != nil && inv.LastPaymentError.Message != "" {
		return inv.LastPaymentError.Message
	}
	if inv.AttemptFailureReason != "" {
		return inv.AttemptFailureReason
	}
	return "Unknown failure reason from webhook."
}

// handleInvoicePayment settles invoice.payment_succeeded and
// invoice.payment_failed events. Invoices whose metadata carries a pitch_id
// drive the pitch payment workflow; afterwards the customer's invoice cache
// is refreshed regardless of the outcome.
func (s *Service) handleInvoicePayment(ctx context.Context, event *stripe.Event, succeeded bool) error {
	inv, err := parseInvoicePayload(event)
	if err != nil {
		return err
	}

	var procErr error
	if pitchID, ok := parseEntityID(inv.Metadata["pitch_id"]); ok {
		if succeeded {
			procErr = s.applyPitchInvoicePaid(pitchID, inv)
		} else {
			procErr = s.applyPitchInvoiceFailed(pitchID, inv)
		}
	} else if inv.Metadata["pitch_id"] != "" {
		s.log.WithFields(logrus.Fields{
			"event_id": event.ID,
			"pitch_id": inv.Metadata["pitch_id"],
		}).Warn("Invoice carries unusable pitch id, ignoring")
	}

	s.syncCustomerInvoices(ctx, inv.Customer)
	return procErr
}

func (s *Service) applyPitchInvoicePaid(pitchID uint, inv *invoicePayload) error {
	return s.repo.Transaction(func(r Repository) error {
		pitch, err := r.FindPitchForUpdate(pitchID)
		if err != nil {
			return fmt.Errorf("load pitch %d: %w", pitchID, err)
		}
		if pitch.IsPaid() {
			s.log.WithFields(logrus.Fields{
				"pitch_id":   pitchID,
				"invoice_id": inv.ID,
			}).Info("Pitch already paid, skipping")
			return nil
		}

		if err := s.flow.MarkPitchAsPaid(r, pitch, inv.ID, inv.PaymentIntent); err != nil {
			return err
		}

		local, err := r.GetOrCreateInvoiceForPitch(&models.Invoice{
			UserID:      pitch.UserID,
			PitchID:     &pitchID,
			Amount:      pitch.PaymentAmount,
			Currency:    pitch.Currency,
			Description: fmt.Sprintf("Client payment for pitch \"%s\"", pitch.Title),
		})
		if err != nil {
			return fmt.Errorf("invoice for pitch %d: %w", pitchID, err)
		}

		now := time.Now()
		local.Status = models.InvoiceStatusPaid
		local.PaidAt = &now
		local.PaymentIntentID = inv.PaymentIntent
		merged := map[string]string{"provider_invoice_id": inv.ID}
		if inv.Charge != "" {
			merged["charge_id"] = inv.Charge
		}
		if err := local.MergeMetadata(merged); err != nil {
			return fmt.Errorf("merge invoice metadata for pitch %d: %w", pitchID, err)
		}
		if err := r.SaveInvoice(local); err != nil {
			return fmt.Errorf("save invoice for pitch %d: %w", pitchID, err)
		}
		return nil
	})
}

func (s *Service) applyPitchInvoiceFailed(pitchID uint, inv *invoicePayload) error {
	reason := inv.failureReason()
	return s.repo.Transaction(func(r Repository) error {
		pitch, err := r.FindPitchForUpdate(pitchID)
		if err != nil {
			return fmt.Errorf("load pitch %d: %w", pitchID, err)
		}
		return s.flow.MarkPitchPaymentFailed(r, pitch, inv.ID, reason)
	})
}

// handleInvoiceCreated refreshes the customer's cached invoice list when the
// provider opens a new invoice.
func (s *Service) handleInvoiceCreated(ctx context.Context, event *stripe.Event) error {
	inv, err := parseInvoicePayload(event)
	if err != nil {
		return err
	}
	s.syncCustomerInvoices(ctx, inv.Customer)
	return nil
}

// syncCustomerInvoices caches the customer's invoice count so account pages
// do not hit the provider API on every view. Best effort, failures are
// logged and never fail the webhook.
func (s *Service) syncCustomerInvoices(ctx context.Context, customerID string) {
	if customerID == "" || s.provider == nil {
		return
	}

	log := s.log.WithField("customer_id", customerID)
	if user, err := s.repo.FindUserByStripeCustomerID(customerID); err != nil {
		log.Warn("No local user for provider customer")
	} else {
		log = log.WithField("user_id", user.ID)
	}

	invoices, err := s.provider.ListCustomerInvoices(ctx, customerID, 100)
	if err != nil {
		log.WithError(err).Warn("Invoice sync failed")
		return
	}

	key := fmt.Sprintf("billing:invoices:%s:count", customerID)
	if err := s.cacheSet(key, len(invoices), 10*time.Minute); err != nil {
		log.WithError(err).Warn("Invoice count cache write failed")
		return
	}
	log.WithField("invoice_count", len(invoices)).Debug("Customer invoices synced")
}
