package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v82"
)

const (
	checkoutTypePitchPayment     = "client_pitch_payment"
	checkoutTypeMilestonePayment = "client_milestone_payment"
)

// handleCheckoutSessionCompleted routes a completed checkout session to the
// entity its metadata points at. The order branch wins when both order and
// pitch keys are present. Sessions without any known routing keys are
// acknowledged untouched, they belong to other parts of the product.
func (s *Service) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: checkout session: %v", ErrMalformedPayload, err)
	}
	if session.ID == "" {
		return fmt.Errorf("%w: checkout session id missing", ErrMalformedPayload)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}
	meta := session.Metadata

	log := s.log.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"session_id": session.ID,
	})

	switch {
	case meta["order_id"] != "" && meta["invoice_id"] != "":
		orderID, ok := parseEntityID(meta["order_id"])
		invoiceID, ok2 := parseEntityID(meta["invoice_id"])
		if !ok || !ok2 {
			log.WithField("metadata", meta).Warn("Checkout session carries unusable order routing ids, ignoring")
			return nil
		}
		return s.applyOrderPayment(ctx, orderID, invoiceID, session.ID, intentID, meta)

	case meta["type"] == checkoutTypePitchPayment && meta["pitch_id"] != "":
		pitchID, ok := parseEntityID(meta["pitch_id"])
		if !ok {
			log.WithField("pitch_id", meta["pitch_id"]).Warn("Checkout session carries unusable pitch id, ignoring")
			return nil
		}
		return s.applyPitchPayment(ctx, pitchID, session.ID, intentID, meta)

	case meta["type"] == checkoutTypeMilestonePayment && meta["milestone_id"] != "":
		milestoneID, ok := parseEntityID(meta["milestone_id"])
		if !ok {
			log.WithField("milestone_id", meta["milestone_id"]).Warn("Checkout session carries unusable milestone id, ignoring")
			return nil
		}
		return s.applyMilestonePayment(ctx, milestoneID, session.ID, intentID)

	default:
		log.Info("Checkout session without routing metadata, ignoring")
		return nil
	}
}

func parseEntityID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// applyOrderPayment confirms payment on an order and its pre-created
// invoice. The order advances to pending_requirements when the purchased
// package has a requirements questionnaire, otherwise straight to
// in_progress.
func (s *Service) applyOrderPayment(ctx context.Context, orderID, invoiceID uint, sessionID, intentID string, meta map[string]string) error {
	_ = ctx
	var buyerID, producerID uint
	var packageTitle string

	err := s.repo.Transaction(func(r Repository) error {
		order, err := r.FindOrderForUpdate(orderID)
		if err != nil {
			return fmt.Errorf("load order %d: %w", orderID, err)
		}
		invoice, err := r.FindInvoiceForUpdate(invoiceID)
		if err != nil {
			return fmt.Errorf("load invoice %d: %w", invoiceID, err)
		}

		if order.IsPaid() {
			s.log.WithFields(logrus.Fields{
				"order_id":   orderID,
				"session_id": sessionID,
			}).Info("Order already paid, skipping")
			return nil
		}

		order.PaymentStatus = models.PaymentStatusPaid
		if order.ServicePackage.HasRequirementsPrompt() {
			order.Status = models.OrderStatusPendingRequirements
		} else {
			order.Status = models.OrderStatusInProgress
		}
		if err := r.SaveOrder(order); err != nil {
			return fmt.Errorf("save order %d: %w", orderID, err)
		}

		now := time.Now()
		invoice.Status = models.InvoiceStatusPaid
		invoice.PaidAt = &now
		invoice.CheckoutSessionID = sessionID
		invoice.PaymentIntentID = intentID
		merged := map[string]string{"checkout_session_id": sessionID}
		if intentID != "" {
			merged["payment_intent_id"] = intentID
		}
		for k, v := range meta {
			merged[k] = v
		}
		if err := invoice.MergeMetadata(merged); err != nil {
			return fmt.Errorf("merge invoice %d metadata: %w", invoiceID, err)
		}
		if err := r.SaveInvoice(invoice); err != nil {
			return fmt.Errorf("save invoice %d: %w", invoiceID, err)
		}

		orderEvent := &models.OrderEvent{
			OrderID:   orderID,
			EventType: models.OrderEventPaymentReceived,
			Comment:   "Payment received, order confirmed.",
			StatusTo:  order.Status,
		}
		if raw, err := json.Marshal(merged); err == nil {
			orderEvent.MetadataJSON = string(raw)
		}
		if err := r.CreateOrderEvent(orderEvent); err != nil {
			return fmt.Errorf("record order %d payment event: %w", orderID, err)
		}

		buyerID = order.UserID
		producerID = order.ServicePackage.UserID
		packageTitle = order.ServicePackage.Title
		return nil
	})
	if err != nil {
		return err
	}

	if buyerID != 0 {
		content := fmt.Sprintf("Your order for \"%s\" has been paid.", packageTitle)
		if err := s.notifier.Notify(buyerID, models.NotificationTypePaymentConfirmed, content, orderID); err != nil {
			s.log.WithField("order_id", orderID).WithError(err).Warn("Buyer notification failed")
		}
		if producerID != 0 && producerID != buyerID {
			content = fmt.Sprintf("You received a new paid order for \"%s\".", packageTitle)
			if err := s.notifier.Notify(producerID, models.NotificationTypePaymentConfirmed, content, orderID); err != nil {
				s.log.WithField("order_id", orderID).WithError(err).Warn("Producer notification failed")
			}
		}
	}
	return nil
}

// applyPitchPayment confirms a full client payment on a pitch: marks it
// paid, records the client approval and settles the lazily created invoice.
func (s *Service) applyPitchPayment(ctx context.Context, pitchID uint, sessionID, intentID string, meta map[string]string) error {
	_ = ctx
	var clientEmail, producerEmail, pitchTitle string

	err := s.repo.Transaction(func(r Repository) error {
		pitch, err := r.FindPitchForUpdate(pitchID)
		if err != nil {
			return fmt.Errorf("load pitch %d: %w", pitchID, err)
		}
		if pitch.IsPaid() {
			s.log.WithFields(logrus.Fields{
				"pitch_id":   pitchID,
				"session_id": sessionID,
			}).Info("Pitch already paid, skipping")
			return nil
		}

		if err := s.flow.MarkPitchAsPaid(r, pitch, sessionID, intentID); err != nil {
			return err
		}
		if err := s.flow.ClientApprovePitch(r, pitch, pitch.ClientEmail); err != nil {
			return err
		}

		invoice, err := r.GetOrCreateInvoiceForPitch(&models.Invoice{
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
		invoice.Status = models.InvoiceStatusPaid
		invoice.PaidAt = &now
		invoice.CheckoutSessionID = sessionID
		invoice.PaymentIntentID = intentID
		merged := map[string]string{"checkout_session_id": sessionID}
		if intentID != "" {
			merged["payment_intent_id"] = intentID
		}
		for k, v := range meta {
			merged[k] = v
		}
		if err := invoice.MergeMetadata(merged); err != nil {
			return fmt.Errorf("merge invoice metadata for pitch %d: %w", pitchID, err)
		}
		if err := r.SaveInvoice(invoice); err != nil {
			return fmt.Errorf("save invoice for pitch %d: %w", pitchID, err)
		}

		clientEmail = pitch.ClientEmail
		producerEmail = pitch.User.Email
		pitchTitle = pitch.Title
		return nil
	})
	if err != nil {
		return err
	}

	if clientEmail != "" {
		body := fmt.Sprintf("Your payment for \"%s\" has been received. Thank you!", pitchTitle)
		if err := s.sendMail(clientEmail, "Payment received", body); err != nil {
			s.log.WithField("pitch_id", pitchID).WithError(err).Warn("Client confirmation mail failed")
		}
	}
	if producerEmail != "" {
		body := fmt.Sprintf("The client payment for your pitch \"%s\" has been confirmed.", pitchTitle)
		if err := s.sendMail(producerEmail, "Pitch payment confirmed", body); err != nil {
			s.log.WithField("pitch_id", pitchID).WithError(err).Warn("Producer confirmation mail failed")
		}
	}
	return nil
}

// applyMilestonePayment confirms a partial payment on a pitch milestone,
// auto-approves the snapshot of a paid revision round and schedules the
// producer payout. The timeline entry is deduplicated by checkout session
// so webhook retries do not stack entries.
func (s *Service) applyMilestonePayment(ctx context.Context, milestoneID uint, sessionID, intentID string) error {
	_ = ctx
	var producerID uint
	var milestoneName, pitchTitle string

	err := s.repo.Transaction(func(r Repository) error {
		m, err := r.FindMilestoneForUpdate(milestoneID)
		if err != nil {
			return fmt.Errorf("load milestone %d: %w", milestoneID, err)
		}
		if m.IsPaid() {
			s.log.WithFields(logrus.Fields{
				"milestone_id": milestoneID,
				"session_id":   sessionID,
			}).Info("Milestone already paid, skipping")
			return nil
		}

		now := time.Now()
		m.PaymentStatus = models.PaymentStatusPaid
		m.PaymentCompletedAt = &now
		m.CheckoutSessionID = sessionID
		m.Status = models.MilestoneStatusApproved
		m.ApprovedAt = &now
		if err := r.SaveMilestone(m); err != nil {
			return fmt.Errorf("save milestone %d: %w", milestoneID, err)
		}

		if m.RevisionRoundNumber > 0 && m.SnapshotID != nil {
			if err := s.approveSnapshotForMilestone(r, m); err != nil {
				return err
			}
		}

		seen, err := r.HasPitchEventWithSession(m.PitchID, models.PitchEventMilestonePaid, sessionID)
		if err != nil {
			return fmt.Errorf("check milestone %d timeline: %w", milestoneID, err)
		}
		if !seen {
			event := &models.PitchEvent{
				PitchID:       m.PitchID,
				EventType:     models.PitchEventMilestonePaid,
				Comment:       fmt.Sprintf("Milestone \"%s\" paid by client.", m.Name),
				Status:        m.Pitch.Status,
				PaymentStatus: models.PaymentStatusPaid,
			}
			meta := map[string]string{
				"checkout_session_id": sessionID,
				"milestone_id":        strconv.FormatUint(uint64(milestoneID), 10),
			}
			if intentID != "" {
				meta["payment_intent_id"] = intentID
			}
			if err := event.SetMetadata(meta); err != nil {
				return err
			}
			if err := r.CreatePitchEvent(event); err != nil {
				return fmt.Errorf("record milestone %d timeline entry: %w", milestoneID, err)
			}
		}

		if _, err := s.payouts.ScheduleForMilestone(r, m, sessionID); err != nil {
			return fmt.Errorf("schedule payout for milestone %d: %w", milestoneID, err)
		}

		producerID = m.Pitch.UserID
		milestoneName = m.Name
		pitchTitle = m.Pitch.Title
		return nil
	})
	if err != nil {
		return err
	}

	if producerID != 0 {
		content := fmt.Sprintf("Milestone \"%s\" on your pitch \"%s\" has been paid.", milestoneName, pitchTitle)
		if err := s.notifier.Notify(producerID, models.NotificationTypePaymentConfirmed, content, milestoneID); err != nil {
			s.log.WithField("milestone_id", milestoneID).WithError(err).Warn("Milestone notification failed")
		}
	}
	return nil
}

func (s *Service) approveSnapshotForMilestone(r Repository, m *models.PitchMilestone) error {
	snapshot, err := r.FindSnapshot(*m.SnapshotID)
	if err != nil {
		return fmt.Errorf("load snapshot %d: %w", *m.SnapshotID, err)
	}
	if snapshot.Status != models.SnapshotStatusPending {
		return nil
	}

	now := time.Now()
	snapshot.Status = models.SnapshotStatusApproved
	snapshot.ApprovedAt = &now
	if err := r.SaveSnapshot(snapshot); err != nil {
		return fmt.Errorf("save snapshot %d: %w", snapshot.ID, err)
	}

	event := &models.PitchEvent{
		PitchID:   m.PitchID,
		EventType: models.PitchEventSnapshotApproved,
		Comment:   fmt.Sprintf("Snapshot for revision round %d approved through milestone payment.", m.RevisionRoundNumber),
		Status:    m.Pitch.Status,
	}
	if err := event.SetMetadata(map[string]string{
		"snapshot_id":  strconv.FormatUint(uint64(snapshot.ID), 10),
		"milestone_id": strconv.FormatUint(uint64(m.ID), 10),
	}); err != nil {
		return err
	}
	if err := r.CreatePitchEvent(event); err != nil {
		return fmt.Errorf("record snapshot %d approval: %w", snapshot.ID, err)
	}
	return nil
}
