package pitchflow

import (
	"fmt"
	"time"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/mixhaven/MixHaven/internal/pkg/payouts"
	"github.com/sirupsen/logrus"
)

// Repository provides the DB operations the pitch workflow needs. Callers
// pass a transaction-scoped repository so every transition commits
// atomically with the payment that caused it.
type Repository interface {
	SavePitch(pitch *models.Pitch) error
	CreatePitchEvent(event *models.PitchEvent) error
	FindPayoutScheduleBySource(sourceRef string) (*models.PayoutSchedule, error)
	CreatePayoutSchedule(schedule *models.PayoutSchedule) error
}

// Notifier creates in-app notifications.
type Notifier interface {
	Notify(userID uint, notifType, content string, refID uint) error
}

// PayoutScheduler schedules producer payouts for confirmed payments.
type PayoutScheduler interface {
	ScheduleForPitch(repo payouts.Repository, pitch *models.Pitch, sourceRef string) (*models.PayoutSchedule, error)
}

// Service drives pitch payment and approval transitions.
type Service struct {
	payouts  PayoutScheduler
	notifier Notifier
	log      *logrus.Logger
}

func NewService(payoutSvc PayoutScheduler, notifier Notifier, log *logrus.Logger) *Service {
	return &Service{payouts: payoutSvc, notifier: notifier, log: log}
}

// MarkPitchAsPaid records a confirmed payment on the pitch, appends a
// timeline entry, notifies the producer and schedules the payout. Calling it
// again for an already paid pitch is a no-op.
func (s *Service) MarkPitchAsPaid(repo Repository, pitch *models.Pitch, paymentRef, intentRef string) error {
	if pitch.IsPaid() {
		s.log.WithFields(logrus.Fields{
			"pitch_id":    pitch.ID,
			"payment_ref": paymentRef,
		}).Info("Pitch already marked as paid, skipping")
		return nil
	}

	now := time.Now()
	pitch.PaymentStatus = models.PaymentStatusPaid
	pitch.PaymentCompletedAt = &now
	if paymentRef != "" {
		pitch.FinalInvoiceRef = paymentRef
	}
	if err := repo.SavePitch(pitch); err != nil {
		return fmt.Errorf("save pitch %d: %w", pitch.ID, err)
	}

	event := &models.PitchEvent{
		PitchID:       pitch.ID,
		EventType:     models.PitchEventPaymentStatusChange,
		Comment:       "Payment received from client.",
		Status:        pitch.Status,
		PaymentStatus: models.PaymentStatusPaid,
	}
	meta := map[string]string{"payment_ref": paymentRef}
	if intentRef != "" {
		meta["payment_intent_id"] = intentRef
	}
	if err := event.SetMetadata(meta); err != nil {
		return err
	}
	if err := repo.CreatePitchEvent(event); err != nil {
		return fmt.Errorf("record pitch %d payment event: %w", pitch.ID, err)
	}

	if _, err := s.payouts.ScheduleForPitch(repo, pitch, paymentRef); err != nil {
		return fmt.Errorf("schedule payout for pitch %d: %w", pitch.ID, err)
	}

	if err := s.notifier.Notify(pitch.UserID, models.NotificationTypePaymentConfirmed,
		fmt.Sprintf("Payment for your pitch \"%s\" has been confirmed.", pitch.Title), pitch.ID); err != nil {
		s.log.WithField("pitch_id", pitch.ID).WithError(err).Warn("Payment notification failed")
	}
	return nil
}

// MarkPitchPaymentFailed records a failed payment attempt. A pitch that has
// already been paid is never downgraded.
func (s *Service) MarkPitchPaymentFailed(repo Repository, pitch *models.Pitch, paymentRef, reason string) error {
	if pitch.IsPaid() {
		s.log.WithFields(logrus.Fields{
			"pitch_id":    pitch.ID,
			"payment_ref": paymentRef,
		}).Info("Failure received for already paid pitch, ignoring")
		return nil
	}

	pitch.PaymentStatus = models.PaymentStatusFailed
	if err := repo.SavePitch(pitch); err != nil {
		return fmt.Errorf("save pitch %d: %w", pitch.ID, err)
	}

	event := &models.PitchEvent{
		PitchID:       pitch.ID,
		EventType:     models.PitchEventPaymentStatusChange,
		Comment:       fmt.Sprintf("Payment failed: %s", reason),
		Status:        pitch.Status,
		PaymentStatus: models.PaymentStatusFailed,
	}
	if err := event.SetMetadata(map[string]string{"payment_ref": paymentRef, "failure_reason": reason}); err != nil {
		return err
	}
	if err := repo.CreatePitchEvent(event); err != nil {
		return fmt.Errorf("record pitch %d failure event: %w", pitch.ID, err)
	}

	if err := s.notifier.Notify(pitch.UserID, models.NotificationTypePaymentFailed,
		fmt.Sprintf("A payment for your pitch \"%s\" failed: %s", pitch.Title, reason), pitch.ID); err != nil {
		s.log.WithField("pitch_id", pitch.ID).WithError(err).Warn("Failure notification failed")
	}
	return nil
}

// ClientApprovePitch moves a pitch into the approved state on behalf of the
// client. Approving an already approved pitch is a no-op.
func (s *Service) ClientApprovePitch(repo Repository, pitch *models.Pitch, approvedBy string) error {
	if pitch.Status == models.PitchStatusApproved {
		return nil
	}

	pitch.Status = models.PitchStatusApproved
	if err := repo.SavePitch(pitch); err != nil {
		return fmt.Errorf("save pitch %d: %w", pitch.ID, err)
	}

	event := &models.PitchEvent{
		PitchID:       pitch.ID,
		EventType:     models.PitchEventClientApproved,
		Comment:       fmt.Sprintf("Pitch approved by client (%s).", approvedBy),
		Status:        models.PitchStatusApproved,
		PaymentStatus: pitch.PaymentStatus,
	}
	if err := repo.CreatePitchEvent(event); err != nil {
		return fmt.Errorf("record pitch %d approval event: %w", pitch.ID, err)
	}
	return nil
}
