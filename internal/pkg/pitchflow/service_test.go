package pitchflow

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/mixhaven/MixHaven/internal/pkg/payouts"
)

type memRepo struct {
	events  []*models.PitchEvent
	payouts map[string]*models.PayoutSchedule
}

func newMemRepo() *memRepo {
	return &memRepo{payouts: map[string]*models.PayoutSchedule{}}
}

func (r *memRepo) SavePitch(*models.Pitch) error { return nil }
func (r *memRepo) CreatePitchEvent(e *models.PitchEvent) error {
	r.events = append(r.events, e)
	return nil
}
func (r *memRepo) FindPayoutScheduleBySource(sourceRef string) (*models.PayoutSchedule, error) {
	if s, ok := r.payouts[sourceRef]; ok {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}
func (r *memRepo) CreatePayoutSchedule(s *models.PayoutSchedule) error {
	r.payouts[s.SourceReference] = s
	return nil
}

type memNotifier struct {
	types []string
}

func (n *memNotifier) Notify(userID uint, notifType, content string, refID uint) error {
	n.types = append(n.types, notifType)
	return nil
}

func newTestFlow() (*Service, *memRepo, *memNotifier) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	notifier := &memNotifier{}
	return NewService(payouts.NewService(7, 0.10, log), notifier, log), newMemRepo(), notifier
}

func TestMarkPitchAsPaid(t *testing.T) {
	svc, repo, notifier := newTestFlow()
	pitch := &models.Pitch{
		ID:            1,
		UserID:        9,
		Title:         "Synthwave EP",
		Status:        models.PitchStatusCompleted,
		PaymentStatus: models.PaymentStatusProcessing,
		PaymentAmount: 30000,
		Currency:      "USD",
	}

	if err := svc.MarkPitchAsPaid(repo, pitch, "cs_1", "pi_1"); err != nil {
		t.Fatalf("MarkPitchAsPaid: %v", err)
	}

	if pitch.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("payment status = %q, want paid", pitch.PaymentStatus)
	}
	if pitch.PaymentCompletedAt == nil {
		t.Error("PaymentCompletedAt not stamped")
	}
	if pitch.FinalInvoiceRef != "cs_1" {
		t.Errorf("FinalInvoiceRef = %q, want cs_1", pitch.FinalInvoiceRef)
	}

	if len(repo.events) != 1 {
		t.Fatalf("got %d events, want 1", len(repo.events))
	}
	event := repo.events[0]
	if event.EventType != models.PitchEventPaymentStatusChange {
		t.Errorf("event type = %q", event.EventType)
	}
	if !strings.Contains(event.MetadataJSON, "pi_1") {
		t.Errorf("event metadata missing intent ref: %s", event.MetadataJSON)
	}

	if _, ok := repo.payouts["cs_1"]; !ok {
		t.Error("payout not scheduled")
	}
	if len(notifier.types) != 1 || notifier.types[0] != models.NotificationTypePaymentConfirmed {
		t.Errorf("notifications = %v", notifier.types)
	}
}

func TestMarkPitchAsPaidIsIdempotent(t *testing.T) {
	svc, repo, _ := newTestFlow()
	pitch := &models.Pitch{ID: 1, UserID: 9, PaymentStatus: models.PaymentStatusPaid}

	if err := svc.MarkPitchAsPaid(repo, pitch, "cs_1", ""); err != nil {
		t.Fatalf("MarkPitchAsPaid: %v", err)
	}
	if len(repo.events) != 0 {
		t.Errorf("paid pitch must not get new events, got %d", len(repo.events))
	}
	if len(repo.payouts) != 0 {
		t.Error("paid pitch must not schedule another payout")
	}
}

func TestMarkPitchPaymentFailed(t *testing.T) {
	svc, repo, notifier := newTestFlow()
	pitch := &models.Pitch{
		ID:            1,
		UserID:        9,
		Title:         "Synthwave EP",
		PaymentStatus: models.PaymentStatusProcessing,
	}

	if err := svc.MarkPitchPaymentFailed(repo, pitch, "in_1", "Your card was declined."); err != nil {
		t.Fatalf("MarkPitchPaymentFailed: %v", err)
	}

	if pitch.PaymentStatus != models.PaymentStatusFailed {
		t.Errorf("payment status = %q, want failed", pitch.PaymentStatus)
	}
	if len(repo.events) != 1 {
		t.Fatalf("got %d events, want 1", len(repo.events))
	}
	if !strings.Contains(repo.events[0].Comment, "Your card was declined.") {
		t.Errorf("failure reason missing from comment: %q", repo.events[0].Comment)
	}
	if len(notifier.types) != 1 || notifier.types[0] != models.NotificationTypePaymentFailed {
		t.Errorf("notifications = %v", notifier.types)
	}
}

func TestMarkPitchPaymentFailedNeverDowngrades(t *testing.T) {
	svc, repo, _ := newTestFlow()
	pitch := &models.Pitch{ID: 1, PaymentStatus: models.PaymentStatusPaid}

	if err := svc.MarkPitchPaymentFailed(repo, pitch, "in_1", "late failure"); err != nil {
		t.Fatalf("MarkPitchPaymentFailed: %v", err)
	}
	if pitch.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("paid pitch was downgraded to %q", pitch.PaymentStatus)
	}
	if len(repo.events) != 0 {
		t.Error("paid pitch must not get a failure event")
	}
}

func TestClientApprovePitch(t *testing.T) {
	svc, repo, _ := newTestFlow()
	pitch := &models.Pitch{ID: 1, Status: models.PitchStatusReadyForReview}

	if err := svc.ClientApprovePitch(repo, pitch, "client@example.com"); err != nil {
		t.Fatalf("ClientApprovePitch: %v", err)
	}
	if pitch.Status != models.PitchStatusApproved {
		t.Errorf("status = %q, want approved", pitch.Status)
	}
	if len(repo.events) != 1 || repo.events[0].EventType != models.PitchEventClientApproved {
		t.Fatalf("unexpected events: %+v", repo.events)
	}
	if !strings.Contains(repo.events[0].Comment, "client@example.com") {
		t.Errorf("approver missing from comment: %q", repo.events[0].Comment)
	}

	// Approving again is a no-op.
	if err := svc.ClientApprovePitch(repo, pitch, "client@example.com"); err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if len(repo.events) != 1 {
		t.Errorf("second approval appended an event")
	}
}
