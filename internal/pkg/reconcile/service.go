package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/mixhaven/MixHaven/internal/pkg/cache"
	"github.com/mixhaven/MixHaven/internal/pkg/mail"
	"github.com/mixhaven/MixHaven/internal/pkg/notifications"
	"github.com/mixhaven/MixHaven/internal/pkg/payouts"
	"github.com/mixhaven/MixHaven/internal/pkg/pitchflow"
	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
)

// PitchWorkflow drives pitch payment and approval transitions. The
// repository argument is transaction-scoped.
type PitchWorkflow interface {
	MarkPitchAsPaid(repo pitchflow.Repository, pitch *models.Pitch, paymentRef, intentRef string) error
	MarkPitchPaymentFailed(repo pitchflow.Repository, pitch *models.Pitch, paymentRef, reason string) error
	ClientApprovePitch(repo pitchflow.Repository, pitch *models.Pitch, approvedBy string) error
}

// PayoutScheduler schedules producer payouts for confirmed payments.
type PayoutScheduler interface {
	ScheduleForMilestone(repo payouts.Repository, m *models.PitchMilestone, sourceRef string) (*models.PayoutSchedule, error)
}

// Notifier creates in-app notifications.
type Notifier interface {
	Notify(userID uint, notifType, content string, refID uint) error
}

// ProviderClient is the outbound provider API surface the service needs.
// It may be nil when no API key is configured; invoice syncing is then
// skipped.
type ProviderClient interface {
	ListCustomerInvoices(ctx context.Context, customerID string, limit int64) ([]*stripe.Invoice, error)
}

// Service reconciles provider webhook events into local payment state. All
// state transitions run inside DB transactions with row locks; side effects
// like mails and notifications run after commit.
type Service struct {
	repo     Repository
	flow     PitchWorkflow
	payouts  PayoutScheduler
	notifier Notifier
	provider ProviderClient
	tiers    TierMap
	log      *logrus.Logger

	sendMail func(to, subject, body string) error
	cacheSet func(key string, value interface{}, expiration time.Duration) error
}

// Config carries the collaborators for NewService. Nil SendMail and
// CacheSet are replaced with no-ops so tests can leave them out.
type Config struct {
	Repo     Repository
	Workflow PitchWorkflow
	Payouts  PayoutScheduler
	Notifier Notifier
	Provider ProviderClient
	Tiers    TierMap
	Log      *logrus.Logger

	SendMail func(to, subject, body string) error
	CacheSet func(key string, value interface{}, expiration time.Duration) error
}

// NewService creates a reconciliation service from injected collaborators.
func NewService(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.SendMail == nil {
		cfg.SendMail = func(string, string, string) error { return nil }
	}
	if cfg.CacheSet == nil {
		cfg.CacheSet = func(string, interface{}, time.Duration) error { return nil }
	}
	return &Service{
		repo:     cfg.Repo,
		flow:     cfg.Workflow,
		payouts:  cfg.Payouts,
		notifier: cfg.Notifier,
		provider: cfg.Provider,
		tiers:    cfg.Tiers,
		log:      cfg.Log,
		sendMail: cfg.SendMail,
		cacheSet: cfg.CacheSet,
	}
}

// NewServiceFromDB wires the full production service from a GORM DB handle.
// The provider client may be nil when outbound API access is not configured.
func NewServiceFromDB(db *gorm.DB, provider ProviderClient, log *logrus.Logger) *Service {
	notifier := notifications.NewService(db, log)
	payoutSvc := payouts.NewServiceFromEnv(log)
	return NewService(Config{
		Repo:     NewRepository(db),
		Workflow: pitchflow.NewService(payoutSvc, notifier, log),
		Payouts:  payoutSvc,
		Notifier: notifier,
		Provider: provider,
		Tiers:    LoadTierMapFromEnv(),
		Log:      log,
		SendMail: mail.SendMail,
		CacheSet: cache.Set,
	})
}

// RecordWebhookEvent persists the delivery in the webhook ledger. The bool
// result reports whether this delivery won the insert; a false means the
// event id was seen before and the stored row is returned instead.
func (s *Service) RecordWebhookEvent(ctx context.Context, in models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookSignatureValid takes over a ledger row whose original delivery
// failed signature verification. The row keeps its dedup slot but gets the
// verified payload and a cleared processing state, so a correctly signed
// retry of the same event id is processed instead of swallowed as a
// duplicate.
func (s *Service) MarkWebhookSignatureValid(ctx context.Context, webhookEventID uint, payloadJSON string) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	return s.repo.MarkWebhookSignatureValid(webhookEventID, payloadJSON)
}

// MarkWebhookProcessed marks a ledger row as processed and stores an
// optional processing error.
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

// Process dispatches a verified provider event to its handler. Unhandled
// event types are logged and acknowledged.
func (s *Service) Process(ctx context.Context, event *stripe.Event) error {
	log := s.log.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutSessionCompleted(ctx, event)
	case "invoice.payment_succeeded":
		return s.handleInvoicePayment(ctx, event, true)
	case "invoice.payment_failed":
		return s.handleInvoicePayment(ctx, event, false)
	case "invoice.created":
		return s.handleInvoiceCreated(ctx, event)
	case "customer.subscription.created":
		return s.handleSubscriptionCreated(ctx, event)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	case "charge.succeeded", "charge.failed", "payment_intent.succeeded", "payment_intent.payment_failed":
		// Settled through their checkout session or invoice events.
		log.Debug("Acknowledged without action")
		return nil
	default:
		log.Info("Unhandled event type")
		return nil
	}
}
