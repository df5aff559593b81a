package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/mixhaven/MixHaven/internal/pkg/payouts"
	"github.com/mixhaven/MixHaven/internal/pkg/pitchflow"
)

type fakeRepo struct {
	orders      map[uint]*models.Order
	orderEvents []*models.OrderEvent
	invoices    map[uint]*models.Invoice
	pitches     map[uint]*models.Pitch
	pitchEvents []*models.PitchEvent
	milestones  map[uint]*models.PitchMilestone
	snapshots   map[uint]*models.PitchSnapshot
	users       map[uint]*models.User
	subs        map[string]*models.Subscription
	payouts     map[string]*models.PayoutSchedule
	webhooks    map[string]*models.WebhookEvent

	nextInvoiceID uint
	nextWebhookID uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:        map[uint]*models.Order{},
		invoices:      map[uint]*models.Invoice{},
		pitches:       map[uint]*models.Pitch{},
		milestones:    map[uint]*models.PitchMilestone{},
		snapshots:     map[uint]*models.PitchSnapshot{},
		users:         map[uint]*models.User{},
		subs:          map[string]*models.Subscription{},
		payouts:       map[string]*models.PayoutSchedule{},
		webhooks:      map[string]*models.WebhookEvent{},
		nextInvoiceID: 1000,
		nextWebhookID: 1,
	}
}

func (f *fakeRepo) Transaction(fn func(Repository) error) error { return fn(f) }

func (f *fakeRepo) FindOrderForUpdate(id uint) (*models.Order, error) {
	if o, ok := f.orders[id]; ok {
		return o, nil
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRepo) SaveOrder(*models.Order) error { return nil }
func (f *fakeRepo) CreateOrderEvent(e *models.OrderEvent) error {
	f.orderEvents = append(f.orderEvents, e)
	return nil
}

func (f *fakeRepo) FindInvoiceForUpdate(id uint) (*models.Invoice, error) {
	if inv, ok := f.invoices[id]; ok {
		return inv, nil
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRepo) SaveInvoice(*models.Invoice) error { return nil }
func (f *fakeRepo) GetOrCreateInvoiceForPitch(inv *models.Invoice) (*models.Invoice, error) {
	for _, existing := range f.invoices {
		if existing.PitchID != nil && inv.PitchID != nil && *existing.PitchID == *inv.PitchID {
			return existing, nil
		}
	}
	f.nextInvoiceID++
	inv.ID = f.nextInvoiceID
	f.invoices[inv.ID] = inv
	return inv, nil
}

func (f *fakeRepo) FindPitchForUpdate(id uint) (*models.Pitch, error) {
	if p, ok := f.pitches[id]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRepo) SavePitch(*models.Pitch) error { return nil }
func (f *fakeRepo) CreatePitchEvent(e *models.PitchEvent) error {
	f.pitchEvents = append(f.pitchEvents, e)
	return nil
}
func (f *fakeRepo) HasPitchEventWithSession(pitchID uint, eventType, sessionID string) (bool, error) {
	for _, e := range f.pitchEvents {
		if e.PitchID == pitchID && e.EventType == eventType && strings.Contains(e.MetadataJSON, sessionID) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) FindMilestoneForUpdate(id uint) (*models.PitchMilestone, error) {
	if m, ok := f.milestones[id]; ok {
		return m, nil
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRepo) SaveMilestone(*models.PitchMilestone) error { return nil }
func (f *fakeRepo) FindSnapshot(id uint) (*models.PitchSnapshot, error) {
	if s, ok := f.snapshots[id]; ok {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRepo) SaveSnapshot(*models.PitchSnapshot) error { return nil }

func (f *fakeRepo) FindUserByID(id uint) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRepo) FindUserByStripeCustomerID(customerID string) (*models.User, error) {
	for _, u := range f.users {
		if u.StripeCustomerID == customerID {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRepo) SaveUser(*models.User) error { return nil }

func (f *fakeRepo) FindSubscriptionByStripeID(stripeID string) (*models.Subscription, error) {
	if s, ok := f.subs[stripeID]; ok {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRepo) SaveSubscription(sub *models.Subscription) error {
	f.subs[sub.StripeID] = sub
	return nil
}

func (f *fakeRepo) FindPayoutScheduleBySource(sourceRef string) (*models.PayoutSchedule, error) {
	if p, ok := f.payouts[sourceRef]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRepo) CreatePayoutSchedule(schedule *models.PayoutSchedule) error {
	f.payouts[schedule.SourceReference] = schedule
	return nil
}

func (f *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := f.webhooks[key]; ok {
		return false, stored, nil
	}
	event.ID = f.nextWebhookID
	f.nextWebhookID++
	f.webhooks[key] = event
	return true, event, nil
}
func (f *fakeRepo) MarkWebhookSignatureValid(id uint, payloadJSON string) error {
	for _, w := range f.webhooks {
		if w.ID == id {
			w.SignatureValid = true
			w.PayloadJSON = payloadJSON
			w.ProcessingError = ""
			w.ProcessedAt = nil
		}
	}
	return nil
}
func (f *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	for _, w := range f.webhooks {
		if w.ID == id {
			w.ProcessedAt = &now
			w.ProcessingError = processingError
		}
	}
	return nil
}

type fakeNotifier struct {
	sent     []string
	contents []string
}

func (n *fakeNotifier) Notify(userID uint, notifType, content string, refID uint) error {
	n.sent = append(n.sent, fmt.Sprintf("%d:%s", userID, notifType))
	n.contents = append(n.contents, content)
	return nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestService(repo *fakeRepo, tiers TierMap) (*Service, *fakeNotifier, *[]string) {
	log := testLogger()
	notifier := &fakeNotifier{}
	payoutSvc := payouts.NewService(7, 0.10, log)
	mails := &[]string{}
	return NewService(Config{
		Repo:     repo,
		Workflow: pitchflow.NewService(payoutSvc, notifier, log),
		Payouts:  payoutSvc,
		Notifier: notifier,
		Tiers:    tiers,
		Log:      log,
		SendMail: func(to, subject, body string) error {
			*mails = append(*mails, to+"|"+subject)
			return nil
		},
	}), notifier, mails
}

func checkoutEvent(sessionID string, metadata map[string]string) *stripe.Event {
	payload := map[string]interface{}{
		"id":             sessionID,
		"payment_status": "paid",
		"payment_intent": "pi_123",
		"metadata":       metadata,
	}
	raw, _ := json.Marshal(payload)
	return &stripe.Event{
		ID:   "evt_" + sessionID,
		Type: "checkout.session.completed",
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestCheckoutSessionMissingID(t *testing.T) {
	svc, _, _ := newTestService(newFakeRepo(), nil)
	event := &stripe.Event{
		ID:   "evt_1",
		Type: "checkout.session.completed",
		Data: &stripe.EventData{Raw: json.RawMessage(`{"payment_status":"paid"}`)},
	}
	err := svc.Process(context.Background(), event)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}

func TestCheckoutSessionWithoutRoutingMetadataIsIgnored(t *testing.T) {
	svc, _, _ := newTestService(newFakeRepo(), nil)
	err := svc.Process(context.Background(), checkoutEvent("cs_noop", map[string]string{"foo": "bar"}))
	assert.NoError(t, err)
}

func TestOrderPaymentAdvancesToPendingRequirements(t *testing.T) {
	repo := newFakeRepo()
	repo.orders[10] = &models.Order{
		ID:     10,
		UserID: 1,
		ServicePackage: models.ServicePackage{
			UserID:             2,
			Title:              "Mix & Master",
			RequirementsPrompt: "Upload your stems",
		},
		Status:        models.OrderStatusPendingPayment,
		PaymentStatus: models.PaymentStatusUnpaid,
	}
	repo.invoices[20] = &models.Invoice{ID: 20, UserID: 1, Status: models.InvoiceStatusPending}

	svc, notifier, _ := newTestService(repo, nil)
	err := svc.Process(context.Background(), checkoutEvent("cs_order", map[string]string{
		"order_id":   "10",
		"invoice_id": "20",
	}))
	require.NoError(t, err)

	order := repo.orders[10]
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, models.OrderStatusPendingRequirements, order.Status)

	invoice := repo.invoices[20]
	assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)
	require.NotNil(t, invoice.PaidAt)
	assert.Equal(t, "cs_order", invoice.CheckoutSessionID)
	assert.Equal(t, "pi_123", invoice.PaymentIntentID)

	require.Len(t, repo.orderEvents, 1)
	assert.Equal(t, models.OrderEventPaymentReceived, repo.orderEvents[0].EventType)
	assert.Len(t, notifier.sent, 2)
}

func TestOrderPaymentWithoutRequirementsGoesInProgress(t *testing.T) {
	repo := newFakeRepo()
	repo.orders[10] = &models.Order{
		ID:             10,
		UserID:         1,
		ServicePackage: models.ServicePackage{UserID: 2, Title: "Vocal Tuning"},
		Status:         models.OrderStatusPendingPayment,
		PaymentStatus:  models.PaymentStatusUnpaid,
	}
	repo.invoices[20] = &models.Invoice{ID: 20, Status: models.InvoiceStatusPending}

	svc, _, _ := newTestService(repo, nil)
	err := svc.Process(context.Background(), checkoutEvent("cs_o2", map[string]string{
		"order_id":   "10",
		"invoice_id": "20",
	}))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInProgress, repo.orders[10].Status)
}

func TestOrderPaymentReplayIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	repo.orders[10] = &models.Order{
		ID:             10,
		ServicePackage: models.ServicePackage{Title: "Mix"},
		Status:         models.OrderStatusPendingPayment,
		PaymentStatus:  models.PaymentStatusUnpaid,
	}
	repo.invoices[20] = &models.Invoice{ID: 20, Status: models.InvoiceStatusPending}

	svc, _, _ := newTestService(repo, nil)
	event := checkoutEvent("cs_replay", map[string]string{"order_id": "10", "invoice_id": "20"})
	require.NoError(t, svc.Process(context.Background(), event))
	require.NoError(t, svc.Process(context.Background(), event))

	assert.Len(t, repo.orderEvents, 1, "replay must not duplicate the timeline entry")
}

func TestOrderRoutingWinsOverPitchMetadata(t *testing.T) {
	repo := newFakeRepo()
	repo.orders[10] = &models.Order{
		ID:             10,
		ServicePackage: models.ServicePackage{Title: "Mix"},
		Status:         models.OrderStatusPendingPayment,
		PaymentStatus:  models.PaymentStatusUnpaid,
	}
	repo.invoices[20] = &models.Invoice{ID: 20, Status: models.InvoiceStatusPending}
	repo.pitches[5] = pitchFixture()

	svc, _, _ := newTestService(repo, nil)
	err := svc.Process(context.Background(), checkoutEvent("cs_mixed", map[string]string{
		"order_id":   "10",
		"invoice_id": "20",
		"type":       "client_pitch_payment",
		"pitch_id":   "5",
	}))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusPaid, repo.orders[10].PaymentStatus)
	assert.Equal(t, models.PaymentStatusProcessing, repo.pitches[5].PaymentStatus, "pitch must stay untouched")
	assert.Empty(t, repo.pitchEvents)
	assert.Empty(t, repo.payouts)
}

func TestOrderPaymentUnknownOrderFails(t *testing.T) {
	svc, _, _ := newTestService(newFakeRepo(), nil)
	err := svc.Process(context.Background(), checkoutEvent("cs_x", map[string]string{
		"order_id":   "99",
		"invoice_id": "20",
	}))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMalformedPayload), "missing entity is not a structural error")
}

func pitchFixture() *models.Pitch {
	return &models.Pitch{
		ID:            5,
		UserID:        7,
		User:          models.User{ID: 7, Email: "producer@example.com"},
		Title:         "Indie Rock Mix",
		Status:        models.PitchStatusCompleted,
		PaymentStatus: models.PaymentStatusProcessing,
		PaymentAmount: 50000,
		Currency:      "USD",
		ClientEmail:   "client@example.com",
	}
}

func TestPitchCheckoutPayment(t *testing.T) {
	repo := newFakeRepo()
	repo.pitches[5] = pitchFixture()

	svc, notifier, mails := newTestService(repo, nil)
	err := svc.Process(context.Background(), checkoutEvent("cs_pitch", map[string]string{
		"type":     "client_pitch_payment",
		"pitch_id": "5",
	}))
	require.NoError(t, err)

	pitch := repo.pitches[5]
	assert.Equal(t, models.PaymentStatusPaid, pitch.PaymentStatus)
	assert.Equal(t, models.PitchStatusApproved, pitch.Status)
	assert.NotNil(t, pitch.PaymentCompletedAt)
	assert.Equal(t, "cs_pitch", pitch.FinalInvoiceRef)

	// Lazily created invoice settled in the same transaction.
	require.Len(t, repo.invoices, 1)
	for _, inv := range repo.invoices {
		assert.Equal(t, models.InvoiceStatusPaid, inv.Status)
		assert.Equal(t, int64(50000), inv.Amount)
	}

	// Payout held for the producer, net of commission.
	payout, ok := repo.payouts["cs_pitch"]
	require.True(t, ok)
	assert.Equal(t, uint(7), payout.ProducerUserID)
	assert.Equal(t, int64(45000), payout.NetAmount)

	assert.NotEmpty(t, notifier.sent)
	assert.Len(t, *mails, 2, "client and producer both get a confirmation mail")
}

func TestPitchCheckoutReplayKeepsOnePayout(t *testing.T) {
	repo := newFakeRepo()
	repo.pitches[5] = pitchFixture()

	svc, _, _ := newTestService(repo, nil)
	event := checkoutEvent("cs_once", map[string]string{"type": "client_pitch_payment", "pitch_id": "5"})
	require.NoError(t, svc.Process(context.Background(), event))
	eventsAfterFirst := len(repo.pitchEvents)
	require.NoError(t, svc.Process(context.Background(), event))

	assert.Len(t, repo.payouts, 1)
	assert.Len(t, repo.pitchEvents, eventsAfterFirst, "replay must not append timeline entries")
}

func TestMilestonePaymentApprovesSnapshot(t *testing.T) {
	repo := newFakeRepo()
	pitch := pitchFixture()
	repo.pitches[5] = pitch
	snapID := uint(30)
	repo.snapshots[30] = &models.PitchSnapshot{ID: 30, PitchID: 5, Status: models.SnapshotStatusPending}
	repo.milestones[8] = &models.PitchMilestone{
		ID:                  8,
		PitchID:             5,
		Pitch:               *pitch,
		Name:                "Revision round 2",
		Amount:              20000,
		SortOrder:           2,
		Status:              models.MilestoneStatusPending,
		PaymentStatus:       models.PaymentStatusProcessing,
		RevisionRoundNumber: 2,
		SnapshotID:          &snapID,
	}

	svc, notifier, _ := newTestService(repo, nil)
	err := svc.Process(context.Background(), checkoutEvent("cs_mile", map[string]string{
		"type":         "client_milestone_payment",
		"milestone_id": "8",
	}))
	require.NoError(t, err)

	m := repo.milestones[8]
	assert.Equal(t, models.PaymentStatusPaid, m.PaymentStatus)
	assert.Equal(t, models.MilestoneStatusApproved, m.Status)
	assert.Equal(t, "cs_mile", m.CheckoutSessionID)

	snap := repo.snapshots[30]
	assert.Equal(t, models.SnapshotStatusApproved, snap.Status)
	assert.NotNil(t, snap.ApprovedAt)

	var milestonePaid, snapshotApproved int
	var paidMetadata string
	for _, e := range repo.pitchEvents {
		switch e.EventType {
		case models.PitchEventMilestonePaid:
			milestonePaid++
			paidMetadata = e.MetadataJSON
		case models.PitchEventSnapshotApproved:
			snapshotApproved++
		}
	}
	assert.Equal(t, 1, milestonePaid)
	assert.Equal(t, 1, snapshotApproved)
	assert.Contains(t, paidMetadata, "cs_mile")
	assert.Contains(t, paidMetadata, "pi_123", "timeline entry records the payment intent")

	payout, ok := repo.payouts["cs_mile"]
	require.True(t, ok)
	assert.Equal(t, int64(18000), payout.NetAmount)
	assert.NotEmpty(t, notifier.sent)
}

func TestMilestoneReplayDoesNotDuplicateTimeline(t *testing.T) {
	repo := newFakeRepo()
	pitch := pitchFixture()
	repo.pitches[5] = pitch
	repo.milestones[8] = &models.PitchMilestone{
		ID: 8, PitchID: 5, Pitch: *pitch, Name: "First half", Amount: 10000,
		Status: models.MilestoneStatusPending, PaymentStatus: models.PaymentStatusProcessing,
	}

	svc, _, _ := newTestService(repo, nil)
	event := checkoutEvent("cs_m1", map[string]string{"type": "client_milestone_payment", "milestone_id": "8"})
	require.NoError(t, svc.Process(context.Background(), event))
	require.NoError(t, svc.Process(context.Background(), event))

	count := 0
	for _, e := range repo.pitchEvents {
		if e.EventType == models.PitchEventMilestonePaid {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Len(t, repo.payouts, 1)
}

func invoiceEvent(eventType, invoiceID string, body map[string]interface{}) *stripe.Event {
	if body == nil {
		body = map[string]interface{}{}
	}
	if invoiceID != "" {
		body["id"] = invoiceID
	}
	raw, _ := json.Marshal(body)
	return &stripe.Event{
		ID:   "evt_" + invoiceID,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestInvoiceMissingIDIsStructural(t *testing.T) {
	svc, _, _ := newTestService(newFakeRepo(), nil)
	err := svc.Process(context.Background(), invoiceEvent("invoice.payment_succeeded", "", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}

func TestInvoicePaymentSucceededMarksPitchPaid(t *testing.T) {
	repo := newFakeRepo()
	repo.pitches[5] = pitchFixture()

	svc, _, _ := newTestService(repo, nil)
	err := svc.Process(context.Background(), invoiceEvent("invoice.payment_succeeded", "in_100", map[string]interface{}{
		"payment_intent": "pi_9",
		"metadata":       map[string]string{"pitch_id": "5"},
	}))
	require.NoError(t, err)

	pitch := repo.pitches[5]
	assert.Equal(t, models.PaymentStatusPaid, pitch.PaymentStatus)
	assert.Equal(t, "in_100", pitch.FinalInvoiceRef)
	_, ok := repo.payouts["in_100"]
	assert.True(t, ok, "payout keyed by the provider invoice id")
}

func TestInvoicePaymentFailedReasonChain(t *testing.T) {
	cases := []struct {
		name string
		body map[string]interface{}
		want string
	}{
		{
			name: "last payment error wins",
			body: map[string]interface{}{
				"last_payment_error":     map[string]string{"message": "Your card was declined."},
				"attempt_failure_reason": "card_declined",
			},
			want: "Your card was declined.",
		},
		{
			name: "falls back to attempt failure reason",
			body: map[string]interface{}{"attempt_failure_reason": "insufficient_funds"},
			want: "insufficient_funds",
		},
		{
			name: "generic fallback",
			body: map[string]interface{}{},
			want: "Unknown failure reason from webhook.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeRepo()
			repo.pitches[5] = pitchFixture()
			svc, _, _ := newTestService(repo, nil)

			tc.body["metadata"] = map[string]string{"pitch_id": "5"}
			err := svc.Process(context.Background(), invoiceEvent("invoice.payment_failed", "in_f", tc.body))
			require.NoError(t, err)

			assert.Equal(t, models.PaymentStatusFailed, repo.pitches[5].PaymentStatus)
			require.NotEmpty(t, repo.pitchEvents)
			last := repo.pitchEvents[len(repo.pitchEvents)-1]
			assert.Contains(t, last.Comment, tc.want)
		})
	}
}

func TestInvoiceFailureNeverDowngradesPaidPitch(t *testing.T) {
	repo := newFakeRepo()
	pitch := pitchFixture()
	pitch.PaymentStatus = models.PaymentStatusPaid
	repo.pitches[5] = pitch

	svc, _, _ := newTestService(repo, nil)
	err := svc.Process(context.Background(), invoiceEvent("invoice.payment_failed", "in_late", map[string]interface{}{
		"metadata": map[string]string{"pitch_id": "5"},
	}))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, repo.pitches[5].PaymentStatus)
	assert.Empty(t, repo.pitchEvents)
}

func subscriptionEvent(eventType, subID, customerID, priceID, status string) *stripe.Event {
	body := map[string]interface{}{
		"id":       subID,
		"customer": customerID,
		"status":   status,
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{"price": map[string]interface{}{"id": priceID}, "quantity": 1},
			},
		},
	}
	raw, _ := json.Marshal(body)
	return &stripe.Event{
		ID:   "evt_" + subID,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func testTiers() TierMap {
	return TierMap{
		"price_artist_m": {Plan: models.PlanPro, TierName: models.TierArtist, BillingPeriod: models.BillingPeriodMonthly, Price: 999, Currency: "USD"},
		"price_eng_y":    {Plan: models.PlanPro, TierName: models.TierEngineer, BillingPeriod: models.BillingPeriodYearly, Price: 19900, Currency: "USD"},
	}
}

func proUser() *models.User {
	price := int64(999)
	return &models.User{
		ID:               3,
		Email:            "artist@example.com",
		StripeCustomerID: "cus_3",
		SubscriptionPlan: models.PlanPro,
		SubscriptionTier: models.TierArtist,
		BillingPeriod:    models.BillingPeriodMonthly,
		SubscriptionPrice: &price,
		MonthlyPitchCount: 4,
	}
}

func TestSubscriptionCreatedAppliesTier(t *testing.T) {
	repo := newFakeRepo()
	repo.users[3] = &models.User{ID: 3, StripeCustomerID: "cus_3", SubscriptionPlan: models.PlanFree, SubscriptionTier: models.TierBasic}

	svc, notifier, _ := newTestService(repo, testTiers())
	err := svc.Process(context.Background(), subscriptionEvent("customer.subscription.created", "sub_1", "cus_3", "price_eng_y", "active"))
	require.NoError(t, err)

	user := repo.users[3]
	assert.Equal(t, models.PlanPro, user.SubscriptionPlan)
	assert.Equal(t, models.TierEngineer, user.SubscriptionTier)
	assert.Equal(t, models.BillingPeriodYearly, user.BillingPeriod)
	require.NotNil(t, user.SubscriptionPrice)
	assert.Equal(t, int64(19900), *user.SubscriptionPrice)
	assert.NotNil(t, user.PlanStartedAt)

	mirror, ok := repo.subs["sub_1"]
	require.True(t, ok)
	assert.Equal(t, "active", mirror.StripeStatus)
	assert.Equal(t, "price_eng_y", mirror.StripePrice)
	assert.Contains(t, notifier.sent, "3:subscription_upgraded")
}

func TestSubscriptionUpdatedInactiveResetsUser(t *testing.T) {
	repo := newFakeRepo()
	repo.users[3] = proUser()

	svc, _, _ := newTestService(repo, testTiers())
	err := svc.Process(context.Background(), subscriptionEvent("customer.subscription.updated", "sub_1", "cus_3", "price_artist_m", "unpaid"))
	require.NoError(t, err)

	user := repo.users[3]
	assert.Equal(t, models.PlanFree, user.SubscriptionPlan)
	assert.Equal(t, models.TierBasic, user.SubscriptionTier)
	assert.Equal(t, models.BillingPeriodMonthly, user.BillingPeriod)
	assert.Nil(t, user.SubscriptionPrice)
	assert.Nil(t, user.PlanStartedAt)
	assert.Zero(t, user.MonthlyPitchCount)
	assert.Nil(t, user.MonthlyPitchReset)
}

func TestSubscriptionUpdatedIncompleteExpiredIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	user := proUser()
	repo.users[3] = user

	svc, _, _ := newTestService(repo, testTiers())
	err := svc.Process(context.Background(), subscriptionEvent("customer.subscription.updated", "sub_1", "cus_3", "price_unknown", "incomplete_expired"))
	require.NoError(t, err)

	assert.Equal(t, models.PlanPro, user.SubscriptionPlan)
	assert.Equal(t, models.TierArtist, user.SubscriptionTier)
	assert.NotZero(t, user.MonthlyPitchCount, "pitch counters must not be reset")
}

func TestSubscriptionCreatedNotifiesOnMappedPriceRegardlessOfStatus(t *testing.T) {
	repo := newFakeRepo()
	repo.users[3] = &models.User{ID: 3, StripeCustomerID: "cus_3", SubscriptionPlan: models.PlanFree, SubscriptionTier: models.TierBasic}

	svc, notifier, _ := newTestService(repo, testTiers())
	err := svc.Process(context.Background(), subscriptionEvent("customer.subscription.created", "sub_1", "cus_3", "price_artist_m", "incomplete"))
	require.NoError(t, err)

	assert.Contains(t, notifier.sent, "3:subscription_upgraded")
	assert.Nil(t, repo.users[3].PlanStartedAt, "PlanStartedAt is stamped only for active subscriptions")
}

func TestSubscriptionUpdatedTrialingIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	user := proUser()
	repo.users[3] = user

	svc, _, _ := newTestService(repo, TierMap{})
	err := svc.Process(context.Background(), subscriptionEvent("customer.subscription.updated", "sub_1", "cus_3", "price_unknown", "trialing"))
	require.NoError(t, err)

	assert.Equal(t, models.PlanPro, user.SubscriptionPlan)
	assert.Equal(t, models.TierArtist, user.SubscriptionTier)
}

func TestSubscriptionDeletedResetsAndNotifies(t *testing.T) {
	repo := newFakeRepo()
	repo.users[3] = proUser()
	repo.subs["sub_1"] = &models.Subscription{UserID: 3, StripeID: "sub_1", StripeStatus: "active"}

	canceledAt := time.Date(2026, time.September, 10, 12, 0, 0, 0, time.UTC)
	raw, _ := json.Marshal(map[string]interface{}{
		"id":          "sub_1",
		"customer":    "cus_3",
		"status":      "canceled",
		"canceled_at": canceledAt.Unix(),
	})
	event := &stripe.Event{
		ID:   "evt_sub_del",
		Type: "customer.subscription.deleted",
		Data: &stripe.EventData{Raw: raw},
	}

	svc, notifier, _ := newTestService(repo, testTiers())
	require.NoError(t, svc.Process(context.Background(), event))

	user := repo.users[3]
	assert.Equal(t, models.PlanFree, user.SubscriptionPlan)
	mirror := repo.subs["sub_1"]
	assert.Equal(t, models.SubscriptionStatusCanceled, mirror.StripeStatus)
	require.NotNil(t, mirror.EndsAt)
	assert.True(t, mirror.EndsAt.Equal(canceledAt), "mirror keeps the cancellation timestamp")

	require.Contains(t, notifier.sent, "3:subscription_canceled")
	last := notifier.contents[len(notifier.contents)-1]
	assert.Contains(t, last, "Pro Artist (monthly)", "notification names the prior plan")
	assert.Contains(t, last, "2026-09-10", "notification carries the end date")
}

func TestSubscriptionDeletedWithoutTimestampEndsNow(t *testing.T) {
	repo := newFakeRepo()
	repo.users[3] = proUser()
	repo.subs["sub_1"] = &models.Subscription{UserID: 3, StripeID: "sub_1", StripeStatus: "active"}

	svc, _, _ := newTestService(repo, testTiers())
	err := svc.Process(context.Background(), subscriptionEvent("customer.subscription.deleted", "sub_1", "cus_3", "price_artist_m", "canceled"))
	require.NoError(t, err)

	mirror := repo.subs["sub_1"]
	require.NotNil(t, mirror.EndsAt)
	assert.WithinDuration(t, time.Now(), *mirror.EndsAt, time.Minute)
}

func TestSubscriptionUnknownCustomerIsIgnored(t *testing.T) {
	svc, _, _ := newTestService(newFakeRepo(), testTiers())
	err := svc.Process(context.Background(), subscriptionEvent("customer.subscription.created", "sub_x", "cus_missing", "price_artist_m", "active"))
	assert.NoError(t, err)
}

func TestUnhandledEventTypeIsAcknowledged(t *testing.T) {
	svc, _, _ := newTestService(newFakeRepo(), nil)
	event := &stripe.Event{
		ID:   "evt_z",
		Type: "charge.refunded",
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	assert.NoError(t, svc.Process(context.Background(), event))
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo, nil)
	ctx := context.Background()

	created, stored, err := svc.RecordWebhookEvent(ctx, models.WebhookEvent{
		Provider:        models.ProviderStripe,
		ProviderEventID: "evt_dup",
		EventType:       "checkout.session.completed",
		PayloadJSON:     `{"id":"evt_dup"}`,
		SignatureValid:  true,
	})
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, stored)

	created, again, err := svc.RecordWebhookEvent(ctx, models.WebhookEvent{
		Provider:        models.ProviderStripe,
		ProviderEventID: "evt_dup",
		EventType:       "checkout.session.completed",
		PayloadJSON:     `{"id":"evt_dup"}`,
		SignatureValid:  true,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)
}

func TestInvalidSignatureRowDoesNotConsumeEventID(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo, nil)
	ctx := context.Background()

	// A delivery that failed signature verification is still ledgered.
	created, stored, err := svc.RecordWebhookEvent(ctx, models.WebhookEvent{
		Provider:        models.ProviderStripe,
		ProviderEventID: "evt_rotated",
		EventType:       "checkout.session.completed",
		PayloadJSON:     `{"id":"evt_rotated","forged":true}`,
		SignatureValid:  false,
	})
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, svc.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature")))

	// The correctly signed retry loses the insert but must be able to
	// take over the row instead of being swallowed as a duplicate.
	created, again, err := svc.RecordWebhookEvent(ctx, models.WebhookEvent{
		Provider:        models.ProviderStripe,
		ProviderEventID: "evt_rotated",
		EventType:       "checkout.session.completed",
		PayloadJSON:     `{"id":"evt_rotated"}`,
		SignatureValid:  true,
	})
	require.NoError(t, err)
	assert.False(t, created)
	require.False(t, again.SignatureValid, "stored row must expose that it was never verified")

	require.NoError(t, svc.MarkWebhookSignatureValid(ctx, again.ID, `{"id":"evt_rotated"}`))

	row := repo.webhooks[models.ProviderStripe+"/evt_rotated"]
	assert.True(t, row.SignatureValid)
	assert.Equal(t, `{"id":"evt_rotated"}`, row.PayloadJSON, "verified payload replaces the unverified one")
	assert.Empty(t, row.ProcessingError)
	assert.Nil(t, row.ProcessedAt)
}

func TestRecordWebhookEventHashesEmptyID(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo, nil)

	created, stored, err := svc.RecordWebhookEvent(context.Background(), models.WebhookEvent{
		Provider:    models.ProviderStripe,
		EventType:   "checkout.session.completed",
		PayloadJSON: `{"some":"payload"}`,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, stored.ProviderEventID, "hash:")
}
