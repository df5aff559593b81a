package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/mixhaven/MixHaven/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the reconciliation service.
// Transaction yields a repository scoped to the transaction, and the
// ForUpdate finders take row locks so concurrent deliveries for the same
// entity serialize instead of double-applying.
type Repository interface {
	Transaction(fn func(Repository) error) error

	FindOrderForUpdate(id uint) (*models.Order, error)
	SaveOrder(order *models.Order) error
	CreateOrderEvent(event *models.OrderEvent) error

	FindInvoiceForUpdate(id uint) (*models.Invoice, error)
	SaveInvoice(invoice *models.Invoice) error
	GetOrCreateInvoiceForPitch(invoice *models.Invoice) (*models.Invoice, error)

	FindPitchForUpdate(id uint) (*models.Pitch, error)
	SavePitch(pitch *models.Pitch) error
	CreatePitchEvent(event *models.PitchEvent) error
	HasPitchEventWithSession(pitchID uint, eventType, sessionID string) (bool, error)

	FindMilestoneForUpdate(id uint) (*models.PitchMilestone, error)
	SaveMilestone(m *models.PitchMilestone) error
	FindSnapshot(id uint) (*models.PitchSnapshot, error)
	SaveSnapshot(s *models.PitchSnapshot) error

	FindUserByID(id uint) (*models.User, error)
	FindUserByStripeCustomerID(customerID string) (*models.User, error)
	SaveUser(user *models.User) error

	FindSubscriptionByStripeID(stripeID string) (*models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error

	FindPayoutScheduleBySource(sourceRef string) (*models.PayoutSchedule, error)
	CreatePayoutSchedule(schedule *models.PayoutSchedule) error

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookSignatureValid(id uint, payloadJSON string) error
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a reconciliation repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) forUpdate() *gorm.DB {
	return r.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *gormRepository) FindOrderForUpdate(id uint) (*models.Order, error) {
	var o models.Order
	if err := r.forUpdate().Preload("ServicePackage").First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) SaveOrder(order *models.Order) error {
	return r.db.Save(order).Error
}

func (r *gormRepository) CreateOrderEvent(event *models.OrderEvent) error {
	return r.db.Create(event).Error
}

func (r *gormRepository) FindInvoiceForUpdate(id uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.forUpdate().First(&inv, id).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) SaveInvoice(invoice *models.Invoice) error {
	return r.db.Save(invoice).Error
}

func (r *gormRepository) GetOrCreateInvoiceForPitch(invoice *models.Invoice) (*models.Invoice, error) {
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pitch_id"}},
		DoNothing: true,
	}).Create(invoice).Error; err != nil {
		return nil, err
	}

	var stored models.Invoice
	if err := r.forUpdate().Where("pitch_id = ?", invoice.PitchID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *gormRepository) FindPitchForUpdate(id uint) (*models.Pitch, error) {
	var p models.Pitch
	if err := r.forUpdate().Preload("User").First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) SavePitch(pitch *models.Pitch) error {
	return r.db.Save(pitch).Error
}

func (r *gormRepository) CreatePitchEvent(event *models.PitchEvent) error {
	return r.db.Create(event).Error
}

func (r *gormRepository) HasPitchEventWithSession(pitchID uint, eventType, sessionID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.PitchEvent{}).
		Where("pitch_id = ? AND event_type = ? AND metadata_json LIKE ?", pitchID, eventType, sessionMetadataPattern(sessionID)).
		Count(&count).Error
	return count > 0, err
}

// sessionMetadataPattern builds the LIKE pattern matching the exact
// "checkout_session_id" JSON fragment. Session ids contain underscores,
// which LIKE treats as single-character wildcards, so the fragment is
// escaped before the surrounding wildcards are added.
func sessionMetadataPattern(sessionID string) string {
	fragment := fmt.Sprintf(`"checkout_session_id":%q`, sessionID)
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(fragment)
	return "%" + escaped + "%"
}

func (r *gormRepository) FindMilestoneForUpdate(id uint) (*models.PitchMilestone, error) {
	var m models.PitchMilestone
	if err := r.forUpdate().Preload("Pitch").Preload("Pitch.User").First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) SaveMilestone(m *models.PitchMilestone) error {
	return r.db.Save(m).Error
}

func (r *gormRepository) FindSnapshot(id uint) (*models.PitchSnapshot, error) {
	var s models.PitchSnapshot
	if err := r.forUpdate().First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) SaveSnapshot(s *models.PitchSnapshot) error {
	return r.db.Save(s).Error
}

func (r *gormRepository) FindUserByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) FindUserByStripeCustomerID(customerID string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("stripe_customer_id = ?", customerID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) SaveUser(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *gormRepository) FindSubscriptionByStripeID(stripeID string) (*models.Subscription, error) {
	var s models.Subscription
	if err := r.db.Where("stripe_id = ?", stripeID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) FindPayoutScheduleBySource(sourceRef string) (*models.PayoutSchedule, error) {
	var p models.PayoutSchedule
	if err := r.db.Where("source_reference = ?", sourceRef).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) CreatePayoutSchedule(schedule *models.PayoutSchedule) error {
	return r.db.Create(schedule).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookSignatureValid(id uint, payloadJSON string) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"signature_valid":  true,
		"payload_json":     payloadJSON,
		"processing_error": "",
		"processed_at":     nil,
	}).Error
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
