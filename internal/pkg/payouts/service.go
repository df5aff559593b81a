package payouts

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mixhaven/MixHaven/app/models"
	"github.com/mixhaven/MixHaven/internal/pkg/env"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Repository provides the DB operations the payout service needs. The caller
// passes a transaction-scoped repository so payout creation commits or rolls
// back together with the payment transition that triggered it.
type Repository interface {
	FindPayoutScheduleBySource(sourceRef string) (*models.PayoutSchedule, error)
	CreatePayoutSchedule(schedule *models.PayoutSchedule) error
}

// Service schedules producer payouts for confirmed payments. Funds are held
// for a configured number of days before release.
type Service struct {
	holdDays       int
	commissionRate float64
	log            *logrus.Logger
}

// NewService creates a payout service with an explicit hold period and
// commission rate.
func NewService(holdDays int, commissionRate float64, log *logrus.Logger) *Service {
	if holdDays < 0 {
		holdDays = 0
	}
	return &Service{holdDays: holdDays, commissionRate: commissionRate, log: log}
}

// NewServiceFromEnv creates a payout service configured from the environment.
func NewServiceFromEnv(log *logrus.Logger) *Service {
	holdDays, err := strconv.Atoi(env.GetEnv("PAYOUT_HOLD_DAYS", "7"))
	if err != nil {
		holdDays = 7
	}
	rate, err := strconv.ParseFloat(env.GetEnv("PLATFORM_COMMISSION_RATE", "0.10"), 64)
	if err != nil {
		rate = 0.10
	}
	return NewService(holdDays, rate, log)
}

// HoldPeriodDescription is the user-facing description of the hold policy.
func (s *Service) HoldPeriodDescription() string {
	if s.holdDays == 0 {
		return "Funds are released immediately after payment confirmation."
	}
	return fmt.Sprintf("Funds are held for %d days after payment confirmation before release.", s.holdDays)
}

// ScheduleForPitch schedules a payout for a fully paid pitch. Scheduling is
// idempotent per source reference: a replayed webhook returns the existing
// schedule instead of creating a second one.
func (s *Service) ScheduleForPitch(repo Repository, pitch *models.Pitch, sourceRef string) (*models.PayoutSchedule, error) {
	pitchID := pitch.ID
	return s.schedule(repo, &models.PayoutSchedule{
		ProducerUserID:  pitch.UserID,
		PitchID:         &pitchID,
		SourceReference: sourceRef,
		GrossAmount:     pitch.PaymentAmount,
		Currency:        pitch.Currency,
	})
}

// ScheduleForMilestone schedules a payout for a paid milestone. The
// milestone's pitch must be loaded so the producer can be resolved.
func (s *Service) ScheduleForMilestone(repo Repository, m *models.PitchMilestone, sourceRef string) (*models.PayoutSchedule, error) {
	pitchID := m.PitchID
	milestoneID := m.ID
	return s.schedule(repo, &models.PayoutSchedule{
		ProducerUserID:  m.Pitch.UserID,
		PitchID:         &pitchID,
		MilestoneID:     &milestoneID,
		SourceReference: sourceRef,
		GrossAmount:     m.Amount,
		Currency:        m.Pitch.Currency,
	})
}

func (s *Service) schedule(repo Repository, schedule *models.PayoutSchedule) (*models.PayoutSchedule, error) {
	if schedule.SourceReference == "" {
		return nil, errors.New("payouts: source reference is required")
	}

	existing, err := repo.FindPayoutScheduleBySource(schedule.SourceReference)
	if err == nil {
		s.log.WithFields(logrus.Fields{
			"payout_schedule_id": existing.ID,
			"source_reference":   schedule.SourceReference,
		}).Info("Payout already scheduled for this payment, skipping")
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	commission := int64(float64(schedule.GrossAmount)*s.commissionRate + 0.5)
	schedule.Reference = uuid.NewString()
	schedule.CommissionRate = s.commissionRate
	schedule.NetAmount = schedule.GrossAmount - commission
	schedule.Status = models.PayoutStatusScheduled
	schedule.ScheduledReleaseAt = time.Now().Add(time.Duration(s.holdDays) * 24 * time.Hour)

	if err := repo.CreatePayoutSchedule(schedule); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"payout_schedule_id": schedule.ID,
		"producer_user_id":   schedule.ProducerUserID,
		"net_amount":         schedule.NetAmount,
		"source_reference":   schedule.SourceReference,
		"release_at":         schedule.ScheduledReleaseAt,
	}).Info("Payout scheduled")
	return schedule, nil
}
