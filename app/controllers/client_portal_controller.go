package controllers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/mixhaven/MixHaven/internal/pkg/database"
	"github.com/mixhaven/MixHaven/internal/pkg/logging"
	"github.com/mixhaven/MixHaven/internal/pkg/middleware"
	"github.com/mixhaven/MixHaven/internal/pkg/notifications"
	"github.com/mixhaven/MixHaven/internal/pkg/payouts"
	"github.com/mixhaven/MixHaven/internal/pkg/pitchflow"
	"github.com/mixhaven/MixHaven/internal/pkg/reconcile"
	"github.com/mixhaven/MixHaven/internal/pkg/stripeapi"
)

type clientActionRequest struct {
	ClientEmail string `json:"client_email"`
}

// clientPitch loads a pitch and checks the acting client's email against the
// one on record. Client endpoints are reached through emailed links, the
// email check keeps casual URL guessing out.
func clientPitch(c *fiber.Ctx, pitchID uint) (*models.Pitch, string, error) {
	var req clientActionRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.ClientEmail) == "" {
		return nil, "", c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "client_email is required"})
	}
	email := strings.ToLower(strings.TrimSpace(req.ClientEmail))

	var pitch models.Pitch
	if err := database.GetDB().Preload("User").First(&pitch, pitchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "pitch_not_found"})
		}
		return nil, "", c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "pitch_lookup_failed"})
	}
	if !strings.EqualFold(pitch.ClientEmail, email) {
		return nil, "", c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
	}
	return &pitch, email, nil
}

func newPitchWorkflow() *pitchflow.Service {
	log := logging.L()
	return pitchflow.NewService(
		payouts.NewServiceFromEnv(log),
		notifications.NewService(database.GetDB(), log),
		log,
	)
}

// HandleClientApprovePitch records the client's approval of the delivered
// pitch.
func HandleClientApprovePitch(c *fiber.Ctx) error {
	pitchID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid pitch id"})
	}
	pitch, email, errResp := clientPitch(c, pitchID)
	if pitch == nil {
		return errResp
	}
	if pitch.Status != models.PitchStatusReadyForReview && pitch.Status != models.PitchStatusCompleted && pitch.Status != models.PitchStatusApproved {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "pitch_not_reviewable"})
	}

	// A pitch that still needs payment is approved through checkout; the
	// webhook records the approval once the payment settles.
	if pitch.PaymentAmount > 0 && !pitch.IsPaid() {
		client := provider()
		if client == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "payments_unavailable"})
		}
		sessionID, checkoutURL, err := client.CreateCheckoutSession(stripeapi.CheckoutInput{
			Amount:      pitch.PaymentAmount,
			Currency:    pitch.Currency,
			Description: fmt.Sprintf("Payment for \"%s\"", pitch.Title),
			ClientEmail: email,
			Metadata: map[string]string{
				"type":     "client_pitch_payment",
				"pitch_id": strconv.FormatUint(uint64(pitch.ID), 10),
			},
		})
		if err != nil {
			logging.L().WithError(err).WithField("pitch_id", pitch.ID).Error("Checkout session creation failed")
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "checkout_failed"})
		}
		if err := database.GetDB().Model(pitch).Update("payment_status", models.PaymentStatusProcessing).Error; err != nil {
			logging.L().WithError(err).WithField("pitch_id", pitch.ID).Warn("Pitch processing status update failed")
		}
		return c.JSON(fiber.Map{"payment_required": true, "checkout_url": checkoutURL, "session_id": sessionID})
	}

	flow := newPitchWorkflow()
	repo := reconcile.NewRepository(database.GetDB())
	err := repo.Transaction(func(r reconcile.Repository) error {
		locked, err := r.FindPitchForUpdate(pitchID)
		if err != nil {
			return err
		}
		return flow.ClientApprovePitch(r, locked, email)
	})
	if err != nil {
		logging.L().WithError(err).WithField("pitch_id", pitchID).Error("Client approval failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "approval_failed"})
	}
	return c.JSON(fiber.Map{"ok": true, "status": models.PitchStatusApproved})
}

// HandleClientPayPitch creates a checkout session for the full pitch amount
// and returns the URL the client completes payment on.
func HandleClientPayPitch(c *fiber.Ctx) error {
	pitchID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid pitch id"})
	}
	pitch, email, errResp := clientPitch(c, pitchID)
	if pitch == nil {
		return errResp
	}
	if pitch.IsPaid() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "pitch_already_paid"})
	}
	if pitch.PaymentAmount <= 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "pitch_has_no_payment_amount"})
	}

	client := provider()
	if client == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "payments_unavailable"})
	}

	sessionID, checkoutURL, err := client.CreateCheckoutSession(stripeapi.CheckoutInput{
		Amount:      pitch.PaymentAmount,
		Currency:    pitch.Currency,
		Description: fmt.Sprintf("Payment for \"%s\"", pitch.Title),
		ClientEmail: email,
		Metadata: map[string]string{
			"type":     "client_pitch_payment",
			"pitch_id": strconv.FormatUint(uint64(pitch.ID), 10),
		},
	})
	if err != nil {
		logging.L().WithError(err).WithField("pitch_id", pitch.ID).Error("Checkout session creation failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "checkout_failed"})
	}

	if err := database.GetDB().Model(pitch).Update("payment_status", models.PaymentStatusProcessing).Error; err != nil {
		logging.L().WithError(err).WithField("pitch_id", pitch.ID).Warn("Pitch processing status update failed")
	}

	return c.JSON(fiber.Map{"checkout_url": checkoutURL, "session_id": sessionID})
}

// HandleClientPayMilestone creates a checkout session for a single
// milestone. Milestones must be paid in order: every earlier milestone has
// to be settled first.
func HandleClientPayMilestone(c *fiber.Ctx) error {
	milestoneID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid milestone id"})
	}

	db := database.GetDB()
	var milestone models.PitchMilestone
	if err := db.Preload("Pitch").First(&milestone, milestoneID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "milestone_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "milestone_lookup_failed"})
	}

	var req clientActionRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.ClientEmail) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "client_email is required"})
	}
	email := strings.ToLower(strings.TrimSpace(req.ClientEmail))
	if !strings.EqualFold(milestone.Pitch.ClientEmail, email) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
	}
	if milestone.IsPaid() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "milestone_already_paid"})
	}

	var unpaidEarlier int64
	if err := db.Model(&models.PitchMilestone{}).
		Where("pitch_id = ? AND sort_order < ? AND payment_status <> ?",
			milestone.PitchID, milestone.SortOrder, models.PaymentStatusPaid).
		Count(&unpaidEarlier).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "milestone_lookup_failed"})
	}
	if unpaidEarlier > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "earlier_milestones_unpaid"})
	}

	client := provider()
	if client == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "payments_unavailable"})
	}

	sessionID, checkoutURL, err := client.CreateCheckoutSession(stripeapi.CheckoutInput{
		Amount:      milestone.Amount,
		Currency:    milestone.Pitch.Currency,
		Description: fmt.Sprintf("Milestone \"%s\" for \"%s\"", milestone.Name, milestone.Pitch.Title),
		ClientEmail: email,
		Metadata: map[string]string{
			"type":         "client_milestone_payment",
			"milestone_id": strconv.FormatUint(uint64(milestone.ID), 10),
		},
	})
	if err != nil {
		logging.L().WithError(err).WithField("milestone_id", milestone.ID).Error("Checkout session creation failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "checkout_failed"})
	}

	if err := db.Model(&milestone).Updates(map[string]interface{}{
		"payment_status":      models.PaymentStatusProcessing,
		"checkout_session_id": sessionID,
	}).Error; err != nil {
		logging.L().WithError(err).WithField("milestone_id", milestone.ID).Warn("Milestone processing status update failed")
	}

	return c.JSON(fiber.Map{"checkout_url": checkoutURL, "session_id": sessionID})
}

// HandleListNotifications returns the newest notifications for the
// authenticated user.
func HandleListNotifications(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var items []models.Notification
	if err := database.GetDB().
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(50).
		Find(&items).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "notification_lookup_failed"})
	}
	return c.JSON(fiber.Map{"notifications": items})
}

// HandleMarkNotificationsRead marks all of the user's notifications read.
func HandleMarkNotificationsRead(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	svc := notifications.NewService(database.GetDB(), logging.L())
	if err := svc.MarkAllRead(userID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "notification_update_failed"})
	}
	return c.JSON(fiber.Map{"ok": true})
}
