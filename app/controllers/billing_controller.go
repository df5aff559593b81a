package controllers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/mixhaven/MixHaven/internal/pkg/cache"
	"github.com/mixhaven/MixHaven/internal/pkg/database"
	"github.com/mixhaven/MixHaven/internal/pkg/logging"
	"github.com/mixhaven/MixHaven/internal/pkg/middleware"
	"github.com/mixhaven/MixHaven/internal/pkg/stripeapi"
)

type processPaymentRequest struct {
	PitchID uint `json:"pitch_id"`
}

// HandleProcessPayment charges the authenticated user for a pitch through a
// provider invoice. The charge is asynchronous: the webhook settles the
// final payment state, this endpoint only kicks it off.
func HandleProcessPayment(c *fiber.Ctx) error {
	user := middleware.User(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req processPaymentRequest
	if err := c.BodyParser(&req); err != nil || req.PitchID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "pitch_id is required"})
	}

	client := provider()
	if client == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "payments_unavailable"})
	}

	db := database.GetDB()
	var pitch models.Pitch
	if err := db.First(&pitch, req.PitchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "pitch_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "pitch_lookup_failed"})
	}
	if pitch.IsPaid() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "pitch_already_paid"})
	}

	customerID, err := client.EnsureCustomer(user)
	if err != nil {
		logging.L().WithError(err).WithField("user_id", user.ID).Error("Customer setup failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "customer_setup_failed"})
	}

	if err := db.Model(&pitch).Update("payment_status", models.PaymentStatusProcessing).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "pitch_update_failed"})
	}

	inv, err := client.ChargeInvoice(customerID, pitch.PaymentAmount, pitch.Currency,
		fmt.Sprintf("Payment for pitch \"%s\"", pitch.Title),
		map[string]string{"pitch_id": strconv.FormatUint(uint64(pitch.ID), 10)})
	if err != nil {
		logging.L().WithError(err).WithField("pitch_id", pitch.ID).Warn("Invoice charge attempt failed")
		if inv == nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment_failed"})
		}
		// Invoice was created but could not be paid immediately. The
		// webhook delivers the outcome either way.
	}

	resp := fiber.Map{"ok": true, "payment_status": models.PaymentStatusProcessing}
	if inv != nil {
		resp["provider_invoice_id"] = inv.ID
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

// HandleListInvoices returns the authenticated user's local invoices plus
// the cached provider-side invoice count when available.
func HandleListInvoices(c *fiber.Ctx) error {
	user := middleware.User(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var invoices []models.Invoice
	if err := database.GetDB().
		Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Limit(100).
		Find(&invoices).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "invoice_lookup_failed"})
	}

	resp := fiber.Map{"invoices": invoices}
	if user.StripeCustomerID != "" {
		if count, err := cache.GetInt(fmt.Sprintf("billing:invoices:%s:count", user.StripeCustomerID)); err == nil {
			resp["provider_invoice_count"] = count
		}
	}
	return c.JSON(resp)
}

type createOrderRequest struct {
	ServicePackageID uint `json:"service_package_id"`
}

// HandleCreateOrder creates an order for a service package together with its
// pending invoice, and returns the checkout URL the buyer completes payment
// on. The webhook flips both to paid.
func HandleCreateOrder(c *fiber.Ctx) error {
	user := middleware.User(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil || req.ServicePackageID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "service_package_id is required"})
	}

	client := provider()
	if client == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "payments_unavailable"})
	}

	db := database.GetDB()
	var pkg models.ServicePackage
	if err := db.First(&pkg, req.ServicePackageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "service_package_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "package_lookup_failed"})
	}
	if !pkg.IsActive {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "service_package_inactive"})
	}

	order := &models.Order{
		UserID:           user.ID,
		ServicePackageID: pkg.ID,
		Status:           models.OrderStatusPendingPayment,
		PaymentStatus:    models.PaymentStatusUnpaid,
		Amount:           pkg.Price,
		Currency:         pkg.Currency,
	}
	invoice := &models.Invoice{
		UserID:      user.ID,
		Status:      models.InvoiceStatusPending,
		Amount:      pkg.Price,
		Currency:    pkg.Currency,
		Description: fmt.Sprintf("Order for \"%s\"", pkg.Title),
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		orderID := order.ID
		invoice.OrderID = &orderID
		return tx.Create(invoice).Error
	}); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order_create_failed"})
	}

	sessionID, checkoutURL, err := client.CreateCheckoutSession(stripeapi.CheckoutInput{
		Amount:      pkg.Price,
		Currency:    pkg.Currency,
		Description: pkg.Title,
		ClientEmail: user.Email,
		Metadata: map[string]string{
			"order_id":   strconv.FormatUint(uint64(order.ID), 10),
			"invoice_id": strconv.FormatUint(uint64(invoice.ID), 10),
		},
	})
	if err != nil {
		logging.L().WithError(err).WithField("order_id", order.ID).Error("Checkout session creation failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "checkout_failed"})
	}

	if err := database.GetDB().Model(invoice).Update("checkout_session_id", sessionID).Error; err != nil {
		logging.L().WithError(err).WithField("invoice_id", invoice.ID).Warn("Invoice session id update failed")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_id":     order.ID,
		"invoice_id":   invoice.ID,
		"checkout_url": checkoutURL,
	})
}
