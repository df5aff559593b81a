package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/mixhaven/MixHaven/internal/pkg/database"
	"github.com/mixhaven/MixHaven/internal/pkg/logging"
)

const (
	KeyUserID  = "USER_ID"
	KeyUser    = "USER"
	KeyIsAdmin = "IS_ADMIN"
)

// APIKeyAuthMiddleware authenticates requests carrying a user API key, via
// X-API-Key or an Authorization bearer token.
func APIKeyAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		db := database.GetDB()
		if db == nil {
			logging.L().Error("api key middleware: database unavailable")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
		}

		var user models.User
		err := db.Where("api_key_hash = ?", models.HashAPIKey(apiKey)).First(&user).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			logging.L().WithError(err).Error("api key lookup failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		if user.Status != models.STATUS_ACTIVE {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
		}

		// Roll the monthly pitch usage window lazily on first request of
		// a new month. Best effort.
		if user.RollMonthlyPitchWindowIfDue(time.Now()) {
			if err := db.Model(&user).Updates(map[string]interface{}{
				"monthly_pitch_count": user.MonthlyPitchCount,
				"monthly_pitch_reset": user.MonthlyPitchReset,
			}).Error; err != nil {
				logging.L().WithError(err).WithField("user_id", user.ID).Warn("Monthly pitch window reset failed")
			}
		}

		c.Locals(KeyUserID, user.ID)
		c.Locals(KeyUser, &user)
		c.Locals(KeyIsAdmin, user.Role == models.ROLE_ADMIN)
		return c.Next()
	}
}

// UserID returns the authenticated user's id, or zero when the request did
// not pass the API key middleware.
func UserID(c *fiber.Ctx) uint {
	if id, ok := c.Locals(KeyUserID).(uint); ok {
		return id
	}
	return 0
}

// User returns the authenticated user, or nil.
func User(c *fiber.Ctx) *models.User {
	if u, ok := c.Locals(KeyUser).(*models.User); ok {
		return u
	}
	return nil
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
