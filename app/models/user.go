package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_USER     = "user"
	ROLE_PRODUCER = "producer"
	ROLE_ADMIN    = "admin"

	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

const (
	PlanFree = "free"
	PlanPro  = "pro"

	TierBasic    = "basic"
	TierArtist   = "artist"
	TierEngineer = "engineer"

	BillingPeriodMonthly = "monthly"
	BillingPeriodYearly  = "yearly"
)

type User struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	Name                 string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email                string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Role                 string         `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user producer admin"`
	Status               string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	APIKeyHash           string         `gorm:"type:varchar(64);index;default:null" json:"-"`
	StripeCustomerID     string         `gorm:"type:varchar(191);index;default:null" json:"-"`
	StripeAccountID      string         `gorm:"type:varchar(191);default:null" json:"-"` // Connect account for payouts
	SubscriptionPlan     string         `gorm:"type:varchar(20);not null;default:'free'" json:"subscription_plan"`
	SubscriptionTier     string         `gorm:"type:varchar(20);not null;default:'basic'" json:"subscription_tier"`
	BillingPeriod        string         `gorm:"type:varchar(10);not null;default:'monthly'" json:"billing_period"`
	SubscriptionPrice    *int64         `gorm:"default:null" json:"subscription_price,omitempty"` // cents
	SubscriptionCurrency string         `gorm:"type:varchar(3);not null;default:'USD'" json:"subscription_currency"`
	PlanStartedAt        *time.Time     `gorm:"type:timestamp;default:null" json:"plan_started_at,omitempty"`
	MonthlyPitchCount    int            `gorm:"not null;default:0" json:"monthly_pitch_count"`
	MonthlyPitchReset    *time.Time     `gorm:"type:timestamp;default:null" json:"monthly_pitch_reset,omitempty"`
	LastLoginAt          *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// SubscriptionDisplayName is the user-facing name of the current plan,
// e.g. "Pro Engineer (monthly)" or "Free".
func (u *User) SubscriptionDisplayName() string {
	if u.SubscriptionPlan != PlanPro {
		return "Free"
	}
	tier := "Artist"
	if u.SubscriptionTier == TierEngineer {
		tier = "Engineer"
	}
	return fmt.Sprintf("Pro %s (%s)", tier, u.BillingPeriod)
}

// ResetToFreePlan wipes every subscription-related field back to the
// free-plan defaults, including the monthly pitch usage counters.
func (u *User) ResetToFreePlan() {
	u.SubscriptionPlan = PlanFree
	u.SubscriptionTier = TierBasic
	u.BillingPeriod = BillingPeriodMonthly
	u.SubscriptionPrice = nil
	u.SubscriptionCurrency = "USD"
	u.PlanStartedAt = nil
	u.MonthlyPitchCount = 0
	u.MonthlyPitchReset = nil
}

// RollMonthlyPitchWindowIfDue resets the monthly pitch counter when the
// current calendar-month window has ended. Reports whether a reset happened
// so the caller knows to persist the user.
func (u *User) RollMonthlyPitchWindowIfDue(now time.Time) bool {
	if u.MonthlyPitchReset != nil && now.Before(*u.MonthlyPitchReset) {
		return false
	}
	next := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
	u.MonthlyPitchCount = 0
	u.MonthlyPitchReset = &next
	return true
}

// HashAPIKey returns the storable hash of a plaintext API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// HasValidConnectAccount reports whether the user can receive payouts.
func (u *User) HasValidConnectAccount() bool {
	return u.StripeAccountID != ""
}
