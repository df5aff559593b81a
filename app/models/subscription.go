package models

import "time"

const (
	SubscriptionStatusActive            = "active"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusUnpaid            = "unpaid"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
)

// Subscription mirrors a provider subscription. It is created or updated
// from customer.subscription.* webhook events and keyed by the provider
// subscription id.
type Subscription struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"not null;index" json:"user_id"`
	Name         string     `gorm:"type:varchar(50);not null;default:'default'" json:"name"`
	StripeID     string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_stripe_id" json:"stripe_id"`
	StripeStatus string     `gorm:"type:varchar(32);not null;index" json:"stripe_status"`
	StripePrice  string     `gorm:"type:varchar(191)" json:"stripe_price"`
	Quantity     int64      `gorm:"not null;default:1" json:"quantity"`
	TrialEndsAt  *time.Time `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	EndsAt       *time.Time `gorm:"type:timestamp;default:null" json:"ends_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
