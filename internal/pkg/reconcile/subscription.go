package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
)

func parseSubscription(event *stripe.Event) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: subscription: %v", ErrMalformedPayload, err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("%w: subscription id missing", ErrMalformedPayload)
	}
	return &sub, nil
}

func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}

func subscriptionCustomerID(sub *stripe.Subscription) string {
	if sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}

func unixOrNil(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0)
	return &t
}

func (s *Service) resolveSubscriptionUser(event *stripe.Event, sub *stripe.Subscription) (*models.User, bool, error) {
	customerID := subscriptionCustomerID(sub)
	if customerID == "" {
		s.log.WithField("event_id", event.ID).Warn("Subscription event without customer, ignoring")
		return nil, false, nil
	}
	user, err := s.repo.FindUserByStripeCustomerID(customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.WithFields(logrus.Fields{
				"event_id":    event.ID,
				"customer_id": customerID,
			}).Warn("No local user for subscription customer, ignoring")
			return nil, false, nil
		}
		return nil, false, err
	}
	return user, true, nil
}

// handleSubscriptionCreated mirrors the new subscription locally and applies
// the tier its price maps to.
func (s *Service) handleSubscriptionCreated(ctx context.Context, event *stripe.Event) error {
	_ = ctx
	sub, err := parseSubscription(event)
	if err != nil {
		return err
	}
	user, ok, err := s.resolveSubscriptionUser(event, sub)
	if err != nil || !ok {
		return err
	}

	priceID := subscriptionPriceID(sub)
	if err := s.upsertSubscriptionMirror(user.ID, sub, priceID); err != nil {
		return err
	}

	status := string(sub.Status)
	if err := s.updateUserTier(user, status, priceID); err != nil {
		return err
	}

	if _, mapped := s.tiers[priceID]; mapped {
		content := fmt.Sprintf("Your subscription has been upgraded to %s.", user.SubscriptionDisplayName())
		if err := s.notifier.Notify(user.ID, models.NotificationTypeSubscriptionUpgraded, content, user.ID); err != nil {
			s.log.WithField("user_id", user.ID).WithError(err).Warn("Upgrade notification failed")
		}
	}
	return nil
}

// handleSubscriptionUpdated maps the provider status onto the internal
// active/inactive pair and reapplies the tier. Statuses that map to neither
// only refresh the local mirror.
func (s *Service) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	_ = ctx
	sub, err := parseSubscription(event)
	if err != nil {
		return err
	}
	user, ok, err := s.resolveSubscriptionUser(event, sub)
	if err != nil || !ok {
		return err
	}

	priceID := subscriptionPriceID(sub)
	if err := s.upsertSubscriptionMirror(user.ID, sub, priceID); err != nil {
		return err
	}

	switch sub.Status {
	case stripe.SubscriptionStatusActive:
		return s.updateUserTier(user, models.SubscriptionStatusActive, priceID)
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusPastDue:
		return s.updateUserTier(user, models.STATUS_INACTIVE, "")
	default:
		s.log.WithFields(logrus.Fields{
			"user_id":         user.ID,
			"subscription_id": sub.ID,
			"status":          sub.Status,
		}).Info("Subscription status requires no tier change")
		return nil
	}
}

// handleSubscriptionDeleted resets the user back to the free plan and marks
// the local mirror as canceled.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	_ = ctx
	sub, err := parseSubscription(event)
	if err != nil {
		return err
	}
	user, ok, err := s.resolveSubscriptionUser(event, sub)
	if err != nil || !ok {
		return err
	}

	priorPlan := user.SubscriptionDisplayName()
	if err := s.updateUserTier(user, models.SubscriptionStatusCanceled, ""); err != nil {
		return err
	}

	endsAt := unixOrNil(sub.CanceledAt)
	if endsAt == nil {
		now := time.Now()
		endsAt = &now
	}

	mirror, err := s.repo.FindSubscriptionByStripeID(sub.ID)
	if err == nil {
		mirror.StripeStatus = models.SubscriptionStatusCanceled
		mirror.EndsAt = endsAt
		if err := s.repo.SaveSubscription(mirror); err != nil {
			return err
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	content := fmt.Sprintf("Your %s subscription has been canceled as of %s. You are back on the Free plan.",
		priorPlan, endsAt.Format("2006-01-02"))
	if err := s.notifier.Notify(user.ID, models.NotificationTypeSubscriptionCanceled, content, user.ID); err != nil {
		s.log.WithField("user_id", user.ID).WithError(err).Warn("Cancellation notification failed")
	}
	return nil
}

// upsertSubscriptionMirror keeps the local subscription row in sync with the
// provider's view, keyed by the provider subscription id.
func (s *Service) upsertSubscriptionMirror(userID uint, sub *stripe.Subscription, priceID string) error {
	quantity := int64(1)
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Quantity > 0 {
		quantity = sub.Items.Data[0].Quantity
	}

	mirror, err := s.repo.FindSubscriptionByStripeID(sub.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		mirror = &models.Subscription{
			UserID:   userID,
			Name:     "default",
			StripeID: sub.ID,
		}
	}

	mirror.StripeStatus = string(sub.Status)
	mirror.StripePrice = priceID
	mirror.Quantity = quantity
	mirror.TrialEndsAt = unixOrNil(sub.TrialEnd)
	if sub.Status == stripe.SubscriptionStatusCanceled {
		mirror.EndsAt = unixOrNil(sub.CanceledAt)
	}
	return s.repo.SaveSubscription(mirror)
}

// updateUserTier applies the internal tier for a provider price id, or falls
// back to the free plan when the subscription is no longer entitling. A
// status outside the known set leaves the user untouched.
func (s *Service) updateUserTier(user *models.User, status, priceID string) error {
	if tier, ok := s.tiers[priceID]; ok && priceID != "" {
		price := tier.Price
		user.SubscriptionPlan = tier.Plan
		user.SubscriptionTier = tier.TierName
		user.BillingPeriod = tier.BillingPeriod
		user.SubscriptionPrice = &price
		user.SubscriptionCurrency = tier.Currency
		if status == models.SubscriptionStatusActive {
			now := time.Now()
			user.PlanStartedAt = &now
		}
		return s.repo.SaveUser(user)
	}

	switch status {
	case models.SubscriptionStatusCanceled, models.STATUS_INACTIVE:
		user.ResetToFreePlan()
		return s.repo.SaveUser(user)
	case models.SubscriptionStatusActive:
		// Active on an unmapped price: keep whatever plan the user has.
		return nil
	default:
		s.log.WithFields(logrus.Fields{
			"user_id": user.ID,
			"status":  status,
		}).Info("Subscription status requires no tier change")
		return nil
	}
}
