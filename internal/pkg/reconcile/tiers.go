package reconcile

import (
	"strconv"

	"github.com/mixhaven/MixHaven/app/models"
	"github.com/mixhaven/MixHaven/internal/pkg/env"
)

// Tier describes the internal plan a provider price id maps to.
type Tier struct {
	Plan          string
	TierName      string
	BillingPeriod string
	Price         int64 // cents
	Currency      string
}

// TierMap maps provider price ids to internal tiers.
type TierMap map[string]Tier

// LoadTierMapFromEnv builds the price-id mapping for the four Pro plans from
// the environment. Unset price ids are left out of the map, so events for
// them fall through to the status-based handling.
func LoadTierMapFromEnv() TierMap {
	currency := env.GetEnv("SUBSCRIPTION_CURRENCY", "USD")
	tiers := TierMap{}

	add := func(priceEnvKey, amountEnvKey, defaultAmount, tierName, period string) {
		priceID := env.GetEnv(priceEnvKey, "")
		if priceID == "" {
			return
		}
		amount, err := strconv.ParseInt(env.GetEnv(amountEnvKey, defaultAmount), 10, 64)
		if err != nil {
			amount, _ = strconv.ParseInt(defaultAmount, 10, 64)
		}
		tiers[priceID] = Tier{
			Plan:          models.PlanPro,
			TierName:      tierName,
			BillingPeriod: period,
			Price:         amount,
			Currency:      currency,
		}
	}

	add("STRIPE_PRICE_PRO_ARTIST_MONTHLY", "PRO_ARTIST_MONTHLY_AMOUNT", "999", models.TierArtist, models.BillingPeriodMonthly)
	add("STRIPE_PRICE_PRO_ARTIST_YEARLY", "PRO_ARTIST_YEARLY_AMOUNT", "9900", models.TierArtist, models.BillingPeriodYearly)
	add("STRIPE_PRICE_PRO_ENGINEER_MONTHLY", "PRO_ENGINEER_MONTHLY_AMOUNT", "1999", models.TierEngineer, models.BillingPeriodMonthly)
	add("STRIPE_PRICE_PRO_ENGINEER_YEARLY", "PRO_ENGINEER_YEARLY_AMOUNT", "19900", models.TierEngineer, models.BillingPeriodYearly)

	return tiers
}
