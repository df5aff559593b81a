package reconcile

import (
	"testing"

	"github.com/mixhaven/MixHaven/app/models"
)

func TestLoadTierMapFromEnv(t *testing.T) {
	t.Setenv("STRIPE_PRICE_PRO_ARTIST_MONTHLY", "price_am")
	t.Setenv("STRIPE_PRICE_PRO_ENGINEER_YEARLY", "price_ey")
	t.Setenv("PRO_ENGINEER_YEARLY_AMOUNT", "24900")

	tiers := LoadTierMapFromEnv()
	if len(tiers) != 2 {
		t.Fatalf("expected 2 mapped prices, got %d", len(tiers))
	}

	am, ok := tiers["price_am"]
	if !ok {
		t.Fatal("price_am not mapped")
	}
	if am.Plan != models.PlanPro || am.TierName != models.TierArtist || am.BillingPeriod != models.BillingPeriodMonthly {
		t.Fatalf("unexpected tier for price_am: %+v", am)
	}
	if am.Price != 999 {
		t.Fatalf("expected default amount 999, got %d", am.Price)
	}

	ey, ok := tiers["price_ey"]
	if !ok {
		t.Fatal("price_ey not mapped")
	}
	if ey.TierName != models.TierEngineer || ey.BillingPeriod != models.BillingPeriodYearly {
		t.Fatalf("unexpected tier for price_ey: %+v", ey)
	}
	if ey.Price != 24900 {
		t.Fatalf("expected configured amount 24900, got %d", ey.Price)
	}

	if _, ok := tiers["price_unset"]; ok {
		t.Fatal("unset price id must not be mapped")
	}
}

func TestLoadTierMapFromEnvEmpty(t *testing.T) {
	tiers := LoadTierMapFromEnv()
	for key := range tiers {
		if key == "" {
			t.Fatal("empty price id must never be mapped")
		}
	}
}

func TestParseEntityID(t *testing.T) {
	cases := []struct {
		raw  string
		want uint
		ok   bool
	}{
		{"42", 42, true},
		{"1", 1, true},
		{"0", 0, false},
		{"", 0, false},
		{"abc", 0, false},
		{"-5", 0, false},
		{"12.5", 0, false},
	}

	for _, tc := range cases {
		got, ok := parseEntityID(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parseEntityID(%q) = (%d, %v), want (%d, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
