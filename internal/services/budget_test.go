package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSetCampaignBudget(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	f.create(t, "600")

	t.Run("raise", func(t *testing.T) {
		c, err := f.budget.SetCampaignBudget(ctx, brandID, campaignID, decimal.NewFromInt(2000), "usd")
		if err != nil {
			t.Fatalf("SetCampaignBudget: %v", err)
		}
		if c.Currency != "USD" || !c.TotalBudget.Equal(decimal.NewFromInt(2000)) {
			t.Fatalf("campaign = %+v", c)
		}
	})

	t.Run("below allocation", func(t *testing.T) {
		_, err := f.budget.SetCampaignBudget(ctx, brandID, campaignID, decimal.NewFromInt(500), "USD")
		if !errors.Is(err, ErrBudgetExceeded) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("currency change with live deals", func(t *testing.T) {
		_, err := f.budget.SetCampaignBudget(ctx, brandID, campaignID, decimal.NewFromInt(2000), "EUR")
		if !errors.Is(err, ErrCurrencyMismatch) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("other brand", func(t *testing.T) {
		_, err := f.budget.SetCampaignBudget(ctx, "brand-2", campaignID, decimal.NewFromInt(2000), "USD")
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("budget view is brand only", func(t *testing.T) {
		b, err := f.budget.BudgetFor(ctx, campaignID, brandID)
		if err != nil || !b.Remaining.Equal(decimal.NewFromInt(1400)) {
			t.Fatalf("BudgetFor = %+v, %v", b, err)
		}
		if _, err := f.budget.BudgetFor(ctx, campaignID, creatorID); !errors.Is(err, ErrForbidden) {
			t.Fatalf("err = %v", err)
		}
		if _, err := f.budget.BudgetFor(ctx, "missing", brandID); !errors.Is(err, ErrCampaignNotFound) {
			t.Fatalf("err = %v", err)
		}
	})
}
