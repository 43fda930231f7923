package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"CreatorDeals/internal/errs"
	"CreatorDeals/internal/models"
	"CreatorDeals/internal/pricing"
	"CreatorDeals/internal/store"

	"github.com/shopspring/decimal"
)

// BudgetLedger answers how much of a campaign's budget is still free. The
// allocation is always summed from live deal rows.
type BudgetLedger struct {
	Store store.Repository
	Now   func() time.Time
}

func (l BudgetLedger) RemainingBudget(ctx context.Context, campaignID string) (models.CampaignBudget, error) {
	campaign, err := l.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.CampaignBudget{}, ErrCampaignNotFound
		}
		return models.CampaignBudget{}, err
	}
	allocated, err := l.Store.AllocatedGross(ctx, campaignID)
	if err != nil {
		return models.CampaignBudget{}, err
	}
	return budgetOf(campaign, allocated), nil
}

// BudgetFor is RemainingBudget restricted to the campaign's brand.
func (l BudgetLedger) BudgetFor(ctx context.Context, campaignID, brandID string) (models.CampaignBudget, error) {
	if brandID == "" {
		return models.CampaignBudget{}, ErrMissingPrincipal
	}
	campaign, err := l.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.CampaignBudget{}, ErrCampaignNotFound
		}
		return models.CampaignBudget{}, err
	}
	if campaign.BrandID != brandID {
		return models.CampaignBudget{}, ErrForbidden
	}
	return l.RemainingBudget(ctx, campaignID)
}

func (l BudgetLedger) CanAllocate(ctx context.Context, campaignID string, gross decimal.Decimal) (bool, error) {
	budget, err := l.RemainingBudget(ctx, campaignID)
	if err != nil {
		return false, err
	}
	return canAllocate(budget, gross), nil
}

// SetCampaignBudget creates or updates the budget-bearing campaign record.
// The new total may not drop below what is already allocated.
func (l BudgetLedger) SetCampaignBudget(ctx context.Context, brandID, campaignID string, total decimal.Decimal, currency string) (*models.Campaign, error) {
	if brandID == "" {
		return nil, ErrMissingPrincipal
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, errs.Wrapf(ErrInvalidInput, nil, "campaign id is required")
	}
	currency = pricing.NormalizeCurrency(currency)
	if err := pricing.ValidAmount(total, currency); err != nil {
		return nil, err
	}

	now := nowFunc(l.Now)
	var out *models.Campaign
	err := l.Store.InTx(ctx, func(tx store.Tx) error {
		existing, err := tx.LockCampaign(ctx, campaignID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		campaign := &models.Campaign{
			ID:          campaignID,
			BrandID:     brandID,
			TotalBudget: total,
			Currency:    currency,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if existing != nil {
			if existing.BrandID != brandID {
				return ErrForbidden
			}
			allocated, err := tx.AllocatedGross(ctx, campaignID)
			if err != nil {
				return err
			}
			if !allocated.IsZero() && existing.Currency != currency {
				return errs.Wrapf(ErrCurrencyMismatch, nil, "campaign %s already has deals in %s", campaignID, existing.Currency)
			}
			if total.LessThan(allocated) {
				return errs.WithMetadata(ErrBudgetExceeded, map[string]string{
					"allocated": allocated.String(),
					"total":     total.String(),
				})
			}
			campaign.CreatedAt = existing.CreatedAt
		}
		if err := tx.UpsertCampaign(ctx, campaign); err != nil {
			return err
		}
		out = campaign
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func budgetOf(c *models.Campaign, allocated decimal.Decimal) models.CampaignBudget {
	return models.CampaignBudget{
		CampaignID: c.ID,
		Currency:   c.Currency,
		Total:      c.TotalBudget,
		Allocated:  allocated,
		Remaining:  c.TotalBudget.Sub(allocated),
	}
}

func canAllocate(b models.CampaignBudget, gross decimal.Decimal) bool {
	return gross.LessThanOrEqual(b.Remaining)
}

func nowFunc(now func() time.Time) time.Time {
	if now != nil {
		return now().UTC()
	}
	return time.Now().UTC()
}
