package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"CreatorDeals/internal/errs"
	"CreatorDeals/internal/events"
	"CreatorDeals/internal/models"
	"CreatorDeals/internal/processor"
	"CreatorDeals/internal/services"
	"CreatorDeals/internal/store"
)

var (
	ErrPayoutAccountNotFound = errs.New(errs.CodePayoutAccountNotFound, "payout account not found")
	ErrProcessorUnavailable  = errs.New(errs.CodeProcessorUnavailable, "payment processor request failed")
)

// Gatekeeper tracks whether a creator can receive transfers.
type Gatekeeper struct {
	Store   store.Repository
	Gateway processor.Gateway
	Events  events.Publisher
	Log     *slog.Logger
	Now     func() time.Time
}

// IsPayoutReady reports whether creatorID finished onboarding. Accounts
// still onboarding are re-checked with the processor.
func (g *Gatekeeper) IsPayoutReady(ctx context.Context, creatorID string) (bool, error) {
	acct, err := g.Store.GetPayoutAccount(ctx, creatorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if acct.OnboardingComplete {
		return true, nil
	}
	acct, err = g.Refresh(ctx, acct)
	if err != nil {
		return false, err
	}
	return acct.OnboardingComplete, nil
}

// InitiateOnboarding returns a fresh onboarding link, creating the
// processor account on the first call only.
func (g *Gatekeeper) InitiateOnboarding(ctx context.Context, creatorID string) (processor.OnboardingLink, error) {
	if creatorID == "" {
		return processor.OnboardingLink{}, services.ErrMissingPrincipal
	}
	existing, err := g.Store.GetPayoutAccount(ctx, creatorID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return processor.OnboardingLink{}, err
	}

	var accountID string
	if existing != nil {
		accountID = existing.ProcessorAccountID
	}
	link, err := g.Gateway.CreateOnboardingLink(ctx, creatorID, accountID)
	if err != nil {
		return processor.OnboardingLink{}, errs.Wrapf(ErrProcessorUnavailable, err, "create onboarding link")
	}

	now := nowFunc(g.Now)
	acct := &models.PayoutAccount{
		CreatorID:          creatorID,
		ProcessorAccountID: link.AccountID,
		OnboardingURL:      link.URL,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if existing != nil {
		acct.OnboardingComplete = existing.OnboardingComplete
		acct.CreatedAt = existing.CreatedAt
	}
	if err := g.Store.UpsertPayoutAccount(ctx, acct); err != nil {
		return processor.OnboardingLink{}, err
	}
	g.logger().Info("payout onboarding link issued", "creator_id", creatorID, "account_id", link.AccountID)
	return link, nil
}

// Account returns the stored payout account of creatorID.
func (g *Gatekeeper) Account(ctx context.Context, creatorID string) (*models.PayoutAccount, error) {
	acct, err := g.Store.GetPayoutAccount(ctx, creatorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPayoutAccountNotFound
		}
		return nil, err
	}
	return acct, nil
}

// Refresh pulls the processor's view of acct and persists it if it changed.
func (g *Gatekeeper) Refresh(ctx context.Context, acct *models.PayoutAccount) (*models.PayoutAccount, error) {
	status, err := g.Gateway.GetAccountStatus(ctx, acct.ProcessorAccountID)
	if err != nil {
		return nil, errs.Wrapf(ErrProcessorUnavailable, err, "get payout account status")
	}
	if status.OnboardingComplete == acct.OnboardingComplete {
		return acct, nil
	}

	updated := *acct
	updated.OnboardingComplete = status.OnboardingComplete
	updated.UpdatedAt = nowFunc(g.Now)
	if updated.OnboardingComplete {
		updated.OnboardingURL = ""
	}
	if err := g.Store.UpsertPayoutAccount(ctx, &updated); err != nil {
		return nil, err
	}
	g.logger().Info("payout account status changed",
		"creator_id", acct.CreatorID,
		"account_id", acct.ProcessorAccountID,
		"onboarding_complete", updated.OnboardingComplete,
	)
	if g.Events != nil {
		g.Events.Publish(events.Event{
			Type:      events.PayoutAccountSync,
			CreatorID: acct.CreatorID,
			At:        updated.UpdatedAt,
		})
	}
	return &updated, nil
}

func (g *Gatekeeper) logger() *slog.Logger {
	if g.Log == nil {
		return slog.Default()
	}
	return g.Log
}

func nowFunc(now func() time.Time) time.Time {
	if now != nil {
		return now().UTC()
	}
	return time.Now().UTC()
}
