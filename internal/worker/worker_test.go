package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"CreatorDeals/internal/events"
	"CreatorDeals/internal/models"
	"CreatorDeals/internal/payments"
	"CreatorDeals/internal/pricing"
	"CreatorDeals/internal/processor"
	"CreatorDeals/internal/services"
	"CreatorDeals/internal/store"

	"github.com/shopspring/decimal"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	store   *store.Memory
	sandbox *processor.Sandbox
	worker  *Worker
	deals   services.DealService
	payouts *payments.Gatekeeper
	now     time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{store: store.NewMemory(), sandbox: processor.NewSandbox(), now: start}
	clock := func() time.Time { return e.now }
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := events.NewHub(16)

	e.deals = services.DealService{
		Store:   e.store,
		Pricing: pricing.Service{MarginRate: decimal.RequireFromString("0.2")},
		Events:  hub,
		Now:     clock,
	}
	e.payouts = &payments.Gatekeeper{Store: e.store, Gateway: e.sandbox, Events: hub, Log: log, Now: clock}
	settler := &payments.Settler{
		Store:      e.store,
		Deals:      e.deals,
		Gatekeeper: e.payouts,
		Gateway:    e.sandbox,
		Events:     hub,
		Log:        log,
		Now:        clock,
	}
	e.worker = &Worker{
		Settler:    settler,
		Payouts:    e.payouts,
		Store:      e.store,
		Schedule:   "@every 1h",
		StaleAfter: 10 * time.Minute,
		Log:        log,
	}
	ledger := services.BudgetLedger{Store: e.store, Now: clock}
	if _, err := ledger.SetCampaignBudget(context.Background(), "brand-1", "campaign-1", decimal.NewFromInt(1000), "USD"); err != nil {
		t.Fatalf("SetCampaignBudget: %v", err)
	}
	return e
}

// stuckDeal returns an accepted deal whose payment is stuck in processing.
func (e *env) stuckDeal(t *testing.T, creatorID string) *models.Deal {
	t.Helper()
	ctx := context.Background()
	deal, err := e.deals.CreateDeal(ctx, services.CreateDealInput{
		CampaignID: "campaign-1",
		CreatorID:  creatorID,
		BrandID:    "brand-1",
		GrossValue: decimal.NewFromInt(100),
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	if _, err := e.deals.Respond(ctx, deal.ID, creatorID, models.DecisionAccept, ""); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		p := &models.Payment{ID: "pay-" + deal.ID, DealID: deal.ID, Amount: deal.NetValue, Currency: "USD", Status: models.PaymentPending, CreatedAt: e.now, UpdatedAt: e.now}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		_, err := tx.ClaimPayment(ctx, p.ID, e.now)
		return err
	})
	if err != nil {
		t.Fatalf("stuck payment: %v", err)
	}
	return deal
}

func TestTickReconcilesAndSyncsAccounts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	stuck := e.stuckDeal(t, "creator-1")

	link, err := e.payouts.InitiateOnboarding(ctx, "creator-2")
	if err != nil {
		t.Fatalf("InitiateOnboarding: %v", err)
	}
	if _, err := e.payouts.InitiateOnboarding(ctx, "creator-3"); err != nil {
		t.Fatalf("InitiateOnboarding: %v", err)
	}
	e.sandbox.CompleteOnboarding(link.AccountID)

	e.now = e.now.Add(time.Hour)
	res := e.worker.Tick(ctx)

	if res.Reconcile.Checked != 1 || res.Reconcile.Failed != 1 {
		t.Fatalf("reconcile = %+v", res.Reconcile)
	}
	if res.AccountsSynced != 1 || res.AccountErrors != 0 {
		t.Fatalf("accounts synced=%d errors=%d", res.AccountsSynced, res.AccountErrors)
	}

	p, _ := e.store.GetPaymentByDeal(ctx, stuck.ID)
	if p.Status != models.PaymentFailed || *p.FailedReason != payments.ReconcileReason {
		t.Fatalf("payment = %+v", p)
	}
	acct, _ := e.store.GetPayoutAccount(ctx, "creator-2")
	if !acct.OnboardingComplete {
		t.Fatalf("creator-2 should be onboarded")
	}
	pending, _ := e.store.ListIncompletePayoutAccounts(ctx)
	if len(pending) != 1 || pending[0].CreatorID != "creator-3" {
		t.Fatalf("incomplete = %+v", pending)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.worker.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	e := newEnv(t)
	e.worker.Schedule = "every now and then"
	if err := e.worker.Run(context.Background()); err == nil {
		t.Fatalf("expected schedule error")
	}
}
