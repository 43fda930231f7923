package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"CreatorDeals/internal/errs"
	"CreatorDeals/internal/events"
	"CreatorDeals/internal/models"
	"CreatorDeals/internal/pricing"
	"CreatorDeals/internal/processor"
	"CreatorDeals/internal/services"
	"CreatorDeals/internal/store"

	"github.com/shopspring/decimal"
)

const (
	brandID    = "brand-1"
	creatorID  = "creator-1"
	campaignID = "campaign-1"
)

var startTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type settleFixture struct {
	store   *store.Memory
	gateway *fakeGateway
	hub     *events.Hub
	deals   services.DealService
	payouts *Gatekeeper
	settler *Settler
	now     time.Time
}

func newSettleFixture(t *testing.T) *settleFixture {
	t.Helper()
	f := &settleFixture{
		store:   store.NewMemory(),
		gateway: newFakeGateway(),
		hub:     events.NewHub(256),
		now:     startTime,
	}
	clock := func() time.Time { return f.now }
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	f.deals = services.DealService{
		Store:   f.store,
		Pricing: pricing.Service{MarginRate: decimal.RequireFromString("0.25")},
		Events:  f.hub,
		Now:     clock,
	}
	f.payouts = &Gatekeeper{Store: f.store, Gateway: f.gateway, Events: f.hub, Log: log, Now: clock}
	f.settler = &Settler{
		Store:      f.store,
		Deals:      f.deals,
		Gatekeeper: f.payouts,
		Gateway:    f.gateway,
		Events:     f.hub,
		Log:        log,
		Now:        clock,
	}

	ledger := services.BudgetLedger{Store: f.store, Now: clock}
	if _, err := ledger.SetCampaignBudget(context.Background(), brandID, campaignID, decimal.NewFromInt(100000), "USD"); err != nil {
		t.Fatalf("SetCampaignBudget: %v", err)
	}
	return f
}

// acceptedDeal creates a 1000 USD deal and has the creator accept it.
func (f *settleFixture) acceptedDeal(t *testing.T) *models.Deal {
	t.Helper()
	ctx := context.Background()
	deal, err := f.deals.CreateDeal(ctx, services.CreateDealInput{
		CampaignID: campaignID,
		CreatorID:  creatorID,
		BrandID:    brandID,
		GrossValue: decimal.NewFromInt(1000),
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	deal, err = f.deals.Respond(ctx, deal.ID, creatorID, models.DecisionAccept, "")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	return deal
}

func (f *settleFixture) onboardCreator(t *testing.T) {
	t.Helper()
	if _, err := f.payouts.InitiateOnboarding(context.Background(), creatorID); err != nil {
		t.Fatalf("InitiateOnboarding: %v", err)
	}
	f.gateway.onboard(creatorID)
}

func (f *settleFixture) dealStatus(t *testing.T, dealID string) models.DealStatus {
	t.Helper()
	d, err := f.store.GetDeal(context.Background(), dealID)
	if err != nil {
		t.Fatalf("GetDeal: %v", err)
	}
	return d.Status
}

func TestSettleScenarioBOnboardingRequired(t *testing.T) {
	f := newSettleFixture(t)
	ctx := context.Background()
	deal := f.acceptedDeal(t)
	if !deal.NetValue.Equal(decimal.NewFromInt(750)) {
		t.Fatalf("net = %s, want 750", deal.NetValue)
	}

	_, err := f.settler.SettleDeal(ctx, deal.ID)
	if !errors.Is(err, ErrPayoutOnboardingRequired) {
		t.Fatalf("err = %v, want onboarding required", err)
	}
	e, _ := errs.As(err)
	if e.Metadata["onboarding_url"] == "" || e.Metadata["account_id"] == "" {
		t.Fatalf("metadata = %v", e.Metadata)
	}
	if _, err := f.store.GetPaymentByDeal(ctx, deal.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("no payment may exist before onboarding, got %v", err)
	}
	if calls, _ := f.gateway.stats(); calls != 0 {
		t.Fatalf("gateway transfer calls = %d", calls)
	}

	// Still onboarding: the same processor account is reused.
	_, err = f.settler.SettleDeal(ctx, deal.ID)
	e2, _ := errs.As(err)
	if !errors.Is(err, ErrPayoutOnboardingRequired) || e2.Metadata["account_id"] != e.Metadata["account_id"] {
		t.Fatalf("second attempt err = %v (%v)", err, e2)
	}
	if f.dealStatus(t, deal.ID) != models.DealAccepted {
		t.Fatalf("deal must stay accepted")
	}
}

func TestSettleScenarioCPaidOnce(t *testing.T) {
	f := newSettleFixture(t)
	ctx := context.Background()
	deal := f.acceptedDeal(t)
	f.onboardCreator(t)

	payment, err := f.settler.SettleDeal(ctx, deal.ID)
	if err != nil {
		t.Fatalf("SettleDeal: %v", err)
	}
	if payment.Status != models.PaymentPaid || payment.ProcessorReference == nil || *payment.ProcessorReference != "tr_1" {
		t.Fatalf("payment = %+v", payment)
	}
	if !payment.Amount.Equal(decimal.NewFromInt(750)) || payment.PaidAt == nil || payment.Attempts != 1 {
		t.Fatalf("payment = %+v", payment)
	}
	if f.dealStatus(t, deal.ID) != models.DealCompleted {
		t.Fatalf("deal should be completed")
	}

	again, err := f.settler.SettleDeal(ctx, deal.ID)
	if err != nil {
		t.Fatalf("second SettleDeal: %v", err)
	}
	if again.ID != payment.ID || again.Status != models.PaymentPaid {
		t.Fatalf("second call returned %+v", again)
	}
	if calls, transfers := f.gateway.stats(); calls != 1 || transfers != 1 {
		t.Fatalf("calls=%d transfers=%d, want 1 1", calls, transfers)
	}
}

func TestSettleScenarioDRetryAfterTransientFailure(t *testing.T) {
	f := newSettleFixture(t)
	ctx := context.Background()
	deal := f.acceptedDeal(t)
	f.onboardCreator(t)
	f.gateway.failNext(&processor.Error{Code: processor.CodeTimeout, Message: "upstream timeout", Transient: true})

	failed, err := f.settler.SettleDeal(ctx, deal.ID)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want transfer failed", err)
	}
	if errs.KindOf(err) != errs.KindExternal {
		t.Fatalf("kind = %s", errs.KindOf(err))
	}
	if failed == nil || failed.Status != models.PaymentFailed || failed.FailedReason == nil || *failed.FailedReason != "upstream timeout" {
		t.Fatalf("failed payment = %+v", failed)
	}
	if f.dealStatus(t, deal.ID) != models.DealAccepted {
		t.Fatalf("deal must stay accepted after a failure")
	}

	paid, err := f.settler.SettleDeal(ctx, deal.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if paid.ID != failed.ID || paid.Status != models.PaymentPaid || paid.Attempts != 2 || paid.FailedReason != nil {
		t.Fatalf("paid payment = %+v", paid)
	}
	if f.dealStatus(t, deal.ID) != models.DealCompleted {
		t.Fatalf("deal should be completed")
	}
	if _, transfers := f.gateway.stats(); transfers != 1 {
		t.Fatalf("transfers = %d", transfers)
	}
}

func TestSettleRetryFindsTransferFromLostReply(t *testing.T) {
	f := newSettleFixture(t)
	ctx := context.Background()
	deal := f.acceptedDeal(t)
	f.onboardCreator(t)
	f.gateway.loseNextReply()

	if _, err := f.settler.SettleDeal(ctx, deal.ID); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v", err)
	}
	paid, err := f.settler.SettleDeal(ctx, deal.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if *paid.ProcessorReference != "tr_1" {
		t.Fatalf("reference = %s, want the transfer from the first attempt", *paid.ProcessorReference)
	}
	if calls, transfers := f.gateway.stats(); calls != 1 || transfers != 1 {
		t.Fatalf("calls=%d transfers=%d, retry must not create a second transfer", calls, transfers)
	}
}

func TestSettleConcurrentCallsPayOnce(t *testing.T) {
	f := newSettleFixture(t)
	ctx := context.Background()
	deal := f.acceptedDeal(t)
	f.onboardCreator(t)
	f.gateway.delay = 20 * time.Millisecond

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.settler.SettleDeal(ctx, deal.ID)
			if err == nil && p.Status != models.PaymentPaid {
				err = errors.New("success without paid payment")
			}
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		if err != nil && !errors.Is(err, ErrSettlementAlreadyInFlight) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls, transfers := f.gateway.stats(); calls != 1 || transfers != 1 {
		t.Fatalf("calls=%d transfers=%d, want exactly one", calls, transfers)
	}
	p, _ := f.store.GetPaymentByDeal(ctx, deal.ID)
	if p.Status != models.PaymentPaid || p.Attempts != 1 {
		t.Fatalf("payment = %+v", p)
	}
}

func TestSettleRejectsDealsNotAccepted(t *testing.T) {
	f := newSettleFixture(t)
	ctx := context.Background()
	f.onboardCreator(t)

	invited, err := f.deals.CreateDeal(ctx, services.CreateDealInput{
		CampaignID: campaignID, CreatorID: creatorID, BrandID: brandID,
		GrossValue: decimal.NewFromInt(100), Currency: "USD",
	})
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	if _, err := f.settler.SettleDeal(ctx, invited.ID); !errors.Is(err, ErrInvalidDealState) {
		t.Fatalf("invited deal: err = %v", err)
	}

	cancelled := f.acceptedDeal(t)
	if _, err := f.deals.Cancel(ctx, cancelled.ID, brandID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := f.settler.SettleDeal(ctx, cancelled.ID); !errors.Is(err, ErrInvalidDealState) {
		t.Fatalf("cancelled deal: err = %v", err)
	}

	if _, err := f.settler.SettleDeal(ctx, "missing"); !errors.Is(err, services.ErrDealNotFound) {
		t.Fatalf("missing deal: err = %v", err)
	}
	if calls, _ := f.gateway.stats(); calls != 0 {
		t.Fatalf("gateway called %d times", calls)
	}
}

func TestSettleInFlightPayment(t *testing.T) {
	f := newSettleFixture(t)
	ctx := context.Background()
	deal := f.acceptedDeal(t)
	f.onboardCreator(t)
	stuckPayment(t, f, deal)

	if _, err := f.settler.SettleDeal(ctx, deal.ID); !errors.Is(err, ErrSettlementAlreadyInFlight) {
		t.Fatalf("err = %v", err)
	}
	if _, err := f.deals.Cancel(ctx, deal.ID, brandID); !errors.Is(err, services.ErrSettlementInFlight) {
		t.Fatalf("cancel while processing: err = %v", err)
	}
}

func TestSettleDealForChecksBrand(t *testing.T) {
	f := newSettleFixture(t)
	ctx := context.Background()
	deal := f.acceptedDeal(t)
	f.onboardCreator(t)

	if _, err := f.settler.SettleDealFor(ctx, deal.ID, creatorID); !errors.Is(err, services.ErrForbidden) {
		t.Fatalf("creator settling: err = %v", err)
	}
	if _, err := f.settler.SettleDealFor(ctx, deal.ID, "stranger"); !errors.Is(err, services.ErrForbidden) {
		t.Fatalf("stranger settling: err = %v", err)
	}
	if _, err := f.settler.SettleDealFor(ctx, deal.ID, brandID); err != nil {
		t.Fatalf("brand settling: %v", err)
	}
}

func TestSettlePublishesEvents(t *testing.T) {
	f := newSettleFixture(t)
	ctx := context.Background()
	deal := f.acceptedDeal(t)
	f.onboardCreator(t)
	if ready, err := f.payouts.IsPayoutReady(ctx, creatorID); err != nil || !ready {
		t.Fatalf("IsPayoutReady = %v, %v", ready, err)
	}
	sub := f.hub.Subscribe(creatorID)
	defer sub.Close()

	if _, err := f.settler.SettleDeal(ctx, deal.ID); err != nil {
		t.Fatalf("SettleDeal: %v", err)
	}

	var got []events.Type
	for len(sub.C) > 0 {
		got = append(got, (<-sub.C).Type)
	}
	want := []events.Type{events.PaymentProcessing, events.PaymentPaid, events.DealCompleted}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestGetPayment(t *testing.T) {
	f := newSettleFixture(t)
	ctx := context.Background()
	deal := f.acceptedDeal(t)

	if _, err := f.settler.GetPayment(ctx, deal.ID, brandID); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("err = %v", err)
	}
	f.onboardCreator(t)
	if _, err := f.settler.SettleDeal(ctx, deal.ID); err != nil {
		t.Fatalf("SettleDeal: %v", err)
	}
	for _, who := range []string{brandID, creatorID} {
		p, err := f.settler.GetPayment(ctx, deal.ID, who)
		if err != nil || p.Status != models.PaymentPaid {
			t.Fatalf("GetPayment as %s = %+v, %v", who, p, err)
		}
	}
	if _, err := f.settler.GetPayment(ctx, deal.ID, "stranger"); !errors.Is(err, services.ErrForbidden) {
		t.Fatalf("err = %v", err)
	}
}

func TestIdempotencyKeyPerAttempt(t *testing.T) {
	if idempotencyKey("d1", 1) == idempotencyKey("d1", 2) {
		t.Fatalf("attempts must use distinct keys")
	}
	if idempotencyKey("d1", 1) != "settle-d1-1" {
		t.Fatalf("key = %s", idempotencyKey("d1", 1))
	}
}

// stuckPayment leaves deal with a payment claimed at f.now, as if the
// process died before calling the processor.
func stuckPayment(t *testing.T, f *settleFixture, deal *models.Deal) *models.Payment {
	t.Helper()
	ctx := context.Background()
	p := &models.Payment{
		ID:        "pay-" + deal.ID,
		DealID:    deal.ID,
		Amount:    deal.NetValue,
		Currency:  deal.Currency,
		Status:    models.PaymentPending,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	}
	err := f.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		_, err := tx.ClaimPayment(ctx, p.ID, f.now)
		return err
	})
	if err != nil {
		t.Fatalf("stuck payment: %v", err)
	}
	return p
}
