// Package worker runs the periodic settlement housekeeping: resolving
// payments stuck in processing and syncing payout accounts that are still
// onboarding.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"CreatorDeals/internal/payments"
	"CreatorDeals/internal/store"

	"github.com/robfig/cron/v3"
)

type Worker struct {
	Settler    *payments.Settler
	Payouts    *payments.Gatekeeper
	Store      store.Reader
	Schedule   string
	StaleAfter time.Duration
	Log        *slog.Logger
}

type TickResult struct {
	Reconcile      payments.ReconcileReport
	AccountsSynced int
	AccountErrors  int
}

// Run runs a tick immediately and then on Schedule until ctx is done.
// Overlapping ticks are skipped.
func (w *Worker) Run(ctx context.Context) error {
	log := w.logger()
	cronLog := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))
	if _, err := c.AddFunc(w.Schedule, func() { w.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", w.Schedule, err)
	}

	w.Tick(ctx)
	c.Start()
	log.Info("worker started", "schedule", w.Schedule, "stale_after", w.StaleAfter.String())

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("worker stopped")
	return nil
}

// Tick performs one housekeeping pass.
func (w *Worker) Tick(ctx context.Context) TickResult {
	var res TickResult
	log := w.logger()

	report, err := w.Settler.Reconcile(ctx, w.StaleAfter)
	if err != nil {
		log.Error("reconcile failed", "error", err)
	}
	res.Reconcile = report
	if report.Checked > 0 {
		log.Info("reconcile done",
			"checked", report.Checked,
			"paid", report.Paid,
			"failed", report.Failed,
			"errors", report.Errors,
		)
	}

	accounts, err := w.Store.ListIncompletePayoutAccounts(ctx)
	if err != nil {
		log.Error("list payout accounts failed", "error", err)
		return res
	}
	for _, acct := range accounts {
		if ctx.Err() != nil {
			break
		}
		updated, err := w.Payouts.Refresh(ctx, acct)
		if err != nil {
			res.AccountErrors++
			log.Warn("payout account refresh failed", "creator_id", acct.CreatorID, "error", err)
			continue
		}
		if updated.OnboardingComplete {
			res.AccountsSynced++
		}
	}
	return res
}

func (w *Worker) logger() *slog.Logger {
	if w.Log == nil {
		return slog.Default()
	}
	return w.Log
}
