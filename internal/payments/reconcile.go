package payments

import (
	"context"
	"errors"
	"time"

	"CreatorDeals/internal/events"
	"CreatorDeals/internal/models"
	"CreatorDeals/internal/store"
)

// ReconcileReason is recorded on payments that were stuck in processing
// without any transfer at the processor.
const ReconcileReason = "reconciliation: no transfer recorded"

// reconcileMargin covers the gap between a transfer call timing out and its
// attempt recording the outcome.
const reconcileMargin = time.Minute

type ReconcileReport struct {
	Checked int
	Paid    int
	Failed  int
	Errors  int
}

// Reconcile resolves payments left in processing for longer than staleAfter,
// which happens when a settlement attempt dies between the claim and
// recording the outcome. A transfer found at the processor is recorded as
// paid; otherwise the payment is failed so SettleDeal can retry it.
//
// staleAfter is raised to the transfer timeout plus a margin when shorter:
// an attempt still inside its processor call must not be failed, or its
// retry could pay the deal a second time.
func (s *Settler) Reconcile(ctx context.Context, staleAfter time.Duration) (ReconcileReport, error) {
	var report ReconcileReport
	if floor := s.transferTimeout() + reconcileMargin; staleAfter < floor {
		s.logger().Warn("reconcile: stale_after below transfer timeout, raising it",
			"stale_after", staleAfter.String(), "used", floor.String())
		staleAfter = floor
	}
	cutoff := nowFunc(s.Now).Add(-staleAfter)
	stale, err := s.Store.ListPaymentsByStatus(ctx, models.PaymentProcessing, cutoff)
	if err != nil {
		return report, err
	}

	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		log := s.logger().With("deal_id", p.DealID, "payment_id", p.ID)

		deal, err := s.Store.GetDeal(ctx, p.DealID)
		if err != nil {
			report.Errors++
			log.Error("reconcile: load deal", "error", err)
			continue
		}
		t, found, err := s.Gateway.FindTransfer(ctx, p.DealID)
		if err != nil {
			report.Errors++
			log.Error("reconcile: find transfer", "error", err)
			continue
		}

		if found {
			if _, err := s.complete(ctx, deal, p, t.ID); err != nil {
				report.Errors++
				log.Error("reconcile: record transfer", "transfer_id", t.ID, "error", err)
				continue
			}
			report.Paid++
			log.Info("reconcile: recorded transfer", "transfer_id", t.ID)
			continue
		}

		ok, err := s.Store.FailPayment(ctx, p.ID, ReconcileReason, nowFunc(s.Now))
		if err != nil {
			report.Errors++
			log.Error("reconcile: fail payment", "error", err)
			continue
		}
		if !ok {
			// Finished by its own attempt in the meantime.
			continue
		}
		report.Failed++
		log.Warn("reconcile: no transfer found, payment failed")
		if failed, err := s.Store.GetPaymentByDeal(ctx, p.DealID); err == nil {
			s.publish(events.PaymentFailed, deal, failed)
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Error("reconcile: reload payment", "error", err)
		}
	}
	return report, nil
}
