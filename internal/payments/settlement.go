package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"CreatorDeals/internal/errs"
	"CreatorDeals/internal/events"
	"CreatorDeals/internal/models"
	"CreatorDeals/internal/processor"
	"CreatorDeals/internal/services"
	"CreatorDeals/internal/store"

	"github.com/google/uuid"
)

var (
	ErrInvalidDealState          = errs.New(errs.CodeInvalidDealState, "deal must be accepted before settlement")
	ErrSettlementAlreadyInFlight = errs.New(errs.CodeSettlementAlreadyInFlight, "a settlement attempt is already in flight")
	ErrPayoutOnboardingRequired  = errs.New(errs.CodePayoutOnboardingRequired, "creator must complete payout onboarding")
	ErrTransferFailed            = errs.New(errs.CodeTransferFailed, "transfer failed")
	ErrPaymentNotFound           = errs.New(errs.CodePaymentNotFound, "payment not found")
)

// DefaultTransferTimeout bounds a single attempt's processor calls when
// Settler.TransferTimeout is unset.
const DefaultTransferTimeout = 30 * time.Second

// Settler moves an accepted deal's net value to its creator. At most one
// transfer per deal ever succeeds: the payment row keyed by deal id is
// claimed under the deal lock before the processor is called.
type Settler struct {
	Store      store.Repository
	Deals      services.DealService
	Gatekeeper *Gatekeeper
	Gateway    processor.Gateway
	Events     events.Publisher
	Log        *slog.Logger
	Now        func() time.Time

	// TransferTimeout caps how long one attempt waits on the processor.
	// Reconcile never touches a payment younger than this, so it cannot
	// write off an attempt whose transfer may still land.
	TransferTimeout time.Duration
}

// SettleDeal starts or resumes settlement of dealID. On a processor failure
// it returns the failed payment together with ErrTransferFailed; calling
// again retries.
func (s *Settler) SettleDeal(ctx context.Context, dealID string) (*models.Payment, error) {
	deal, err := s.Store.GetDeal(ctx, dealID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, services.ErrDealNotFound
		}
		return nil, err
	}

	payment, err := s.paymentByDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if payment != nil && payment.Status == models.PaymentPaid {
		s.ensureCompleted(ctx, deal)
		return payment, nil
	}
	if deal.Status != models.DealAccepted {
		return nil, errs.WithMetadata(ErrInvalidDealState, map[string]string{"status": string(deal.Status)})
	}
	if payment != nil && payment.Status == models.PaymentProcessing {
		return nil, ErrSettlementAlreadyInFlight
	}

	ready, err := s.Gatekeeper.IsPayoutReady(ctx, deal.CreatorID)
	if err != nil {
		return nil, err
	}
	if !ready {
		link, err := s.Gatekeeper.InitiateOnboarding(ctx, deal.CreatorID)
		if err != nil {
			return nil, err
		}
		return nil, errs.WithMetadata(ErrPayoutOnboardingRequired, map[string]string{
			"onboarding_url": link.URL,
			"account_id":     link.AccountID,
		})
	}
	acct, err := s.Store.GetPayoutAccount(ctx, deal.CreatorID)
	if err != nil {
		return nil, err
	}

	claimed, err := s.claim(ctx, deal)
	if err != nil {
		return nil, err
	}
	if claimed.Status == models.PaymentPaid {
		return claimed, nil
	}
	s.publish(events.PaymentProcessing, deal, claimed)

	return s.transfer(ctx, deal, claimed, acct.ProcessorAccountID)
}

// SettleDealFor settles on behalf of brandID, which must own the deal.
func (s *Settler) SettleDealFor(ctx context.Context, dealID, brandID string) (*models.Payment, error) {
	deal, err := s.Deals.GetDeal(ctx, dealID, brandID)
	if err != nil {
		return nil, err
	}
	if deal.BrandID != brandID {
		return nil, services.ErrForbidden
	}
	return s.SettleDeal(ctx, dealID)
}

// claim creates the payment on first use and moves it to processing. The
// returned payment is either processing (this caller owns the attempt) or
// paid (a concurrent caller already finished).
func (s *Settler) claim(ctx context.Context, deal *models.Deal) (*models.Payment, error) {
	now := nowFunc(s.Now)
	var out *models.Payment
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockDeal(ctx, deal.ID)
		if err != nil {
			return err
		}
		payment, err := tx.GetPaymentByDeal(ctx, deal.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if payment != nil && payment.Status == models.PaymentPaid {
			out = payment
			return nil
		}
		if locked.Status != models.DealAccepted {
			return errs.WithMetadata(ErrInvalidDealState, map[string]string{"status": string(locked.Status)})
		}
		if payment == nil {
			payment = &models.Payment{
				ID:        uuid.NewString(),
				DealID:    deal.ID,
				Amount:    locked.NetValue,
				Currency:  locked.Currency,
				Status:    models.PaymentPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.InsertPayment(ctx, payment); err != nil {
				return err
			}
		}

		ok, err := tx.ClaimPayment(ctx, payment.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSettlementAlreadyInFlight
		}
		payment.Status = models.PaymentProcessing
		payment.Attempts++
		payment.FailedReason = nil
		payment.UpdatedAt = now
		out = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Settler) transfer(ctx context.Context, deal *models.Deal, payment *models.Payment, destination string) (*models.Payment, error) {
	log := s.logger().With("deal_id", deal.ID, "payment_id", payment.ID, "attempt", payment.Attempts)

	callCtx, cancel := context.WithTimeout(ctx, s.transferTimeout())
	defer cancel()

	// A retry must not pay twice if an earlier attempt's transfer landed
	// after its payment was already written off.
	if payment.Attempts > 1 {
		existing, found, err := s.Gateway.FindTransfer(callCtx, deal.ID)
		if err != nil {
			return s.fail(ctx, deal, payment, err)
		}
		if found {
			log.Warn("transfer from earlier attempt found, recording it", "transfer_id", existing.ID)
			return s.complete(ctx, deal, payment, existing.ID)
		}
	}

	t, err := s.Gateway.CreateTransfer(callCtx, processor.TransferRequest{
		Destination:    destination,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		IdempotencyKey: idempotencyKey(deal.ID, payment.Attempts),
		Group:          deal.ID,
		Metadata: map[string]string{
			"deal_id":     deal.ID,
			"payment_id":  payment.ID,
			"campaign_id": deal.CampaignID,
		},
	})
	if err != nil {
		return s.fail(ctx, deal, payment, err)
	}
	log.Info("transfer created", "transfer_id", t.ID, "amount", payment.Amount.String(), "currency", payment.Currency)
	return s.complete(ctx, deal, payment, t.ID)
}

func (s *Settler) complete(ctx context.Context, deal *models.Deal, payment *models.Payment, reference string) (*models.Payment, error) {
	// The transfer already happened; record it even if the caller went away.
	ctx = context.WithoutCancel(ctx)
	now := nowFunc(s.Now)
	ok, err := s.Store.CompletePayment(ctx, payment.ID, reference, now)
	if err != nil {
		return nil, fmt.Errorf("record transfer %s for deal %s: %w", reference, deal.ID, err)
	}
	if !ok {
		s.logger().Warn("payment left processing before transfer was recorded",
			"deal_id", deal.ID, "payment_id", payment.ID, "transfer_id", reference)
	}

	paid, err := s.paymentByDeal(ctx, deal.ID)
	if err != nil {
		return nil, err
	}
	if paid == nil {
		return nil, ErrPaymentNotFound
	}
	if paid.Status == models.PaymentPaid {
		s.publish(events.PaymentPaid, deal, paid)
		s.ensureCompleted(ctx, deal)
	}
	return paid, nil
}

func (s *Settler) fail(ctx context.Context, deal *models.Deal, payment *models.Payment, cause error) (*models.Payment, error) {
	ctx = context.WithoutCancel(ctx)
	reason := failureReason(cause)
	s.logger().Error("transfer failed",
		"deal_id", deal.ID,
		"payment_id", payment.ID,
		"attempt", payment.Attempts,
		"transient", processor.IsTransient(cause),
		"error", reason,
	)

	now := nowFunc(s.Now)
	if _, err := s.Store.FailPayment(ctx, payment.ID, reason, now); err != nil {
		return nil, fmt.Errorf("record failed transfer for deal %s: %w", deal.ID, err)
	}
	failed, err := s.paymentByDeal(ctx, deal.ID)
	if err != nil {
		return nil, err
	}
	if failed != nil {
		s.publish(events.PaymentFailed, deal, failed)
	}
	return failed, errs.Wrap(ErrTransferFailed.Code, ErrTransferFailed.Message, cause)
}

// ensureCompleted moves the deal to completed once its payment is paid. A
// failure here is healed by the next SettleDeal or reconciliation pass.
func (s *Settler) ensureCompleted(ctx context.Context, deal *models.Deal) {
	if deal.Status == models.DealCompleted {
		return
	}
	if _, err := s.Deals.MarkCompleted(ctx, deal.ID); err != nil {
		s.logger().Error("mark deal completed failed", "deal_id", deal.ID, "error", err)
	}
}

// GetPayment returns the payment of dealID for either party of the deal.
func (s *Settler) GetPayment(ctx context.Context, dealID, principal string) (*models.Payment, error) {
	if _, err := s.Deals.GetDeal(ctx, dealID, principal); err != nil {
		return nil, err
	}
	payment, err := s.paymentByDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Settler) paymentByDeal(ctx context.Context, dealID string) (*models.Payment, error) {
	p, err := s.Store.GetPaymentByDeal(ctx, dealID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (s *Settler) publish(t events.Type, d *models.Deal, p *models.Payment) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(events.Event{
		Type:          t,
		DealID:        d.ID,
		CampaignID:    d.CampaignID,
		CreatorID:     d.CreatorID,
		BrandID:       d.BrandID,
		PaymentStatus: string(p.Status),
		At:            p.UpdatedAt,
	})
}

func (s *Settler) transferTimeout() time.Duration {
	if s.TransferTimeout > 0 {
		return s.TransferTimeout
	}
	return DefaultTransferTimeout
}

func (s *Settler) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// failureReason is the processor's own message when there is one.
func failureReason(err error) string {
	var pe *processor.Error
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return err.Error()
}

// idempotencyKey scopes the processor's replay protection to one attempt so
// that a retry after a recorded failure is not answered from the cache.
func idempotencyKey(dealID string, attempt int) string {
	return fmt.Sprintf("settle-%s-%d", dealID, attempt)
}
