package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"CreatorDeals/internal/errs"
	"CreatorDeals/internal/events"
	"CreatorDeals/internal/models"
	"CreatorDeals/internal/pricing"
	"CreatorDeals/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingPrincipal   = errs.New(errs.CodeUnauthenticated, "missing user id")
	ErrForbidden          = errs.New(errs.CodeForbidden, "caller is not a party to this resource")
	ErrInvalidInput       = errs.New(errs.CodeInvalidInput, "invalid input")
	ErrCurrencyMismatch   = errs.New(errs.CodeCurrencyMismatch, "currency does not match campaign currency")
	ErrFeedbackRequired   = errs.New(errs.CodeFeedbackRequired, "declining a deal requires feedback")
	ErrCampaignNotFound   = errs.New(errs.CodeCampaignNotFound, "campaign not found")
	ErrDealNotFound       = errs.New(errs.CodeDealNotFound, "deal not found")
	ErrBudgetExceeded     = errs.New(errs.CodeBudgetExceeded, "campaign budget exceeded")
	ErrInvalidTransition  = errs.New(errs.CodeInvalidTransition, "deal status does not allow this transition")
	ErrSettlementInFlight = errs.New(errs.CodeSettlementInProgress, "deal has a payment in progress or paid")
	ErrPaymentNotSettled  = errs.New(errs.CodePaymentNotSettled, "deal payment has not been paid")
)

type DealService struct {
	Store   store.Repository
	Pricing pricing.Service
	Events  events.Publisher
	Now     func() time.Time
}

type CreateDealInput struct {
	CampaignID string
	CreatorID  string
	BrandID    string
	GrossValue decimal.Decimal
	Currency   string
	Source     models.DealSource
}

func (s DealService) CreateDeal(ctx context.Context, in CreateDealInput) (*models.Deal, error) {
	if in.BrandID == "" {
		return nil, ErrMissingPrincipal
	}
	in.CampaignID = strings.TrimSpace(in.CampaignID)
	in.CreatorID = strings.TrimSpace(in.CreatorID)
	if in.CampaignID == "" || in.CreatorID == "" {
		return nil, errs.Wrapf(ErrInvalidInput, nil, "campaign id and creator id are required")
	}
	if in.CreatorID == in.BrandID {
		return nil, errs.Wrapf(ErrInvalidInput, nil, "brand cannot invite itself")
	}
	switch in.Source {
	case "":
		in.Source = models.SourceDirect
	case models.SourceDirect, models.SourceCampaign:
	default:
		return nil, errs.Wrapf(ErrInvalidInput, nil, "unknown deal source %q", in.Source)
	}
	currency := pricing.NormalizeCurrency(in.Currency)
	if err := pricing.ValidAmount(in.GrossValue, currency); err != nil {
		return nil, err
	}
	if !in.GrossValue.IsPositive() {
		return nil, errs.Wrapf(pricing.ErrNegativeAmount, nil, "gross value must be positive")
	}

	quote, err := s.Pricing.Quote(in.GrossValue, currency)
	if err != nil {
		return nil, err
	}

	now := nowFunc(s.Now)
	deal := &models.Deal{
		ID:         uuid.NewString(),
		CampaignID: in.CampaignID,
		CreatorID:  in.CreatorID,
		BrandID:    in.BrandID,
		Source:     in.Source,
		GrossValue: quote.Gross,
		NetValue:   quote.Net,
		MarginRate: quote.MarginRate,
		Currency:   quote.Currency,
		Status:     models.DealInvited,
		InvitedAt:  &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.Store.InTx(ctx, func(tx store.Tx) error {
		campaign, err := tx.LockCampaign(ctx, in.CampaignID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrCampaignNotFound
			}
			return err
		}
		if campaign.BrandID != in.BrandID {
			return ErrForbidden
		}
		if campaign.Currency != deal.Currency {
			return ErrCurrencyMismatch
		}
		allocated, err := tx.AllocatedGross(ctx, in.CampaignID)
		if err != nil {
			return err
		}
		budget := budgetOf(campaign, allocated)
		if !canAllocate(budget, deal.GrossValue) {
			return errs.WithMetadata(ErrBudgetExceeded, map[string]string{
				"total":     budget.Total.String(),
				"allocated": budget.Allocated.String(),
				"remaining": budget.Remaining.String(),
				"requested": deal.GrossValue.String(),
			})
		}
		return tx.InsertDeal(ctx, deal)
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.DealCreated, deal)
	return deal, nil
}

// Respond records the creator's decision on an invitation. Repeating the
// decision already recorded is a no-op so retried requests succeed.
func (s DealService) Respond(ctx context.Context, dealID, creatorID string, decision models.Decision, feedback string) (*models.Deal, error) {
	if creatorID == "" {
		return nil, ErrMissingPrincipal
	}
	if decision != models.DecisionAccept && decision != models.DecisionDecline {
		return nil, errs.Wrapf(ErrInvalidInput, nil, "decision must be accept or decline")
	}
	feedback = strings.TrimSpace(feedback)

	now := nowFunc(s.Now)
	var (
		out     *models.Deal
		changed bool
	)
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		deal, err := s.lockDeal(ctx, tx, dealID)
		if err != nil {
			return err
		}
		if deal.CreatorID != creatorID {
			return ErrForbidden
		}
		target := decision.Status()
		if deal.Status == target {
			out = deal
			return nil
		}
		if deal.Status != models.DealInvited {
			return errs.WithMetadata(ErrInvalidTransition, map[string]string{
				"from": string(deal.Status),
				"to":   string(target),
			})
		}
		if decision == models.DecisionDecline && feedback == "" {
			return ErrFeedbackRequired
		}

		deal.Status = target
		deal.RespondedAt = &now
		deal.UpdatedAt = now
		if decision == models.DecisionDecline {
			deal.CreatorFeedback = &feedback
		}
		if err := s.transition(ctx, tx, deal, models.DealInvited); err != nil {
			return err
		}
		out, changed = deal, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(events.DealResponded, out)
	}
	return out, nil
}

// Cancel withdraws an accepted deal. It is refused once money is moving.
func (s DealService) Cancel(ctx context.Context, dealID, brandID string) (*models.Deal, error) {
	if brandID == "" {
		return nil, ErrMissingPrincipal
	}

	now := nowFunc(s.Now)
	var out *models.Deal
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		deal, err := s.lockDeal(ctx, tx, dealID)
		if err != nil {
			return err
		}
		if deal.BrandID != brandID {
			return ErrForbidden
		}
		if deal.Status != models.DealAccepted {
			return errs.WithMetadata(ErrInvalidTransition, map[string]string{
				"from": string(deal.Status),
				"to":   string(models.DealCancelled),
			})
		}
		payment, err := tx.GetPaymentByDeal(ctx, dealID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if payment != nil && (payment.Status == models.PaymentProcessing || payment.Status == models.PaymentPaid) {
			return errs.WithMetadata(ErrSettlementInFlight, map[string]string{
				"payment_status": string(payment.Status),
			})
		}

		deal.Status = models.DealCancelled
		deal.CancelledAt = &now
		deal.UpdatedAt = now
		if err := s.transition(ctx, tx, deal, models.DealAccepted); err != nil {
			return err
		}
		out = deal
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.DealCancelled, out)
	return out, nil
}

// MarkCompleted closes an accepted deal whose payment has been paid. Only
// the settlement flow calls it.
func (s DealService) MarkCompleted(ctx context.Context, dealID string) (*models.Deal, error) {
	now := nowFunc(s.Now)
	var (
		out     *models.Deal
		changed bool
	)
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		deal, err := s.lockDeal(ctx, tx, dealID)
		if err != nil {
			return err
		}
		if deal.Status == models.DealCompleted {
			out = deal
			return nil
		}
		if deal.Status != models.DealAccepted {
			return errs.WithMetadata(ErrInvalidTransition, map[string]string{
				"from": string(deal.Status),
				"to":   string(models.DealCompleted),
			})
		}
		payment, err := tx.GetPaymentByDeal(ctx, dealID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if payment == nil || payment.Status != models.PaymentPaid {
			return ErrPaymentNotSettled
		}

		deal.Status = models.DealCompleted
		deal.CompletedAt = &now
		deal.UpdatedAt = now
		if err := s.transition(ctx, tx, deal, models.DealAccepted); err != nil {
			return err
		}
		out, changed = deal, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(events.DealCompleted, out)
	}
	return out, nil
}

func (s DealService) GetDeal(ctx context.Context, dealID, principal string) (*models.Deal, error) {
	if principal == "" {
		return nil, ErrMissingPrincipal
	}
	deal, err := s.Store.GetDeal(ctx, dealID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	if deal.BrandID != principal && deal.CreatorID != principal {
		return nil, ErrForbidden
	}
	return deal, nil
}

func (s DealService) ListCampaignDeals(ctx context.Context, campaignID, brandID string) ([]*models.Deal, error) {
	if brandID == "" {
		return nil, ErrMissingPrincipal
	}
	campaign, err := s.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	if campaign.BrandID != brandID {
		return nil, ErrForbidden
	}
	return s.Store.ListDealsByCampaign(ctx, campaignID)
}

func (s DealService) lockDeal(ctx context.Context, tx store.Tx, dealID string) (*models.Deal, error) {
	deal, err := tx.LockDeal(ctx, dealID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	return deal, nil
}

// transition persists deal's new status, guarded on the status it was
// loaded with.
func (s DealService) transition(ctx context.Context, tx store.Tx, deal *models.Deal, from models.DealStatus) error {
	if !from.CanTransition(deal.Status) {
		return ErrInvalidTransition
	}
	ok, err := tx.UpdateDealStatus(ctx, deal, from)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	return nil
}

func (s DealService) publish(t events.Type, d *models.Deal) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(events.Event{
		Type:       t,
		DealID:     d.ID,
		CampaignID: d.CampaignID,
		CreatorID:  d.CreatorID,
		BrandID:    d.BrandID,
		DealStatus: string(d.Status),
		At:         d.UpdatedAt,
	})
}
