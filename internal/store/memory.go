package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"CreatorDeals/internal/models"

	"github.com/shopspring/decimal"
)

// Memory is an in-process Repository used for local runs and tests. A single
// mutex serializes transactions, which gives the same per-campaign and
// per-deal exclusion the Postgres row locks provide.
type Memory struct {
	mu   sync.Mutex
	data memData
}

type memData struct {
	campaigns     map[string]models.Campaign
	deals         map[string]models.Deal
	payments      map[string]models.Payment
	paymentByDeal map[string]string
	payouts       map[string]models.PayoutAccount
}

func NewMemory() *Memory {
	return &Memory{data: memData{
		campaigns:     map[string]models.Campaign{},
		deals:         map[string]models.Deal{},
		payments:      map[string]models.Payment{},
		paymentByDeal: map[string]string{},
		payouts:       map[string]models.PayoutAccount{},
	}}
}

func (d memData) clone() memData {
	return memData{
		campaigns:     maps.Clone(d.campaigns),
		deals:         maps.Clone(d.deals),
		payments:      maps.Clone(d.payments),
		paymentByDeal: maps.Clone(d.paymentByDeal),
		payouts:       maps.Clone(d.payouts),
	}
}

// InTx runs fn against a copy of the data and publishes it only if fn
// returns nil.
func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{data: m.data.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

func (m *Memory) GetDeal(ctx context.Context, dealID string) (*models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.deal(dealID)
}

func (m *Memory) ListDealsByCampaign(ctx context.Context, campaignID string) ([]*models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deals []*models.Deal
	for _, d := range m.data.deals {
		if d.CampaignID == campaignID {
			d := d
			deals = append(deals, &d)
		}
	}
	sort.Slice(deals, func(i, j int) bool {
		return deals[i].CreatedAt.Before(deals[j].CreatedAt)
	})
	return deals, nil
}

func (m *Memory) GetCampaign(ctx context.Context, campaignID string) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.campaign(campaignID)
}

func (m *Memory) AllocatedGross(ctx context.Context, campaignID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.allocated(campaignID), nil
}

func (m *Memory) GetPaymentByDeal(ctx context.Context, dealID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.paymentByDealID(dealID)
}

func (m *Memory) ListPaymentsByStatus(ctx context.Context, status models.PaymentStatus, updatedBefore time.Time) ([]*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Payment
	for _, p := range m.data.payments {
		if p.Status == status && p.UpdatedAt.Before(updatedBefore) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *Memory) CompletePayment(ctx context.Context, paymentID, reference string, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.data.payments[paymentID]
	if !ok || (p.Status != models.PaymentProcessing && p.Status != models.PaymentFailed) {
		return false, nil
	}
	p.Status = models.PaymentPaid
	p.ProcessorReference = &reference
	p.PaidAt = &paidAt
	p.FailedReason = nil
	p.UpdatedAt = paidAt
	m.data.payments[paymentID] = p
	return true, nil
}

func (m *Memory) FailPayment(ctx context.Context, paymentID, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.data.payments[paymentID]
	if !ok || p.Status != models.PaymentProcessing {
		return false, nil
	}
	p.Status = models.PaymentFailed
	p.FailedReason = &reason
	p.UpdatedAt = at
	m.data.payments[paymentID] = p
	return true, nil
}

func (m *Memory) GetPayoutAccount(ctx context.Context, creatorID string) (*models.PayoutAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.data.payouts[creatorID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *Memory) ListIncompletePayoutAccounts(ctx context.Context) ([]*models.PayoutAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.PayoutAccount
	for _, a := range m.data.payouts {
		if !a.OnboardingComplete {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

func (m *Memory) UpsertPayoutAccount(ctx context.Context, account *models.PayoutAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.data.payouts[account.CreatorID]; ok {
		account.CreatedAt = existing.CreatedAt
	}
	m.data.payouts[account.CreatorID] = *account
	return nil
}

type memTx struct {
	data memData
}

func (t *memTx) LockCampaign(ctx context.Context, campaignID string) (*models.Campaign, error) {
	return t.data.campaign(campaignID)
}

func (t *memTx) UpsertCampaign(ctx context.Context, c *models.Campaign) error {
	if existing, ok := t.data.campaigns[c.ID]; ok {
		c.CreatedAt = existing.CreatedAt
		c.BrandID = existing.BrandID
	}
	t.data.campaigns[c.ID] = *c
	return nil
}

func (t *memTx) AllocatedGross(ctx context.Context, campaignID string) (decimal.Decimal, error) {
	return t.data.allocated(campaignID), nil
}

func (t *memTx) InsertDeal(ctx context.Context, d *models.Deal) error {
	if _, ok := t.data.deals[d.ID]; ok {
		return ErrAlreadyExists
	}
	t.data.deals[d.ID] = *d
	return nil
}

func (t *memTx) LockDeal(ctx context.Context, dealID string) (*models.Deal, error) {
	return t.data.deal(dealID)
}

func (t *memTx) UpdateDealStatus(ctx context.Context, d *models.Deal, from models.DealStatus) (bool, error) {
	current, ok := t.data.deals[d.ID]
	if !ok || current.Status != from {
		return false, nil
	}
	current.Status = d.Status
	current.CreatorFeedback = d.CreatorFeedback
	current.RespondedAt = d.RespondedAt
	current.CompletedAt = d.CompletedAt
	current.CancelledAt = d.CancelledAt
	current.UpdatedAt = d.UpdatedAt
	t.data.deals[d.ID] = current
	return true, nil
}

func (t *memTx) GetPaymentByDeal(ctx context.Context, dealID string) (*models.Payment, error) {
	return t.data.paymentByDealID(dealID)
}

func (t *memTx) InsertPayment(ctx context.Context, p *models.Payment) error {
	if _, ok := t.data.paymentByDeal[p.DealID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := t.data.payments[p.ID]; ok {
		return ErrAlreadyExists
	}
	t.data.payments[p.ID] = *p
	t.data.paymentByDeal[p.DealID] = p.ID
	return nil
}

func (t *memTx) ClaimPayment(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	p, ok := t.data.payments[paymentID]
	if !ok || !p.Status.Claimable() {
		return false, nil
	}
	p.Status = models.PaymentProcessing
	p.Attempts++
	p.FailedReason = nil
	p.UpdatedAt = at
	t.data.payments[paymentID] = p
	return true, nil
}

func (d memData) deal(id string) (*models.Deal, error) {
	deal, ok := d.deals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &deal, nil
}

func (d memData) campaign(id string) (*models.Campaign, error) {
	c, ok := d.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (d memData) paymentByDealID(dealID string) (*models.Payment, error) {
	id, ok := d.paymentByDeal[dealID]
	if !ok {
		return nil, ErrNotFound
	}
	p := d.payments[id]
	return &p, nil
}

func (d memData) allocated(campaignID string) decimal.Decimal {
	sum := decimal.Zero
	for _, deal := range d.deals {
		if deal.CampaignID == campaignID && deal.Status.ReservesBudget() {
			sum = sum.Add(deal.GrossValue)
		}
	}
	return sum
}
