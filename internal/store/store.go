package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"CreatorDeals/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store is the Postgres-backed Repository.
type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const dealColumns = `id, campaign_id, creator_id, brand_id, source,
	gross_value::text, net_value::text, margin_rate::text, currency, status,
	creator_feedback, invited_at, responded_at, completed_at, cancelled_at,
	created_at, updated_at`

const paymentColumns = `id, deal_id, amount::text, currency, status,
	processor_reference, attempts, paid_at, failed_reason, created_at, updated_at`

const campaignColumns = `id, brand_id, total_budget::text, currency, created_at, updated_at`

const payoutColumns = `creator_id, processor_account_id, onboarding_complete,
	onboarding_url, created_at, updated_at`

func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

func (s *Store) GetDeal(ctx context.Context, dealID string) (*models.Deal, error) {
	return getDeal(ctx, s.Pool, dealID, false)
}

func (s *Store) ListDealsByCampaign(ctx context.Context, campaignID string) ([]*models.Deal, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+dealColumns+` FROM deals WHERE campaign_id=$1 ORDER BY created_at`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []*models.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, deal)
	}
	return deals, rows.Err()
}

func (s *Store) GetCampaign(ctx context.Context, campaignID string) (*models.Campaign, error) {
	return getCampaign(ctx, s.Pool, campaignID, false)
}

func (s *Store) AllocatedGross(ctx context.Context, campaignID string) (decimal.Decimal, error) {
	return allocatedGross(ctx, s.Pool, campaignID)
}

func (s *Store) GetPaymentByDeal(ctx context.Context, dealID string) (*models.Payment, error) {
	return getPaymentByDeal(ctx, s.Pool, dealID)
}

func (s *Store) ListPaymentsByStatus(ctx context.Context, status models.PaymentStatus, updatedBefore time.Time) ([]*models.Payment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status=$1 AND updated_at < $2
		ORDER BY updated_at
	`, status, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) CompletePayment(ctx context.Context, paymentID, reference string, paidAt time.Time) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE payments
		SET status='paid', processor_reference=$2, paid_at=$3, failed_reason=NULL, updated_at=$3
		WHERE id=$1 AND status IN ('processing','failed')
	`, paymentID, reference, paidAt)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) FailPayment(ctx context.Context, paymentID, reason string, at time.Time) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE payments
		SET status='failed', failed_reason=$2, updated_at=$3
		WHERE id=$1 AND status='processing'
	`, paymentID, reason, at)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) GetPayoutAccount(ctx context.Context, creatorID string) (*models.PayoutAccount, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_accounts WHERE creator_id=$1`, creatorID)
	acct, err := scanPayoutAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return acct, err
}

func (s *Store) ListIncompletePayoutAccounts(ctx context.Context) ([]*models.PayoutAccount, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+payoutColumns+` FROM payout_accounts WHERE NOT onboarding_complete`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.PayoutAccount
	for rows.Next() {
		acct, err := scanPayoutAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (s *Store) UpsertPayoutAccount(ctx context.Context, account *models.PayoutAccount) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payout_accounts (
			creator_id, processor_account_id, onboarding_complete,
			onboarding_url, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (creator_id) DO UPDATE SET
			processor_account_id=EXCLUDED.processor_account_id,
			onboarding_complete=EXCLUDED.onboarding_complete,
			onboarding_url=EXCLUDED.onboarding_url,
			updated_at=EXCLUDED.updated_at
	`,
		account.CreatorID,
		account.ProcessorAccountID,
		account.OnboardingComplete,
		nullString(account.OnboardingURL),
		account.CreatedAt,
		account.UpdatedAt,
	)
	return err
}

// pgTx implements Tx on an open pgx transaction.
type pgTx struct {
	q querier
}

func (t *pgTx) LockCampaign(ctx context.Context, campaignID string) (*models.Campaign, error) {
	return getCampaign(ctx, t.q, campaignID, true)
}

func (t *pgTx) UpsertCampaign(ctx context.Context, c *models.Campaign) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO campaigns (id, brand_id, total_budget, currency, created_at, updated_at)
		VALUES ($1,$2,$3::numeric,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			total_budget=EXCLUDED.total_budget,
			currency=EXCLUDED.currency,
			updated_at=EXCLUDED.updated_at
	`, c.ID, c.BrandID, c.TotalBudget.String(), c.Currency, c.CreatedAt, c.UpdatedAt)
	return err
}

func (t *pgTx) AllocatedGross(ctx context.Context, campaignID string) (decimal.Decimal, error) {
	return allocatedGross(ctx, t.q, campaignID)
}

func (t *pgTx) InsertDeal(ctx context.Context, d *models.Deal) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO deals (
			id, campaign_id, creator_id, brand_id, source,
			gross_value, net_value, margin_rate, currency, status,
			creator_feedback, invited_at, responded_at, completed_at, cancelled_at,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8::numeric,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		d.ID,
		d.CampaignID,
		d.CreatorID,
		d.BrandID,
		d.Source,
		d.GrossValue.String(),
		d.NetValue.String(),
		d.MarginRate.String(),
		d.Currency,
		d.Status,
		d.CreatorFeedback,
		d.InvitedAt,
		d.RespondedAt,
		d.CompletedAt,
		d.CancelledAt,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (t *pgTx) LockDeal(ctx context.Context, dealID string) (*models.Deal, error) {
	return getDeal(ctx, t.q, dealID, true)
}

func (t *pgTx) UpdateDealStatus(ctx context.Context, d *models.Deal, from models.DealStatus) (bool, error) {
	res, err := t.q.Exec(ctx, `
		UPDATE deals
		SET status=$3, creator_feedback=$4, responded_at=$5, completed_at=$6,
			cancelled_at=$7, updated_at=$8
		WHERE id=$1 AND status=$2
	`, d.ID, from, d.Status, d.CreatorFeedback, d.RespondedAt, d.CompletedAt, d.CancelledAt, d.UpdatedAt)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (t *pgTx) GetPaymentByDeal(ctx context.Context, dealID string) (*models.Payment, error) {
	return getPaymentByDeal(ctx, t.q, dealID)
}

func (t *pgTx) InsertPayment(ctx context.Context, p *models.Payment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO payments (
			id, deal_id, amount, currency, status, processor_reference,
			attempts, paid_at, failed_reason, created_at, updated_at
		) VALUES ($1,$2,$3::numeric,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		p.ID,
		p.DealID,
		p.Amount.String(),
		p.Currency,
		p.Status,
		p.ProcessorReference,
		p.Attempts,
		p.PaidAt,
		p.FailedReason,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (t *pgTx) ClaimPayment(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	res, err := t.q.Exec(ctx, `
		UPDATE payments
		SET status='processing', attempts=attempts+1, failed_reason=NULL, updated_at=$2
		WHERE id=$1 AND status IN ('pending','failed')
	`, paymentID, at)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func getDeal(ctx context.Context, q querier, dealID string, lock bool) (*models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	deal, err := scanDeal(q.QueryRow(ctx, query, dealID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return deal, err
}

func getCampaign(ctx context.Context, q querier, campaignID string, lock bool) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	var c models.Campaign
	var total string
	err := q.QueryRow(ctx, query, campaignID).Scan(
		&c.ID,
		&c.BrandID,
		&total,
		&c.Currency,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.TotalBudget, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("campaign %s total_budget: %w", campaignID, err)
	}
	return &c, nil
}

func allocatedGross(ctx context.Context, q querier, campaignID string) (decimal.Decimal, error) {
	statuses := make([]string, 0, len(models.BudgetStatuses))
	for _, s := range models.BudgetStatuses {
		statuses = append(statuses, string(s))
	}
	var sum string
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(gross_value), 0)::text
		FROM deals
		WHERE campaign_id=$1 AND status = ANY($2)
	`, campaignID, statuses).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(sum)
}

func getPaymentByDeal(ctx context.Context, q querier, dealID string) (*models.Payment, error) {
	p, err := scanPayment(q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE deal_id=$1`, dealID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanDeal(row pgx.Row) (*models.Deal, error) {
	var d models.Deal
	var gross, net, rate string
	var feedback sql.NullString
	var invitedAt, respondedAt, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&d.ID,
		&d.CampaignID,
		&d.CreatorID,
		&d.BrandID,
		&d.Source,
		&gross,
		&net,
		&rate,
		&d.Currency,
		&d.Status,
		&feedback,
		&invitedAt,
		&respondedAt,
		&completedAt,
		&cancelledAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if d.GrossValue, err = decimal.NewFromString(gross); err != nil {
		return nil, err
	}
	if d.NetValue, err = decimal.NewFromString(net); err != nil {
		return nil, err
	}
	if d.MarginRate, err = decimal.NewFromString(rate); err != nil {
		return nil, err
	}
	if feedback.Valid {
		d.CreatorFeedback = &feedback.String
	}
	d.InvitedAt = nullTime(invitedAt)
	d.RespondedAt = nullTime(respondedAt)
	d.CompletedAt = nullTime(completedAt)
	d.CancelledAt = nullTime(cancelledAt)
	return &d, nil
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	var amount string
	var reference, failedReason sql.NullString
	var paidAt sql.NullTime

	err := row.Scan(
		&p.ID,
		&p.DealID,
		&amount,
		&p.Currency,
		&p.Status,
		&reference,
		&p.Attempts,
		&paidAt,
		&failedReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if reference.Valid {
		p.ProcessorReference = &reference.String
	}
	if failedReason.Valid {
		p.FailedReason = &failedReason.String
	}
	p.PaidAt = nullTime(paidAt)
	return &p, nil
}

func scanPayoutAccount(row pgx.Row) (*models.PayoutAccount, error) {
	var a models.PayoutAccount
	var url sql.NullString
	if err := row.Scan(
		&a.CreatorID,
		&a.ProcessorAccountID,
		&a.OnboardingComplete,
		&url,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.OnboardingURL = url.String
	return &a, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
