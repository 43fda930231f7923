package store

import (
	"context"
	"errors"
	"time"

	"CreatorDeals/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// Reader is the read side shared by the Postgres and in-memory stores.
type Reader interface {
	GetDeal(ctx context.Context, dealID string) (*models.Deal, error)
	ListDealsByCampaign(ctx context.Context, campaignID string) ([]*models.Deal, error)
	GetCampaign(ctx context.Context, campaignID string) (*models.Campaign, error)
	AllocatedGross(ctx context.Context, campaignID string) (decimal.Decimal, error)
	GetPaymentByDeal(ctx context.Context, dealID string) (*models.Payment, error)
	ListPaymentsByStatus(ctx context.Context, status models.PaymentStatus, updatedBefore time.Time) ([]*models.Payment, error)
	GetPayoutAccount(ctx context.Context, creatorID string) (*models.PayoutAccount, error)
	ListIncompletePayoutAccounts(ctx context.Context) ([]*models.PayoutAccount, error)
}

// Tx is the unit of work handed to Repository.InTx. Rows returned by the
// Lock* methods stay locked until the transaction ends.
type Tx interface {
	LockCampaign(ctx context.Context, campaignID string) (*models.Campaign, error)
	UpsertCampaign(ctx context.Context, campaign *models.Campaign) error
	AllocatedGross(ctx context.Context, campaignID string) (decimal.Decimal, error)
	InsertDeal(ctx context.Context, deal *models.Deal) error

	LockDeal(ctx context.Context, dealID string) (*models.Deal, error)
	// UpdateDealStatus writes deal's status, timestamps and feedback only if
	// the stored status still equals from.
	UpdateDealStatus(ctx context.Context, deal *models.Deal, from models.DealStatus) (bool, error)

	GetPaymentByDeal(ctx context.Context, dealID string) (*models.Payment, error)
	InsertPayment(ctx context.Context, payment *models.Payment) error
	// ClaimPayment moves a pending or failed payment to processing and
	// bumps its attempt counter. It reports false if another caller won.
	ClaimPayment(ctx context.Context, paymentID string, at time.Time) (bool, error)
}

// Repository is the persistence surface of the deal and settlement services.
type Repository interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// FailPayment only applies to processing payments. CompletePayment also
	// accepts failed ones so a transfer that landed late is still recorded.
	CompletePayment(ctx context.Context, paymentID, reference string, paidAt time.Time) (bool, error)
	FailPayment(ctx context.Context, paymentID, reason string, at time.Time) (bool, error)

	UpsertPayoutAccount(ctx context.Context, account *models.PayoutAccount) error
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*Memory)(nil)
)
