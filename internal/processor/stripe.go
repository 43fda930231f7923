package processor

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"CreatorDeals/internal/pricing"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Stripe moves money with Stripe Connect: creators hold Express accounts and
// receive transfers from the platform balance.
type Stripe struct {
	API        *client.API
	RefreshURL string
	ReturnURL  string
}

func NewStripe(secretKey, refreshURL, returnURL string) *Stripe {
	return &Stripe{
		API:        client.New(secretKey, nil),
		RefreshURL: refreshURL,
		ReturnURL:  returnURL,
	}
}

func (s *Stripe) CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error) {
	amount, err := pricing.ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return Transfer{}, err
	}
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Destination:   stripe.String(req.Destination),
		TransferGroup: stripe.String(req.Group),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	t, err := s.API.Transfers.New(params)
	if err != nil {
		return Transfer{}, classify(err)
	}
	return fromStripeTransfer(t), nil
}

func (s *Stripe) FindTransfer(ctx context.Context, group string) (Transfer, bool, error) {
	params := &stripe.TransferListParams{TransferGroup: stripe.String(group)}
	params.Context = ctx

	it := s.API.Transfers.List(params)
	for it.Next() {
		t := it.Transfer()
		if t == nil || t.Reversed {
			continue
		}
		return fromStripeTransfer(t), true, nil
	}
	if err := it.Err(); err != nil {
		return Transfer{}, false, classify(err)
	}
	return Transfer{}, false, nil
}

func (s *Stripe) CreateOnboardingLink(ctx context.Context, creatorID, accountID string) (OnboardingLink, error) {
	if accountID == "" {
		params := &stripe.AccountParams{
			Type: stripe.String(string(stripe.AccountTypeExpress)),
			Capabilities: &stripe.AccountCapabilitiesParams{
				Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
			},
		}
		params.Context = ctx
		// One account per creator even if the first response was lost.
		params.SetIdempotencyKey("payout-account-" + creatorID)
		params.AddMetadata("creator_id", creatorID)

		acct, err := s.API.Accounts.New(params)
		if err != nil {
			return OnboardingLink{}, classify(err)
		}
		accountID = acct.ID
	}

	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(s.RefreshURL),
		ReturnURL:  stripe.String(s.ReturnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx
	link, err := s.API.AccountLinks.New(params)
	if err != nil {
		return OnboardingLink{}, classify(err)
	}
	return OnboardingLink{URL: link.URL, AccountID: accountID}, nil
}

func (s *Stripe) GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := s.API.Accounts.GetByID(accountID, params)
	if err != nil {
		return AccountStatus{}, classify(err)
	}
	return AccountStatus{
		AccountID:          acct.ID,
		OnboardingComplete: acct.DetailsSubmitted && acct.PayoutsEnabled,
	}, nil
}

func fromStripeTransfer(t *stripe.Transfer) Transfer {
	currency := strings.ToUpper(string(t.Currency))
	amount := decimal.NewFromInt(t.Amount)
	if places, err := pricing.MinorUnits(currency); err == nil {
		amount = amount.Shift(-places)
	}
	return Transfer{
		ID:       t.ID,
		Group:    t.TransferGroup,
		Amount:   amount,
		Currency: currency,
		Reversed: t.Reversed,
	}
}

func classify(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return &Error{Code: CodeTimeout, Message: err.Error(), Transient: true, Cause: err}
	}
	pe := &Error{
		Code:       string(se.Code),
		Message:    se.Msg,
		HTTPStatus: se.HTTPStatusCode,
		Cause:      err,
	}
	if pe.Message == "" {
		pe.Message = err.Error()
	}
	switch {
	case se.HTTPStatusCode >= http.StatusInternalServerError,
		se.HTTPStatusCode == http.StatusTooManyRequests,
		se.Type == stripe.ErrorTypeAPI:
		pe.Transient = true
	}
	if pe.Code == "" && se.HTTPStatusCode == http.StatusForbidden {
		pe.Code = CodeAccountRestricted
	}
	return pe
}
