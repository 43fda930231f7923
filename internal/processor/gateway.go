// Package processor is the boundary to the external payment processor that
// moves money to creators and onboards their payout accounts.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type TransferRequest struct {
	Destination    string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	// Group tags every attempt for one deal so a transfer can be found
	// again after a crash.
	Group    string
	Metadata map[string]string
}

type Transfer struct {
	ID       string
	Group    string
	Amount   decimal.Decimal
	Currency string
	Reversed bool
}

type OnboardingLink struct {
	URL       string `json:"onboarding_url"`
	AccountID string `json:"account_id"`
}

type AccountStatus struct {
	AccountID          string
	OnboardingComplete bool
}

// Gateway is what the settlement engine needs from a processor.
type Gateway interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error)
	// FindTransfer looks up a transfer by group. ok is false when none exists.
	FindTransfer(ctx context.Context, group string) (t Transfer, ok bool, err error)
	// CreateOnboardingLink creates the payout account when accountID is
	// empty, otherwise refreshes a link for the existing account.
	CreateOnboardingLink(ctx context.Context, creatorID, accountID string) (OnboardingLink, error)
	GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error)
}

// Error is a failure reported by the processor. Message is the processor's
// own wording and is stored verbatim on failed payments.
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
	// Transient marks network, timeout and 5xx failures.
	Transient bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

const (
	CodeInsufficientBalance = "balance_insufficient"
	CodeAccountRestricted   = "account_restricted"
	CodeTimeout             = "timeout"
)

// IsTransient reports whether err is a processor failure worth retrying
// without any corrective action.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}
