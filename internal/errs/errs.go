// Package errs provides the typed errors returned at the deal and settlement
// boundary so callers can branch on the kind of failure.
package errs

import (
	"errors"
	"fmt"
)

// Kind groups codes by how a caller is expected to react.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindConflict        Kind = "conflict"
	KindPrecondition    Kind = "precondition"
	KindExternal        Kind = "external"
	KindInternal        Kind = "internal"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInternal Code = "INTERNAL"

	// Validation
	CodeInvalidConfiguration Code = "INVALID_CONFIGURATION"
	CodeInvalidAmount        Code = "INVALID_AMOUNT"
	CodeInvalidCurrency      Code = "INVALID_CURRENCY"
	CodeAmountPrecision      Code = "AMOUNT_PRECISION"
	CodeCurrencyMismatch     Code = "CURRENCY_MISMATCH"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeFeedbackRequired     Code = "FEEDBACK_REQUIRED"

	// Lookup
	CodeDealNotFound          Code = "DEAL_NOT_FOUND"
	CodeCampaignNotFound      Code = "CAMPAIGN_NOT_FOUND"
	CodePaymentNotFound       Code = "PAYMENT_NOT_FOUND"
	CodePayoutAccountNotFound Code = "PAYOUT_ACCOUNT_NOT_FOUND"

	// Principal
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"

	// State conflicts
	CodeInvalidTransition         Code = "INVALID_TRANSITION"
	CodeInvalidDealState          Code = "INVALID_DEAL_STATE"
	CodeSettlementAlreadyInFlight Code = "SETTLEMENT_ALREADY_IN_FLIGHT"
	CodeSettlementInProgress      Code = "SETTLEMENT_IN_PROGRESS"
	CodePaymentNotSettled         Code = "PAYMENT_NOT_SETTLED"

	// Preconditions
	CodeBudgetExceeded           Code = "BUDGET_EXCEEDED"
	CodePayoutOnboardingRequired Code = "PAYOUT_ONBOARDING_REQUIRED"

	// Processor
	CodeTransferFailed       Code = "TRANSFER_FAILED"
	CodeProcessorUnavailable Code = "PROCESSOR_UNAVAILABLE"
)

var kinds = map[Code]Kind{
	CodeInternal:                  KindInternal,
	CodeInvalidConfiguration:      KindValidation,
	CodeInvalidAmount:             KindValidation,
	CodeInvalidCurrency:           KindValidation,
	CodeAmountPrecision:           KindValidation,
	CodeCurrencyMismatch:          KindValidation,
	CodeInvalidInput:              KindValidation,
	CodeFeedbackRequired:          KindValidation,
	CodeDealNotFound:              KindNotFound,
	CodeCampaignNotFound:          KindNotFound,
	CodePaymentNotFound:           KindNotFound,
	CodePayoutAccountNotFound:     KindNotFound,
	CodeUnauthenticated:           KindUnauthenticated,
	CodeForbidden:                 KindForbidden,
	CodeInvalidTransition:         KindConflict,
	CodeInvalidDealState:          KindConflict,
	CodeSettlementAlreadyInFlight: KindConflict,
	CodeSettlementInProgress:      KindConflict,
	CodePaymentNotSettled:         KindConflict,
	CodeBudgetExceeded:            KindPrecondition,
	CodePayoutOnboardingRequired:  KindPrecondition,
	CodeTransferFailed:            KindExternal,
	CodeProcessorUnavailable:      KindExternal,
}

// Kind returns the kind a code belongs to. Unknown codes are internal.
func (c Code) Kind() Kind {
	if k, ok := kinds[c]; ok {
		return k
	}
	return KindInternal
}

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithMetadata returns a copy of base carrying metadata. The copy still
// matches base under errors.Is.
func WithMetadata(base *Error, metadata map[string]string) *Error {
	return &Error{
		Code:     base.Code,
		Message:  base.Message,
		Metadata: metadata,
		Cause:    base.Cause,
	}
}

// Wrapf returns a copy of base with a formatted message suffix and cause.
func Wrapf(base *Error, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message + ": " + fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// KindOf returns the kind of err.
func KindOf(err error) Kind {
	return CodeOf(err).Kind()
}
