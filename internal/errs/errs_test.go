package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	base := New(CodeBudgetExceeded, "campaign budget exceeded")

	withMD := WithMetadata(base, map[string]string{"remaining": "400"})
	if !errors.Is(withMD, base) {
		t.Fatalf("metadata copy should match its base")
	}
	if base.Metadata != nil {
		t.Fatalf("WithMetadata must not mutate the base error")
	}

	wrapped := fmt.Errorf("create deal: %w", withMD)
	if !errors.Is(wrapped, base) {
		t.Fatalf("wrapped error should match base")
	}
	if errors.Is(wrapped, New(CodeDealNotFound, "deal not found")) {
		t.Fatalf("different codes must not match")
	}
}

func TestWrapfKeepsCodeAndCause(t *testing.T) {
	base := New(CodeProcessorUnavailable, "payment processor request failed")
	cause := errors.New("dial tcp: timeout")

	err := Wrapf(base, cause, "create onboarding link")
	if err.Code != CodeProcessorUnavailable {
		t.Fatalf("code = %s", err.Code)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause should be reachable through Unwrap")
	}
	want := "payment processor request failed: create onboarding link: dial tcp: timeout"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{New(CodeInvalidAmount, "x"), KindValidation},
		{New(CodeDealNotFound, "x"), KindNotFound},
		{fmt.Errorf("ctx: %w", New(CodeSettlementAlreadyInFlight, "x")), KindConflict},
		{New(CodePayoutOnboardingRequired, "x"), KindPrecondition},
		{New(CodeTransferFailed, "x"), KindExternal},
		{errors.New("plain"), KindInternal},
		{New(Code("SOMETHING_NEW"), "x"), KindInternal},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestAs(t *testing.T) {
	if _, ok := As(errors.New("plain")); ok {
		t.Fatalf("plain error is not a domain error")
	}
	e, ok := As(fmt.Errorf("outer: %w", New(CodeForbidden, "no")))
	if !ok || e.Code != CodeForbidden {
		t.Fatalf("As = %v, %v", e, ok)
	}
}
