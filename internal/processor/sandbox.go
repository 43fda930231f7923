package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Sandbox is an in-process Gateway for local runs and tests. It honours
// idempotency keys the way a real processor does and lets callers inject
// failures.
type Sandbox struct {
	// AutoOnboard reports every account as onboarded once it exists.
	AutoOnboard bool

	mu            sync.Mutex
	transfers     map[string]Transfer // by id
	byKey         map[string]string   // idempotency key -> transfer id
	accounts      map[string]string   // creator -> account id
	onboarded     map[string]bool     // account id -> complete
	failures      []error
	transferCalls int
	linkCalls     int
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		transfers: map[string]Transfer{},
		byKey:     map[string]string{},
		accounts:  map[string]string{},
		onboarded: map[string]bool{},
	}
}

// FailNext queues err to be returned by the next CreateTransfer call.
func (s *Sandbox) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

// CompleteOnboarding marks accountID as ready for payouts.
func (s *Sandbox) CompleteOnboarding(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onboarded[accountID] = true
}

// TransferCalls returns how many CreateTransfer calls reached the sandbox.
func (s *Sandbox) TransferCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferCalls
}

// Transfers returns how many distinct transfers were created.
func (s *Sandbox) Transfers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

func (s *Sandbox) CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error) {
	if err := ctx.Err(); err != nil {
		return Transfer{}, &Error{Code: CodeTimeout, Message: err.Error(), Transient: true, Cause: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferCalls++

	if id, ok := s.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return s.transfers[id], nil
	}
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return Transfer{}, err
	}
	if !s.accountKnown(req.Destination) {
		return Transfer{}, &Error{Code: "resource_missing", Message: fmt.Sprintf("no such destination: %s", req.Destination), HTTPStatus: 400}
	}

	t := Transfer{
		ID:       "tr_" + uuid.NewString(),
		Group:    req.Group,
		Amount:   req.Amount,
		Currency: req.Currency,
	}
	s.transfers[t.ID] = t
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = t.ID
	}
	return t, nil
}

func (s *Sandbox) FindTransfer(ctx context.Context, group string) (Transfer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transfers {
		if t.Group == group && !t.Reversed {
			return t, true, nil
		}
	}
	return Transfer{}, false, nil
}

func (s *Sandbox) CreateOnboardingLink(ctx context.Context, creatorID, accountID string) (OnboardingLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkCalls++

	if accountID == "" {
		accountID = s.accounts[creatorID]
	}
	if accountID == "" {
		accountID = "acct_" + uuid.NewString()
		s.accounts[creatorID] = accountID
	}
	return OnboardingLink{
		URL:       fmt.Sprintf("https://sandbox.invalid/onboarding/%s?attempt=%d", accountID, s.linkCalls),
		AccountID: accountID,
	}, nil
}

func (s *Sandbox) GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accountKnown(accountID) {
		return AccountStatus{}, &Error{Code: "resource_missing", Message: fmt.Sprintf("no such account: %s", accountID), HTTPStatus: 404}
	}
	return AccountStatus{
		AccountID:          accountID,
		OnboardingComplete: s.AutoOnboard || s.onboarded[accountID],
	}, nil
}

func (s *Sandbox) accountKnown(accountID string) bool {
	for _, id := range s.accounts {
		if id == accountID {
			return true
		}
	}
	return false
}
