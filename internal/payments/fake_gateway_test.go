package payments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CreatorDeals/internal/processor"
)

// fakeGateway numbers transfers tr_1, tr_2, ... and can fail, delay or
// lose the response of the next transfer.
type fakeGateway struct {
	mu          sync.Mutex
	transfers   []processor.Transfer
	byKey       map[string]processor.Transfer
	accounts    map[string]string
	complete    map[string]bool
	failures    []error
	lostReplies int
	delay       time.Duration
	calls       int
	statusErr   error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		byKey:    map[string]processor.Transfer{},
		accounts: map[string]string{},
		complete: map[string]bool{},
	}
}

func (g *fakeGateway) failNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = append(g.failures, err)
}

// loseNextReply creates the next transfer but reports a timeout, like a
// response lost on the network.
func (g *fakeGateway) loseNextReply() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lostReplies++
}

func (g *fakeGateway) onboard(creatorID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.accountFor(creatorID)
	g.complete[id] = true
	return id
}

func (g *fakeGateway) stats() (calls, transfers int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls, len(g.transfers)
}

func (g *fakeGateway) accountFor(creatorID string) string {
	id, ok := g.accounts[creatorID]
	if !ok {
		id = fmt.Sprintf("acct_%d", len(g.accounts)+1)
		g.accounts[creatorID] = id
	}
	return id
}

func (g *fakeGateway) CreateTransfer(ctx context.Context, req processor.TransferRequest) (processor.Transfer, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return processor.Transfer{}, &processor.Error{Code: processor.CodeTimeout, Message: ctx.Err().Error(), Transient: true, Cause: ctx.Err()}
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if t, ok := g.byKey[req.IdempotencyKey]; ok {
		return t, nil
	}
	if len(g.failures) > 0 {
		err := g.failures[0]
		g.failures = g.failures[1:]
		return processor.Transfer{}, err
	}
	t := processor.Transfer{
		ID:       fmt.Sprintf("tr_%d", len(g.transfers)+1),
		Group:    req.Group,
		Amount:   req.Amount,
		Currency: req.Currency,
	}
	g.transfers = append(g.transfers, t)
	g.byKey[req.IdempotencyKey] = t
	if g.lostReplies > 0 {
		g.lostReplies--
		return processor.Transfer{}, &processor.Error{Code: processor.CodeTimeout, Message: "request timed out", Transient: true}
	}
	return t, nil
}

func (g *fakeGateway) FindTransfer(ctx context.Context, group string) (processor.Transfer, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.transfers {
		if t.Group == group {
			return t, true, nil
		}
	}
	return processor.Transfer{}, false, nil
}

func (g *fakeGateway) CreateOnboardingLink(ctx context.Context, creatorID, accountID string) (processor.OnboardingLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if accountID == "" {
		accountID = g.accountFor(creatorID)
	}
	return processor.OnboardingLink{URL: "https://connect.test/" + accountID, AccountID: accountID}, nil
}

func (g *fakeGateway) GetAccountStatus(ctx context.Context, accountID string) (processor.AccountStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return processor.AccountStatus{}, g.statusErr
	}
	return processor.AccountStatus{AccountID: accountID, OnboardingComplete: g.complete[accountID]}, nil
}
