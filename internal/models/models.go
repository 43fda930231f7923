package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DealStatus string

const (
	DealPending   DealStatus = "pending"
	DealInvited   DealStatus = "invited"
	DealAccepted  DealStatus = "accepted"
	DealDeclined  DealStatus = "declined"
	DealCompleted DealStatus = "completed"
	DealCancelled DealStatus = "cancelled"
)

var dealTransitions = map[DealStatus][]DealStatus{
	DealPending:  {DealInvited},
	DealInvited:  {DealAccepted, DealDeclined},
	DealAccepted: {DealCompleted, DealCancelled},
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s DealStatus) CanTransition(next DealStatus) bool {
	for _, allowed := range dealTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s DealStatus) Terminal() bool {
	return len(dealTransitions[s]) == 0
}

// ReservesBudget reports whether deals in this status count against the
// campaign budget.
func (s DealStatus) ReservesBudget() bool {
	switch s {
	case DealInvited, DealAccepted, DealCompleted:
		return true
	}
	return false
}

// BudgetStatuses are the deal statuses summed into a campaign's allocation.
var BudgetStatuses = []DealStatus{DealInvited, DealAccepted, DealCompleted}

type DealSource string

const (
	SourceDirect   DealSource = "direct"
	SourceCampaign DealSource = "campaign"
)

type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// Status is the deal status a decision leads to.
func (d Decision) Status() DealStatus {
	if d == DecisionAccept {
		return DealAccepted
	}
	return DealDeclined
}

type Deal struct {
	ID              string          `json:"id"`
	CampaignID      string          `json:"campaign_id"`
	CreatorID       string          `json:"creator_id"`
	BrandID         string          `json:"brand_id"`
	Source          DealSource      `json:"source"`
	GrossValue      decimal.Decimal `json:"gross_value"`
	NetValue        decimal.Decimal `json:"net_value"`
	MarginRate      decimal.Decimal `json:"margin_rate"`
	Currency        string          `json:"currency"`
	Status          DealStatus      `json:"status"`
	CreatorFeedback *string         `json:"creator_feedback,omitempty"`
	InvitedAt       *time.Time      `json:"invited_at,omitempty"`
	RespondedAt     *time.Time      `json:"responded_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
)

// Claimable reports whether a settlement attempt may start from s.
func (s PaymentStatus) Claimable() bool {
	return s == PaymentPending || s == PaymentFailed
}

type Payment struct {
	ID                 string          `json:"id"`
	DealID             string          `json:"deal_id"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Status             PaymentStatus   `json:"status"`
	ProcessorReference *string         `json:"processor_reference,omitempty"`
	Attempts           int             `json:"attempts"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	FailedReason       *string         `json:"failed_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Campaign is the budget-bearing slice of a campaign owned by the campaign
// service.
type Campaign struct {
	ID          string          `json:"id"`
	BrandID     string          `json:"brand_id"`
	TotalBudget decimal.Decimal `json:"total_budget"`
	Currency    string          `json:"currency"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type CampaignBudget struct {
	CampaignID string          `json:"campaign_id"`
	Currency   string          `json:"currency"`
	Total      decimal.Decimal `json:"total"`
	Allocated  decimal.Decimal `json:"allocated"`
	Remaining  decimal.Decimal `json:"remaining"`
}

type PayoutAccount struct {
	CreatorID          string    `json:"creator_id"`
	ProcessorAccountID string    `json:"processor_account_id"`
	OnboardingComplete bool      `json:"onboarding_complete"`
	OnboardingURL      string    `json:"onboarding_url,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
