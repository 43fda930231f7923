package events

import (
	"sync"
	"time"
)

type Type string

const (
	DealCreated       Type = "deal.created"
	DealResponded     Type = "deal.responded"
	DealCancelled     Type = "deal.cancelled"
	DealCompleted     Type = "deal.completed"
	PaymentProcessing Type = "payment.processing"
	PaymentPaid       Type = "payment.paid"
	PaymentFailed     Type = "payment.failed"
	PayoutAccountSync Type = "payout_account.updated"
)

type Event struct {
	Type          Type      `json:"type"`
	DealID        string    `json:"deal_id,omitempty"`
	CampaignID    string    `json:"campaign_id,omitempty"`
	CreatorID     string    `json:"creator_id,omitempty"`
	BrandID       string    `json:"brand_id,omitempty"`
	DealStatus    string    `json:"deal_status,omitempty"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	At            time.Time `json:"at"`
}

// Publisher receives state-change events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than stall the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{subs: map[*Subscription]struct{}{}, buffer: buffer}
}

// Subscription delivers the events a principal is party to.
type Subscription struct {
	C         chan Event
	principal string
	hub       *Hub
	once      sync.Once
}

// Subscribe registers principal; an empty principal receives everything.
func (h *Hub) Subscribe(principal string) *Subscription {
	sub := &Subscription{
		C:         make(chan Event, h.buffer),
		principal: principal,
		hub:       h,
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.C)
	})
}

func (s *Subscription) wants(ev Event) bool {
	return s.principal == "" || s.principal == ev.CreatorID || s.principal == ev.BrandID
}

func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.C <- ev:
		default:
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
