// Package notify fans out auction events to per-auction subscribers.
//
// Delivery is best-effort: a subscriber whose buffer is full misses the event.
// Nothing in the marketplace reads state back from here; consumers that need
// authoritative values re-query auctions, bids and wallets.
package notify

import (
	"sync"
	"sync/atomic"

	model "auction-marketplace/internal/models"
	"auction-marketplace/utils"
)

// Bus is an in-process publish/subscribe hub keyed by auction id
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewBus creates a bus whose subscriptions buffer up to buffer events each
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription receives the events of one auction until closed
type Subscription struct {
	auctionID string
	ch        chan model.Event
	bus       *Bus
	once      sync.Once
	dropped   atomic.Uint64
}

// AuctionID returns the auction this subscription is scoped to
func (s *Subscription) AuctionID() string { return s.auctionID }

// Events is closed when the subscription or the bus is closed
func (s *Subscription) Events() <-chan model.Event { return s.ch }

// Dropped counts events lost because the buffer was full
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if set, ok := s.bus.subs[s.auctionID]; ok {
			if _, ok := set[s]; ok {
				delete(set, s)
				close(s.ch)
			}
			if len(set) == 0 {
				delete(s.bus.subs, s.auctionID)
			}
		}
	})
}

// Subscribe starts a subscription to one auction's events.
// On a closed bus the returned subscription's channel is already closed.
func (b *Bus) Subscribe(auctionID string) *Subscription {
	sub := &Subscription{
		auctionID: auctionID,
		ch:        make(chan model.Event, b.buffer),
		bus:       b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	set, ok := b.subs[auctionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[auctionID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every subscriber of ev.AuctionID without blocking
// and returns how many received it
func (b *Bus) Publish(ev model.Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for sub := range b.subs[ev.AuctionID] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			sub.dropped.Add(1)
			utils.Debug("notification dropped", map[string]any{
				"auction_id": ev.AuctionID,
				"kind":       ev.Kind,
			})
		}
	}
	return delivered
}

// Subscribers returns the number of open subscriptions to an auction
func (b *Bus) Subscribers(auctionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[auctionID])
}

// Close ends every subscription; later subscriptions are closed immediately
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(b.subs, id)
	}
}
