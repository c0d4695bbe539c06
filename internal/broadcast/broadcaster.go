// Package broadcast implements the per-shop fan-out of lifecycle events to
// real-time dashboard subscribers.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
)

// DefaultBuffer is the per-subscriber channel depth. A subscriber that falls
// this far behind is dropped rather than allowed to stall publishers.
const DefaultBuffer = 64

type subscriber struct {
	ch     chan domain.LifecycleEvent
	shopID string
}

// Broadcaster routes lifecycle events to the subscribers of the owning shop.
// Publishing never blocks: each subscriber has a bounded buffer and is
// evicted when the buffer is full. Safe for concurrent use.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
	closed bool
	log    zerolog.Logger
}

// New builds a Broadcaster. buffer <= 0 selects DefaultBuffer.
func New(buffer int, log zerolog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subs:   make(map[*subscriber]struct{}),
		buffer: buffer,
		log:    log.With().Str("component", "broadcaster").Logger(),
	}
}

// Subscribe registers a listener for one shop's events. The returned channel
// is closed when cancel is called, when the subscriber is evicted for being
// slow, or when the broadcaster shuts down. cancel is idempotent.
func (b *Broadcaster) Subscribe(shopID string) (<-chan domain.LifecycleEvent, func()) {
	sub := &subscriber{ch: make(chan domain.LifecycleEvent, b.buffer), shopID: shopID}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.remove(sub) })
	}
	return sub.ch, cancel
}

// Notify delivers ev to every subscriber of shopID. Subscribers whose buffer
// is full are evicted; their channel is closed so the reader observes the
// eviction and can resubscribe.
func (b *Broadcaster) Notify(shopID string, ev domain.LifecycleEvent) {
	b.mu.RLock()
	var slow []*subscriber
	for sub := range b.subs {
		if sub.shopID != shopID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		b.log.Warn().Str("shop_id", shopID).Msg("dropping slow event subscriber")
		b.remove(sub)
	}
}

// SubscriberCount reports the number of live subscribers for a shop.
func (b *Broadcaster) SubscriberCount(shopID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for sub := range b.subs {
		if sub.shopID == shopID {
			n++
		}
	}
	return n
}

// Close evicts every subscriber and rejects future subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

func (b *Broadcaster) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}
