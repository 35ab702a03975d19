package streaming

import (
	"context"
	"sync"

	"github.com/aurachain/orchestrator/internal/metrics"
)

const defaultSubscriberBuffer = 256

// MemoryBroker is an in-process fan-out broker. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type MemoryBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan []byte]struct{}
	buffer      int
	closed      bool
}

// NewMemoryBroker creates a broker whose subscribers buffer up to buffer events.
func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &MemoryBroker{
		subscribers: make(map[string]map[chan []byte]struct{}),
		buffer:      buffer,
	}
}

// Subscribe adds a subscriber channel for the given channel name.
func (b *MemoryBroker) Subscribe(_ context.Context, channel string) (*Subscription, error) {
	ch := make(chan []byte, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	subs := b.subscribers[channel]
	if subs == nil {
		subs = make(map[chan []byte]struct{})
		b.subscribers[channel] = subs
	}
	subs[ch] = struct{}{}
	return newSubscription(channel, ch, func() error {
		b.unsubscribe(channel, ch)
		return nil
	}), nil
}

// unsubscribe removes the subscriber channel and closes it.
func (b *MemoryBroker) unsubscribe(channel string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[channel]; ok {
		if _, present := subs[ch]; !present {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(b.subscribers, channel)
		}
	}
}

// Publish sends payload to all subscribers of channel (non-blocking).
func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for ch := range b.subscribers[channel] {
		select {
		case ch <- payload:
		default:
			// Drop if subscriber is slow
			metrics.EventsDropped.Inc()
		}
	}
	return nil
}

// NumSubscribers returns the number of registered subscribers on channel.
func (b *MemoryBroker) NumSubscribers(_ context.Context, channel string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel]), nil
}

// Close terminates every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subs := range b.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(b.subscribers, channel)
	}
	return nil
}
