package streaming

import (
	"context"
	"errors"
	"sync"
)

// ErrBrokerClosed is returned by operations on a closed broker.
var ErrBrokerClosed = errors.New("stream broker closed")

// Broker moves raw event payloads between publishers and subscribers of a channel.
type Broker interface {
	// Publish delivers payload to the current subscribers of channel.
	// A channel without subscribers drops the payload and returns nil.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers a subscriber. The subscription is active when Subscribe returns.
	Subscribe(ctx context.Context, channel string) (*Subscription, error)
	// NumSubscribers returns the number of active subscribers on channel.
	NumSubscribers(ctx context.Context, channel string) (int, error)
	Close() error
}

// Subscription is one subscriber's view of a channel. The message channel is
// closed once the subscription ends, either through Close or because the
// backend connection was lost.
type Subscription struct {
	channel string
	msgs    <-chan []byte

	once    sync.Once
	closeFn func() error
	err     error
}

func newSubscription(channel string, msgs <-chan []byte, closeFn func() error) *Subscription {
	return &Subscription{channel: channel, msgs: msgs, closeFn: closeFn}
}

// Channel returns the subscribed channel name.
func (s *Subscription) Channel() string { return s.channel }

// Messages returns the stream of raw payloads.
func (s *Subscription) Messages() <-chan []byte { return s.msgs }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.err = s.closeFn()
		}
	})
	return s.err
}
