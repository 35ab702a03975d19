package streaming

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker relays events over Redis pub/sub so observers attached to any
// process sharing the Redis instance see them.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
	buffer int
}

// NewRedisBroker wraps an existing client. The client is owned by the caller.
func NewRedisBroker(client *redis.Client, buffer int, logger *zap.Logger) *RedisBroker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{client: client, logger: logger, buffer: buffer}
}

// Publish issues PUBLISH on channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe issues SUBSCRIBE and waits for the server confirmation, so the
// subscriber is counted by PUBSUB NUMSUB once this returns.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, b.buffer)
	done := make(chan struct{})
	in := ps.Channel(redis.WithChannelSize(b.buffer))

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-done:
					return
				}
			}
		}
	}()

	return newSubscription(channel, out, func() error {
		close(done)
		if err := ps.Unsubscribe(context.Background(), channel); err != nil {
			b.logger.Debug("Redis unsubscribe failed", zap.String("channel", channel), zap.Error(err))
		}
		return ps.Close()
	}), nil
}

// NumSubscribers returns the PUBSUB NUMSUB count for channel.
func (b *RedisBroker) NumSubscribers(ctx context.Context, channel string) (int, error) {
	counts, err := b.client.PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return 0, fmt.Errorf("redis numsub %s: %w", channel, err)
	}
	return int(counts[channel]), nil
}

// Close is a no-op; the Redis client is closed by its owner.
func (b *RedisBroker) Close() error { return nil }
