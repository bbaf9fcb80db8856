package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// EventBus carries engine events (ticks, rejections, position changes) over
// Redis Pub/Sub. Delivery is fire-and-forget; subscribers that fall behind
// miss messages, which is acceptable for telemetry-grade events.
type EventBus struct {
	rdb    *redis.Client
	prefix string
}

// NewEventBus creates an EventBus backed by the given Client. Channel names
// are prefixed so multiple engines can share one Redis instance.
func NewEventBus(c *Client, prefix string) *EventBus {
	if prefix == "" {
		prefix = "hftbot"
	}
	return &EventBus{rdb: c.Underlying(), prefix: prefix}
}

func (b *EventBus) channelName(channel string) string {
	return b.prefix + ":" + channel
}

// Publish sends a raw byte payload to a Pub/Sub channel.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	name := b.channelName(channel)
	if err := b.rdb.Publish(ctx, name, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", name, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription and returns a read-only channel
// of raw payloads. The subscription is closed when the context is cancelled;
// the returned channel is closed at that point as well.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := b.channelName(channel)

	var pubsub *redis.PubSub
	if hasPattern(name) {
		pubsub = b.rdb.PSubscribe(ctx, name)
	} else {
		pubsub = b.rdb.Subscribe(ctx, name)
	}

	// Verify the subscription is established before handing it out.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", name, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}
