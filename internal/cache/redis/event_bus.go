package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// streamMaxLen caps stream growth, enforced with XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// EventBus implements domain.EventBus on Redis Streams. Position lifecycle
// events land on the "positions" stream where dashboards and external
// consumers can replay them in order.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

func streamKey(channel string) string {
	return "stream:" + channel
}

// Publish appends the payload to the channel's stream.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(channel),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: publish to %s: %w", channel, err)
	}
	return nil
}

var _ domain.EventBus = (*EventBus)(nil)
