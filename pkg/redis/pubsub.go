package redis

import (
	"context"
	"fmt"
)

// Publish sends payload on channel. No-op when Redis is disabled.
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	if !c.enabled {
		return nil
	}
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe calls handler for every message on channel until ctx is done.
// Returns immediately (nil) when Redis is disabled.
func (c *Client) Subscribe(ctx context.Context, channel string, handler func(payload string)) error {
	if !c.enabled {
		return nil
	}

	sub := c.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	// 구독 확정 전에 publish된 메시지는 유실되므로 Receive로 확인
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler(msg.Payload)
		}
	}
}
