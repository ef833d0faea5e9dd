package redis

import (
	"context"
	"fmt"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/notify"
)

// Publisher fans notifications out on a Redis pub/sub channel.
type Publisher struct {
	c       *Client
	channel string
}

func NewPublisher(c *Client, channel string) *Publisher {
	return &Publisher{c: c, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, msg notify.Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := p.c.rdb.Publish(ctx, p.c.key(p.channel), payload).Err(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner.
func (p *Publisher) Close() error { return nil }
