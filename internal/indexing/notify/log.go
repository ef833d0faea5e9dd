package notify

import (
	"context"
	"log/slog"
)

// LogPublisher writes notifications to the structured log. It is the default driver
// when no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, msg Message) error {
	p.log.Info("Notification",
		"event", msg.Event,
		"packet_id", msg.PacketID,
		"claimer", msg.Claimer,
		"amount", msg.Formatted,
		"symbol", msg.Symbol,
		"tx", msg.TxHash,
		"block", msg.Block,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
