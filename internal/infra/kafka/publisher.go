// Package kafka publishes packet notifications to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/notify"
)

// Config holds producer settings.
type Config struct {
	Brokers  []string
	Topic    string
	MaxRetry int
}

// Publisher sends notifications keyed by packet id, so one packet's messages stay ordered
// within a partition.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher dials the brokers and creates a synchronous producer.
func NewPublisher(cfg Config) (*Publisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = cfg.MaxRetry
	if config.Producer.Retry.Max <= 0 {
		config.Producer.Retry.Max = 3
	}
	config.Producer.Retry.Backoff = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer failed: %w", err)
	}
	return NewPublisherWithProducer(producer, cfg.Topic), nil
}

// NewPublisherWithProducer wraps an existing producer.
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

func (p *Publisher) Publish(ctx context.Context, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.PacketID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(msg.Event)},
		},
	})
	if err != nil {
		return fmt.Errorf("send to %s failed: %w", p.topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
