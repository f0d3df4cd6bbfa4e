// Package events streams usage records to Kafka for downstream analytics.
// Publishing is fire-and-forget; a broker outage never affects a call.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"log/slog"

	"github.com/IBM/sarama"

	"estiguard/internal/ledger"
	"estiguard/internal/logger"
)

const usageTopic = "estiguard-usage"

// Producer wraps a Sarama async producer for usage events.
type Producer struct {
	producer sarama.AsyncProducer
	log      *slog.Logger
}

// NewProducer connects to the Kafka brokers.
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}

	p := &Producer{
		producer: producer,
		log:      logger.WithComponent("events"),
	}
	go p.drainErrors()
	return p, nil
}

// Publish queues one usage record. Implements ledger.Publisher.
func (p *Producer) Publish(_ context.Context, r ledger.Record) error {
	msg, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling usage record: %w", err)
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: usageTopic,
		Key:   sarama.StringEncoder(r.UserID),
		Value: sarama.ByteEncoder(msg),
		Headers: []sarama.RecordHeader{
			{Key: []byte("endpoint"), Value: []byte(r.Endpoint)},
			{Key: []byte("model"), Value: []byte(r.Model)},
		},
	}

	p.log.Debug("queued usage event", "user", r.UserID, "endpoint", r.Endpoint)
	return nil
}

// drainErrors logs async produce failures; nothing upstream waits on them.
func (p *Producer) drainErrors() {
	for err := range p.producer.Errors() {
		p.log.Warn("usage event delivery failed", "error", err.Err)
	}
}

// Close shuts down the producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}
