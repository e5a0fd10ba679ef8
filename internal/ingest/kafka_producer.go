package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/safety-tracking/internal/models"
)

// Publisher fans accepted positions out to downstream consumers.
type Publisher interface {
	PublishLocation(ctx context.Context, p models.LocationPoint) error
	PublishResponder(ctx context.Context, r models.Responder) error
}

type KafkaProducer struct {
	locations  *kafka.Writer
	responders *kafka.Writer
	timeout    time.Duration
}

func NewKafkaProducer(brokers []string, locationTopic, responderTopic string) *KafkaProducer {
	return &KafkaProducer{
		locations:  newWriter(brokers, locationTopic),
		responders: newWriter(brokers, responderTopic),
		timeout:    2 * time.Second,
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}}
}

// PublishLocation keys by device so one device's reports stay on one
// partition.
func (k *KafkaProducer) PublishLocation(ctx context.Context, p models.LocationPoint) error {
	return k.write(ctx, k.locations, p.DeviceID, p)
}

func (k *KafkaProducer) PublishResponder(ctx context.Context, r models.Responder) error {
	return k.write(ctx, k.responders, r.ID, r)
}

func (k *KafkaProducer) write(ctx context.Context, w *kafka.Writer, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	var first error
	for _, w := range []*kafka.Writer{k.locations, k.responders} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discard is a Publisher for deployments without a broker.
type Discard struct{}

func (Discard) PublishLocation(context.Context, models.LocationPoint) error { return nil }
func (Discard) PublishResponder(context.Context, models.Responder) error  { return nil }
