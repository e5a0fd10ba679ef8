package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/example/safety-tracking/internal/geo"
	"github.com/example/safety-tracking/internal/models"
	"github.com/example/safety-tracking/internal/observability"
)

// MessageReader is the part of *kafka.Reader the consumer loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// ResponderConsumer moves responder position reports from the broker into
// the geo index the responder search reads.
type ResponderConsumer struct {
	Reader   MessageReader
	Index    geo.Geo
	Logger   *zap.Logger
	Attempts int
	Delay    time.Duration
}

// Run blocks until ctx is cancelled. Read errors back off exponentially up to
// 30s; malformed messages are skipped.
func (c *ResponderConsumer) Run(ctx context.Context) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", zap.Error(err), zap.Duration("backoff", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		observability.ConsumerMessages.WithLabelValues("consumed").Inc()

		var r models.Responder
		if err := json.Unmarshal(m.Value, &r); err != nil || r.ID == "" || !r.Role.IsResponder() {
			observability.ConsumerMessages.WithLabelValues("invalid").Inc()
			logger.Warn("invalid responder message", zap.ByteString("key", m.Key), zap.Error(err))
			continue
		}

		if err := UpsertWithRetry(ctx, c.Index, r, c.Attempts, c.Delay); err != nil {
			observability.ConsumerMessages.WithLabelValues("failed").Inc()
			logger.Error("geo update failed", zap.String("responder_id", r.ID), zap.Error(err))
			continue
		}
		observability.ResponderUpdates.Inc()
	}
}

// UpsertWithRetry writes a responder position, retrying with doubling delay.
func UpsertWithRetry(ctx context.Context, g geo.Geo, r models.Responder, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 3
	}
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = g.Upsert(ctx, r); err == nil {
			return nil
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
