// Package broker is the event bus between the API process and the staged
// workers, built on Redis Streams with consumer groups. Each queue has a
// dead-letter sibling named <queue>_FAILED; messages that exhaust their
// retries are copied there and the original is always acknowledged so a
// poison message cannot block its stream.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/metrics"
)

// Queue names. The persist fan-out targets the sync queues; each downstream
// (document store, regional vector stores) drains its own copy.
const (
	QueueIngest          = "rag"
	QueueMongoSync       = "mongo-sync"
	QueueQdrantUSASync   = "qdrant-usa-sync"
	QueueQdrantIndiaSync = "qdrant-india-sync"
	QueueFeedback        = "search-feedback"
	QueueAnalytics       = "analytics"

	DLQSuffix = "_FAILED"
)

// PersistQueues are the fan-out targets for chunk persist events.
var PersistQueues = []string{QueueMongoSync, QueueQdrantUSASync, QueueQdrantIndiaSync}

// payloadField is the stream entry field carrying the JSON event body.
const payloadField = "payload"

// Handler processes one message body. A non-nil error triggers a redelivery
// attempt; exhausting attempts dead-letters the message.
type Handler func(ctx context.Context, body []byte) error

// Broker publishes and consumes JSON events over Redis Streams.
type Broker struct {
	cli         redis.UniversalClient
	log         *zap.Logger
	maxAttempts int
	block       time.Duration
	maxLen      int64
}

// New wraps an existing Redis client.
func New(cli redis.UniversalClient, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		cli:         cli,
		log:         logger,
		maxAttempts: 3,
		block:       5 * time.Second,
		maxLen:      100000,
	}
}

// Publish appends one event to a queue.
func (b *Broker) Publish(ctx context.Context, queue string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = b.cli.XAdd(ctx, &redis.XAddArgs{
		Stream: queue,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: body},
	}).Err()
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.EventsPublished.WithLabelValues(queue, status).Inc()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// PublishPersist fans one persist event out to every sync queue.
func (b *Broker) PublishPersist(ctx context.Context, event any) error {
	for _, q := range PersistQueues {
		if err := b.Publish(ctx, q, event); err != nil {
			return err
		}
	}
	return nil
}

// Consume reads a queue one message at a time until ctx is cancelled.
// Prefetch is fixed at one so a slow handler never strands claimed messages,
// and per-resource event ordering is preserved within the consumer.
func (b *Broker) Consume(ctx context.Context, queue, group, consumer string, handler Handler) error {
	if err := b.ensureGroup(ctx, queue, group); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := b.cli.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{queue, ">"},
			Count:    1,
			Block:    b.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn("Stream read failed", zap.String("queue", queue), zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.handleMessage(ctx, queue, group, msg, handler)
			}
		}
	}
}

func (b *Broker) handleMessage(ctx context.Context, queue, group string, msg redis.XMessage, handler Handler) {
	body := extractPayload(msg)
	var err error
	if body == nil {
		err = fmt.Errorf("message %s has no payload field", msg.ID)
	} else {
		for attempt := 1; attempt <= b.maxAttempts; attempt++ {
			if err = handler(ctx, body); err == nil {
				break
			}
			if ctx.Err() != nil {
				break
			}
			b.log.Warn("Message handling failed",
				zap.String("queue", queue),
				zap.String("id", msg.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}
	status := "ok"
	if err != nil {
		status = "error"
		b.deadLetter(ctx, queue, msg.ID, body, err)
	}
	metrics.EventsConsumed.WithLabelValues(queue, status).Inc()
	// ack regardless of outcome
	if ackErr := b.cli.XAck(ctx, queue, group, msg.ID).Err(); ackErr != nil {
		b.log.Warn("Ack failed", zap.String("queue", queue), zap.String("id", msg.ID), zap.Error(ackErr))
	}
}

// deadLetter copies a failed message to the queue's _FAILED sibling with the
// terminal error attached.
func (b *Broker) deadLetter(ctx context.Context, queue, id string, body []byte, cause error) {
	values := map[string]any{
		"origin_id": id,
		"error":     cause.Error(),
		"failed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if body != nil {
		values[payloadField] = body
	}
	err := b.cli.XAdd(ctx, &redis.XAddArgs{
		Stream: queue + DLQSuffix,
		MaxLen: b.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		b.log.Error("Dead-letter write failed", zap.String("queue", queue), zap.String("id", id), zap.Error(err))
		return
	}
	metrics.DeadLettered.WithLabelValues(queue).Inc()
}

func (b *Broker) ensureGroup(ctx context.Context, queue, group string) error {
	err := b.cli.XGroupCreateMkStream(ctx, queue, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, queue, err)
	}
	return nil
}

// DeadLetters returns up to limit entries from a queue's _FAILED sibling,
// oldest first. Used by the admin surface.
func (b *Broker) DeadLetters(ctx context.Context, queue string, limit int64) ([]redis.XMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	return b.cli.XRangeN(ctx, queue+DLQSuffix, "-", "+", limit).Result()
}

// Ping reports Redis reachability for health checks.
func (b *Broker) Ping(ctx context.Context) error {
	return b.cli.Ping(ctx).Err()
}

func extractPayload(msg redis.XMessage) []byte {
	v, ok := msg.Values[payloadField]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []byte(t)
	case []byte:
		return t
	default:
		return nil
	}
}
