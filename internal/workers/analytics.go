package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/broker"
	"github.com/vektorlab/passage/internal/models"
	"github.com/vektorlab/passage/internal/store"
)

// AnalyticsWorker drains served-query events into the document store.
type AnalyticsWorker struct {
	db  *store.Store
	bus *broker.Broker
	log *zap.Logger
}

// NewAnalyticsWorker wires the analytics consumer.
func NewAnalyticsWorker(db *store.Store, bus *broker.Broker, logger *zap.Logger) *AnalyticsWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsWorker{db: db, bus: bus, log: logger}
}

// Run consumes the analytics queue until ctx is cancelled.
func (w *AnalyticsWorker) Run(ctx context.Context, consumer string) error {
	return w.bus.Consume(ctx, broker.QueueAnalytics, "analytics", consumer, w.Handle)
}

// Handle persists one served-query event.
func (w *AnalyticsWorker) Handle(ctx context.Context, body []byte) error {
	var ev models.AnalyticsEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("decode analytics event: %w", err)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return w.db.InsertAnalyticsEvents(ctx, []models.AnalyticsEvent{ev})
}
