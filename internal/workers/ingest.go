// Package workers holds the queue consumers behind the API: the staged
// ingestion worker, the persist workers per storage backend, the feedback
// worker and the analytics drain.
package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/broker"
	"github.com/vektorlab/passage/internal/metrics"
	"github.com/vektorlab/passage/internal/models"
	"github.com/vektorlab/passage/internal/pipeline"
	"github.com/vektorlab/passage/internal/realtime"
	"github.com/vektorlab/passage/internal/store"
)

// IngestWorker drives resources through load, chunk, update and delete.
// Follow-up events are published only after the current stage succeeds, so
// per-resource ordering holds without broker-level guarantees.
type IngestWorker struct {
	db           *store.Store
	loader       *pipeline.Loader
	processor    *pipeline.Processor
	bus          *broker.Broker
	rt           *realtime.Manager
	minChunkSize int
	log          *zap.Logger
}

// NewIngestWorker wires the ingestion stage handlers.
func NewIngestWorker(db *store.Store, loader *pipeline.Loader, processor *pipeline.Processor, bus *broker.Broker, rt *realtime.Manager, minChunkSize int, logger *zap.Logger) *IngestWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minChunkSize <= 0 {
		minChunkSize = 100
	}
	return &IngestWorker{
		db: db, loader: loader, processor: processor, bus: bus, rt: rt,
		minChunkSize: minChunkSize, log: logger,
	}
}

// Run consumes the ingest queue until ctx is cancelled.
func (w *IngestWorker) Run(ctx context.Context, consumer string) error {
	return w.bus.Consume(ctx, broker.QueueIngest, "ingest", consumer, w.Handle)
}

// Handle processes one ingest event.
func (w *IngestWorker) Handle(ctx context.Context, body []byte) error {
	var ev models.IngestEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("decode ingest event: %w", err)
	}
	var err error
	switch ev.Event {
	case models.EventLoad:
		err = w.handleLoad(ctx, ev.Data)
	case models.EventChunk:
		err = w.handleChunk(ctx, ev.Data)
	case models.EventUpdate:
		err = w.handleUpdate(ctx, ev.Data)
	case models.EventDelete:
		err = w.handleDelete(ctx, ev.Data)
	default:
		return fmt.Errorf("unknown ingest event %q", ev.Event)
	}
	status := "ok"
	if err != nil {
		status = "error"
		w.markError(ctx, ev.Data, err)
	}
	metrics.ResourcesIngested.WithLabelValues(ev.Event, status).Inc()
	return err
}

// handleLoad fetches content and hands off to the chunk stage. When the
// content hash is unchanged the resource jumps straight to chunked.
func (w *IngestWorker) handleLoad(ctx context.Context, data models.IngestEventData) error {
	res, err := w.db.GetResource(ctx, data.ResourceID)
	if err != nil {
		return err
	}

	content, hash := res.Content, pipeline.ContentHash(res.Content)
	if res.URL != "" {
		loaded, err := w.loader.Load(ctx, res.URL)
		if err != nil {
			return fmt.Errorf("load resource %s: %w", res.ID, err)
		}
		content, hash = loaded.Content, loaded.Hash
	}

	if res.ContentHash != "" && res.ContentHash == hash && res.Status == models.StatusChunked {
		w.publishStatus(res, models.StatusChunked, "content unchanged")
		return nil
	}
	if err := w.db.SetResourceContent(ctx, res.ID, content, hash); err != nil {
		return err
	}
	w.publishStatus(res, models.StatusLoaded, "")

	return w.bus.Publish(ctx, broker.QueueIngest, models.IngestEvent{
		Version: models.EventVersion,
		Event:   models.EventChunk,
		Data:    data,
	})
}

// handleChunk splits, encodes and queues the resource's chunks for
// persistence.
func (w *IngestWorker) handleChunk(ctx context.Context, data models.IngestEventData) error {
	res, err := w.db.GetResource(ctx, data.ResourceID)
	if err != nil {
		return err
	}
	col, err := w.db.GetCollection(ctx, res.CollectionID)
	if err != nil {
		return err
	}
	params := pipeline.EffectiveParams(col.Settings, res.Overrides, w.minChunkSize)
	chunks, err := w.processor.Process(ctx, res, col.Settings, params)
	if err != nil {
		return err
	}
	if err := w.db.SetResourceStatus(ctx, res.ID, models.StatusChunked, ""); err != nil {
		return err
	}
	w.publishStatus(res, models.StatusChunked, fmt.Sprintf("%d chunks", len(chunks)))
	return nil
}

// handleUpdate refreshes display metadata only; content and vectors are
// untouched.
func (w *IngestWorker) handleUpdate(ctx context.Context, data models.IngestEventData) error {
	res, err := w.db.GetResource(ctx, data.ResourceID)
	if err != nil {
		return err
	}
	w.publishStatus(res, res.Status, "metadata updated")
	return nil
}

// handleDelete fans the delete out to every storage backend and finalizes
// the soft delete.
func (w *IngestWorker) handleDelete(ctx context.Context, data models.IngestEventData) error {
	event := models.PersistEvent{
		Version:      models.EventVersion,
		Event:        models.PersistDelete,
		CollectionID: data.CollectionID,
		ResourceID:   data.ResourceID,
		OwnerID:      data.OwnerID,
	}
	if err := w.bus.PublishPersist(ctx, event); err != nil {
		return err
	}
	w.rt.Publish(realtime.Event{
		ResourceID:   data.ResourceID,
		CollectionID: data.CollectionID,
		Status:       models.StatusDeleted,
	})
	return nil
}

func (w *IngestWorker) publishStatus(res models.Resource, status models.ResourceStatus, msg string) {
	w.rt.Publish(realtime.Event{
		ResourceID:   res.ID,
		CollectionID: res.CollectionID,
		Status:       status,
		Message:      msg,
	})
}

// markError records a failed stage on the resource so clients see why
// ingestion stopped.
func (w *IngestWorker) markError(ctx context.Context, data models.IngestEventData, cause error) {
	if data.ResourceID == "" {
		return
	}
	if err := w.db.SetResourceStatus(ctx, data.ResourceID, models.StatusError, cause.Error()); err != nil {
		w.log.Warn("Failed to record resource error",
			zap.String("resource_id", data.ResourceID), zap.Error(err))
	}
	w.rt.Publish(realtime.Event{
		ResourceID:   data.ResourceID,
		CollectionID: data.CollectionID,
		Status:       models.StatusError,
		Message:      cause.Error(),
	})
}
