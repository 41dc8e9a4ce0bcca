package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/broker"
	"github.com/vektorlab/passage/internal/models"
	"github.com/vektorlab/passage/internal/store"
)

// SyncJob periodically re-issues load events for URL-backed resources whose
// content has not been refreshed within the interval. Unchanged content is
// cheap: the load stage compares hashes and skips re-chunking.
type SyncJob struct {
	db       *store.Store
	bus      *broker.Broker
	interval time.Duration
	log      *zap.Logger
}

// NewSyncJob builds the refresh cron.
func NewSyncJob(db *store.Store, bus *broker.Broker, interval time.Duration, logger *zap.Logger) *SyncJob {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncJob{db: db, bus: bus, interval: interval, log: logger}
}

// Run ticks until ctx is cancelled. One sweep runs immediately at start.
func (j *SyncJob) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.sweep(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (j *SyncJob) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.interval)
	stale, err := j.db.ListStaleResources(ctx, cutoff, 0)
	if err != nil {
		j.log.Error("Stale resource scan failed", zap.Error(err))
		return
	}
	requeued := 0
	for _, res := range stale {
		ev := models.IngestEvent{
			Version: models.EventVersion,
			Event:   models.EventLoad,
			Data: models.IngestEventData{
				ResourceID:   res.ID,
				CollectionID: res.CollectionID,
				OwnerID:      res.OwnerID,
				URL:          res.URL,
			},
		}
		if err := j.bus.Publish(ctx, broker.QueueIngest, ev); err != nil {
			j.log.Warn("Sync requeue failed", zap.String("resource_id", res.ID), zap.Error(err))
			continue
		}
		requeued++
	}
	if requeued > 0 {
		j.log.Info("Sync sweep queued stale resources", zap.Int("count", requeued))
	}
}
