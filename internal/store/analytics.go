package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vektorlab/passage/internal/models"
)

// InsertAnalyticsEvents appends served-query events in one statement batch.
func (s *Store) InsertAnalyticsEvents(ctx context.Context, events []models.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO analytics_events (id, collection_id, owner_id, query, rt_ms, ts)
		VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.ID, e.CollectionID, e.OwnerID, e.Query, e.DurationMS, e.Timestamp); err != nil {
			return fmt.Errorf("insert analytics event: %w", err)
		}
	}
	return tx.Commit()
}

// AnalyticsSummary aggregates query volume and latency for one collection
// over a trailing window.
type AnalyticsSummary struct {
	CollectionID string  `json:"collectionId" db:"collection_id"`
	Queries      int     `json:"queries" db:"queries"`
	AvgLatencyMS float64 `json:"avgLatencyMs" db:"avg_latency_ms"`
	P95LatencyMS float64 `json:"p95LatencyMs" db:"p95_latency_ms"`
}

// AnalyticsSince summarizes query traffic for a collection since the given
// time.
func (s *Store) AnalyticsSince(ctx context.Context, collectionID string, since time.Time) (AnalyticsSummary, error) {
	var out AnalyticsSummary
	err := s.db.GetContext(ctx, &out, `
		SELECT $1::text AS collection_id,
			COUNT(*) AS queries,
			COALESCE(AVG(rt_ms), 0) AS avg_latency_ms,
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY rt_ms), 0) AS p95_latency_ms
		FROM analytics_events WHERE collection_id = $1 AND ts >= $2`,
		collectionID, since)
	if err != nil {
		return out, fmt.Errorf("analytics summary: %w", err)
	}
	return out, nil
}
