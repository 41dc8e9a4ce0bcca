package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vektorlab/passage/internal/models"
)

type feedbackRow struct {
	ID           string    `db:"id"`
	CollectionID string    `db:"collection_id"`
	OwnerID      string    `db:"owner_id"`
	Query        string    `db:"query"`
	Hits         []byte    `db:"hits"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r feedbackRow) toModel() (models.FeedbackDoc, error) {
	doc := models.FeedbackDoc{
		ID:           r.ID,
		CollectionID: r.CollectionID,
		OwnerID:      r.OwnerID,
		Query:        r.Query,
		Hits:         map[string]models.FeedbackHit{},
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if len(r.Hits) > 0 {
		if err := json.Unmarshal(r.Hits, &doc.Hits); err != nil {
			return doc, fmt.Errorf("decode feedback hits: %w", err)
		}
	}
	return doc, nil
}

// GetFeedbackDoc fetches one feedback document by its content-addressed id.
func (s *Store) GetFeedbackDoc(ctx context.Context, id string) (models.FeedbackDoc, error) {
	var row feedbackRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, collection_id, owner_id, query, hits, created_at, updated_at
		 FROM feedback_docs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FeedbackDoc{}, ErrNotFound
	}
	if err != nil {
		return models.FeedbackDoc{}, fmt.Errorf("get feedback doc: %w", err)
	}
	return row.toModel()
}

// ApplyFeedbackVote adds delta to the vote count of chunkID under the given
// feedback doc, creating the doc or the hit row when absent. The whole
// read-modify-write runs in one transaction with the doc row locked.
func (s *Store) ApplyFeedbackVote(ctx context.Context, doc models.FeedbackDoc, chunkID, resourceID string, delta int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var row feedbackRow
	err = tx.GetContext(ctx, &row,
		`SELECT id, collection_id, owner_id, query, hits, created_at, updated_at
		 FROM feedback_docs WHERE id = $1 FOR UPDATE`, doc.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		hits := map[string]models.FeedbackHit{
			chunkID: {ResourceID: resourceID, Count: delta},
		}
		buf, err := json.Marshal(hits)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO feedback_docs (id, collection_id, owner_id, query, hits)
			VALUES ($1,$2,$3,$4,$5)`,
			doc.ID, doc.CollectionID, doc.OwnerID, doc.Query, buf); err != nil {
			return fmt.Errorf("insert feedback doc: %w", err)
		}
	case err != nil:
		return fmt.Errorf("lock feedback doc: %w", err)
	default:
		existing, err := row.toModel()
		if err != nil {
			return err
		}
		hit := existing.Hits[chunkID]
		hit.ResourceID = resourceID
		hit.Count += delta
		existing.Hits[chunkID] = hit
		buf, err := json.Marshal(existing.Hits)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE feedback_docs SET hits = $2, updated_at = now() WHERE id = $1`,
			doc.ID, buf); err != nil {
			return fmt.Errorf("update feedback doc: %w", err)
		}
	}
	return tx.Commit()
}

// ListFeedbackDocs returns the feedback docs of a collection for the admin
// surface.
func (s *Store) ListFeedbackDocs(ctx context.Context, collectionID string) ([]models.FeedbackDoc, error) {
	var rows []feedbackRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, collection_id, owner_id, query, hits, created_at, updated_at
		 FROM feedback_docs WHERE collection_id = $1 ORDER BY updated_at DESC`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list feedback docs: %w", err)
	}
	out := make([]models.FeedbackDoc, 0, len(rows))
	for _, r := range rows {
		d, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
