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

type evalCaseRow struct {
	ID             string    `db:"id"`
	CollectionID   string    `db:"collection_id"`
	OwnerID        string    `db:"owner_id"`
	Query          string    `db:"query"`
	ExpectedChunks []byte    `db:"expected_chunk_ids"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r evalCaseRow) toModel() (models.EvalTestCase, error) {
	c := models.EvalTestCase{
		ID:           r.ID,
		CollectionID: r.CollectionID,
		OwnerID:      r.OwnerID,
		Query:        r.Query,
		CreatedAt:    r.CreatedAt,
	}
	if len(r.ExpectedChunks) > 0 {
		if err := json.Unmarshal(r.ExpectedChunks, &c.ExpectedChunks); err != nil {
			return c, fmt.Errorf("decode expected chunk ids: %w", err)
		}
	}
	return c, nil
}

// CreateEvalCase inserts one labelled test case.
func (s *Store) CreateEvalCase(ctx context.Context, c models.EvalTestCase) error {
	expected, err := json.Marshal(c.ExpectedChunks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO eval_cases (id, collection_id, owner_id, query, expected_chunk_ids, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.CollectionID, c.OwnerID, c.Query, expected, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert eval case: %w", err)
	}
	return nil
}

// ListEvalCases returns the test cases of a collection, scoped to one owner
// when ownerID is non-empty.
func (s *Store) ListEvalCases(ctx context.Context, collectionID, ownerID string) ([]models.EvalTestCase, error) {
	var rows []evalCaseRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, collection_id, owner_id, query, expected_chunk_ids, created_at
		 FROM eval_cases WHERE collection_id = $1 AND ($2 = '' OR owner_id = $2)
		 ORDER BY created_at`, collectionID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list eval cases: %w", err)
	}
	out := make([]models.EvalTestCase, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteEvalCase removes one test case.
func (s *Store) DeleteEvalCase(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM eval_cases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete eval case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveEvalRun persists a completed evaluation snapshot.
func (s *Store) SaveEvalRun(ctx context.Context, run models.EvalRun) error {
	results, err := json.Marshal(run.Results)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO eval_runs (id, collection_id, owner_id, total_cases, hit_count,
			overall_accuracy, average_recall, mrr, results, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		run.ID, run.CollectionID, run.OwnerID, run.TotalCases, run.HitCount,
		run.OverallAccuracy, run.AverageRecall, run.MRR, results, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert eval run: %w", err)
	}
	return nil
}

type evalRunRow struct {
	ID              string    `db:"id"`
	CollectionID    string    `db:"collection_id"`
	OwnerID         string    `db:"owner_id"`
	TotalCases      int       `db:"total_cases"`
	HitCount        int       `db:"hit_count"`
	OverallAccuracy float64   `db:"overall_accuracy"`
	AverageRecall   float64   `db:"average_recall"`
	MRR             float64   `db:"mrr"`
	Results         []byte    `db:"results"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r evalRunRow) toModel() (models.EvalRun, error) {
	run := models.EvalRun{
		ID:              r.ID,
		CollectionID:    r.CollectionID,
		OwnerID:         r.OwnerID,
		TotalCases:      r.TotalCases,
		HitCount:        r.HitCount,
		OverallAccuracy: r.OverallAccuracy,
		AverageRecall:   r.AverageRecall,
		MRR:             r.MRR,
		CreatedAt:       r.CreatedAt,
	}
	if len(r.Results) > 0 {
		if err := json.Unmarshal(r.Results, &run.Results); err != nil {
			return run, fmt.Errorf("decode eval results: %w", err)
		}
	}
	for _, res := range run.Results {
		if !res.Hit {
			run.FailedCases = append(run.FailedCases, res)
		}
	}
	return run, nil
}

// ListEvalRuns returns past runs of a collection, newest first.
func (s *Store) ListEvalRuns(ctx context.Context, collectionID string, limit int) ([]models.EvalRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []evalRunRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, collection_id, owner_id, total_cases, hit_count, overall_accuracy,
			average_recall, mrr, results, created_at
		FROM eval_runs WHERE collection_id = $1 ORDER BY created_at DESC LIMIT $2`,
		collectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list eval runs: %w", err)
	}
	out := make([]models.EvalRun, 0, len(rows))
	for _, r := range rows {
		run, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// GetEvalRun fetches one run by id.
func (s *Store) GetEvalRun(ctx context.Context, id string) (models.EvalRun, error) {
	var row evalRunRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, collection_id, owner_id, total_cases, hit_count, overall_accuracy,
			average_recall, mrr, results, created_at
		FROM eval_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EvalRun{}, ErrNotFound
	}
	if err != nil {
		return models.EvalRun{}, fmt.Errorf("get eval run: %w", err)
	}
	return row.toModel()
}
