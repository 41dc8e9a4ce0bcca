package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AdapterRecord is the persisted state of one collection's query projection.
type AdapterRecord struct {
	CollectionID  string      `json:"collectionId"`
	Weights       [][]float64 `json:"weights"`
	Bias          []float64   `json:"bias"`
	InputDim      int         `json:"inputDim"`
	OutputDim     int         `json:"outputDim"`
	TrainingCount int         `json:"trainingCount"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// SaveAdapter upserts a collection's adapter state.
func (s *Store) SaveAdapter(ctx context.Context, rec AdapterRecord) error {
	weights, err := json.Marshal(rec.Weights)
	if err != nil {
		return err
	}
	bias, err := json.Marshal(rec.Bias)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO adapters (collection_id, weights, bias, input_dim, output_dim, training_count, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (collection_id) DO UPDATE
		SET weights = EXCLUDED.weights, bias = EXCLUDED.bias,
			input_dim = EXCLUDED.input_dim, output_dim = EXCLUDED.output_dim,
			training_count = EXCLUDED.training_count, updated_at = now()`,
		rec.CollectionID, weights, bias, rec.InputDim, rec.OutputDim, rec.TrainingCount)
	if err != nil {
		return fmt.Errorf("save adapter: %w", err)
	}
	return nil
}

// LoadAdapter fetches a collection's adapter state.
func (s *Store) LoadAdapter(ctx context.Context, collectionID string) (AdapterRecord, error) {
	var row struct {
		CollectionID  string    `db:"collection_id"`
		Weights       []byte    `db:"weights"`
		Bias          []byte    `db:"bias"`
		InputDim      int       `db:"input_dim"`
		OutputDim     int       `db:"output_dim"`
		TrainingCount int       `db:"training_count"`
		UpdatedAt     time.Time `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT collection_id, weights, bias, input_dim, output_dim, training_count, updated_at
		FROM adapters WHERE collection_id = $1`, collectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return AdapterRecord{}, ErrNotFound
	}
	if err != nil {
		return AdapterRecord{}, fmt.Errorf("load adapter: %w", err)
	}
	rec := AdapterRecord{
		CollectionID:  row.CollectionID,
		InputDim:      row.InputDim,
		OutputDim:     row.OutputDim,
		TrainingCount: row.TrainingCount,
		UpdatedAt:     row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Weights, &rec.Weights); err != nil {
		return rec, fmt.Errorf("decode adapter weights: %w", err)
	}
	if err := json.Unmarshal(row.Bias, &rec.Bias); err != nil {
		return rec, fmt.Errorf("decode adapter bias: %w", err)
	}
	return rec, nil
}

// DeleteAdapter removes a collection's adapter state, resetting it to
// identity on next use.
func (s *Store) DeleteAdapter(ctx context.Context, collectionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM adapters WHERE collection_id = $1`, collectionID)
	if err != nil {
		return fmt.Errorf("delete adapter: %w", err)
	}
	return nil
}
