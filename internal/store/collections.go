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

type collectionRow struct {
	ID            string    `db:"id"`
	Name          string    `db:"name"`
	Description   string    `db:"description"`
	Metadata      []byte    `db:"metadata"`
	DenseModel    string    `db:"dense_model"`
	SparseModel   string    `db:"sparse_model"`
	RerankerModel string    `db:"reranker_model"`
	ChunkSize     int       `db:"chunk_size"`
	ChunkOverlap  int       `db:"chunk_overlap"`
	Strategy      string    `db:"strategy"`
	ChunkingURL   string    `db:"chunking_url"`
	KeepDuplicate bool      `db:"keep_duplicate"`
	IsDeleted     bool      `db:"is_deleted"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r collectionRow) toModel() (models.Collection, error) {
	c := models.Collection{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Settings: models.CollectionSettings{
			DenseModel:    r.DenseModel,
			SparseModel:   r.SparseModel,
			RerankerModel: r.RerankerModel,
			ChunkSize:     r.ChunkSize,
			ChunkOverlap:  r.ChunkOverlap,
			Strategy:      models.ChunkStrategy(r.Strategy),
			ChunkingURL:   r.ChunkingURL,
			KeepDuplicate: r.KeepDuplicate,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &c.Metadata); err != nil {
			return c, fmt.Errorf("decode collection metadata: %w", err)
		}
	}
	return c, nil
}

const collectionColumns = `id, name, description, metadata, dense_model, sparse_model,
	reranker_model, chunk_size, chunk_overlap, strategy, chunking_url,
	keep_duplicate, is_deleted, created_at, updated_at`

// CreateCollection inserts a new collection.
func (s *Store) CreateCollection(ctx context.Context, c models.Collection) error {
	meta, err := json.Marshal(orEmptyMap(c.Metadata))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collections (id, name, description, metadata, dense_model,
			sparse_model, reranker_model, chunk_size, chunk_overlap, strategy,
			chunking_url, keep_duplicate, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)`,
		c.ID, c.Name, c.Description, meta,
		c.Settings.DenseModel, c.Settings.SparseModel, c.Settings.RerankerModel,
		c.Settings.ChunkSize, c.Settings.ChunkOverlap, string(c.Settings.Strategy),
		c.Settings.ChunkingURL, c.Settings.KeepDuplicate, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert collection: %w", err)
	}
	return nil
}

// GetCollection fetches one live collection by id.
func (s *Store) GetCollection(ctx context.Context, id string) (models.Collection, error) {
	var row collectionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+collectionColumns+` FROM collections WHERE id = $1 AND NOT is_deleted`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Collection{}, ErrNotFound
	}
	if err != nil {
		return models.Collection{}, fmt.Errorf("get collection: %w", err)
	}
	return row.toModel()
}

// ListCollections returns every live collection, newest first.
func (s *Store) ListCollections(ctx context.Context) ([]models.Collection, error) {
	var rows []collectionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+collectionColumns+` FROM collections WHERE NOT is_deleted ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	out := make([]models.Collection, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// UpdateCollectionChunking updates the mutable chunking parameters of a
// collection. Encoder settings are immutable once documents exist.
func (s *Store) UpdateCollectionChunking(ctx context.Context, id string, chunkSize, chunkOverlap int, strategy models.ChunkStrategy, chunkingURL string) (models.Collection, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE collections
		SET chunk_size = $2, chunk_overlap = $3, strategy = $4, chunking_url = $5, updated_at = now()
		WHERE id = $1 AND NOT is_deleted`,
		id, chunkSize, chunkOverlap, string(strategy), chunkingURL)
	if err != nil {
		return models.Collection{}, fmt.Errorf("update collection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Collection{}, ErrNotFound
	}
	return s.GetCollection(ctx, id)
}

// DeleteCollection soft-deletes a collection and all its resources.
func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE collections SET is_deleted = TRUE, updated_at = now() WHERE id = $1 AND NOT is_deleted`, id)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE resources SET is_deleted = TRUE, status = $2, updated_at = now() WHERE collection_id = $1`,
		id, string(models.StatusDeleted)); err != nil {
		return fmt.Errorf("delete collection resources: %w", err)
	}
	return tx.Commit()
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
