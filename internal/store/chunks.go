package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vektorlab/passage/internal/models"
)

type chunkRow struct {
	ID           string    `db:"id"`
	ResourceID   string    `db:"resource_id"`
	CollectionID string    `db:"collection_id"`
	OwnerID      string    `db:"owner_id"`
	Data         string    `db:"data"`
	VectorSource string    `db:"vector_source"`
	Metadata     []byte    `db:"metadata"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r chunkRow) toModel() (models.Chunk, error) {
	ch := models.Chunk{
		ID:           r.ID,
		ResourceID:   r.ResourceID,
		CollectionID: r.CollectionID,
		OwnerID:      r.OwnerID,
		Data:         r.Data,
		VectorSource: r.VectorSource,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &ch.Metadata); err != nil {
			return ch, fmt.Errorf("decode chunk metadata: %w", err)
		}
	}
	return ch, nil
}

// UpsertChunks writes the text side of persisted chunks. Vectors live only
// in the vector store; re-ingesting the same content-addressed id updates in
// place.
func (s *Store) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO chunks (id, resource_id, collection_id, owner_id, data, vector_source, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE
		SET resource_id = EXCLUDED.resource_id, data = EXCLUDED.data,
			vector_source = EXCLUDED.vector_source, metadata = EXCLUDED.metadata,
			updated_at = now()`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ch := range chunks {
		meta, err := json.Marshal(orEmptyMap(ch.Metadata))
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.ResourceID, ch.CollectionID, ch.OwnerID,
			ch.Data, ch.VectorSource, meta); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

// ListChunks returns the stored chunks of a resource in insertion order.
func (s *Store) ListChunks(ctx context.Context, resourceID string) ([]models.Chunk, error) {
	var rows []chunkRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, resource_id, collection_id, owner_id, data, vector_source, metadata, created_at, updated_at
		FROM chunks WHERE resource_id = $1 ORDER BY created_at, id`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	out := make([]models.Chunk, 0, len(rows))
	for _, r := range rows {
		ch, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// GetChunk fetches one stored chunk by id.
func (s *Store) GetChunk(ctx context.Context, id string) (models.Chunk, error) {
	var rows []chunkRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, resource_id, collection_id, owner_id, data, vector_source, metadata, created_at, updated_at
		FROM chunks WHERE id = $1`, id)
	if err != nil {
		return models.Chunk{}, fmt.Errorf("get chunk: %w", err)
	}
	if len(rows) == 0 {
		return models.Chunk{}, ErrNotFound
	}
	return rows[0].toModel()
}

// DeleteChunksByResource removes the stored chunks of a resource.
func (s *Store) DeleteChunksByResource(ctx context.Context, resourceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE resource_id = $1`, resourceID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}
