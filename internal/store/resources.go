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

type resourceRow struct {
	ID             string    `db:"id"`
	CollectionID   string    `db:"collection_id"`
	OwnerID        string    `db:"owner_id"`
	Title          string    `db:"title"`
	URL            string    `db:"url"`
	Content        string    `db:"content"`
	ContentHash    string    `db:"content_hash"`
	Description    string    `db:"description"`
	Metadata       []byte    `db:"metadata"`
	ChunkOverrides []byte    `db:"chunk_overrides"`
	Status         string    `db:"status"`
	StatusMessage  string    `db:"status_message"`
	RefreshedAt    time.Time `db:"refreshed_at"`
	IsDeleted      bool      `db:"is_deleted"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r resourceRow) toModel() (models.Resource, error) {
	res := models.Resource{
		ID:           r.ID,
		CollectionID: r.CollectionID,
		OwnerID:      r.OwnerID,
		Title:        r.Title,
		URL:          r.URL,
		Content:      r.Content,
		ContentHash:  r.ContentHash,
		Description:  r.Description,
		Status:       models.ResourceStatus(r.Status),
		StatusMsg:    r.StatusMessage,
		RefreshedAt:  r.RefreshedAt,
		IsDeleted:    r.IsDeleted,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &res.Metadata); err != nil {
			return res, fmt.Errorf("decode resource metadata: %w", err)
		}
	}
	if len(r.ChunkOverrides) > 0 {
		var ov models.ChunkOverrides
		if err := json.Unmarshal(r.ChunkOverrides, &ov); err != nil {
			return res, fmt.Errorf("decode chunk overrides: %w", err)
		}
		res.Overrides = &ov
	}
	return res, nil
}

const resourceColumns = `id, collection_id, owner_id, title, url, content, content_hash,
	description, metadata, chunk_overrides, status, status_message,
	refreshed_at, is_deleted, created_at, updated_at`

// CreateResource inserts a new resource.
func (s *Store) CreateResource(ctx context.Context, r models.Resource) error {
	meta, err := json.Marshal(orEmptyMap(r.Metadata))
	if err != nil {
		return err
	}
	var overrides []byte
	if r.Overrides != nil {
		if overrides, err = json.Marshal(r.Overrides); err != nil {
			return err
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resources (id, collection_id, owner_id, title, url, content,
			content_hash, description, metadata, chunk_overrides, status,
			status_message, refreshed_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)`,
		r.ID, r.CollectionID, r.OwnerID, r.Title, r.URL, r.Content,
		r.ContentHash, r.Description, meta, nullableBytes(overrides),
		string(r.Status), r.StatusMsg, r.RefreshedAt, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	return nil
}

// GetResource fetches one live resource by id.
func (s *Store) GetResource(ctx context.Context, id string) (models.Resource, error) {
	var row resourceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+resourceColumns+` FROM resources WHERE id = $1 AND NOT is_deleted`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Resource{}, ErrNotFound
	}
	if err != nil {
		return models.Resource{}, fmt.Errorf("get resource: %w", err)
	}
	return row.toModel()
}

// ListResources returns the live resources of a collection, newest first.
func (s *Store) ListResources(ctx context.Context, collectionID string) ([]models.Resource, error) {
	var rows []resourceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+resourceColumns+` FROM resources
		 WHERE collection_id = $1 AND NOT is_deleted ORDER BY created_at DESC`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	out := make([]models.Resource, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// SetResourceContent stores freshly loaded content and its hash, marking the
// resource loaded.
func (s *Store) SetResourceContent(ctx context.Context, id, content, contentHash string) error {
	return s.setStatusQuery(ctx, `
		UPDATE resources
		SET content = $2, content_hash = $3, status = $4, status_message = '',
			refreshed_at = now(), updated_at = now()
		WHERE id = $1 AND NOT is_deleted`,
		id, content, contentHash, string(models.StatusLoaded))
}

// SetResourceStatus records a lifecycle transition.
func (s *Store) SetResourceStatus(ctx context.Context, id string, status models.ResourceStatus, msg string) error {
	return s.setStatusQuery(ctx, `
		UPDATE resources SET status = $2, status_message = $3, updated_at = now()
		WHERE id = $1 AND NOT is_deleted`,
		id, string(status), msg)
}

// UpdateResourceMeta updates the caller-editable fields of a resource.
func (s *Store) UpdateResourceMeta(ctx context.Context, id, title, description string, metadata map[string]any) (models.Resource, error) {
	meta, err := json.Marshal(orEmptyMap(metadata))
	if err != nil {
		return models.Resource{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE resources SET title = $2, description = $3, metadata = $4, updated_at = now()
		WHERE id = $1 AND NOT is_deleted`,
		id, title, description, meta)
	if err != nil {
		return models.Resource{}, fmt.Errorf("update resource: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Resource{}, ErrNotFound
	}
	return s.GetResource(ctx, id)
}

// SoftDeleteResource marks a resource deleted. Vector store cleanup is the
// caller's responsibility.
func (s *Store) SoftDeleteResource(ctx context.Context, id string) error {
	return s.setStatusQuery(ctx, `
		UPDATE resources SET is_deleted = TRUE, status = $2, updated_at = now()
		WHERE id = $1 AND NOT is_deleted`,
		id, string(models.StatusDeleted))
}

// ListStaleResources returns live URL-backed resources not refreshed since
// the cutoff. The sync job re-issues load events for them.
func (s *Store) ListStaleResources(ctx context.Context, cutoff time.Time, limit int) ([]models.Resource, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []resourceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+resourceColumns+` FROM resources
		 WHERE NOT is_deleted AND url <> '' AND refreshed_at < $1
		 ORDER BY refreshed_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale resources: %w", err)
	}
	out := make([]models.Resource, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) setStatusQuery(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update resource: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
