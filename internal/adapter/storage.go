package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vektorlab/passage/internal/store"
)

// ErrNoRecord is returned when no persisted adapter exists for a collection.
var ErrNoRecord = errors.New("no adapter record")

// Storage persists adapter state per collection. File and database backends
// are interchangeable.
type Storage interface {
	Load(ctx context.Context, collectionID string) (store.AdapterRecord, error)
	Save(ctx context.Context, rec store.AdapterRecord) error
	Delete(ctx context.Context, collectionID string) error
}

// FileStorage keeps one JSON file per collection under a base directory.
type FileStorage struct {
	dir string
}

// NewFileStorage creates the base directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create adapter dir: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (f *FileStorage) path(collectionID string) string {
	return filepath.Join(f.dir, collectionID+".json")
}

func (f *FileStorage) Load(_ context.Context, collectionID string) (store.AdapterRecord, error) {
	buf, err := os.ReadFile(f.path(collectionID))
	if errors.Is(err, os.ErrNotExist) {
		return store.AdapterRecord{}, ErrNoRecord
	}
	if err != nil {
		return store.AdapterRecord{}, fmt.Errorf("read adapter file: %w", err)
	}
	var rec store.AdapterRecord
	if err := json.Unmarshal(buf, &rec); err != nil {
		return store.AdapterRecord{}, fmt.Errorf("decode adapter file: %w", err)
	}
	return rec, nil
}

func (f *FileStorage) Save(_ context.Context, rec store.AdapterRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := f.path(rec.CollectionID) + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("write adapter file: %w", err)
	}
	return os.Rename(tmp, f.path(rec.CollectionID))
}

func (f *FileStorage) Delete(_ context.Context, collectionID string) error {
	err := os.Remove(f.path(collectionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// DBStorage persists adapter state in the document store.
type DBStorage struct {
	db *store.Store
}

// NewDBStorage wraps an existing store.
func NewDBStorage(db *store.Store) *DBStorage {
	return &DBStorage{db: db}
}

func (d *DBStorage) Load(ctx context.Context, collectionID string) (store.AdapterRecord, error) {
	rec, err := d.db.LoadAdapter(ctx, collectionID)
	if errors.Is(err, store.ErrNotFound) {
		return store.AdapterRecord{}, ErrNoRecord
	}
	return rec, err
}

func (d *DBStorage) Save(ctx context.Context, rec store.AdapterRecord) error {
	return d.db.SaveAdapter(ctx, rec)
}

func (d *DBStorage) Delete(ctx context.Context, collectionID string) error {
	return d.db.DeleteAdapter(ctx, collectionID)
}
