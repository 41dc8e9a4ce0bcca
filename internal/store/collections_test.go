package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vektorlab/passage/internal/models"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "postgres"), nil), mock
}

func collectionMockRow(id string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "description", "metadata", "dense_model", "sparse_model",
		"reranker_model", "chunk_size", "chunk_overlap", "strategy", "chunking_url",
		"keep_duplicate", "is_deleted", "created_at", "updated_at",
	}).AddRow(id, "docs", "test collection", []byte(`{"team":"search"}`),
		"BAAI/bge-small-en-v1.5", "prithivida/Splade_PP_en_v1", "", 1000, 100,
		"semantic", "", false, false, now, now)
}

func TestGetCollection(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectQuery(`(?s)SELECT .+ FROM collections WHERE id = \$1 AND NOT is_deleted`).
		WithArgs("col-1").
		WillReturnRows(collectionMockRow("col-1"))

	col, err := s.GetCollection(context.Background(), "col-1")
	require.NoError(t, err)
	assert.Equal(t, "col-1", col.ID)
	assert.Equal(t, "docs", col.Name)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", col.Settings.DenseModel)
	assert.Equal(t, models.StrategySemantic, col.Settings.Strategy)
	assert.Equal(t, 1000, col.Settings.ChunkSize)
	assert.Equal(t, map[string]any{"team": "search"}, col.Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCollectionNotFound(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectQuery(`(?s)SELECT .+ FROM collections`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetCollection(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateCollection(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectExec(`INSERT INTO collections`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CreateCollection(context.Background(), models.Collection{
		ID:   "col-1",
		Name: "docs",
		Settings: models.CollectionSettings{
			DenseModel: "BAAI/bge-small-en-v1.5",
			ChunkSize:  1000,
			Strategy:   models.StrategyRecursive,
		},
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCollectionChunkingNotFound(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectExec(`UPDATE collections`).
		WithArgs("col-1", 800, 80, "recursive", "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.UpdateCollectionChunking(context.Background(), "col-1", 800, 80, models.StrategyRecursive, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCollectionCascades(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE collections SET is_deleted = TRUE`)).
		WithArgs("col-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE resources SET is_deleted = TRUE`)).
		WithArgs("col-1", "deleted").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteCollection(context.Background(), "col-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCollectionMissingRollsBack(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE collections SET is_deleted = TRUE`).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.DeleteCollection(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
