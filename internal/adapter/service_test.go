package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vektorlab/passage/internal/store"
)

func TestFileStorageRoundTrip(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = fs.Load(ctx, "col-1")
	assert.ErrorIs(t, err, ErrNoRecord)

	a := NewIdentity(3)
	require.NoError(t, a.Train([][]float32{{1, 0, 0}}, [][]float32{{0, 1, 0}}, 1))
	require.NoError(t, fs.Save(ctx, adapterRecord("col-1", a)))

	rec, err := fs.Load(ctx, "col-1")
	require.NoError(t, err)
	assert.Equal(t, "col-1", rec.CollectionID)
	assert.Equal(t, 1, rec.TrainingCount)
	assert.Equal(t, 3, rec.InputDim)
	assert.Equal(t, a.Weights(), rec.Weights)
	assert.False(t, rec.UpdatedAt.IsZero())

	require.NoError(t, fs.Delete(ctx, "col-1"))
	_, err = fs.Load(ctx, "col-1")
	assert.ErrorIs(t, err, ErrNoRecord)
	assert.NoError(t, fs.Delete(ctx, "col-1"), "deleting a missing record is fine")
}

func TestServiceTransformUntrainedIsNoop(t *testing.T) {
	svc := newTestService(t)
	q := []float32{0.3, 0.4, 0.5}
	out, err := svc.Transform(context.Background(), "col-1", q)
	require.NoError(t, err)
	assert.Equal(t, q, out, "untrained adapter must not touch the vector")
}

func TestServiceTrainPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()

	svc := NewService(fs, nil)
	q := []float32{1, 0, 0}
	c := []float32{0, 1, 0}
	require.NoError(t, svc.TrainWithFeedback(ctx, "col-1", q, c))
	assert.Equal(t, 1, svc.TrainingCount(ctx, "col-1"))

	// a fresh service over the same directory sees the trained adapter
	svc2 := NewService(fs, nil)
	assert.Equal(t, 1, svc2.TrainingCount(ctx, "col-1"))
	out, err := svc2.Transform(ctx, "col-1", q)
	require.NoError(t, err)
	assert.NotEqual(t, q, out, "trained adapter projects the vector")
}

func TestServiceResetRestoresIdentity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	q := []float32{1, 0, 0}
	require.NoError(t, svc.TrainWithFeedback(ctx, "col-1", q, []float32{0, 1, 0}))
	require.NoError(t, svc.Reset(ctx, "col-1"))

	assert.Equal(t, 0, svc.TrainingCount(ctx, "col-1"))
	out, err := svc.Transform(ctx, "col-1", q)
	require.NoError(t, err)
	assert.Equal(t, q, out)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return NewService(fs, nil)
}

func adapterRecord(collectionID string, a *Adapter) store.AdapterRecord {
	return store.AdapterRecord{
		CollectionID:  collectionID,
		Weights:       a.Weights(),
		Bias:          a.Bias(),
		InputDim:      a.Dim(),
		OutputDim:     a.Dim(),
		TrainingCount: a.TrainingCount(),
	}
}
