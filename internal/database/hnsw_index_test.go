package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileIndex(t *testing.T, dir string, dim int) *EmbeddingIndex {
	t.Helper()
	idx, err := OpenEmbeddingIndex(context.Background(), IndexOptions{
		Dimension:    dim,
		Storage:      NewFileStore(dir),
		SnapshotName: "faces.idx",
		WALDir:       filepath.Join(dir, "wal"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestEmbeddingIndexSearch(t *testing.T) {
	idx := NewEmbeddingIndex(IndexOptions{Dimension: 2})

	points := map[int64][]float32{
		1: {0, 0},
		2: {1, 0},
		3: {0, 2},
		4: {3, 3},
		5: {-1, 0},
	}
	for id, vec := range points {
		require.NoError(t, idx.Add(id, vec))
	}
	assert.Equal(t, 5, idx.Len())

	got, err := idx.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{
		{FaceID: 1, Distance: 0},
		{FaceID: 2, Distance: 1},
		{FaceID: 5, Distance: 1},
	}, got)

	all, err := idx.Search([]float32{0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, int64(4), all[4].FaceID)
	assert.InDelta(t, 18.0, all[4].Distance, 1e-9)
}

func TestEmbeddingIndexSearchEdgeCases(t *testing.T) {
	idx := NewEmbeddingIndex(IndexOptions{Dimension: 3})

	got, err := idx.Search([]float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Empty(t, got, "empty index")

	require.NoError(t, idx.Add(1, []float32{1, 2, 3}))

	got, err = idx.Search([]float32{1, 2, 3}, 0)
	require.NoError(t, err)
	assert.Empty(t, got, "k = 0")

	_, err = idx.Search([]float32{1, 2}, 1)
	var dimErr *DimensionMismatchError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Actual)
	assert.NotErrorIs(t, err, ErrCorruptIndex)
}

func TestEmbeddingIndexAdd(t *testing.T) {
	idx := NewEmbeddingIndex(IndexOptions{Dimension: 2})
	vec := []float32{1, 1}
	require.NoError(t, idx.Add(9, vec))

	// The index keeps its own copy.
	vec[0] = 100
	stored, ok := idx.Vector(9)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 1}, stored)

	err := idx.Add(9, []float32{2, 2})
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, 1, idx.Len())

	err = idx.Add(10, []float32{1, 2, 3})
	var dimErr *DimensionMismatchError
	assert.True(t, errors.As(err, &dimErr))
	assert.False(t, idx.Has(10))
}

func TestEmbeddingIndexTiesOrderedByID(t *testing.T) {
	idx := NewEmbeddingIndex(IndexOptions{Dimension: 2})
	for _, id := range []int64{7, 3, 5} {
		require.NoError(t, idx.Add(id, []float32{1, 1}))
	}

	got, err := idx.Search([]float32{1, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{3, 0}, {5, 0}, {7, 0}}, got)
}

func TestEmbeddingIndexPersistAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx := newFileIndex(t, dir, 4)
	for i := int64(1); i <= 20; i++ {
		require.NoError(t, idx.Add(i, []float32{float32(i), 0, float32(i % 3), 1}))
	}
	require.NoError(t, idx.Persist(ctx))
	assert.Equal(t, 0, idx.Stats().Pending)

	// Added after the snapshot: survives only through the write-ahead log.
	require.NoError(t, idx.Add(21, []float32{21, 0, 0, 1}))
	require.NoError(t, idx.Add(22, []float32{22, 0, 1, 1}))
	require.NoError(t, idx.Flush())
	assert.Equal(t, 2, idx.Stats().Pending)

	query := []float32{10, 0, 1, 1}
	want, err := idx.Search(query, 5)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reloaded := newFileIndex(t, dir, 4)
	assert.Equal(t, 22, reloaded.Len())

	stats := reloaded.Stats()
	assert.Equal(t, 2, stats.Replayed)
	assert.Equal(t, int64(22), stats.MaxFaceID)
	assert.Equal(t, DistanceMetric, stats.Metric)
	assert.False(t, stats.BuildTime.IsZero())

	got, err := reloaded.Search(query, 5)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	vec, ok := reloaded.Vector(22)
	require.True(t, ok)
	assert.Equal(t, []float32{22, 0, 1, 1}, vec)
}

func TestEmbeddingIndexLoadWithoutSnapshot(t *testing.T) {
	idx := newFileIndex(t, t.TempDir(), 8)
	assert.Equal(t, 0, idx.Len())
	assert.True(t, idx.Stats().BuildTime.IsZero())
}

func TestEmbeddingIndexLoadCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, store.Put(ctx, "faces.idx", []byte("definitely not an index")))

	_, err := OpenEmbeddingIndex(ctx, IndexOptions{Dimension: 4, Storage: store, SnapshotName: "faces.idx"})
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestEmbeddingIndexLoadDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir)

	idx := NewEmbeddingIndex(IndexOptions{Dimension: 4, Storage: store, SnapshotName: "faces.idx"})
	require.NoError(t, idx.Add(1, []float32{1, 2, 3, 4}))
	require.NoError(t, idx.Persist(ctx))

	_, err := OpenEmbeddingIndex(ctx, IndexOptions{Dimension: 8, Storage: store, SnapshotName: "faces.idx"})
	require.ErrorIs(t, err, ErrCorruptIndex)
	var dimErr *DimensionMismatchError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 4, dimErr.Actual)
}

func appendToFile(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestEmbeddingIndexTornWALTail(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx := newFileIndex(t, dir, 2)
	require.NoError(t, idx.Add(1, []float32{1, 1}))
	require.NoError(t, idx.Add(2, []float32{2, 2}))
	walPath := idx.Stats().WALPath
	require.NoError(t, idx.Close())

	// A prepare entry cut off after its type byte and part of its sequence number.
	appendToFile(t, walPath, []byte{4, 0x01, 0x02, 0x03})

	reloaded := newFileIndex(t, dir, 2)
	assert.Equal(t, 2, reloaded.Len())
	assert.Equal(t, 2, reloaded.Stats().Replayed)

	err := reloaded.Add(3, []float32{3, 3})
	require.ErrorIs(t, err, ErrCorruptIndex)
	assert.False(t, reloaded.Has(3))

	require.NoError(t, reloaded.Recover(ctx))
	assert.Equal(t, 0, reloaded.Stats().Pending)
	require.NoError(t, reloaded.Add(3, []float32{3, 3}))
	require.NoError(t, reloaded.Flush())
	require.NoError(t, reloaded.Close())

	again := newFileIndex(t, dir, 2)
	assert.Equal(t, 3, again.Len())
	assert.Equal(t, 1, again.Stats().Replayed)
}

func TestEmbeddingIndexReaderLeavesWriterLogIntact(t *testing.T) {
	dir := t.TempDir()
	vec := func(i int64) []float32 {
		v := make([]float32, 16)
		v[0] = float32(i)
		v[int(i)%16] += 1
		return v
	}

	writer := newFileIndex(t, dir, 16)
	for i := int64(1); i <= 20; i++ {
		require.NoError(t, writer.Add(i, vec(i)))
	}
	walPath := writer.Stats().WALPath

	// The writer is in the middle of its next entry when another process loads.
	appendToFile(t, walPath, []byte{4, 0x15, 0x00})
	before, err := os.Stat(walPath)
	require.NoError(t, err)

	reader := newFileIndex(t, dir, 16)
	assert.Equal(t, 20, reader.Len())
	require.NoError(t, reader.Close())

	after, err := os.Stat(walPath)
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size(), "loading must not rewrite the log")

	for i := int64(21); i <= 40; i++ {
		require.NoError(t, writer.Add(i, vec(i)))
	}
	require.NoError(t, writer.Flush())
	require.NoError(t, writer.Close())

	reopened := newFileIndex(t, dir, 16)
	assert.Equal(t, 40, reopened.Len())
	assert.Equal(t, 40, reopened.Stats().Replayed)
}

func TestEmbeddingIndexRecoverCleanLog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx := newFileIndex(t, dir, 2)
	require.NoError(t, idx.Recover(ctx))
	assert.True(t, idx.Stats().BuildTime.IsZero(), "nothing to recover, no snapshot written")

	require.NoError(t, idx.Add(1, []float32{1, 0}))
	require.NoError(t, idx.Close())

	reloaded := newFileIndex(t, dir, 2)
	require.NoError(t, reloaded.Recover(ctx))
	stats := reloaded.Stats()
	assert.False(t, stats.BuildTime.IsZero())
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, reloaded.Len())
}

func TestEmbeddingIndexPersistMemoryOnly(t *testing.T) {
	idx := NewEmbeddingIndex(IndexOptions{Dimension: 2})
	require.NoError(t, idx.Add(1, []float32{0, 1}))
	require.NoError(t, idx.Persist(context.Background()))
	require.NoError(t, idx.Flush())
	assert.Equal(t, 1, idx.Len())
}
