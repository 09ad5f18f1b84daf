package resolver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/database/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.NewStore(ctx, "sqlite://"+filepath.Join(t.TempDir(), "faces.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	opts := database.IndexOptions{
		Dimension:    2,
		Storage:      database.NewFileStore(dir),
		SnapshotName: "faces.idx",
		WALDir:       filepath.Join(dir, "wal"),
		Logger:       quietLogger(),
	}
	index, err := database.OpenEmbeddingIndex(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	carol, err := store.AddPerson(ctx, "Carol")
	require.NoError(t, err)

	add := func(x, y float32) int64 {
		id, err := store.AddFace(ctx, database.NewFace{FileRef: "a.jpg", Embedding: []float32{x, y}, Confidence: 0.8})
		require.NoError(t, err)
		return id
	}
	known := add(0, 0)
	require.NoError(t, store.ConfirmFace(ctx, known, carol.ID))
	match := add(0.2, 0)
	p1 := add(40, 40)
	p2 := add(41, 40)

	run := NewRun(store, index, testOptions())
	run.Logger = quietLogger()
	report, err := run.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Considered)
	assert.Equal(t, 1, report.Suggested)
	assert.Equal(t, 2, report.Clustered)

	states, err := store.FaceStates(ctx, []int64{match, p1, p2})
	require.NoError(t, err)
	require.NotNil(t, states[match].SuggestedPersonID)
	assert.Equal(t, carol.ID, *states[match].SuggestedPersonID)
	assert.NotEmpty(t, states[p1].ClusterID)
	assert.Equal(t, states[p1].ClusterID, states[p2].ClusterID)

	again, err := run.Execute(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Considered)

	reloaded, err := database.OpenEmbeddingIndex(ctx, opts)
	require.NoError(t, err)
	defer reloaded.Close()
	assert.Equal(t, 4, reloaded.Len())
}
