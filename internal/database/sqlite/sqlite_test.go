package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/face-resolver/internal/config"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/database/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) database.IdentityStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faces.db")
	store, err := NewStore(context.Background(), "sqlite://"+path, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"sqlite scheme", "sqlite:///var/lib/faces.db", "file:/var/lib/faces.db?", false},
		{"sqlite3 scheme", "sqlite3://data/faces.db", "file:data/faces.db?", false},
		{"file prefix", "file:faces.db?mode=rwc", "file:faces.db?", false},
		{"memory", "sqlite://:memory:", "file::memory:?", false},
		{"empty path", "sqlite://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DSN(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, database.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, got, tt.want)
			assert.Contains(t, got, "_pragma=foreign_keys%281%29")
			assert.Contains(t, got, "_pragma=busy_timeout%285000%29")
		})
	}
}

func TestOpenRegistered(t *testing.T) {
	assert.Contains(t, database.RegisteredBackends(), "sqlite")
	assert.Contains(t, database.RegisteredBackends(), "file")

	path := filepath.Join(t.TempDir(), "open.db")
	store, err := database.Open(context.Background(), &config.DatabaseConfig{URL: "file:" + path})
	require.NoError(t, err)
	defer store.Close()

	rev, err := store.Revision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := "sqlite://" + filepath.Join(t.TempDir(), "faces.db")

	store, err := NewStore(ctx, path, time.Hour)
	require.NoError(t, err)
	_, err = store.AddPerson(ctx, "Jan")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewStore(ctx, path, time.Hour)
	require.NoError(t, err)
	defer store.Close()

	applied, err := store.MigrationsApplied(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_initial.sql"}, applied)

	persons, err := store.ListPersons(ctx)
	require.NoError(t, err)
	assert.Len(t, persons, 1)
}

func TestRunLockTakeover(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, "sqlite://"+filepath.Join(t.TempDir(), "lock.db"), time.Hour)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.TryLockRun(ctx, "crashed")
	require.NoError(t, err)

	// Age the row beyond the TTL.
	_, err = store.DB().ExecContext(ctx, "UPDATE run_locks SET acquired_at = acquired_at - 7200")
	require.NoError(t, err)

	release, err := store.TryLockRun(ctx, "next")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRunLockHeartbeat(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, "sqlite://"+filepath.Join(t.TempDir(), "lock.db"), 2*time.Second)
	require.NoError(t, err)
	defer store.Close()

	release, err := store.TryLockRun(ctx, "long-run")
	require.NoError(t, err)

	// Outlive the TTL; the holder keeps the row fresh.
	time.Sleep(3500 * time.Millisecond)

	_, err = store.TryLockRun(ctx, "second-run")
	assert.ErrorIs(t, err, database.ErrRunLocked)

	require.NoError(t, release(ctx))

	release, err = store.TryLockRun(ctx, "second-run")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}
