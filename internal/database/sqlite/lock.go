package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/face-resolver/internal/database"
)

// defaultLockTTL applies when no TTL is configured.
const defaultLockTTL = 6 * time.Hour

// tableLocker keeps the run lock as a row in run_locks. SQLite has no
// session locks, so a row older than ttl is considered abandoned and taken over.
// The holder refreshes acquired_at every ttl/3 while it holds the lock.
type tableLocker struct {
	ttl time.Duration
}

func (l tableLocker) TryLock(ctx context.Context, db *sql.DB, name, holder string) (func(context.Context) error, error) {
	ttl := l.ttl
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	now := time.Now().Unix()

	if _, err := db.ExecContext(ctx,
		"DELETE FROM run_locks WHERE name = ? AND acquired_at < ?",
		name, now-int64(ttl/time.Second)); err != nil {
		return nil, database.Unavailable("expire run lock", err)
	}

	res, err := db.ExecContext(ctx,
		"INSERT INTO run_locks (name, holder, acquired_at) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING",
		name, holder, now)
	if err != nil {
		return nil, database.Unavailable("acquire run lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, database.Unavailable("acquire run lock", err)
	}
	if n == 0 {
		var owner string
		_ = db.QueryRowContext(ctx, "SELECT holder FROM run_locks WHERE name = ?", name).Scan(&owner)
		return nil, fmt.Errorf("%s held by %q: %w", name, owner, database.ErrRunLocked)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		heartbeat(db, name, holder, ttl/3, stop)
	}()

	var once sync.Once
	release := func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			wg.Wait()
		})
		if _, err := db.ExecContext(ctx,
			"DELETE FROM run_locks WHERE name = ? AND holder = ?", name, holder); err != nil {
			return database.Unavailable("release run lock", err)
		}
		return nil
	}
	return release, nil
}

// heartbeat refreshes the lock row until stop is closed.
func heartbeat(db *sql.DB, name, holder string, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			res, err := db.ExecContext(ctx,
				"UPDATE run_locks SET acquired_at = ? WHERE name = ? AND holder = ?",
				time.Now().Unix(), name, holder)
			cancel()
			if err != nil {
				slog.Warn("failed to refresh run lock", "holder", holder, "error", err)
				continue
			}
			if n, _ := res.RowsAffected(); n == 0 {
				slog.Warn("run lock was taken over", "holder", holder)
				return
			}
		}
	}
}
