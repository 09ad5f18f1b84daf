package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/face-resolver/internal/database"
)

// advisoryLocker holds a session-level advisory lock on a dedicated connection.
// The lock disappears with the session, so a crashed run never leaves it behind.
type advisoryLocker struct{}

func (advisoryLocker) TryLock(ctx context.Context, db *sql.DB, name, holder string) (func(context.Context) error, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, database.Unavailable("acquire lock connection", err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", name).Scan(&locked); err != nil {
		conn.Close()
		return nil, database.Unavailable("try advisory lock", err)
	}
	if !locked {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", name, database.ErrRunLocked)
	}

	release := func(ctx context.Context) error {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", name); err != nil {
			return database.Unavailable("release advisory lock", err)
		}
		return nil
	}
	return release, nil
}
