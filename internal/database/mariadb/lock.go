package mariadb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/face-resolver/internal/database"
)

// namedLocker uses GET_LOCK, which is bound to the connection that took it.
type namedLocker struct{}

func (namedLocker) TryLock(ctx context.Context, db *sql.DB, name, holder string) (func(context.Context) error, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, database.Unavailable("acquire lock connection", err)
	}

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, database.Unavailable("get lock", err)
	}
	if !got.Valid || got.Int64 != 1 {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", name, database.ErrRunLocked)
	}

	release := func(ctx context.Context) error {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", name); err != nil {
			return database.Unavailable("release lock", err)
		}
		return nil
	}
	return release, nil
}
