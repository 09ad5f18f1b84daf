// Package sqlite is the embedded single-file backend of the identity store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/face-resolver/internal/config"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/database/sqlstore"
	_ "modernc.org/sqlite"
)

func init() {
	database.RegisterBackend(Open, "sqlite", "sqlite3", "file")
}

// pragmas applied to every connection.
var pragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
}

// DSN converts a sqlite://, sqlite3:// or file: URL into a modernc DSN.
func DSN(rawURL string) (string, error) {
	path := rawURL
	for _, prefix := range []string{"sqlite3://", "sqlite://", "file:"} {
		if strings.HasPrefix(path, prefix) {
			path = strings.TrimPrefix(path, prefix)
			break
		}
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "", fmt.Errorf("%w: sqlite URL %q has no path", database.ErrInvalidArgument, rawURL)
	}
	if path != ":memory:" {
		path = filepath.Clean(path)
	}

	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode(), nil
}

// Dialect describes SQLite: ? placeholders, BLOB embeddings, LastInsertId and
// a lock row with a TTL.
func Dialect(lockTTL time.Duration) sqlstore.Dialect {
	encode, dest := sqlstore.BlobCodec()
	return sqlstore.Dialect{
		Name:             "sqlite",
		Placeholder:      sq.Question,
		EncodeEmbedding:  encode,
		NewEmbeddingDest: dest,
		Migrations:       migrations(),
		Lock:             tableLocker{ttl: lockTTL},
	}
}

// NewStore opens the database file and applies pending migrations.
func NewStore(ctx context.Context, rawURL string, lockTTL time.Duration) (*sqlstore.Store, error) {
	dsn, err := DSN(rawURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// One writer at a time; a single connection also keeps transactions
	// and the pragmas on the same handle.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite: %w", err)
	}

	store := sqlstore.New(db, Dialect(lockTTL))
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Open is the database.Opener for sqlite:// and file: URLs.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (database.IdentityStore, error) {
	return NewStore(ctx, cfg.URL, cfg.RunLockTTL)
}
