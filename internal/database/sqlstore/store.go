package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/face-resolver/internal/database"
)

// runLockName identifies the resolution run lock on every backend.
const runLockName = "face-resolver-run"

// inChunk bounds the number of ids bound into one IN list.
const inChunk = 500

// Store is a database.IdentityStore over a *sql.DB.
type Store struct {
	db *sql.DB
	d  Dialect
	sb sq.StatementBuilderType
}

var _ database.IdentityStore = (*Store)(nil)

// New wraps an open connection pool. Call Migrate before use.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{
		db: db,
		d:  d,
		sb: sq.StatementBuilder.PlaceholderFormat(d.Placeholder),
	}
}

// DB returns the underlying sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the backend name.
func (s *Store) Dialect() string {
	return s.d.Name
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// runner is satisfied by *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) exec(ctx context.Context, r runner, op string, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building SQL for %s: %w", op, err)
	}
	res, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, database.Unavailable(op, err)
	}
	return res, nil
}

func (s *Store) query(ctx context.Context, r runner, op string, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building SQL for %s: %w", op, err)
	}
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.Unavailable(op, err)
	}
	return rows, nil
}

// scanOne runs a single-row query. sql.ErrNoRows becomes database.ErrNotFound.
func (s *Store) scanOne(ctx context.Context, r runner, op string, b sq.Sqlizer, dest ...any) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("building SQL for %s: %w", op, err)
	}
	err = r.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrNotFound
	}
	if err != nil {
		return database.Unavailable(op, err)
	}
	return nil
}

// insertID inserts one row and returns its generated id.
func (s *Store) insertID(ctx context.Context, r runner, op string, b sq.InsertBuilder) (int64, error) {
	if s.d.Returning {
		var id int64
		if err := s.scanOne(ctx, r, op, b.Suffix("RETURNING id"), &id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := s.exec(ctx, r, op, b)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, database.Unavailable(op, err)
	}
	return id, nil
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return database.Unavailable(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return database.Unavailable(op, err)
	}
	return nil
}

// bumpRevision advances the store revision; any change a resolution run
// could depend on goes through it.
func (s *Store) bumpRevision(ctx context.Context, r runner) error {
	_, err := s.exec(ctx, r, "bump revision",
		s.sb.Update("resolver_state").
			Set("value", sq.Expr("value + 1")).
			Where(sq.Eq{"name": "revision"}))
	return err
}

// Revision returns the current store revision.
func (s *Store) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := s.scanOne(ctx, s.db, "read revision",
		s.sb.Select("value").From("resolver_state").Where(sq.Eq{"name": "revision"}), &rev)
	if errors.Is(err, database.ErrNotFound) {
		return 0, fmt.Errorf("resolver_state has no revision row: %w", database.ErrStoreUnavailable)
	}
	return rev, err
}

// TryLockRun acquires the single-writer lock through the dialect locker.
func (s *Store) TryLockRun(ctx context.Context, holder string) (func(context.Context) error, error) {
	if s.d.Lock == nil {
		return func(context.Context) error { return nil }, nil
	}
	return s.d.Lock.TryLock(ctx, s.db, runLockName, holder)
}

func now() time.Time {
	return time.Now().UTC()
}

func nullable(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// chunks splits ids into slices of at most inChunk.
func chunks(ids []int64) [][]int64 {
	var out [][]int64
	for len(ids) > inChunk {
		out = append(out, ids[:inChunk])
		ids = ids[inChunk:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
