package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/face-resolver/internal/config"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/database/sqlstore"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

func init() {
	database.RegisterBackend(Open, "postgres", "postgresql")
}

// Pool manages a PostgreSQL connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Dialect describes PostgreSQL: $n placeholders, pgvector embedding column,
// RETURNING ids and session advisory locks.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:        "postgres",
		Placeholder: sq.Dollar,
		EncodeEmbedding: func(vec []float32) (any, error) {
			return pgvector.NewVector(vec), nil
		},
		NewEmbeddingDest: func() sqlstore.EmbeddingDest {
			return &pgvector.Vector{}
		},
		Returning:  true,
		Migrations: migrations(),
		Lock:       advisoryLocker{},
	}
}

// NewStore wraps the pool in an identity store and applies pending migrations.
func NewStore(ctx context.Context, pool *Pool) (*sqlstore.Store, error) {
	store := sqlstore.New(pool.DB(), Dialect())
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Open is the database.Opener for postgres:// URLs.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (database.IdentityStore, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}
	store, err := NewStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}
