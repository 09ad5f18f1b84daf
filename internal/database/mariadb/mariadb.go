package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/face-resolver/internal/config"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/database/sqlstore"
)

func init() {
	database.RegisterBackend(Open, "mysql", "mariadb")
}

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// DSN converts a mysql:// or mariadb:// URL (or a bare driver DSN) into a
// driver DSN with the options the store depends on.
func DSN(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("MariaDB DSN is required")
	}
	for _, prefix := range []string{"mysql://", "mariadb://"} {
		if strings.HasPrefix(raw, prefix) {
			raw = urlToDSN(strings.TrimPrefix(raw, prefix))
			break
		}
	}

	cfg, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("parsing MariaDB DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.MultiStatements = true
	// RowsAffected must count matched rows, not changed ones.
	cfg.ClientFoundRows = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN(), nil
}

// urlToDSN rewrites "user:pass@host:port/db?opts" to "user:pass@tcp(host:port)/db?opts".
func urlToDSN(rest string) string {
	creds, hostPart := "", rest
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		creds, hostPart = rest[:i+1], rest[i+1:]
	}
	host, path := hostPart, ""
	if i := strings.IndexByte(hostPart, '/'); i >= 0 {
		host, path = hostPart[:i], hostPart[i:]
	}
	if host == "" {
		return creds + path
	}
	return creds + "tcp(" + host + ")" + path
}

// NewPool creates a new MariaDB connection pool.
func NewPool(cfg *config.DatabaseConfig) (*Pool, error) {
	dsn, err := DSN(cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB returns the underlying sql.DB.
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

// Dialect describes MariaDB and MySQL.
func Dialect() sqlstore.Dialect {
	encode, dest := sqlstore.BlobCodec()
	return sqlstore.Dialect{
		Name:             "mariadb",
		Placeholder:      sq.Question,
		EncodeEmbedding:  encode,
		NewEmbeddingDest: dest,
		Migrations:       migrations(),
		Lock:             namedLocker{},
	}
}

// Open is the database.Opener for mysql:// and mariadb:// URLs.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (database.IdentityStore, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}
	store := sqlstore.New(pool.DB(), Dialect())
	if err := store.Migrate(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}
