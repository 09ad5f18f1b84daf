package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed tuning.yaml
var tuningYAML []byte

type Config struct {
	Database DatabaseConfig
	Index    IndexConfig
	Resolver ResolverConfig
	Web      WebConfig
	Log      LogConfig

	// tuningErr is reported by Validate when RESOLVER_TUNING_FILE cannot be used.
	tuningErr error
}

type DatabaseConfig struct {
	URL          string        // backend selected by scheme: postgres://, sqlite://, file:, mysql://, mariadb://
	MaxOpenConns int           // Maximum open connections (default 25)
	MaxIdleConns int           // Maximum idle connections (default 5)
	RunLockTTL   time.Duration // SQLite only: age after which an abandoned run lock is taken over
}

type IndexConfig struct {
	Dimension    int    `yaml:"dimension"`
	Dir          string // local directory for snapshots and the write-ahead log
	SnapshotName string
	WALDir       string
	S3           S3Config
}

// S3Config points snapshots at S3-compatible object storage instead of Dir.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Enabled reports whether snapshots go to object storage.
func (c S3Config) Enabled() bool {
	return c.Endpoint != ""
}

type ResolverConfig struct {
	KNearest         int     `yaml:"k_nearest"`
	RelativeSlack    float64 `yaml:"relative_slack"`
	MaxCandidates    int     `yaml:"max_candidates"`
	ClusterThreshold float64 `yaml:"cluster_threshold"`
	Workers          int     `yaml:"workers"`
}

type WebConfig struct {
	Host string
	Port int
	// AllowedOrigins receive CORS headers in addition to localhost.
	AllowedOrigins []string
	// APIToken, when set, is required as a bearer token on write endpoints.
	APIToken string
}

// Addr returns host:port for the HTTP listener.
func (c WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

type tuning struct {
	Index    IndexConfig    `yaml:"index"`
	Resolver ResolverConfig `yaml:"resolver"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float. Invalid values fall back to the default.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a positive Go duration such as "6h" or "90m".
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// loadTuning parses the embedded defaults and applies the optional override file.
func loadTuning(path string) (tuning, error) {
	var t tuning
	if err := yaml.Unmarshal(tuningYAML, &t); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded tuning.yaml: " + err.Error())
	}
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return t, fmt.Errorf("reading RESOLVER_TUNING_FILE: %w", err)
	}
	// Unmarshalling over the defaults keeps keys the file leaves out.
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parsing RESOLVER_TUNING_FILE %s: %w", path, err)
	}
	return t, nil
}

func Load() *Config {
	t, tuningErr := loadTuning(os.Getenv("RESOLVER_TUNING_FILE"))

	indexDir := envString("INDEX_DIR", "./data")
	snapshotName := envString("INDEX_SNAPSHOT_NAME", "faces.idx")

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
			RunLockTTL:   envDuration("RUN_LOCK_TTL", 6*time.Hour),
		},
		Index: IndexConfig{
			Dimension:    envInt("EMBEDDING_DIM", t.Index.Dimension),
			Dir:          indexDir,
			SnapshotName: snapshotName,
			WALDir:       envString("INDEX_WAL_DIR", filepath.Join(indexDir, snapshotName+".wal")),
			S3: S3Config{
				Endpoint:  os.Getenv("INDEX_S3_ENDPOINT"),
				Bucket:    os.Getenv("INDEX_S3_BUCKET"),
				Prefix:    os.Getenv("INDEX_S3_PREFIX"),
				AccessKey: os.Getenv("INDEX_S3_ACCESS_KEY"),
				SecretKey: os.Getenv("INDEX_S3_SECRET_KEY"),
				UseSSL:    envBool("INDEX_S3_USE_SSL", true),
			},
		},
		Resolver: ResolverConfig{
			KNearest:         envInt("K_NEAREST", t.Resolver.KNearest),
			RelativeSlack:    envFloat("RELATIVE_SLACK", t.Resolver.RelativeSlack),
			MaxCandidates:    envInt("MAX_CANDIDATES", t.Resolver.MaxCandidates),
			ClusterThreshold: envFloat("CLUSTER_THRESHOLD", t.Resolver.ClusterThreshold),
			Workers:          envInt("RESOLVER_WORKERS", t.Resolver.Workers),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			APIToken:       os.Getenv("WEB_API_TOKEN"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(envString("LOG_FORMAT", "text")),
		},
		tuningErr: tuningErr,
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.tuningErr != nil {
		errs = append(errs, c.tuningErr)
	}
	if c.Index.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimension must be positive, got %d", c.Index.Dimension))
	}
	if c.Resolver.KNearest <= 0 {
		errs = append(errs, fmt.Errorf("K_NEAREST must be positive, got %d", c.Resolver.KNearest))
	}
	if c.Resolver.MaxCandidates <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CANDIDATES must be positive, got %d", c.Resolver.MaxCandidates))
	}
	if c.Resolver.RelativeSlack < 0 {
		errs = append(errs, fmt.Errorf("RELATIVE_SLACK must not be negative, got %g", c.Resolver.RelativeSlack))
	}
	if c.Resolver.ClusterThreshold < 0 {
		errs = append(errs, fmt.Errorf("CLUSTER_THRESHOLD must not be negative, got %g", c.Resolver.ClusterThreshold))
	}
	if c.Resolver.Workers <= 0 {
		errs = append(errs, fmt.Errorf("RESOLVER_WORKERS must be positive, got %d", c.Resolver.Workers))
	}
	if c.Index.S3.Enabled() && c.Index.S3.Bucket == "" {
		errs = append(errs, errors.New("INDEX_S3_BUCKET is required when INDEX_S3_ENDPOINT is set"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
