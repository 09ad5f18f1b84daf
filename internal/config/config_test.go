package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"EMBEDDING_DIM", "K_NEAREST", "RELATIVE_SLACK", "MAX_CANDIDATES",
		"CLUSTER_THRESHOLD", "RESOLVER_WORKERS", "RESOLVER_TUNING_FILE", "INDEX_DIR", "INDEX_WAL_DIR",
		"INDEX_SNAPSHOT_NAME", "RUN_LOCK_TTL", "LOG_FORMAT", "WEB_HOST", "WEB_PORT", "INDEX_S3_ENDPOINT"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Index.Dimension != 128 {
		t.Errorf("expected dimension 128, got %d", cfg.Index.Dimension)
	}
	if cfg.Resolver.KNearest != 5 {
		t.Errorf("expected K_NEAREST 5, got %d", cfg.Resolver.KNearest)
	}
	if cfg.Resolver.RelativeSlack != 0.10 {
		t.Errorf("expected slack 0.10, got %v", cfg.Resolver.RelativeSlack)
	}
	if cfg.Resolver.MaxCandidates != 3 {
		t.Errorf("expected MAX_CANDIDATES 3, got %d", cfg.Resolver.MaxCandidates)
	}
	if cfg.Resolver.ClusterThreshold != 10 {
		t.Errorf("expected CLUSTER_THRESHOLD 10, got %v", cfg.Resolver.ClusterThreshold)
	}
	if cfg.Database.RunLockTTL != 6*time.Hour {
		t.Errorf("expected lock TTL 6h, got %v", cfg.Database.RunLockTTL)
	}
	if want := filepath.Join("data", "faces.idx.wal"); cfg.Index.WALDir != want {
		t.Errorf("expected WAL dir %q, got %q", want, cfg.Index.WALDir)
	}
	if cfg.Web.Addr() != "0.0.0.0:8080" {
		t.Errorf("expected 0.0.0.0:8080, got %s", cfg.Web.Addr())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "512")
	t.Setenv("K_NEAREST", "8")
	t.Setenv("RELATIVE_SLACK", "0.25")
	t.Setenv("CLUSTER_THRESHOLD", "4.5")
	t.Setenv("RUN_LOCK_TTL", "90m")
	t.Setenv("INDEX_S3_ENDPOINT", "minio:9000")
	t.Setenv("INDEX_S3_BUCKET", "faces")
	t.Setenv("INDEX_S3_USE_SSL", "false")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://faces.example.com, ,https://admin.example.com")

	cfg := Load()

	if cfg.Index.Dimension != 512 {
		t.Errorf("expected dimension 512, got %d", cfg.Index.Dimension)
	}
	if cfg.Resolver.KNearest != 8 {
		t.Errorf("expected K_NEAREST 8, got %d", cfg.Resolver.KNearest)
	}
	if cfg.Resolver.RelativeSlack != 0.25 {
		t.Errorf("expected slack 0.25, got %v", cfg.Resolver.RelativeSlack)
	}
	if cfg.Resolver.ClusterThreshold != 4.5 {
		t.Errorf("expected threshold 4.5, got %v", cfg.Resolver.ClusterThreshold)
	}
	if cfg.Database.RunLockTTL != 90*time.Minute {
		t.Errorf("expected 90m, got %v", cfg.Database.RunLockTTL)
	}
	if !cfg.Index.S3.Enabled() || cfg.Index.S3.UseSSL {
		t.Errorf("unexpected S3 config %+v", cfg.Index.S3)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://admin.example.com" {
		t.Errorf("unexpected allowed origins %v", cfg.Web.AllowedOrigins)
	}
}

func TestEnvHelpers_InvalidFallBack(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not a number", "abc"},
		{"negative", "-3"},
		{"zero", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_VALUE", tt.value)
			if got := envInt("TEST_ENV_VALUE", 7); got != 7 {
				t.Errorf("envInt(%q) = %d, want 7", tt.value, got)
			}
			if got := envDuration("TEST_ENV_VALUE", time.Second); got != time.Second {
				t.Errorf("envDuration(%q) = %v, want 1s", tt.value, got)
			}
		})
	}

	t.Setenv("TEST_ENV_VALUE", "-0.5")
	if got := envFloat("TEST_ENV_VALUE", 0.1); got != 0.1 {
		t.Errorf("envFloat(-0.5) = %v, want 0.1", got)
	}
	t.Setenv("TEST_ENV_VALUE", "maybe")
	if got := envBool("TEST_ENV_VALUE", true); !got {
		t.Error("envBool(maybe) should fall back to true")
	}
}

func TestLoad_TuningFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	content := "resolver:\n  max_candidates: 7\n  cluster_threshold: 2.5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RESOLVER_TUNING_FILE", path)
	t.Setenv("MAX_CANDIDATES", "")
	t.Setenv("CLUSTER_THRESHOLD", "")
	t.Setenv("K_NEAREST", "")

	cfg := Load()

	if cfg.Resolver.MaxCandidates != 7 {
		t.Errorf("expected MAX_CANDIDATES 7 from file, got %d", cfg.Resolver.MaxCandidates)
	}
	if cfg.Resolver.ClusterThreshold != 2.5 {
		t.Errorf("expected threshold 2.5 from file, got %v", cfg.Resolver.ClusterThreshold)
	}
	if cfg.Resolver.KNearest != 5 {
		t.Errorf("keys missing from the file keep defaults, got K_NEAREST %d", cfg.Resolver.KNearest)
	}
}

func TestLoad_TuningFileMissing(t *testing.T) {
	t.Setenv("RESOLVER_TUNING_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	err := Load().Validate()
	if err == nil || !strings.Contains(err.Error(), "RESOLVER_TUNING_FILE") {
		t.Errorf("expected tuning file error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Index:    IndexConfig{Dimension: 128},
			Resolver: ResolverConfig{KNearest: 5, MaxCandidates: 3, RelativeSlack: 0.1, ClusterThreshold: 10, Workers: 4},
			Log:      LogConfig{Format: "text"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero dimension", func(c *Config) { c.Index.Dimension = 0 }, "dimension"},
		{"zero k", func(c *Config) { c.Resolver.KNearest = 0 }, "K_NEAREST"},
		{"zero candidates", func(c *Config) { c.Resolver.MaxCandidates = 0 }, "MAX_CANDIDATES"},
		{"negative slack", func(c *Config) { c.Resolver.RelativeSlack = -1 }, "RELATIVE_SLACK"},
		{"negative threshold", func(c *Config) { c.Resolver.ClusterThreshold = -1 }, "CLUSTER_THRESHOLD"},
		{"s3 without bucket", func(c *Config) { c.Index.S3.Endpoint = "minio:9000" }, "INDEX_S3_BUCKET"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
