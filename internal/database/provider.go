package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/kozaktomas/face-resolver/internal/config"
)

// Opener connects to a backend and applies its migrations.
type Opener func(ctx context.Context, cfg *config.DatabaseConfig) (IdentityStore, error)

var (
	backends   = map[string]Opener{}
	backendsMu sync.RWMutex
)

// RegisterBackend registers an identity store backend for one or more URL schemes.
// This is called from the init function of each backend package to avoid import cycles.
func RegisterBackend(open Opener, schemes ...string) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	for _, s := range schemes {
		backends[s] = open
	}
}

// RegisteredBackends returns the registered URL schemes, sorted.
func RegisteredBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	schemes := make([]string, 0, len(backends))
	for s := range backends {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Open selects a backend by the scheme of DATABASE_URL and opens it.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (IdentityStore, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	scheme := urlScheme(cfg.URL)

	backendsMu.RLock()
	open, ok := backends[scheme]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported database scheme %q (registered: %s)",
			scheme, strings.Join(RegisteredBackends(), ", "))
	}

	store, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", scheme, err)
	}
	return store, nil
}

// urlScheme extracts the scheme, treating "file:" paths as SQLite.
func urlScheme(raw string) string {
	if strings.HasPrefix(raw, "file:") {
		return "file"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
