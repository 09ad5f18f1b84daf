//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/face-resolver/internal/config"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/database/storetest"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Pool, func(name string) string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	urlFor := func(name string) string {
		return fmt.Sprintf("postgres://test:test@%s:%s/%s?sslmode=disable", host, port.Port(), name)
	}

	pool, err := NewPool(&config.DatabaseConfig{
		URL:          urlFor("testdb"),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, urlFor, cleanup
}

func TestPostgresStore(t *testing.T) {
	admin, urlFor, cleanup := setupTestContainer(t)
	defer cleanup()

	var seq atomic.Int64
	storetest.Run(t, func(t *testing.T) database.IdentityStore {
		ctx := context.Background()
		name := fmt.Sprintf("faces_%d", seq.Add(1))
		if _, err := admin.DB().ExecContext(ctx, "CREATE DATABASE "+name); err != nil {
			t.Fatalf("Failed to create database: %v", err)
		}

		store, err := Open(ctx, &config.DatabaseConfig{
			URL:          urlFor(name),
			MaxOpenConns: 5,
			MaxIdleConns: 2,
		})
		if err != nil {
			t.Fatalf("Failed to open store: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestEmbeddingRoundTrip(t *testing.T) {
	admin, urlFor, cleanup := setupTestContainer(t)
	defer cleanup()
	_ = admin

	ctx := context.Background()
	store, err := Open(ctx, &config.DatabaseConfig{URL: urlFor("testdb"), MaxOpenConns: 5, MaxIdleConns: 2})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	emb := make([]float32, 512)
	for i := range emb {
		emb[i] = float32(i) / 512
	}
	id, err := store.AddFace(ctx, database.NewFace{FileRef: "a.jpg", Embedding: emb})
	if err != nil {
		t.Fatalf("AddFace failed: %v", err)
	}

	face, err := store.GetFace(ctx, id)
	if err != nil {
		t.Fatalf("GetFace failed: %v", err)
	}
	if len(face.Embedding) != len(emb) {
		t.Fatalf("expected %d dimensions, got %d", len(emb), len(face.Embedding))
	}
	for i := range emb {
		if face.Embedding[i] != emb[i] {
			t.Fatalf("embedding[%d] = %v, want %v", i, face.Embedding[i], emb[i])
		}
	}
}
