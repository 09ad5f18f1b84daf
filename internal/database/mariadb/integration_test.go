//go:build integration

package mariadb

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

// setupTestContainer starts MariaDB and returns the server address.
func setupTestContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mariadb:11",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MARIADB_ROOT_PASSWORD": "test",
		},
		WaitingFor: wait.ForLog("ready for connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return "", func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return fmt.Sprintf("%s:%s", host, port.Port()), func() { container.Terminate(ctx) }
}

func TestMariaDBStore(t *testing.T) {
	addr, cleanup := setupTestContainer(t)
	defer cleanup()

	admin, err := NewPool(&config.DatabaseConfig{
		URL:          fmt.Sprintf("mysql://root:test@%s/mysql", addr),
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer admin.Close()

	var seq atomic.Int64
	storetest.Run(t, func(t *testing.T) database.IdentityStore {
		ctx := context.Background()
		name := fmt.Sprintf("faces_%d", seq.Add(1))
		if _, err := admin.DB().ExecContext(ctx, "CREATE DATABASE "+name); err != nil {
			t.Fatalf("Failed to create database: %v", err)
		}

		store, err := Open(ctx, &config.DatabaseConfig{
			URL:          fmt.Sprintf("mysql://root:test@%s/%s", addr, name),
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
