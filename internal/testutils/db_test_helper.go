package testutils

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/blockadesystems/certregistry/internal/config"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupTestDB starts a new PostgreSQL container for testing.
// It returns the connection string (DSN) for the test database; the
// container is terminated when the test finishes. The test is skipped in
// -short mode, since it needs a Docker daemon.
func SetupTestDB(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	ctx := context.Background()
	dbName := "testdb"
	dbUser := "testuser"
	dbPassword := "testpass"
	dbPort := "5432/tcp"

	waitStrategy := wait.ForAll(
		wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(1*time.Minute),
		wait.ForListeningPort(nat.Port(dbPort)).
			WithStartupTimeout(1*time.Minute),
	).WithDeadline(2 * time.Minute)

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(waitStrategy),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %s", err)
	}

	t.Cleanup(func() {
		terminateCtx, terminateCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer terminateCancel()
		if err := postgresContainer.Terminate(terminateCtx); err != nil {
			t.Logf("WARN: Failed to terminate postgres container: %s", err)
		}
	})

	connStrCtx, connStrCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer connStrCancel()
	connStr, err := postgresContainer.ConnectionString(connStrCtx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %s", err)
	}

	t.Logf("Postgres container started") // Don't log connection string with password
	return connStr
}

// SQLiteDSN returns the DSN of a fresh SQLite database file in a
// per-test temporary directory.
func SQLiteDSN(t *testing.T) string {
	t.Helper()
	return config.SQLiteDSN(filepath.Join(t.TempDir(), "registry.db"))
}

// UniqueName returns prefix followed by a random suffix, for fixture
// usernames and serial numbers that must not collide.
func UniqueName(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
