package testutils

import (
	"context"
	"testing"

	"github.com/blockadesystems/certregistry/internal/config"
	"github.com/blockadesystems/certregistry/internal/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// SetupTestStore opens a storage.SQLStorage of storageType on dsn the same
// way the CLI does: through config.LoadConfig with the DSN supplied via the
// environment. The store logs through the test's logger and is closed when
// the test finishes, after which the package logger is silenced.
func SetupTestStore(t *testing.T, storageType string, dsn string) *storage.SQLStorage {
	t.Helper()

	storage.SetLogger(zaptest.NewLogger(t))
	t.Cleanup(func() { storage.SetLogger(zap.NewNop()) })

	t.Setenv("CERTREGISTRY_STORAGE_TYPE", storageType)
	t.Setenv("CERTREGISTRY_DB_DSN", dsn)
	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load config for test: %v", err)
	}

	store, err := storage.NewStorage(context.Background(), cfg.StorageType, cfg.DataSourceName())
	if err != nil {
		t.Fatalf("Failed to open %s store: %v", storageType, err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Logf("WARN: Failed to close store: %s", err)
		}
	})
	return store
}
