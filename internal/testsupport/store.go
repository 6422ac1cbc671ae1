package testsupport

import (
	"testing"

	"assemblyline/internal/config"
	"assemblyline/internal/status"
)

// MustOpenStatus opens a status.Store for tests and registers cleanup.
func MustOpenStatus(t testing.TB, cfg *config.Config) *status.Store {
	t.Helper()

	store, err := status.Open(cfg)
	if err != nil {
		t.Fatalf("status.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
