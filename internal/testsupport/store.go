package testsupport

import (
	"testing"

	"skiff/internal/config"
	"skiff/internal/queue"
)

// MustOpenStore opens the queue store for the given config and registers
// cleanup, failing the test on error.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
