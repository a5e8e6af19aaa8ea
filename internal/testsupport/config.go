package testsupport

import (
	"path/filepath"
	"testing"

	"skiff/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.MediaCacheDir = filepath.Join(base, "media-cache")
	cfg.Relays.Publish = []string{"ws://127.0.0.1:0"}
	cfg.Media.HostURL = "http://127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithRelays overrides the publish relay set on the test config.
func WithRelays(relays ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Relays.Publish = relays
	}
}

// WithMediaHost overrides the media host URL on the test config.
func WithMediaHost(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Media.HostURL = url
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
