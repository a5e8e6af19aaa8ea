package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"skiff/internal/logging"
	"skiff/internal/nostr"
)

// CacheImporter pushes freshly published events into a caching service so
// they are readable immediately after the migration, before relays gossip.
// Every operation is best-effort.
type CacheImporter struct {
	client *resty.Client
	logger *slog.Logger
}

// NewCacheImporter builds an importer for the given cache endpoint. A nil
// importer is returned when no endpoint is configured.
func NewCacheImporter(endpoint string, logger *slog.Logger) *CacheImporter {
	if endpoint == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(15 * time.Second)
	return &CacheImporter{
		client: client,
		logger: logging.NewComponentLogger(logger, "cache-import"),
	}
}

// Import submits events to the cache service. Failures are logged and
// swallowed; the publish pipeline never depends on the cache.
func (c *CacheImporter) Import(ctx context.Context, events []*nostr.Event) {
	if c == nil || len(events) == 0 {
		return
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(events).
		Post("")
	if err != nil {
		c.logger.Warn("cache import failed", logging.Error(err))
		return
	}
	if resp.IsError() {
		c.logger.Warn("cache import rejected", logging.String("status", resp.Status()))
		return
	}
	c.logger.Debug("cache import accepted", logging.Int("events", len(events)))
}
