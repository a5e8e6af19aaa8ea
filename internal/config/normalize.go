package config

import (
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(strings.TrimSpace(c.Paths.DataDir)); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return err
	}
	if c.Paths.MediaCacheDir, err = expandPath(strings.TrimSpace(c.Paths.MediaCacheDir)); err != nil {
		return err
	}
	if c.Identity.KeyFile = strings.TrimSpace(c.Identity.KeyFile); c.Identity.KeyFile != "" {
		if c.Identity.KeyFile, err = expandPath(c.Identity.KeyFile); err != nil {
			return err
		}
	}

	c.Relays.Publish = normalizeRelaySet(c.Relays.Publish)
	c.Relays.ConnectHint = strings.TrimSpace(c.Relays.ConnectHint)
	c.Relays.CacheImportURL = strings.TrimSpace(c.Relays.CacheImportURL)

	c.Media.HostURL = strings.TrimRight(strings.TrimSpace(c.Media.HostURL), "/")
	c.Media.ProxyURL = strings.TrimRight(strings.TrimSpace(c.Media.ProxyURL), "/")
	if c.Media.RequestTimeout <= 0 {
		c.Media.RequestTimeout = defaultMediaTimeout
	}

	if c.Signing.RequestTimeout <= 0 {
		c.Signing.RequestTimeout = defaultSigningTimeout
	}
	if c.Signing.Retries < 0 {
		c.Signing.Retries = 0
	}
	if c.Signing.RetryBackoff <= 0 {
		c.Signing.RetryBackoff = defaultSigningBackoff
	}
	if c.Signing.GraceDelayMS < 0 {
		c.Signing.GraceDelayMS = 0
	}

	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkers
	}
	if c.Workflow.PublishQuorum <= 0 {
		c.Workflow.PublishQuorum = defaultPublishQuorum
	}
	if c.Workflow.PublishTimeout <= 0 {
		c.Workflow.PublishTimeout = defaultPublishTimeout
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// normalizeRelaySet trims, lowercases schemes, and dedupes while preserving
// the configured order.
func normalizeRelaySet(relays []string) []string {
	seen := make(map[string]struct{}, len(relays))
	out := make([]string, 0, len(relays))
	for _, relay := range relays {
		relay = strings.TrimSpace(relay)
		if relay == "" {
			continue
		}
		relay = strings.TrimRight(relay, "/")
		if _, ok := seen[relay]; ok {
			continue
		}
		seen[relay] = struct{}{}
		out = append(out, relay)
	}
	return out
}
