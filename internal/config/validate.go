package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values that would make a migration
// run fail immediately.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if len(c.Relays.Publish) == 0 {
		problems = append(problems, "relays.publish must list at least one relay")
	}
	for _, relay := range c.Relays.Publish {
		if !strings.HasPrefix(relay, "ws://") && !strings.HasPrefix(relay, "wss://") {
			problems = append(problems, fmt.Sprintf("relays.publish entry %q must use ws:// or wss://", relay))
		}
	}
	if hint := c.Relays.ConnectHint; hint != "" {
		if !strings.HasPrefix(hint, "ws://") && !strings.HasPrefix(hint, "wss://") {
			problems = append(problems, fmt.Sprintf("relays.connect_hint %q must use ws:// or wss://", hint))
		}
	}
	if strings.TrimSpace(c.Media.HostURL) == "" {
		problems = append(problems, "media.host_url must be set")
	}
	if c.Workflow.PublishQuorum > len(c.Relays.Publish) {
		problems = append(problems, fmt.Sprintf(
			"workflow.publish_quorum (%d) exceeds the configured relay count (%d)",
			c.Workflow.PublishQuorum, len(c.Relays.Publish)))
	}
	switch c.Logging.Format {
	case "", "auto", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be auto, console, or json", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
