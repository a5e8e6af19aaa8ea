package config

const (
	defaultDataDir       = "~/.local/share/skiff"
	defaultLogDir        = "~/.local/share/skiff/logs"
	defaultMediaCacheDir = "~/.cache/skiff/media"
	defaultConnectHint   = "wss://relay.nsec.app"
	defaultMediaHostURL  = "https://blossom.primal.net"
	defaultMediaTimeout  = 60

	defaultSigningTimeout   = 30
	defaultSigningRetries   = 2
	defaultSigningBackoff   = 1
	defaultSigningGraceMS   = 500
	defaultWorkers          = 3
	defaultPublishQuorum    = 1
	defaultPublishTimeout   = 10
	defaultLogFormat        = "auto"
	defaultLogLevel         = "info"
)

func defaultPublishRelays() []string {
	return []string{
		"wss://relay.damus.io",
		"wss://nos.lol",
		"wss://relay.nostr.band",
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:       defaultDataDir,
			LogDir:        defaultLogDir,
			MediaCacheDir: defaultMediaCacheDir,
		},
		Relays: Relays{
			Publish:     defaultPublishRelays(),
			ConnectHint: defaultConnectHint,
		},
		Media: Media{
			HostURL:        defaultMediaHostURL,
			RequestTimeout: defaultMediaTimeout,
		},
		Signing: Signing{
			RequestTimeout: defaultSigningTimeout,
			Retries:        defaultSigningRetries,
			RetryBackoff:   defaultSigningBackoff,
			GraceDelayMS:   defaultSigningGraceMS,
		},
		Workflow: Workflow{
			Workers:        defaultWorkers,
			PublishQuorum:  defaultPublishQuorum,
			PublishTimeout: defaultPublishTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
