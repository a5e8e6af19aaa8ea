package relay

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"skiff/internal/logging"
	"skiff/internal/nostr"
)

// Result is the per-relay outcome of one publish fan-out.
type Result struct {
	Succeeded []string
	Failed    []string
}

// MeetsQuorum reports whether enough relays accepted the event.
func (r Result) MeetsQuorum(quorum int) bool {
	if quorum < 1 {
		quorum = 1
	}
	return len(r.Succeeded) >= quorum
}

// Publisher fans signed events out to a fixed relay set.
type Publisher struct {
	relays  []string
	timeout time.Duration
	logger  *slog.Logger

	// dialAndPublish is swapped in tests to avoid real connections.
	dialAndPublish func(ctx context.Context, url string, event *nostr.Event) error
}

// NewPublisher builds a Publisher for the configured relay set.
func NewPublisher(relays []string, timeout time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &Publisher{
		relays:  append([]string(nil), relays...),
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "relay-publisher"),
	}
	p.dialAndPublish = p.publishOnce
	return p
}

// Relays returns the configured relay set.
func (p *Publisher) Relays() []string {
	return append([]string(nil), p.relays...)
}

// Publish attempts delivery to every configured relay concurrently and
// returns the succeeded/failed split. Partial failure is not an error; the
// caller applies its quorum rule to the result.
func (p *Publisher) Publish(ctx context.Context, event *nostr.Event) Result {
	var (
		mu     sync.Mutex
		result Result
	)
	group, ctx := errgroup.WithContext(ctx)
	for _, url := range p.relays {
		group.Go(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			err := p.dialAndPublish(attemptCtx, url, event)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logger.Warn("relay rejected event",
					logging.String(logging.FieldRelay, url),
					logging.String(logging.FieldEventID, event.ID),
					logging.Error(err))
				result.Failed = append(result.Failed, url)
				return nil
			}
			p.logger.Debug("relay accepted event",
				logging.String(logging.FieldRelay, url),
				logging.String(logging.FieldEventID, event.ID))
			result.Succeeded = append(result.Succeeded, url)
			return nil
		})
	}
	_ = group.Wait()

	sort.Strings(result.Succeeded)
	sort.Strings(result.Failed)
	return result
}

func (p *Publisher) publishOnce(ctx context.Context, url string, event *nostr.Event) error {
	client, err := Dial(ctx, url, p.logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return client.Publish(ctx, event)
}
