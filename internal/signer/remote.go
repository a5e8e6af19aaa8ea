package signer

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go"

	"skiff/internal/config"
	"skiff/internal/logging"
	"skiff/internal/nostr"
	"skiff/internal/services"
)

// RemoteSession is the remote-signer RPC surface the gate drives.
type RemoteSession interface {
	UserPubkey() string
	SignEvent(ctx context.Context, event *nostr.Event) (*nostr.Event, error)
}

// Remote serializes all signing requests into one outstanding round-trip at
// a time. The remote end is a single-capacity resource, usually a human
// approving each request, so concurrent workers must queue here. A grace
// delay separates consecutive round-trips, each attempt is bounded by a
// timeout, and failed attempts are retried a fixed number of times with a
// fixed backoff. One request's failure does not poison the queue.
type Remote struct {
	session RemoteSession
	logger  *slog.Logger

	slot    chan struct{}
	grace   time.Duration
	timeout time.Duration
	retries uint
	backoff time.Duration

	// lastDone is only touched while holding the slot.
	lastDone time.Time
}

// NewRemote builds the signing gate over an established session.
func NewRemote(session RemoteSession, cfg config.Signing, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	backoff := time.Duration(cfg.RetryBackoff) * time.Second
	if backoff <= 0 {
		backoff = time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	grace := time.Duration(cfg.GraceDelayMS) * time.Millisecond
	if grace < 0 {
		grace = 0
	}
	return &Remote{
		session: session,
		logger:  logging.NewComponentLogger(logger, "signing-gate"),
		slot:    make(chan struct{}, 1),
		grace:   grace,
		timeout: timeout,
		retries: uint(retries),
		backoff: backoff,
	}
}

// Pubkey implements Signer.
func (r *Remote) Pubkey() string {
	return r.session.UserPubkey()
}

// Sign implements Signer. Callers block until the gate is free; the request
// then runs with per-attempt timeout and bounded retry.
func (r *Remote) Sign(ctx context.Context, event *nostr.Event) (*nostr.Event, error) {
	if event == nil {
		return nil, services.Wrap(services.ErrValidation, "signer", "sign", "event is nil", nil)
	}

	select {
	case r.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() {
		r.lastDone = time.Now()
		<-r.slot
	}()

	// Give the approver breathing room between consecutive requests.
	if !r.lastDone.IsZero() {
		if wait := r.grace - time.Since(r.lastDone); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	var signed *nostr.Event
	err := retry.Do(
		func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			result, err := r.session.SignEvent(attemptCtx, event)
			if err != nil {
				return err
			}
			signed = result
			return nil
		},
		retry.Attempts(r.retries+1),
		retry.Delay(r.backoff),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(attempt uint, err error) {
			r.logger.Warn("signing attempt failed, retrying",
				logging.Int("attempt", int(attempt)+1),
				logging.Error(err))
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.Wrap(services.ErrSigning, "signer", "sign", "remote signing exhausted retries", err)
	}
	return signed, nil
}
