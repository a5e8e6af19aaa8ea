package signer

import (
	"context"

	"skiff/internal/identity"
	"skiff/internal/nostr"
	"skiff/internal/services"
)

// Signer produces signed events for the migration's author identity.
// Exactly one Signer governs all items in a run.
type Signer interface {
	// Pubkey returns the author public key events are attributed to.
	Pubkey() string
	// Sign returns a signed copy of the event. The input is not mutated.
	Sign(ctx context.Context, event *nostr.Event) (*nostr.Event, error)
}

// Local signs synchronously with an in-memory key. No gate is needed.
type Local struct {
	key *identity.Key
}

// NewLocal wraps a locally-held key.
func NewLocal(key *identity.Key) *Local {
	return &Local{key: key}
}

// Pubkey implements Signer.
func (l *Local) Pubkey() string {
	return l.key.PublicHex()
}

// Sign implements Signer.
func (l *Local) Sign(_ context.Context, event *nostr.Event) (*nostr.Event, error) {
	if event == nil {
		return nil, services.Wrap(services.ErrValidation, "signer", "sign", "event is nil", nil)
	}
	signed := *event
	if err := signed.Sign(l.key.Private()); err != nil {
		return nil, services.Wrap(services.ErrSigning, "signer", "sign", "local signing", err)
	}
	return &signed, nil
}
