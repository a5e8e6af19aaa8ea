package nip46

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"skiff/internal/identity"
	"skiff/internal/logging"
	"skiff/internal/nostr"
	"skiff/internal/relay"
	"skiff/internal/services"
)

// Handshake is the client side of a pending remote-signer connection. It
// holds a fresh ephemeral keypair and a one-time secret; the descriptor is
// handed to the signer out of band (typically rendered as a QR code by the
// caller) and Await blocks until the signer acknowledges with the secret.
type Handshake struct {
	clientKey *identity.Key
	secret    string
	relayURL  string
	logger    *slog.Logger
}

// NewHandshake generates the ephemeral keypair and secret for one connection
// attempt. relayURL is the signaling relay embedded in the descriptor.
func NewHandshake(relayURL string, logger *slog.Logger) (*Handshake, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	key, err := identity.Generate()
	if err != nil {
		return nil, services.Wrap(services.ErrConnection, "nip46", "handshake", "generate client keypair", err)
	}
	return &Handshake{
		clientKey: key,
		secret:    uuid.NewString(),
		relayURL:  relayURL,
		logger:    logging.NewComponentLogger(logger, "nip46"),
	}, nil
}

// Descriptor returns the nostrconnect:// URI the remote signer scans.
func (h *Handshake) Descriptor() string {
	params := url.Values{}
	params.Set("relay", h.relayURL)
	params.Set("secret", h.secret)
	params.Set("name", "skiff")
	return "nostrconnect://" + h.clientKey.PublicHex() + "?" + params.Encode()
}

// ClientPubkey returns the ephemeral client public key.
func (h *Handshake) ClientPubkey() string {
	return h.clientKey.PublicHex()
}

// Secret returns the one-time connection secret.
func (h *Handshake) Secret() string {
	return h.secret
}

// Await blocks until the remote signer acknowledges the connection over the
// signaling relay, then binds and returns a live Session. There is no
// internal timeout: cancel ctx to abandon the attempt, which tears down the
// relay connection.
func (h *Handshake) Await(ctx context.Context) (*Session, error) {
	client, err := relay.Dial(ctx, h.relayURL, h.logger)
	if err != nil {
		return nil, services.Wrap(services.ErrConnection, "nip46", "await", "dial signaling relay", err)
	}

	sub, err := client.Subscribe(relay.Filter{
		Kinds: []int{nostr.KindNostrConnect},
		PTags: []string{h.clientKey.PublicHex()},
	})
	if err != nil {
		_ = client.Close()
		return nil, services.Wrap(services.ErrConnection, "nip46", "await", "subscribe", err)
	}

	for {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				_ = client.Close()
				return nil, services.Wrap(services.ErrChannelClosed, "nip46", "await", "subscription closed", nil)
			}
			remotePubkey, ok := h.matchAck(event)
			if !ok {
				continue
			}
			h.logger.Info("remote signer connected",
				logging.String("remote_pubkey", remotePubkey))
			session, err := bindSession(ctx, client, sub, h.clientKey, remotePubkey, h.logger)
			if err != nil {
				_ = client.Close()
				return nil, err
			}
			return session, nil
		case <-client.Done():
			return nil, services.Wrap(services.ErrChannelClosed, "nip46", "await", "relay connection closed", nil)
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		}
	}
}

// matchAck checks whether an inbound event is this handshake's connect
// acknowledgement and returns the signer's pubkey if so.
func (h *Handshake) matchAck(event *nostr.Event) (string, bool) {
	if event.Kind != nostr.KindNostrConnect {
		return "", false
	}
	shared, err := nostr.ComputeSharedSecret(h.clientKey.SecretHex(), event.PubKey)
	if err != nil {
		return "", false
	}
	plain, err := nostr.DecryptNIP04(event.Content, shared)
	if err != nil {
		h.logger.Debug("ignoring undecryptable connect event")
		return "", false
	}
	resp, err := parseResponse(plain)
	if err != nil {
		return "", false
	}
	// Older signers reply "ack" instead of echoing the secret.
	if resp.Result != h.secret && resp.Result != "ack" {
		return "", false
	}
	return event.PubKey, true
}
