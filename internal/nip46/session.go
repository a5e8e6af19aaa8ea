package nip46

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"skiff/internal/identity"
	"skiff/internal/logging"
	"skiff/internal/nostr"
	"skiff/internal/relay"
	"skiff/internal/services"
)

type request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type response struct {
	ID     string `json:"id"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

func parseResponse(plain string) (*response, error) {
	var resp response
	if err := json.Unmarshal([]byte(plain), &resp); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	return &resp, nil
}

// Session is a bound remote-signer connection: an open relay subscription
// plus the key material to exchange encrypted RPC payloads with the signer.
type Session struct {
	client       *relay.Client
	sub          *relay.Subscription
	clientKey    *identity.Key
	remotePubkey string
	userPubkey   string
	shared       []byte
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[string]chan *response

	closeOnce sync.Once
}

// bindSession wires a Session over an already-acknowledged connection and
// asks the signer for the author public key.
func bindSession(ctx context.Context, client *relay.Client, sub *relay.Subscription, clientKey *identity.Key, remotePubkey string, logger *slog.Logger) (*Session, error) {
	shared, err := nostr.ComputeSharedSecret(clientKey.SecretHex(), remotePubkey)
	if err != nil {
		return nil, services.Wrap(services.ErrConnection, "nip46", "bind", "derive shared secret", err)
	}
	s := &Session{
		client:       client,
		sub:          sub,
		clientKey:    clientKey,
		remotePubkey: remotePubkey,
		shared:       shared,
		logger:       logger,
		pending:      make(map[string]chan *response),
	}
	go s.dispatch()

	userPubkey, err := s.rpc(ctx, "get_public_key", nil)
	if err != nil {
		s.Close()
		return nil, services.Wrap(services.ErrConnection, "nip46", "bind", "get_public_key", err)
	}
	s.userPubkey = userPubkey
	return s, nil
}

// Resume re-establishes a Session from persisted key material without
// repeating the handshake.
func Resume(ctx context.Context, relayURL, clientSecretHex, remotePubkey string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "nip46")

	clientKey, err := identity.ParseSecretHex(clientSecretHex)
	if err != nil {
		return nil, services.Wrap(services.ErrConnection, "nip46", "resume", "parse client key", err)
	}
	client, err := relay.Dial(ctx, relayURL, logger)
	if err != nil {
		return nil, services.Wrap(services.ErrConnection, "nip46", "resume", "dial signaling relay", err)
	}
	sub, err := client.Subscribe(relay.Filter{
		Kinds: []int{nostr.KindNostrConnect},
		PTags: []string{clientKey.PublicHex()},
	})
	if err != nil {
		_ = client.Close()
		return nil, services.Wrap(services.ErrConnection, "nip46", "resume", "subscribe", err)
	}
	return bindSession(ctx, client, sub, clientKey, remotePubkey, logger)
}

// UserPubkey returns the author public key held by the signer.
func (s *Session) UserPubkey() string {
	return s.userPubkey
}

// RemotePubkey returns the signer application's public key.
func (s *Session) RemotePubkey() string {
	return s.remotePubkey
}

// ClientSecretHex returns the ephemeral client secret key, for persisting
// the session across restarts.
func (s *Session) ClientSecretHex() string {
	return s.clientKey.SecretHex()
}

// Done is closed when the underlying relay connection is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.client.Done()
}

// Close tears down the subscription and relay connection. Pending RPC calls
// fail with a channel-closed error.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.sub.Close()
		_ = s.client.Close()
	})
}

// SignEvent submits an unsigned event to the remote signer and returns the
// signed result. Callers serialize access through the signing gate; the
// session itself performs one round-trip per call.
func (s *Session) SignEvent(ctx context.Context, unsigned *nostr.Event) (*nostr.Event, error) {
	payload, err := json.Marshal(unsigned)
	if err != nil {
		return nil, services.Wrap(services.ErrSigning, "nip46", "sign_event", "encode event", err)
	}
	result, err := s.rpc(ctx, "sign_event", []string{string(payload)})
	if err != nil {
		return nil, err
	}
	var signed nostr.Event
	if err := json.Unmarshal([]byte(result), &signed); err != nil {
		return nil, services.Wrap(services.ErrSigning, "nip46", "sign_event", "decode signed event", err)
	}
	if signed.ID == "" || signed.Sig == "" {
		return nil, services.Wrap(services.ErrSigning, "nip46", "sign_event", "signer returned incomplete event", nil)
	}
	return &signed, nil
}

func (s *Session) rpc(ctx context.Context, method string, params []string) (string, error) {
	req := request{ID: uuid.NewString(), Method: method, Params: params}
	plain, err := json.Marshal(req)
	if err != nil {
		return "", services.Wrap(services.ErrSigning, "nip46", method, "encode request", err)
	}
	ciphertext, err := nostr.EncryptNIP04(string(plain), s.shared)
	if err != nil {
		return "", services.Wrap(services.ErrSigning, "nip46", method, "encrypt request", err)
	}

	event := &nostr.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindNostrConnect,
		Tags:      []nostr.Tag{{"p", s.remotePubkey}},
		Content:   ciphertext,
	}
	if err := event.Sign(s.clientKey.Private()); err != nil {
		return "", services.Wrap(services.ErrSigning, "nip46", method, "sign request envelope", err)
	}

	ch := make(chan *response, 1)
	s.mu.Lock()
	s.pending[req.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
	}()

	if err := s.client.Publish(ctx, event); err != nil {
		return "", services.Wrap(services.ErrSigning, "nip46", method, "publish request", err)
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return "", services.Wrap(services.ErrChannelClosed, "nip46", method, "session closed mid-flight", nil)
		}
		if resp.Error != "" {
			return "", services.Wrap(services.ErrSigning, "nip46", method, "signer error: "+resp.Error, nil)
		}
		return resp.Result, nil
	case <-s.client.Done():
		return "", services.Wrap(services.ErrChannelClosed, "nip46", method, "session closed mid-flight", nil)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Session) dispatch() {
	defer func() {
		s.mu.Lock()
		for id, ch := range s.pending {
			delete(s.pending, id)
			close(ch)
		}
		s.mu.Unlock()
	}()

	for {
		select {
		case event, ok := <-s.sub.Events:
			if !ok {
				return
			}
			if event.PubKey != s.remotePubkey {
				continue
			}
			plain, err := nostr.DecryptNIP04(event.Content, s.shared)
			if err != nil {
				s.logger.Debug("ignoring undecryptable session event")
				continue
			}
			resp, err := parseResponse(plain)
			if err != nil {
				continue
			}
			s.mu.Lock()
			ch, found := s.pending[resp.ID]
			s.mu.Unlock()
			if found {
				select {
				case ch <- resp:
				default:
				}
			}
		case <-s.client.Done():
			return
		}
	}
}
