package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Event kinds used by the migration pipeline.
const (
	KindProfile      = 0
	KindTextNote     = 1
	KindNostrConnect = 24133
	KindBlossomAuth  = 24242
	KindLongForm     = 30023
)

// Tag is a single event tag: a name followed by values.
type Tag []string

// Event is a Nostr event. ID and Sig are empty until signed; a signed event
// is immutable.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Serialize produces the canonical NIP-01 serialization used for the event
// id: a JSON array [0, pubkey, created_at, kind, tags, content] with HTML
// escaping disabled.
func (e *Event) Serialize() ([]byte, error) {
	if e.PubKey == "" {
		return nil, errors.New("event pubkey must be set before serialization")
	}
	tags := e.Tags
	if tags == nil {
		tags = []Tag{}
	}
	arr := []any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, fmt.Errorf("serialize event: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID returns the hex SHA-256 of the canonical serialization.
func (e *Event) ComputeID() (string, error) {
	serialized, err := e.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:]), nil
}

// Sign sets PubKey from the supplied key, computes the event id, and
// produces a BIP-340 schnorr signature over it.
func (e *Event) Sign(key *secp256k1.PrivateKey) error {
	if key == nil {
		return errors.New("signing key must not be nil")
	}
	e.PubKey = hex.EncodeToString(key.PubKey().SerializeCompressed()[1:])

	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	e.ID = id

	digest, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("decode event id: %w", err)
	}
	sig, err := schnorr.Sign(key, digest)
	if err != nil {
		return fmt.Errorf("schnorr sign: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks the event id against the canonical serialization and the
// signature against the author pubkey.
func (e *Event) Verify() (bool, error) {
	id, err := e.ComputeID()
	if err != nil {
		return false, err
	}
	if id != e.ID {
		return false, nil
	}

	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return false, fmt.Errorf("decode pubkey: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("parse pubkey: %w", err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("parse signature: %w", err)
	}

	digest, err := hex.DecodeString(e.ID)
	if err != nil {
		return false, fmt.Errorf("decode event id: %w", err)
	}
	return sig.Verify(digest, pub), nil
}

// TagValue returns the first value of the first tag with the given name, or
// an empty string when absent.
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
