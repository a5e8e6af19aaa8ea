package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Key is a secp256k1 keypair used for signing events. Local author keys,
// ephemeral handshake keys, and ephemeral upload-auth keys all share this
// type.
type Key struct {
	priv *secp256k1.PrivateKey
}

// Generate produces a fresh random keypair.
func Generate() (*Key, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Key{priv: priv}, nil
}

// ParseSecretHex builds a Key from a 32-byte hex-encoded secret key.
func ParseSecretHex(value string) (*Key, error) {
	value = strings.TrimSpace(value)
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if len(raw) != 32 {
		return nil, errors.New("secret key must be 32 bytes")
	}
	return &Key{priv: secp256k1.PrivKeyFromBytes(raw)}, nil
}

// SecretHex returns the hex-encoded secret key.
func (k *Key) SecretHex() string {
	return hex.EncodeToString(k.priv.Serialize())
}

// PublicHex returns the x-only hex-encoded public key.
func (k *Key) PublicHex() string {
	return hex.EncodeToString(k.priv.PubKey().SerializeCompressed()[1:])
}

// Private exposes the underlying key for signing.
func (k *Key) Private() *secp256k1.PrivateKey {
	return k.priv
}

// LoadKeyFile reads a hex secret key from disk.
func LoadKeyFile(path string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := ParseSecretHex(string(data))
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return key, nil
}

// SaveKeyFile writes the secret key to disk readable only by the owner.
func SaveKeyFile(path string, key *Key) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(key.SecretHex()+"\n"), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}
