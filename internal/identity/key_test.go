package identity_test

import (
	"os"
	"path/filepath"
	"testing"

	"skiff/internal/identity"
)

func TestGenerateAndParseRoundTrip(t *testing.T) {
	key, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(key.SecretHex()) != 64 || len(key.PublicHex()) != 64 {
		t.Fatalf("unexpected key lengths: secret=%d public=%d", len(key.SecretHex()), len(key.PublicHex()))
	}

	parsed, err := identity.ParseSecretHex(key.SecretHex())
	if err != nil {
		t.Fatalf("ParseSecretHex failed: %v", err)
	}
	if parsed.PublicHex() != key.PublicHex() {
		t.Fatal("expected identical public key after round trip")
	}
}

func TestParseSecretHexRejectsBadInput(t *testing.T) {
	for _, value := range []string{"", "zz", "abcd"} {
		if _, err := identity.ParseSecretHex(value); err == nil {
			t.Errorf("expected error for %q", value)
		}
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	key, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "author")
	if err := identity.SaveKeyFile(path, key); err != nil {
		t.Fatalf("SaveKeyFile failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}

	loaded, err := identity.LoadKeyFile(path)
	if err != nil {
		t.Fatalf("LoadKeyFile failed: %v", err)
	}
	if loaded.PublicHex() != key.PublicHex() {
		t.Fatal("expected identical key after file round trip")
	}
}
