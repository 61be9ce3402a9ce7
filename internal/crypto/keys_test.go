package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeKey(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.key")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestKeyPairFromSeedInvalidSize(t *testing.T) {
	if _, _, err := KeyPairFromSeed([]byte{0x01}); err != ErrInvalidSeedSize {
		t.Fatalf("expected ErrInvalidSeedSize, got %v", err)
	}
}

func TestLoadEd25519PrivateKeyEncodings(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 0x80
	want := ed25519.NewKeyFromSeed(seed)

	cases := map[string][]byte{
		"raw seed":       seed,
		"prefixed hex":   []byte("hex:" + hex.EncodeToString(seed)),
		"bare hex":       []byte(hex.EncodeToString(seed) + "\n"),
		"base64 private": []byte("base64:" + base64.StdEncoding.EncodeToString(want)),
	}
	for name, data := range cases {
		priv, pub, err := LoadEd25519PrivateKey(writeKey(t, data))
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if string(priv) != string(want) {
			t.Fatalf("%s: private key mismatch", name)
		}
		if len(pub) != ed25519.PublicKeySize {
			t.Fatalf("%s: unexpected pub size %d", name, len(pub))
		}
	}
}

func TestLoadEd25519PrivateKeyErrors(t *testing.T) {
	if _, _, err := LoadEd25519PrivateKey(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, _, err := LoadEd25519PrivateKey(writeKey(t, []byte("  \n"))); err != ErrEmptyKeyFile {
		t.Fatalf("expected ErrEmptyKeyFile, got %v", err)
	}
	if _, _, err := LoadEd25519PrivateKey(writeKey(t, []byte("hex:abcd"))); err == nil {
		t.Fatalf("expected error for short key")
	}
	if _, err := decodeKey([]byte("not a key!")); err == nil {
		t.Fatalf("expected error for unrecognized encoding")
	}
}
