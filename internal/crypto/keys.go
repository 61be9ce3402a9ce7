package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrInvalidSeedSize = errors.New("invalid ed25519 seed size")
	ErrEmptyKeyFile    = errors.New("empty key file")
)

// KeyPairFromSeed derives an Ed25519 keypair from a 32-byte seed.
func KeyPairFromSeed(seed []byte) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, ErrInvalidSeedSize
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv, priv.Public().(ed25519.PublicKey), nil
}

// LoadEd25519PrivateKey reads a ledger signing key. The file holds either a
// 32-byte seed or a 64-byte private key, raw or encoded as "hex:", "base64:",
// bare hex or bare base64.
func LoadEd25519PrivateKey(path string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	// #nosec G304 -- path is operator-configured.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := decodeKey(raw)
	if err != nil {
		return nil, nil, err
	}

	switch len(data) {
	case ed25519.SeedSize:
		return KeyPairFromSeed(data)
	case ed25519.PrivateKeySize:
		priv := ed25519.PrivateKey(data)
		return priv, priv.Public().(ed25519.PublicKey), nil
	default:
		return nil, nil, fmt.Errorf("unsupported private key length: %d", len(data))
	}
}

func decodeKey(raw []byte) ([]byte, error) {
	if len(raw) == ed25519.SeedSize || len(raw) == ed25519.PrivateKeySize {
		if !isPrintable(raw) {
			return raw, nil
		}
	}

	text := strings.TrimSpace(string(raw))
	switch {
	case text == "":
		return nil, ErrEmptyKeyFile
	case strings.HasPrefix(text, "hex:"):
		return hex.DecodeString(strings.TrimPrefix(text, "hex:"))
	case strings.HasPrefix(text, "base64:"):
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(text, "base64:"))
	}

	if out, err := hex.DecodeString(text); err == nil {
		return out, nil
	}
	if out, err := base64.StdEncoding.DecodeString(text); err == nil {
		return out, nil
	}
	if out, err := base64.RawURLEncoding.DecodeString(text); err == nil {
		return out, nil
	}
	return nil, fmt.Errorf("unrecognized key encoding")
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
