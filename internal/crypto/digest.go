package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// DigestPrefix marks a content reference as a SHA-256 digest.
const DigestPrefix = "sha256:"

var ErrInvalidDigestLen = errors.New("invalid digest length")

// Digest is a SHA-256 sum.
type Digest [sha256.Size]byte

func Sum(data []byte) Digest { return sha256.Sum256(data) }

func (d Digest) Bytes() []byte { return d[:] }

func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

// Ref is the prefixed form stored as a ledger content ref.
func (d Digest) Ref() string { return DigestPrefix + d.Hex() }

// Short truncates the hex form to n characters; n outside (0,64) keeps all.
func (d Digest) Short(n int) string {
	full := d.Hex()
	if n <= 0 || n >= len(full) {
		return full
	}
	return full[:n]
}

func DigestBytes(data []byte) []byte { return Sum(data).Bytes() }

func DigestHex(data []byte) string { return Sum(data).Hex() }

func DigestWithPrefix(data []byte) string { return Sum(data).Ref() }

func ShortDigest(data []byte, n int) string { return Sum(data).Short(n) }

// SignEd25519 signs a digest; anything but a SHA-256 sum is rejected.
func SignEd25519(privateKey ed25519.PrivateKey, digest []byte) ([]byte, error) {
	if len(digest) != sha256.Size {
		return nil, ErrInvalidDigestLen
	}
	return ed25519.Sign(privateKey, digest), nil
}

func VerifyEd25519(publicKey ed25519.PublicKey, digest, sig []byte) (bool, error) {
	if len(digest) != sha256.Size {
		return false, ErrInvalidDigestLen
	}
	return ed25519.Verify(publicKey, digest, sig), nil
}
