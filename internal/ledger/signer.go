package ledger

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/davidahmann/antibody/internal/crypto"
)

type Signer interface {
	KeyID() string
	SignEd25519(digest []byte) ([]byte, error)
}

// Ed25519Signer signs with an in-memory private key.
type Ed25519Signer struct {
	keyID string
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
}

func NewEd25519Signer(keyID string, priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{keyID: keyID, priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// LoadSigner reads the private key file configured for the ledger.
func LoadSigner(keyID, path string) (*Ed25519Signer, error) {
	priv, _, err := crypto.LoadEd25519PrivateKey(path)
	if err != nil {
		return nil, err
	}
	return NewEd25519Signer(keyID, priv), nil
}

// NewEphemeralSigner generates a throwaway key. Records it signs can only be
// verified while the process that made them is alive.
func NewEphemeralSigner(keyID string) (*Ed25519Signer, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	priv, _, err := crypto.KeyPairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	return NewEd25519Signer(keyID, priv), nil
}

func (s *Ed25519Signer) KeyID() string { return s.keyID }

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.pub }

func (s *Ed25519Signer) SignEd25519(digest []byte) ([]byte, error) {
	return crypto.SignEd25519(s.priv, digest)
}
