package signer

import (
	"crypto/ed25519"
	"crypto/rand"

	"perpbot/pkg/exception"

	"github.com/mr-tron/base58"
	"github.com/yanun0323/errors"
)

// SeedSize is the length of the persisted secret.
const SeedSize = ed25519.SeedSize

// Signer is the Ed25519 key of one account. Its secret never leaves the
// value: String, GoString and the zero-field JSON form only expose the
// public key.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	id   string
}

// NewSigner derives a signer from a 32-byte seed.
func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) != SeedSize {
		return nil, errors.Wrapf(exception.ErrSignature, "seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{
		priv: priv,
		pub:  pub,
		id:   base58.Encode(pub),
	}, nil
}

// GenerateSigner creates a signer from fresh randomness.
func GenerateSigner() (*Signer, error) {
	seed := make([]byte, SeedSize)
	defer clear(seed)
	if _, err := rand.Read(seed); err != nil {
		return nil, errors.Wrap(exception.ErrInternal, "read random seed")
	}
	return NewSigner(seed)
}

// Sign signs msg.
func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

// Verify checks sig against the signer's public key.
func (s *Signer) Verify(msg, sig []byte) bool {
	return ed25519.Verify(s.pub, msg, sig)
}

// PublicKey returns a copy of the public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), s.pub...)
}

// PublicKeyBase58 is the stable client identifier sent as requestId.
func (s *Signer) PublicKeyBase58() string {
	return s.id
}

// Zero wipes the secret. The signer is unusable afterwards.
func (s *Signer) Zero() {
	clear(s.priv)
}

func (s *Signer) String() string {
	return "Signer(" + s.id + ")"
}

func (s *Signer) GoString() string {
	return s.String()
}

func (s *Signer) seed() []byte {
	return s.priv.Seed()
}
