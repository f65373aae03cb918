package wallet

import (
	"context"
	"crypto/ed25519"

	"perpbot/internal/adapter/enum"
	"perpbot/pkg/exception"

	"github.com/mr-tron/base58"
	"github.com/yanun0323/errors"
)

// Solana signs challenges with an Ed25519 wallet key. Address and signature
// are base58, as Solana wallets present them.
type Solana struct {
	key     ed25519.PrivateKey
	address string
}

// NewSolana accepts the base58 keypair export of Solana wallets (64 bytes,
// secret followed by public key) or a bare 32-byte seed.
func NewSolana(secret string) (*Solana, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, errors.Wrap(exception.ErrSignature, "solana key is not base58")
	}
	defer clear(raw)

	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		key = ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if string(key[ed25519.SeedSize:]) != string(raw[ed25519.SeedSize:]) {
			return nil, errors.Wrap(exception.ErrSignature, "solana keypair public half does not match secret")
		}
	default:
		return nil, errors.Wrapf(exception.ErrSignature, "solana key has %d bytes", len(raw))
	}

	return &Solana{
		key:     key,
		address: base58.Encode(key.Public().(ed25519.PublicKey)),
	}, nil
}

func (w *Solana) Chain() enum.Chain {
	return enum.ChainSolana
}

func (w *Solana) Address() string {
	return w.address
}

func (w *Solana) SignMessage(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(exception.ErrTimeout, err.Error())
	}
	return base58.Encode(ed25519.Sign(w.key, []byte(message))), nil
}

func (w *Solana) String() string {
	return "Solana(" + w.address + ")"
}

func (w *Solana) GoString() string {
	return w.String()
}

// VerifySolana checks a base58 signature made by address.
func VerifySolana(address, message, signature string) bool {
	pub, err := base58.Decode(address)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base58.Decode(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(message), sig)
}
