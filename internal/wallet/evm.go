package wallet

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"perpbot/internal/adapter/enum"
	"perpbot/pkg/exception"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/yanun0323/errors"
)

// EVM signs challenges with an ECDSA key using EIP-191 personal_sign.
type EVM struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewEVM parses a hex private key, with or without the 0x prefix.
func NewEVM(hexKey string) (*EVM, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(exception.ErrSignature, "invalid evm private key")
	}
	return &EVM{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

func (w *EVM) Chain() enum.Chain {
	return enum.ChainEVM
}

// Address is the EIP-55 checksummed address.
func (w *EVM) Address() string {
	return w.address
}

func (w *EVM) SignMessage(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(exception.ErrTimeout, err.Error())
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	if err != nil {
		return "", errors.Wrapf(exception.ErrSignature, "personal sign: %s", err.Error())
	}
	// wallets report the recovery id as 27/28
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

func (w *EVM) String() string {
	return "EVM(" + w.address + ")"
}

func (w *EVM) GoString() string {
	return w.String()
}

// RecoverEVMAddress returns the address that produced a personal_sign signature.
func RecoverEVMAddress(message, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", errors.Wrap(exception.ErrSignature, "signature is not hex")
	}
	if len(sig) != crypto.SignatureLength {
		return "", errors.Wrapf(exception.ErrSignature, "signature has %d bytes", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", errors.Wrapf(exception.ErrSignature, "recover: %s", err.Error())
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
