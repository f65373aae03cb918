package wallet

import (
	"perpbot/internal/adapter/enum"
	"perpbot/pkg/exception"

	"github.com/yanun0323/errors"
)

// New builds the wallet signer of chain from its secret.
func New(chain enum.Chain, secret string) (Signer, error) {
	if secret == "" {
		return nil, errors.Wrapf(exception.ErrConfig, "%s wallet needs a private key", chain)
	}
	switch chain {
	case enum.ChainEVM:
		w, err := NewEVM(secret)
		if err != nil {
			return nil, err
		}
		return w, nil
	case enum.ChainSolana:
		w, err := NewSolana(secret)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, errors.Wrapf(exception.ErrConfig, "unsupported chain %d", chain)
	}
}
