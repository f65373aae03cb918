package enum

import (
	"perpbot/pkg/exception"

	"github.com/yanun0323/errors"
)

// Chain is the blockchain family a wallet signs for.
type Chain uint8

const (
	_chain_beg Chain = iota
	ChainEVM
	ChainSolana
	_chain_end
)

func (c Chain) IsAvailable() bool {
	return c > _chain_beg && c < _chain_end
}

func (c Chain) String() string {
	switch c {
	case ChainEVM:
		return "evm"
	case ChainSolana:
		return "solana"
	default:
		return ""
	}
}

func ParseChain(s string) (Chain, error) {
	switch normalize(s) {
	case "evm", "ethereum", "eth", "arbitrum", "base":
		return ChainEVM, nil
	case "solana", "sol":
		return ChainSolana, nil
	default:
		return 0, errors.Wrapf(exception.ErrConfig, "unknown chain: %q", s)
	}
}
