package wallet

import (
	"context"

	"perpbot/internal/adapter/enum"
)

// Signer proves control of a wallet by signing a login challenge. Signing
// may block on an external device, so it honors ctx.
type Signer interface {
	Chain() enum.Chain
	Address() string
	SignMessage(ctx context.Context, message string) (string, error)
}
