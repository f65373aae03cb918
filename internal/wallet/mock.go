package wallet

import (
	"context"
	"sync"
	"time"

	"perpbot/internal/adapter/enum"
	"perpbot/pkg/exception"

	"github.com/yanun0323/errors"
)

// Mock returns a fixed signature, optionally after a delay, and records the
// messages it was asked to sign.
type Mock struct {
	ChainID   enum.Chain
	Addr      string
	Signature string
	Delay     time.Duration
	Err       error

	mu       sync.Mutex
	messages []string
}

func (m *Mock) Chain() enum.Chain {
	return m.ChainID
}

func (m *Mock) Address() string {
	return m.Addr
}

func (m *Mock) SignMessage(ctx context.Context, message string) (string, error) {
	m.mu.Lock()
	m.messages = append(m.messages, message)
	m.mu.Unlock()

	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", errors.Wrap(exception.ErrTimeout, ctx.Err().Error())
		case <-timer.C:
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Signature, nil
}

// Messages returns every message passed to SignMessage.
func (m *Mock) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}
