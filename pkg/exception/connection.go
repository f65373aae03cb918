package exception

import "errors"

// Transport errors. Both are retryable by the caller.
var (
	ErrNetwork         = errors.New("network: request failed")
	ErrTimeout         = errors.New("network: timeout")
	ErrConnectionClose = errors.New("network: connection closed")
	ErrNotConnected    = errors.New("network: not connected")
)
