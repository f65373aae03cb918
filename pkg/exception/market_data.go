package exception

import "errors"

var (
	ErrUnknownChannel   = errors.New("market data: unknown channel")
	ErrMalformedFrame   = errors.New("market data: malformed frame")
	ErrReceiverTaken    = errors.New("market data: receiver already taken")
	ErrListenerClosed   = errors.New("market data: listener closed")
	ErrInvalidSymbol    = errors.New("market data: invalid symbol")
	ErrUnsupportedTopic = errors.New("market data: unsupported channel kind")
)
