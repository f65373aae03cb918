package websocket

import "time"

// MessageType represents a WebSocket message type.
// Values match RFC 6455 opcodes where applicable.
type MessageType uint8

const (
	// MessageText is a text data frame.
	MessageText MessageType = 1
	// MessageBinary is a binary data frame.
	MessageBinary MessageType = 2
	// MessageClose is a close control frame.
	MessageClose MessageType = 8
	// MessagePing is a ping control frame.
	MessagePing MessageType = 9
	// MessagePong is a pong control frame.
	MessagePong MessageType = 10
)

// CloseCode is a WebSocket close code.
type CloseCode uint16

const (
	// CloseNormal indicates a normal closure.
	CloseNormal CloseCode = 1000
	// CloseGoingAway indicates the endpoint is going away.
	CloseGoingAway CloseCode = 1001
)

// Backoff defines reconnect backoff behavior.
type Backoff struct {
	// Base is the delay of the first retry.
	Base time.Duration
	// Cap is the hard upper bound of any delay.
	Cap time.Duration
	// MaxExponent clamps the attempt so the delay stops doubling.
	MaxExponent int
}
