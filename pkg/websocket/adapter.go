package websocket

import "context"

// Conn is a minimal interface for a WebSocket connection.
// Read blocks until a frame arrives or the connection fails; closing the
// connection unblocks a pending Read.
type Conn interface {
	Read(ctx context.Context) (msgType MessageType, payload []byte, err error)
	Write(ctx context.Context, msgType MessageType, payload []byte) error
	Close(code CloseCode, reason string) error
}

// Dialer creates new connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
