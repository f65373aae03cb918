package marketdata

import (
	"fmt"
	"time"
)

// Status is the lifecycle phase of the market data connection.
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ConnectionState is broadcast to state listeners on every transition.
// Attempt and NextDelay are set only while the link is Reconnecting; Attempt
// counts retries since the last successful connect, starting at 1.
//
// While paused, Status stays Paused and Link carries the connection status
// underneath, so listeners still see every disconnect and reconnect.
type ConnectionState struct {
	Status    Status
	Link      Status
	Attempt   int
	NextDelay time.Duration
	Err       error
}

// Live reports whether updates are currently flowing to listeners.
func (s ConnectionState) Live() bool {
	return s.Status == StatusConnected
}

func (s ConnectionState) String() string {
	switch s.Status {
	case StatusPaused:
		link := ConnectionState{Status: s.Link, Attempt: s.Attempt, NextDelay: s.NextDelay}
		return "paused(" + link.String() + ")"
	case StatusReconnecting:
		return fmt.Sprintf("reconnecting(attempt=%d, delay=%s)", s.Attempt, s.NextDelay)
	default:
		return s.Status.String()
	}
}

func (s ConnectionState) same(o ConnectionState) bool {
	return s.Status == o.Status && s.Link == o.Link && s.Attempt == o.Attempt && s.NextDelay == o.NextDelay
}
