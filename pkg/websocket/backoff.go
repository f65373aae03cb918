package websocket

import "time"

const (
	defaultBackoffBase        = time.Second
	defaultBackoffCap         = 30 * time.Second
	defaultBackoffMaxExponent = 5
)

// DefaultBackoff doubles from 1s and stops at 30s.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        defaultBackoffBase,
		Cap:         defaultBackoffCap,
		MaxExponent: defaultBackoffMaxExponent,
	}
}

// Next returns the delay before retry number attempt (0-based):
// min(Base * 2^min(attempt, MaxExponent), Cap).
func (b Backoff) Next(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = defaultBackoffBase
	}
	limit := b.Cap
	if limit <= 0 {
		limit = defaultBackoffCap
	}
	maxExp := b.MaxExponent
	if maxExp <= 0 {
		maxExp = defaultBackoffMaxExponent
	}

	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxExp {
		attempt = maxExp
	}

	wait := base << uint(attempt)
	if wait <= 0 || wait > limit {
		return limit
	}
	return wait
}
