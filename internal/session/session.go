package session

import (
	"sync"
	"time"

	"perpbot/internal/adapter/enum"
	"perpbot/pkg/exception"

	"github.com/golang-jwt/jwt/v5"
	"github.com/yanun0323/errors"
)

// TokenData is the bearer token of one login and who it belongs to.
type TokenData struct {
	Token         string
	ExpiresAt     time.Time
	WalletAddress string
	Chain         enum.Chain
}

// String hides the token itself.
func (d TokenData) String() string {
	return "TokenData{address=" + d.WalletAddress + " chain=" + d.Chain.String() +
		" expires_at=" + d.ExpiresAt.Format(time.RFC3339) + "}"
}

// Manager caches the current session token. All reads return copies, so no
// caller holds the lock across I/O.
type Manager struct {
	mu   sync.RWMutex
	data *TokenData
	now  func() time.Time
}

// NewManager returns an empty manager; IsExpired is true until SetToken.
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

// SetToken replaces the slot with a token valid for ttl from now.
func (m *Manager) SetToken(token string, ttl time.Duration, address string, chain enum.Chain) {
	m.mu.Lock()
	m.data = &TokenData{
		Token:         token,
		ExpiresAt:     m.now().Add(ttl),
		WalletAddress: address,
		Chain:         chain,
	}
	m.mu.Unlock()
}

// SetTokenData replaces the slot wholesale.
func (m *Manager) SetTokenData(d TokenData) {
	m.mu.Lock()
	m.data = &d
	m.mu.Unlock()
}

// Token returns the current token, or "" when none is stored.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return ""
	}
	return m.data.Token
}

// TokenData returns a snapshot of the slot.
func (m *Manager) TokenData() (TokenData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return TokenData{}, false
	}
	return *m.data, true
}

// IsExpired is true when no token is stored or now is past its expiry.
func (m *Manager) IsExpired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiredLocked()
}

// ExpiresIn is the time left before the token expires, or zero when none is
// stored or it already expired.
func (m *Manager) ExpiresIn() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.expiredLocked() {
		return 0
	}
	return m.data.ExpiresAt.Sub(m.now())
}

// Bearer returns the token for an Authorization header, or ErrTokenExpired.
func (m *Manager) Bearer() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.expiredLocked() {
		return "", exception.ErrTokenExpired
	}
	return m.data.Token, nil
}

// Clear drops the stored token.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
}

// SeedFromJWT stores a previously issued token, taking the expiry from its
// exp claim. The signature is not verified; the exchange does that.
func (m *Manager) SeedFromJWT(token, address string, chain enum.Chain) error {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return errors.Wrapf(exception.ErrConfig, "parse jwt: %s", err.Error())
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return errors.Wrap(exception.ErrConfig, "jwt has no exp claim")
	}
	m.SetTokenData(TokenData{
		Token:         token,
		ExpiresAt:     exp.Time,
		WalletAddress: address,
		Chain:         chain,
	})
	return nil
}

func (m *Manager) expiredLocked() bool {
	return m.data == nil || m.now().After(m.data.ExpiresAt)
}
