package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"perpbot/internal/rest"
	"perpbot/internal/session"
	"perpbot/internal/signer"
	"perpbot/internal/wallet"
	"perpbot/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	PathChallenge = "/v1/auth/challenge"
	PathLogin     = "/v1/auth/login"
)

// State is the login progress of a Manager.
type State uint8

const (
	StateUnauthenticated State = iota
	StateChallenged
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateChallenged:
		return "challenged"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

type challengeRequest struct {
	Address   string `json:"address"`
	Chain     string `json:"chain"`
	RequestID string `json:"requestId"`
}

type challengeResponse struct {
	Success    bool   `json:"success"`
	SignedData string `json:"signedData"`
}

type loginRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	RequestID string `json:"requestId"`
}

// LoginResponse is the exchange's answer to a successful login.
type LoginResponse struct {
	Token      string `json:"token"`
	Address    string `json:"address"`
	Alias      string `json:"alias"`
	Chain      string `json:"chain"`
	PerpsAlpha bool   `json:"perpsAlpha"`
}

// Manager runs the wallet login of one account and owns the resulting
// session and request signer.
type Manager struct {
	client   *rest.Client
	keys     *signer.KeyStore
	sessions *session.Manager

	// loginMu serializes logins; mu guards the fields below and is never
	// held across I/O.
	loginMu sync.Mutex
	mu      sync.Mutex
	state   State
	reqSign *signer.RequestSigner
	profile LoginResponse
}

func NewManager(client *rest.Client, keys *signer.KeyStore, sessions *session.Manager) *Manager {
	if sessions == nil {
		sessions = session.NewManager()
	}
	return &Manager{
		client:   client,
		keys:     keys,
		sessions: sessions,
	}
}

// Authenticate runs challenge, wallet signature and login, then stores the
// token for ttl. The wallet call is the only long wait and aborts with ctx.
func (m *Manager) Authenticate(ctx context.Context, w wallet.Signer, ttl time.Duration) (session.TokenData, error) {
	m.loginMu.Lock()
	defer m.loginMu.Unlock()

	if ttl <= 0 {
		return session.TokenData{}, errors.Wrapf(exception.ErrInvalidArgument, "ttl %s", ttl)
	}

	s, err := m.keys.GetOrCreate(w.Address())
	if err != nil {
		return session.TokenData{}, errors.Wrap(err, "resolve signer")
	}
	requestID := s.PublicKeyBase58()

	signedData, err := m.challenge(ctx, w, requestID)
	if err != nil {
		m.setState(StateUnauthenticated)
		return session.TokenData{}, err
	}
	m.setState(StateChallenged)

	signature, err := w.SignMessage(ctx, signedData)
	if err != nil {
		m.setState(StateUnauthenticated)
		return session.TokenData{}, errors.Wrap(err, "wallet sign challenge")
	}

	resp, err := m.login(ctx, w.Address(), signature, requestID)
	if err != nil {
		m.setState(StateUnauthenticated)
		return session.TokenData{}, err
	}

	m.mu.Lock()
	m.sessions.SetToken(resp.Token, ttl, w.Address(), w.Chain())
	m.reqSign = signer.NewRequestSigner(s)
	m.profile = resp
	m.state = StateAuthenticated
	m.mu.Unlock()

	data, _ := m.sessions.TokenData()
	logs.Infof("auth: %s logged in as %s (%s), expires at %s", w.Chain(), w.Address(), resp.Alias, data.ExpiresAt.Format(time.RFC3339))
	return data, nil
}

// EnsureSession authenticates only when the stored token is missing or expired.
func (m *Manager) EnsureSession(ctx context.Context, w wallet.Signer, ttl time.Duration) (session.TokenData, error) {
	if data, ok := m.sessions.TokenData(); ok && !m.sessions.IsExpired() && m.RequestSigner() != nil {
		return data, nil
	}
	return m.Authenticate(ctx, w, ttl)
}

// RefreshConfig paces KeepAlive.
type RefreshConfig struct {
	TTL time.Duration
	// Lead is how long before expiry a new login starts. Defaults to a tenth
	// of TTL.
	Lead time.Duration
	// Retry is the pause after a failed login.
	Retry       time.Duration
	SignTimeout time.Duration
}

const defaultRefreshRetry = 30 * time.Second

// KeepAlive logs in again shortly before the stored token expires and keeps
// doing so until ctx is done. A failed login is retried after cfg.Retry; the
// old token stays in use while it lasts.
func (m *Manager) KeepAlive(ctx context.Context, w wallet.Signer, cfg RefreshConfig) {
	if cfg.Lead <= 0 || cfg.Lead >= cfg.TTL {
		cfg.Lead = cfg.TTL / 10
	}
	if cfg.Retry <= 0 {
		cfg.Retry = defaultRefreshRetry
	}

	timer := time.NewTimer(m.refreshDelay(cfg.Lead))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		loginCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.SignTimeout > 0 {
			loginCtx, cancel = context.WithTimeout(ctx, cfg.SignTimeout)
		}
		_, err := m.Authenticate(loginCtx, w, cfg.TTL)
		cancel()

		next := m.refreshDelay(cfg.Lead)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			next = cfg.Retry
			logs.Warnf("auth: refresh %s failed, retry in %s, err: %+v", w.Address(), next, err)
		}
		timer.Reset(next)
	}
}

func (m *Manager) refreshDelay(lead time.Duration) time.Duration {
	if d := m.sessions.ExpiresIn() - lead; d > 0 {
		return d
	}
	return 0
}

// Adopt installs a token obtained earlier, binding it to the account signer
// of address so trade requests can be signed without a fresh login.
func (m *Manager) Adopt(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions.IsExpired() {
		return exception.ErrTokenExpired
	}
	s, err := m.keys.GetOrCreate(address)
	if err != nil {
		return errors.Wrap(err, "resolve signer")
	}
	m.reqSign = signer.NewRequestSigner(s)
	m.state = StateAuthenticated
	return nil
}

// Logout forgets the token. The account signer stays on disk.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.Clear()
	m.reqSign = nil
	m.profile = LoginResponse{}
	m.state = StateUnauthenticated
}

// State reports the login progress. An expired token counts as unauthenticated.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateAuthenticated && m.sessions.IsExpired() {
		return StateUnauthenticated
	}
	return m.state
}

// setState moves the login progress of a login in flight. A stored session
// that is still valid keeps the manager authenticated, so a failing re-login
// does not hide a usable token.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reqSign != nil && !m.sessions.IsExpired() {
		s = StateAuthenticated
	}
	m.state = s
}

func (m *Manager) Session() *session.Manager {
	return m.sessions
}

// RequestSigner returns the body signer of the logged in account, or nil.
func (m *Manager) RequestSigner() *signer.RequestSigner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reqSign
}

// Profile returns the login answer of the current session.
func (m *Manager) Profile() LoginResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

func (m *Manager) challenge(ctx context.Context, w wallet.Signer, requestID string) (string, error) {
	body, err := rest.Marshal(challengeRequest{
		Address:   w.Address(),
		Chain:     w.Chain().String(),
		RequestID: requestID,
	})
	if err != nil {
		return "", err
	}

	var resp challengeResponse
	if err := m.client.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   PathChallenge,
		Body:   body,
	}, exception.ErrChallengeFailed, &resp); err != nil {
		return "", rest.Annotate(err, "request challenge")
	}
	if !resp.Success || resp.SignedData == "" {
		return "", rest.NewServerError(http.StatusOK, "", "challenge not granted", exception.ErrChallengeFailed)
	}
	return resp.SignedData, nil
}

func (m *Manager) login(ctx context.Context, address, signature, requestID string) (LoginResponse, error) {
	body, err := rest.Marshal(loginRequest{
		Address:   address,
		Signature: signature,
		RequestID: requestID,
	})
	if err != nil {
		return LoginResponse{}, err
	}

	var resp LoginResponse
	if err := m.client.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   PathLogin,
		Body:   body,
	}, exception.ErrLoginRejected, &resp); err != nil {
		return LoginResponse{}, rest.Annotate(err, "login")
	}
	if resp.Token == "" {
		return LoginResponse{}, errors.Wrap(exception.ErrInternal, "login response without token")
	}
	return resp, nil
}
