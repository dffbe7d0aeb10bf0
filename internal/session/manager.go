// Package session owns the NAS login state: who is signed in, where, and
// whether the session cookie still works.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/nasdesk/nasdesk/internal/api"
	"github.com/nasdesk/nasdesk/internal/events"
	"github.com/nasdesk/nasdesk/internal/logging"
	"github.com/nasdesk/nasdesk/internal/models"
)

var (
	ErrLoginInProgress = errors.New("a login is already in progress")
	ErrNoCredentials   = errors.New("no previous login to reconnect with")
)

var (
	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nasdesk_session_logins_total",
		Help: "Interactive logins by result.",
	}, []string{"result"})

	reloginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nasdesk_session_relogins_total",
		Help: "Silent re-logins after a failed session check, by result.",
	}, []string{"result"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nasdesk_session_verifications_total",
		Help: "Session verification probes by result.",
	}, []string{"result"})
)

// State is the session state machine position.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	// StateVerifying is reported while a probe runs on an authenticated session
	StateVerifying
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateVerifying:
		return "verifying"
	default:
		return "unauthenticated"
	}
}

// NasClient is the part of api.Client the manager drives.
type NasClient interface {
	ProbeCapabilities(ctx context.Context, baseURL string) (*models.Endpoint, error)
	Login(ctx context.Context, ep *models.Endpoint, req api.LoginRequest) (*api.AuthResult, error)
	Logout(ctx context.Context, ep *models.Endpoint)
	VerifySession(ctx context.Context, ep *models.Endpoint) error
	ResetCookies()
}

// Manager is the single source of truth for whether the session is valid.
// It is safe for concurrent use; state changes are serialized while network
// calls run outside the lock.
type Manager struct {
	client NasClient
	bus    *events.EventBus
	logger *logging.Logger

	mu          sync.Mutex
	state       State
	verifying   int
	endpoint    *models.Endpoint
	credentials *Credentials
	generation  uint64
	onLogout    []func()

	// Transitions and purges recorded under mu, delivered by announce in order
	announceMu sync.Mutex
	pending    []transition
	purge      bool

	relogin singleflight.Group
}

// NewManager creates a manager in the unauthenticated state. bus may be nil.
func NewManager(client NasClient, bus *events.EventBus, logger *logging.Logger) *Manager {
	return &Manager{
		client: client,
		bus:    bus,
		logger: logging.OrNop(logger),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateAuthenticated && m.verifying > 0 {
		return StateVerifying
	}
	return m.state
}

// Endpoint returns the endpoint of the current session, or nil.
func (m *Manager) Endpoint() *models.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Credentials returns the last credentials that logged in successfully.
func (m *Manager) Credentials() (Credentials, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credentials == nil {
		return Credentials{}, false
	}
	return *m.credentials, true
}

// Generation changes every time a session starts or ends.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// OnLogout registers fn to run whenever the session ends: on logout, on a
// failed silent re-login and when a login replaces the session. It is for
// purging data scoped to the session and must not call back into m.
func (m *Manager) OnLogout(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = append(m.onLogout, fn)
}

type transition struct {
	from, to State
	reason   string
}

// setStateLocked moves the state machine and records the change for
// announce. Entering Unauthenticated schedules the OnLogout hooks. Caller
// holds mu and must call announce after unlocking.
func (m *Manager) setStateLocked(next State, reason string) {
	prev := m.state
	m.state = next
	if prev == next {
		return
	}
	m.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Str("reason", reason).Msg("Session state")
	m.pending = append(m.pending, transition{from: prev, to: next, reason: reason})
	if next == StateUnauthenticated {
		m.purge = true
	}
}

// announce publishes recorded transitions in the order they happened and
// runs the OnLogout hooks if a purge is due. Must be called without mu held.
func (m *Manager) announce() {
	m.announceMu.Lock()
	defer m.announceMu.Unlock()

	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	purge := m.purge
	m.purge = false
	var hooks []func()
	if purge {
		hooks = append(hooks, m.onLogout...)
	}
	m.mu.Unlock()

	if m.bus != nil {
		for _, t := range pending {
			m.bus.PublishSessionState(t.from.String(), t.to.String(), t.reason)
		}
	}
	for _, fn := range hooks {
		fn()
	}
}

// Login probes the NAS, authenticates and then verifies that the new cookie
// really grants FileStation access. The session only counts as authenticated
// once verification passes; a failed verification returns an AuthError with
// reason AuthVerificationFailed.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*models.Endpoint, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	baseURL, err := NormalizeURL(creds.URL)
	if err != nil {
		return nil, err
	}
	creds.URL = baseURL

	m.mu.Lock()
	if m.state == StateAuthenticating {
		m.mu.Unlock()
		return nil, ErrLoginInProgress
	}
	prevEndpoint := m.endpoint
	m.endpoint = nil
	m.credentials = nil
	m.generation++
	gen := m.generation
	if prevEndpoint != nil {
		m.purge = true
	}
	m.setStateLocked(StateAuthenticating, "login "+creds.String())
	m.mu.Unlock()
	m.announce()

	// Switching NAS or user: the old cookie must not leak into the new session
	if prevEndpoint != nil {
		m.client.Logout(ctx, prevEndpoint)
	}
	m.client.ResetCookies()

	ep, deviceID, err := m.authenticate(ctx, baseURL, creds)
	if err != nil {
		loginsTotal.WithLabelValues("failure").Inc()
		m.mu.Lock()
		if m.generation == gen {
			m.setStateLocked(StateUnauthenticated, "login failed")
		}
		m.mu.Unlock()
		m.announce()
		return nil, err
	}

	creds.OTPCode = ""
	if deviceID != "" {
		creds.DeviceID = deviceID
	}

	defer m.announce()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		// Logged out while authenticating
		m.client.ResetCookies()
		return nil, api.ErrSessionExpired
	}
	m.endpoint = ep
	m.credentials = &creds
	m.setStateLocked(StateAuthenticated, "login "+creds.String())
	loginsTotal.WithLabelValues("success").Inc()
	m.logger.Debug().Str("nas", baseURL).Str("user", creds.Username).Msg("Signed in")
	return ep, nil
}

// authenticate runs probe, login and the mandatory verification.
func (m *Manager) authenticate(ctx context.Context, baseURL string, creds Credentials) (*models.Endpoint, string, error) {
	ep, err := m.client.ProbeCapabilities(ctx, baseURL)
	if err != nil {
		return nil, "", err
	}

	res, err := m.client.Login(ctx, ep, api.LoginRequest{
		Username: creds.Username,
		Password: creds.Password,
		OTPCode:  creds.OTPCode,
		DeviceID: creds.DeviceID,
	})
	if err != nil {
		return nil, "", err
	}

	if err := m.client.VerifySession(ctx, ep); err != nil {
		m.logger.Warn().Err(err).Str("user", creds.Username).Msg("Login accepted but File Station access check failed")
		m.client.Logout(ctx, ep)
		return nil, "", &api.AuthError{Reason: api.AuthVerificationFailed, Err: err}
	}

	return ep, res.DeviceID, nil
}

// Verify issues one minimal authenticated call. It does not change state.
func (m *Manager) Verify(ctx context.Context) error {
	m.mu.Lock()
	ep := m.endpoint
	if ep == nil || m.state != StateAuthenticated {
		m.mu.Unlock()
		return api.ErrSessionExpired
	}
	m.verifying++
	m.mu.Unlock()

	err := m.client.VerifySession(ctx, ep)

	m.mu.Lock()
	m.verifying--
	m.mu.Unlock()

	if err != nil {
		verificationsTotal.WithLabelValues("failure").Inc()
		return err
	}
	verificationsTotal.WithLabelValues("success").Inc()
	return nil
}

// EnsureValid returns nil when the session works, re-logging in silently
// with the last credentials if the probe fails. Concurrent callers share a
// single re-login. A failed re-login leaves the session unauthenticated and
// returns an error wrapping api.ErrSessionExpired.
func (m *Manager) EnsureValid(ctx context.Context) error {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	verifyErr := m.Verify(ctx)
	if verifyErr == nil {
		return nil
	}
	if errors.Is(verifyErr, api.ErrSessionExpired) {
		return verifyErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.logger.Debug().Err(verifyErr).Msg("Session check failed, signing in again")

	_, err, _ := m.relogin.Do(fmt.Sprint(gen), func() (interface{}, error) {
		return nil, m.reloginFrom(ctx, gen)
	})
	return err
}

// reloginFrom re-authenticates the session that had generation gen.
func (m *Manager) reloginFrom(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	if m.generation != gen {
		// Someone already replaced or ended this session
		state := m.state
		m.mu.Unlock()
		if state == StateAuthenticated {
			return nil
		}
		return api.ErrSessionExpired
	}
	ep := m.endpoint
	creds := m.credentials
	m.mu.Unlock()

	if ep == nil || creds == nil {
		return api.ErrSessionExpired
	}

	m.client.ResetCookies()
	res, err := m.client.Login(ctx, ep, api.LoginRequest{
		Username: creds.Username,
		Password: creds.Password,
		DeviceID: creds.DeviceID,
	})
	if err == nil {
		err = m.client.VerifySession(ctx, ep)
	}

	defer m.announce()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen {
		m.client.ResetCookies()
		return api.ErrSessionExpired
	}

	if err != nil {
		reloginsTotal.WithLabelValues("failure").Inc()
		m.logger.Warn().Err(err).Str("user", creds.Username).Msg("Silent re-login failed")
		m.generation++
		m.endpoint = nil
		m.setStateLocked(StateUnauthenticated, "session expired")
		return fmt.Errorf("%w: %v", api.ErrSessionExpired, err)
	}

	if res.DeviceID != "" {
		updated := *creds
		updated.DeviceID = res.DeviceID
		m.credentials = &updated
	}
	m.generation++
	reloginsTotal.WithLabelValues("success").Inc()
	m.logger.Info().Str("user", creds.Username).Msg("Session renewed")
	return nil
}

// Reconnect logs in again with the last successful credentials.
func (m *Manager) Reconnect(ctx context.Context) (*models.Endpoint, error) {
	creds, ok := m.Credentials()
	if !ok {
		return nil, ErrNoCredentials
	}
	return m.Login(ctx, creds)
}

// Logout ends the session. The remote logout is best-effort; locally the
// session always ends, credentials are forgotten and OnLogout hooks run.
// Jobs still in flight fail with api.ErrSessionExpired on their next check.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	ep := m.endpoint
	m.endpoint = nil
	m.credentials = nil
	m.generation++
	m.purge = true
	m.setStateLocked(StateUnauthenticated, "logout")
	m.mu.Unlock()

	if ep != nil {
		m.client.Logout(ctx, ep)
	} else {
		m.client.ResetCookies()
	}

	m.announce()
	m.logger.Debug().Msg("Signed out")
}
