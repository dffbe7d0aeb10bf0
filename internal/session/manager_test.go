package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nasdesk/nasdesk/internal/api"
	"github.com/nasdesk/nasdesk/internal/config"
	"github.com/nasdesk/nasdesk/internal/events"
	"github.com/nasdesk/nasdesk/internal/testutil/fakenas"
)

func newManager(t *testing.T, bus *events.EventBus) (*Manager, *fakenas.Server) {
	t.Helper()
	nas := fakenas.New()
	t.Cleanup(nas.Close)

	client, err := api.NewClient(config.NewConfig(), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return NewManager(client, bus, nil), nas
}

func defaultCreds(nas *fakenas.Server) Credentials {
	return Credentials{URL: nas.URL, Username: fakenas.DefaultUser, Password: fakenas.DefaultPassword}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"192.168.1.10:5000", "http://192.168.1.10:5000", false},
		{" https://nas.local:5001/ ", "https://nas.local:5001", false},
		{"http://nas.local/sub//", "http://nas.local/sub", false},
		{"ftp://nas.local", "", true},
		{"", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCredentialsValidate(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		want  error
	}{
		{"ok", Credentials{URL: "nas:5000", Username: "u", Password: "p"}, nil},
		{"no url", Credentials{Username: "u", Password: "p"}, ErrMissingURL},
		{"bad url", Credentials{URL: "ftp://nas", Username: "u", Password: "p"}, ErrInvalidURL},
		{"no user", Credentials{URL: "nas:5000", Username: "  ", Password: "p"}, ErrMissingUsername},
		{"no password", Credentials{URL: "nas:5000", Username: "u"}, ErrMissingPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}

	if s := (Credentials{URL: "http://nas", Username: "u", Password: "secret"}).String(); strings.Contains(s, "secret") {
		t.Errorf("String() leaks password: %q", s)
	}
}

func TestLogin(t *testing.T) {
	m, nas := newManager(t, nil)

	ep, err := m.Login(context.Background(), defaultCreds(nas))
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if ep.BaseURL != nas.URL {
		t.Errorf("BaseURL = %q, want %q", ep.BaseURL, nas.URL)
	}
	if m.State() != StateAuthenticated {
		t.Errorf("State() = %s, want authenticated", m.State())
	}
	if nas.Calls("list_share") != 1 {
		t.Errorf("verification calls = %d, want 1", nas.Calls("list_share"))
	}
	if creds, ok := m.Credentials(); !ok || creds.Username != fakenas.DefaultUser {
		t.Errorf("Credentials() = %+v, %v", creds, ok)
	}
}

func TestLoginValidation(t *testing.T) {
	m, _ := newManager(t, nil)

	_, err := m.Login(context.Background(), Credentials{URL: "nas:5000", Username: "u"})
	if !errors.Is(err, ErrMissingPassword) {
		t.Fatalf("Login() error = %v, want ErrMissingPassword", err)
	}
	if m.State() != StateUnauthenticated {
		t.Errorf("State() = %s, want unauthenticated", m.State())
	}
}

func TestLoginBadPassword(t *testing.T) {
	m, nas := newManager(t, nil)

	creds := defaultCreds(nas)
	creds.Password = "wrong"
	_, err := m.Login(context.Background(), creds)

	var authErr *api.AuthError
	if !errors.As(err, &authErr) || authErr.Reason != api.AuthBadCredentials {
		t.Fatalf("Login() error = %v, want bad credentials", err)
	}
	if m.State() != StateUnauthenticated {
		t.Errorf("State() = %s, want unauthenticated", m.State())
	}
	if m.Endpoint() != nil {
		t.Error("Endpoint() should be nil after a failed login")
	}
}

func TestLoginVerificationFailure(t *testing.T) {
	m, nas := newManager(t, nil)
	nas.DenyFileStation(true)

	_, err := m.Login(context.Background(), defaultCreds(nas))

	var authErr *api.AuthError
	if !errors.As(err, &authErr) || authErr.Reason != api.AuthVerificationFailed {
		t.Fatalf("Login() error = %v, want verification failure", err)
	}
	if m.State() != StateUnauthenticated {
		t.Errorf("State() = %s, want unauthenticated", m.State())
	}
	if nas.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions() = %d, want the rejected session logged out", nas.ActiveSessions())
	}
}

func TestLoginWithOTPKeepsDeviceToken(t *testing.T) {
	m, nas := newManager(t, nil)
	nas.RequireOTP("123456", "dev-1")
	ctx := context.Background()

	_, err := m.Login(ctx, defaultCreds(nas))
	var authErr *api.AuthError
	if !errors.As(err, &authErr) || authErr.Reason != api.AuthOTPRequired {
		t.Fatalf("Login() without code error = %v, want OTP required", err)
	}

	creds := defaultCreds(nas)
	creds.OTPCode = "123456"
	if _, err := m.Login(ctx, creds); err != nil {
		t.Fatalf("Login() with code error = %v", err)
	}
	saved, _ := m.Credentials()
	if saved.DeviceID != "dev-1" || saved.OTPCode != "" {
		t.Errorf("saved credentials = %+v, want device token and no OTP", saved)
	}

	// The silent re-login has no code and must pass on the device token alone
	nas.ExpireSessions()
	if err := m.EnsureValid(ctx); err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if got := nas.LastLogin()["device_id"]; got != "dev-1" {
		t.Errorf("re-login device_id = %q, want dev-1", got)
	}
}

func TestEnsureValidHealthySession(t *testing.T) {
	m, nas := newManager(t, nil)
	ctx := context.Background()
	if _, err := m.Login(ctx, defaultCreds(nas)); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := m.EnsureValid(ctx); err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if nas.Calls("login") != 1 {
		t.Errorf("login calls = %d, want 1", nas.Calls("login"))
	}
}

func TestEnsureValidRelogsOnce(t *testing.T) {
	m, nas := newManager(t, nil)
	ctx := context.Background()
	if _, err := m.Login(ctx, defaultCreds(nas)); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	gen := m.Generation()

	nas.ExpireSessions()
	if err := m.EnsureValid(ctx); err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if nas.Calls("login") != 2 {
		t.Errorf("login calls = %d, want exactly one re-login", nas.Calls("login"))
	}
	if m.State() != StateAuthenticated {
		t.Errorf("State() = %s, want authenticated", m.State())
	}
	if m.Generation() == gen {
		t.Error("Generation() should change after a re-login")
	}

	if err := m.EnsureValid(ctx); err != nil {
		t.Fatalf("EnsureValid() after re-login error = %v", err)
	}
	if nas.Calls("login") != 2 {
		t.Errorf("login calls = %d, want no further re-login", nas.Calls("login"))
	}
}

func TestEnsureValidFailedRelogin(t *testing.T) {
	m, nas := newManager(t, nil)
	ctx := context.Background()
	if _, err := m.Login(ctx, defaultCreds(nas)); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	nas.ExpireSessions()
	nas.SetCredentials(fakenas.DefaultUser, "rotated")

	err := m.EnsureValid(ctx)
	if !errors.Is(err, api.ErrSessionExpired) {
		t.Fatalf("EnsureValid() error = %v, want ErrSessionExpired", err)
	}
	if m.State() != StateUnauthenticated {
		t.Errorf("State() = %s, want unauthenticated", m.State())
	}
	if nas.Calls("login") != 2 {
		t.Errorf("login calls = %d, want exactly one re-login attempt", nas.Calls("login"))
	}

	// Later checks fail fast without touching the network
	if err := m.EnsureValid(ctx); !errors.Is(err, api.ErrSessionExpired) {
		t.Errorf("second EnsureValid() error = %v, want ErrSessionExpired", err)
	}
	if nas.Calls("login") != 2 {
		t.Errorf("login calls = %d after second check, want 2", nas.Calls("login"))
	}
}

func TestEnsureValidConcurrent(t *testing.T) {
	m, nas := newManager(t, nil)
	ctx := context.Background()
	if _, err := m.Login(ctx, defaultCreds(nas)); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	nas.ExpireSessions()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.EnsureValid(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("EnsureValid() error = %v", err)
		}
	}
	if m.State() != StateAuthenticated {
		t.Errorf("State() = %s, want authenticated", m.State())
	}
	if err := m.Verify(ctx); err != nil {
		t.Errorf("Verify() after concurrent re-login error = %v", err)
	}
}

func TestEnsureValidWithoutLogin(t *testing.T) {
	m, nas := newManager(t, nil)

	if err := m.EnsureValid(context.Background()); !errors.Is(err, api.ErrSessionExpired) {
		t.Fatalf("EnsureValid() error = %v, want ErrSessionExpired", err)
	}
	if nas.Calls("login") != 0 {
		t.Errorf("login calls = %d, want 0", nas.Calls("login"))
	}
}

func TestLogout(t *testing.T) {
	m, nas := newManager(t, nil)
	ctx := context.Background()
	if _, err := m.Login(ctx, defaultCreds(nas)); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	purged := 0
	m.OnLogout(func() { purged++ })
	m.Logout(ctx)

	if m.State() != StateUnauthenticated {
		t.Errorf("State() = %s, want unauthenticated", m.State())
	}
	if _, ok := m.Credentials(); ok {
		t.Error("Credentials() should be cleared by logout")
	}
	if purged != 1 {
		t.Errorf("logout hooks ran %d times, want 1", purged)
	}
	if nas.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions() = %d, want 0", nas.ActiveSessions())
	}
	if _, err := m.Reconnect(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Reconnect() error = %v, want ErrNoCredentials", err)
	}
}

func TestLogoutWhenServerGone(t *testing.T) {
	m, nas := newManager(t, nil)
	ctx := context.Background()
	if _, err := m.Login(ctx, defaultCreds(nas)); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	nas.Close()

	m.Logout(ctx)
	if m.State() != StateUnauthenticated {
		t.Errorf("State() = %s, want unauthenticated", m.State())
	}
}

func TestReconnectAfterFailedRelogin(t *testing.T) {
	m, nas := newManager(t, nil)
	ctx := context.Background()
	if _, err := m.Login(ctx, defaultCreds(nas)); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	nas.ExpireSessions()
	nas.FailNext("login", 400)
	if err := m.EnsureValid(ctx); !errors.Is(err, api.ErrSessionExpired) {
		t.Fatalf("EnsureValid() error = %v, want ErrSessionExpired", err)
	}

	if _, err := m.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if m.State() != StateAuthenticated {
		t.Errorf("State() = %s, want authenticated", m.State())
	}
}

func TestSessionStateEventsInOrder(t *testing.T) {
	bus := events.NewEventBus(16)
	defer bus.Close()
	ch := bus.Subscribe(events.EventSessionState)

	m, nas := newManager(t, bus)
	ctx := context.Background()
	if _, err := m.Login(ctx, defaultCreds(nas)); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	m.Logout(ctx)

	want := []string{
		"unauthenticated>authenticating",
		"authenticating>authenticated",
		"authenticated>unauthenticated",
	}
	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < len(want) {
		select {
		case ev := <-ch:
			e := ev.(*events.SessionStateEvent)
			got = append(got, e.OldState+">"+e.NewState)
		case <-timeout:
			t.Fatalf("missing transitions, saw %v", got)
		}
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestFailedReloginRunsLogoutHooks(t *testing.T) {
	m, nas := newManager(t, nil)
	ctx := context.Background()
	if _, err := m.Login(ctx, defaultCreds(nas)); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	purged := 0
	m.OnLogout(func() { purged++ })

	nas.ExpireSessions()
	nas.SetCredentials(fakenas.DefaultUser, "rotated")
	if err := m.EnsureValid(ctx); !errors.Is(err, api.ErrSessionExpired) {
		t.Fatalf("EnsureValid() error = %v, want ErrSessionExpired", err)
	}
	if purged != 1 {
		t.Errorf("hooks ran %d times after failed re-login, want 1", purged)
	}
}

func TestLoginOverSessionRunsLogoutHooks(t *testing.T) {
	m, nas := newManager(t, nil)
	ctx := context.Background()
	if _, err := m.Login(ctx, defaultCreds(nas)); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	purged := 0
	m.OnLogout(func() { purged++ })

	if _, err := m.Login(ctx, defaultCreds(nas)); err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if purged != 1 {
		t.Errorf("hooks ran %d times when a login replaced the session, want 1", purged)
	}
	if m.State() != StateAuthenticated {
		t.Errorf("State() = %s, want authenticated", m.State())
	}
}
