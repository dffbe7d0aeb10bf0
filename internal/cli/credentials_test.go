package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nasdesk/nasdesk/internal/config"
	encryption "github.com/nasdesk/nasdesk/internal/crypto"
	"github.com/nasdesk/nasdesk/internal/session"
)

func newProfiles(t *testing.T, fingerprint string) (*config.ProfileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nas_config.ini")
	store := config.NewProfileStore(path, encryption.NewVaultWithFingerprint(fingerprint), nil)
	if _, err := store.Load(); err != nil {
		t.Fatal(err)
	}
	return store, path
}

func noEnv(string) string { return "" }

func TestResolveFlagsWin(t *testing.T) {
	store, _ := newProfiles(t, "m1")
	if err := store.Upsert("home", "http://nas.lan:5000", "bob", "stored", true); err != nil {
		t.Fatal(err)
	}

	cfg := config.NewConfig()
	cfg.NASURL = "http://config.lan:5000"
	cfg.Username = "carol"

	src := credentialSource{
		URL:      "http://flag.lan:5000",
		Username: "alice",
		Profile:  "home",
		Store:    store,
		Config:   cfg,
		Getenv:   func(string) string { return "from-env" },
	}
	r, err := src.resolve()
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	c := r.Credentials
	if c.URL != "http://flag.lan:5000" || c.Username != "alice" {
		t.Errorf("credentials = %v", c)
	}
	// the stored password belongs to bob
	if c.Password != "from-env" {
		t.Errorf("Password = %q, want the env password", c.Password)
	}
	if r.Profile != "home" {
		t.Errorf("Profile = %q", r.Profile)
	}
}

func TestResolveUsesProfilePassword(t *testing.T) {
	store, _ := newProfiles(t, "m1")
	store.Upsert("home", "http://nas.lan:5000", "Bob", "stored", true)

	src := credentialSource{Profile: "home", Store: store, Getenv: noEnv}
	r, err := src.resolve()
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	want := session.Credentials{URL: "http://nas.lan:5000", Username: "Bob", Password: "stored"}
	if r.Credentials != want {
		t.Errorf("credentials = %+v, want %+v", r.Credentials, want)
	}

	// same account with different case still matches
	src.Username = "bob"
	r, err = src.resolve()
	if err != nil || r.Credentials.Password != "stored" {
		t.Errorf("resolve() = %+v, %v", r.Credentials, err)
	}
}

func TestResolveLastSelectedProfile(t *testing.T) {
	store, _ := newProfiles(t, "m1")
	store.Upsert("office", "http://office.lan:5000", "dave", "pw", true)
	if err := store.SetLastSelected("office"); err != nil {
		t.Fatal(err)
	}

	r, err := credentialSource{Store: store, Getenv: noEnv}.resolve()
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	if r.Profile != "office" || r.Credentials.URL != "http://office.lan:5000" {
		t.Errorf("resolved = %+v", r)
	}
}

func TestResolveIgnoresStaleLastSelected(t *testing.T) {
	store, _ := newProfiles(t, "m1")
	store.Upsert("office", "http://office.lan:5000", "dave", "pw", true)
	store.SetLastSelected("office")
	store.Delete("office")

	src := credentialSource{URL: "nas.lan", Username: "x", Store: store, Getenv: func(string) string { return "pw" }}
	r, err := src.resolve()
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	if r.Profile != "" {
		t.Errorf("Profile = %q, want none", r.Profile)
	}
}

func TestResolveUnknownProfile(t *testing.T) {
	store, _ := newProfiles(t, "m1")
	_, err := credentialSource{Profile: "nope", Store: store, Getenv: noEnv}.resolve()
	if !errors.Is(err, config.ErrProfileNotFound) {
		t.Errorf("error = %v, want ErrProfileNotFound", err)
	}

	_, err = credentialSource{Profile: "nope", Getenv: noEnv}.resolve()
	if !errors.Is(err, config.ErrProfileNotFound) {
		t.Errorf("without store: error = %v", err)
	}
}

func TestResolvePromptsForMissing(t *testing.T) {
	p := &scriptedPrompt{lines: []string{"nas.lan:5000", "erin"}, passwords: []string{"secret"}}
	r, err := credentialSource{Getenv: noEnv, Prompt: p}.resolve()
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	c := r.Credentials
	if c.URL != "nas.lan:5000" || c.Username != "erin" || c.Password != "secret" {
		t.Errorf("credentials = %+v", c)
	}
	wantAsked := []string{"NAS address", "Username", "Password for erin"}
	if len(p.asked) != len(wantAsked) {
		t.Fatalf("asked = %v", p.asked)
	}
	for i := range wantAsked {
		if p.asked[i] != wantAsked[i] {
			t.Errorf("asked[%d] = %q, want %q", i, p.asked[i], wantAsked[i])
		}
	}
}

func TestResolveUnrecoverableSecretPrompts(t *testing.T) {
	store, path := newProfiles(t, "old-machine")
	store.Upsert("home", "http://nas.lan:5000", "bob", "stored", true)

	moved := config.NewProfileStore(path, encryption.NewVaultWithFingerprint("new-machine"), nil)
	if _, err := moved.Load(); err != nil {
		t.Fatal(err)
	}

	p := &scriptedPrompt{passwords: []string{"typed"}}
	r, err := credentialSource{Profile: "home", Store: moved, Getenv: noEnv, Prompt: p}.resolve()
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	if r.Credentials.Password != "typed" {
		t.Errorf("Password = %q, want the typed one", r.Credentials.Password)
	}
}

func TestResolveWithoutPrompt(t *testing.T) {
	_, err := credentialSource{URL: "nas.lan", Username: "bob", Getenv: noEnv}.resolve()
	if !errors.Is(err, session.ErrMissingPassword) {
		t.Errorf("error = %v, want ErrMissingPassword", err)
	}

	_, err = credentialSource{Username: "bob", Getenv: noEnv}.resolve()
	if !errors.Is(err, session.ErrMissingURL) {
		t.Errorf("error = %v, want ErrMissingURL", err)
	}
}

func TestResolvePromptEOF(t *testing.T) {
	_, err := credentialSource{URL: "nas.lan", Username: "bob", Getenv: noEnv, Prompt: &scriptedPrompt{}}.resolve()
	if !errors.Is(err, errNoInput) {
		t.Errorf("error = %v, want errNoInput", err)
	}
}

func TestResolveIgnoresStoredPasswordWhenRememberOff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nas_config.ini")
	vault := encryption.NewVaultWithFingerprint("m1")
	ct, err := vault.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	content := "[SETTINGS]\n" +
		"last_profile = home\n" +
		"remember_password = False\n" +
		"\n" +
		"[PROFILE_home]\n" +
		"nas_url = http://nas.lan:5000\n" +
		"username = bob\n" +
		"password = " + ct + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	store := config.NewProfileStore(path, vault, nil)
	if _, err := store.Load(); err != nil {
		t.Fatal(err)
	}
	if store.Remember() {
		t.Fatal("remember_password loaded as true")
	}

	p := &scriptedPrompt{passwords: []string{"typed"}}
	r, err := credentialSource{Store: store, Getenv: noEnv, Prompt: p}.resolve()
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	if r.Profile != "home" || r.Credentials.Password != "typed" {
		t.Errorf("resolved = %+v, want the typed password", r)
	}

	if err := store.SetRemember(true); err != nil {
		t.Fatal(err)
	}
	r, err = credentialSource{Store: store, Getenv: noEnv}.resolve()
	if err != nil {
		t.Fatalf("resolve() after SetRemember(true) error = %v", err)
	}
	if r.Credentials.Password != "secret" {
		t.Errorf("Password = %q, want the stored one", r.Credentials.Password)
	}
}
