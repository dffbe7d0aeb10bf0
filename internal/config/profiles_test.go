package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	encryption "github.com/nasdesk/nasdesk/internal/crypto"
)

func newTestStore(t *testing.T, fingerprint string) (*ProfileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nas_config.ini")
	return NewProfileStore(path, encryption.NewVaultWithFingerprint(fingerprint), nil), path
}

// TestLoadAndSelectScenario tests loading a hand-written store and selecting a profile
func TestLoadAndSelectScenario(t *testing.T) {
	vault := encryption.NewVaultWithFingerprint("alice:/opt/nasdesk")
	ct, err := vault.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "nas_config.ini")
	content := "[SETTINGS]\n" +
		"last_profile = home\n" +
		"remember_password = True\n" +
		"\n" +
		"[PROFILE_home]\n" +
		"nas_url = http://1.2.3.4:5000\n" +
		"username = alice\n" +
		"password = " + ct + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write store: %v", err)
	}

	store := NewProfileStore(path, vault, nil)
	profiles, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
	if !store.Remember() {
		t.Error("expected remember_password to load as true")
	}
	if store.LastSelected() != "home" {
		t.Errorf("LastSelected() = %q, want home", store.LastSelected())
	}

	sel, err := store.Select("home")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.URL != "http://1.2.3.4:5000" {
		t.Errorf("URL = %q, want http://1.2.3.4:5000", sel.URL)
	}
	if sel.Username != "alice" {
		t.Errorf("Username = %q, want alice", sel.Username)
	}
	if sel.Secret.Value != "hunter2" {
		t.Errorf("decrypted password = %q, want hunter2", sel.Secret.Value)
	}
}

func TestUpsertRoundTrip(t *testing.T) {
	store, path := newTestStore(t, "bob:/opt/nasdesk")

	if err := store.Upsert("office", "https://nas.office:5001", "bob", "s3cret", true); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := store.Upsert("guest", "http://10.0.0.2:5000", "guest", "ignored", false); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read store: %v", err)
	}
	if strings.Contains(string(data), "s3cret") {
		t.Fatal("plaintext password written to disk")
	}
	if !strings.Contains(string(data), "[PROFILE_office]") {
		t.Errorf("missing profile section in %q", string(data))
	}

	reloaded := NewProfileStore(path, encryption.NewVaultWithFingerprint("bob:/opt/nasdesk"), nil)
	profiles, err := reloaded.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles["guest"].Remembered() {
		t.Error("guest password should not be remembered")
	}

	sel, err := reloaded.Select("office")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if !sel.Secret.Ok() || sel.Secret.Value != "s3cret" {
		t.Errorf("Select(office) secret = %+v, want s3cret", sel.Secret)
	}

	guest, _ := reloaded.Select("guest")
	if guest.Secret.State != encryption.SecretNotSet {
		t.Errorf("guest secret state = %v, want not set", guest.Secret.State)
	}
}

func TestUpsertOverwrites(t *testing.T) {
	store, _ := newTestStore(t, "carol:/opt")

	store.Upsert("home", "http://a:5000", "carol", "one", true)
	store.Upsert("home", "http://b:5000", "carol2", "", true)

	p, ok := store.Get("home")
	if !ok {
		t.Fatal("profile missing after overwrite")
	}
	if p.URL != "http://b:5000" || p.Username != "carol2" {
		t.Errorf("unexpected profile after overwrite: %+v", p)
	}
	if p.Remembered() {
		t.Error("empty password should clear the remembered password")
	}
}

func TestNamesAreCaseSensitive(t *testing.T) {
	store, _ := newTestStore(t, "dave:/opt")

	store.Upsert("Home", "http://a:5000", "dave", "", false)
	store.Upsert("home", "http://b:5000", "dave", "", false)

	names := store.Names()
	if len(names) != 2 || names[0] != "Home" || names[1] != "home" {
		t.Errorf("Names() = %v, want [Home home]", names)
	}
}

// TestSelectWithMovedInstall tests that a changed fingerprint yields an empty, flagged password
func TestSelectWithMovedInstall(t *testing.T) {
	store, path := newTestStore(t, "erin:/old/location")
	store.Upsert("home", "http://a:5000", "erin", "pw", true)

	moved := NewProfileStore(path, encryption.NewVaultWithFingerprint("erin:/new/location"), nil)
	if _, err := moved.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sel, err := moved.Select("home")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.Secret.Value != "" {
		t.Errorf("expected empty password, got %q", sel.Secret.Value)
	}
	if sel.Secret.State != encryption.SecretUnrecoverable {
		t.Errorf("state = %v, want unrecoverable", sel.Secret.State)
	}
	if sel.Username != "erin" {
		t.Errorf("Username = %q, want erin", sel.Username)
	}
}

func TestLoadSkipsMalformedSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nas_config.ini")
	content := "[SETTINGS]\n" +
		"remember_password = False\n" +
		"this line is garbage\n" +
		"[PROFILE_]\n" +
		"nas_url = http://nameless:5000\n" +
		"[PROFILE_nourl]\n" +
		"username = x\n" +
		"[SOMETHING_ELSE]\n" +
		"key = value\n" +
		"[PROFILE_good]\n" +
		"nas_url = http://good:5000\n" +
		"username = ok\n" +
		"password =\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write store: %v", err)
	}

	store := NewProfileStore(path, encryption.NewVaultWithFingerprint("x:/y"), nil)
	profiles, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected only the good profile, got %v", profiles)
	}
	if _, ok := profiles["good"]; !ok {
		t.Error("good profile missing")
	}
	if got := len(store.Skipped()); got != 3 {
		t.Errorf("Skipped() has %d entries, want 3: %v", got, store.Skipped())
	}
}

func TestLoadMissingFile(t *testing.T) {
	store, _ := newTestStore(t, "x:/y")
	profiles, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("expected no profiles, got %d", len(profiles))
	}
}

func TestDeleteAndClear(t *testing.T) {
	store, path := newTestStore(t, "x:/y")
	store.Upsert("a", "http://a:5000", "u", "", false)
	store.Upsert("b", "http://b:5000", "u", "", false)
	store.SetLastSelected("a")

	if err := store.Delete("a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if store.LastSelected() != "" {
		t.Errorf("LastSelected() = %q after deleting it, want empty", store.LastSelected())
	}
	if err := store.Delete("missing"); err == nil {
		t.Error("expected error deleting unknown profile")
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected store file removed, stat err = %v", err)
	}
	if len(store.Names()) != 0 {
		t.Error("expected no profiles after Clear()")
	}
}

func TestSaveReplacesEverything(t *testing.T) {
	store, path := newTestStore(t, "x:/y")
	store.Upsert("old", "http://old:5000", "u", "", false)

	err := store.Save(map[string]Profile{
		"new": {Name: "new", URL: "http://new:5000", Username: "n"},
	}, "new", true)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded := NewProfileStore(path, encryption.NewVaultWithFingerprint("x:/y"), nil)
	profiles, _ := reloaded.Load()
	if _, ok := profiles["old"]; ok {
		t.Error("old profile survived Save()")
	}
	if reloaded.LastSelected() != "new" || !reloaded.Remember() {
		t.Errorf("settings not persisted: last=%q remember=%v", reloaded.LastSelected(), reloaded.Remember())
	}
}

func TestUpsertValidation(t *testing.T) {
	store, _ := newTestStore(t, "x:/y")
	if err := store.Upsert("", "http://a", "u", "", false); err != ErrInvalidProfileName {
		t.Errorf("Upsert(empty name) error = %v, want ErrInvalidProfileName", err)
	}
	if err := store.Upsert("bad]name", "http://a", "u", "", false); err != ErrInvalidProfileName {
		t.Errorf("Upsert(bracket) error = %v, want ErrInvalidProfileName", err)
	}
	if err := store.Upsert("ok", "  ", "u", "", false); err != ErrMissingProfileURL {
		t.Errorf("Upsert(empty url) error = %v, want ErrMissingProfileURL", err)
	}
}
