package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/nasdesk/nasdesk/internal/config"
	encryption "github.com/nasdesk/nasdesk/internal/crypto"
)

func TestPrintProfiles(t *testing.T) {
	store, _ := newProfiles(t, "m1")

	var out bytes.Buffer
	printProfiles(&out, store)
	if !strings.Contains(out.String(), "No saved profiles") {
		t.Errorf("empty store output = %q", out.String())
	}

	store.Upsert("home", "http://nas.lan:5000", "bob", "pw", true)
	store.Upsert("office", "http://office.lan:5000", "dave", "", false)
	store.SetLastSelected("office")

	out.Reset()
	printProfiles(&out, store)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[1], "home") || !strings.Contains(lines[1], "saved") || strings.HasPrefix(lines[1], "*") {
		t.Errorf("home line = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "*") || !strings.Contains(lines[2], "office") || !strings.HasSuffix(lines[2], "-") {
		t.Errorf("office line = %q", lines[2])
	}
	if strings.Contains(out.String(), "pw ") {
		t.Error("password printed")
	}
}

func TestShowProfile(t *testing.T) {
	store, path := newProfiles(t, "m1")
	store.Upsert("home", "http://nas.lan:5000", "bob", "s3cret", true)
	store.Upsert("guest", "http://nas.lan:5000", "guest", "", false)

	var out bytes.Buffer
	if err := showProfile(&out, store, "home"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Password: <saved>") || strings.Contains(out.String(), "s3cret") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	showProfile(&out, store, "guest")
	if !strings.Contains(out.String(), "Password: <not saved>") {
		t.Errorf("output = %q", out.String())
	}

	moved := config.NewProfileStore(path, encryption.NewVaultWithFingerprint("m2"), nil)
	moved.Load()
	out.Reset()
	showProfile(&out, moved, "home")
	if !strings.Contains(out.String(), "saved on another machine") {
		t.Errorf("output = %q", out.String())
	}

	if err := showProfile(&out, store, "nope"); !errors.Is(err, config.ErrProfileNotFound) {
		t.Errorf("error = %v", err)
	}
}

func TestProfileCommandStructure(t *testing.T) {
	cmd := newProfileCmd()
	for _, name := range []string{"list", "show", "add", "remove", "clear", "remember"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Errorf("subcommand %q not found", name)
		}
	}
	add, _, _ := cmd.Find([]string{"add"})
	for _, flag := range []string{"url", "user", "remember"} {
		if add.Flags().Lookup(flag) == nil {
			t.Errorf("add has no --%s flag", flag)
		}
	}
}

func TestSetRemember(t *testing.T) {
	store, path := newProfiles(t, "m1")
	store.Upsert("home", "http://nas.lan:5000", "bob", "s3cret", true)

	var out bytes.Buffer
	if err := setRemember(&out, store, ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "are used") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if err := setRemember(&out, store, "off"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "ignored") {
		t.Errorf("output = %q", out.String())
	}

	reloaded := config.NewProfileStore(path, encryption.NewVaultWithFingerprint("m1"), nil)
	if _, err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if reloaded.Remember() {
		t.Error("remember setting not persisted as off")
	}
	if p, _ := reloaded.Get("home"); !p.Remembered() {
		t.Error("turning remembering off dropped the stored password")
	}

	out.Reset()
	showProfile(&out, reloaded, "home")
	if !strings.Contains(out.String(), "unused while remembering is off") {
		t.Errorf("show output = %q", out.String())
	}

	if err := setRemember(&out, store, "maybe"); err == nil {
		t.Error("setRemember(maybe) error = nil")
	}
}
