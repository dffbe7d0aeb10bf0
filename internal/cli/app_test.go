package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nasdesk/nasdesk/internal/api"
	"github.com/nasdesk/nasdesk/internal/config"
	encryption "github.com/nasdesk/nasdesk/internal/crypto"
	"github.com/nasdesk/nasdesk/internal/diskspace"
	"github.com/nasdesk/nasdesk/internal/models"
	"github.com/nasdesk/nasdesk/internal/testutil/fakenas"
	"github.com/nasdesk/nasdesk/internal/transfer"
)

// scriptedPrompt answers prompts from fixed lists and records the labels asked.
type scriptedPrompt struct {
	lines     []string
	passwords []string
	asked     []string
}

func (p *scriptedPrompt) Line(label string) (string, error) {
	p.asked = append(p.asked, label)
	if len(p.lines) == 0 {
		return "", errNoInput
	}
	v := p.lines[0]
	p.lines = p.lines[1:]
	return v, nil
}

func (p *scriptedPrompt) Password(label string) (string, error) {
	p.asked = append(p.asked, label)
	if len(p.passwords) == 0 {
		return "", errNoInput
	}
	v := p.passwords[0]
	p.passwords = p.passwords[1:]
	return v, nil
}

func setQuiet(t *testing.T) {
	t.Helper()
	prev := quiet
	quiet = true
	t.Cleanup(func() { quiet = prev })
}

type testApp struct {
	*app
	nas    *fakenas.Server
	out    *bytes.Buffer
	prompt *scriptedPrompt
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	setQuiet(t)

	nas := fakenas.New()
	t.Cleanup(nas.Close)

	cfg := config.NewConfig()
	cfg.ProfilesPath = filepath.Join(t.TempDir(), "nas_config.ini")

	out := &bytes.Buffer{}
	prompt := &scriptedPrompt{}
	a, err := newApp(appOptions{
		Config: cfg,
		Vault:  encryption.NewVaultWithFingerprint("test-machine"),
		Prompt: prompt,
		Out:    out,
	})
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(a.close)
	return &testApp{app: a, nas: nas, out: out, prompt: prompt}
}

func (ta *testApp) source() credentialSource {
	return credentialSource{
		URL:      ta.nas.URL,
		Username: fakenas.DefaultUser,
		Store:    ta.profiles,
		Getenv: func(key string) string {
			if key == PasswordEnvVar {
				return fakenas.DefaultPassword
			}
			return ""
		},
		Prompt: ta.prompt,
	}
}

func (ta *testApp) mustConnect(t *testing.T) {
	t.Helper()
	if _, err := ta.connect(context.Background(), ta.source()); err != nil {
		t.Fatalf("connect() error = %v", err)
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestConnectAndList(t *testing.T) {
	ta := newTestApp(t)
	ta.mustConnect(t)

	shares, err := ta.list(context.Background(), "/")
	if err != nil {
		t.Fatalf("list(/) error = %v", err)
	}
	if len(shares) != 2 {
		t.Fatalf("got %d shares, want 2", len(shares))
	}

	entries, err := ta.list(context.Background(), "/photos")
	if err != nil {
		t.Fatalf("list(/photos) error = %v", err)
	}
	printEntries(ta.out, entries)
	if !strings.Contains(ta.out.String(), "a.jpg") {
		t.Errorf("listing missing a.jpg:\n%s", ta.out.String())
	}
}

func TestListMissingFolder(t *testing.T) {
	ta := newTestApp(t)
	ta.mustConnect(t)

	_, err := ta.list(context.Background(), "/nope")
	if err == nil {
		t.Fatal("list of a missing folder succeeded")
	}
	if !strings.HasPrefix(err.Error(), "List /nope failed") {
		t.Errorf("error = %q", err)
	}
	var opErr *api.OperationError
	if !errors.As(err, &opErr) {
		t.Errorf("error %v does not wrap an OperationError", err)
	}
}

func TestConnectWrongPassword(t *testing.T) {
	ta := newTestApp(t)
	src := ta.source()
	src.Getenv = func(string) string { return "wrong" }

	_, err := ta.connect(context.Background(), src)
	if err == nil {
		t.Fatal("connect succeeded with a wrong password")
	}
	if !api.IsAuthError(err) {
		t.Errorf("error %v is not an auth error", err)
	}
	if !strings.HasPrefix(err.Error(), "Login failed") {
		t.Errorf("error = %q", err)
	}
}

func TestConnectAsksForOTP(t *testing.T) {
	ta := newTestApp(t)
	ta.nas.RequireOTP("123456", "dev-1")
	ta.prompt.lines = []string{"123456"}

	ta.mustConnect(t)

	creds, _ := ta.session.Credentials()
	if creds.DeviceID != "dev-1" {
		t.Errorf("DeviceID = %q, want dev-1", creds.DeviceID)
	}
	if len(ta.prompt.asked) != 1 || !strings.Contains(ta.prompt.asked[0], "verification code") {
		t.Errorf("prompts = %v", ta.prompt.asked)
	}
}

func TestLoginSavesProfile(t *testing.T) {
	ta := newTestApp(t)

	if err := ta.login(context.Background(), ta.source(), "home", true); err != nil {
		t.Fatalf("login() error = %v", err)
	}
	if !strings.Contains(ta.out.String(), `Saved profile "home" with its password`) {
		t.Errorf("output = %q", ta.out.String())
	}

	p, ok := ta.profiles.Get("home")
	if !ok {
		t.Fatal("profile not saved")
	}
	if p.URL != ta.nas.URL || p.Username != fakenas.DefaultUser || !p.Remembered() {
		t.Errorf("profile = %+v", p)
	}
	if got := ta.profiles.LastSelected(); got != "home" {
		t.Errorf("LastSelected() = %q", got)
	}

	sel, err := ta.profiles.Select("home")
	if err != nil {
		t.Fatal(err)
	}
	if sel.Secret.Value != fakenas.DefaultPassword {
		t.Error("stored password does not decrypt to the login password")
	}

	if err := ta.forget(""); err != nil {
		t.Fatalf("forget() error = %v", err)
	}
	p, _ = ta.profiles.Get("home")
	if p.Remembered() {
		t.Error("password still stored after forget")
	}
	if got := ta.profiles.LastSelected(); got != "" {
		t.Errorf("LastSelected() after forget = %q", got)
	}
}

func TestForgetWithoutProfile(t *testing.T) {
	ta := newTestApp(t)
	if err := ta.forget(""); err != nil {
		t.Fatalf("forget() error = %v", err)
	}
	if err := ta.forget("missing"); !errors.Is(err, config.ErrProfileNotFound) {
		t.Errorf("forget(missing) error = %v", err)
	}
}

func TestUploadThenDownload(t *testing.T) {
	ta := newTestApp(t)
	ta.mustConnect(t)
	ctx := context.Background()

	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(src, []byte("hello nas"), 0644); err != nil {
		t.Fatal(err)
	}

	err := ta.runTransfers(ctx, 1, func() []*transfer.Job {
		return []*transfer.Job{ta.coord.SubmitUpload(src, "/docs")}
	})
	if err != nil {
		t.Fatalf("upload error = %v", err)
	}
	if data, ok := ta.nas.File("/docs/notes.txt"); !ok || string(data) != "hello nas" {
		t.Fatalf("NAS file = %q, %v", data, ok)
	}

	outDir := t.TempDir()
	err = ta.runTransfers(ctx, 1, func() []*transfer.Job {
		return []*transfer.Job{ta.coord.SubmitDownload("/docs/notes.txt", outDir)}
	})
	if err != nil {
		t.Fatalf("download error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(outDir, "notes.txt"))
	if err != nil || string(data) != "hello nas" {
		t.Errorf("downloaded %q, %v", data, err)
	}
}

func TestRunTransfersCountsFailures(t *testing.T) {
	ta := newTestApp(t)
	ta.mustConnect(t)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	os.WriteFile(good, []byte("ok"), 0644)

	err := ta.runTransfers(context.Background(), 2, func() []*transfer.Job {
		return []*transfer.Job{
			ta.coord.SubmitUpload(good, "/docs"),
			ta.coord.SubmitUpload(good, "/"),
		}
	})
	var jf *jobFailures
	if !errors.As(err, &jf) {
		t.Fatalf("error = %v, want jobFailures", err)
	}
	if jf.failed != 1 || jf.total != 2 {
		t.Errorf("jobFailures = %+v", *jf)
	}
	if err.Error() != "1 of 2 transfers failed" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestThumbnail(t *testing.T) {
	ta := newTestApp(t)
	ta.mustConnect(t)
	ta.nas.AddFile("/photos/red.png", pngBytes(t, 40, 20))

	img, err := ta.thumbnail(context.Background(), "/photos/red.png", models.ViewMediumIcons)
	if err != nil {
		t.Fatalf("thumbnail() error = %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("result is not a PNG: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 64 {
		t.Errorf("thumbnail is %dx%d, want 64x64", cfg.Width, cfg.Height)
	}

	if _, err := ta.thumbnail(context.Background(), "/docs/readme.txt", models.ViewList); err == nil {
		t.Error("thumbnail of a text file succeeded")
	}
}

func TestCloseLogsOut(t *testing.T) {
	ta := newTestApp(t)
	ta.mustConnect(t)
	if n := ta.nas.ActiveSessions(); n != 1 {
		t.Fatalf("ActiveSessions() = %d, want 1", n)
	}

	ta.close()

	deadline := time.Now().Add(2 * time.Second)
	for ta.nas.ActiveSessions() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := ta.nas.ActiveSessions(); n != 0 {
		t.Errorf("ActiveSessions() after close = %d", n)
	}
}

func TestHint(t *testing.T) {
	full := fmt.Errorf("download: %w", &diskspace.InsufficientSpaceError{Path: "/tmp/a.iso", RequiredBytes: 2048, AvailableBytes: 1024})
	if h := hint(full); !strings.Contains(h, "Free some disk space") {
		t.Errorf("hint(no space) = %q", h)
	}
	exists := &api.UploadError{Code: 1805, Reason: api.UploadExistsNoOverwrite}
	if h := hint(exists); !strings.Contains(h, "already exists") {
		t.Errorf("hint(exists) = %q", h)
	}
	if h := hint(errors.New("boom")); h != "" {
		t.Errorf("hint(other) = %q, want none", h)
	}
	if h := hint(nil); h != "" {
		t.Errorf("hint(nil) = %q, want none", h)
	}
}
