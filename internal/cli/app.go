package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nasdesk/nasdesk/internal/api"
	"github.com/nasdesk/nasdesk/internal/config"
	"github.com/nasdesk/nasdesk/internal/constants"
	encryption "github.com/nasdesk/nasdesk/internal/crypto"
	"github.com/nasdesk/nasdesk/internal/diskspace"
	"github.com/nasdesk/nasdesk/internal/events"
	"github.com/nasdesk/nasdesk/internal/http"
	"github.com/nasdesk/nasdesk/internal/logging"
	"github.com/nasdesk/nasdesk/internal/models"
	"github.com/nasdesk/nasdesk/internal/progress"
	"github.com/nasdesk/nasdesk/internal/session"
	"github.com/nasdesk/nasdesk/internal/thumbnail"
	"github.com/nasdesk/nasdesk/internal/transfer"
)

// app wires one CLI invocation: config, profiles, the NAS client, the
// session, the job coordinator and the event bus they report through.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	profiles *config.ProfileStore
	bus      *events.EventBus
	client   *api.Client
	session  *session.Manager
	coord    *transfer.Coordinator
	prompt   prompter
	out      io.Writer

	profile string // profile used by the last connect
}

// appOptions override the process-wide defaults, for tests.
type appOptions struct {
	ConfigPath string
	Config     *config.Config
	Vault      config.Cipher
	Prompt     prompter
	Out        io.Writer
	Logger     *logging.Logger
}

func newApp(opts appOptions) (*app, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	log := logging.OrNop(opts.Logger)
	if opts.Vault == nil {
		vault := encryption.NewVault()
		if vault.UsesFallbackKey() {
			log.Warnf("Could not identify this machine; saved passwords are only obfuscated")
		}
		opts.Vault = vault
	}

	if http.NeedsProxyPassword(cfg) && opts.Prompt != nil {
		pw, err := opts.Prompt.Password(fmt.Sprintf("Proxy password for %s", cfg.ProxyUser))
		if err != nil {
			return nil, err
		}
		cfg.ProxyPassword = pw
	}

	client, err := api.NewClient(cfg, log)
	if err != nil {
		return nil, err
	}

	profiles := config.NewProfileStore(cfg.ResolvedProfilesPath(), opts.Vault, log)
	if _, err := profiles.Load(); err != nil {
		return nil, err
	}

	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	sess := session.NewManager(client, bus, log)
	coord := transfer.NewCoordinator(client, sess, bus, log, transfer.Options{
		Thumbnails: thumbnail.NewCache(cfg.ThumbnailCacheSize, cfg.ThumbnailTTL),
	})
	sess.OnLogout(coord.Thumbnails().Purge)

	return &app{
		cfg:      cfg,
		logger:   log,
		profiles: profiles,
		bus:      bus,
		client:   client,
		session:  sess,
		coord:    coord,
		prompt:   opts.Prompt,
		out:      opts.Out,
	}, nil
}

// newAppFromFlags builds an app from the global flags.
func newAppFromFlags() (*app, error) {
	a, err := newApp(appOptions{
		ConfigPath: cfgFile,
		Prompt:     newTermPrompter(),
		Logger:     GetLogger(),
	})
	if err != nil {
		return nil, err
	}
	if logFile == "" && a.cfg.LogFile != "" {
		if err := a.logger.AddFileOutput(a.cfg.LogFile); err != nil {
			a.logger.Warnf("Could not open log file %s: %v", a.cfg.LogFile, err)
		}
	}
	return a, nil
}

func (a *app) credentialSource() credentialSource {
	return credentialSource{
		URL:      nasURL,
		Username: username,
		OTPCode:  otpCode,
		Profile:  profileName,
		Store:    a.profiles,
		Config:   a.cfg,
		Getenv:   os.Getenv,
		Prompt:   a.prompt,
		Logger:   a.logger,
	}
}

// connect resolves credentials and logs in.
func (a *app) connect(ctx context.Context, src credentialSource) (*models.Endpoint, error) {
	r, err := src.resolve()
	if err != nil {
		return nil, err
	}

	ep, err := a.session.Login(ctx, r.Credentials)
	if err != nil {
		var authErr *api.AuthError
		if errors.As(err, &authErr) && authErr.Reason == api.AuthOTPRequired && a.prompt != nil && r.Credentials.OTPCode == "" {
			code, perr := a.prompt.Line("2-step verification code")
			if perr != nil {
				return nil, perr
			}
			r.Credentials.OTPCode = code
			ep, err = a.session.Login(ctx, r.Credentials)
		}
		if err != nil {
			return nil, describe("Login", err)
		}
	}

	a.profile = r.Profile
	if r.Profile != "" {
		if err := a.profiles.SetLastSelected(r.Profile); err != nil {
			a.logger.Warnf("Could not remember profile selection: %v", err)
		}
	}
	return ep, nil
}

// close stops running jobs, ends the session and shuts the bus down.
func (a *app) close() {
	a.coord.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), constants.LogoutTimeout)
	defer cancel()
	a.session.Logout(ctx)
	a.bus.Close()
}

// sink picks the progress renderer for the number of transfers.
func (a *app) sink(transfers int) progress.Sink {
	if quiet {
		return progress.NewNoOpProgress()
	}
	if transfers > 1 {
		return progress.NewTransferUI()
	}
	return progress.NewCLIProgress()
}

// jobFailures is returned when some transfers failed; each was already reported.
type jobFailures struct {
	failed, total int
}

func (e *jobFailures) Error() string {
	if e.total == 1 {
		return "transfer failed"
	}
	return fmt.Sprintf("%d of %d transfers failed", e.failed, e.total)
}

// describedError carries the message shown to the user and keeps the cause.
type describedError struct {
	msg string
	err error
}

func (e *describedError) Error() string { return e.msg }
func (e *describedError) Unwrap() error { return e.err }

func describe(op string, err error) error {
	return &describedError{msg: api.Describe(op, err), err: err}
}

// awaitJobs dispatches events until every job has reported its outcome.
// The dispatcher must exist before the jobs are submitted.
func awaitJobs(ctx context.Context, d *events.Dispatcher, jobs ...*transfer.Job) error {
	pending := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		pending[j.ID] = true
	}
	for len(pending) > 0 {
		ev, err := d.WaitFor(ctx, func(ev events.Event) bool {
			id, ok := outcomeJobID(ev)
			return ok && pending[id]
		})
		if err != nil {
			return err
		}
		id, _ := outcomeJobID(ev)
		delete(pending, id)
	}
	return nil
}

func outcomeJobID(ev events.Event) (string, bool) {
	switch e := ev.(type) {
	case *events.JobCompleteEvent:
		return e.JobID, true
	case *events.JobFailedEvent:
		return e.JobID, true
	}
	return "", false
}

// hint suggests what to do about a failed job, or "" when nothing specific
// applies.
func hint(err error) string {
	switch {
	case diskspace.IsInsufficientSpaceError(err):
		return "Free some disk space or download to another folder, then try again"
	case api.IsFileExists(err):
		return "Something with that name already exists on the NAS; rename or remove it first"
	}
	return ""
}

// printHints writes the hint of every failed job that has one.
func printHints(w io.Writer, jobs []*transfer.Job) {
	for _, j := range jobs {
		if h := hint(j.Err()); h != "" {
			fmt.Fprintf(w, "  %s: %s\n", j.Name, h)
		}
	}
}

// failures counts failed jobs, nil when all succeeded.
func failures(jobs []*transfer.Job) error {
	failed := 0
	for _, j := range jobs {
		if j.Err() != nil {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return &jobFailures{failed: failed, total: len(jobs)}
}
