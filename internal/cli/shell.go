package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nasdesk/nasdesk/internal/events"
	"github.com/nasdesk/nasdesk/internal/models"
	"github.com/nasdesk/nasdesk/internal/session"
	"github.com/nasdesk/nasdesk/internal/transfer"
)

var errQuit = errors.New("quit")

const shellHelp = `Commands:
  ls [path]                 list a folder (the shares at /)
  cd <path>                 change folder
  pwd                       print the current folder
  get <file> [local]        download in the background
  put <local> [local...]    upload into the current folder in the background
  thumb <image> [mode] [out.png]
                            render a thumbnail (list, tile, small, medium, large)
  open <file>               fetch a temporary copy and open it
  status                    session state and jobs
  clear                     forget finished jobs
  reconnect                 log in again with the same credentials
  help                      this text
  exit                      leave the shell`

func newShellCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Browse the NAS interactively",
		Long: `Browse the NAS interactively.

Transfers run in the background while you keep browsing; their results are
printed before the next prompt. Type 'help' for the command list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnected(func(ctx context.Context, a *app) error {
				if metricsAddr != "" {
					stop, err := serveMetrics(metricsAddr, a.logger)
					if err != nil {
						return err
					}
					defer stop()
				}
				sh := newShell(a, os.Stdin, a.out)
				defer sh.close()
				return sh.run(ctx)
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9090")
	return cmd
}

// shell is the interactive browser. Every view update happens on the
// goroutine running run: jobs report through the event bus and the
// dispatcher is drained before each prompt.
type shell struct {
	a    *app
	d    *events.Dispatcher
	in   *bufio.Reader
	out  io.Writer
	cwd  string
	mode models.ViewMode

	thumbOutputs map[string]string // job ID -> file to write the PNG to
	previews     []*transfer.PreviewFile
}

func newShell(a *app, in io.Reader, out io.Writer) *shell {
	a.logger.ForwardTo(a.bus)
	s := &shell{
		a:            a,
		d:            events.NewDispatcher(a.bus),
		in:           bufio.NewReader(in),
		out:          out,
		cwd:          "/",
		mode:         models.ViewList,
		thumbOutputs: make(map[string]string),
	}

	s.d.On(events.EventJobComplete, func(ev events.Event) {
		e := ev.(*events.JobCompleteEvent)
		if e.Kind != string(transfer.KindList) && e.Kind != string(transfer.KindThumbnail) {
			fmt.Fprintf(s.out, "✓ %s\n", e.Message)
		}
	})
	s.d.On(events.EventJobFailed, func(ev events.Event) {
		e := ev.(*events.JobFailedEvent)
		delete(s.thumbOutputs, e.JobID)
		if e.Kind != string(transfer.KindList) {
			fmt.Fprintf(s.out, "✗ %s\n", e.Message)
			if h := hint(e.Error); h != "" {
				fmt.Fprintf(s.out, "  %s\n", h)
			}
		}
	})
	s.d.On(events.EventThumbnailReady, s.onThumbnail)
	s.d.On(events.EventLog, func(ev events.Event) {
		e := ev.(*events.LogEvent)
		fmt.Fprintf(s.out, "! %s: %s\n", e.Level, e.Message)
	})
	s.d.On(events.EventSessionState, func(ev events.Event) {
		e := ev.(*events.SessionStateEvent)
		if e.NewState == session.StateUnauthenticated.String() && e.Reason == "session expired" {
			fmt.Fprintln(s.out, "! Session lost and could not be renewed; type 'reconnect' to log in again")
		}
	})
	return s
}

func (s *shell) onThumbnail(ev events.Event) {
	e := ev.(*events.ThumbnailReadyEvent)
	dest, ok := s.thumbOutputs[e.JobID]
	if !ok {
		return
	}
	delete(s.thumbOutputs, e.JobID)

	source := "rendered"
	if e.Cached {
		source = "cached"
	}
	if err := os.WriteFile(dest, e.Image, 0644); err != nil {
		fmt.Fprintf(s.out, "✗ Could not write %s: %v\n", dest, err)
		return
	}
	fmt.Fprintf(s.out, "✓ Thumbnail of %s (%s, %s) written to %s\n", models.RemoteBase(e.Path), e.Mode, source, dest)
}

// run reads commands until exit or end of input.
func (s *shell) run(ctx context.Context) error {
	creds, _ := s.a.session.Credentials()
	fmt.Fprintf(s.out, "Connected to %s as %s. Type 'help' for commands.\n", creds.URL, creds.Username)

	for {
		s.d.Drain()
		fmt.Fprintf(s.out, "nasdesk:%s> ", s.cwd)

		line, err := readLine(s.in)
		if err != nil {
			fmt.Fprintln(s.out)
			if errors.Is(err, errNoInput) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		args := splitArgs(line)
		if len(args) == 0 {
			continue
		}
		if err := s.exec(ctx, args); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// close waits for background jobs and removes preview copies.
func (s *shell) close() {
	if active := s.a.coord.Registry().Stats().Active(); active > 0 {
		fmt.Fprintf(s.out, "Waiting for %d running job(s)...\n", active)
	}
	s.a.coord.Wait()
	s.d.Drain()
	for _, p := range s.previews {
		_ = p.Close()
	}
	s.d.Close()
}

func (s *shell) exec(ctx context.Context, args []string) error {
	cmd, rest := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "exit", "quit", "q":
		return errQuit
	case "help", "?":
		fmt.Fprintln(s.out, shellHelp)
		return nil
	case "pwd":
		fmt.Fprintln(s.out, s.cwd)
		return nil
	case "ls", "dir":
		target := s.cwd
		if len(rest) > 0 {
			target = s.resolve(rest[0])
		}
		entries, err := s.a.list(ctx, target)
		if err != nil {
			return err
		}
		printEntries(s.out, entries)
		return nil
	case "cd":
		target := "/"
		if len(rest) > 0 {
			target = s.resolve(rest[0])
		}
		// Listing proves the folder exists and is reachable
		if _, err := s.a.list(ctx, target); err != nil {
			return err
		}
		s.cwd = target
		return nil
	case "get":
		if len(rest) == 0 || len(rest) > 2 {
			return errors.New("usage: get <file> [local]")
		}
		local := ""
		if len(rest) == 2 {
			local = rest[1]
		}
		job := s.a.coord.SubmitDownload(s.resolve(rest[0]), local)
		fmt.Fprintf(s.out, "Downloading %s in the background\n", job.Name)
		return nil
	case "put":
		if len(rest) == 0 {
			return errors.New("usage: put <local> [local...]")
		}
		files, err := expandGlobPatterns(rest)
		if err != nil {
			return err
		}
		if err := checkUploadSources(files); err != nil {
			return err
		}
		for _, f := range files {
			s.a.coord.SubmitUpload(f, s.cwd)
		}
		fmt.Fprintf(s.out, "Uploading %d file(s) to %s in the background\n", len(files), s.cwd)
		return nil
	case "thumb":
		return s.thumb(rest)
	case "open":
		if len(rest) != 1 {
			return errors.New("usage: open <file>")
		}
		return s.open(ctx, s.resolve(rest[0]))
	case "status", "jobs":
		s.status()
		return nil
	case "clear":
		fmt.Fprintf(s.out, "Forgot %d finished job(s)\n", s.a.coord.Registry().ClearFinished())
		return nil
	case "reconnect":
		ep, err := s.a.session.Reconnect(ctx)
		if err != nil {
			return describe("Reconnect", err)
		}
		fmt.Fprintf(s.out, "✓ Reconnected to %s\n", ep.BaseURL)
		return nil
	default:
		return fmt.Errorf("unknown command %q (type 'help')", cmd)
	}
}

func (s *shell) thumb(args []string) error {
	if len(args) == 0 || len(args) > 3 {
		return errors.New("usage: thumb <image> [mode] [out.png]")
	}
	mode := s.mode
	if len(args) >= 2 {
		m, err := models.ParseViewMode(args[1])
		if err != nil {
			return err
		}
		mode = m
		s.mode = m
	}
	remote := s.resolve(args[0])
	base := models.RemoteBase(remote)
	dest := strings.TrimSuffix(base, path.Ext(base)) + ".thumb.png"
	if len(args) == 3 {
		dest = args[2]
	}

	// Events are only dispatched from this goroutine, so the output is
	// registered before the ready event can be handled
	job := s.a.coord.SubmitThumbnail(remote, mode)
	s.thumbOutputs[job.ID] = dest
	return nil
}

func (s *shell) open(ctx context.Context, remote string) error {
	job := s.a.coord.SubmitPreview(remote)
	if err := awaitJobs(ctx, s.d, job); err != nil {
		return err
	}
	if job.Err() != nil {
		// already reported by the failure handler
		return nil
	}
	p := job.Preview()
	s.previews = append(s.previews, p)
	fmt.Fprintf(s.out, "Preview copy: %s\n", p.Path)
	if err := openWithDefaultApp(p.Path); err != nil {
		return fmt.Errorf("could not open %s: %w", p.Path, err)
	}
	return nil
}

func (s *shell) status() {
	ep := s.a.session.Endpoint()
	fmt.Fprintf(s.out, "Session: %s", s.a.session.State())
	if ep != nil {
		fmt.Fprintf(s.out, " (%s)", ep.BaseURL)
	}
	fmt.Fprintln(s.out)
	if ep != nil && !s.a.client.HasSessionCookie(ep) {
		fmt.Fprintln(s.out, "No session cookie held; the next operation logs in again")
	}
	fmt.Fprintf(s.out, "Thumbnails cached: %d\n", s.a.coord.Thumbnails().Len())

	jobs := s.a.coord.Registry().Jobs()
	stats := s.a.coord.Registry().Stats()
	fmt.Fprintf(s.out, "Jobs: %d running, %d retrying, %d completed, %d failed\n",
		stats.Running+stats.Queued, stats.Retrying, stats.Completed, stats.Failed)

	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	for _, j := range jobs {
		if j.Kind == transfer.KindList {
			continue
		}
		line := fmt.Sprintf("  %-9s %-9s %s", j.Kind, j.State, j.Name)
		switch {
		case j.State == transfer.StateFailed && j.Err != nil:
			line += ": " + j.Err.Error()
		case j.Progress >= 0 && (j.State == transfer.StateRunning || j.State == transfer.StateRetrying):
			line += fmt.Sprintf(" %.1f%% (%s)", j.Progress*100, models.FormatFileSize(j.BytesDone))
		}
		fmt.Fprintln(s.out, line)
	}
}

func (s *shell) resolve(p string) string {
	if strings.HasPrefix(p, "/") {
		return models.CleanRemote(p)
	}
	return models.CleanRemote(models.JoinRemote(s.cwd, p))
}

// splitArgs splits a command line on spaces, keeping "quoted parts" together.
func splitArgs(line string) []string {
	var (
		args    []string
		current strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case (r == ' ' || r == '\t') && !quoted:
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if started {
		args = append(args, current.String())
	}
	return args
}
