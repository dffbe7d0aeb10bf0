// Package progress renders transfer jobs on the terminal from bus events.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/nasdesk/nasdesk/internal/events"
)

// Sink consumes job events on the dispatcher goroutine.
type Sink interface {
	HandleProgress(ev *events.ProgressEvent)
	HandleState(ev *events.JobStateEvent)
	HandleComplete(ev *events.JobCompleteEvent)
	HandleFailed(ev *events.JobFailedEvent)
}

// Attach routes progress and job lifecycle events from d to s.
func Attach(d *events.Dispatcher, s Sink) {
	d.On(events.EventProgress, func(ev events.Event) {
		if pe, ok := ev.(*events.ProgressEvent); ok {
			s.HandleProgress(pe)
		}
	})
	d.On(events.EventJobState, func(ev events.Event) {
		if se, ok := ev.(*events.JobStateEvent); ok {
			s.HandleState(se)
		}
	})
	d.On(events.EventJobComplete, func(ev events.Event) {
		if ce, ok := ev.(*events.JobCompleteEvent); ok {
			s.HandleComplete(ce)
		}
	})
	d.On(events.EventJobFailed, func(ev events.Event) {
		if fe, ok := ev.(*events.JobFailedEvent); ok {
			s.HandleFailed(fe)
		}
	})
}

// isTransfer reports whether jobs of kind move file bytes worth a bar.
func isTransfer(kind string) bool {
	switch kind {
	case "upload", "download", "preview":
		return true
	}
	return false
}

// CLIProgress draws one progressbar at a time. It suits commands that run a
// single transfer, such as download or preview.
type CLIProgress struct {
	out   io.Writer
	bar   *progressbar.ProgressBar
	desc  string
	jobID string
}

// NewCLIProgress creates a reporter writing to stderr.
func NewCLIProgress() *CLIProgress {
	return NewCLIProgressTo(os.Stderr)
}

// NewCLIProgressTo creates a reporter writing to w.
func NewCLIProgressTo(w io.Writer) *CLIProgress {
	return &CLIProgress{out: w}
}

// Start replaces the current bar. A negative total draws a spinner.
func (p *CLIProgress) Start(total int64, description string) {
	p.desc = description
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to current bytes.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

// HandleProgress starts a bar on the first event of a job and follows it.
func (p *CLIProgress) HandleProgress(ev *events.ProgressEvent) {
	if p.bar == nil || p.jobID != ev.JobID {
		p.Finish()
		p.jobID = ev.JobID
		p.Start(ev.BytesTotal, describe(ev))
	}
	p.Update(ev.BytesCurrent)
	if ev.Final {
		p.Finish()
	}
}

// HandleState resets the bar when a transfer starts over.
func (p *CLIProgress) HandleState(ev *events.JobStateEvent) {
	if ev.JobID == p.jobID && ev.NewState == "retrying" && p.bar != nil {
		p.bar.Describe(p.desc + " (retry)")
		_ = p.bar.Set64(0)
	}
}

// HandleComplete prints the confirmation of a transfer.
func (p *CLIProgress) HandleComplete(ev *events.JobCompleteEvent) {
	if ev.JobID == p.jobID {
		p.Finish()
	}
	if isTransfer(ev.Kind) {
		fmt.Fprintf(p.out, "✓ %s\n", ev.Message)
	}
}

// HandleFailed abandons the bar and prints the failure.
func (p *CLIProgress) HandleFailed(ev *events.JobFailedEvent) {
	if ev.JobID == p.jobID && p.bar != nil {
		_ = p.bar.Clear()
		p.bar = nil
		fmt.Fprint(p.out, "\n")
	}
	if isTransfer(ev.Kind) {
		fmt.Fprintf(p.out, "✗ %s\n", ev.Message)
	}
}

func describe(ev *events.ProgressEvent) string {
	switch ev.Kind {
	case "upload":
		return "Uploading " + ev.Name
	case "preview":
		return "Opening " + ev.Name
	default:
		return "Downloading " + ev.Name
	}
}

// NoOpProgress discards everything, for --quiet and scripted use.
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op sink.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

func (NoOpProgress) HandleProgress(*events.ProgressEvent)    {}
func (NoOpProgress) HandleState(*events.JobStateEvent)       {}
func (NoOpProgress) HandleComplete(*events.JobCompleteEvent) {}
func (NoOpProgress) HandleFailed(*events.JobFailedEvent)     {}
