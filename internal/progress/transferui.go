package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/nasdesk/nasdesk/internal/events"
)

// TransferUI draws one mpb bar per running transfer. Bars appear on the
// first progress event of a job and go away when it finishes.
type TransferUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool

	mu       sync.Mutex
	bars     map[string]*transferBar
	started  int
	finished int
}

type transferBar struct {
	bar        *mpb.Bar
	index      int
	name       string
	size       int64
	retries    atomic.Int32 // read by the render goroutine
	startTime  time.Time
	lastUpdate time.Time
}

// NewTransferUI creates a UI on stderr. Without a terminal it prints one
// line per start and finish instead of bars.
func NewTransferUI() *TransferUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	return newTransferUI(os.Stderr, isTerminal)
}

func newTransferUI(out io.Writer, isTerminal bool) *TransferUI {
	var p *mpb.Progress
	if isTerminal {
		if f, ok := out.(*os.File); ok {
			enableANSIOnWindows(f)
		}
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &TransferUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		bars:       make(map[string]*transferBar),
	}
}

// HandleProgress creates or advances the bar of ev.JobID.
func (u *TransferUI) HandleProgress(ev *events.ProgressEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	tb, ok := u.bars[ev.JobID]
	if !ok {
		tb = u.addBarLocked(ev)
	}
	if tb.bar == nil {
		return
	}

	now := time.Now()
	if tb.size < 0 {
		tb.bar.SetTotal(ev.BytesCurrent+1, false)
	}
	tb.bar.EwmaSetCurrent(ev.BytesCurrent, now.Sub(tb.lastUpdate))
	tb.lastUpdate = now
}

func (u *TransferUI) addBarLocked(ev *events.ProgressEvent) *transferBar {
	u.started++
	tb := &transferBar{
		index:      u.started,
		name:       ev.Name,
		size:       ev.BytesTotal,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
	}
	u.bars[ev.JobID] = tb

	arrow := "←"
	if ev.Kind == "upload" {
		arrow = "→"
	}

	if !u.isTerminal {
		fmt.Fprintf(u.out, "%s [%d]: %s (%s)\n", describe(ev), tb.index, truncatePath(ev.Name, 2), sizeLabel(ev.BytesTotal))
		return tb
	}

	total := ev.BytesTotal
	if total < 0 {
		total = 0
	}
	tb.bar = u.progress.New(total,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(s decor.Statistics) string {
				base := fmt.Sprintf("[%d] %s %s (%s)", tb.index, arrow, truncatePath(tb.name, 2), sizeLabel(tb.size))
				if tb.retries.Load() > 0 {
					return base + " (retry)"
				}
				return base
			}, decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(s decor.Statistics) string {
				if tb.size < 0 || s.Total == 0 {
					return "   ?   "
				}
				return fmt.Sprintf("%6.2f%%", float64(s.Current)/float64(s.Total)*100)
			}, decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	return tb
}

// HandleState marks a bar whose job lost its session and starts over.
func (u *TransferUI) HandleState(ev *events.JobStateEvent) {
	if ev.NewState != "retrying" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if tb, ok := u.bars[ev.JobID]; ok {
		tb.retries.Add(1)
		if tb.bar != nil {
			tb.bar.SetRefill(tb.bar.Current())
		}
	}
}

// HandleComplete finishes the bar and prints a summary line.
func (u *TransferUI) HandleComplete(ev *events.JobCompleteEvent) {
	if !isTransfer(ev.Kind) {
		return
	}
	u.mu.Lock()
	tb, ok := u.bars[ev.JobID]
	delete(u.bars, ev.JobID)
	u.finished++
	u.mu.Unlock()

	suffix := ""
	if ok {
		if tb.bar != nil {
			tb.bar.SetTotal(-1, true)
		}
		suffix = fmt.Sprintf(" (%s)", time.Since(tb.startTime).Round(time.Second))
	}
	u.println(fmt.Sprintf("✓ %s%s", ev.Message, suffix))
}

// HandleFailed keeps the failed bar on screen and prints the reason.
func (u *TransferUI) HandleFailed(ev *events.JobFailedEvent) {
	if !isTransfer(ev.Kind) {
		return
	}
	u.mu.Lock()
	tb, ok := u.bars[ev.JobID]
	delete(u.bars, ev.JobID)
	u.finished++
	u.mu.Unlock()

	if ok && tb.bar != nil {
		tb.bar.Abort(false)
	}
	u.println("✗ " + ev.Message)
}

// Finished returns how many transfers completed or failed.
func (u *TransferUI) Finished() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finished
}

// println writes above the bars so they are not torn.
func (u *TransferUI) println(msg string) {
	if u.isTerminal {
		_, _ = u.progress.Write([]byte(msg + "\n"))
		return
	}
	fmt.Fprintln(u.out, msg)
}

// Writer returns an io.Writer that prints above the bars.
func (u *TransferUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal returns true if bars are being drawn.
func (u *TransferUI) IsTerminal() bool {
	return u.isTerminal
}

// Wait aborts bars left behind by unfinished jobs and waits for rendering to stop.
func (u *TransferUI) Wait() {
	u.mu.Lock()
	for id, tb := range u.bars {
		if tb.bar != nil {
			tb.bar.Abort(true)
		}
		delete(u.bars, id)
	}
	u.mu.Unlock()
	u.progress.Wait()
}

func sizeLabel(size int64) string {
	if size < 0 {
		return "size unknown"
	}
	return fmt.Sprintf("%.1f MiB", float64(size)/(1024*1024))
}

// truncatePath keeps the last n components of a path.
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, n int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= n {
		return filepath.Base(path)
	}
	return "…/" + strings.Join(parts[len(parts)-n:], "/")
}

func enableANSIOnWindows(f *os.File) {
	if runtime.GOOS == "windows" {
		enableWindowsANSI(f)
	}
}
