// Package transfer runs NAS operations as background jobs: folder listings,
// uploads, downloads, previews and thumbnail fetches.
package transfer

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nasdesk/nasdesk/internal/models"
)

// Kind is the operation a job performs.
type Kind string

const (
	KindList      Kind = "list"
	KindUpload    Kind = "upload"
	KindDownload  Kind = "download"
	KindPreview   Kind = "preview"
	KindThumbnail Kind = "thumbnail"
)

// State represents the current state of a job.
type State string

const (
	StateQueued    State = "queued"    // Submitted, goroutine not yet running
	StateRunning   State = "running"   // Session checked, operation in flight
	StateRetrying  State = "retrying"  // Session was lost mid-operation, trying once more
	StateCompleted State = "completed" // Succeeded
	StateFailed    State = "failed"    // Failed with Err
)

// Job is one submitted operation. Fields set at submission are read-only;
// everything else goes through the accessors.
type Job struct {
	ID     string
	Kind   Kind
	Name   string // Display name (file or folder name)
	Remote string // NAS path: listed folder, upload directory or file to fetch
	Local  string // Local file: upload source or download destination
	Mode   models.ViewMode

	mu        sync.RWMutex
	state     State
	attempts  int
	size      int64 // -1 when unknown
	bytesDone int64
	progress  float64
	speed     float64
	err       error

	lastBytes      int64
	lastUpdateTime time.Time

	entries   []models.FileEntry
	thumbnail []byte
	cached    bool
	preview   *PreviewFile

	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	done chan struct{}
}

func newJob(kind Kind, name, remote, local string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Name:      name,
		Remote:    remote,
		Local:     local,
		state:     StateQueued,
		size:      -1,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Attempts returns how many times the operation itself was tried (0, 1 or 2).
func (j *Job) Attempts() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.attempts
}

// Err returns the terminal error, or nil.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Done is closed once the job is completed or failed.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes and returns its error.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTerminal returns true once the job is completed or failed.
func (j *Job) IsTerminal() bool {
	state := j.State()
	return state == StateCompleted || state == StateFailed
}

// Entries returns the children loaded by a list job.
func (j *Job) Entries() []models.FileEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.entries
}

// Thumbnail returns the PNG produced by a thumbnail job and whether it came
// from the cache.
func (j *Job) Thumbnail() ([]byte, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.thumbnail, j.cached
}

// Preview returns the temporary file of a finished preview job.
func (j *Job) Preview() *PreviewFile {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.preview
}

// Progress returns the completed fraction, or -1 while the size is unknown.
func (j *Job) Progress() float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.size < 0 && j.state != StateCompleted {
		return -1
	}
	return j.progress
}

func (j *Job) setState(state State) State {
	j.mu.Lock()
	defer j.mu.Unlock()
	prev := j.state
	j.state = state
	if state == StateRunning && j.startedAt.IsZero() {
		j.startedAt = time.Now()
	}
	return prev
}

func (j *Job) beginAttempt() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts++
	j.bytesDone = 0
	j.progress = 0
	j.lastBytes = 0
	j.lastUpdateTime = time.Time{}
}

func (j *Job) setSize(size int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.size = size
}

func (j *Job) setEntries(entries []models.FileEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = entries
}

func (j *Job) setThumbnail(img []byte, cached bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.thumbnail = img
	j.cached = cached
}

func (j *Job) setPreview(p *PreviewFile) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.preview = p
}

// label names the job in notifications, e.g. "Download a.jpg".
func (j *Job) label() string {
	switch j.Kind {
	case KindList:
		return "List " + j.Remote
	case KindUpload:
		return "Upload " + j.Name
	case KindDownload:
		return "Download " + j.Name
	case KindPreview:
		return "Preview " + j.Name
	default:
		return "Thumbnail " + j.Name
	}
}

// updateProgress records transferred bytes and smooths the rate with an EMA.
func (j *Job) updateProgress(transferred int64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	j.bytesDone = transferred
	if j.size > 0 {
		j.progress = float64(transferred) / float64(j.size)
	} else if j.size == 0 {
		j.progress = 1
	}

	if j.lastUpdateTime.IsZero() {
		j.lastUpdateTime = now
		j.lastBytes = transferred
		return
	}

	// Need at least 100ms between samples for a meaningful rate
	elapsed := now.Sub(j.lastUpdateTime).Seconds()
	if elapsed > 0.1 && transferred > j.lastBytes {
		instantRate := float64(transferred-j.lastBytes) / elapsed
		const speedSmoothingAlpha = 0.25
		if j.speed > 0 {
			j.speed = speedSmoothingAlpha*instantRate + (1-speedSmoothingAlpha)*j.speed
		} else {
			j.speed = instantRate
		}
		j.lastBytes = transferred
		j.lastUpdateTime = now
	}
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	j.err = err
	if err != nil {
		j.state = StateFailed
	} else {
		j.state = StateCompleted
		j.progress = 1
	}
	j.completedAt = time.Now()
	j.mu.Unlock()
	close(j.done)
}

// Snapshot is a point-in-time copy of a job for display.
type Snapshot struct {
	ID          string
	Kind        Kind
	Name        string
	Remote      string
	Local       string
	State       State
	Attempts    int
	Progress    float64 // -1 when the size is unknown
	BytesDone   int64
	BytesTotal  int64 // -1 when unknown
	Speed       float64
	Err         error
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Snapshot returns a copy safe to hold on to.
func (j *Job) Snapshot() Snapshot {
	progress := j.Progress()
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Snapshot{
		ID:          j.ID,
		Kind:        j.Kind,
		Name:        j.Name,
		Remote:      j.Remote,
		Local:       j.Local,
		State:       j.state,
		Attempts:    j.attempts,
		Progress:    progress,
		BytesDone:   j.bytesDone,
		BytesTotal:  j.size,
		Speed:       j.speed,
		Err:         j.err,
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
}

// PreviewFile is a downloaded copy of a NAS file in the temp directory.
// Closing it deletes the copy; nothing else is affected.
type PreviewFile struct {
	Path   string // Local temp file
	Remote string
	Size   int64

	once sync.Once
	err  error
}

// Close removes the temporary file. It is safe to call more than once.
func (p *PreviewFile) Close() error {
	p.once.Do(func() {
		if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
			p.err = err
		}
	})
	return p.err
}
