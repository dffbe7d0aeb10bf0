package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nasdesk/nasdesk/internal/constants"
	"github.com/nasdesk/nasdesk/internal/models"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventLog      EventType = "log"

	// Job lifecycle
	EventJobState    EventType = "job_state"    // queued -> running -> retrying -> ...
	EventJobComplete EventType = "job_complete" // terminal success
	EventJobFailed   EventType = "job_failed"   // terminal failure

	// Results the browser views render
	EventDirectoryLoaded EventType = "directory_loaded"
	EventThumbnailReady  EventType = "thumbnail_ready"

	// Session state machine transitions
	EventSessionState EventType = "session_state"
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func newBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// StatusEvent carries one line for the status bar
type StatusEvent struct {
	BaseEvent
	Message string
}

// ProgressEvent represents transfer progress for one job.
// Progress is -1 when the total size is unknown; BytesCurrent is always set.
type ProgressEvent struct {
	BaseEvent
	JobID        string
	Kind         string // "upload" or "download"
	Name         string // Display name (filename)
	Progress     float64
	BytesCurrent int64
	BytesTotal   int64
	Rate         float64 // bytes/sec
	Final        bool
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	JobID   string
	Error   error
}

// JobStateEvent represents a job state transition
type JobStateEvent struct {
	BaseEvent
	JobID    string
	Kind     string
	Path     string
	OldState string
	NewState string
}

// JobCompleteEvent is published once when a job succeeds
type JobCompleteEvent struct {
	BaseEvent
	JobID   string
	Kind    string
	Path    string
	Message string // human-readable confirmation
}

// JobFailedEvent is published once when a job fails terminally
type JobFailedEvent struct {
	BaseEvent
	JobID   string
	Kind    string
	Path    string
	Message string // "<operation> failed: <cause>"
	Error   error
}

// DirectoryLoadedEvent carries the children of a listed folder.
// Path is "/" and Shares is true for the top-level share list.
type DirectoryLoadedEvent struct {
	BaseEvent
	JobID   string
	Path    string
	Shares  bool
	Entries []models.FileEntry
}

// ThumbnailReadyEvent tells the views to re-render an icon
type ThumbnailReadyEvent struct {
	BaseEvent
	JobID  string
	Path   string
	Mode   models.ViewMode
	Image  []byte // PNG
	Cached bool
}

// SessionStateEvent represents a session state machine transition
type SessionStateEvent struct {
	BaseEvent
	OldState string
	NewState string
	Reason   string
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer // Cap at maximum
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
// Events that do not fit in a subscriber's buffer are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		eb.offer(ch, event)
	}
	for _, ch := range eb.all {
		eb.offer(ch, event)
	}
}

func (eb *EventBus) offer(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		eb.droppedEvents.Add(1)
	}
}

// PublishSync delivers an event that must not be lost (job outcomes, loaded
// directories, session transitions). A full subscriber gets up to
// constants.EventDeliveryTimeout to make room before the event is dropped.
func (eb *EventBus) PublishSync(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	targets := make([]chan Event, 0, len(eb.subscribers[event.Type()])+len(eb.all))
	targets = append(targets, eb.subscribers[event.Type()]...)
	targets = append(targets, eb.all...)

	for _, ch := range targets {
		select {
		case ch <- event:
			continue
		default:
		}
		timer := time.NewTimer(constants.EventDeliveryTimeout)
		select {
		case ch <- event:
		case <-timer.C:
			eb.droppedEvents.Add(1)
		}
		timer.Stop()
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishStatus is a convenience method for status bar text
func (eb *EventBus) PublishStatus(message string) {
	eb.Publish(&StatusEvent{
		BaseEvent: newBase(EventStatus),
		Message:   message,
	})
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, jobID string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: newBase(EventLog),
		Level:     level,
		Message:   message,
		JobID:     jobID,
		Error:     err,
	})
}

// PublishJobState is a convenience method for job state transitions
func (eb *EventBus) PublishJobState(jobID, kind, path, oldState, newState string) {
	eb.Publish(&JobStateEvent{
		BaseEvent: newBase(EventJobState),
		JobID:     jobID,
		Kind:      kind,
		Path:      path,
		OldState:  oldState,
		NewState:  newState,
	})
}

// PublishJobComplete delivers a success notification
func (eb *EventBus) PublishJobComplete(jobID, kind, path, message string) {
	eb.PublishSync(&JobCompleteEvent{
		BaseEvent: newBase(EventJobComplete),
		JobID:     jobID,
		Kind:      kind,
		Path:      path,
		Message:   message,
	})
}

// PublishJobFailed delivers a failure notification
func (eb *EventBus) PublishJobFailed(jobID, kind, path, message string, err error) {
	eb.PublishSync(&JobFailedEvent{
		BaseEvent: newBase(EventJobFailed),
		JobID:     jobID,
		Kind:      kind,
		Path:      path,
		Message:   message,
		Error:     err,
	})
}

// PublishDirectoryLoaded delivers listing results
func (eb *EventBus) PublishDirectoryLoaded(jobID, path string, shares bool, entries []models.FileEntry) {
	eb.PublishSync(&DirectoryLoadedEvent{
		BaseEvent: newBase(EventDirectoryLoaded),
		JobID:     jobID,
		Path:      path,
		Shares:    shares,
		Entries:   entries,
	})
}

// PublishThumbnailReady delivers a rendered thumbnail
func (eb *EventBus) PublishThumbnailReady(jobID, path string, mode models.ViewMode, image []byte, cached bool) {
	eb.PublishSync(&ThumbnailReadyEvent{
		BaseEvent: newBase(EventThumbnailReady),
		JobID:     jobID,
		Path:      path,
		Mode:      mode,
		Image:     image,
		Cached:    cached,
	})
}

// PublishSessionState delivers a session transition
func (eb *EventBus) PublishSessionState(oldState, newState, reason string) {
	eb.PublishSync(&SessionStateEvent{
		BaseEvent: newBase(EventSessionState),
		OldState:  oldState,
		NewState:  newState,
		Reason:    reason,
	})
}

// Unsubscribe removes a subscription channel from a specific event type
// This prevents memory leaks from abandoned subscriptions
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types
// Use this when cleaning up a subscriber that subscribed to multiple event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
