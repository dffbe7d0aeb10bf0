package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nasdesk/nasdesk/internal/models"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventProgress)

	bus.Publish(&ProgressEvent{
		BaseEvent:    BaseEvent{EventType: EventProgress, Time: time.Now()},
		JobID:        "job-1",
		Kind:         "upload",
		Name:         "photo.jpg",
		Progress:     0.5,
		BytesCurrent: 512,
		BytesTotal:   1024,
	})

	select {
	case received := <-ch:
		progress, ok := received.(*ProgressEvent)
		if !ok {
			t.Fatal("Expected ProgressEvent")
		}
		if progress.Name != "photo.jpg" {
			t.Errorf("Expected name 'photo.jpg', got '%s'", progress.Name)
		}
		if progress.Progress != 0.5 {
			t.Errorf("Expected progress 0.5, got %f", progress.Progress)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	statusCh := bus.Subscribe(EventStatus)
	logCh := bus.Subscribe(EventLog)

	bus.PublishStatus("Connected")

	select {
	case ev := <-statusCh:
		if ev.(*StatusEvent).Message != "Connected" {
			t.Errorf("unexpected status %q", ev.(*StatusEvent).Message)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Status subscriber didn't receive event")
	}

	select {
	case <-logCh:
		t.Error("Log subscriber received wrong event type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_NonBlocking(t *testing.T) {
	bus := NewEventBus(2) // Small buffer
	defer bus.Close()

	ch := bus.Subscribe(EventProgress)

	for i := 0; i < 10; i++ {
		bus.Publish(&ProgressEvent{
			BaseEvent: BaseEvent{EventType: EventProgress, Time: time.Now()},
			JobID:     "job",
		})
	}

	if bus.GetDroppedEventCount() != 8 {
		t.Errorf("expected 8 dropped events, got %d", bus.GetDroppedEventCount())
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		case <-time.After(10 * time.Millisecond):
			goto done
		}
	}
done:

	if count != 2 {
		t.Errorf("expected 2 buffered events, got %d", count)
	}
}

// TestEventBus_PublishSyncWaitsForRoom tests that terminal notifications survive a full buffer
func TestEventBus_PublishSyncWaitsForRoom(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	ch := bus.Subscribe(EventJobFailed)
	bus.PublishJobFailed("a", "upload", "/x", "first", nil)

	done := make(chan struct{})
	go func() {
		bus.PublishJobFailed("b", "upload", "/y", "second", nil)
		close(done)
	}()

	// Make room after the second publish started waiting
	time.Sleep(20 * time.Millisecond)
	first := <-ch

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishSync did not complete after room was made")
	}
	second := <-ch

	if first.(*JobFailedEvent).JobID != "a" || second.(*JobFailedEvent).JobID != "b" {
		t.Errorf("unexpected order: %v, %v", first, second)
	}
	if bus.GetDroppedEventCount() != 0 {
		t.Errorf("expected no dropped events, got %d", bus.GetDroppedEventCount())
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)

	ch := bus.Subscribe(EventStatus)

	bus.Close()

	_, ok := <-ch
	if ok {
		t.Error("Channel should be closed after bus.Close()")
	}

	// Publishing after close should not panic
	bus.PublishStatus("late")
	bus.PublishJobComplete("j", "list", "/", "done")
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level %d: expected %s, got %s", tt.level, tt.expected, got)
		}
	}
}

func TestDispatcher_Drain(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	d := NewDispatcher(bus)
	defer d.Close()

	var statuses []string
	var loaded []string
	total := 0
	d.On(EventStatus, func(ev Event) { statuses = append(statuses, ev.(*StatusEvent).Message) })
	d.On(EventDirectoryLoaded, func(ev Event) { loaded = append(loaded, ev.(*DirectoryLoadedEvent).Path) })
	d.OnAny(func(Event) { total++ })

	bus.PublishStatus("Loading /photos...")
	bus.PublishDirectoryLoaded("j1", "/photos", false, []models.FileEntry{{Name: "a.jpg"}})

	if n := d.Drain(); n != 2 {
		t.Fatalf("Drain() = %d, want 2", n)
	}
	if len(statuses) != 1 || statuses[0] != "Loading /photos..." {
		t.Errorf("unexpected statuses %v", statuses)
	}
	if len(loaded) != 1 || loaded[0] != "/photos" {
		t.Errorf("unexpected loaded %v", loaded)
	}
	if total != 2 {
		t.Errorf("OnAny saw %d events, want 2", total)
	}

	if n := d.Drain(); n != 0 {
		t.Errorf("second Drain() = %d, want 0", n)
	}
}

func TestDispatcher_WaitFor(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	d := NewDispatcher(bus)

	go func() {
		bus.PublishStatus("working")
		bus.PublishJobComplete("job-9", "download", "/a.bin", "Downloaded a.bin")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, err := d.WaitFor(ctx, func(ev Event) bool {
		c, ok := ev.(*JobCompleteEvent)
		return ok && c.JobID == "job-9"
	})
	if err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}
	if ev.(*JobCompleteEvent).Message != "Downloaded a.bin" {
		t.Errorf("unexpected message %q", ev.(*JobCompleteEvent).Message)
	}
}

func TestDispatcher_RunStopsOnClose(t *testing.T) {
	bus := NewEventBus(10)
	d := NewDispatcher(bus)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	bus.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrBusClosed) {
			t.Errorf("Run() error = %v, want ErrBusClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after bus.Close()")
	}
}
