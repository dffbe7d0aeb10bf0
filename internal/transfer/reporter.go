package transfer

import (
	"fmt"
	"time"

	"github.com/nasdesk/nasdesk/internal/events"
	"github.com/nasdesk/nasdesk/internal/models"
)

// reporter turns byte counts from a transfer into progress events, at most
// one per interval. The final event is always sent.
type reporter struct {
	bus      *events.EventBus
	job      *Job
	verb     string
	interval time.Duration
	last     time.Time
}

func (c *Coordinator) newReporter(job *Job, verb string) *reporter {
	return &reporter{bus: c.bus, job: job, verb: verb, interval: c.progressInterval}
}

func (r *reporter) report(transferred int64) {
	r.job.updateProgress(transferred)
	now := time.Now()
	if !r.last.IsZero() && now.Sub(r.last) < r.interval {
		return
	}
	r.last = now
	r.publish(false)
}

func (r *reporter) done() {
	r.publish(true)
}

func (r *reporter) publish(final bool) {
	if r.bus == nil {
		return
	}
	s := r.job.Snapshot()
	if final {
		s.Progress = 1
	}
	ev := &events.ProgressEvent{
		BaseEvent:    events.BaseEvent{EventType: events.EventProgress, Time: time.Now()},
		JobID:        s.ID,
		Kind:         string(s.Kind),
		Name:         s.Name,
		Progress:     s.Progress,
		BytesCurrent: s.BytesDone,
		BytesTotal:   s.BytesTotal,
		Rate:         s.Speed,
		Final:        final,
	}
	if final {
		r.bus.PublishSync(ev)
	} else {
		r.bus.Publish(ev)
	}
	r.bus.PublishStatus(statusLine(r.verb, s))
}

// statusLine renders "Uploading a.txt... 45.0% (1.2 MB / 2.6 MB)", or just
// the byte count when the total is unknown.
func statusLine(verb string, s Snapshot) string {
	if s.BytesTotal < 0 {
		return fmt.Sprintf("%s %s... %s", verb, s.Name, models.FormatFileSize(s.BytesDone))
	}
	return fmt.Sprintf("%s %s... %.1f%% (%s / %s)", verb, s.Name, s.Progress*100,
		models.FormatFileSize(s.BytesDone), models.FormatFileSize(s.BytesTotal))
}
