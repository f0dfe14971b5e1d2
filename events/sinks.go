package events

import (
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// LogSink writes events through slog. Useful during development and as
// a fallback when no dashboard is connected.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Emit(ev Event) {
	s.log.Info("[EVENTS] "+string(ev.Type),
		"seq", ev.Seq,
		"session_id", ev.SessionID,
		"payload", ev.Payload,
	)
}

type multiSink []Sink

// Multi fans events out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

const (
	defaultDedupeWindow = 5 * time.Second
	dedupeMaxEntries    = 1000
)

// Dedupe drops events repeating an identical type and payload within
// the window. Wrap a sink feeding a dashboard to keep bursts quiet.
// Seq and timestamp are ignored when comparing.
type Dedupe struct {
	next   Sink
	window time.Duration

	mu   sync.Mutex
	seen map[uint64]time.Time
}

// NewDedupe wraps next with duplicate suppression. A non-positive
// window uses the 5 second default.
func NewDedupe(next Sink, window time.Duration) *Dedupe {
	if window <= 0 {
		window = defaultDedupeWindow
	}
	return &Dedupe{
		next:   next,
		window: window,
		seen:   make(map[uint64]time.Time),
	}
}

func (d *Dedupe) Emit(ev Event) {
	key := fingerprint(ev)
	now := time.Now()

	d.mu.Lock()
	if len(d.seen) > dedupeMaxEntries {
		d.pruneLocked(now)
	}
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		// Refresh so a steady repeat stays suppressed.
		d.seen[key] = now
		d.mu.Unlock()
		return
	}
	d.seen[key] = now
	d.mu.Unlock()

	d.next.Emit(ev)
}

func (d *Dedupe) pruneLocked(now time.Time) {
	for k, t := range d.seen {
		if now.Sub(t) >= d.window {
			delete(d.seen, k)
		}
	}
}

// fingerprint hashes the parts of an event that identify a duplicate.
func fingerprint(ev Event) uint64 {
	h := fnv.New64a()
	h.Write([]byte(ev.Type))
	if data, err := json.Marshal(ev.Payload); err == nil {
		h.Write(data)
	}
	return h.Sum64()
}
