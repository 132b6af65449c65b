// Package status is the diagnostic channel for reconciliation lifecycle
// messages and failures. Every event is mirrored to slog, kept in a bounded
// history, counted per phase, and offered to every subscriber.
package status

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Phase identifies what an event reports.
type Phase string

const (
	PhaseStartup             Phase = "startup"
	PhaseRebuildStart        Phase = "rebuild-start"
	PhaseRebuildComplete     Phase = "rebuild-complete"
	PhaseRebuildFailed       Phase = "rebuild-failed"
	PhaseConflict            Phase = "conflict"
	PhaseWarning             Phase = "warning"
	PhaseFallbackRestored    Phase = "fallback-restored"
	PhaseFallbackUnavailable Phase = "fallback-unavailable"
	PhaseFallbackFailed      Phase = "fallback-failed"
	PhaseReattachFailed      Phase = "reattach-failed"
)

// Severity orders events by how loudly they must be surfaced.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	// SeveritySevere means the safety net itself failed and the live
	// pipeline state is undefined.
	SeveritySevere
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeveritySevere:
		return "severe"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a severity name ("info", "warning", "error",
// "severe") to a Severity. "warn" is accepted for "warning".
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "severe":
		return SeveritySevere, nil
	default:
		return SeverityInfo, fmt.Errorf("status: unknown severity %q", s)
	}
}

// Event is one status message.
type Event struct {
	Time     time.Time
	Cycle    string // rebuild cycle id, empty outside a rebuild
	Phase    Phase
	Severity Severity
	Source   string // offending source or component id, if any
	Message  string
	Err      error
}

const (
	defaultBuffer  = 64
	defaultHistory = 256
)

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the slog logger events are mirrored to.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

// WithHistory sets how many recent events History keeps. Default: 256.
func WithHistory(n int) Option {
	return func(r *Reporter) { r.limit = n }
}

// Reporter fans status events out to slog, a bounded history and one
// buffered channel per subscriber.
type Reporter struct {
	logger *slog.Logger
	limit  int

	mu      sync.Mutex
	subs    []chan Event
	history []Event
	counts  map[Phase]int
	closed  bool
}

// NewReporter creates a Reporter. Subscriber channels hold 64 events.
func NewReporter(opts ...Option) *Reporter {
	r := &Reporter{
		logger: slog.Default(),
		limit:  defaultHistory,
		counts: make(map[Phase]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Emit records an event. It never blocks: a subscriber whose channel is full
// misses the event, but history, counts and the log line are not affected.
func (r *Reporter) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.log(ev)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[ev.Phase]++
	r.history = append(r.history, ev)
	if over := len(r.history) - r.limit; r.limit > 0 && over > 0 {
		r.history = append([]Event(nil), r.history[over:]...)
	}
	if r.closed {
		return
	}
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel that receives every event emitted from now
// on. It is closed by Close; after Close the returned channel is already
// closed.
func (r *Reporter) Subscribe() <-chan Event {
	ch := make(chan Event, defaultBuffer)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch
	}
	r.subs = append(r.subs, ch)
	return ch
}

// History returns the most recent events, oldest first.
func (r *Reporter) History() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.history...)
}

// Count returns how many events of the phase have been emitted.
func (r *Reporter) Count(p Phase) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[p]
}

// Close closes every subscriber channel. Later events are still logged and
// recorded.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}

func (r *Reporter) log(ev Event) {
	attrs := []any{"phase", string(ev.Phase)}
	if ev.Cycle != "" {
		attrs = append(attrs, "cycle", ev.Cycle)
	}
	if ev.Source != "" {
		attrs = append(attrs, "source", ev.Source)
	}
	if ev.Err != nil {
		attrs = append(attrs, "error", ev.Err)
	}

	switch ev.Severity {
	case SeverityInfo:
		r.logger.Info(ev.Message, attrs...)
	case SeverityWarning:
		r.logger.Warn(ev.Message, attrs...)
	default:
		r.logger.Error(ev.Message, append(attrs, "severity", ev.Severity.String())...)
	}
}

// Format renders an event as a one-line status string.
func Format(ev Event) string {
	marker := "●"
	switch ev.Severity {
	case SeverityWarning:
		marker = "!"
	case SeverityError:
		marker = "✗"
	case SeveritySevere:
		marker = "✗✗"
	}
	line := fmt.Sprintf("%s %s %s", marker, ev.Phase, ev.Message)
	if ev.Source != "" {
		line += fmt.Sprintf(" [%s]", ev.Source)
	}
	if ev.Err != nil {
		line += ": " + ev.Err.Error()
	}
	return line
}
