// Package logs keeps a bounded journal of recent log records so operators
// can see stream and telemetry activity over the management API.
package logs

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// DefaultCapacity is the number of entries retained.
	DefaultCapacity = 1000
	// DefaultSubscriberBuffer is the per-subscriber channel size.
	DefaultSubscriberBuffer = 100
	// HeartbeatInterval is how often idle streams are kept alive.
	HeartbeatInterval = 30 * time.Second

	maxRecentProblems = 10
)

// Entry is one captured log record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Stats summarises the journal.
type Stats struct {
	Total          int64            `json:"total"`
	Dropped        int64            `json:"dropped" doc:"Entries not delivered to slow subscribers"`
	ByLevel        map[string]int64 `json:"by_level"`
	ByComponent    map[string]int64 `json:"by_component"`
	RecentProblems []Entry          `json:"recent_problems" doc:"Latest warnings and errors"`
	RatePerMinute  float64          `json:"rate_per_minute"`
	Oldest         *time.Time       `json:"oldest,omitempty"`
	Newest         *time.Time       `json:"newest,omitempty"`
}

// Filter selects entries. Zero values match everything.
type Filter struct {
	MinLevel  string
	Component string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Entry) bool {
	if f.MinLevel != "" && levelRank(e.Level) < levelRank(f.MinLevel) {
		return false
	}
	return f.Component == "" || e.Component == f.Component
}

// Journal is a ring of recent entries with live subscribers.
type Journal struct {
	mu          sync.RWMutex
	entries     []Entry
	capacity    int
	subscribers map[string]chan Entry
	total       int64
	dropped     int64
	byLevel     map[string]int64
	byComponent map[string]int64
	problems    []Entry
	started     time.Time
}

// New returns a journal holding up to capacity entries. A non-positive
// capacity uses DefaultCapacity.
func New(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Journal{
		entries:     make([]Entry, 0, capacity),
		capacity:    capacity,
		subscribers: make(map[string]chan Entry),
		byLevel:     make(map[string]int64),
		byComponent: make(map[string]int64),
		started:     time.Now(),
	}
}

// Handler returns a slog.Handler that records into the journal and passes
// every record on to next.
func (j *Journal) Handler(next slog.Handler) slog.Handler {
	return &captureHandler{journal: j, next: next}
}

// Append records e and fans it out to subscribers. Subscribers that are not
// keeping up miss the entry.
func (j *Journal) Append(e Entry) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.total++
	j.byLevel[e.Level]++
	if e.Component != "" {
		j.byComponent[e.Component]++
	}

	if levelRank(e.Level) >= levelRank("warn") {
		j.problems = append(j.problems, e)
		if len(j.problems) > maxRecentProblems {
			j.problems = j.problems[1:]
		}
	}

	if len(j.entries) == j.capacity {
		copy(j.entries, j.entries[1:])
		j.entries = j.entries[:j.capacity-1]
	}
	j.entries = append(j.entries, e)

	for _, ch := range j.subscribers {
		select {
		case ch <- e:
		default:
			j.dropped++
		}
	}
}

// Subscribe returns a channel of new entries that is closed when ctx ends.
func (j *Journal) Subscribe(ctx context.Context) <-chan Entry {
	id := ulid.Make().String()
	ch := make(chan Entry, DefaultSubscriberBuffer)

	j.mu.Lock()
	j.subscribers[id] = ch
	j.mu.Unlock()

	go func() {
		<-ctx.Done()
		j.mu.Lock()
		delete(j.subscribers, id)
		close(ch)
		j.mu.Unlock()
	}()
	return ch
}

// Subscribers returns the number of live subscribers.
func (j *Journal) Subscribers() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.subscribers)
}

// Recent returns up to limit of the newest entries matching f, oldest
// first. A non-positive limit returns every match.
func (j *Journal) Recent(limit int, f Filter) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Entry
	for i := len(j.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if f.Match(j.entries[i]) {
			out = append(out, j.entries[i])
		}
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	if out == nil {
		out = []Entry{}
	}
	return out
}

// Stats returns a snapshot of journal statistics.
func (j *Journal) Stats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Stats{
		Total:          j.total,
		Dropped:        j.dropped,
		ByLevel:        make(map[string]int64, len(levels)),
		ByComponent:    make(map[string]int64, len(j.byComponent)),
		RecentProblems: append([]Entry{}, j.problems...),
	}
	for _, l := range levels {
		s.ByLevel[l] = j.byLevel[l]
	}
	for c, n := range j.byComponent {
		s.ByComponent[c] = n
	}
	if minutes := time.Since(j.started).Minutes(); minutes > 0 {
		s.RatePerMinute = float64(j.total) / minutes
	}
	if len(j.entries) > 0 {
		oldest, newest := j.entries[0].Timestamp, j.entries[len(j.entries)-1].Timestamp
		s.Oldest, s.Newest = &oldest, &newest
	}
	return s
}

var levels = []string{"trace", "debug", "info", "warn", "error"}

func levelRank(level string) int {
	for i, l := range levels {
		if strings.EqualFold(l, level) {
			return i
		}
	}
	return -1
}

// LevelName maps a slog level onto the journal's level names.
func LevelName(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return "trace"
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

type captureHandler struct {
	journal *Journal
	next    slog.Handler
	attrs   []slog.Attr
	group   string
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{
		Timestamp: r.Time,
		Level:     LevelName(r.Level),
		Message:   r.Message,
	}
	for _, a := range h.attrs {
		h.collect(&e, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.collect(&e, a)
		return true
	})
	h.journal.Append(e)
	return h.next.Handle(ctx, r)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	if h.group != "" {
		name = h.group + "." + name
	}
	clone.group = name
	return &clone
}

func (h *captureHandler) collect(e *Entry, a slog.Attr) {
	if h.group == "" {
		switch a.Key {
		case "component":
			e.Component = a.Value.String()
			return
		case "request_id":
			e.RequestID = a.Value.String()
			return
		}
	}

	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = a.Value.Resolve().Any()
}
