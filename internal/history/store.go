// Package history keeps recent frame reports and finished sessions in memory
// and fans live pipeline events out to subscribers.
package history

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/huetrack/internal/pipeline"
)

// maxSessions bounds the retained session summaries.
const maxSessions = 5

// Event kinds.
const (
	KindReport       = "report"
	KindState        = "state"
	KindSessionStart = "session_started"
	KindSessionEnd   = "session_ended"
)

// Event is one pipeline event as pushed to subscribers.
type Event struct {
	Kind    string                `json:"kind"`
	Session string                `json:"session"`
	Report  *pipeline.Report      `json:"report,omitempty"`
	From    string                `json:"from,omitempty"`
	To      string                `json:"to,omitempty"`
	Info    *pipeline.SessionInfo `json:"info,omitempty"`
	Summary *pipeline.Summary     `json:"summary,omitempty"`
}

// Entry is a report with the wall time it was recorded.
type Entry struct {
	At     time.Time       `json:"at"`
	Report pipeline.Report `json:"report"`
}

// Store is a bounded in-memory history. It implements pipeline.Observer.
type Store struct {
	mu       sync.RWMutex
	entries  []Entry
	sessions []pipeline.Summary
	maxSize  int

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	dropped atomic.Uint64

	now func() time.Time
}

var _ pipeline.Observer = (*Store)(nil)

// NewStore keeps at most maxEntries reports.
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Store{
		entries: make([]Entry, 0, maxEntries),
		maxSize: maxEntries,
		subs:    make(map[int]chan Event),
		now:     time.Now,
	}
}

// Add records a report.
func (s *Store) Add(r pipeline.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Entry{At: s.now(), Report: r})
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
}

// GetRecent returns the reports recorded in the last seconds, oldest first.
// A non-positive window returns everything retained.
func (s *Store) GetRecent(seconds int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if seconds <= 0 {
		out := make([]Entry, len(s.entries))
		copy(out, s.entries)
		return out
	}
	cutoff := s.now().Add(-time.Duration(seconds) * time.Second)
	var out []Entry
	for _, e := range s.entries {
		if !e.At.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Sessions returns the most recent finished sessions, oldest first.
func (s *Store) Sessions() []pipeline.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Summary, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Subscribe registers a subscriber with the given buffer. Events that do not
// fit are dropped for that subscriber. Call cancel to unsubscribe.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

// Emit sends an event to every subscriber (non-blocking).
func (s *Store) Emit(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Dropped counts events lost to slow subscribers.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

func (s *Store) SessionStarted(info pipeline.SessionInfo) {
	s.Emit(Event{Kind: KindSessionStart, Session: info.ID, Info: &info})
}

func (s *Store) StateChanged(session string, from, to pipeline.State) {
	s.Emit(Event{Kind: KindState, Session: session, From: from.String(), To: to.String()})
}

func (s *Store) FrameProcessed(r pipeline.Report) {
	s.Add(r)
	s.Emit(Event{Kind: KindReport, Session: r.Session, Report: &r})
}

func (s *Store) SessionEnded(sum pipeline.Summary) {
	s.mu.Lock()
	s.sessions = append(s.sessions, sum)
	if len(s.sessions) > maxSessions {
		s.sessions = s.sessions[len(s.sessions)-maxSessions:]
	}
	s.mu.Unlock()
	s.Emit(Event{Kind: KindSessionEnd, Session: sum.ID, Summary: &sum})
}
