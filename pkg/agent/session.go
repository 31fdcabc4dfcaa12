package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zen-systems/modelgate/pkg/artifact"
	"github.com/zen-systems/modelgate/pkg/selector"
)

// DefaultHistoryLimit bounds a session's undo history.
const DefaultHistoryLimit = 20

// Entry is one completed workflow kept in a session's history.
type Entry struct {
	ExecutionID string              `json:"execution_id"`
	Goal        string              `json:"goal"`
	Assignment  selector.Assignment `json:"assignment"`
	Plan        string              `json:"plan,omitempty"`
	Artifact    *artifact.Artifact  `json:"artifact,omitempty"`
	Approved    bool                `json:"approved"`
	Success     bool                `json:"success"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Session owns the history of one caller's agentic workflows. Sessions are
// independent; concurrent workflows in different sessions never share state.
type Session struct {
	ID      string
	Subject string

	mu      sync.Mutex
	limit   int
	history []Entry
}

// NewSession creates a session for subject. A non-positive limit uses
// DefaultHistoryLimit.
func NewSession(subject string, limit int) *Session {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Session{
		ID:      uuid.NewString(),
		Subject: subject,
		limit:   limit,
	}
}

// Push appends an entry, dropping the oldest once the limit is reached.
func (s *Session) Push(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, e)
	if over := len(s.history) - s.limit; over > 0 {
		s.history = append([]Entry(nil), s.history[over:]...)
	}
}

// Current returns the most recent entry.
func (s *Session) Current() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return Entry{}, false
	}
	return s.history[len(s.history)-1], true
}

// Undo removes the most recent entry and returns it.
func (s *Session) Undo() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return Entry{}, false
	}
	last := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	return last, true
}

// History returns a copy of the entries, oldest first.
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of entries held.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}
