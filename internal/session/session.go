// Package session keeps per-conversation history between orchestrator runs.
//
// A Session serialises its turns: the user turn is appended before a run and
// removed again when the run fails, so history only ever holds answered
// questions. The Manager owns sessions for the HTTP surface and evicts idle
// ones.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finchat-dev/finchat/internal/orchestrator"
)

// Errors for session operations.
var (
	ErrNotFound      = errors.New("session not found")
	ErrEmptyQuestion = errors.New("question is empty")
	ErrClosed        = errors.New("session manager is closed")
)

// Runner answers one question against a history.
type Runner interface {
	Run(ctx context.Context, history []orchestrator.Turn, question string) (*orchestrator.Result, error)
}

// Session is one conversation.
type Session struct {
	ID        string
	CreatedAt time.Time

	// lastActive is accessed atomically and is not guarded by mu.
	lastActive atomic.Int64

	mu       sync.Mutex
	history  []orchestrator.Turn
	last     *orchestrator.Result
	maxTurns int
}

// New creates an empty session. maxTurns bounds the retained history; zero
// keeps everything.
func New(id string, maxTurns int) *Session {
	s := &Session{ID: id, CreatedAt: time.Now(), maxTurns: maxTurns}
	s.touch()
	return s
}

// Ask runs question through r. On failure the user turn is rolled back and
// the history is left as it was.
func (s *Session) Ask(ctx context.Context, r Runner, question string) (*orchestrator.Result, error) {
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	s.history = append(s.history, orchestrator.Turn{Role: orchestrator.RoleUser, Content: question})

	res, err := r.Run(ctx, s.history, question)
	if err != nil {
		s.history = s.history[:len(s.history)-1]
		return nil, err
	}

	s.history = s.trim(res.History)
	s.last = res
	return res, nil
}

// trim drops the oldest turns beyond maxTurns, keeping user/assistant pairs
// aligned.
func (s *Session) trim(h []orchestrator.Turn) []orchestrator.Turn {
	if s.maxTurns <= 0 || len(h) <= s.maxTurns {
		return h
	}
	drop := len(h) - s.maxTurns
	if drop%2 == 1 {
		drop++
	}
	if drop >= len(h) {
		return h[len(h)-1:]
	}
	return append([]orchestrator.Turn(nil), h[drop:]...)
}

// History returns a copy of the conversation so far.
func (s *Session) History() []orchestrator.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orchestrator.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Last returns the most recent successful result, or nil.
func (s *Session) Last() *orchestrator.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Clear forgets history and the last result.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.last = nil
	s.touch()
}

// LastActive returns when the session was last used.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}
