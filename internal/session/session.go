// Package session owns the per-chat worker lifecycle: at most one live worker
// per id, fire-and-forget stop, and status views.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RunFunc is the body of a session. It must return once ctx is done or
// s.Cancelled() reports true. The returned error is recorded as LastError.
type RunFunc func(ctx context.Context, s *Session) error

// Session is the mutable state shared between a worker and the registry.
// Fields are safe for concurrent use.
type Session struct {
	ID        int64
	RunID     string
	StartedAt time.Time

	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	attempts atomic.Int64
	state    atomic.Pointer[string]

	mu      sync.Mutex
	lastErr string
}

func newSession(id int64, runID string, cancel context.CancelFunc) *Session {
	s := &Session{
		ID:        id,
		RunID:     runID,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.SetState("starting")
	return s
}

// Cancelled reports whether Stop was requested.
func (s *Session) Cancelled() bool { return s.cancelled.Load() }

// requestStop flips the flag and wakes the worker from any delay. It reports
// false if a stop was already requested.
func (s *Session) requestStop() bool {
	if !s.cancelled.CompareAndSwap(false, true) {
		return false
	}
	s.cancel()
	return true
}

// Done is closed when the worker has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) AddAttempt() int64         { return s.attempts.Add(1) }
func (s *Session) AddAttempts(n int64) int64 { return s.attempts.Add(n) }
func (s *Session) Attempts() int64           { return s.attempts.Load() }

func (s *Session) SetState(st string) { s.state.Store(&st) }

func (s *Session) State() string {
	if p := s.state.Load(); p != nil {
		return *p
	}
	return ""
}

// SetLastError records err; nil clears it.
func (s *Session) SetLastError(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// View is a point-in-time copy for status queries.
type View struct {
	Running   bool
	Stopping  bool
	RunID     string
	State     string
	Attempts  int64
	LastError string
	StartedAt time.Time
}

func (s *Session) view() View {
	return View{
		Running:   true,
		Stopping:  s.Cancelled(),
		RunID:     s.RunID,
		State:     s.State(),
		Attempts:  s.Attempts(),
		LastError: s.LastError(),
		StartedAt: s.StartedAt,
	}
}
