package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sweepbot/internal/eventbus"
	"sweepbot/internal/runtime/supervisor"
	"sweepbot/pkg/logx"
)

var (
	ErrAlreadyRunning = errors.New("session already running")
	ErrNotRunning     = errors.New("session not running")
	ErrClosed         = errors.New("registry closed")
)

// Finished is published on the event bus when a worker returns.
type Finished struct {
	Kind      string
	ID        int64
	RunID     string
	State     string
	Attempts  int64
	Err       error
	StartedAt time.Time
}

// Started is published on the event bus when a worker is launched.
type Started struct {
	Kind  string
	ID    int64
	RunID string
}

// Registry maps session ids to live workers.
type Registry struct {
	kind string
	log  logx.Logger
	bus  eventbus.Bus
	sup  *supervisor.Supervisor

	mu       sync.Mutex
	sessions map[int64]*Session
	closed   bool
}

type Option func(*Registry)

func WithLogger(log logx.Logger) Option { return func(r *Registry) { r.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(r *Registry) { r.bus = bus } }

// New creates a registry for one worker kind ("sweep", "vanity"). Workers
// run under a supervisor derived from parent.
func New(parent context.Context, kind string, opts ...Option) *Registry {
	r := &Registry{kind: kind, sessions: map[int64]*Session{}}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With(logx.String("comp", "session"), logx.String("kind", kind))
	r.sup = supervisor.New(parent, supervisor.WithLogger(r.log))
	return r
}

func (r *Registry) Kind() string { return r.kind }

// Start launches run for id. It fails with ErrAlreadyRunning while a previous
// worker for id has not returned yet, even if it was asked to stop.
func (r *Registry) Start(id int64, run RunFunc) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if _, ok := r.sessions[id]; ok {
		return nil, ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(r.sup.Context())
	s := newSession(id, uuid.NewString(), cancel)
	r.sessions[id] = s

	r.log.Info("session started", logx.Int64("chat_id", id), logx.String("run_id", s.RunID))
	r.publish(eventbus.SessionStarted, Started{Kind: r.kind, ID: id, RunID: s.RunID})

	r.sup.GoCtx(ctx, fmt.Sprintf("%s.%d", r.kind, id), func(ctx context.Context) error {
		defer r.finish(s)
		err := run(ctx, s)
		if err != nil {
			s.SetLastError(err)
		}
		// Worker errors are session-local; never fail the supervisor.
		return nil
	})
	return s, nil
}

func (r *Registry) finish(s *Session) {
	s.cancel()
	r.mu.Lock()
	if cur, ok := r.sessions[s.ID]; ok && cur == s {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()
	close(s.done)

	var err error
	if msg := s.LastError(); msg != "" {
		err = errors.New(msg)
	}
	r.log.Info("session finished",
		logx.Int64("chat_id", s.ID),
		logx.String("run_id", s.RunID),
		logx.String("state", s.State()),
		logx.Int64("attempts", s.Attempts()),
	)
	r.publish(eventbus.SessionFinished, Finished{
		Kind: r.kind, ID: s.ID, RunID: s.RunID, State: s.State(),
		Attempts: s.Attempts(), Err: err, StartedAt: s.StartedAt,
	})
}

// Stop asks the worker for id to exit and returns without waiting.
func (r *Registry) Stop(id int64) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || !s.requestStop() {
		return ErrNotRunning
	}
	r.log.Info("session stop requested", logx.Int64("chat_id", id), logx.String("run_id", s.RunID))
	return nil
}

// Status reports the live session for id; Running is false when there is none.
func (r *Registry) Status(id int64) View {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return View{}
	}
	return s.view()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown stops every session and waits for the workers until ctx is done.
// No new sessions are accepted afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.requestStop()
	}
	return r.sup.Stop(ctx)
}

func (r *Registry) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// StopAll stops id in every registry and reports whether anything was running.
func StopAll(id int64, regs ...*Registry) (stopped []string) {
	for _, r := range regs {
		if r == nil {
			continue
		}
		if err := r.Stop(id); err == nil {
			stopped = append(stopped, r.kind)
		}
	}
	return stopped
}
