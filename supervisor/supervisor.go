// Package supervisor manages the lifecycle of sessions: registration,
// lookup, teardown, and crash isolation. Grounded on the central-registry
// shape of agents/runtime/runtime/runtime.go's Runtime type (a
// sync.RWMutex-guarded map plus Register/Lookup methods), generalized from
// agent/workflow registration to session lifecycle.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/agentcore/agent"
	"goa.design/agentcore/runner"
	"goa.design/agentcore/session"
	"goa.design/agentcore/telemetry"
	"goa.design/agentcore/telemetry/pubsub"
)

// Supervisor owns a set of live Sessions, keyed by ID. Running a turn
// through the Supervisor (rather than calling Session.SendMessage
// directly) recovers a panic in the session's run goroutine into an
// AgentErrorEvent instead of crashing the process.
type Supervisor struct {
	bus    pubsub.Bus
	logger telemetry.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithBus(bus pubsub.Bus) Option        { return func(s *Supervisor) { s.bus = bus } }
func WithLogger(l telemetry.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// New constructs an empty Supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:   telemetry.NoopLogger{},
		now:      time.Now,
		sessions: make(map[string]*session.Session),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Register adds a session built elsewhere to the supervisor's registry.
// Returns an error if id is already registered.
func (s *Supervisor) Register(id string, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return fmt.Errorf("supervisor: session %q already registered", id)
	}
	s.sessions[id] = sess
	return nil
}

// StartSession constructs and registers a new Session bound to cfg and r,
// using the Supervisor's bus and logger unless overridden by opts.
func (s *Supervisor) StartSession(id string, cfg agent.Config, r *runner.Runner, opts ...session.Option) (*session.Session, error) {
	base := []session.Option{session.WithBus(s.bus), session.WithLogger(s.logger)}
	sess := session.New(id, cfg, r, append(base, opts...)...)
	if err := s.Register(id, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Session looks up a registered session by ID.
func (s *Supervisor) Session(id string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// End removes a session from the registry. It does not cancel an active
// run; callers should call Session.Cancel first if that is desired.
func (s *Supervisor) End(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Sessions returns the IDs of all currently registered sessions.
func (s *Supervisor) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// SendMessage looks up the session by id and delivers text to it. If the
// session is idle, the run executes in a recovered goroutine this
// Supervisor owns: a panic anywhere in the session's run (a tool handler, a
// provider adapter, application code reachable from either) is caught and
// published as an AgentErrorEvent rather than taking down the process. If
// the session is already running, text is queued and no new goroutine is
// started.
func (s *Supervisor) SendMessage(ctx context.Context, id, text string) error {
	sess, ok := s.Session(id)
	if !ok {
		return fmt.Errorf("supervisor: no such session %q", id)
	}
	if sess.Deliver(text) {
		go s.guarded(ctx, id, func() { sess.RunTurn(ctx, text) })
	}
	return nil
}

func (s *Supervisor) guarded(ctx context.Context, sessionID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("supervisor: recovered panic in session %q: %v", sessionID, r)
			s.logger.Error(ctx, "supervisor: session goroutine panicked", "session", sessionID, "panic", r)
			s.publish(pubsub.AgentErrorEvent{
				Base:      s.base(sessionID),
				Err:       err,
				Recovered: true,
			})
		}
	}()
	fn()
}

func (s *Supervisor) publish(ev pubsub.Event) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(context.Background(), ev)
}

func (s *Supervisor) base(sessionID string) pubsub.Base {
	return pubsub.Base{Kind: pubsub.AgentError, Session: sessionID, At: s.now().UnixNano()}
}
