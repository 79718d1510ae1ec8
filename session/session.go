// Package session implements a stateful conversation server: a FIFO-queued
// mailbox over a single Agent Runner, cancellation, a human-in-the-loop
// approval gate, and a subscriber fan-out for lifecycle events. Grounded on
// runtime/agent/session/session.go's Session/Store shape, extended from
// durable lifecycle metadata (Status/CreatedAt/EndedAt) to a live in-process
// mailbox rather than one that delegates execution to a workflow engine.
//
// A Session implements executor.Approver so it can serve as the
// human-in-the-loop handler for its own runner's tool dispatch. Because the
// Executor is constructed before the Session that will approve its calls,
// wire them in this order: build the Executor and Runner, build the
// Session, then call Executor.SetApprover(session).
package session

import (
	"context"
	"sync"
	"time"

	"goa.design/agentcore/agent"
	"goa.design/agentcore/message"
	"goa.design/agentcore/runner"
	"goa.design/agentcore/telemetry"
	"goa.design/agentcore/telemetry/pubsub"
	"goa.design/agentcore/tool/executor"
)

var _ executor.Approver = (*Session)(nil)

// Status mirrors runtime/agent/session/session.go's SessionStatus, narrowed
// to the states this mailbox loop actually produces.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusEnded   Status = "ended"
)

// DefaultApprovalTimeout is the default human-in-the-loop wait before an
// approval request defaults to reject.
const DefaultApprovalTimeout = 5 * time.Minute

// pendingApproval tracks one in-flight approval request awaiting a decision.
type pendingApproval struct {
	resolved chan decision
}

type decision struct {
	kind          executor.ApprovalDecisionKind
	reason        string
	argumentsJSON []byte
}

// Session is a single stateful conversation: one Agent, one message history,
// at most one active Runner, and a FIFO queue of inputs waiting their turn.
type Session struct {
	id     string
	cfg    agent.Config
	runner *runner.Runner
	bus    pubsub.Bus
	logger telemetry.Logger

	mu            sync.Mutex
	status        Status
	deps          map[string]any
	queue         []string
	activeCancel  *agent.Cancel
	lastResult    runner.Result
	approvalTTL   time.Duration
	pendingByCall map[string]*pendingApproval
	approvalsMu   sync.Mutex
	ledger        *Ledger
}

// Option configures a Session.
type Option func(*Session)

func WithBus(bus pubsub.Bus) Option              { return func(s *Session) { s.bus = bus } }
func WithLogger(l telemetry.Logger) Option       { return func(s *Session) { s.logger = l } }
func WithApprovalTimeout(d time.Duration) Option { return func(s *Session) { s.approvalTTL = d } }
func WithDeps(deps map[string]any) Option {
	return func(s *Session) {
		s.deps = make(map[string]any, len(deps))
		for k, v := range deps {
			s.deps[k] = v
		}
	}
}

// New constructs an idle Session bound to cfg and r.
func New(id string, cfg agent.Config, r *runner.Runner, opts ...Option) *Session {
	s := &Session{
		id:            id,
		cfg:           cfg,
		runner:        r,
		status:        StatusIdle,
		logger:        telemetry.NoopLogger{},
		approvalTTL:   DefaultApprovalTimeout,
		pendingByCall: make(map[string]*pendingApproval),
		ledger:        NewLedger(),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// SendMessage appends a user turn and starts the Runner if idle, else
// enqueues it FIFO.
func (s *Session) SendMessage(ctx context.Context, text string) {
	if s.Deliver(text) {
		go s.runTurn(ctx, text)
	}
}

// Deliver records text against the session's queue/status bookkeeping and
// reports whether the caller is now responsible for running it (true), or
// whether it was queued behind an already-active run (false). Callers that
// want to own the run's goroutine themselves — Supervisor, to wrap it with
// panic recovery — call Deliver then RunTurn instead of SendMessage.
func (s *Session) Deliver(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		s.queue = append(s.queue, text)
		return false
	}
	s.status = StatusRunning
	s.activeCancel = agent.NewCancel()
	return true
}

// RunTurn runs text through the Runner synchronously, including draining
// any input queued while it ran. Only call this after Deliver returns true
// for the same text.
func (s *Session) RunTurn(ctx context.Context, text string) { s.runTurn(ctx, text) }

// runTurn executes one Runner turn to completion, then drains the queue.
// The next queued input is only dequeued once the active Runner has fully
// terminated, so at most one Runner is ever active for this session.
func (s *Session) runTurn(ctx context.Context, text string) {
	s.mu.Lock()
	cancel := s.activeCancel
	deps := make(map[string]any, len(s.deps))
	for k, v := range s.deps {
		deps[k] = v
	}
	s.mu.Unlock()

	startedAt := time.Now()
	runID := s.id + "/" + text
	res, err := s.runner.Run(ctx, s.cfg, runner.Input{
		SessionID: s.id,
		RunID:     runID,
		Text:      text,
		Deps:      deps,
		Cancel:    cancel,
	})
	snapshot := RunSnapshot{
		RunID:         runID,
		Text:          text,
		Output:        res.Output,
		Messages:      res.Messages,
		StoppedReason: res.StoppedReason,
		StartedAt:     startedAt,
		EndedAt:       time.Now(),
	}
	if err != nil {
		snapshot.Err = err.Error()
	}
	s.ledger.Append(snapshot)

	s.mu.Lock()
	s.lastResult = res
	s.deps = res.ContextDeps
	if err != nil {
		s.logger.Warn(ctx, "session: run terminated with error", "session", s.id, "error", err)
	}

	var next string
	var more bool
	if len(s.queue) > 0 {
		next, s.queue = s.queue[0], s.queue[1:]
		s.activeCancel = agent.NewCancel()
		more = true
	} else {
		s.status = StatusIdle
	}
	s.mu.Unlock()

	if more {
		s.runTurn(ctx, next)
	}
}

// Cancel fires the active run's cancel token. Returns immediately; the
// effect is cooperative and observed at the runner's next suspension
// point. A no-op if no run is active.
func (s *Session) Cancel(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeCancel != nil {
		s.activeCancel.Fire(reason)
	}
}

// History returns a snapshot of the most recently completed run's message log.
func (s *Session) History() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult.Messages
}

// Transcript returns every completed run recorded so far, oldest first. It
// survives Clear, unlike History, since it records independently of the
// live agent.Context deps/message log that Clear resets.
func (s *Session) Transcript() []RunSnapshot { return s.ledger.Snapshots() }

// TranscriptSince returns the runs recorded after runID, for a client
// backfilling only what it missed since it last saw that run. An empty or
// unknown runID returns the full transcript.
func (s *Session) TranscriptSince(runID string) []RunSnapshot { return s.ledger.Since(runID) }

// Clear discards history, rejected if a run is currently active.
func (s *Session) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		return false
	}
	s.lastResult = runner.Result{}
	s.deps = nil
	return true
}

// Status reports the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe registers sub on the session's bus, if one is configured.
func (s *Session) Subscribe(sub pubsub.Subscriber) (pubsub.Subscription, error) {
	if s.bus == nil {
		return noopSubscription{}, nil
	}
	return s.bus.Register(sub)
}

type noopSubscription struct{}

func (noopSubscription) Close() error { return nil }

// Await implements executor.Approver. Publishing ApprovalRequestedEvent is
// the executor's job; Await here registers a waiter keyed by toolCallID and
// blocks until Approve/Reject/Edit delivers a decision, ctx is cancelled, or
// the timeout elapses, defaulting to reject on timeout.
func (s *Session) Await(ctx context.Context, sessionID, toolCallID, toolName string, argumentsJSON []byte) (executor.ApprovalDecision, error) {
	pending := &pendingApproval{resolved: make(chan decision, 1)}
	s.approvalsMu.Lock()
	s.pendingByCall[toolCallID] = pending
	s.approvalsMu.Unlock()
	defer func() {
		s.approvalsMu.Lock()
		delete(s.pendingByCall, toolCallID)
		s.approvalsMu.Unlock()
	}()

	timer := time.NewTimer(s.approvalTTL)
	defer timer.Stop()

	select {
	case d := <-pending.resolved:
		return executor.ApprovalDecision{Kind: d.kind, Reason: d.reason, ArgumentsJSON: d.argumentsJSON}, nil
	case <-timer.C:
		return executor.ApprovalDecision{Kind: executor.ApprovalReject, Reason: "approval timed out"}, nil
	case <-ctx.Done():
		return executor.ApprovalDecision{}, ctx.Err()
	}
}

// Approve resolves a pending approval request as approved. Returns false if
// no such request is pending.
func (s *Session) Approve(toolCallID string) bool {
	return s.resolve(toolCallID, decision{kind: executor.ApprovalApprove})
}

// Reject resolves a pending approval request as rejected.
func (s *Session) Reject(toolCallID string) bool {
	return s.resolve(toolCallID, decision{kind: executor.ApprovalReject, reason: "rejected by reviewer"})
}

// Edit resolves a pending approval request as approved with substituted
// arguments, which the executor re-validates before invoking the handler.
func (s *Session) Edit(toolCallID string, argumentsJSON []byte) bool {
	return s.resolve(toolCallID, decision{kind: executor.ApprovalEdit, argumentsJSON: argumentsJSON})
}

func (s *Session) resolve(toolCallID string, d decision) bool {
	s.approvalsMu.Lock()
	pending, ok := s.pendingByCall[toolCallID]
	s.approvalsMu.Unlock()
	if !ok {
		return false
	}
	select {
	case pending.resolved <- d:
		return true
	default:
		return false
	}
}
