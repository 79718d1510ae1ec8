// Package executor implements tool dispatch: validate arguments, gate on
// human approval when required, invoke the handler with a deadline, retry
// transient failures with jittered exponential backoff, normalize the
// outcome into a message.ToolResult, and hand back the handler's requested
// ContextUpdate for the runner to apply. Grounded on the control flow of
// runtime/toolregistry/executor/executor.go (telemetry spans, structured
// logging around a single tool invocation), adapted from that package's
// Pulse-backed remote dispatch to direct in-process Handler invocation since
// tools here register as local (descriptor, handler) pairs.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/agentcore/agenterrors"
	"goa.design/agentcore/message"
	"goa.design/agentcore/telemetry"
	"goa.design/agentcore/telemetry/pubsub"
	"goa.design/agentcore/tool"
)

const (
	// backoffBase and backoffCap bound the retry formula: base * 2^attempt +
	// jitter, capped.
	backoffBase = 250 * time.Millisecond
	backoffCap  = 10 * time.Second
)

// Approver gates a tool call requiring human sign-off. Await blocks until
// the request is decided or ctx is cancelled; implementations are expected
// to apply their own default-reject-on-timeout policy before returning.
type Approver interface {
	Await(ctx context.Context, sessionID, toolCallID, toolName string, argumentsJSON []byte) (ApprovalDecision, error)
}

// ApprovalDecisionKind is the human reviewer's verdict on a gated tool call.
type ApprovalDecisionKind string

const (
	ApprovalApprove ApprovalDecisionKind = "approve"
	ApprovalReject  ApprovalDecisionKind = "reject"
	ApprovalEdit    ApprovalDecisionKind = "edit"
)

// ApprovalDecision is what an Approver resolves a pending request to. Reason
// carries a human-readable note for Reject; ArgumentsJSON carries the
// substituted call arguments for Edit and is ignored otherwise. Any kind
// other than Approve or Edit is treated as a reject, so a zero-value
// ApprovalDecision fails closed.
type ApprovalDecision struct {
	Kind          ApprovalDecisionKind
	Reason        string
	ArgumentsJSON []byte
}

// Executor runs tool calls against a Registry through the
// validate/approve/invoke/retry dispatch pipeline; the ContextUpdate a
// handler requests is returned in Result.Update, not applied here.
type Executor struct {
	registry  *tool.Registry
	validator *tool.Validator
	approver  Approver
	bus       pubsub.Bus
	logger    telemetry.Logger
	tracer    telemetry.Tracer
	now       func() time.Time
	rand      *rand.Rand
}

// Option configures an Executor.
type Option func(*Executor)

// WithApprover sets the human-in-the-loop gate. Without one, calls to
// descriptors with RequiresApproval set are rejected immediately: the handler
// is not invoked and the call yields a {"status":"rejected"} tool result.
func WithApprover(a Approver) Option { return func(e *Executor) { e.approver = a } }

// WithBus sets the event bus tool.execute.* lifecycle events publish to.
func WithBus(bus pubsub.Bus) Option { return func(e *Executor) { e.bus = bus } }

// WithLogger sets the executor's structured logger.
func WithLogger(l telemetry.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithTracer sets the executor's tracer.
func WithTracer(t telemetry.Tracer) Option { return func(e *Executor) { e.tracer = t } }

// New constructs an Executor backed by registry, validating arguments with a
// fresh tool.Validator.
func New(registry *tool.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry:  registry,
		validator: tool.NewValidator(),
		logger:    telemetry.NoopLogger{},
		tracer:    telemetry.NoopTracer{},
		now:       time.Now,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

// Registry returns the executor's underlying tool registry, so callers (the
// runner) can check for a tool's existence before constructing a Call.
func (e *Executor) Registry() *tool.Registry { return e.registry }

// SetApprover (re)configures the human-in-the-loop gate after construction.
// This breaks the construction cycle between a session and the executor its
// runner dispatches through: build the Executor and Runner first, then wire
// the owning Session in as the Approver once it exists.
func (e *Executor) SetApprover(a Approver) { e.approver = a }

// Call identifies the invocation context for one tool call dispatch.
type Call struct {
	SessionID     string
	RunID         string
	ToolCallID    string
	Name          tool.Ident
	ArgumentsJSON []byte
}

// Result is what Execute returns: a normalized tool result message plus the
// ContextUpdate (if any) the handler requested, for the runner to apply.
type Result struct {
	Message message.Message
	Update  tool.ContextUpdate
	// Attempts is the number of handler invocations this call made (0 if the
	// handler was never reached, e.g. rejected by validation or approval).
	// The runner folds Attempts into usage.tool_calls/usage.retries.
	Attempts int
}

// Execute runs one tool call through the full dispatch pipeline. Handler,
// validation, timeout and cancellation failures are not returned as Go
// errors — they are encoded into Result.Message as a tool error result the
// model can react to. A Go error is returned only for an unknown tool and
// for an Approver whose Await fails.
func (e *Executor) Execute(ctx context.Context, call Call, rc *tool.RunContext) (Result, error) {
	desc, ok := e.registry.Lookup(call.Name)
	if !ok {
		return Result{}, agenterrors.New(agenterrors.KindUnknownTool, "unknown tool %q", call.Name)
	}

	tracer := e.tracer
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	ctx, span := tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name.String()),
			attribute.String("tool.call_id", call.ToolCallID),
			attribute.String("run.id", call.RunID),
		),
	)
	defer span.End()

	e.publish(pubsub.ToolCallStartedEvent{
		Base:       e.base(pubsub.ToolCallStarted, call),
		ToolCallID: call.ToolCallID,
		ToolName:   call.Name.String(),
	})
	start := e.now()

	if err := e.validator.Validate(desc, call.ArgumentsJSON); err != nil {
		e.logger.Warn(ctx, "tool: argument validation failed", "tool", call.Name, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return e.finish(ctx, call, start, 0, true, e.errorResult(call, "invalid arguments: "+err.Error(), retryHintForValidationError(err))), nil
	}

	if desc.RequiresApproval {
		decision, err := e.awaitApproval(ctx, call)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "approval failed")
			return Result{}, err
		}
		switch decision.Kind {
		case ApprovalApprove:
		case ApprovalEdit:
			if len(decision.ArgumentsJSON) > 0 {
				if verr := e.validator.Validate(desc, decision.ArgumentsJSON); verr != nil {
					span.RecordError(verr)
					span.SetStatus(codes.Error, "edited arguments invalid")
					return e.finish(ctx, call, start, 0, true, e.errorResult(call, "invalid edited arguments: "+verr.Error(), retryHintForValidationError(verr))), nil
				}
				call.ArgumentsJSON = decision.ArgumentsJSON
			}
		default:
			reason := decision.Reason
			if reason == "" {
				reason = "rejected by approver"
			}
			return e.finish(ctx, call, start, 0, true, e.rejectedResult(call, reason)), nil
		}
	}

	outcome, attempts, err := e.invokeWithRetry(ctx, desc, rc, call)
	failed := err != nil || outcome.IsError()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler exhausted retries")
		return e.finish(ctx, call, start, attempts, failed, e.errorResult(call, err.Error(), nil)), nil
	}
	if outcome.IsError() {
		span.SetStatus(codes.Error, "handler reported failure")
		return e.finish(ctx, call, start, attempts, failed, e.errorResult(call, outcome.Err().Error(), outcome.Err().Hint)), nil
	}

	value, _ := outcome.Value()
	payload, merr := json.Marshal(value)
	if merr != nil {
		span.RecordError(merr)
		return e.finish(ctx, call, start, attempts, true, e.errorResult(call, "marshal tool result: "+merr.Error(), nil)), nil
	}
	span.SetStatus(codes.Ok, "ok")
	return e.finish(ctx, call, start, attempts, false, Result{
		Message: message.Tool(call.ToolCallID, call.Name.String(), payload),
		Update:  outcome.Update(),
	}), nil
}

// invokeWithRetry invokes desc.Handler, retrying up to desc.Retries times on
// a Go-level error (not a Failure outcome, which is never retried — see
// tool.Outcome's docs) with jittered exponential backoff, each attempt
// bounded by desc.Timeout.
func (e *Executor) invokeWithRetry(ctx context.Context, desc *tool.Descriptor, rc *tool.RunContext, call Call) (tool.Outcome, int, error) {
	var lastErr error
	for attempt := 0; attempt <= desc.Retries; attempt++ {
		if attempt > 0 {
			if err := e.sleepBackoff(ctx, attempt-1, rc); err != nil {
				return tool.Outcome{}, attempt, err
			}
		}
		outcome, err := e.invokeOnce(ctx, desc, rc, call)
		if err == nil {
			return outcome, attempt + 1, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) {
			return tool.Outcome{}, attempt + 1, agenterrors.Cancelled(rc.Cancel.Reason())
		}
	}
	return tool.Outcome{}, desc.Retries + 1, agenterrors.Wrap(agenterrors.KindToolException, lastErr, "tool %q failed after %d attempt(s)", desc.Name, desc.Retries+1)
}

// invokeOnce runs one attempt under desc.Timeout, recovering a handler panic
// into an error so a misbehaving tool cannot crash the runner.
func (e *Executor) invokeOnce(ctx context.Context, desc *tool.Descriptor, rc *tool.RunContext, call Call) (outcome tool.Outcome, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, desc.Timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				err = agenterrors.New(agenterrors.KindToolException, "tool %q panicked: %v", desc.Name, r)
			}
		}()
		outcome, err = desc.Handler(attemptCtx, rc, call.ArgumentsJSON)
	}()

	select {
	case <-done:
		return outcome, err
	case <-attemptCtx.Done():
		<-done
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return tool.Outcome{}, agenterrors.New(agenterrors.KindToolTimeout, "tool %q exceeded %s", desc.Name, desc.Timeout)
		}
		return tool.Outcome{}, context.Canceled
	}
}

// sleepBackoff waits base*2^attempt + jitter (capped at backoffCap), or
// returns ctx.Err() if cancelled first.
func (e *Executor) sleepBackoff(ctx context.Context, attempt int, rc *tool.RunContext) error {
	d := backoffBase * time.Duration(1<<uint(attempt))
	if d > backoffCap {
		d = backoffCap
	}
	jitter := time.Duration(e.rand.Int63n(int64(backoffBase)))
	timer := time.NewTimer(d + jitter)
	defer timer.Stop()
	var cancelCh <-chan struct{}
	if rc != nil && rc.Cancel != nil {
		cancelCh = rc.Cancel.Done()
	}
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-cancelCh:
		return context.Canceled
	}
}

func (e *Executor) awaitApproval(ctx context.Context, call Call) (ApprovalDecision, error) {
	e.publish(pubsub.ApprovalRequestedEvent{
		Base:       e.base(pubsub.ApprovalRequested, call),
		ToolCallID: call.ToolCallID,
		ToolName:   call.Name.String(),
	})
	if e.approver == nil {
		e.publish(pubsub.ApprovalResolvedEvent{
			Base:       e.base(pubsub.ApprovalResolved, call),
			ToolCallID: call.ToolCallID,
			Approved:   false,
		})
		return ApprovalDecision{Kind: ApprovalReject, Reason: "no approver configured"}, nil
	}
	decision, err := e.approver.Await(ctx, call.SessionID, call.ToolCallID, call.Name.String(), call.ArgumentsJSON)
	if err != nil {
		return ApprovalDecision{}, agenterrors.Wrap(agenterrors.KindApprovalRejected, err, "approval for %q failed", call.Name)
	}
	e.publish(pubsub.ApprovalResolvedEvent{
		Base:       e.base(pubsub.ApprovalResolved, call),
		ToolCallID: call.ToolCallID,
		Approved:   decision.Kind == ApprovalApprove || decision.Kind == ApprovalEdit,
	})
	return decision, nil
}

// errorResult builds the tool-error payload the model sees. When hint is
// non-nil its structured fields ride alongside the message instead of the
// model having to parse the string for clues.
func (e *Executor) errorResult(call Call, msg string, hint *tool.RetryHint) Result {
	body := map[string]any{"status": "error", "message": msg}
	if hint != nil {
		body["retry_hint"] = hint
	}
	payload, _ := json.Marshal(body)
	return Result{Message: message.Tool(call.ToolCallID, call.Name.String(), payload)}
}

// rejectedResult builds the synthetic tool result a human reviewer's reject
// decision produces: not an error, a result the model must react to.
func (e *Executor) rejectedResult(call Call, reason string) Result {
	payload, _ := json.Marshal(map[string]any{"status": "rejected", "reason": reason})
	return Result{Message: message.Tool(call.ToolCallID, call.Name.String(), payload)}
}

func (e *Executor) finish(ctx context.Context, call Call, start time.Time, attempt int, failed bool, res Result) Result {
	e.publish(pubsub.ToolCallCompletedEvent{
		Base:       e.base(pubsub.ToolCallCompleted, call),
		ToolCallID: call.ToolCallID,
		ToolName:   call.Name.String(),
		DurationMs: e.now().Sub(start).Milliseconds(),
		Attempt:    attempt,
		Failed:     failed,
	})
	res.Attempts = attempt
	return res
}

func (e *Executor) publish(ev pubsub.Event) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(context.Background(), ev)
}

func (e *Executor) base(kind pubsub.EventType, call Call) pubsub.Base {
	return pubsub.Base{Kind: kind, Session: call.SessionID, Run: call.RunID, At: e.now().UnixNano()}
}
