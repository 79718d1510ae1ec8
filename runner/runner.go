// Package runner implements the Agent Runner state machine: Prepare,
// AwaitModel, Dispatch, Loop, and the three terminal states Done, Failed,
// Cancelled. Grounded on agents/runtime/runtime/workflow.go's run loop
// (plan, dispatch tools, resume) generalized from a Temporal-workflow-driven
// loop to a plain goroutine-driven one, since this repo drops
// go.temporal.io (see DESIGN.md).
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/agentcore/agent"
	"goa.design/agentcore/agenterrors"
	"goa.design/agentcore/message"
	"goa.design/agentcore/model"
	"goa.design/agentcore/telemetry"
	"goa.design/agentcore/telemetry/pubsub"
	"goa.design/agentcore/tool"
	"goa.design/agentcore/tool/executor"
)

// StoppedReason names why a run reached a terminal state.
type StoppedReason string

const (
	StoppedStop          StoppedReason = "stop"
	StoppedMaxIterations StoppedReason = "max_iterations"
	StoppedToolChoice    StoppedReason = "tool_choice"
	StoppedCancelled     StoppedReason = "cancelled"
	StoppedError         StoppedReason = "error"
)

const toolChoiceNudge = "Please use one of the provided tools."

// Result is the stable shape a run returns regardless of outcome.
type Result struct {
	Output        string
	Messages      []message.Message
	Usage         message.Usage
	ContextDeps   map[string]any
	Iterations    int
	StoppedReason StoppedReason
}

// backoff formula shared with the tool executor: same base, cap, and
// jittered exponential growth for retrying provider calls.
const (
	backoffBase = 250 * time.Millisecond
	backoffCap  = 10 * time.Second
)

// Runner drives agent runs against a model.Registry and tool.Registry.
type Runner struct {
	models   *model.Registry
	executor *executor.Executor
	bus      pubsub.Bus
	logger   telemetry.Logger
	tracer   telemetry.Tracer
	now      func() time.Time
	rand     *rand.Rand
}

// Option configures a Runner.
type Option func(*Runner)

func WithBus(bus pubsub.Bus) Option       { return func(r *Runner) { r.bus = bus } }
func WithLogger(l telemetry.Logger) Option { return func(r *Runner) { r.logger = l } }
func WithTracer(t telemetry.Tracer) Option { return func(r *Runner) { r.tracer = t } }

// New constructs a Runner. exec dispatches tool calls; models resolves the
// agent's configured model identifier to a provider Client.
func New(models *model.Registry, exec *executor.Executor, opts ...Option) *Runner {
	r := &Runner{
		models:   models,
		executor: exec,
		logger:   telemetry.NoopLogger{},
		tracer:   telemetry.NoopTracer{},
		now:      time.Now,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Input identifies one run.
type Input struct {
	SessionID string
	RunID     string
	Text      string
	Deps      map[string]any
	Cancel    *agent.Cancel
}

// Run executes cfg's Prepare→AwaitModel→Dispatch→Loop state machine to
// completion and returns the stable Result shape, or an *agenterrors.Error
// for a Failed termination.
func (r *Runner) Run(ctx context.Context, cfg agent.Config, in Input) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, agenterrors.Wrap(agenterrors.KindUnknownTool, err, "invalid agent config")
	}

	actx := agent.NewContext(cfg.SystemPrompt, in.Deps)
	if err := actx.Append(message.User(in.Text)); err != nil {
		return Result{}, agenterrors.Wrap(agenterrors.KindValidation, err, "prepare: append input")
	}
	cancel := in.Cancel
	if cancel == nil {
		cancel = agent.NewCancel()
	}

	client, modelName, err := r.models.Resolve(cfg.Model)
	if err != nil {
		return Result{}, agenterrors.Wrap(agenterrors.KindUnknownTool, err, "resolve model")
	}
	if cfg.RunTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, cfg.RunTimeout)
		defer stop()
	}

	r.publish(pubsub.RunStartedEvent{
		Base:              r.base(pubsub.RunStarted, in),
		InputMessageCount: len(actx.Log()),
	})

	var usage message.Usage
	iterations := 0
	toolChoiceOffenses := 0
	reason := StoppedStop

	for {
		select {
		case <-cancel.Done():
			return r.terminate(ctx, actx, in, usage, iterations, StoppedCancelled, agenterrors.Cancelled(cancel.Reason()))
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return r.terminate(ctx, actx, in, usage, iterations, StoppedError, agenterrors.Wrap(agenterrors.KindTimeout, ctx.Err(), "run deadline exceeded"))
		}

		iterations++
		if iterations > cfg.Iterations() {
			return r.terminate(ctx, actx, in, usage, iterations-1, StoppedMaxIterations,
				agenterrors.New(agenterrors.KindMaxIterations, "exceeded max_iterations=%d", cfg.Iterations()))
		}

		reply, replyUsage, err := r.awaitModel(ctx, client, modelName, cfg, actx, cancel)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = agenterrors.Wrap(agenterrors.KindTimeout, ctx.Err(), "run deadline exceeded")
			}
			return r.terminate(ctx, actx, in, usage, iterations, StoppedError, err)
		}
		usage.Add(replyUsage)
		if replyUsage.Requests == 0 {
			usage.Requests++
		}

		if err := actx.Append(reply); err != nil {
			return r.terminate(ctx, actx, in, usage, iterations, StoppedError, agenterrors.Wrap(agenterrors.KindValidation, err, "dispatch: append assistant message"))
		}

		if !reply.HasToolCalls() {
			if cfg.Settings.ToolChoice.Mode == model.ToolChoiceRequired {
				toolChoiceOffenses++
				if toolChoiceOffenses > 1 {
					return r.terminate(ctx, actx, in, usage, iterations, StoppedToolChoice,
						agenterrors.New(agenterrors.KindToolChoiceViolation, "tool_choice:required violated twice"))
				}
				if err := actx.Append(message.User(toolChoiceNudge)); err != nil {
					return r.terminate(ctx, actx, in, usage, iterations, StoppedError, agenterrors.Wrap(agenterrors.KindValidation, err, "tool_choice nudge"))
				}
				continue
			}
			reason = StoppedStop
			return r.finish(ctx, actx, in, reply.Content, usage, iterations, reason)
		}

		dispatchUsage, err := r.dispatch(ctx, cfg, actx, in, reply.ToolCalls, cancel)
		usage.Add(dispatchUsage)
		if err != nil {
			dispatchReason := StoppedError
			if k, ok := agenterrors.KindOf(err); ok && k == agenterrors.KindCancelled {
				dispatchReason = StoppedCancelled
			}
			return r.terminate(ctx, actx, in, usage, iterations, dispatchReason, err)
		}
	}
}

// awaitModel implements state AwaitModel, including the provider-error
// retry policy (same backoff as tool retries).
func (r *Runner) awaitModel(ctx context.Context, client model.Client, modelName string, cfg agent.Config, actx *agent.Context, cancel *agent.Cancel) (message.Message, message.Usage, error) {
	tracer := r.tracer
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	ctx, span := tracer.Start(ctx, "runner.await_model", trace.WithAttributes(attribute.String("model", modelName)))
	defer span.End()
	if cfg.IterationTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, cfg.IterationTimeout)
		defer stop()
	}

	settings := cfg.Settings
	if len(cfg.Tools) > 0 {
		settings.Tools = append([]model.ToolDefinition(nil), cfg.Settings.Tools...)
		for _, id := range cfg.Tools {
			if d, ok := r.executor.Registry().Lookup(id); ok {
				settings.Tools = append(settings.Tools, model.ToolDefinition{Name: d.Name.String(), Description: d.Description, InputSchema: d.ParametersSchema})
			}
		}
	}
	req := model.Request{Model: modelName, Messages: actx.Log(), Settings: settings}

	attempts := cfg.RetryPolicy.Attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-cancel.Done():
			return message.Message{}, message.Usage{}, agenterrors.Cancelled(cancel.Reason())
		default:
		}
		if attempt > 0 {
			if err := r.sleepBackoff(ctx, attempt-1, cancel); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return message.Message{}, message.Usage{}, agenterrors.Wrap(agenterrors.KindTimeout, err, "await model deadline exceeded")
				}
				return message.Message{}, message.Usage{}, agenterrors.Cancelled(cancel.Reason())
			}
		}
		msg, u, err := client.Complete(ctx, req)
		if err == nil {
			span.SetStatus(codes.Ok, "ok")
			return msg, u, nil
		}
		lastErr = err
		var perr *model.ProviderError
		if !errors.As(err, &perr) || !perr.Retryable() {
			span.RecordError(err)
			span.SetStatus(codes.Error, "provider error")
			return message.Message{}, message.Usage{}, providerErrorKind(err)
		}
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "retries exhausted")
	return message.Message{}, message.Usage{}, providerErrorKind(lastErr)
}

func providerErrorKind(err error) error {
	var perr *model.ProviderError
	if !errors.As(err, &perr) {
		return agenterrors.Wrap(agenterrors.KindProviderTransport, err, "provider request failed")
	}
	switch perr.Kind {
	case model.KindRateLimited:
		return agenterrors.Wrap(agenterrors.KindProviderRateLimited, err, "provider rate limited")
	case model.KindAuth:
		return agenterrors.Wrap(agenterrors.KindProviderAuth, err, "provider auth failed")
	case model.KindBadRequest:
		return agenterrors.Wrap(agenterrors.KindProviderBadRequest, err, "provider rejected request")
	case model.KindServer:
		return agenterrors.Wrap(agenterrors.KindProviderServer, err, "provider server error")
	case model.KindTransport:
		return agenterrors.Wrap(agenterrors.KindProviderTransport, err, "provider transport error")
	case model.KindTimeout:
		return agenterrors.Wrap(agenterrors.KindProviderTimeout, err, "provider timeout")
	default:
		return agenterrors.Wrap(agenterrors.KindProviderParse, err, "provider response unparsable")
	}
}

func (r *Runner) sleepBackoff(ctx context.Context, attempt int, cancel *agent.Cancel) error {
	d := backoffBase * time.Duration(1<<uint(attempt))
	if d > backoffCap {
		d = backoffCap
	}
	jitter := time.Duration(r.rand.Int63n(int64(backoffBase)))
	timer := time.NewTimer(d + jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-cancel.Done():
		return context.Canceled
	}
}

// parallelDeadlineSlack is added on top of the slowest individual tool's
// timeout to bound an entire parallel dispatch round.
const parallelDeadlineSlack = time.Second

// dispatch implements state Dispatch: invoke every tool call from the most
// recent Assistant message, sequentially or in parallel per
// cfg.ParallelTools, and folds each call's attempt count into usage.
func (r *Runner) dispatch(ctx context.Context, cfg agent.Config, actx *agent.Context, in Input, calls []message.ToolCall, cancel *agent.Cancel) (message.Usage, error) {
	rc := &tool.RunContext{Deps: actx, Cancel: cancel}

	results := make([]message.Message, len(calls))
	updates := make([]tool.ContextUpdate, len(calls))
	attempts := make([]int, len(calls))
	dispatched := make([]bool, len(calls))

	dispatchCtx := ctx
	parallel := cfg.ParallelTools && len(calls) > 1
	if parallel {
		var maxTimeout time.Duration
		for _, tc := range calls {
			if desc, ok := r.executor.Registry().Lookup(tool.Ident(tc.Name)); ok && desc.Timeout > maxTimeout {
				maxTimeout = desc.Timeout
			}
		}
		if maxTimeout > 0 {
			var roundCancel context.CancelFunc
			dispatchCtx, roundCancel = context.WithTimeout(ctx, maxTimeout+parallelDeadlineSlack)
			defer roundCancel()
		}
	}

	run := func(i int) {
		tc := calls[i]
		if _, ok := r.executor.Registry().Lookup(tool.Ident(tc.Name)); !ok {
			payload := fmt.Sprintf(`{"status":"error","message":"unknown tool: %s"}`, tc.Name)
			results[i] = message.Tool(tc.ID, tc.Name, []byte(payload))
			return
		}
		dispatched[i] = true
		res, err := r.executor.Execute(dispatchCtx, executor.Call{
			SessionID: in.SessionID, RunID: in.RunID, ToolCallID: tc.ID,
			Name: tool.Ident(tc.Name), ArgumentsJSON: []byte(tc.ArgumentsJSON),
		}, rc)
		if err != nil {
			payload := fmt.Sprintf(`{"status":"error","message":%q}`, err.Error())
			results[i] = message.Tool(tc.ID, tc.Name, []byte(payload))
			return
		}
		results[i] = res.Message
		updates[i] = res.Update
		attempts[i] = res.Attempts
	}

	if parallel {
		var wg sync.WaitGroup
		for i := range calls {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				run(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range calls {
			run(i)
		}
	}

	var usage message.Usage
	for i := range calls {
		select {
		case <-cancel.Done():
			return usage, agenterrors.Cancelled(cancel.Reason())
		default:
		}
		if dispatched[i] {
			usage.ToolCalls++
			if attempts[i] > 1 {
				usage.Retries += attempts[i] - 1
			}
		}
		if !updates[i].Empty() {
			if err := actx.ApplyUpdate(updates[i]); err != nil {
				return usage, agenterrors.Wrap(agenterrors.KindContextUpdateType, err, "apply context update for %q", calls[i].Name)
			}
		}
		if err := actx.Append(results[i]); err != nil {
			return usage, agenterrors.Wrap(agenterrors.KindValidation, err, "append tool result for %q", calls[i].Name)
		}
	}
	return usage, nil
}

func (r *Runner) finish(ctx context.Context, actx *agent.Context, in Input, output string, usage message.Usage, iterations int, reason StoppedReason) (Result, error) {
	r.publish(pubsub.RunCompletedEvent{Base: r.base(pubsub.RunCompleted, in), Iterations: iterations})
	return Result{
		Output:        output,
		Messages:      actx.Log(),
		Usage:         usage,
		ContextDeps:   actx.DepsSnapshot(),
		Iterations:    iterations,
		StoppedReason: reason,
	}, nil
}

func (r *Runner) terminate(ctx context.Context, actx *agent.Context, in Input, usage message.Usage, iterations int, reason StoppedReason, cause error) (Result, error) {
	log := actx.Log()
	partial := lastAssistantText(log)
	res := Result{
		Output:        partial,
		Messages:      log,
		Usage:         usage,
		ContextDeps:   actx.DepsSnapshot(),
		Iterations:    iterations,
		StoppedReason: reason,
	}
	if reason == StoppedCancelled {
		r.publish(pubsub.RunCancelledEvent{
			Base:          r.base(pubsub.RunCancelled, in),
			Reason:        errorReason(cause),
			PartialOutput: partial,
			MessagesSoFar: log,
		})
	} else {
		r.publish(pubsub.RunFailedEvent{Base: r.base(pubsub.RunFailed, in), Err: cause})
	}
	return res, cause
}

// lastAssistantText returns the most recent Assistant message's content, the
// best available partial output when a run terminates before finishing.
func lastAssistantText(log []message.Message) string {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role == message.RoleAssistant {
			return log[i].Content
		}
	}
	return ""
}

func errorReason(err error) string {
	var e *agenterrors.Error
	if errors.As(err, &e) {
		if e.Reason != "" {
			return e.Reason
		}
		return string(e.Kind)
	}
	return err.Error()
}

func (r *Runner) publish(ev pubsub.Event) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(context.Background(), ev)
}

func (r *Runner) base(kind pubsub.EventType, in Input) pubsub.Base {
	return pubsub.Base{Kind: kind, Session: in.SessionID, Run: in.RunID, At: r.now().UnixNano()}
}
