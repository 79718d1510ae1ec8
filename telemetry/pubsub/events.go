// Package pubsub implements the runtime event bus used by the session server
// and runner to publish lifecycle events to subscribers (streaming clients,
// memory sinks, telemetry collectors). Grounded on
// runtime/agent/hooks.Bus/Event/Subscriber.
package pubsub

import "goa.design/agentcore/message"

// EventType enumerates well-known events broadcast on the Bus. Each
// corresponds to a specific phase of the run lifecycle.
type EventType string

const (
	RunStarted        EventType = "run.started"
	RunCompleted      EventType = "run.completed"
	RunCancelled      EventType = "run.cancelled"
	RunFailed         EventType = "run.failed"
	MessageAppended   EventType = "message.appended"
	TextDelta         EventType = "text.delta"
	ToolCallStarted   EventType = "tool.call.started"
	ToolCallCompleted EventType = "tool.call.completed"
	ApprovalRequested EventType = "approval.requested"
	ApprovalResolved  EventType = "approval.resolved"
	AgentError        EventType = "agent.error"
)

// Event is the interface every bus payload implements.
type Event interface {
	Type() EventType
	SessionID() string
	RunID() string
	Timestamp() int64
}

// Base is embedded by concrete event types to satisfy the common Event
// fields. Grounded on runtime/agent/hooks.baseEvent.
type Base struct {
	Kind    EventType
	Session string
	Run     string
	At      int64
}

func (b Base) Type() EventType    { return b.Kind }
func (b Base) SessionID() string  { return b.Session }
func (b Base) RunID() string      { return b.Run }
func (b Base) Timestamp() int64   { return b.At }

type (
	// RunStartedEvent fires when a run begins executing a queued input.
	RunStartedEvent struct {
		Base
		InputMessageCount int
	}

	// RunCompletedEvent fires when a run reaches the Done state.
	RunCompletedEvent struct {
		Base
		Iterations int
	}

	// RunCancelledEvent fires when a run is cooperatively cancelled.
	// PartialOutput and MessagesSoFar preserve what the run produced up to
	// the cancellation point so subscribers don't lose it.
	RunCancelledEvent struct {
		Base
		Reason        string
		PartialOutput string
		MessagesSoFar []message.Message
	}

	// RunFailedEvent fires when a run terminates in the Failed state.
	RunFailedEvent struct {
		Base
		Err error
	}

	// MessageAppendedEvent fires whenever a message is appended to the
	// session's log (assistant, tool, or user message).
	MessageAppendedEvent struct {
		Base
		Role string
	}

	// TextDeltaEvent fires for each incremental assistant text chunk during
	// streaming.
	TextDeltaEvent struct {
		Base
		Text string
	}

	// ToolCallStartedEvent fires when the executor begins invoking a tool.
	ToolCallStartedEvent struct {
		Base
		ToolCallID string
		ToolName   string
	}

	// ToolCallCompletedEvent fires when a tool invocation finishes, whether
	// it succeeded, failed, or was exhausted after retries.
	ToolCallCompletedEvent struct {
		Base
		ToolCallID string
		ToolName   string
		DurationMs int64
		Attempt    int
		Failed     bool
	}

	// ApprovalRequestedEvent fires when a tool call requiring human
	// sign-off is queued for approval.
	ApprovalRequestedEvent struct {
		Base
		ToolCallID string
		ToolName   string
	}

	// ApprovalResolvedEvent fires when an approval request is approved,
	// rejected, or times out.
	ApprovalResolvedEvent struct {
		Base
		ToolCallID string
		Approved   bool
		TimedOut   bool
	}

	// AgentErrorEvent fires when a session's goroutine recovers from a
	// panic, surfacing it as an event instead of crashing the process.
	AgentErrorEvent struct {
		Base
		Err       error
		Recovered bool
	}
)
