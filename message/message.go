// Package message defines the canonical chat turn representation shared by
// the provider adapters, the tool executor, and the agent runner. A Message
// is one of four role variants (system, user, assistant, tool); which fields
// are populated depends on Role, mirroring runtime/agents/runtime's
// planner.AgentMessage rather than a closed sum type, since idiomatic Go has
// no algebraic sum types.
package message

import "encoding/json"

// Role identifies which of the four message variants a Message represents.
type Role string

const (
	// RoleSystem carries agent instructions. Content holds the instruction text.
	RoleSystem Role = "system"
	// RoleUser carries end-user input. Content holds the text; Parts may hold
	// additional structured input segments (images, files) when non-empty.
	RoleUser Role = "user"
	// RoleAssistant carries a model response. Content holds generated text
	// (empty if the turn produced only tool calls); ToolCalls holds any
	// requested tool invocations.
	RoleAssistant Role = "assistant"
	// RoleTool carries the result of a single tool invocation. ToolResult
	// identifies which call it answers.
	RoleTool Role = "tool"
)

type (
	// Message is one turn in a conversation. Invariant: every ToolCall that
	// appears in an Assistant message must be paired, in a later message,
	// with exactly one ToolResult bearing the same ID before the next
	// Assistant message is appended.
	Message struct {
		Role Role `json:"role"`
		// Content is the textual payload. Empty for an Assistant message that
		// only requests tool calls.
		Content string `json:"content,omitempty"`
		// Parts optionally carries structured user input segments (e.g. images).
		// Nil for plain-text messages.
		Parts []Part `json:"parts,omitempty"`
		// ToolCalls lists tool invocations requested by an Assistant message, in
		// the order the model listed them. Nil for non-assistant roles.
		ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		// ToolResult is populated for RoleTool messages.
		ToolResult *ToolResult `json:"tool_result,omitempty"`
	}

	// Part is one segment of a multi-part user message (text or binary attachment).
	Part struct {
		// Kind identifies the part type, e.g. "text", "image".
		Kind string `json:"kind"`
		// Text holds the text payload when Kind == "text".
		Text string `json:"text,omitempty"`
		// MimeType and Data hold a binary attachment's encoding when Kind != "text".
		MimeType string          `json:"mime_type,omitempty"`
		Data     json.RawMessage `json:"data,omitempty"`
	}

	// ToolCall is a single model-requested tool invocation. IDs are assigned by
	// the provider; the runner uses them as given and does not synthesize one
	// when it is missing. IDs must be unique within a Context.
	ToolCall struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ArgumentsJSON string `json:"arguments_json"`
	}

	// ToolResult is the structured outcome of one tool invocation, delivered to
	// the model on the next iteration.
	ToolResult struct {
		CallID string `json:"call_id"`
		Name   string `json:"name"`
		// Value is the JSON-encoded result payload: either a success payload or
		// an error result shape, e.g. {"status":"error","message":...}.
		Value json.RawMessage `json:"value"`
	}
)

// System constructs a RoleSystem message.
func System(text string) Message { return Message{Role: RoleSystem, Content: text} }

// User constructs a RoleUser message with plain text content.
func User(text string) Message { return Message{Role: RoleUser, Content: text} }

// UserParts constructs a RoleUser message from structured parts.
func UserParts(parts ...Part) Message { return Message{Role: RoleUser, Parts: parts} }

// Assistant constructs a RoleAssistant message, optionally carrying tool calls.
func Assistant(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// Tool constructs a RoleTool message answering the given call ID.
func Tool(callID, name string, value json.RawMessage) Message {
	return Message{Role: RoleTool, ToolResult: &ToolResult{CallID: callID, Name: name, Value: value}}
}

// HasToolCalls reports whether the message is an assistant turn requesting tools.
func (m Message) HasToolCalls() bool { return m.Role == RoleAssistant && len(m.ToolCalls) > 0 }

// PendingToolCallIDs returns the ordered set of tool_call ids in an
// assistant message that have not yet been answered by a ToolResult
// message appearing later in log. This implements the lookup half of the
// tool-call pairing invariant so callers (Context.Append, tests) can assert
// it holds.
func PendingToolCallIDs(log []Message, assistantIdx int) []string {
	if assistantIdx < 0 || assistantIdx >= len(log) {
		return nil
	}
	asst := log[assistantIdx]
	if asst.Role != RoleAssistant {
		return nil
	}
	answered := make(map[string]bool, len(asst.ToolCalls))
	for i := assistantIdx + 1; i < len(log); i++ {
		m := log[i]
		if m.Role == RoleAssistant {
			break
		}
		if m.Role == RoleTool && m.ToolResult != nil {
			answered[m.ToolResult.CallID] = true
		}
	}
	var pending []string
	for _, tc := range asst.ToolCalls {
		if !answered[tc.ID] {
			pending = append(pending, tc.ID)
		}
	}
	return pending
}
