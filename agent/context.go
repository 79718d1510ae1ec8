package agent

import (
	"fmt"
	"sync"

	"goa.design/agentcore/message"
	"goa.design/agentcore/tool"
)

// Context is the mutable state of a single run: an append-only message log,
// a keyed deps map tools can read and mutate via ContextUpdate, and the
// run's cancellation token. Grounded on
// agents/runtime/runtime/context.go's agentContext/agentState pairing,
// collapsed into one type since this repo has no separate generated-planner
// state store.
type Context struct {
	mu     sync.RWMutex
	log    []message.Message
	deps   map[string]any
	cancel *Cancel
}

// NewContext constructs a Context seeded with an optional system prompt and
// initial deps (copied; nil is treated as empty).
func NewContext(systemPrompt string, deps map[string]any) *Context {
	d := make(map[string]any, len(deps))
	for k, v := range deps {
		d[k] = v
	}
	c := &Context{deps: d, cancel: NewCancel()}
	if systemPrompt != "" {
		c.log = append(c.log, message.System(systemPrompt))
	}
	return c
}

// Cancel returns the run's cancellation token.
func (c *Context) Cancel() *Cancel { return c.cancel }

// Log returns a snapshot of the message log in append order.
func (c *Context) Log() []message.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]message.Message, len(c.log))
	copy(out, c.log)
	return out
}

// Append adds msg to the log. Appending an Assistant message while a prior
// Assistant message still has unanswered tool calls is a programmer error
// and returns an error rather than silently corrupting the log.
func (c *Context) Append(msg message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Role == message.RoleAssistant {
		if idx := lastAssistantIndex(c.log); idx >= 0 {
			if pending := message.PendingToolCallIDs(c.log, idx); len(pending) > 0 {
				return fmt.Errorf("agent: cannot append assistant message: %d tool call(s) still pending: %v", len(pending), pending)
			}
		}
	}
	c.log = append(c.log, msg)
	return nil
}

func lastAssistantIndex(log []message.Message) int {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role == message.RoleAssistant {
			return i
		}
	}
	return -1
}

// PendingToolCalls returns the tool call IDs of the most recent Assistant
// message that have not yet been answered, or nil if the log's tail is
// fully resolved.
func (c *Context) PendingToolCalls() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := lastAssistantIndex(c.log)
	if idx < 0 {
		return nil
	}
	return message.PendingToolCallIDs(c.log, idx)
}

// Get implements tool.Deps, exposing the run's deps map read-only to handlers.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.deps[key]
	return v, ok
}

// ApplyUpdate applies a ContextUpdate returned by a tool handler to the
// run's deps, under the Context's own lock so it never races with
// concurrent Get calls from other in-flight tool calls.
func (c *Context) ApplyUpdate(update tool.ContextUpdate) error {
	if update.Empty() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return update.Apply(c.deps)
}

// DepsSnapshot returns a shallow copy of the current deps map, useful for
// logging/diagnostics without exposing the live map.
func (c *Context) DepsSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.deps))
	for k, v := range c.deps {
		out[k] = v
	}
	return out
}

var _ tool.Deps = (*Context)(nil)
