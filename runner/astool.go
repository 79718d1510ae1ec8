package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"goa.design/agentcore/agent"
	"goa.design/agentcore/tool"
)

// AsTool exposes cfg as a tool Handler so one agent can invoke another as a
// nested call. Grounded on agents/runtime/runtime/workflow.go's childTracker
// and ParentToolCallID plumbing — infrastructure that file's own comments
// mark as reserved and unused — implemented here as a direct run-a-child,
// return-its-output handler rather than that file's dynamically-discovered
// multi-child progress tracking, since a nested run here is a single
// Prepare→AwaitModel→Dispatch→Loop invocation, not a fan-out.
//
// The returned Handler decodes its arguments as {"message": string}, runs
// cfg to completion, and returns the child's final output as the tool
// result. The parent's deps are snapshotted into the child's starting deps;
// anything the child's own tool calls mutate stays scoped to the child run
// — only its final text crosses back, the same boundary a model sees for
// any other tool result. Parent cancellation propagates to the child.
func (r *Runner) AsTool(cfg agent.Config) tool.Handler {
	return func(ctx context.Context, rc *tool.RunContext, argumentsJSON []byte) (tool.Outcome, error) {
		var in struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(argumentsJSON, &in); err != nil {
			return tool.Outcome{}, fmt.Errorf("agent-as-tool %q: decode arguments: %w", cfg.Name, err)
		}
		if strings.TrimSpace(in.Message) == "" {
			return tool.Failure(tool.NewError("message is required").WithHint(&tool.RetryHint{
				Reason:             tool.RetryReasonMissingFields,
				MissingFields:      []string{"message"},
				ClarifyingQuestion: fmt.Sprintf("What message should be sent to the %q agent?", cfg.Name),
			})), nil
		}

		var deps map[string]any
		if rc != nil {
			if snap, ok := rc.Deps.(interface{ DepsSnapshot() map[string]any }); ok {
				deps = snap.DepsSnapshot()
			}
		}

		childCancel := agent.NewCancel()
		defer childCancel.Fire("agent-as-tool run finished")
		if rc != nil && rc.Cancel != nil {
			go propagateCancel(rc.Cancel, childCancel)
		}

		childRunID := strings.ReplaceAll(cfg.Name, ".", "-") + "-" + uuid.NewString()
		res, err := r.Run(ctx, cfg, Input{
			SessionID: "agent-as-tool/" + cfg.Name,
			RunID:     childRunID,
			Text:      in.Message,
			Deps:      deps,
			Cancel:    childCancel,
		})
		if err != nil {
			return tool.Failure(tool.NewError(err.Error())), nil
		}
		return tool.Value(res.Output), nil
	}
}

// propagateCancel fires child the moment parent does, and stops watching
// once child is resolved on its own (the run it guards completed first).
func propagateCancel(parent tool.CancelToken, child *agent.Cancel) {
	select {
	case <-parent.Done():
		child.Fire(parent.Reason())
	case <-child.Done():
	}
}
