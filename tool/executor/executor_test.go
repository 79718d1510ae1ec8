package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/agentcore/tool"
	"goa.design/agentcore/tool/executor"
)

type cancelToken struct {
	done   chan struct{}
	reason string
}

func newCancelToken() *cancelToken { return &cancelToken{done: make(chan struct{})} }
func (c *cancelToken) Done() <-chan struct{} { return c.done }
func (c *cancelToken) Reason() string        { return c.reason }

func newRunContext() *tool.RunContext {
	return &tool.RunContext{Cancel: newCancelToken()}
}

func register(t *testing.T, handler tool.Handler, opts ...func(*tool.Descriptor)) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	d := tool.Descriptor{
		Name:    "search",
		Handler: handler,
		Timeout: time.Second,
	}
	for _, o := range opts {
		o(&d)
	}
	require.NoError(t, reg.Register(d))
	return reg
}

func TestExecuteSuccessReturnsToolMessage(t *testing.T) {
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		return tool.Value(map[string]string{"result": "ok"}), nil
	})
	ex := executor.New(reg)

	res, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.NoError(t, err)
	require.Equal(t, "call_1", res.Message.ToolResult.CallID)
	require.Equal(t, 1, res.Attempts)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(res.Message.ToolResult.Value, &payload))
	require.Equal(t, "ok", payload["result"])
}

func TestExecuteUnknownToolReturnsError(t *testing.T) {
	reg := tool.NewRegistry()
	ex := executor.New(reg)

	_, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "missing", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.Error(t, err)
}

func TestExecuteRetriesTransientErrorsThenSucceeds(t *testing.T) {
	attempts := 0
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		attempts++
		if attempts < 2 {
			return tool.Outcome{}, errors.New("transient")
		}
		return tool.Value("done"), nil
	}, func(d *tool.Descriptor) { d.Retries = 2 })
	ex := executor.New(reg)

	res, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Equal(t, 2, res.Attempts)

	var payload string
	require.NoError(t, json.Unmarshal(res.Message.ToolResult.Value, &payload))
	require.Equal(t, "done", payload)
}

func TestExecuteExhaustsRetriesAndReturnsErrorResult(t *testing.T) {
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		return tool.Outcome{}, errors.New("boom")
	}, func(d *tool.Descriptor) { d.Retries = 1 })
	ex := executor.New(reg)

	res, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(res.Message.ToolResult.Value, &payload))
	require.Equal(t, "error", payload["status"])
}

func TestExecuteTimesOutPerAttempt(t *testing.T) {
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		<-ctx.Done()
		return tool.Outcome{}, ctx.Err()
	}, func(d *tool.Descriptor) { d.Timeout = 10 * time.Millisecond })
	ex := executor.New(reg)

	res, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(res.Message.ToolResult.Value, &payload))
	require.Equal(t, "error", payload["status"])
}

func TestExecuteValidatesArguments(t *testing.T) {
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		return tool.Value("should not run"), nil
	}, func(d *tool.Descriptor) {
		d.ValidateArgs = true
		d.ParametersSchema = []byte(`{"type":"object","required":["q"],"properties":{"q":{"type":"string"}}}`)
	})
	ex := executor.New(reg)

	res, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(res.Message.ToolResult.Value, &payload))
	require.Equal(t, "error", payload["status"])
}

func TestExecuteHandlerFailureIsNotRetried(t *testing.T) {
	attempts := 0
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		attempts++
		return tool.Failure(tool.NewError("domain failure")), nil
	}, func(d *tool.Descriptor) { d.Retries = 3 })
	ex := executor.New(reg)

	_, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

type scriptedApprover struct {
	decision executor.ApprovalDecision
	called   bool
}

func (a *scriptedApprover) Await(ctx context.Context, sessionID, toolCallID, toolName string, args []byte) (executor.ApprovalDecision, error) {
	a.called = true
	return a.decision, nil
}

func TestExecuteRejectedApprovalSkipsHandler(t *testing.T) {
	called := false
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		called = true
		return tool.Value("ran"), nil
	}, func(d *tool.Descriptor) { d.RequiresApproval = true })
	approver := &scriptedApprover{decision: executor.ApprovalDecision{Kind: executor.ApprovalReject, Reason: "not today"}}
	ex := executor.New(reg, executor.WithApprover(approver))

	res, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.NoError(t, err)
	require.False(t, called)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(res.Message.ToolResult.Value, &payload))
	require.Equal(t, "rejected", payload["status"])
	require.Equal(t, "not today", payload["reason"])
}

func TestExecuteApprovedCallsHandler(t *testing.T) {
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		return tool.Value("ran"), nil
	}, func(d *tool.Descriptor) { d.RequiresApproval = true })
	approver := &scriptedApprover{decision: executor.ApprovalDecision{Kind: executor.ApprovalApprove}}
	ex := executor.New(reg, executor.WithApprover(approver))

	_, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.NoError(t, err)
	require.True(t, approver.called)
}

func TestExecuteEditedApprovalSubstitutesArguments(t *testing.T) {
	var receivedArgs string
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		receivedArgs = string(args)
		return tool.Value("ran"), nil
	}, func(d *tool.Descriptor) {
		d.RequiresApproval = true
		d.ValidateArgs = true
		d.ParametersSchema = []byte(`{"type":"object","required":["q"],"properties":{"q":{"type":"string"}}}`)
	})
	approver := &scriptedApprover{decision: executor.ApprovalDecision{
		Kind:          executor.ApprovalEdit,
		ArgumentsJSON: []byte(`{"q":"edited"}`),
	}}
	ex := executor.New(reg, executor.WithApprover(approver))

	res, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{"q":"original"}`),
	}, newRunContext())
	require.NoError(t, err)
	require.JSONEq(t, `{"q":"edited"}`, receivedArgs)

	var payload string
	require.NoError(t, json.Unmarshal(res.Message.ToolResult.Value, &payload))
	require.Equal(t, "ran", payload)
}

func TestExecuteEditedApprovalRevalidatesArguments(t *testing.T) {
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		return tool.Value("should not run"), nil
	}, func(d *tool.Descriptor) {
		d.RequiresApproval = true
		d.ValidateArgs = true
		d.ParametersSchema = []byte(`{"type":"object","required":["q"],"properties":{"q":{"type":"string"}}}`)
	})
	approver := &scriptedApprover{decision: executor.ApprovalDecision{
		Kind:          executor.ApprovalEdit,
		ArgumentsJSON: []byte(`{}`),
	}}
	ex := executor.New(reg, executor.WithApprover(approver))

	res, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{"q":"original"}`),
	}, newRunContext())
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(res.Message.ToolResult.Value, &payload))
	require.Equal(t, "error", payload["status"])
}

func TestExecuteMissingApproverDefaultsToReject(t *testing.T) {
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		return tool.Value("ran"), nil
	}, func(d *tool.Descriptor) { d.RequiresApproval = true })
	ex := executor.New(reg)

	res, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(res.Message.ToolResult.Value, &payload))
	require.Equal(t, "rejected", payload["status"])
}

func TestExecuteContextUpdatePropagated(t *testing.T) {
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		return tool.ValueWithUpdate("ok", tool.ContextUpdate{}.Set("last_query", "x")), nil
	})
	ex := executor.New(reg)

	res, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.NoError(t, err)
	require.False(t, res.Update.Empty())
}

func TestExecuteValidationFailureAttachesRetryHint(t *testing.T) {
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		return tool.Value("should not run"), nil
	}, func(d *tool.Descriptor) {
		d.ValidateArgs = true
		d.ParametersSchema = []byte(`{"type":"object","required":["q"],"properties":{"q":{"type":"string"}}}`)
	})
	ex := executor.New(reg)

	res, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.NoError(t, err)

	var payload struct {
		Status    string `json:"status"`
		RetryHint struct {
			Reason        string   `json:"Reason"`
			MissingFields []string `json:"MissingFields"`
		} `json:"retry_hint"`
	}
	require.NoError(t, json.Unmarshal(res.Message.ToolResult.Value, &payload))
	require.Equal(t, "error", payload.Status)
	require.Equal(t, string(tool.RetryReasonMissingFields), payload.RetryHint.Reason)
	require.Equal(t, []string{"q"}, payload.RetryHint.MissingFields)
}

func TestExecuteHandlerFailureWithHintPropagates(t *testing.T) {
	hint := &tool.RetryHint{
		Reason:             tool.RetryReasonInvalidValue,
		MissingFields:      []string{"currency"},
		ClarifyingQuestion: "Which currency code should be used?",
	}
	reg := register(t, func(ctx context.Context, rc *tool.RunContext, args []byte) (tool.Outcome, error) {
		return tool.Failure(tool.NewError("unsupported currency").WithHint(hint)), nil
	})
	ex := executor.New(reg)

	res, err := ex.Execute(context.Background(), executor.Call{
		ToolCallID: "call_1", Name: "search", ArgumentsJSON: []byte(`{}`),
	}, newRunContext())
	require.NoError(t, err)

	var payload struct {
		RetryHint struct {
			ClarifyingQuestion string `json:"ClarifyingQuestion"`
		} `json:"retry_hint"`
	}
	require.NoError(t, json.Unmarshal(res.Message.ToolResult.Value, &payload))
	require.Equal(t, "Which currency code should be used?", payload.RetryHint.ClarifyingQuestion)
}
