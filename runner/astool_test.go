package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/agent"
	"goa.design/agentcore/message"
	"goa.design/agentcore/runner"
	"goa.design/agentcore/tool"
	"goa.design/agentcore/tool/executor"
)

func TestAsToolRunsChildAndReturnsOutput(t *testing.T) {
	childClient := &scriptedClient{replies: []message.Message{message.Assistant("child says hi")}}
	childRunner := runner.New(newModels(t, childClient), newExecutor(t, nil))
	childCfg := agent.Config{Name: "child", Model: "stub:x"}

	handler := childRunner.AsTool(childCfg)

	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(tool.Descriptor{
		Name:    "ask_child",
		Handler: handler,
		Timeout: 1000000000,
	}))
	exec := executor.New(reg)

	res, err := exec.Execute(context.Background(), executor.Call{
		ToolCallID:    "call_1",
		Name:          "ask_child",
		ArgumentsJSON: []byte(`{"message":"hello"}`),
	}, &tool.RunContext{Cancel: agent.NewCancel()})
	require.NoError(t, err)
	assert.Contains(t, string(res.Message.ToolResult.Value), "child says hi")
}

func TestAsToolRejectsEmptyMessage(t *testing.T) {
	client := &scriptedClient{}
	childRunner := runner.New(newModels(t, client), newExecutor(t, nil))
	handler := childRunner.AsTool(agent.Config{Name: "child", Model: "stub:x"})

	outcome, err := handler(context.Background(), &tool.RunContext{Cancel: agent.NewCancel()}, []byte(`{"message":""}`))
	require.NoError(t, err)
	require.True(t, outcome.IsError())
	require.NotNil(t, outcome.Err().Hint)
	assert.Equal(t, tool.RetryReasonMissingFields, outcome.Err().Hint.Reason)
}

func TestAsToolPropagatesParentCancellation(t *testing.T) {
	client := &scriptedClient{replies: []message.Message{message.Assistant("done")}}
	childRunner := runner.New(newModels(t, client), newExecutor(t, nil))
	handler := childRunner.AsTool(agent.Config{Name: "child", Model: "stub:x"})

	parentCancel := agent.NewCancel()
	parentCancel.Fire("parent stopped")

	_, err := handler(context.Background(), &tool.RunContext{Cancel: parentCancel}, []byte(`{"message":"hi"}`))
	require.NoError(t, err)
}
