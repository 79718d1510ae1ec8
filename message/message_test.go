package message_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/message"
)

func TestPendingToolCallIDs(t *testing.T) {
	log := []message.Message{
		message.System("be helpful"),
		message.User("add 2 and 3"),
		message.Assistant("", message.ToolCall{ID: "call_1", Name: "add"}, message.ToolCall{ID: "call_2", Name: "sub"}),
		message.Tool("call_1", "add", nil),
	}

	pending := message.PendingToolCallIDs(log, 2)
	assert.Equal(t, []string{"call_2"}, pending)
}

func TestPendingToolCallIDsAllAnswered(t *testing.T) {
	log := []message.Message{
		message.Assistant("", message.ToolCall{ID: "call_1", Name: "add"}),
		message.Tool("call_1", "add", nil),
	}
	require.Empty(t, message.PendingToolCallIDs(log, 0))
}

func TestPendingToolCallIDsNotAssistant(t *testing.T) {
	log := []message.Message{message.User("hi")}
	assert.Nil(t, message.PendingToolCallIDs(log, 0))
}

func TestUsageAdd(t *testing.T) {
	var u message.Usage
	u.Add(message.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, Requests: 1})
	u.Add(message.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5, ToolCalls: 2})

	assert.Equal(t, 13, u.InputTokens)
	assert.Equal(t, 7, u.OutputTokens)
	assert.Equal(t, 20, u.TotalTokens)
	assert.Equal(t, 2, u.ToolCalls)
	assert.Equal(t, 1, u.Requests)
}

func TestUsageAddTokensRecomputesTotal(t *testing.T) {
	var u message.Usage
	u.AddTokens(10, 4)
	u.AddTokens(1, 1)
	assert.Equal(t, u.InputTokens+u.OutputTokens, u.TotalTokens)
}
