package bedrock_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/agentcore/model/bedrock"
	"goa.design/agentcore/stream"
)

func TestTranslatorToolCallLifecycle(t *testing.T) {
	tr := bedrock.NewTranslator()

	start, err := tr.Translate([]byte(`{"tag":"tool_start","index":0,"id":"call_1","name":"search"}`))
	require.NoError(t, err)
	require.Len(t, start, 1)
	require.Equal(t, stream.KindToolCallStart, start[0].Kind)
	require.Equal(t, "call_1", start[0].ToolCallID)

	delta, err := tr.Translate([]byte(`{"tag":"tool_delta","index":0,"text":"{\"q\":1}"}`))
	require.NoError(t, err)
	require.Len(t, delta, 1)
	require.Equal(t, stream.KindToolCallArgsDelta, delta[0].Kind)
	require.Equal(t, "call_1", delta[0].ToolCallID)
	require.Equal(t, `{"q":1}`, delta[0].ArgsDelta)
}

func TestTranslatorTextDelta(t *testing.T) {
	tr := bedrock.NewTranslator()
	events, err := tr.Translate([]byte(`{"tag":"text","text":"hi"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, stream.KindTextDelta, events[0].Kind)
	require.Equal(t, "hi", events[0].Text)
}

func TestTranslatorDone(t *testing.T) {
	tr := bedrock.NewTranslator()
	events, err := tr.Translate([]byte("[DONE]"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, stream.KindFinish, events[0].Kind)
}

func TestTranslatorStopEvent(t *testing.T) {
	tr := bedrock.NewTranslator()
	events, err := tr.Translate([]byte(`{"tag":"stop","stop_reason":"tool_use"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, stream.KindFinish, events[0].Kind)
	require.Equal(t, "tool_use", events[0].FinishReason)
}
