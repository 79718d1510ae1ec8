package stream_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/agentcore/stream"
)

// fakeTranslator decodes {"text":"..."} into TextDelta and
// {"tool_start":{"id":...,"name":...}} / {"tool_delta":{"id":...,"delta":...}}
// into the corresponding tool events, mirroring a minimal provider payload.
type fakeTranslator struct{}

func (fakeTranslator) Translate(data []byte) ([]stream.Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if t, ok := raw["text"]; ok {
		var text string
		json.Unmarshal(t, &text)
		return []stream.Event{stream.TextDelta(text)}, nil
	}
	if ts, ok := raw["tool_start"]; ok {
		var s struct{ ID, Name string }
		json.Unmarshal(ts, &s)
		return []stream.Event{stream.ToolCallStart(s.ID, s.Name)}, nil
	}
	if td, ok := raw["tool_delta"]; ok {
		var d struct{ ID, Delta string }
		json.Unmarshal(td, &d)
		return []stream.Event{stream.ToolCallArgsDelta(d.ID, d.Delta)}, nil
	}
	return nil, nil
}

func sseBody(frames ...string) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString("data: ")
		b.WriteString(f)
		b.WriteString("\n\n")
	}
	return b.String()
}

func collect(t *testing.T, body string) []stream.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n := stream.NewNormalizer(fakeTranslator{}, nil)
	out := make(chan stream.Event, 64)
	go n.Run(ctx, strings.NewReader(body), out)
	var events []stream.Event
	for ev := range out {
		events = append(events, ev)
	}
	return events
}

func TestNormalizerTextDelta(t *testing.T) {
	events := collect(t, sseBody(`{"text":"hello"}`, "[DONE]"))
	require.Len(t, events, 2)
	require.Equal(t, stream.KindTextDelta, events[0].Kind)
	require.Equal(t, "hello", events[0].Text)
	require.Equal(t, stream.KindFinish, events[1].Kind)
}

func TestNormalizerConcatenatesToolCallArgs(t *testing.T) {
	events := collect(t, sseBody(
		`{"tool_start":{"ID":"call_1","Name":"search"}}`,
		`{"tool_delta":{"ID":"call_1","Delta":"{\"q\":"}}`,
		`{"tool_delta":{"ID":"call_1","Delta":"\"cats\"}"}}`,
		"[DONE]",
	))
	require.Len(t, events, 5)
	require.Equal(t, stream.KindToolCallStart, events[0].Kind)
	require.Equal(t, stream.KindToolCallArgsDelta, events[1].Kind)
	require.Equal(t, stream.KindToolCallArgsDelta, events[2].Kind)
	require.Equal(t, stream.KindToolCallComplete, events[3].Kind)
	require.Equal(t, "call_1", events[3].ToolCallID)
	require.JSONEq(t, `{"q":"cats"}`, events[3].ArgumentsRaw)
	require.Equal(t, stream.KindFinish, events[4].Kind)
}

func TestNormalizerFlushesOnToolIDTransition(t *testing.T) {
	events := collect(t, sseBody(
		`{"tool_start":{"ID":"call_1","Name":"a"}}`,
		`{"tool_delta":{"ID":"call_1","Delta":"{}"}}`,
		`{"tool_start":{"ID":"call_2","Name":"b"}}`,
		`{"tool_delta":{"ID":"call_2","Delta":"{}"}}`,
		"[DONE]",
	))
	var completes []stream.Event
	for _, ev := range events {
		if ev.Kind == stream.KindToolCallComplete {
			completes = append(completes, ev)
		}
	}
	require.Len(t, completes, 2)
	require.Equal(t, "call_1", completes[0].ToolCallID)
	require.Equal(t, "call_2", completes[1].ToolCallID)
}

func TestNormalizerSkipsMalformedFrame(t *testing.T) {
	events := collect(t, sseBody(`not json`, `{"text":"ok"}`, "[DONE]"))
	require.Len(t, events, 2)
	require.Equal(t, stream.KindTextDelta, events[0].Kind)
	require.Equal(t, "ok", events[0].Text)
}
