package openai

import (
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"goa.design/agentcore/stream"
)

// streamer adapts *openai.ChatCompletionStream to model.Streamer. go-openai
// decodes SSE frames internally rather than exposing raw bytes, so Recv
// re-encodes each decoded chunk as JSON; Translator below decodes it back
// into canonical events. This keeps the same Normalizer/FrameTranslator seam
// every provider adapter shares (see stream.Normalizer).
type streamer struct {
	inner *openai.ChatCompletionStream
}

func (s *streamer) Recv() ([]byte, error) {
	chunk, err := s.inner.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("[DONE]"), io.EOF
		}
		return nil, err
	}
	return json.Marshal(chunk)
}

func (s *streamer) Close() error { s.inner.Close(); return nil }

// Translator decodes a JSON-encoded openai.ChatCompletionStreamResponse (as
// produced by streamer.Recv) into canonical stream.Events.
type Translator struct {
	// toolIDs keys by the OpenAI tool_calls array index, since OpenAI
	// identifies tool call fragments by array index rather than repeating
	// the call id on every delta.
	toolIDs map[int]string
}

// NewTranslator constructs a stream.FrameTranslator for OpenAI chat
// completion stream chunks.
func NewTranslator() *Translator {
	return &Translator{toolIDs: make(map[int]string)}
}

func (t *Translator) Translate(data []byte) ([]stream.Event, error) {
	if string(data) == "[DONE]" {
		return []stream.Event{stream.Finish("stop")}, nil
	}
	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, err
	}
	if len(chunk.Choices) == 0 {
		return nil, nil
	}
	choice := chunk.Choices[0]
	var events []stream.Event
	if choice.Delta.Content != "" {
		events = append(events, stream.TextDelta(choice.Delta.Content))
	}
	for _, tc := range choice.Delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		if tc.ID != "" {
			t.toolIDs[idx] = tc.ID
			events = append(events, stream.ToolCallStart(tc.ID, tc.Function.Name))
		}
		if tc.Function.Arguments != "" {
			events = append(events, stream.ToolCallArgsDelta(t.toolIDs[idx], tc.Function.Arguments))
		}
	}
	if choice.FinishReason != "" {
		events = append(events, stream.Finish(string(choice.FinishReason)))
	}
	return events, nil
}
