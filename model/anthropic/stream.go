package anthropic

import (
	"encoding/json"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/agentcore/message"
	"goa.design/agentcore/stream"
)

// streamer adapts the Anthropic SSE stream to model.Streamer by re-encoding
// each decoded event as JSON for Translator to decode, mirroring the seam
// model/openai/stream.go uses.
type streamer struct {
	inner *ssestream.Stream[sdk.MessageStreamEventUnion]
}

func (s *streamer) Recv() ([]byte, error) {
	if !s.inner.Next() {
		if err := s.inner.Err(); err != nil {
			return nil, err
		}
		return []byte("[DONE]"), io.EOF
	}
	return json.Marshal(s.inner.Current())
}

func (s *streamer) Close() error { return s.inner.Close() }

// Translator decodes JSON-encoded Anthropic MessageStreamEventUnion values
// (as produced by streamer.Recv) into canonical stream.Events. Grounded on
// features/model/anthropic/stream.go's anthropicChunkProcessor, stripped of
// its own tool-call-argument concatenation since stream.Normalizer now owns
// that.
type Translator struct {
	// toolIDs keys by content block index, since Anthropic repeats the tool
	// use id only on ContentBlockStartEvent, not on subsequent deltas.
	toolIDs map[int]string
}

// NewTranslator constructs a stream.FrameTranslator for Anthropic Messages
// stream events.
func NewTranslator() *Translator {
	return &Translator{toolIDs: make(map[int]string)}
}

func (t *Translator) Translate(data []byte) ([]stream.Event, error) {
	var evt sdk.MessageStreamEventUnion
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	switch ev := evt.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			t.toolIDs[int(ev.Index)] = toolUse.ID
			return []stream.Event{stream.ToolCallStart(toolUse.ID, toolUse.Name)}, nil
		}
		return nil, nil
	case sdk.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil, nil
			}
			return []stream.Event{stream.TextDelta(delta.Text)}, nil
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil, nil
			}
			return []stream.Event{stream.ToolCallArgsDelta(t.toolIDs[int(ev.Index)], delta.PartialJSON)}, nil
		default:
			return nil, nil
		}
	case sdk.MessageDeltaEvent:
		usage := message.Usage{
			InputTokens:  int(ev.Usage.InputTokens),
			OutputTokens: int(ev.Usage.OutputTokens),
			TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
		}
		return []stream.Event{stream.UsageEvent(usage)}, nil
	case sdk.MessageStopEvent:
		return []stream.Event{stream.Finish("stop")}, nil
	default:
		return nil, nil
	}
}
