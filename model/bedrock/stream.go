package bedrock

import (
	"encoding/json"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/agentcore/message"
	"goa.design/agentcore/stream"
)

// streamer adapts *bedrockruntime.ConverseStreamEventStream to model.Streamer.
// The AWS SDK exposes decoded union events rather than raw SSE bytes and the
// union member types carry interface fields that don't round trip through
// encoding/json, so Recv extracts the fields Translator needs into a small
// explicit envelope rather than marshaling the SDK types directly. This keeps
// the same Normalizer/FrameTranslator seam every provider adapter shares.
type streamer struct {
	inner *bedrockruntime.ConverseStreamEventStream
}

type frameTag string

const (
	tagToolStart frameTag = "tool_start"
	tagText      frameTag = "text"
	tagToolDelta frameTag = "tool_delta"
	tagUsage     frameTag = "usage"
	tagStop      frameTag = "stop"
)

type frame struct {
	Tag   frameTag `json:"tag"`
	Index int      `json:"index,omitempty"`
	ID    string   `json:"id,omitempty"`
	Name  string   `json:"name,omitempty"`
	Text  string   `json:"text,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`

	StopReason string `json:"stop_reason,omitempty"`
}

func (s *streamer) Recv() ([]byte, error) {
	ev, ok := <-s.inner.Events()
	if !ok {
		if err := s.inner.Err(); err != nil {
			return nil, err
		}
		return []byte("[DONE]"), io.EOF
	}
	return encodeFrame(ev)
}

func (s *streamer) Close() error { return s.inner.Close() }

// encodeFrame extracts the fields Translator needs from one Bedrock
// ConverseStreamOutput union member. Grounded on
// features/model/bedrock/stream.go's chunkProcessor.Handle type switch.
func encodeFrame(ev brtypes.ConverseStreamOutput) ([]byte, error) {
	switch v := ev.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx := contentIndex(v.Value.ContentBlockIndex)
		if start, ok := v.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			return json.Marshal(frame{
				Tag:   tagToolStart,
				Index: idx,
				ID:    aws.ToString(start.Value.ToolUseId),
				Name:  aws.ToString(start.Value.Name),
			})
		}
		return json.Marshal(frame{Tag: "noop"})
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := contentIndex(v.Value.ContentBlockIndex)
		switch delta := v.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			return json.Marshal(frame{Tag: tagText, Index: idx, Text: delta.Value})
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if delta.Value.Input == nil {
				return json.Marshal(frame{Tag: "noop"})
			}
			return json.Marshal(frame{Tag: tagToolDelta, Index: idx, Text: *delta.Value.Input})
		default:
			return json.Marshal(frame{Tag: "noop"})
		}
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return json.Marshal(frame{Tag: tagStop, StopReason: string(v.Value.StopReason)})
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if v.Value.Usage == nil {
			return json.Marshal(frame{Tag: "noop"})
		}
		return json.Marshal(frame{
			Tag:          tagUsage,
			InputTokens:  int(aws.ToInt32(v.Value.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(v.Value.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(v.Value.Usage.TotalTokens)),
		})
	default:
		return json.Marshal(frame{Tag: "noop"})
	}
}

func contentIndex(idx *int32) int {
	if idx == nil {
		return 0
	}
	return int(*idx)
}

func usageFromFrame(fr frame) message.Usage {
	return message.Usage{
		InputTokens:  fr.InputTokens,
		OutputTokens: fr.OutputTokens,
		TotalTokens:  fr.TotalTokens,
	}
}

// Translator decodes the envelope frames streamer.Recv produces into
// canonical stream.Events.
type Translator struct {
	// toolIDs keys by content block index, mirroring the same bookkeeping
	// model/anthropic/stream.go's Translator performs: Bedrock repeats the
	// tool use id only on the content block start event.
	toolIDs map[int]string
}

// NewTranslator constructs a stream.FrameTranslator for Bedrock Converse
// stream events.
func NewTranslator() *Translator {
	return &Translator{toolIDs: make(map[int]string)}
}

func (t *Translator) Translate(data []byte) ([]stream.Event, error) {
	if string(data) == "[DONE]" {
		return []stream.Event{stream.Finish("stop")}, nil
	}
	var fr frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, err
	}
	switch fr.Tag {
	case tagToolStart:
		t.toolIDs[fr.Index] = fr.ID
		return []stream.Event{stream.ToolCallStart(fr.ID, fr.Name)}, nil
	case tagText:
		if fr.Text == "" {
			return nil, nil
		}
		return []stream.Event{stream.TextDelta(fr.Text)}, nil
	case tagToolDelta:
		if fr.Text == "" {
			return nil, nil
		}
		return []stream.Event{stream.ToolCallArgsDelta(t.toolIDs[fr.Index], fr.Text)}, nil
	case tagUsage:
		return []stream.Event{stream.UsageEvent(usageFromFrame(fr))}, nil
	case tagStop:
		reason := fr.StopReason
		if reason == "" {
			reason = "stop"
		}
		return []stream.Event{stream.Finish(reason)}, nil
	default:
		return nil, nil
	}
}
