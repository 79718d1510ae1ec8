package stream

import (
	"context"
	"io"
	"strings"

	"goa.design/agentcore/telemetry"
)

// FrameTranslator decodes one provider-specific SSE data payload into zero
// or more canonical Events. Translators emit KindToolCallStart and
// KindToolCallArgsDelta for tool-call fragments but never
// KindToolCallComplete. The Normalizer reassembles and emits that itself:
// it exposes the fully reassembled tool-call arguments at
// ToolCallComplete, which is the one piece of state every provider
// streamer previously duplicated.
//
// Translate returns an error only for a malformed frame; the Normalizer logs
// and skips it rather than aborting the stream.
type FrameTranslator interface {
	Translate(data []byte) ([]Event, error)
}

// Normalizer turns a raw SSE byte stream into canonical Events,
// concatenating tool-call argument fragments by id and enforcing the
// buffer cap. Grounded on the control flow of
// features/model/anthropic/stream.go's anthropicChunkProcessor, generalized
// behind FrameTranslator so it is shared by every provider instead of
// hand-rolled per package.
type Normalizer struct {
	translator FrameTranslator
	logger     telemetry.Logger

	activeID   string
	activeName string
	argsBuf    strings.Builder
}

// NewNormalizer constructs a Normalizer that decodes frames with translator.
// A nil logger uses telemetry.NoopLogger.
func NewNormalizer(translator FrameTranslator, logger telemetry.Logger) *Normalizer {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Normalizer{translator: translator, logger: logger}
}

// Run reads r as an SSE stream and sends canonical Events to out until the
// stream ends, the buffer cap is exceeded, ctx is cancelled, or a `[DONE]`
// frame or translator-reported terminal event is reached. Run closes out
// before returning and never panics on malformed input.
func (n *Normalizer) Run(ctx context.Context, r io.Reader, out chan<- Event) {
	defer close(out)
	scanner := newSSEScanner(r)
	for {
		select {
		case <-ctx.Done():
			n.flushActive(ctx, out)
			send(ctx, out, ErrorEvent(ctx.Err()))
			return
		default:
		}
		fr, ok := scanner.next()
		if !ok {
			if scanner.Overflow() {
				n.flushActive(ctx, out)
				send(ctx, out, ErrorEvent(ErrBufferOverflow))
				return
			}
			n.flushActive(ctx, out)
			send(ctx, out, Finish("stop"))
			return
		}
		if string(fr.data) == "[DONE]" {
			n.flushActive(ctx, out)
			send(ctx, out, Finish("stop"))
			return
		}
		events, err := n.translator.Translate(fr.data)
		if err != nil {
			n.logger.Warn(ctx, "stream: skipping malformed frame", "error", err)
			continue
		}
		for _, ev := range events {
			if n.handle(ctx, ev, out) {
				return
			}
		}
	}
}

// handle processes one translator-emitted event, performing tool-call
// reassembly bookkeeping and forwarding events downstream. Returns true if
// the stream should terminate (a Finish or Error event was forwarded).
func (n *Normalizer) handle(ctx context.Context, ev Event, out chan<- Event) bool {
	switch ev.Kind {
	case KindToolCallStart:
		if n.activeID != "" && n.activeID != ev.ToolCallID {
			n.flushActive(ctx, out)
		}
		n.activeID = ev.ToolCallID
		n.activeName = ev.ToolName
		n.argsBuf.Reset()
		send(ctx, out, ev)
		return false
	case KindToolCallArgsDelta:
		if n.activeID == "" {
			n.activeID = ev.ToolCallID
			n.argsBuf.Reset()
		} else if n.activeID != ev.ToolCallID {
			n.flushActive(ctx, out)
			n.activeID = ev.ToolCallID
			n.argsBuf.Reset()
		}
		n.argsBuf.WriteString(ev.ArgsDelta)
		send(ctx, out, ev)
		return false
	case KindFinish:
		n.flushActive(ctx, out)
		send(ctx, out, ev)
		return true
	case KindError:
		n.flushActive(ctx, out)
		send(ctx, out, ev)
		return true
	default:
		send(ctx, out, ev)
		return false
	}
}

// flushActive emits ToolCallComplete for the in-progress tool call, if any,
// with its argument fragments concatenated in arrival order and trimmed of
// surrounding whitespace, or "{}" when no fragments arrived. The result is
// not parsed or re-encoded, so it is valid JSON only when the provider's
// fragments concatenate to valid JSON.
func (n *Normalizer) flushActive(ctx context.Context, out chan<- Event) {
	if n.activeID == "" {
		return
	}
	args := strings.TrimSpace(n.argsBuf.String())
	if args == "" {
		args = "{}"
	}
	send(ctx, out, ToolCallComplete(n.activeID, n.activeName, args))
	n.activeID = ""
	n.activeName = ""
	n.argsBuf.Reset()
}

func send(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
