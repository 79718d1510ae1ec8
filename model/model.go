// Package model defines the provider-agnostic contract the runner uses to
// invoke LLM backends: one-shot completion and streaming, a normalized
// request/response shape, and a closed provider error taxonomy. Grounded on
// runtime/agents/model/model.go's Client/Request/Response/Message shape,
// extended with the additional Settings fields and ProviderError kinds a
// provider-agnostic runner needs (TopP, StopSequences, ToolChoice,
// ResponseFormat).
package model

import (
	"context"
	"fmt"
	"strings"

	"goa.design/agentcore/message"
)

// Client is the contract the runner uses to invoke a model provider.
// Implementations wrap a provider SDK and translate Request/Response to that
// provider's wire format. Implementations must be safe for concurrent use.
type Client interface {
	// Complete sends req and returns a single complete Assistant message
	// (possibly containing tool calls) plus usage, or a *ProviderError.
	Complete(ctx context.Context, req Request) (message.Message, message.Usage, error)
	// Stream sends req and returns a Streamer yielding canonical chunks. The
	// returned Streamer must be closed by the caller.
	Stream(ctx context.Context, req Request) (Streamer, error)
}

// Streamer delivers incremental model output until Recv returns io.EOF.
type Streamer interface {
	// Recv returns the next raw provider frame. Callers normalize frames via
	// a stream.Normalizer bound to the provider's FrameTranslator.
	Recv() ([]byte, error)
	Close() error
}

// Request is the normalized set of parameters sent to a model provider.
type Request struct {
	// Model is the provider-specific model name (the part after the colon
	// in a "provider:model_name" identifier — see ParseModelID).
	Model    string
	Messages []message.Message
	Settings Settings
}

// ToolChoiceMode constrains how a model may invoke tools.
type ToolChoiceMode int

const (
	// ToolChoiceAuto lets the model decide whether to call a tool.
	ToolChoiceAuto ToolChoiceMode = iota
	// ToolChoiceNone forbids tool calls entirely.
	ToolChoiceNone
	// ToolChoiceRequired forces the model to call at least one tool.
	ToolChoiceRequired
	// ToolChoiceNamed forces the model to call the tool named in ToolChoice.Name.
	ToolChoiceNamed
)

// ToolChoice selects the tool-invocation policy for a request.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string // populated only when Mode == ToolChoiceNamed
}

// Settings carries the model parameters the core recognizes as
// provider-agnostic; individual providers may honor additional fields via
// Extra.
type Settings struct {
	Temperature    float32
	TopP           float32
	MaxTokens      int
	StopSequences  []string
	Tools          []ToolDefinition
	ToolChoice     ToolChoice
	ResponseFormat string // "", "text", or "json_object"
	Stream         bool
	// Extra carries provider-specific knobs the core has no opinion about.
	// None of the provider adapters in this module reads it.
	Extra map[string]any
}

// ToolDefinition describes a tool schema rendered into a provider's native
// function-calling format.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema []byte // raw JSON Schema, e.g. a tool.Descriptor's ParametersSchema
}

// Kind is a closed taxonomy of provider failures.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindAuth        Kind = "auth"
	KindBadRequest  Kind = "bad_request"
	KindServer      Kind = "server"
	KindTransport   Kind = "transport"
	KindTimeout     Kind = "timeout"
	KindParse       Kind = "parse"
)

// ProviderError is the closed error type every Client implementation must
// return for provider-level failures, so the runner can apply a uniform
// retry policy: rate_limited/server/transport/timeout are retried;
// auth/bad_request/parse are not.
type ProviderError struct {
	Kind       Kind
	Detail     string
	Status     int    // populated for KindServer
	Reason     string // populated for KindTransport
	RetryAfter string // populated for KindRateLimited, provider-supplied hint
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("model: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("model: %s", e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable reports whether the runner should retry the request under the
// provider-error retry policy.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServer, KindTransport, KindTimeout:
		return true
	default:
		return false
	}
}

// NewRateLimited constructs a retryable rate-limit error, optionally carrying
// the provider's Retry-After hint.
func NewRateLimited(retryAfter string) *ProviderError {
	return &ProviderError{Kind: KindRateLimited, RetryAfter: retryAfter}
}

// NewAuth constructs a non-retryable authentication error.
func NewAuth(detail string) *ProviderError {
	return &ProviderError{Kind: KindAuth, Detail: detail}
}

// NewBadRequest constructs a non-retryable malformed-request error.
func NewBadRequest(detail string) *ProviderError {
	return &ProviderError{Kind: KindBadRequest, Detail: detail}
}

// NewServer constructs a retryable server-side error carrying the HTTP status.
func NewServer(status int, cause error) *ProviderError {
	return &ProviderError{Kind: KindServer, Status: status, Cause: cause}
}

// NewTransport constructs a retryable network-layer error.
func NewTransport(reason string, cause error) *ProviderError {
	return &ProviderError{Kind: KindTransport, Reason: reason, Cause: cause}
}

// NewTimeout constructs a retryable deadline-exceeded error.
func NewTimeout() *ProviderError { return &ProviderError{Kind: KindTimeout} }

// NewParse constructs a non-retryable response-decoding error.
func NewParse(detail string, cause error) *ProviderError {
	return &ProviderError{Kind: KindParse, Detail: detail, Cause: cause}
}

// ParseModelID splits a "provider:model_name" identifier on its first
// colon. The provider token is matched case-insensitively; the remainder is
// the model name passed through verbatim.
func ParseModelID(id string) (provider, modelName string, err error) {
	idx := strings.IndexByte(id, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("model: %q is not a valid provider:model_name identifier", id)
	}
	provider = strings.ToLower(id[:idx])
	modelName = id[idx+1:]
	if provider == "" || modelName == "" {
		return "", "", fmt.Errorf("model: %q is not a valid provider:model_name identifier", id)
	}
	return provider, modelName, nil
}

// Registry resolves a provider name to a Client, used by the runner to look
// up the right adapter for an agent's configured model identifier.
type Registry struct {
	clients map[string]Client
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry { return &Registry{clients: make(map[string]Client)} }

// Register associates provider (matched case-insensitively at lookup time)
// with client.
func (r *Registry) Register(provider string, client Client) {
	r.clients[strings.ToLower(provider)] = client
}

// Lookup returns the Client registered for provider, if any.
func (r *Registry) Lookup(provider string) (Client, bool) {
	c, ok := r.clients[strings.ToLower(provider)]
	return c, ok
}

// Resolve parses a "provider:model_name" identifier and returns the
// registered Client for its provider along with the bare model name to pass
// to that client.
func (r *Registry) Resolve(modelID string) (Client, string, error) {
	provider, name, err := ParseModelID(modelID)
	if err != nil {
		return nil, "", err
	}
	client, ok := r.Lookup(provider)
	if !ok {
		return nil, "", fmt.Errorf("model: no provider registered for %q", provider)
	}
	return client, name, nil
}
