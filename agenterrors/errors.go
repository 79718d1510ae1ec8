// Package agenterrors defines the stable error taxonomy shared across the
// agent execution core. Every error surfaced by the runner, tool executor,
// or provider adapters carries one of the Kind values below so callers can
// branch on failure class without string matching.
package agenterrors

import (
	"errors"
	"fmt"
)

// Kind names a stable error category. Values never change once published;
// new kinds are additive.
type Kind string

const (
	// KindValidation indicates tool arguments failed schema validation.
	// Surfaced to the model as a tool result, never thrown.
	KindValidation Kind = "validation_error"
	// KindToolTimeout indicates a tool handler exceeded its per-attempt deadline.
	KindToolTimeout Kind = "tool_timeout"
	// KindToolException indicates a tool handler returned an error or panicked.
	KindToolException Kind = "tool_handler_exception"
	// KindContextUpdateType indicates a ContextUpdate operation violated the
	// type contract (merge onto a non-map, append onto a non-list).
	KindContextUpdateType Kind = "context_update_type_error"
	// KindApprovalRejected indicates a human-in-the-loop approval gate rejected
	// or timed out on a tool call requiring approval.
	KindApprovalRejected Kind = "approval_rejected"
	// KindProviderRateLimited indicates the model provider is rate limiting requests.
	KindProviderRateLimited Kind = "provider_rate_limited"
	// KindProviderServer indicates the model provider returned a server-side error.
	KindProviderServer Kind = "provider_server_error"
	// KindProviderTransport indicates a network/transport failure reaching the provider.
	KindProviderTransport Kind = "provider_transport_error"
	// KindProviderTimeout indicates a provider request or stream exceeded its deadline.
	KindProviderTimeout Kind = "provider_timeout"
	// KindProviderAuth indicates the provider rejected credentials. Not retried.
	KindProviderAuth Kind = "provider_auth_error"
	// KindProviderBadRequest indicates the provider rejected the request shape. Not retried.
	KindProviderBadRequest Kind = "provider_bad_request"
	// KindProviderParse indicates the core could not parse a provider response. Not retried.
	KindProviderParse Kind = "provider_parse_error"
	// KindMaxIterations indicates a run exhausted its iteration budget.
	KindMaxIterations Kind = "max_iterations_reached"
	// KindToolChoiceViolation indicates tool_choice:required was violated twice.
	KindToolChoiceViolation Kind = "tool_choice_violation"
	// KindTimeout indicates a run-wide wall-clock deadline was exceeded.
	KindTimeout Kind = "timeout"
	// KindCancelled indicates a run was terminated via cooperative cancellation.
	KindCancelled Kind = "cancelled"
	// KindUnknownTool indicates the model requested a tool name with no registered descriptor.
	KindUnknownTool Kind = "unknown_tool"
)

// Error is the structured error type used throughout the core. It preserves
// a stable Kind tag, a human-readable Message, a Reason string for cancellation
// (populated only for KindCancelled), and an opaque Details payload carrying
// provider-specific diagnostics for logging.
type Error struct {
	Kind    Kind
	Message string
	Reason  string
	Details any
	cause   error
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping an underlying cause.
// The cause is preserved for errors.Is/errors.As and errors.Unwrap.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Cancelled constructs a KindCancelled error carrying the cancellation reason.
func Cancelled(reason string) *Error {
	return &Error{Kind: KindCancelled, Message: "run cancelled", Reason: reason}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, agenterrors.New(agenterrors.KindTimeout, "")) style
// checks, though comparing Kind directly via As is usually clearer.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, and
// reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether errors of this kind are retried automatically by
// the runner's provider-error policy. Tool-level kinds are never retried by
// this predicate; tool retry is governed separately by the executor's own
// attempt loop.
func Retryable(kind Kind) bool {
	switch kind {
	case KindProviderRateLimited, KindProviderServer, KindProviderTransport, KindProviderTimeout:
		return true
	default:
		return false
	}
}

// UserVisible reports whether an error of this kind should be surfaced to
// the human operating the session, as opposed to being absorbed as a
// model-recoverable tool result.
func UserVisible(kind Kind) bool {
	switch kind {
	case KindProviderAuth, KindProviderBadRequest, KindProviderParse,
		KindMaxIterations, KindToolChoiceViolation, KindTimeout, KindCancelled:
		return true
	default:
		return false
	}
}
