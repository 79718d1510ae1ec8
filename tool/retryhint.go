package tool

// RetryHintReason classifies why a failed tool call might succeed if the
// model retries with different arguments. Grounded on
// runtime/agent/planner.RetryReason and the decode-error classification in
// runtime/agent/runtime's buildRetryHintFromDecodeError, generalized from
// that file's codec-decode-error-only scope to any handler-detected
// failure a Descriptor wants to explain structurally.
type RetryHintReason string

const (
	// RetryReasonMissingFields means the call omitted one or more fields the
	// handler needed.
	RetryReasonMissingFields RetryHintReason = "missing_fields"
	// RetryReasonInvalidValue means a supplied field's value was malformed
	// or out of range.
	RetryReasonInvalidValue RetryHintReason = "invalid_value"
	// RetryReasonUnavailable means the call was well-formed but the
	// requested resource or capability isn't currently reachable.
	RetryReasonUnavailable RetryHintReason = "unavailable"
)

// RetryHint is structured guidance a failed tool call attaches to its
// Outcome so the model (or a UI) can react without parsing an error
// string. Attach one via Error.WithHint.
type RetryHint struct {
	Reason RetryHintReason
	// MissingFields names the fields that were absent or malformed, using
	// "$payload" when the failure is not attributable to a single field.
	MissingFields []string
	// ExampleInput is a well-formed example of the expected arguments, when
	// the descriptor's schema has one to offer.
	ExampleInput map[string]any
	// ClarifyingQuestion is a natural-language prompt the model can surface
	// to resolve the gap without guessing.
	ClarifyingQuestion string
}
