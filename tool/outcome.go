package tool

// Outcome is the closed sum type a Handler returns. It replaces an
// overloaded return shape (plain value | {:ok,v} | {:ok,v,update} |
// {:error,r}) with a statically typed equivalent and explicit constructors
// instead of shape-sniffing a return value.
type Outcome struct {
	kind   outcomeKind
	value  any
	update ContextUpdate
	err    *Error
}

type outcomeKind int

const (
	kindValue outcomeKind = iota
	kindValueWithUpdate
	kindError
)

// Value constructs a successful Outcome with no context mutation.
func Value(v any) Outcome { return Outcome{kind: kindValue, value: v} }

// ValueWithUpdate constructs a successful Outcome that also requests a
// ContextUpdate be applied to the run's deps.
func ValueWithUpdate(v any, update ContextUpdate) Outcome {
	return Outcome{kind: kindValueWithUpdate, value: v, update: update}
}

// Failure constructs a failed Outcome. This is distinct from the Go `error`
// return of a Handler: a Handler returning a non-nil error is retried by
// the executor; a Handler returning Failure(...) as its Outcome with a nil
// error is NOT retried and is reported to the model as-is. Use this for
// handler-detected, non-transient domain failures.
func Failure(e *Error) Outcome { return Outcome{kind: kindError, err: e} }

// IsError reports whether the outcome represents a failure.
func (o Outcome) IsError() bool { return o.kind == kindError }

// Value returns the success payload and whether one was set (false for
// kindError or the zero Outcome).
func (o Outcome) Value() (any, bool) {
	if o.kind == kindError {
		return nil, false
	}
	return o.value, true
}

// Update returns the requested ContextUpdate, which is empty for Value()
// and Failure() outcomes.
func (o Outcome) Update() ContextUpdate { return o.update }

// Err returns the failure detail, or nil if the outcome is not an error.
func (o Outcome) Err() *Error { return o.err }

// Error is a tool-domain failure: a structured message the model is expected
// to react to, distinct from agenterrors.Error which denotes infrastructure
// failures. Grounded on runtime/agent/toolerrors.ToolError (message + causal
// chain, preserved across retries for diagnostics).
type Error struct {
	Message string
	Cause   *Error
	// Hint carries structured retry guidance, set via WithHint. Nil unless
	// the handler (or the executor's own argument-validation path) could
	// classify the failure.
	Hint *RetryHint
}

// NewError constructs a tool Error with the given message.
func NewError(message string) *Error { return &Error{Message: message} }

// WithHint attaches structured retry guidance to e and returns e for
// chaining, e.g. tool.Failure(tool.NewError("bad input").WithHint(hint)).
func (e *Error) WithHint(hint *RetryHint) *Error {
	e.Hint = hint
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap supports errors.Is/errors.As against Cause.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}
