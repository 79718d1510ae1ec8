package executor

import (
	"goa.design/agentcore/tool"
)

// retryHintForValidationError classifies a tool.Validator error into a
// RetryHint so an argument mistake comes back to the model as structured
// guidance instead of a bare string. Grounded on
// runtime/agent/runtime's buildRetryHintFromDecodeError, generalized from
// that function's JSON-decode-error-only inputs to this executor's
// schema-validation error types (tool.MissingRequired / tool.TypeMismatch /
// tool.EnumMismatch).
func retryHintForValidationError(err error) *tool.RetryHint {
	switch e := err.(type) {
	case *tool.MissingRequired:
		return &tool.RetryHint{
			Reason:             tool.RetryReasonMissingFields,
			MissingFields:      e.Fields,
			ClarifyingQuestion: "Which value(s) should be used for: " + joinFields(e.Fields) + "?",
		}
	case *tool.TypeMismatch:
		field := e.Field
		if field == "" {
			field = "$payload"
		}
		return &tool.RetryHint{
			Reason:             tool.RetryReasonInvalidValue,
			MissingFields:      []string{field},
			ClarifyingQuestion: "The value for \"" + field + "\" has the wrong type; what is the correct value?",
		}
	case *tool.EnumMismatch:
		return &tool.RetryHint{
			Reason:             tool.RetryReasonInvalidValue,
			MissingFields:      []string{e.Field},
			ClarifyingQuestion: "\"" + e.Field + "\" must be one of the tool's allowed values; which one applies here?",
		}
	default:
		return nil
	}
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ", "
		}
		out += f
	}
	return out
}
