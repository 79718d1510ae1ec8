package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates tool call arguments against a descriptor's JSON
// Schema. It compiles each descriptor's schema once and caches the
// compiled form, grounded on pluginsdk.compileSchema's pattern
// (github.com/haasonsaas/nexus/pkg/pluginsdk) of caching compiled schemas
// keyed by their raw source, generalized here to key by tool name since
// descriptors are registered once and never mutated.
//
// The validator is total and side-effect free: Validate never mutates its
// inputs. It returns nil, one of the typed errors below, a schema compile
// error, or the library's own error for failures outside that subset (see
// translateValidationError).
type Validator struct {
	compiler *jsonschema.Compiler

	mu     sync.RWMutex
	cached map[Ident]*jsonschema.Schema
}

// NewValidator constructs a Validator with a fresh schema cache.
func NewValidator() *Validator {
	return &Validator{
		compiler: jsonschema.NewCompiler(),
		cached:   make(map[Ident]*jsonschema.Schema),
	}
}

// Validate parses argumentsJSON and validates it against d's
// ParametersSchema, returning nil if ValidateArgs is false on d. Unknown
// fields are always permitted, since providers tend to be lax about extra
// fields in tool-call arguments.
func (v *Validator) Validate(d *Descriptor, argumentsJSON []byte) error {
	if d == nil || !d.ValidateArgs || len(d.ParametersSchema) == 0 {
		return nil
	}
	schema, err := v.compiled(d)
	if err != nil {
		return fmt.Errorf("tool: %q: compile schema: %w", d.Name, err)
	}

	var instance any
	if err := json.Unmarshal(argumentsJSON, &instance); err != nil {
		return &TypeMismatch{Field: "", Expected: "json", Actual: "malformed"}
	}

	if err := schema.Validate(instance); err != nil {
		return translateValidationError(err)
	}
	return nil
}

func (v *Validator) compiled(d *Descriptor) (*jsonschema.Schema, error) {
	v.mu.RLock()
	s, ok := v.cached[d.Name]
	v.mu.RUnlock()
	if ok {
		return s, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.cached[d.Name]; ok {
		return s, nil
	}

	url := "mem://tool/" + string(d.Name) + ".json"
	if err := v.compiler.AddResource(url, bytes.NewReader(d.ParametersSchema)); err != nil {
		return nil, err
	}
	schema, err := v.compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	v.cached[d.Name] = schema
	return schema, nil
}

// MissingRequired reports required object fields absent from the instance.
type MissingRequired struct{ Fields []string }

func (e *MissingRequired) Error() string {
	return fmt.Sprintf("missing required fields: %v", e.Fields)
}

// TypeMismatch reports a field whose JSON type didn't match the schema.
type TypeMismatch struct {
	Field    string
	Expected string
	Actual   string
}

func (e *TypeMismatch) Error() string {
	return fmt.Sprintf("type mismatch: %s: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

// EnumMismatch reports a field whose value was not among the schema's allowed enum values.
type EnumMismatch struct {
	Field   string
	Allowed []any
	Actual  any
}

func (e *EnumMismatch) Error() string {
	return fmt.Sprintf("enum mismatch: %s: allowed %v, got %v", e.Field, e.Allowed, e.Actual)
}

// translateValidationError walks a *jsonschema.ValidationError tree and
// classifies the first leaf cause into one of the three typed errors above,
// carrying over the library's own Expected/Actual/Allowed data so the typed
// error's message is as informative as the raw one. Falls back to the
// underlying library error when the failure doesn't fit the subset (e.g.
// pattern/format/range violations) — those still produce a deterministic,
// total result, just not one of the three named shapes.
func translateValidationError(err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}
	leaf := deepestCause(ve)
	loc := ""
	if len(leaf.InstanceLocation) > 0 {
		loc = leaf.InstanceLocation[len(leaf.InstanceLocation)-1]
	}
	switch k := leaf.ErrorKind.(type) {
	case interface{ MissingFields() []string }:
		return &MissingRequired{Fields: k.MissingFields()}
	case *jsonschema.Type:
		return &TypeMismatch{Field: loc, Expected: strings.Join(k.Want, " or "), Actual: k.Got}
	case *jsonschema.Enum:
		return &EnumMismatch{Field: loc, Allowed: k.Want, Actual: k.Got}
	}
	msg := strings.ToLower(leaf.Error())
	switch {
	case strings.Contains(msg, "required"):
		return &MissingRequired{Fields: []string{loc}}
	case strings.Contains(msg, "enum"):
		return &EnumMismatch{Field: loc}
	case strings.Contains(msg, "type"):
		return &TypeMismatch{Field: loc}
	default:
		return ve
	}
}

func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}
