// Package tool defines tool descriptors, the registry that holds them, and
// the handler contract agents invoke. Grounded on the
// runtime/agent/tools package (name/schema/codec metadata) generalized from
// generated-codec lookups to explicit (descriptor, handler) registration:
// tools register as explicit (descriptor, handler) pairs where the handler
// is a closure or interface value.
package tool

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// nameRE enforces the provider constraint that tool names be valid
// identifiers so they survive round-tripping through every provider's
// function-calling wire format.
var nameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Ident is a validated tool name.
type Ident string

// Valid reports whether id matches the provider-safe identifier pattern.
func (id Ident) Valid() bool { return nameRE.MatchString(string(id)) }

func (id Ident) String() string { return string(id) }

// Handler is the function a descriptor invokes to run a tool. Every handler
// receives a context.Context, matching Go convention for anything that may
// block on I/O.
type Handler func(ctx context.Context, rc *RunContext, argumentsJSON []byte) (Outcome, error)

// Descriptor describes one tool available to an agent. Descriptors are
// immutable once registered.
type Descriptor struct {
	Name        Ident
	Description string
	// ParametersSchema is a JSON Schema object as raw JSON bytes. The
	// Validator compiles it on the first validation of this tool's arguments
	// and caches the compiled form.
	ParametersSchema []byte
	Handler          Handler
	// Retries is the number of additional attempts after the first (so
	// Retries=1 means up to 2 total invocations).
	Retries int
	// Timeout bounds a single attempt. Must be > 0.
	Timeout time.Duration
	// ValidateArgs enables schema validation before invocation.
	ValidateArgs bool
	// RequiresApproval routes the call through the human-in-the-loop gate
	// before invocation.
	RequiresApproval bool
}

// Validate checks the descriptor's static invariants: provider-safe name;
// positive timeout; non-negative retry count; a handler. Name uniqueness is
// checked by Registry.Register.
func (d Descriptor) Validate() error {
	if !d.Name.Valid() {
		return fmt.Errorf("tool: invalid name %q: must match %s", d.Name, nameRE.String())
	}
	if d.Handler == nil {
		return fmt.Errorf("tool: %q: handler is required", d.Name)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("tool: %q: timeout_ms must be > 0", d.Name)
	}
	if d.Retries < 0 {
		return fmt.Errorf("tool: %q: retries must be >= 0", d.Name)
	}
	return nil
}
