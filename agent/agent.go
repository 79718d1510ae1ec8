// Package agent defines an agent's static configuration: its system prompt,
// registered tools, model settings, and iteration bounds. Grounded on
// agents/runtime/runtime/runtime.go's Runtime registration surface, narrowed
// from a multi-agent, codegen-backed registry down to the single-agent
// config object the runner operates on.
package agent

import (
	"time"

	"goa.design/agentcore/model"
	"goa.design/agentcore/tool"
)

// Config is the static definition of an agent.
type Config struct {
	// Name identifies the agent for logging and telemetry.
	Name string
	// SystemPrompt is prepended as a system message to every run.
	SystemPrompt string
	// Model is the provider-qualified model identifier ("provider:model").
	Model string
	// Settings carries provider-agnostic sampling/tool-choice configuration.
	Settings model.Settings
	// Tools names registered tools whose descriptors the runner renders into
	// each model request, after any definitions already in Settings.Tools.
	// Dispatch resolves a requested tool by name in the shared Registry,
	// whether or not it is listed here.
	Tools []tool.Ident
	// MaxIterations bounds the Prepare/AwaitModel/Dispatch loop. Zero means
	// DefaultMaxIterations.
	MaxIterations int
	// IterationTimeout bounds a single AwaitModel call. Zero means no per-call deadline.
	IterationTimeout time.Duration
	// RunTimeout bounds the entire run wall clock. Zero means no deadline.
	RunTimeout time.Duration
	// ParallelTools opts into concurrent dispatch of the tool calls within a
	// single Assistant turn. Default is sequential dispatch.
	ParallelTools bool
	// RetryPolicy governs retries of retryable provider errors.
	RetryPolicy RetryPolicy
}

// RetryPolicy bounds how many times the runner retries a retryable
// model.ProviderError before giving up.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls to the provider per
	// AwaitModel step, including the first. Zero means DefaultMaxAttempts.
	MaxAttempts int
}

// DefaultMaxAttempts is used when RetryPolicy.MaxAttempts is zero.
const DefaultMaxAttempts = 3

// Attempts returns p.MaxAttempts, or DefaultMaxAttempts if unset.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// DefaultMaxIterations is used when Config.MaxIterations is zero.
const DefaultMaxIterations = 25

// Iterations returns c.MaxIterations, or DefaultMaxIterations if unset.
func (c Config) Iterations() int {
	if c.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return c.MaxIterations
}

// Validate checks the config's static invariants before a run starts.
func (c Config) Validate() error {
	if c.Name == "" {
		return errConfig("name is required")
	}
	if c.Model == "" {
		return errConfig("model is required")
	}
	return nil
}

type errConfig string

func (e errConfig) Error() string { return "agent: " + string(e) }
