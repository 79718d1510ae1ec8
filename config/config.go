// Package config loads agent, provider, and server settings from YAML.
// Grounded on haasonsaas-nexus/internal/config/config.go and loader.go: a
// single root struct decoded with a strict, environment-expanding
// gopkg.in/yaml.v3 decoder, followed by defaulting and validation passes.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/agentcore/agent"
	"goa.design/agentcore/model"
	"goa.design/agentcore/session"
	"goa.design/agentcore/tool"
)

// File is the root of a loaded configuration file.
type File struct {
	Server    ServerConfig            `yaml:"server"`
	Providers ProvidersConfig         `yaml:"providers"`
	Bus       BusConfig               `yaml:"bus"`
	Logging   LoggingConfig           `yaml:"logging"`
	Agents    map[string]AgentsConfig `yaml:"agents"`
}

// ServerConfig configures the session-server listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

// BusConfig selects and configures the event bus.
type BusConfig struct {
	// Backend is "memory" or "redis". Defaults to "memory".
	Backend string         `yaml:"backend"`
	Redis   RedisBusConfig `yaml:"redis"`
}

// RedisBusConfig configures a Redis-backed event bus.
type RedisBusConfig struct {
	Addr   string `yaml:"addr"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProvidersConfig carries credentials and defaults for each model provider
// that ParseModelID's prefix can route to.
type ProvidersConfig struct {
	Anthropic AnthropicProviderConfig `yaml:"anthropic"`
	OpenAI    OpenAIProviderConfig    `yaml:"openai"`
	Bedrock   BedrockProviderConfig   `yaml:"bedrock"`
}

type AnthropicProviderConfig struct {
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
}

type OpenAIProviderConfig struct {
	APIKey string `yaml:"api_key"`
}

type BedrockProviderConfig struct {
	Region string `yaml:"region"`
}

// RateLimitConfig configures the adaptive rate limiter wrapping a provider.
type RateLimitConfig struct {
	Enabled    bool    `yaml:"enabled"`
	InitialTPM float64 `yaml:"initial_tpm"`
	MaxTPM     float64 `yaml:"max_tpm"`
}

// AgentsConfig is the YAML-loadable shape of an agent.Config, keyed by
// agent name in File.Agents.
type AgentsConfig struct {
	SystemPrompt     string          `yaml:"system_prompt"`
	SystemPromptFile string          `yaml:"system_prompt_file"`
	Model            string          `yaml:"model"`
	Temperature      float32         `yaml:"temperature"`
	TopP             float32         `yaml:"top_p"`
	MaxTokens        int             `yaml:"max_tokens"`
	StopSequences    []string        `yaml:"stop_sequences"`
	ResponseFormat   string          `yaml:"response_format"`
	Tools            []string        `yaml:"tools"`
	MaxIterations    int             `yaml:"max_iterations"`
	IterationTimeout time.Duration   `yaml:"iteration_timeout"`
	RunTimeout       time.Duration   `yaml:"run_timeout"`
	ParallelTools    bool            `yaml:"parallel_tools"`
	MaxAttempts      int             `yaml:"max_attempts"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
}

// Load reads path, expands ${VAR} references against the process
// environment, and strictly decodes it into a File. Strict decoding
// (KnownFields) catches typo'd keys at startup instead of silently
// ignoring them.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	var f File
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: %s: expected a single YAML document", path)
	}

	applyEnvOverrides(&f)
	applyDefaults(&f)
	if err := validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func applyDefaults(f *File) {
	if f.Server.Host == "" {
		f.Server.Host = "0.0.0.0"
	}
	if f.Server.Port == 0 {
		f.Server.Port = 8080
	}
	if f.Server.ApprovalTimeout == 0 {
		f.Server.ApprovalTimeout = session.DefaultApprovalTimeout
	}
	if f.Bus.Backend == "" {
		f.Bus.Backend = "memory"
	}
	if f.Bus.Redis.Stream == "" {
		f.Bus.Redis.Stream = "agentcore:events"
	}
	if f.Logging.Level == "" {
		f.Logging.Level = "info"
	}
	if f.Logging.Format == "" {
		f.Logging.Format = "json"
	}
	if f.Providers.Bedrock.Region == "" {
		f.Providers.Bedrock.Region = "us-east-1"
	}
	for name, a := range f.Agents {
		if a.MaxAttempts == 0 {
			a.MaxAttempts = agent.DefaultMaxAttempts
		}
		if a.MaxIterations == 0 {
			a.MaxIterations = agent.DefaultMaxIterations
		}
		f.Agents[name] = a
	}
}

func applyEnvOverrides(f *File) {
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_HOST")); v != "" {
		f.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Server.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		f.Providers.Anthropic.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		f.Providers.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		f.Bus.Redis.Addr = v
	}
}

// ValidationError collects every config issue found by validate in one pass,
// rather than failing on the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config: validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(f *File) error {
	var issues []string

	switch strings.ToLower(f.Bus.Backend) {
	case "memory", "redis":
	default:
		issues = append(issues, fmt.Sprintf("bus.backend must be \"memory\" or \"redis\", got %q", f.Bus.Backend))
	}
	if strings.ToLower(f.Bus.Backend) == "redis" && strings.TrimSpace(f.Bus.Redis.Addr) == "" {
		issues = append(issues, "bus.redis.addr is required when bus.backend is \"redis\"")
	}

	if len(f.Agents) == 0 {
		issues = append(issues, "agents: at least one agent must be configured")
	}
	for name, a := range f.Agents {
		if strings.TrimSpace(a.Model) == "" {
			issues = append(issues, fmt.Sprintf("agents.%s.model is required", name))
		}
		if a.SystemPrompt != "" && a.SystemPromptFile != "" {
			issues = append(issues, fmt.Sprintf("agents.%s: system_prompt and system_prompt_file are mutually exclusive", name))
		}
		if a.MaxIterations < 0 {
			issues = append(issues, fmt.Sprintf("agents.%s.max_iterations must be >= 0", name))
		}
		if a.RateLimit.Enabled && a.RateLimit.MaxTPM < a.RateLimit.InitialTPM {
			issues = append(issues, fmt.Sprintf("agents.%s.rate_limit.max_tpm must be >= initial_tpm", name))
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Build resolves a by-name agent section from the file into a runnable
// agent.Config. Tool names are converted to tool.Ident without being looked
// up in any tool.Registry; the result is checked with agent.Config.Validate.
func (f *File) Build(agentName string) (agent.Config, error) {
	a, ok := f.Agents[agentName]
	if !ok {
		return agent.Config{}, fmt.Errorf("config: no agent named %q", agentName)
	}

	prompt := a.SystemPrompt
	if a.SystemPromptFile != "" {
		data, err := os.ReadFile(a.SystemPromptFile)
		if err != nil {
			return agent.Config{}, fmt.Errorf("config: read system_prompt_file for agent %q: %w", agentName, err)
		}
		prompt = string(data)
	}

	idents := make([]tool.Ident, 0, len(a.Tools))
	for _, name := range a.Tools {
		idents = append(idents, tool.Ident(name))
	}

	cfg := agent.Config{
		Name:             agentName,
		SystemPrompt:     prompt,
		Model:            a.Model,
		Tools:            idents,
		MaxIterations:    a.MaxIterations,
		IterationTimeout: a.IterationTimeout,
		RunTimeout:       a.RunTimeout,
		ParallelTools:    a.ParallelTools,
		RetryPolicy:      agent.RetryPolicy{MaxAttempts: a.MaxAttempts},
		Settings: model.Settings{
			Temperature:    a.Temperature,
			TopP:           a.TopP,
			MaxTokens:      a.MaxTokens,
			StopSequences:  a.StopSequences,
			ResponseFormat: a.ResponseFormat,
		},
	}
	return cfg, cfg.Validate()
}
