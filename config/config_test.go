package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
agents:
  main:
    model: "anthropic:claude-3-5-sonnet"
`)

	f, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", f.Server.Host)
	assert.Equal(t, 8080, f.Server.Port)
	assert.Equal(t, "memory", f.Bus.Backend)
	assert.Equal(t, "info", f.Logging.Level)
	assert.Equal(t, "us-east-1", f.Providers.Bedrock.Region)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  bogus: true
agents:
  main:
    model: "anthropic:claude-3-5-sonnet"
`)

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRequiresAtLeastOneAgent(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one agent")
}

func TestLoadValidatesRedisBackendRequiresAddr(t *testing.T) {
	path := writeConfig(t, `
bus:
  backend: redis
agents:
  main:
    model: "anthropic:claude-3-5-sonnet"
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus.redis.addr")
}

func TestLoadRejectsMutuallyExclusiveSystemPrompt(t *testing.T) {
	path := writeConfig(t, `
agents:
  main:
    model: "anthropic:claude-3-5-sonnet"
    system_prompt: "hi"
    system_prompt_file: "/tmp/prompt.txt"
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_AGENTCORE_MODEL", "anthropic:claude-3-5-sonnet")
	path := writeConfig(t, `
agents:
  main:
    model: "${TEST_AGENTCORE_MODEL}"
`)

	f, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic:claude-3-5-sonnet", f.Agents["main"].Model)
}

func TestFileBuildResolvesAgentConfig(t *testing.T) {
	path := writeConfig(t, `
agents:
  main:
    model: "anthropic:claude-3-5-sonnet"
    system_prompt: "You are a helpful agent."
    tools: ["search", "send"]
    temperature: 0.2
`)

	f, err := config.Load(path)
	require.NoError(t, err)

	cfg, err := f.Build("main")
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.Name)
	assert.Equal(t, "anthropic:claude-3-5-sonnet", cfg.Model)
	assert.Equal(t, "You are a helpful agent.", cfg.SystemPrompt)
	assert.Len(t, cfg.Tools, 2)
	assert.Equal(t, float32(0.2), cfg.Settings.Temperature)
}

func TestFileBuildUnknownAgentFails(t *testing.T) {
	path := writeConfig(t, `
agents:
  main:
    model: "anthropic:claude-3-5-sonnet"
`)
	f, err := config.Load(path)
	require.NoError(t, err)

	_, err = f.Build("missing")
	assert.Error(t, err)
}
