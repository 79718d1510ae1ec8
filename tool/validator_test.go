package tool_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/tool"
)

const querySchema = `{
  "type": "object",
  "properties": {"query": {"type": "string"}},
  "required": ["query"]
}`

func TestValidatorMissingRequired(t *testing.T) {
	v := tool.NewValidator()
	d := &tool.Descriptor{
		Name:             "search",
		ParametersSchema: []byte(querySchema),
		ValidateArgs:     true,
		Timeout:          time.Second,
	}
	err := v.Validate(d, []byte(`{}`))
	require.Error(t, err)
	var mr *tool.MissingRequired
	require.ErrorAs(t, err, &mr)
}

func TestValidatorTypeMismatch(t *testing.T) {
	v := tool.NewValidator()
	d := &tool.Descriptor{
		Name:             "search",
		ParametersSchema: []byte(querySchema),
		ValidateArgs:     true,
		Timeout:          time.Second,
	}
	err := v.Validate(d, []byte(`{"query": 42}`))
	require.Error(t, err)
	var tm *tool.TypeMismatch
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, "query", tm.Field)
	assert.Equal(t, "string", tm.Expected)
	assert.Equal(t, "integer", tm.Actual)
	assert.Equal(t, "type mismatch: query: expected string, got integer", tm.Error())
}

func TestValidatorEnumMismatch(t *testing.T) {
	v := tool.NewValidator()
	d := &tool.Descriptor{
		Name: "search",
		ParametersSchema: []byte(`{
		  "type": "object",
		  "properties": {"mode": {"type": "string", "enum": ["fast", "thorough"]}},
		  "required": ["mode"]
		}`),
		ValidateArgs: true,
		Timeout:      time.Second,
	}
	err := v.Validate(d, []byte(`{"mode": "turbo"}`))
	require.Error(t, err)
	var em *tool.EnumMismatch
	require.ErrorAs(t, err, &em)
	assert.Equal(t, "mode", em.Field)
	assert.Equal(t, "turbo", em.Actual)
	assert.ElementsMatch(t, []any{"fast", "thorough"}, em.Allowed)
}

func TestValidatorSkipsWhenDisabled(t *testing.T) {
	v := tool.NewValidator()
	d := &tool.Descriptor{Name: "search", ValidateArgs: false, Timeout: time.Second}
	assert.NoError(t, v.Validate(d, []byte(`not even json`)))
}

func TestValidatorAllowsUnknownFields(t *testing.T) {
	v := tool.NewValidator()
	d := &tool.Descriptor{
		Name:             "search",
		ParametersSchema: []byte(querySchema),
		ValidateArgs:     true,
		Timeout:          time.Second,
	}
	assert.NoError(t, v.Validate(d, []byte(`{"query":"cats","extra":true}`)))
}
