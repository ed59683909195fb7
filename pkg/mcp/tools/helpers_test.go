package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/obra-engine/pkg/materialize"
)

func TestTrimString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"whitespace only", "   ", ""},
		{"both sides whitespace", "  test  ", "test"},
		{"mixed whitespace", " \t\ntest\n\t ", "test"},
		{"no whitespace", "test", "test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, trimString(tt.input))
		})
	}
}

func TestExtractObjectParam(t *testing.T) {
	t.Run("native object", func(t *testing.T) {
		args := map[string]any{"filter": map[string]any{"saldo": map[string]any{"min": 100.0}}}
		result, err := extractObjectParam(args, "filter", nil)
		require.NoError(t, err)
		assert.Contains(t, result, "saldo")
	})

	t.Run("stringified object logs warning", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		args := map[string]any{"filter": `{"saldo": {"min": 100}}`}

		result, err := extractObjectParam(args, "filter", zap.New(core))
		require.NoError(t, err)
		assert.Contains(t, result, "saldo")

		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "filter", logs.All()[0].ContextMap()["param"])
	})

	t.Run("unparsable string", func(t *testing.T) {
		_, err := extractObjectParam(map[string]any{"filter": "saldo > 100"}, "filter", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "native JSON object")
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := extractObjectParam(map[string]any{"filter": []any{1}}, "filter", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "[]interface {}")
	})

	t.Run("absent key returns nil nil", func(t *testing.T) {
		result, err := extractObjectParam(map[string]any{}, "filter", nil)
		require.NoError(t, err)
		assert.Nil(t, result)
	})
}

func TestDecodeObject(t *testing.T) {
	filters, err := decodeObject[map[string]materialize.ColumnFilter](map[string]any{
		"saldo":     map[string]any{"min": 100.0, "max": 500.0},
		"proveedor": map[string]any{"text": "acme"},
	})
	require.NoError(t, err)
	require.NotNil(t, filters["saldo"].Min)
	assert.Equal(t, 100.0, *filters["saldo"].Min)
	assert.Equal(t, "acme", filters["proveedor"].Text)

	empty, err := decodeObject[map[string]materialize.ColumnFilter](nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
