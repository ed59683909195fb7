package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Evaluate(t *testing.T) {
	c := NewCompiler()

	tests := []struct {
		name string
		expr string
		row  map[string]any
		want float64
	}{
		{"subtraction", "[monto_total]-[monto_certificado]", map[string]any{"monto_total": 1000.0, "monto_certificado": 400.0}, 600},
		{"precedence", "[a] + [b] * 2", map[string]any{"a": 1.0, "b": 3.0}, 7},
		{"parentheses", "([a] + [b]) * 2", map[string]any{"a": 1.0, "b": 3.0}, 8},
		{"unary minus", "-[a] + 10", map[string]any{"a": 4.0}, 6},
		{"decimal literal", "[a] * 0.21", map[string]any{"a": 100.0}, 21},
		{"percent of total", "[certificado] / [total] * 100", map[string]any{"certificado": 250.0, "total": 1000.0}, 25},
		{"missing field is zero", "[a] + [b]", map[string]any{"a": 5.0}, 5},
		{"non numeric is zero", "[a] + [b]", map[string]any{"a": 5.0, "b": "n/a"}, 5},
		{"numeric string", "[a] + [b]", map[string]any{"a": "1.500", "b": "2,5"}, 1502.5},
		{"label reference normalized", "[Monto Total] - [monto_certificado]", map[string]any{"monto_total": 10.0, "monto_certificado": 4.0}, 6},
		{"repeated reference", "[a] * [a]", map[string]any{"a": 3.0}, 9},
		{"constant", "2 + 2", nil, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := c.Compile(tt.expr)
			require.NotNil(t, f)
			got, ok := f.Evaluate(tt.row)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCompile_FailsClosed(t *testing.T) {
	c := NewCompiler()

	exprs := []string{
		"",
		"   ",
		"[a]; alert(1)",
		"Math.max([a], 1)",
		"[a] % 2",
		"[a] ** 2",
		"[a] + ",
		"([a] + 1",
		"[a] + 1)",
		"2 (3)",
		"[]",
		"[a] [b]",
		"1.2.3 + [a]",
		"[a] + process",
		"[a",
		"[a] == 1",
	}
	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Nil(t, c.Compile(expr))
			})
		})
	}
}

func TestEvaluate_NonFiniteYieldsFalse(t *testing.T) {
	c := NewCompiler()

	f := c.Compile("[a] / [b]")
	require.NotNil(t, f)

	_, ok := f.Evaluate(map[string]any{"a": 1.0, "b": 0.0})
	assert.False(t, ok)

	_, ok = f.Evaluate(map[string]any{"a": 0.0, "b": 0.0})
	assert.False(t, ok)

	got, ok := f.Evaluate(map[string]any{"a": 1.0, "b": 4.0})
	assert.True(t, ok)
	assert.Equal(t, 0.25, got)
}

func TestCompiler_CachesBySourceText(t *testing.T) {
	c := NewCompiler()

	first := c.Compile("[a] + [b]")
	second := c.Compile("  [a] + [b]  ")
	require.NotNil(t, first)
	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Len())

	// Failures are cached as well.
	assert.Nil(t, c.Compile("[a] ; 1"))
	assert.Nil(t, c.Compile("[a] ; 1"))
	assert.Equal(t, 2, c.Len())

	// Different text never reuses the old compilation.
	changed := c.Compile("[a] - [b]")
	require.NotNil(t, changed)
	assert.NotSame(t, first, changed)
	v, ok := changed.Evaluate(map[string]any{"a": 3.0, "b": 1.0})
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	c.Invalidate("[a] + [b]")
	assert.NotSame(t, first, c.Compile("[a] + [b]"))
}

func TestFormula_References(t *testing.T) {
	f := NewCompiler().Compile("[b] + [a] * [b] - [Monto Total]")
	require.NotNil(t, f)
	assert.Equal(t, []string{"b", "a", "monto_total"}, f.References())
	assert.Equal(t, []string{"x", "y"}, References("[x] foo [y] [x]"))
}
