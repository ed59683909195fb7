// Package formula compiles arithmetic column formulas such as
// "[monto_total] - [monto_certificado]" and evaluates them against the
// sibling values of a row.
//
// Compilation fails closed: anything other than numbers, field references,
// parentheses and + - * / yields a nil *Formula, never an error or panic.
package formula

import (
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/ekaya-inc/obra-engine/pkg/metrics"
	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
	"github.com/ekaya-inc/obra-engine/pkg/values"
)

const (
	slotMarker      = '\x00'
	maxReferences   = 255
	defaultCapacity = 1024
)

var referencePattern = regexp.MustCompile(`\[([^\[\]]*)\]`)

// Formula is a compiled, reusable expression.
type Formula struct {
	source string
	refs   []string
	root   node
}

// Source returns the trimmed source text the formula was compiled from.
func (f *Formula) Source() string { return f.source }

// References returns the normalized field keys the formula reads,
// in order of first appearance.
func (f *Formula) References() []string {
	out := make([]string, len(f.refs))
	copy(out, f.refs)
	return out
}

// Evaluate computes the formula over a row. Each referenced field is coerced
// to a finite number; missing or non-numeric values count as 0.
// Returns false when the result is not finite or evaluation panics.
func (f *Formula) Evaluate(row map[string]any) (result float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.FormulaEvaluationFailures.Inc()
			result, ok = 0, false
		}
	}()

	slots := make([]float64, len(f.refs))
	for i, ref := range f.refs {
		if n, isNum := values.ToNumber(row[ref]); isNum {
			slots[i] = n
		}
	}

	result = f.root.eval(slots)
	if math.IsNaN(result) || math.IsInf(result, 0) {
		metrics.FormulaEvaluationFailures.Inc()
		return 0, false
	}
	return result, true
}

// Compiler compiles formulas and caches them by trimmed source text.
// Failed compilations are cached too, so a broken formula rendered on
// every row costs one parse.
type Compiler struct {
	mu       sync.RWMutex
	cache    map[string]*Formula
	capacity int
}

// NewCompiler creates a compiler with an empty cache.
func NewCompiler() *Compiler {
	return &Compiler{
		cache:    make(map[string]*Formula),
		capacity: defaultCapacity,
	}
}

// Compile returns the compiled formula for expr, or nil if expr is empty,
// unsafe or malformed.
func (c *Compiler) Compile(expr string) *Formula {
	src := strings.TrimSpace(expr)
	if src == "" {
		return nil
	}

	c.mu.RLock()
	f, ok := c.cache[src]
	c.mu.RUnlock()
	if ok {
		return f
	}

	f = compile(src)
	if f == nil {
		metrics.FormulaCompileFailures.Inc()
	}

	c.mu.Lock()
	if len(c.cache) >= c.capacity {
		c.cache = make(map[string]*Formula)
	}
	c.cache[src] = f
	c.mu.Unlock()
	return f
}

// Invalidate drops the cached compilation of expr.
func (c *Compiler) Invalidate(expr string) {
	c.mu.Lock()
	delete(c.cache, strings.TrimSpace(expr))
	c.mu.Unlock()
}

// Len returns the number of cached entries, including failures.
func (c *Compiler) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// References extracts the normalized field keys of expr without compiling it.
func References(expr string) []string {
	refs, _ := extractReferences(expr)
	return refs
}

func compile(src string) *Formula {
	refs, ok := extractReferences(src)
	if !ok || len(refs) > maxReferences {
		return nil
	}

	residual := referencePattern.ReplaceAllString(src, " ")
	if !onlyArithmetic(residual) {
		return nil
	}

	slotOf := make(map[string]int, len(refs))
	for i, r := range refs {
		slotOf[r] = i
	}
	substituted := referencePattern.ReplaceAllStringFunc(src, func(m string) string {
		key := textnorm.NormalizeFieldKey(m[1 : len(m)-1])
		return string([]byte{slotMarker, byte(slotOf[key])})
	})

	tokens, err := tokenize(substituted)
	if err != nil {
		return nil
	}
	root, err := parse(tokens)
	if err != nil {
		return nil
	}
	return &Formula{source: src, refs: refs, root: root}
}

// extractReferences returns the distinct normalized references in order of
// first appearance. ok is false when a reference normalizes to nothing.
func extractReferences(src string) ([]string, bool) {
	var refs []string
	seen := make(map[string]bool)
	for _, m := range referencePattern.FindAllStringSubmatch(src, -1) {
		key := textnorm.NormalizeFieldKey(m[1])
		if key == "" {
			return nil, false
		}
		if !seen[key] {
			seen[key] = true
			refs = append(refs, key)
		}
	}
	return refs, true
}

func onlyArithmetic(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.', r == '(', r == ')', r == '+', r == '-', r == '*', r == '/':
		case r == ' ', r == '\t', r == '\n', r == '\r':
		default:
			return false
		}
	}
	return true
}
