// Package textnorm normalizes user-facing text (labels, folder names, field keys)
// into the stable, comparable forms the engine stores and looks up.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold strips diacritics, lower-cases and trims s.
// "Certificación Nº 3" -> "certificacion nº 3"
func Fold(s string) string {
	// transform.Chain keeps internal state, so a fresh chain per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.TrimSpace(strings.ToLower(folded))
}

// NormalizeFieldKey converts a label or key into a lowercase ASCII,
// underscore-separated machine key: "Monto Total ($)" -> "monto_total".
func NormalizeFieldKey(s string) string {
	folded := Fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	pendingUnderscore := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingUnderscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingUnderscore = false
			b.WriteRune(r)
			continue
		}
		pendingUnderscore = true
	}
	return b.String()
}

// NormalizeFolderPath returns the canonical relative form of a folder path:
// forward slashes, no empty or "." segments, each segment folded.
func NormalizeFolderPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		part = strings.Join(strings.Fields(Fold(part)), " ")
		if part == "" || part == "." {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, "/")
}

// FlattenPath removes the hierarchy from a path so that links registered
// without nesting awareness can still be matched.
func FlattenPath(p string) string {
	return strings.ReplaceAll(NormalizeFolderPath(p), "/", "")
}

// ParentPath drops the last segment of a normalized path.
// Returns "" once the root is reached.
func ParentPath(p string) string {
	p = NormalizeFolderPath(p)
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return ""
	}
	return p[:idx]
}

// ContainsFold reports whether needle occurs in haystack ignoring case and diacritics.
func ContainsFold(haystack, needle string) bool {
	return strings.Contains(Fold(haystack), Fold(needle))
}
