// Package values coerces loosely typed cell values (JSON decoded, extracted
// from documents or typed by users) into the runtime type of their column.
package values

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
)

const dateLayout = "2006-01-02"

var truthy = map[string]bool{
	"true": true, "si": true, "s": true, "yes": true, "y": true, "x": true, "1": true, "verdadero": true,
}

// Coerce converts v to the runtime type of dt:
// numeric types yield a finite float64 or nil, booleans yield true/false,
// text and date yield a non-empty string or nil.
func Coerce(v any, dt models.DataType) any {
	switch dt {
	case models.DataTypeNumber, models.DataTypeCurrency:
		if n, ok := ToNumber(v); ok {
			return n
		}
		return nil
	case models.DataTypeBoolean:
		return ToBool(v)
	case models.DataTypeDate:
		if t, ok := v.(time.Time); ok {
			if t.IsZero() {
				return nil
			}
			return t.Format(dateLayout)
		}
		return ToText(v)
	default:
		return ToText(v)
	}
}

// ToNumber parses v as a finite number. Strings may carry currency symbols,
// percent signs, and either "1.234,56" or "1,234.56" separators.
func ToNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, ok := parseNumberString(n)
		if !ok {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToBool interprets v as a boolean; anything unrecognized is false.
func ToBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return truthy[textnorm.Fold(b)]
	case nil:
		return false
	}
	if n, ok := ToNumber(v); ok {
		return n != 0
	}
	return false
}

// ToText renders v as a trimmed string, or nil when empty.
func ToText(v any) any {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case float64:
		s = FormatNumber(t)
	case bool:
		s = strconv.FormatBool(t)
	case time.Time:
		s = t.Format(dateLayout)
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

// FormatNumber renders f without trailing zeros.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseNumberString(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-', r == '+', r == 'e', r == 'E':
			b.WriteRune(r)
		case r == '$', r == '%', r == ' ', r == '\u00a0', r == '\t':
			// currency, percent and spacing are decoration
		default:
			return 0, false
		}
	}
	clean := b.String()
	if clean == "" || clean == "-" || clean == "+" {
		return 0, false
	}
	clean = normalizeSeparators(clean)
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// normalizeSeparators rewrites a numeric string to use '.' as the decimal
// separator and no grouping.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			// 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		// 1,234.56
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && !isGrouping(s, lastComma) {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || isGrouping(s, lastDot) {
			return strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// isGrouping reports whether the separator at idx groups thousands:
// exactly three digits follow and a non-zero integer part of at most
// three digits precedes it ("1.500", "12,000").
func isGrouping(s string, idx int) bool {
	frac := s[idx+1:]
	if len(frac) != 3 {
		return false
	}
	intPart := strings.TrimLeft(s[:idx], "+-")
	if intPart == "" || len(intPart) > 3 {
		return false
	}
	return strings.TrimLeft(intPart, "0") != ""
}
