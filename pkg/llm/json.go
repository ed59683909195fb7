package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// thinkBlock matches a leading <think>...</think> block some models emit.
	thinkBlock = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)
	// fenceLine matches markdown code fence lines.
	fenceLine = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
)

// ErrNoJSON is returned when a response carries no parseable JSON value.
var ErrNoJSON = errors.New("no valid JSON found in response")

// rowContainers are the object keys models use to wrap a row array.
var rowContainers = []string{"rows", "filas", "items", "data"}

// ExtractJSON returns the first complete JSON object or array found in a
// model response, skipping reasoning blocks, code fences and prose.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkBlock.ReplaceAllString(response, "")
	cleaned = fenceLine.ReplaceAllString(cleaned, "")

	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] != '{' && cleaned[i] != '[' {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(cleaned[i:])).Decode(&raw); err == nil {
			return string(raw), nil
		}
	}
	return "", ErrNoJSON
}

// ParseJSONResponse extracts JSON from a response and unmarshals it into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}

// ParseRows decodes the rows of an extraction response. It accepts a bare
// array of objects, an object wrapping such an array under a common key, or
// a single object. Numbers are kept as json.Number.
func ParseRows(response string) ([]map[string]any, error) {
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}

	var decoded any
	dec := json.NewDecoder(bytes.NewReader([]byte(jsonStr)))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}

	switch v := decoded.(type) {
	case []any:
		return objectsOf(v), nil
	case map[string]any:
		for _, key := range rowContainers {
			if arr, ok := v[key].([]any); ok {
				return objectsOf(arr), nil
			}
		}
		return []map[string]any{v}, nil
	}
	return nil, fmt.Errorf("unexpected JSON %T in response", decoded)
}

func objectsOf(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}
