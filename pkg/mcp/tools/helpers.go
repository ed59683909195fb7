package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// trimString removes leading and trailing whitespace from a string.
// This is a common helper used across MCP tool parameter validation.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// extractObjectParam reads an object argument. Some clients send objects as
// stringified JSON; those are parsed and a warning is logged. Returns nil,
// nil when the key is absent.
func extractObjectParam(args map[string]any, key string, logger *zap.Logger) (map[string]any, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(v), &obj); err != nil {
			return nil, fmt.Errorf("parameter %q could not be parsed as an object; send a native JSON object", key)
		}
		if logger != nil {
			logger.Warn("Object parameter sent as stringified JSON", zap.String("param", key))
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("parameter %q must be an object, got %T", key, raw)
	}
}

// decodeObject converts a loosely typed argument object into T.
func decodeObject[T any](obj map[string]any) (T, error) {
	var out T
	b, err := json.Marshal(obj)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}

// jsonResult marshals v into a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
