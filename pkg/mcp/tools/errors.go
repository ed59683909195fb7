package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// This is used to return actionable error information to the model
// as a successful tool result, ensuring error details are visible
// rather than being swallowed by the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable/actionable errors that the model should see and
// can potentially fix (e.g., invalid parameters, resource not found).
//
// Do NOT use this for system failures (database connection errors,
// internal server errors) - those should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// serviceErrorResult converts an actionable service error into a tool
// result. Returns nil for system failures, which the caller should return
// as a Go error instead.
func serviceErrorResult(err error) *mcp.CallToolResult {
	var conflict *apperrors.SchemaConflictError
	var ref *apperrors.FormulaReferenceError
	switch {
	case errors.As(err, &conflict):
		return NewErrorResultWithDetails("schema_conflict", err.Error(), map[string]any{
			"field_key": conflict.FieldKey,
			"labels":    conflict.Labels,
		})
	case errors.As(err, &ref):
		return NewErrorResult("invalid_formula_reference", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", err.Error())
	case errors.Is(err, apperrors.ErrInvalidInput):
		return NewErrorResult("invalid_parameters", err.Error())
	case errors.Is(err, apperrors.ErrRateLimited):
		return NewErrorResult("rate_limited", err.Error())
	}
	return nil
}

// IsInputError returns true if the error was caused by the caller's input
// rather than a server failure. Input errors are logged at Debug.
func IsInputError(err error) bool {
	if err == nil {
		return false
	}
	return serviceErrorResult(err) != nil
}
