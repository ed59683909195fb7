package llm

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
)

// ErrorType says which part of the backend configuration or service failed.
type ErrorType string

const (
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeRateLimit ErrorType = "rate_limited"
	ErrorTypeResponse  ErrorType = "response"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error is a classified extraction backend error.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
	Model      string
	Endpoint   string
}

func (e *Error) Error() string {
	parts := []string{string(e.Type)}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if host := endpointHost(e.Endpoint); host != "" {
		parts = append(parts, "endpoint="+host)
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap exposes the cause and the matching engine sentinel, so callers can
// test errors.Is(err, apperrors.ErrRateLimited).
func (e *Error) Unwrap() []error {
	out := []error{}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	switch {
	case e.Type == ErrorTypeRateLimit:
		out = append(out, apperrors.ErrRateLimited)
	case e.Retryable:
		out = append(out, apperrors.ErrBackendUnavailable)
	}
	return out
}

// IsRetryable satisfies retry.RetryableError.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a classified error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{Type: errType, Message: message, Retryable: retryable, Cause: cause}
}

func endpointHost(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

var statusCodePattern = regexp.MustCompile(`\b(400|401|403|404|408|429|500|502|503|504|529)\b`)

func extractStatusCode(s string) int {
	m := statusCodePattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

// ClassifyError turns a provider error into an *Error.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	status := extractStatusCode(msg)

	classified := func(t ErrorType, message string, retryable bool) *Error {
		e := NewError(t, message, retryable, err)
		e.StatusCode = status
		return e
	}

	switch {
	case status == 401 || status == 403 || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "invalid x-api-key"):
		return classified(ErrorTypeAuth, "authentication failed", false)
	case strings.Contains(lower, "model") && (strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		return classified(ErrorTypeModel, "model not found", false)
	case status == 404:
		return classified(ErrorTypeEndpoint, "endpoint not found", false)
	case status == 429 || status == 529 || strings.Contains(lower, "rate limit") || strings.Contains(lower, "overloaded"):
		return classified(ErrorTypeRateLimit, "rate limited", true)
	case strings.Contains(lower, "context canceled"):
		return classified(ErrorTypeEndpoint, "request canceled", false)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return classified(ErrorTypeEndpoint, "connection failed", true)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return classified(ErrorTypeEndpoint, "request timeout", true)
	case status >= 500:
		return classified(ErrorTypeEndpoint, "server error", true)
	}
	return classified(ErrorTypeUnknown, "llm error", false)
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}
