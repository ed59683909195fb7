package mcp

import (
	"context"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/logging"
	"github.com/ekaya-inc/obra-engine/pkg/metrics"
)

// CallLogger logs every MCP tool call with its duration and outcome and
// records it in the tool call metrics.
type CallLogger struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewCallLogger creates a CallLogger.
func NewCallLogger(logger *zap.Logger) *CallLogger {
	return &CallLogger{logger: logger.Named("mcp-calls")}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *CallLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *CallLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *CallLogger) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	elapsed := a.elapsed(id)
	status := "ok"
	if result != nil && result.IsError {
		status = "tool_error"
	}
	a.observe(req.Params.Name, status, elapsed)

	a.logger.Debug("MCP tool call",
		zap.String("tool", req.Params.Name),
		zap.String("status", status),
		zap.Any("params", sanitizeParams(req.Params.Arguments)),
		zap.Duration("duration", elapsed))
}

func (a *CallLogger) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	elapsed := a.elapsed(id)
	a.observe(req.Params.Name, "error", elapsed)

	a.logger.Warn("MCP tool call failed",
		zap.String("tool", req.Params.Name),
		zap.Any("params", sanitizeParams(req.Params.Arguments)),
		zap.Duration("duration", elapsed),
		zap.String("error", logging.SanitizeError(err)))
}

func (a *CallLogger) observe(tool, status string, elapsed time.Duration) {
	metrics.ToolCalls.WithLabelValues(tool, status).Inc()
	metrics.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (a *CallLogger) elapsed(id any) time.Duration {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return time.Since(v.(time.Time))
	}
	return 0
}

// sanitizeParams keeps the call arguments loggable: long strings are
// truncated and anything that looks like a signed URL loses its signature.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		s, isString := v.(string)
		if !isString {
			out[k] = v
			continue
		}
		out[k] = logging.TruncateString(logging.SanitizeSignedURL(s), maxLoggedParamLen)
	}
	return out
}

const maxLoggedParamLen = 200
