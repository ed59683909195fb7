package extraction

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/llm"
	"github.com/ekaya-inc/obra-engine/pkg/models"
)

// DefaultMaxTextChars caps the document text sent to the model.
const DefaultMaxTextChars = 60000

const systemPrompt = `You extract structured rows from construction project documents (certificates, invoices, purchase orders, schedules), usually written in Spanish.
Return ONLY a JSON array of objects. Each object is one row and uses exactly the field keys listed by the user.
Use numbers without currency symbols or thousands separators for number and currency fields, true/false for boolean fields and YYYY-MM-DD for date fields.
Use null when a value is not present in the document. Never invent rows.`

// LLMRowExtractor asks a chat model for the rows of a tabla.
type LLMRowExtractor struct {
	client   llm.ChatClient
	maxChars int
	logger   *zap.Logger
}

var _ RowExtractor = (*LLMRowExtractor)(nil)

// NewLLMRowExtractor creates an extractor. maxChars <= 0 uses DefaultMaxTextChars.
func NewLLMRowExtractor(client llm.ChatClient, maxChars int, logger *zap.Logger) *LLMRowExtractor {
	if maxChars <= 0 {
		maxChars = DefaultMaxTextChars
	}
	return &LLMRowExtractor{client: client, maxChars: maxChars, logger: logger.Named("extraction")}
}

// ExtractRows sends the document text and the writable columns of the tabla
// to the model and parses the returned rows. Empty text yields no rows.
func (e *LLMRowExtractor) ExtractRows(ctx context.Context, text string, tabla *models.Tabla) ([]map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if len(text) > e.maxChars {
		e.logger.Debug("Truncating document text",
			zap.Int("chars", len(text)),
			zap.Int("max_chars", e.maxChars))
		text = truncateUTF8(text, e.maxChars)
	}

	resp, err := e.client.Complete(ctx, llm.CompletionRequest{
		System:      systemPrompt,
		Prompt:      BuildPrompt(text, tabla),
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("extract rows for %q: %w", tabla.Name, err)
	}

	rows, err := llm.ParseRows(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse rows for %q: %w", tabla.Name, err)
	}
	return rows, nil
}

// BuildPrompt lists the writable columns of the tabla followed by the document text.
func BuildPrompt(text string, tabla *models.Tabla) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Table: %s\n", tabla.Name)
	if tabla.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", tabla.Description)
	}
	sb.WriteString("Fields:\n")
	for _, col := range tabla.Columns {
		if col.IsDerived() {
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s): %s", col.FieldKey, col.Label, col.DataType)
		if col.Required {
			sb.WriteString(", required")
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("\nDocument:\n")
	sb.WriteString(text)
	return sb.String()
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
