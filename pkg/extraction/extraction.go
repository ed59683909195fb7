// Package extraction turns source documents into tabla rows. Spreadsheets
// are imported directly by header mapping; PDFs and scanned images are
// reduced to text and handed to a language model together with the
// tabla's column schema.
package extraction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/apperrors"
	"github.com/ekaya-inc/obra-engine/pkg/metrics"
	"github.com/ekaya-inc/obra-engine/pkg/models"
	"github.com/ekaya-inc/obra-engine/pkg/textnorm"
	"github.com/ekaya-inc/obra-engine/pkg/values"
)

// Source kinds, used as the metrics label.
const (
	SourceSpreadsheet = "spreadsheet"
	SourcePDF         = "pdf"
	SourceImage       = "image"
)

// Request is one document extracted into one tabla. Path is a local copy of
// the document's bytes.
type Request struct {
	Document *models.Document
	Path     string
	Tabla    *models.Tabla
}

// Result is the outcome of one extraction. Rows are keyed by fieldKey and
// already coerced to the column types.
type Result struct {
	Source    string
	Rows      []map[string]any
	Preview   *models.SpreadsheetPreview
	PageCount *int
}

// Extractor extracts rows for one tabla from one document.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}

// TextReader reduces a document to plain text. The int is the page count.
type TextReader interface {
	ReadText(ctx context.Context, path string) (string, int, error)
}

// RowExtractor finds tabla rows in free text.
type RowExtractor interface {
	ExtractRows(ctx context.Context, text string, tabla *models.Tabla) ([]map[string]any, error)
}

// Pipeline dispatches a document to the importer that understands it.
type Pipeline struct {
	spreadsheets *SpreadsheetImporter
	pdf          TextReader
	images       TextReader
	rows         RowExtractor
	logger       *zap.Logger
}

var _ Extractor = (*Pipeline)(nil)

// NewPipeline wires the readers. pdf, images and rows may be nil, in which
// case documents of that kind are reported as unsupported.
func NewPipeline(pdf, images TextReader, rows RowExtractor, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		spreadsheets: NewSpreadsheetImporter(),
		pdf:          pdf,
		images:       images,
		rows:         rows,
		logger:       logger.Named("extraction"),
	}
}

// Extract runs the importer for the document's kind.
func (p *Pipeline) Extract(ctx context.Context, req Request) (*Result, error) {
	doc := req.Document
	source, reader := p.route(doc)
	if source == "" {
		return nil, fmt.Errorf("%s (%s): %w", doc.FileName(), doc.MimeType, apperrors.ErrUnsupportedDocument)
	}

	start := time.Now()
	result, err := p.extract(ctx, req, source, reader)
	metrics.ImportDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ImportAttempts.WithLabelValues(source, "failed").Inc()
		p.logger.Warn("Extraction failed",
			zap.String("document", doc.StoragePath),
			zap.String("tabla_id", req.Tabla.ID.String()),
			zap.String("source", source),
			zap.Error(err))
		return nil, err
	}
	metrics.ImportAttempts.WithLabelValues(source, "succeeded").Inc()

	p.logger.Info("Extracted rows",
		zap.String("document", doc.StoragePath),
		zap.String("tabla_id", req.Tabla.ID.String()),
		zap.String("source", source),
		zap.Int("rows", len(result.Rows)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (p *Pipeline) route(doc *models.Document) (string, TextReader) {
	switch {
	case doc.IsSpreadsheet():
		return SourceSpreadsheet, nil
	case doc.IsPDF() && p.pdf != nil && p.rows != nil:
		return SourcePDF, p.pdf
	case doc.IsImage() && p.images != nil && p.rows != nil:
		return SourceImage, p.images
	}
	return "", nil
}

func (p *Pipeline) extract(ctx context.Context, req Request, source string, reader TextReader) (*Result, error) {
	if source == SourceSpreadsheet {
		return p.spreadsheets.Import(req.Path, req.Tabla)
	}

	text, pages, err := reader.ReadText(ctx, req.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s text: %w", source, err)
	}
	raw, err := p.rows.ExtractRows(ctx, text, req.Tabla)
	if err != nil {
		return nil, err
	}

	result := &Result{Source: source, Rows: make([]map[string]any, 0, len(raw))}
	if pages > 0 {
		result.PageCount = &pages
	}
	for _, r := range raw {
		if row := ShapeRow(r, req.Tabla); row != nil {
			result.Rows = append(result.Rows, row)
		}
	}
	return result, nil
}

// ShapeRow maps loosely keyed extracted values onto the tabla's writable
// columns. Keys are matched by normalized fieldKey or label; derived and
// unknown keys are dropped. Returns nil when no value survives.
func ShapeRow(raw map[string]any, tabla *models.Tabla) map[string]any {
	index := columnIndex(tabla)
	out := make(map[string]any, len(raw))
	for key, v := range raw {
		col, ok := index[textnorm.NormalizeFieldKey(key)]
		if !ok {
			continue
		}
		if _, seen := out[col.FieldKey]; seen && key != col.FieldKey {
			continue
		}
		if coerced := values.Coerce(v, col.DataType); coerced != nil {
			out[col.FieldKey] = coerced
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// columnIndex maps normalized keys and labels to writable columns.
func columnIndex(tabla *models.Tabla) map[string]models.Column {
	index := make(map[string]models.Column, len(tabla.Columns)*2)
	for _, col := range tabla.Columns {
		if col.IsDerived() {
			continue
		}
		if label := textnorm.NormalizeFieldKey(col.Label); label != "" {
			if _, taken := index[label]; !taken {
				index[label] = col
			}
		}
	}
	// Field keys win over labels.
	for _, col := range tabla.Columns {
		if !col.IsDerived() {
			index[col.FieldKey] = col
		}
	}
	return index
}
