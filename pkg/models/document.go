package models

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OCRStatus tracks a document through the external extractor.
type OCRStatus string

const (
	OCRStatusUnprocessed OCRStatus = "unprocessed"
	OCRStatusPending     OCRStatus = "pending"
	OCRStatusProcessing  OCRStatus = "processing"
	OCRStatusCompleted   OCRStatus = "completed"
	OCRStatusFailed      OCRStatus = "failed"
)

// Document is the metadata of an uploaded source file.
// StoragePath is "<owner root>/<folder>/.../<file name>".
type Document struct {
	ID               uuid.UUID `json:"id"`
	OwnerID          uuid.UUID `json:"owner_id"`
	StoragePath      string    `json:"storage_path"`
	DisplayName      string    `json:"display_name"`
	MimeType         string    `json:"mime_type"`
	SizeBytes        int64     `json:"size_bytes"`
	ExtractionFolder string    `json:"extraction_folder,omitempty"` // explicit folder tag, overrides the path
	OCRStatus        OCRStatus `json:"ocr_status"`
	PageCount        *int      `json:"page_count,omitempty"`
	ExtractedRows    int       `json:"extracted_rows"`
	ExtractionErrors []string  `json:"extraction_errors,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// FolderPath returns the containing folder of the document: every path
// segment except the owner root and the file name.
func (d *Document) FolderPath() string {
	segments := splitPath(d.StoragePath)
	if len(segments) <= 2 {
		return ""
	}
	return strings.Join(segments[1:len(segments)-1], "/")
}

// FileName returns the last segment of the storage path.
func (d *Document) FileName() string {
	return path.Base(strings.ReplaceAll(d.StoragePath, "\\", "/"))
}

// IsSpreadsheet reports whether the document is tabular source data.
func (d *Document) IsSpreadsheet() bool {
	switch d.MimeType {
	case "text/csv",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return true
	}
	ext := strings.ToLower(path.Ext(d.FileName()))
	return ext == ".csv" || ext == ".xlsx" || ext == ".xlsm"
}

// IsPDF reports whether the document is a PDF.
func (d *Document) IsPDF() bool {
	return d.MimeType == "application/pdf" || strings.EqualFold(path.Ext(d.FileName()), ".pdf")
}

// IsImage reports whether the document is a scanned image.
func (d *Document) IsImage() bool {
	if strings.HasPrefix(d.MimeType, "image/") {
		return true
	}
	switch strings.ToLower(path.Ext(d.FileName())) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
		return true
	}
	return false
}

func splitPath(p string) []string {
	p = strings.ReplaceAll(p, "\\", "/")
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
