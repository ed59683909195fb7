package extraction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// minTextChars below which a PDF is treated as scanned and OCR'd.
const minTextChars = 40

// PDFReader extracts the text layer of a PDF. When the text layer is empty
// and an OCR reader is configured, the page images are recognized instead.
type PDFReader struct {
	maxPages int
	ocr      *OCR
}

var _ TextReader = (*PDFReader)(nil)

// NewPDFReader creates a reader. maxPages <= 0 reads every page; ocr may be nil.
func NewPDFReader(maxPages int, ocr *OCR) *PDFReader {
	return &PDFReader{maxPages: maxPages, ocr: ocr}
}

// ReadText returns the text of the first maxPages pages and the total page count.
func (r *PDFReader) ReadText(ctx context.Context, path string) (string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	pdf, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return "", 0, fmt.Errorf("pdfcpu read: %w", err)
	}

	pages := pdf.PageCount
	limit := pages
	if r.maxPages > 0 && limit > r.maxPages {
		limit = r.maxPages
	}

	var sb strings.Builder
	for pageNr := 1; pageNr <= limit; pageNr++ {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		if text := pageText(pdf, pageNr); text != "" {
			writePage(&sb, pageNr, text)
		}
	}

	if len(strings.TrimSpace(sb.String())) >= minTextChars || r.ocr == nil {
		return sb.String(), pages, nil
	}

	scanned, err := r.recognizePages(ctx, pdf, limit)
	if err != nil {
		return "", 0, err
	}
	return scanned, pages, nil
}

func (r *PDFReader) recognizePages(ctx context.Context, pdf *model.Context, limit int) (string, error) {
	var sb strings.Builder
	for pageNr := 1; pageNr <= limit; pageNr++ {
		images, err := pdfcpu.ExtractPageImages(pdf, pageNr, false)
		if err != nil {
			return "", fmt.Errorf("extract images of page %d: %w", pageNr, err)
		}
		objNrs := make([]int, 0, len(images))
		for nr := range images {
			objNrs = append(objNrs, nr)
		}
		sort.Ints(objNrs)

		for _, nr := range objNrs {
			decoded, err := imaging.Decode(images[nr])
			if err != nil {
				continue
			}
			text, err := r.ocr.Recognize(ctx, decoded)
			if err != nil {
				return "", err
			}
			if text != "" {
				writePage(&sb, pageNr, text)
			}
		}
	}
	return sb.String(), nil
}

func writePage(sb *strings.Builder, pageNr int, text string) {
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(sb, "[Página %d]\n%s", pageNr, text)
}

func pageText(pdf *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(pdf, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return ContentStreamText(data)
}

// pdfString matches a PDF literal string, honoring escaped parentheses.
var pdfString = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// ContentStreamText collects the strings shown by Tj, TJ, ' and " operators
// of a page content stream, one output line per text line.
func ContentStreamText(data []byte) string {
	var lines []string
	var cur strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfString.FindAllSubmatch(line, -1) {
				cur.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")), bytes.HasSuffix(line, []byte("\"")):
			flush()
			for _, m := range pdfString.FindAllSubmatch(line, -1) {
				cur.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")),
			bytes.Equal(line, []byte("T*")), bytes.Equal(line, []byte("ET")):
			flush()
		}
	}
	flush()
	return strings.Join(lines, "\n")
}

// decodePDFString resolves the escape sequences of a literal string.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 >= len(raw) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b', 'f':
		case '0', '1', '2', '3', '4', '5', '6', '7':
			val := 0
			for n := 0; n < 3 && i < len(raw) && raw[i] >= '0' && raw[i] <= '7'; n++ {
				val = val*8 + int(raw[i]-'0')
				i++
			}
			i--
			sb.WriteRune(rune(val))
		default:
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}
