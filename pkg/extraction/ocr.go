package extraction

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// DefaultOCRMinHeight is the height scans are upscaled to before recognition.
const DefaultOCRMinHeight = 1200

// OCR reads scanned images with Tesseract.
type OCR struct {
	languages []string
	minHeight int
}

var _ TextReader = (*OCR)(nil)

// NewOCR creates a reader for the given Tesseract languages, e.g. "spa+eng".
func NewOCR(languages string) *OCR {
	var langs []string
	for _, l := range strings.Split(languages, "+") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	if len(langs) == 0 {
		langs = []string{"spa", "eng"}
	}
	return &OCR{languages: langs, minHeight: DefaultOCRMinHeight}
}

// ReadText recognizes the text of a single image file.
func (o *OCR) ReadText(ctx context.Context, path string) (string, int, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", 0, fmt.Errorf("open image: %w", err)
	}
	text, err := o.Recognize(ctx, img)
	if err != nil {
		return "", 0, err
	}
	return text, 1, nil
}

// Recognize runs OCR on a decoded image.
func (o *OCR) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmpFile, err := os.CreateTemp("", "obra-ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	tmp := tmpFile.Name()
	_ = tmpFile.Close()
	defer os.Remove(tmp)

	if err := imaging.Save(Preprocess(img, o.minHeight), tmp); err != nil {
		return "", fmt.Errorf("save preprocessed image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(o.languages...); err != nil {
		return "", fmt.Errorf("ocr language: %w", err)
	}
	if err := client.SetImage(tmp); err != nil {
		return "", fmt.Errorf("ocr image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Preprocess converts img to grayscale and upscales short scans to minHeight.
func Preprocess(img image.Image, minHeight int) *image.NRGBA {
	gray := imaging.Grayscale(img)
	if minHeight > 0 && gray.Bounds().Dy() < minHeight {
		gray = imaging.Resize(gray, 0, minHeight, imaging.Lanczos)
	}
	return gray
}
