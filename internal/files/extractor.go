package files

import (
	"context"
	"os"
	"unicode/utf8"

	"github.com/parleyhq/parley/internal/persistence"
)

const defaultMaxExtractedChars = 50_000

// TextExtractor handles plain-text formats directly. Binary formats
// (pdf, docx) report extraction as failed so the upload is still
// stored and listed; a richer Extractor can replace this one without
// touching the service.
type TextExtractor struct {
	// MaxChars caps the extracted text; longer content is truncated
	// and marked too_large. Zero means 50000.
	MaxChars int
}

func (e TextExtractor) Extract(_ context.Context, path, ext string) (string, string) {
	switch ext {
	case ".txt", ".md", ".csv", ".json", ".log":
	default:
		return "", persistence.ExtractionFailed
	}
	raw, err := os.ReadFile(path)
	if err != nil || !utf8.Valid(raw) {
		return "", persistence.ExtractionFailed
	}
	max := e.MaxChars
	if max <= 0 {
		max = defaultMaxExtractedChars
	}
	runes := []rune(string(raw))
	if len(runes) > max {
		return string(runes[:max]), persistence.ExtractionTooLarge
	}
	return string(runes), persistence.ExtractionSuccess
}
