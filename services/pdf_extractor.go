package services

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"patient-buddy-backend/internal/logger"
)

// ExtractionResult holds the text pulled out of an uploaded PDF.
type ExtractionResult struct {
	Text           string
	Pages          int
	WordCount      int
	CharacterCount int
	QualityScore   float64
}

// ExtractPDFText extracts plain text from a PDF held in memory. Pages
// that fail to decode are skipped rather than aborting the whole file.
func ExtractPDFText(content []byte) (*ExtractionResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	var b strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("Failed to extract PDF page", "page", i, "error", err)
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}

	extracted := strings.TrimSpace(b.String())
	if extracted == "" {
		return nil, fmt.Errorf("no text extracted from PDF")
	}

	result := &ExtractionResult{
		Text:           extracted,
		Pages:          pages,
		WordCount:      len(strings.Fields(extracted)),
		CharacterCount: len(extracted),
		QualityScore:   evaluateTextQuality(extracted),
	}
	return result, nil
}

// evaluateTextQuality scores extracted text between 0 and 1 based on how
// much of it is readable content versus decode garbage.
func evaluateTextQuality(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}

	var printable, corrupted int
	for _, r := range runes {
		switch {
		case r == '�':
			corrupted++
		case r >= 32 || r == '\n' || r == '\t':
			printable++
		default:
			corrupted++
		}
	}

	score := float64(printable)/float64(len(runes)) - 2*float64(corrupted)/float64(len(runes))
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
