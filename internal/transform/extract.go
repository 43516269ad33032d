package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/betzim/mediameter/internal/apperr"
	"github.com/ledongthuc/pdf"
)

// Document formats the extractor understands.
const (
	FormatPDF  = "pdf"
	FormatText = "text"
)

// DocumentFormat resolves the extraction format from a MIME type, falling
// back to the file name extension. ok is false for unsupported inputs.
func DocumentFormat(mimeType, fileName string) (string, bool) {
	mediaType := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, errParse := mime.ParseMediaType(mediaType); errParse == nil {
		mediaType = parsed
	}
	switch {
	case mediaType == "application/pdf":
		return FormatPDF, true
	case strings.HasPrefix(mediaType, "text/"):
		return FormatText, true
	}
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(fileName))) {
	case ".pdf":
		return FormatPDF, true
	case ".txt", ".text", ".md", ".csv":
		return FormatText, true
	}
	return "", false
}

// Extractor reads plain text out of downloaded documents.
type Extractor struct{}

// NewExtractor returns an Extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// Extract returns the text of the document at path in the given format.
func (e *Extractor) Extract(ctx context.Context, path, format string) (string, error) {
	const op = "transform: extract"
	if errCtx := ctx.Err(); errCtx != nil {
		return "", errCtx
	}
	switch format {
	case FormatPDF:
		text, errPDF := extractPDF(path)
		if errPDF != nil {
			return "", apperr.New(apperr.KindEmptyContent, op, errPDF)
		}
		return text, nil
	case FormatText:
		raw, errRead := os.ReadFile(path)
		if errRead != nil {
			return "", fmt.Errorf("%s: read: %w", op, errRead)
		}
		if !utf8.Valid(raw) {
			raw = bytes.ToValidUTF8(raw, []byte("�"))
		}
		return strings.TrimSpace(string(raw)), nil
	default:
		return "", apperr.New(apperr.KindUnsupportedMedia, op, apperr.ErrUnsupportedType)
	}
}

func extractPDF(path string) (text string, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	f, reader, errOpen := pdf.Open(path)
	if errOpen != nil {
		return "", fmt.Errorf("open pdf: %w", errOpen)
	}
	defer func() {
		_ = f.Close()
	}()
	plain, errText := reader.GetPlainText()
	if errText != nil {
		return "", fmt.Errorf("read pdf text: %w", errText)
	}
	var buf bytes.Buffer
	if _, errCopy := io.Copy(&buf, plain); errCopy != nil {
		return "", fmt.Errorf("read pdf text: %w", errCopy)
	}
	return strings.TrimSpace(buf.String()), nil
}
