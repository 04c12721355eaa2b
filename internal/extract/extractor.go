// Package extract provides text extraction for the file formats a notebook may hold.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidEncoding is returned for text files that are not valid UTF-8.
var ErrInvalidEncoding = errors.New("file is not valid UTF-8")

// Extractor extracts markdown-compatible text from notebook files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
// Returns an error if the file cannot be read or its content cannot be decoded.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Binary formats are rendered with
// markdown headings per page or sheet so the chunker can cut at them.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".xlsx":
		return extractExcel(content)
	default:
		return extractPlain(content)
	}
}

// IsText reports whether ext is read as plain text, so its bytes can be written back.
func IsText(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".xlsx":
		return false
	}
	return true
}
