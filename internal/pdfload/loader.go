// Package pdfload extracts plain text from PDF files for indexing.
package pdfload

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Load reads the PDF at path and returns its text as a single document,
// pages joined with blank lines. Pages whose text cannot be decoded are
// skipped; a file that cannot be opened or parsed at all fails with
// ErrDocumentUnreadable.
func Load(path string) (rag.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return rag.Document{}, fmt.Errorf("pdfload: %w: open %s: %w", rag.ErrDocumentUnreadable, path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return rag.Document{}, fmt.Errorf("pdfload: %w: stat %s: %w", rag.ErrDocumentUnreadable, path, err)
	}

	// Read the whole file up front so parsing never races a closed handle.
	data, err := io.ReadAll(f)
	if err != nil {
		return rag.Document{}, fmt.Errorf("pdfload: %w: read %s: %w", rag.ErrDocumentUnreadable, path, err)
	}

	return parse(bytes.NewReader(data), stat.Size(), filepath.Base(path))
}

// LoadBytes parses PDF content held in memory, as received from an upload.
// source names the document in chunk provenance.
func LoadBytes(data []byte, source string) (rag.Document, error) {
	return parse(bytes.NewReader(data), int64(len(data)), source)
}

func parse(r io.ReaderAt, size int64, source string) (rag.Document, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return rag.Document{}, fmt.Errorf("pdfload: %w: parse %s: %w", rag.ErrDocumentUnreadable, source, err)
	}

	pageCount := reader.NumPage()
	var content strings.Builder
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to decode rather than losing the document.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if content.Len() > 0 {
			content.WriteString("\n\n")
		}
		content.WriteString(text)
	}

	return rag.Document{
		Text:      content.String(),
		PageCount: pageCount,
		Source:    source,
	}, nil
}
