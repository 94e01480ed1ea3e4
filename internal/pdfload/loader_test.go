package pdfload

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/54b3r/docrag-go/internal/rag"
)

func Test_Load_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "absent.pdf"))
	if !errors.Is(err, rag.ErrDocumentUnreadable) {
		t.Errorf("want ErrDocumentUnreadable, got %v", err)
	}
}

func Test_Load_NotAPDF(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(path, []byte("plain text, not a pdf"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Load(path)
	if !errors.Is(err, rag.ErrDocumentUnreadable) {
		t.Errorf("want ErrDocumentUnreadable, got %v", err)
	}
}

func Test_LoadBytes_Garbage(t *testing.T) {
	t.Parallel()
	_, err := LoadBytes([]byte{0x00, 0x01, 0x02}, "upload.pdf")
	if !errors.Is(err, rag.ErrDocumentUnreadable) {
		t.Errorf("want ErrDocumentUnreadable, got %v", err)
	}
}

func Test_LoadBytes_Empty(t *testing.T) {
	t.Parallel()
	_, err := LoadBytes(nil, "empty.pdf")
	if !errors.Is(err, rag.ErrDocumentUnreadable) {
		t.Errorf("want ErrDocumentUnreadable, got %v", err)
	}
}
