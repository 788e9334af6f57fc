package transport

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFile_Send(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	f := NewFile(Config{Type: TypeFile, OutputDir: dir})

	if err := f.Send(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("found %d files, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasSuffix(name, "_msg-1.eml") {
		t.Errorf("file name = %s, want *_msg-1.eml", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	for _, want := range []string{"Subject: Greetings", "To: rcpt@example.com", "text/plain", "text/html"} {
		if !strings.Contains(content, want) {
			t.Errorf("file missing %q", want)
		}
	}
}

func TestFile_SendUnwritableDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	f := NewFile(Config{Type: TypeFile, OutputDir: filepath.Join(blocker, "sub")})

	if err := f.Send(context.Background(), testEnvelope()); err == nil {
		t.Error("expected error when output dir cannot be created")
	}
}
