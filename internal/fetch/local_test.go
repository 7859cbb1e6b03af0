package fetch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeListing(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestLocalEngineOpenListsRegularFiles(t *testing.T) {
	dir := writeListing(t, map[string]string{"a.mp4": "alpha", "b.mp4": "beta"})
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	handle, err := NewLocalEngine().Open(context.Background(), dir, t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer handle.Close()

	files := handle.Files()
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}
	for _, name := range files {
		if name == "subdir" {
			t.Fatal("directories must not appear in the listing")
		}
	}
}

func TestLocalEngineOpenRejectsEmptyListing(t *testing.T) {
	if _, err := NewLocalEngine().Open(context.Background(), t.TempDir(), t.TempDir()); err == nil {
		t.Fatal("expected error for empty listing")
	}
}

func TestLocalEngineOpenRejectsMissingListing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	if _, err := NewLocalEngine().Open(context.Background(), missing, t.TempDir()); err == nil {
		t.Fatal("expected error for missing listing")
	}
}

func TestLocalHandleLifecycle(t *testing.T) {
	dir := writeListing(t, map[string]string{"a.mp4": "alpha", "b.mp4": "beta"})
	ctx := context.Background()

	handle, err := NewLocalEngine().Open(ctx, dir, t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Nothing is streamable until a file has been prioritized.
	if err := handle.WaitReady(ctx); err == nil {
		t.Fatal("expected error before prioritization")
	}
	if _, err := handle.Reader(ctx); err == nil {
		t.Fatal("expected error before prioritization")
	}

	if err := handle.SetPriority(5); err == nil {
		t.Fatal("expected error for out-of-range source index")
	}
	if err := handle.SetPriority(1); err != nil {
		t.Fatalf("set priority: %v", err)
	}
	if err := handle.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}

	reader, err := handle.Reader(ctx)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	content, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(content) != "beta" {
		t.Fatalf("expected %q, got %q", "beta", content)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := handle.SetPriority(0); err == nil {
		t.Fatal("expected error after close")
	}
	if err := handle.WaitReady(ctx); err == nil {
		t.Fatal("expected error after close")
	}
	if _, err := handle.Reader(ctx); err == nil {
		t.Fatal("expected error after close")
	}
}
