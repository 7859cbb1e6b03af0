package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"couchsync/internal/fetch"
	"couchsync/internal/models"
)

func TestLinkSourceRedirects(t *testing.T) {
	src := NewLinkSource("https://cdn.example.com/movie.mp4")

	files := src.Files()
	if len(files) != 1 || files[0].Index != 0 {
		t.Fatalf("expected a single file entry, got %v", files)
	}
	if got := src.FileIndex(); got != 0 {
		t.Fatalf("expected file index 0, got %d", got)
	}

	changed, err := src.SetFileIndex(5)
	if err != nil || changed {
		t.Fatalf("expected selection to be a no-op, got changed=%v err=%v", changed, err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/video", nil)
	if err := src.ServeVideo(rec, req); err != nil {
		t.Fatalf("serve video: %v", err)
	}
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "https://cdn.example.com/movie.mp4" {
		t.Fatalf("unexpected redirect target %q", got)
	}
}

func TestNewRejectsUnknownSourceType(t *testing.T) {
	_, err := New(context.Background(), models.Room{SourceType: "magnet"}, Deps{})
	if !errors.Is(err, ErrUnknownSourceType) {
		t.Fatalf("expected ErrUnknownSourceType, got %v", err)
	}
}

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

func newSwarmDeps(t *testing.T) (Deps, string) {
	t.Helper()
	dataDir := t.TempDir()
	return Deps{Engine: fetch.NewLocalEngine(), DataDir: dataDir}, dataDir
}

func TestSwarmSourceSelectionAndStreaming(t *testing.T) {
	listing := writeListing(t, map[string]string{
		"c.mp4": "gamma",
		"a.mp4": "alpha",
		"b.mp4": "beta",
	})
	deps, dataDir := newSwarmDeps(t)

	src, err := NewSwarmSource(context.Background(), listing, 1, deps)
	if err != nil {
		t.Fatalf("new swarm source: %v", err)
	}

	files := src.Files()
	wantNames := []string{"a.mp4", "b.mp4", "c.mp4"}
	for i, want := range wantNames {
		if files[i].Name != want {
			t.Fatalf("file %d: expected %q, got %q", i, want, files[i].Name)
		}
	}
	if got := src.FileIndex(); got != 1 {
		t.Fatalf("expected persisted selection 1, got %d", got)
	}

	serve := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/video", nil)
		if err := src.ServeVideo(rec, req); err != nil {
			t.Fatalf("serve video: %v", err)
		}
		return rec
	}

	if got := serve().Body.String(); got != "beta" {
		t.Fatalf("expected body %q, got %q", "beta", got)
	}

	changed, err := src.SetFileIndex(1)
	if err != nil || changed {
		t.Fatalf("expected re-selection to be a no-op, got changed=%v err=%v", changed, err)
	}
	changed, err = src.SetFileIndex(0)
	if err != nil || !changed {
		t.Fatalf("expected selection change, got changed=%v err=%v", changed, err)
	}
	if got := serve().Body.String(); got != "alpha" {
		t.Fatalf("expected body %q, got %q", "alpha", got)
	}

	if _, err := src.SetFileIndex(7); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}

	if err := src.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		t.Fatalf("read data dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected storage namespace removed, found %d entries", len(entries))
	}
}

func TestSwarmSourceServesRangeRequests(t *testing.T) {
	listing := writeListing(t, map[string]string{"a.mp4": "alphabet"})
	deps, _ := newSwarmDeps(t)

	src, err := NewSwarmSource(context.Background(), listing, 0, deps)
	if err != nil {
		t.Fatalf("new swarm source: %v", err)
	}
	defer src.Cleanup()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/video", nil)
	req.Header.Set("Range", "bytes=2-4")
	if err := src.ServeVideo(rec, req); err != nil {
		t.Fatalf("serve video: %v", err)
	}
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "pha" {
		t.Fatalf("expected partial body %q, got %q", "pha", got)
	}
}

func TestSwarmSourceClampsPersistedIndex(t *testing.T) {
	listing := writeListing(t, map[string]string{"a.mp4": "alpha", "b.mp4": "beta"})
	deps, _ := newSwarmDeps(t)

	src, err := NewSwarmSource(context.Background(), listing, 99, deps)
	if err != nil {
		t.Fatalf("new swarm source: %v", err)
	}
	defer src.Cleanup()

	if got := src.FileIndex(); got != 0 {
		t.Fatalf("expected out-of-range persisted index clamped to 0, got %d", got)
	}
}

// gatedEngine blocks WaitReady until the serving context is cancelled,
// standing in for a fetcher that never has enough data.
type gatedEngine struct {
	handle *gatedHandle
}

type gatedHandle struct {
	waiting chan struct{}
}

func (e *gatedEngine) Open(context.Context, string, string) (fetch.Handle, error) {
	return e.handle, nil
}

func (h *gatedHandle) Files() []string { return []string{"pending.mp4"} }

func (h *gatedHandle) SetPriority(int) error { return nil }

func (h *gatedHandle) WaitReady(ctx context.Context) error {
	select {
	case h.waiting <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (h *gatedHandle) Reader(context.Context) (io.ReadSeekCloser, error) {
	return nil, errors.New("not ready")
}

func (h *gatedHandle) Close() error { return nil }

func TestSwarmSourceCancelPendingRequests(t *testing.T) {
	handle := &gatedHandle{waiting: make(chan struct{}, 1)}
	deps := Deps{Engine: &gatedEngine{handle: handle}, DataDir: t.TempDir()}

	src, err := NewSwarmSource(context.Background(), "whatever", 0, deps)
	if err != nil {
		t.Fatalf("new swarm source: %v", err)
	}
	defer src.Cleanup()

	served := make(chan error, 1)
	go func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/video", nil)
		served <- src.ServeVideo(rec, req)
	}()

	select {
	case <-handle.waiting:
	case <-time.After(time.Second):
		t.Fatal("stream never reached the readiness gate")
	}

	src.CancelPendingRequests()

	select {
	case err := <-served:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not abort after cancellation")
	}
}
