package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"couchsync/internal/fetch"
)

// SwarmSource streams a progressively fetched content set. Construction
// allocates an isolated storage namespace, opens the listing through the
// content fetcher, and prioritizes the persisted selection. Streaming is
// gated: ServeVideo blocks until the engine reports the current selection has
// enough data to begin.
type SwarmSource struct {
	engine fetch.Engine
	handle fetch.Handle
	dir    string
	logger *slog.Logger

	mu        sync.Mutex
	mapping   *FileIndexMapping
	fileIndex int
	pending   map[int64]context.CancelFunc
	nextReq   int64
}

// NewSwarmSource opens the listing and commits the initial selection. The
// storage namespace is a fresh random identifier under deps.DataDir; reusing a
// namespace across rooms or restarts would mix content sets, so collisions are
// a correctness violation.
func NewSwarmSource(ctx context.Context, listing string, initialIndex int, deps Deps) (*SwarmSource, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("content engine required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Join(deps.DataDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage namespace: %w", err)
	}

	handle, err := deps.Engine.Open(ctx, listing, dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("open content listing: %w", err)
	}

	s := &SwarmSource{
		engine:    deps.Engine,
		handle:    handle,
		dir:       dir,
		logger:    logger.With("storage_dir", dir),
		mapping:   NewFileIndexMapping(handle.Files()),
		fileIndex: -1,
		pending:   make(map[int64]context.CancelFunc),
	}

	if initialIndex < 0 || initialIndex >= s.mapping.Len() {
		initialIndex = 0
	}
	if _, err := s.SetFileIndex(initialIndex); err != nil {
		handle.Close()
		os.RemoveAll(dir)
		return nil, err
	}
	return s, nil
}

func (s *SwarmSource) Files() []FileEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping.ListSorted()
}

func (s *SwarmSource) FileIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileIndex
}

// SetFileIndex translates the display index to the engine's source index and
// re-prioritizes the fetch. The prioritization is replaced synchronously with
// the index change so no stale-selection bytes are served.
func (s *SwarmSource) SetFileIndex(displayIndex int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if displayIndex == s.fileIndex {
		return false, nil
	}
	sourceIndex, err := s.mapping.ToSourceIndex(displayIndex)
	if err != nil {
		return false, err
	}
	if err := s.handle.SetPriority(sourceIndex); err != nil {
		return false, fmt.Errorf("prioritize file: %w", err)
	}
	s.fileIndex = displayIndex
	s.logger.Debug("file selection changed", "display_index", displayIndex, "source_index", sourceIndex)
	return true, nil
}

// Start ensures the backing storage exists. Safe to call multiple times.
func (s *SwarmSource) Start() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create storage namespace: %w", err)
	}
	return nil
}

// CancelPendingRequests aborts every in-flight streaming response. The
// underlying fetch keeps running; only the HTTP responses are signalled to
// terminate, without waiting for client transports to close.
func (s *SwarmSource) CancelPendingRequests() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.pending))
	for _, cancel := range s.pending {
		cancels = append(cancels, cancel)
	}
	s.pending = make(map[int64]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Cleanup cancels pending responses, closes the engine handle, and removes the
// storage namespace. Call exactly once.
func (s *SwarmSource) Cleanup() error {
	s.CancelPendingRequests()
	err := s.handle.Close()
	if rmErr := os.RemoveAll(s.dir); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// ServeVideo blocks until the current selection is ready, then streams it,
// honoring range requests. The response is registered so a later
// CancelPendingRequests or Cleanup can abort it mid-transfer.
func (s *SwarmSource) ServeVideo(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithCancel(r.Context())
	id := s.register(cancel)
	defer func() {
		s.unregister(id)
		cancel()
	}()

	if err := s.handle.WaitReady(ctx); err != nil {
		return fmt.Errorf("wait for content: %w", err)
	}

	reader, err := s.handle.Reader(ctx)
	if err != nil {
		return fmt.Errorf("open content stream: %w", err)
	}
	defer reader.Close()

	s.mu.Lock()
	name, nameErr := s.mapping.Name(s.fileIndex)
	s.mu.Unlock()
	if nameErr != nil {
		return nameErr
	}

	http.ServeContent(w, r.WithContext(ctx), name, time.Time{}, &cancellableReader{ctx: ctx, r: reader})
	return nil
}

func (s *SwarmSource) register(cancel context.CancelFunc) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextReq++
	id := s.nextReq
	s.pending[id] = cancel
	return id
}

func (s *SwarmSource) unregister(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// cancellableReader makes cancellation effective even when the underlying
// reader does not observe the context.
type cancellableReader struct {
	ctx context.Context
	r   io.ReadSeeker
}

func (c *cancellableReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func (c *cancellableReader) Seek(offset int64, whence int) (int64, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Seek(offset, whence)
}
