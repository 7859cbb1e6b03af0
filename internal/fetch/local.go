package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// LocalEngine serves content that is already present on disk. The listing is a
// directory path; every file in it is immediately ready. It implements the
// same contract a swarm engine would, which also makes it the workhorse for
// tests.
type LocalEngine struct{}

// NewLocalEngine constructs a directory-backed engine.
func NewLocalEngine() *LocalEngine {
	return &LocalEngine{}
}

// Open enumerates the regular files under the listing directory. The storage
// namespace dir is unused: the content is served in place.
func (e *LocalEngine) Open(_ context.Context, listing, _ string) (Handle, error) {
	entries, err := os.ReadDir(listing)
	if err != nil {
		return nil, fmt.Errorf("open listing %s: %w", listing, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("listing %s contains no files", listing)
	}
	return &localHandle{dir: listing, names: names, priority: -1}, nil
}

type localHandle struct {
	dir   string
	names []string

	mu       sync.Mutex
	priority int
	closed   bool
}

func (h *localHandle) Files() []string {
	return append([]string(nil), h.names...)
}

func (h *localHandle) SetPriority(sourceIndex int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("handle closed")
	}
	if sourceIndex < 0 || sourceIndex >= len(h.names) {
		return fmt.Errorf("source index %d out of range [0, %d)", sourceIndex, len(h.names))
	}
	h.priority = sourceIndex
	return nil
}

// WaitReady never blocks: local content is complete by definition.
func (h *localHandle) WaitReady(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("handle closed")
	}
	if h.priority < 0 {
		return fmt.Errorf("no file prioritized")
	}
	return ctx.Err()
}

func (h *localHandle) Reader(ctx context.Context) (io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("handle closed")
	}
	if h.priority < 0 {
		return nil, fmt.Errorf("no file prioritized")
	}
	file, err := os.Open(filepath.Join(h.dir, h.names[h.priority]))
	if err != nil {
		return nil, fmt.Errorf("open content file: %w", err)
	}
	return file, nil
}

func (h *localHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
