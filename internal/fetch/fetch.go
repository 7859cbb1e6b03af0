// Package fetch defines the boundary to the content fetcher: the external
// component that retrieves a selected file's bytes progressively and signals
// readiness. The real swarm engine lives outside this repository; this package
// specifies the contract the video sources consume and ships a local
// directory engine for pre-downloaded content.
package fetch

import (
	"context"
	"io"
)

// Engine opens content listings and hands back per-listing handles.
type Engine interface {
	// Open prepares the content described by listing, using dir as the
	// isolated storage namespace for anything the engine writes to disk.
	Open(ctx context.Context, listing, dir string) (Handle, error)
}

// Handle is a single opened content set. File names are reported in the
// engine's own enumeration order, which is unspecified and may differ between
// runs; callers index files by position in that listing (the source index).
type Handle interface {
	Files() []string
	// SetPriority directs the engine to fetch the file at sourceIndex next,
	// replacing any previous prioritization.
	SetPriority(sourceIndex int) error
	// WaitReady blocks until the prioritized file has enough data to begin
	// streaming, or the context is cancelled.
	WaitReady(ctx context.Context) error
	// Reader returns a byte source for the prioritized file.
	Reader(ctx context.Context) (io.ReadSeekCloser, error)
	Close() error
}
