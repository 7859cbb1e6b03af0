// Package source implements the pluggable video delivery layer: a stable,
// orderable list of playable files per room, with streaming gated on content
// availability.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"couchsync/internal/fetch"
	"couchsync/internal/models"
)

// ErrUnknownSourceType is returned when a persisted discriminant tag does not
// match any source implementation. This indicates configuration or data
// corruption and is not retryable.
var ErrUnknownSourceType = fmt.Errorf("unknown video source type")

// VideoSource is the content-delivery contract a room owns. Exactly one
// instance exists per room: constructed on (re)load, started once, cleaned up
// exactly once when the room is destroyed or replaced.
type VideoSource interface {
	// Files returns the display-ordered file listing.
	Files() []FileEntry
	// FileIndex reports the currently selected display index, -1 before the
	// first selection.
	FileIndex() int
	// SetFileIndex commits a new selection. It reports false without side
	// effects when displayIndex equals the current selection.
	SetFileIndex(displayIndex int) (bool, error)
	// Start performs idempotent initialization; safe to call multiple times.
	Start() error
	// CancelPendingRequests aborts every in-flight streaming response without
	// affecting the underlying content fetch. Safe to call when there are none.
	CancelPendingRequests()
	// Cleanup cancels pending requests and releases all resources. Call
	// exactly once.
	Cleanup() error
	// ServeVideo writes a streamable response for the current selection. For
	// gated sources it blocks until the content is minimally available.
	ServeVideo(w http.ResponseWriter, r *http.Request) error
}

// Deps carries the collaborators source construction needs.
type Deps struct {
	Engine  fetch.Engine
	DataDir string
	Logger  *slog.Logger
}

// New resolves the persisted source-type tag to a constructor. Unknown tags
// fail with ErrUnknownSourceType.
func New(ctx context.Context, room models.Room, deps Deps) (VideoSource, error) {
	switch room.SourceType {
	case models.SourceLink:
		return NewLinkSource(room.SourceConfig), nil
	case models.SourceSwarm:
		return NewSwarmSource(ctx, room.SourceConfig, room.LastFileIndex, deps)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, room.SourceType)
	}
}
