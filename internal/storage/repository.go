package storage

import (
	"context"
	"errors"

	"couchsync/internal/models"
)

// ErrRoomNotFound is returned when a room ID has no persisted configuration.
var ErrRoomNotFound = errors.New("room not found")

// Repository exposes the datastore operations required by the room engine and
// the API handlers.
type Repository interface {
	Ping(ctx context.Context) error

	CreateRoom(ctx context.Context, room models.Room) (models.Room, error)
	GetRoom(ctx context.Context, id string) (models.Room, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	// UpdateRoomProgress records the authoritative timeline position and file
	// selection after every handled room command.
	UpdateRoomProgress(ctx context.Context, id string, timestamp float64, fileIndex int) error
	DeleteRoom(ctx context.Context, id string) error

	Close(ctx context.Context) error
}
