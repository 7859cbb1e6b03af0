package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"couchsync/internal/models"
)

type dataset struct {
	Rooms map[string]models.Room `json:"rooms"`
}

// JSONRepository keeps room configuration in a single JSON file on disk. It is
// safe for concurrent use and intended for development or single-instance
// deployments; every mutation rewrites the file atomically.
type JSONRepository struct {
	mu   sync.RWMutex
	path string
	data dataset
	now  func() time.Time
}

// NewJSONRepository loads (or initialises) the datastore at path.
func NewJSONRepository(path string) (*JSONRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("datastore path required")
	}
	repo := &JSONRepository{
		path: path,
		data: dataset{Rooms: make(map[string]models.Room)},
		now:  func() time.Time { return time.Now().UTC() },
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *JSONRepository) load() error {
	raw, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read datastore: %w", err)
	}
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse datastore: %w", err)
	}
	if data.Rooms == nil {
		data.Rooms = make(map[string]models.Room)
	}
	r.data = data
	return nil
}

// persist writes the dataset to a temporary file and renames it into place.
// Callers must hold the write lock.
func (r *JSONRepository) persist() error {
	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode datastore: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create datastore dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".couchsync-*.json")
	if err != nil {
		return fmt.Errorf("create temp datastore: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write datastore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close datastore: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace datastore: %w", err)
	}
	return nil
}

// Ping always reports success for the on-disk store.
func (r *JSONRepository) Ping(context.Context) error {
	return nil
}

// CreateRoom stores a new room configuration, assigning an ID when absent.
func (r *JSONRepository) CreateRoom(_ context.Context, room models.Room) (models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(room.ID) == "" {
		id, err := newID()
		if err != nil {
			return models.Room{}, err
		}
		room.ID = id
	}
	if _, exists := r.data.Rooms[room.ID]; exists {
		return models.Room{}, fmt.Errorf("room %s already exists", room.ID)
	}
	now := r.now()
	room.CreatedAt = now
	room.UpdatedAt = now
	r.data.Rooms[room.ID] = room
	if err := r.persist(); err != nil {
		delete(r.data.Rooms, room.ID)
		return models.Room{}, err
	}
	return room, nil
}

// GetRoom retrieves the persisted configuration for the given room ID.
func (r *JSONRepository) GetRoom(_ context.Context, id string) (models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.data.Rooms[id]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	return room, nil
}

// ListRooms returns every persisted room ordered by creation time.
func (r *JSONRepository) ListRooms(context.Context) ([]models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]models.Room, 0, len(r.data.Rooms))
	for _, room := range r.data.Rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms, nil
}

// UpdateRoomProgress records the current timeline position and file selection.
func (r *JSONRepository) UpdateRoomProgress(_ context.Context, id string, timestamp float64, fileIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.data.Rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	room.LastTimestamp = timestamp
	room.LastFileIndex = fileIndex
	room.UpdatedAt = r.now()
	r.data.Rooms[id] = room
	return r.persist()
}

// DeleteRoom removes the persisted configuration for the given room ID.
func (r *JSONRepository) DeleteRoom(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.Rooms[id]; !ok {
		return ErrRoomNotFound
	}
	delete(r.data.Rooms, id)
	return r.persist()
}

// Close is a no-op for the on-disk store.
func (r *JSONRepository) Close(context.Context) error {
	return nil
}
