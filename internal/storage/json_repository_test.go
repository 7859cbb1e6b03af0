package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"couchsync/internal/models"
)

func newTestRepository(t *testing.T) (*JSONRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rooms.json")
	repo, err := NewJSONRepository(path)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repo, path
}

func TestNewJSONRepositoryRequiresPath(t *testing.T) {
	if _, err := NewJSONRepository("   "); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestJSONRepositoryLifecycle(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.CreateRoom(ctx, models.Room{
		Name:         "movie night",
		SourceType:   models.SourceLink,
		SourceConfig: "https://cdn.example.com/movie.mp4",
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected an assigned id")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}

	fetched, err := repo.GetRoom(ctx, created.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if fetched.Name != "movie night" {
		t.Fatalf("unexpected room %+v", fetched)
	}

	if err := repo.UpdateRoomProgress(ctx, created.ID, 123.5, 2); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	fetched, err = repo.GetRoom(ctx, created.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if fetched.LastTimestamp != 123.5 || fetched.LastFileIndex != 2 {
		t.Fatalf("expected progress recorded, got %+v", fetched)
	}

	if err := repo.DeleteRoom(ctx, created.ID); err != nil {
		t.Fatalf("delete room: %v", err)
	}
	if _, err := repo.GetRoom(ctx, created.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if err := repo.DeleteRoom(ctx, created.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound on double delete, got %v", err)
	}
}

func TestJSONRepositoryRejectsDuplicateID(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	room := models.Room{ID: "fixed", Name: "one", SourceType: models.SourceLink, SourceConfig: "x"}
	if _, err := repo.CreateRoom(ctx, room); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := repo.CreateRoom(ctx, room); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
}

func TestJSONRepositoryListOrdersByCreation(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	repo.now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}

	for _, name := range []string{"first", "second", "third"} {
		if _, err := repo.CreateRoom(ctx, models.Room{Name: name, SourceType: models.SourceLink, SourceConfig: "x"}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	rooms, err := repo.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	if len(rooms) != 3 {
		t.Fatalf("expected 3 rooms, got %d", len(rooms))
	}
	for i, want := range []string{"first", "second", "third"} {
		if rooms[i].Name != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, rooms[i].Name)
		}
	}
}

func TestJSONRepositoryPersistsAcrossReload(t *testing.T) {
	repo, path := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.CreateRoom(ctx, models.Room{
		Name:         "survives restarts",
		SourceType:   models.SourceSwarm,
		SourceConfig: "/srv/listing",
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := repo.UpdateRoomProgress(ctx, created.ID, 42, 1); err != nil {
		t.Fatalf("update progress: %v", err)
	}

	reopened, err := NewJSONRepository(path)
	if err != nil {
		t.Fatalf("reopen repository: %v", err)
	}
	fetched, err := reopened.GetRoom(ctx, created.ID)
	if err != nil {
		t.Fatalf("get room after reload: %v", err)
	}
	if fetched.Name != "survives restarts" || fetched.LastTimestamp != 42 || fetched.LastFileIndex != 1 {
		t.Fatalf("unexpected reloaded room %+v", fetched)
	}
}
