package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"couchsync/internal/models"
	"couchsync/internal/room"
	"couchsync/internal/source"
	"couchsync/internal/storage"
)

// Handler serves the room API. Room resolution goes through the registry;
// persisted configuration comes from the repository.
type Handler struct {
	registry *room.Registry
	repo     storage.Repository
	logger   *slog.Logger
}

// NewHandler constructs the API handler.
func NewHandler(registry *room.Registry, repo storage.Repository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{registry: registry, repo: repo, logger: logger}
}

// Health reports liveness and datastore reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("datastore unavailable: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Rooms handles the collection: list and create.
func (h *Handler) Rooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rooms, err := h.repo.ListRooms(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, rooms)
	case http.MethodPost:
		h.createRoom(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

type createRoomRequest struct {
	Name         string  `json:"name"`
	ThumbnailURL string  `json:"thumbnailUrl"`
	SourceType   string  `json:"sourceType"`
	SourceConfig string  `json:"sourceConfig"`
	StartAt      float64 `json:"startAt"`
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	sourceType := models.SourceType(req.SourceType)
	switch sourceType {
	case models.SourceLink, models.SourceSwarm:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported source type %q", req.SourceType))
		return
	}
	if strings.TrimSpace(req.SourceConfig) == "" {
		writeError(w, http.StatusBadRequest, errors.New("sourceConfig is required"))
		return
	}

	created, err := h.repo.CreateRoom(r.Context(), models.Room{
		Name:          req.Name,
		ThumbnailURL:  req.ThumbnailURL,
		SourceType:    sourceType,
		SourceConfig:  req.SourceConfig,
		LastTimestamp: req.StartAt,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// RoomByID routes /api/rooms/{id}[/subresource].
func (h *Handler) RoomByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, errors.New("room id required"))
		return
	}

	switch sub {
	case "":
		h.roomResource(w, r, id)
	case "files":
		h.roomFiles(w, r, id)
	case "video":
		h.roomVideo(w, r, id)
	case "retake":
		h.roomRetake(w, r, id)
	case "ws":
		h.roomSocket(w, r, id)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown resource %q", sub))
	}
}

func (h *Handler) roomResource(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		model, err := h.repo.GetRoom(r.Context(), id)
		if err != nil {
			h.writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, model)
	case http.MethodDelete:
		if err := h.registry.DeleteRoom(r.Context(), id); err != nil {
			h.writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (h *Handler) roomFiles(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	rm, err := h.getRoom(r.Context(), id)
	if err != nil {
		h.writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rm.Files())
}

func (h *Handler) roomVideo(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	rm, err := h.getRoom(r.Context(), id)
	if err != nil {
		h.writeRoomError(w, err)
		return
	}
	if err := rm.ServeVideo(w, r); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Error("video stream failed", "room_id", id, "error", err)
		writeError(w, http.StatusBadGateway, errors.New("video stream unavailable"))
	}
}

func (h *Handler) roomRetake(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if _, err := h.registry.Retake(r.Context(), id); err != nil {
		h.writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (h *Handler) getRoom(ctx context.Context, id string) (*room.Room, error) {
	return h.registry.GetRoom(ctx, id)
}

func (h *Handler) writeRoomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, source.ErrUnknownSourceType):
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
