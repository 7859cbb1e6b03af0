package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"couchsync/internal/events"
	"couchsync/internal/source"
	"couchsync/internal/storage"
)

const (
	// DefaultReapInterval is how often the reaper scans for idle rooms.
	DefaultReapInterval = time.Minute
	// DefaultInactivityThreshold is how long a room may sit empty before the
	// reaper evicts it.
	DefaultInactivityThreshold = 10 * time.Minute
)

type reapTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.ticker.C }
func (t timeTicker) Stop()               { t.ticker.Stop() }

type tickerFactory func(time.Duration) reapTicker

// RegistryConfig assembles a registry and its collaborators.
type RegistryConfig struct {
	Repository          storage.Repository
	SourceDeps          source.Deps
	Queue               events.Queue
	Logger              *slog.Logger
	ReapInterval        time.Duration
	InactivityThreshold time.Duration
	// Now overrides the wall clock, for tests.
	Now func() time.Time

	newTicker tickerFactory
}

// Registry is the single owner of every live room: rooms are created and
// destroyed here and nowhere else. A background reaper evicts rooms that have
// been empty past the inactivity threshold.
type Registry struct {
	repo       storage.Repository
	sourceDeps source.Deps
	queue      events.Queue
	logger     *slog.Logger
	now        func() time.Time

	reapInterval time.Duration
	inactivity   time.Duration
	newTicker    tickerFactory

	mu    sync.Mutex
	rooms map[string]*Room

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRegistry constructs a registry and starts its reaper.
func NewRegistry(ctx context.Context, cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	queue := cfg.Queue
	if queue == nil {
		queue = events.NopQueue{}
	}
	interval := cfg.ReapInterval
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	inactivity := cfg.InactivityThreshold
	if inactivity <= 0 {
		inactivity = DefaultInactivityThreshold
	}
	newTicker := cfg.newTicker
	if newTicker == nil {
		newTicker = func(d time.Duration) reapTicker {
			return timeTicker{ticker: time.NewTicker(d)}
		}
	}

	reapCtx, cancel := context.WithCancel(ctx)
	g := &Registry{
		repo:         cfg.Repository,
		sourceDeps:   cfg.SourceDeps,
		queue:        queue,
		logger:       logger,
		now:          now,
		reapInterval: interval,
		inactivity:   inactivity,
		newTicker:    newTicker,
		rooms:        make(map[string]*Room),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go g.reapLoop(reapCtx)
	return g
}

// GetRoom returns the live room for id, lazily loading it from the
// persistence collaborator if absent. The registry lock guarantees exactly
// one load per id under concurrent callers.
func (g *Registry) GetRoom(ctx context.Context, id string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[id]; ok {
		return r, nil
	}
	return g.loadLocked(ctx, id)
}

func (g *Registry) loadLocked(ctx context.Context, id string) (*Room, error) {
	model, err := g.repo.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	src, err := source.New(ctx, model, g.sourceDeps)
	if err != nil {
		return nil, fmt.Errorf("construct video source for room %s: %w", id, err)
	}
	if err := src.Start(); err != nil {
		src.Cleanup()
		return nil, fmt.Errorf("start video source for room %s: %w", id, err)
	}
	r := New(Config{
		ID:           model.ID,
		Name:         model.Name,
		ThumbnailURL: model.ThumbnailURL,
		Source:       src,
		Persister:    g.repo,
		Queue:        g.queue,
		Logger:       g.logger,
		Now:          g.now,
	}, model.LastTimestamp)
	g.rooms[id] = r
	g.logger.Info("room loaded", "room_id", id, "source_type", string(model.SourceType))
	return r, nil
}

// Retake evicts any live room for id and reloads fresh state from the
// persistence collaborator. Used when the authoritative configuration changed
// externally.
func (g *Registry) Retake(ctx context.Context, id string) (*Room, error) {
	g.mu.Lock()
	prev := g.rooms[id]
	delete(g.rooms, id)
	r, err := g.loadLocked(ctx, id)
	g.mu.Unlock()

	if prev != nil {
		g.cleanupRoom(prev)
	}
	return r, err
}

// DeleteRoom evicts the live room, deletes the persisted configuration, and
// cleans up.
func (g *Registry) DeleteRoom(ctx context.Context, id string) error {
	g.mu.Lock()
	prev := g.rooms[id]
	delete(g.rooms, id)
	g.mu.Unlock()

	err := g.repo.DeleteRoom(ctx, id)
	if prev != nil {
		g.cleanupRoom(prev)
	}
	return err
}

func (g *Registry) cleanupRoom(r *Room) {
	if err := r.Cleanup(); err != nil {
		g.logger.Error("room cleanup failed", "room_id", r.ID(), "error", err)
	}
}

func (g *Registry) reapLoop(ctx context.Context) {
	ticker := g.newTicker(g.reapInterval)
	defer func() {
		ticker.Stop()
		close(g.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			g.reapOnce()
		}
	}
}

// reapOnce evicts every room with zero connected clients whose last departure
// is older than the inactivity threshold. Cleanup can block on I/O, so it
// always runs outside the registry lock.
func (g *Registry) reapOnce() {
	g.mu.Lock()
	ids := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	for _, id := range ids {
		g.mu.Lock()
		r, ok := g.rooms[id]
		if !ok || r.ClientCount() > 0 || g.now().Sub(r.LastLeave()) < g.inactivity {
			g.mu.Unlock()
			continue
		}
		delete(g.rooms, id)
		g.mu.Unlock()

		g.cleanupRoom(r)
		g.logger.Info("reaped idle room", "room_id", id)
	}
}

// Close cancels the reaper and cleans up every resident room.
func (g *Registry) Close() {
	g.stopOnce.Do(func() {
		g.cancel()
		<-g.done

		g.mu.Lock()
		rooms := make([]*Room, 0, len(g.rooms))
		for _, r := range g.rooms {
			rooms = append(rooms, r)
		}
		g.rooms = make(map[string]*Room)
		g.mu.Unlock()

		for _, r := range rooms {
			g.cleanupRoom(r)
		}
	})
}
