// Package room implements the per-room synchronization engine: a play/pause/
// suspend state machine reconciling timeline reports from multiple clients,
// plus the process-wide registry that owns every live room.
package room

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"couchsync/internal/events"
	"couchsync/internal/source"
)

// DriftTolerance is the maximum discrepancy, in seconds, between a
// client-reported timeline position and the server's computed position before
// the server distrusts the report and forces SUSPEND.
const DriftTolerance = 1.0

const broadcastWriteTimeout = 10 * time.Second

// nobody marks broadcasts that exclude no client.
const nobody = -1

// Conn is one client's persistent duplex connection, one text frame per
// command.
type Conn interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, msg string) error
	Close() error
}

// Persister is the slice of the persistence collaborator the room engine
// touches after every handled command.
type Persister interface {
	UpdateRoomProgress(ctx context.Context, id string, timestamp float64, fileIndex int) error
}

// Config assembles a room from its persisted configuration and collaborators.
type Config struct {
	ID           string
	Name         string
	ThumbnailURL string
	Source       source.VideoSource
	Persister    Persister
	Queue        events.Queue
	Logger       *slog.Logger
	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

// Room is one synchronized watch session. All mutable playback state is
// guarded by a single mutex: every mutating operation for a room is
// serialized, while unrelated rooms proceed in parallel.
type Room struct {
	id           string
	name         string
	thumbnailURL string
	src          source.VideoSource
	persister    Persister
	queue        events.Queue
	logger       *slog.Logger
	now          func() time.Time

	mu            sync.Mutex
	status        Status
	baseTime      float64
	lastChange    time.Time
	unsuspendTo   Status
	suspendVoters map[int]struct{}
	clients       map[int]Conn
	nextClientID  int
	lastLeave     time.Time
}

// New assembles a room in PAUSE at the given resume position.
func New(cfg Config, resumeAt float64) *Room {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	queue := cfg.Queue
	if queue == nil {
		queue = events.NopQueue{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Room{
		id:            cfg.ID,
		name:          cfg.Name,
		thumbnailURL:  cfg.ThumbnailURL,
		src:           cfg.Source,
		persister:     cfg.Persister,
		queue:         queue,
		logger:        logger.With("room_id", cfg.ID),
		now:           now,
		status:        StatusPause,
		baseTime:      resumeAt,
		lastChange:    now(),
		unsuspendTo:   StatusPlay,
		suspendVoters: make(map[int]struct{}),
		clients:       make(map[int]Conn),
		lastLeave:     now(),
	}
}

func (r *Room) ID() string           { return r.id }
func (r *Room) Name() string         { return r.name }
func (r *Room) ThumbnailURL() string { return r.thumbnailURL }

// Files returns the display-ordered file listing of the room's source.
func (r *Room) Files() []source.FileEntry {
	return r.src.Files()
}

// ServeVideo delegates streaming to the room's video source.
func (r *Room) ServeVideo(w http.ResponseWriter, req *http.Request) error {
	return r.src.ServeVideo(w, req)
}

// Status reports the current playback state.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// CurrentTime computes the authoritative timeline position: the recorded base
// plus wall-clock elapsed while playing, frozen otherwise.
func (r *Room) CurrentTime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentTimeLocked()
}

// ClientCount reports the number of connected clients.
func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// LastLeave reports when the most recent client departed, feeding the reaper.
func (r *Room) LastLeave() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLeave
}

func (r *Room) currentTimeLocked() float64 {
	if r.status == StatusPlay {
		return r.baseTime + r.now().Sub(r.lastChange).Seconds()
	}
	return r.baseTime
}

func (r *Room) setTimeLocked(ts float64) {
	r.baseTime = ts
	r.lastChange = r.now()
}

// changeStatusLocked records the reported time, applies the drift check, and
// broadcasts the resulting state. A client report further than DriftTolerance
// from the room's own computed position is untrustworthy: the room forces
// SUSPEND and tells everyone, the reporter included. Server-forced transitions
// (by == nobody) carry the agreed time and skip the check.
func (r *Room) changeStatusLocked(ctx context.Context, newStatus Status, ts float64, by int) {
	drift := math.Abs(r.currentTimeLocked() - ts)
	r.setTimeLocked(ts)

	if by != nobody && drift > DriftTolerance {
		r.logger.Warn("drift exceeds tolerance, forcing suspend", "drift", drift, "reported", ts, "client_id", by)
		r.status = StatusSuspend
		r.broadcastLocked(ctx, statusFrame(r.status, r.baseTime), nobody)
	} else {
		r.status = newStatus
		r.broadcastLocked(ctx, statusFrame(r.status, r.baseTime), by)
	}
	r.publish(ctx, events.Event{
		Type:      events.TypeStatus,
		RoomID:    r.id,
		Status:    string(r.status),
		Timestamp: r.baseTime,
	})
}

// Reconcile handles a PLAY or PAUSE report. While the room is suspended,
// reconciliation requests are ignored entirely.
func (r *Room) Reconcile(ctx context.Context, reported Status, ts float64, by int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconcileLocked(ctx, reported, ts, by)
}

func (r *Room) reconcileLocked(ctx context.Context, reported Status, ts float64, by int) {
	if r.status == StatusSuspend {
		return
	}
	r.changeStatusLocked(ctx, reported, ts, by)
}

// VoteKind distinguishes the two quorum votes.
type VoteKind int

const (
	VoteSuspend VoteKind = iota
	VoteUnsuspend
)

// Vote handles a SUSPEND or UNSUSPEND vote. The room is suspended while any
// vote is outstanding; when the last vote clears, a resume notice carrying the
// agreed time goes out and the room lands on unsuspendTo.
func (r *Room) Vote(ctx context.Context, kind VoteKind, ts float64, by int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voteLocked(ctx, kind, ts, by)
}

func (r *Room) voteLocked(ctx context.Context, kind VoteKind, ts float64, by int) {
	switch kind {
	case VoteSuspend:
		r.suspendVoters[by] = struct{}{}
		if r.status != StatusSuspend {
			r.changeStatusLocked(ctx, StatusSuspend, ts, nobody)
		}
	case VoteUnsuspend:
		delete(r.suspendVoters, by)
	}

	if len(r.suspendVoters) == 0 && r.status == StatusSuspend {
		r.broadcastLocked(ctx, resumeFrame(ts), nobody)
		r.changeStatusLocked(ctx, r.unsuspendTo, ts, nobody)
		r.unsuspendTo = StatusPlay
	}
}

// ChangeFile switches the room to a new file selection. A change pauses
// playback and re-suspends the whole room until every client re-confirms
// readiness. Reports false when the selection did not change.
func (r *Room) ChangeFile(ctx context.Context, displayIndex, by int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed, err := r.src.SetFileIndex(displayIndex)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	r.broadcastLocked(ctx, changeFileFrame(displayIndex), by)
	r.reconcileLocked(ctx, StatusPause, 0, nobody)
	for id := range r.clients {
		r.handshakeLocked(ctx, id)
	}
	r.publish(ctx, events.Event{
		Type:      events.TypeChangeFile,
		RoomID:    r.id,
		ClientID:  by,
		FileIndex: displayIndex,
	})
	return true, nil
}

// handshakeLocked (re)initializes one connected client: the room must come to
// rest in PAUSE once every outstanding suspend vote clears, and this client
// holds one of those votes until it reports readiness.
func (r *Room) handshakeLocked(ctx context.Context, id int) {
	r.unsuspendTo = StatusPause
	r.voteLocked(ctx, VoteSuspend, r.currentTimeLocked(), id)
	r.broadcastLocked(ctx, peopleCountFrame(len(r.clients)), nobody)
}

// Join registers a connection and runs the join handshake, returning the
// client's room-scoped id. Ids are assigned monotonically and never reused.
func (r *Room) Join(ctx context.Context, conn Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextClientID
	r.nextClientID++
	r.clients[id] = conn
	r.handshakeLocked(ctx, id)
	r.publish(ctx, events.Event{
		Type:     events.TypeJoin,
		RoomID:   r.id,
		ClientID: id,
		People:   len(r.clients),
	})
	return id
}

// Leave deregisters a connection, retracts its outstanding suspend vote, and
// pauses the room. A departure always pauses playback.
func (r *Room) Leave(ctx context.Context, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, id)
	if _, voted := r.suspendVoters[id]; voted {
		r.voteLocked(ctx, VoteUnsuspend, r.currentTimeLocked(), id)
	}
	r.reconcileLocked(ctx, StatusPause, r.currentTimeLocked(), nobody)
	r.broadcastLocked(ctx, peopleCountFrame(len(r.clients)), nobody)
	r.lastLeave = r.now()
	r.publish(ctx, events.Event{
		Type:     events.TypeLeave,
		RoomID:   r.id,
		ClientID: id,
		People:   len(r.clients),
	})
}

// HandleClient owns the connection for its lifetime: join handshake, one
// command per frame, leave on exit. Malformed commands and internal errors
// terminate the loop rather than being reported back to the client.
func (r *Room) HandleClient(ctx context.Context, conn Conn) {
	id := r.Join(ctx, conn)
	logger := r.logger.With("client_id", id)
	logger.Info("client connected")

	for {
		data, err := conn.ReadText(ctx)
		if err != nil {
			logger.Info("client disconnected", "reason", err)
			break
		}
		if err := r.handleCommand(ctx, data, id); err != nil {
			logger.Warn("dropping client", "error", err)
			break
		}
	}

	r.Leave(ctx, id)
	conn.Close()
}

func (r *Room) handleCommand(ctx context.Context, data string, by int) error {
	cmd, arg, err := parseFrame(data)
	if err != nil {
		return err
	}

	switch cmd {
	case cmdPlay, cmdPause:
		ts, err := parseTimestamp(arg)
		if err != nil {
			return err
		}
		r.Reconcile(ctx, Status(cmd), ts, by)
	case cmdSuspend:
		ts, err := parseTimestamp(arg)
		if err != nil {
			return err
		}
		r.Vote(ctx, VoteSuspend, ts, by)
	case cmdUnsuspend:
		ts, err := parseTimestamp(arg)
		if err != nil {
			return err
		}
		r.Vote(ctx, VoteUnsuspend, ts, by)
	case cmdChangeFile:
		index, err := parseFileIndex(arg)
		if err != nil {
			return err
		}
		if _, err := r.ChangeFile(ctx, index, by); err != nil {
			return err
		}
	default:
		return errors.Join(ErrMalformedCommand, errors.New("unknown command "+cmd))
	}

	if r.persister != nil {
		if err := r.persister.UpdateRoomProgress(ctx, r.id, r.CurrentTime(), r.src.FileIndex()); err != nil {
			r.logger.Error("failed to persist room progress", "error", err)
		}
	}
	return nil
}

// broadcastLocked fans a frame out to every connected client except the one
// identified by `except`. The fan-out runs concurrently and completes before
// the caller proceeds. A failed write closes that client's connection; its
// read loop then unwinds through the normal leave path.
func (r *Room) broadcastLocked(ctx context.Context, msg string, except int) {
	g, gctx := errgroup.WithContext(ctx)
	for id, conn := range r.clients {
		if id == except {
			continue
		}
		id, conn := id, conn
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(gctx, broadcastWriteTimeout)
			defer cancel()
			if err := conn.WriteText(wctx, msg); err != nil {
				r.logger.Debug("broadcast write failed", "client_id", id, "error", err)
				conn.Close()
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Room) publish(ctx context.Context, event events.Event) {
	event.At = r.now()
	if err := r.queue.Publish(ctx, event); err != nil {
		r.logger.Debug("event publish failed", "type", event.Type, "error", err)
	}
}

// Cleanup aborts in-flight streams and releases the room's video source.
// Call exactly once, when the room is destroyed or replaced.
func (r *Room) Cleanup() error {
	r.src.CancelPendingRequests()
	return r.src.Cleanup()
}
