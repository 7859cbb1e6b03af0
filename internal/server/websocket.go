package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Room membership carries no credentials; cross-origin pages are allowed
	// to join.
	CheckOrigin: func(*http.Request) bool { return true },
}

// roomSocket upgrades the request and hands the connection to its room, which
// owns it until disconnect.
func (h *Handler) roomSocket(w http.ResponseWriter, r *http.Request, id string) {
	rm, err := h.getRoom(r.Context(), id)
	if err != nil {
		h.writeRoomError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", "room_id", id, "error", err)
		return
	}

	rm.HandleClient(context.Background(), &wsConn{conn: conn})
}

// wsConn adapts a gorilla connection to the room engine's Conn. Concurrent
// broadcast writers are serialized by the write mutex, per gorilla's single
// concurrent writer requirement.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *wsConn) ReadText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *wsConn) WriteText(ctx context.Context, msg string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(wsWriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
