// Package events publishes room lifecycle and playback transitions for
// external consumers (analytics, mirrors). Publishing is best effort: the
// room engine logs failures and moves on, it never blocks playback on the
// queue.
package events

import (
	"context"
	"time"
)

// Event types emitted by the room engine.
const (
	TypeStatus     = "status"
	TypeJoin       = "join"
	TypeLeave      = "leave"
	TypeChangeFile = "change_file"
)

// Event describes one observable room transition.
type Event struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"roomId"`
	ClientID  int       `json:"clientId,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp float64   `json:"timestamp,omitempty"`
	FileIndex int       `json:"fileIndex,omitempty"`
	People    int       `json:"people,omitempty"`
	At        time.Time `json:"at"`
}

// Queue transports room events out of the process.
type Queue interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopQueue discards every event.
type NopQueue struct{}

func (NopQueue) Publish(context.Context, Event) error { return nil }
func (NopQueue) Close() error                         { return nil }
