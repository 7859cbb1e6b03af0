package models

import "time"

// SourceType discriminates which video source implementation a room uses. The
// value is persisted alongside the room and resolved through the source
// factory on load.
type SourceType string

const (
	// SourceLink serves a static remote resource by redirect.
	SourceLink SourceType = "link"
	// SourceSwarm streams a progressively fetched content set.
	SourceSwarm SourceType = "swarm"
)

// Room is the persisted configuration of a watch session. Live playback state
// (status, suspend votes, connected clients) is kept in memory by the room
// engine; only the selection and timeline position survive restarts.
type Room struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ThumbnailURL  string     `json:"thumbnailUrl"`
	SourceType    SourceType `json:"sourceType"`
	SourceConfig  string     `json:"sourceConfig"`
	LastFileIndex int        `json:"lastFileIndex"`
	LastTimestamp float64    `json:"lastTimestamp"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
