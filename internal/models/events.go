package models

// Event names carried on the ingest stream.
const (
	EventLoad   = "load"
	EventChunk  = "chunk"
	EventUpdate = "update"
	EventDelete = "delete"
)

// EventVersion is the current ingest event schema version.
const EventVersion = 1

// IngestEvent drives the staged ingestion pipeline for one resource.
type IngestEvent struct {
	Version int             `json:"version"`
	Event   string          `json:"event"`
	Data    IngestEventData `json:"data"`
}

// IngestEventData identifies the resource an ingest event applies to.
type IngestEventData struct {
	ResourceID   string `json:"resourceId"`
	CollectionID string `json:"collectionId"`
	OwnerID      string `json:"ownerId"`
	URL          string `json:"url,omitempty"`
}

// Persist event kinds consumed by the storage workers.
const (
	PersistUpsert = "upsert"
	PersistDelete = "delete"
)

// PersistEvent carries a batch of encoded chunks (or a delete filter) to the
// storage workers. Chunks carrying a rerank matrix are published one per
// event; the payload is too large to batch safely.
type PersistEvent struct {
	Version      int     `json:"version"`
	Event        string  `json:"event"`
	CollectionID string  `json:"collectionId"`
	ResourceID   string  `json:"resourceId"`
	OwnerID      string  `json:"ownerId"`
	Chunks       []Chunk `json:"chunks,omitempty"`
}

// Feedback actions.
const (
	ActionUpvote   = "upvote"
	ActionDownvote = "downvote"
)

// FeedbackEvent is one upvote or downvote for a chunk under a query.
type FeedbackEvent struct {
	Version      int    `json:"version"`
	Query        string `json:"query"`
	ChunkID      string `json:"chunkId"`
	ResourceID   string `json:"resourceId"`
	Action       string `json:"action"`
	CollectionID string `json:"collectionId"`
	OwnerID      string `json:"ownerId"`
}
