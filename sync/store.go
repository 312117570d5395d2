package sync

import "context"

// StoredEvent is an upstream record tagged with its type, ready to be written.
// Document is the upstream JSON object plus a "type" member.
type StoredEvent struct {
	ID             string
	Type           string
	Category       string
	BlockTimestamp Watermark
	Document       []byte
}

// InsertResult counts the outcome of one unordered bulk insert.
type InsertResult struct {
	Attempted  int `json:"attempted" yaml:"attempted"`
	Inserted   int `json:"inserted" yaml:"inserted"`
	Duplicates int `json:"duplicates" yaml:"duplicates"`
}

// EventWriter persists tagged events. Implementations must keep going past
// documents whose id already exists and count them as Duplicates.
type EventWriter interface {
	InsertEvents(ctx context.Context, events []StoredEvent) (InsertResult, error)
}

// CursorStore keeps the last ingested watermark per category.
type CursorStore interface {
	GetCursor(ctx context.Context, category string) (Watermark, bool, error)
	SetCursor(ctx context.Context, category string, w Watermark, runID string) error
}

type EventStore interface {
	EventWriter
	CursorStore
}
