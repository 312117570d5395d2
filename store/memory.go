package store

import (
	"context"
	"sort"
	gosync "sync"

	"github.com/homemade/vaultsync/sync"
)

// MemoryStore keeps everything in process memory. It is used for dry runs and tests.
type MemoryStore struct {
	mu      gosync.Mutex
	events  map[string]sync.StoredEvent
	order   []string
	cursors map[string]Cursor
}

// Cursor is the persisted sync state of one category.
type Cursor struct {
	Category           string
	LastBlockTimestamp sync.Watermark
	RunID              string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string]sync.StoredEvent),
		cursors: make(map[string]Cursor),
	}
}

func (m *MemoryStore) InsertEvents(ctx context.Context, events []sync.StoredEvent) (sync.InsertResult, error) {
	result := sync.InsertResult{Attempted: len(events)}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, exists := m.events[e.ID]; exists {
			result.Duplicates++
			continue
		}
		e.Document = append([]byte(nil), e.Document...)
		m.events[e.ID] = e
		m.order = append(m.order, e.ID)
		result.Inserted++
	}
	return result, nil
}

func (m *MemoryStore) GetCursor(ctx context.Context, category string) (sync.Watermark, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[category]
	return c.LastBlockTimestamp, ok, nil
}

func (m *MemoryStore) SetCursor(ctx context.Context, category string, w sync.Watermark, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[category] = Cursor{Category: category, LastBlockTimestamp: w, RunID: runID}
	return nil
}

func (m *MemoryStore) LatestEvents(ctx context.Context, eventType string, limit int) ([]sync.StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []sync.StoredEvent
	for _, id := range m.order {
		if e := m.events[id]; e.Type == eventType {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].BlockTimestamp.After(result[j].BlockTimestamp)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Events returns every stored event in insertion order.
func (m *MemoryStore) Events() []sync.StoredEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]sync.StoredEvent, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.events[id])
	}
	return result
}

// Cursors returns a copy of the stored cursors keyed by category.
func (m *MemoryStore) Cursors() map[string]Cursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]Cursor, len(m.cursors))
	for k, v := range m.cursors {
		result[k] = v
	}
	return result
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}
