package events

import (
	"context"
	"sync"
	"time"

	"questboard/internal/domain"
)

// Memory keeps the audit log in process.
type Memory struct {
	mu    sync.Mutex
	items []domain.Event
	Now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{Now: time.Now}
}

func (m *Memory) Append(ctx context.Context, evt domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	evt.ID = int64(len(m.items)) + 1
	if evt.TS.IsZero() {
		evt.TS = m.Now()
	}
	m.items = append(m.items, evt)
	return nil
}

func (m *Memory) Latest(ctx context.Context, f Filter) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := f.limit()
	var out []domain.Event
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		if f.matches(m.items[i]) {
			out = append(out, m.items[i])
		}
	}
	return out, nil
}

// After returns up to limit events with ID greater than cursor, oldest first.
func (m *Memory) After(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	var out []domain.Event
	for i := int(cursor); i < len(m.items) && len(out) < limit; i++ {
		out = append(out, m.items[i])
	}
	return out, nil
}

func (m *Memory) LatestID(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.items)), nil
}
