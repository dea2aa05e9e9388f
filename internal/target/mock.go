package target

import (
	"context"
	"sync"

	"github.com/chatmirror/chatmirror/internal/mapping"
)

// MockWriter is a test double for the Writer interface. It keeps inserted
// records in memory so counts reflect what was written.
type MockWriter struct {
	PingErr  error
	CountErr error
	ClearErr error
	CloseErr error
	// InsertErr, when set, decides per record whether the insert fails.
	InsertErr func(rec *mapping.Record) error

	mu       sync.Mutex
	Inserted map[string][]*mapping.Record
	Cleared  [][]string
	Closed   bool
}

func (m *MockWriter) Ping(_ context.Context) error {
	return m.PingErr
}

func (m *MockWriter) Insert(_ context.Context, rec *mapping.Record) error {
	if m.InsertErr != nil {
		if err := m.InsertErr(rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Inserted == nil {
		m.Inserted = make(map[string][]*mapping.Record)
	}
	m.Inserted[rec.Entity] = append(m.Inserted[rec.Entity], rec)
	return nil
}

func (m *MockWriter) Count(_ context.Context, entity string) (int64, error) {
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.Inserted[entity])), nil
}

func (m *MockWriter) Clear(_ context.Context, entities []string) error {
	if m.ClearErr != nil {
		return m.ClearErr
	}
	order, err := clearOrder(entities)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range order {
		delete(m.Inserted, e)
	}
	m.Cleared = append(m.Cleared, order)
	return nil
}

func (m *MockWriter) Close(_ context.Context) error {
	m.Closed = true
	return m.CloseErr
}

// Records returns a copy of the records inserted for an entity.
func (m *MockWriter) Records(entity string) []*mapping.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*mapping.Record, len(m.Inserted[entity]))
	copy(out, m.Inserted[entity])
	return out
}
