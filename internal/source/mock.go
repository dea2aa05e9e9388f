package source

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chatmirror/chatmirror/internal/mapping"
)

// MockReader is a test double for the Reader interface. Tables holds the
// rows of each entity in id order.
type MockReader struct {
	PingErr     error
	RowCountErr error
	ReadErr     error
	// ReadErrAt fails ReadPage for an entity once its offset reaches the value.
	ReadErrAt map[string]int
	QueryErr  error

	Tables map[string][]map[string]any

	mu    sync.Mutex
	Reads []PageRead
}

// PageRead records one ReadPage call.
type PageRead struct {
	Entity string
	Offset int
	Limit  int
}

func (m *MockReader) Ping(_ context.Context) error {
	return m.PingErr
}

func (m *MockReader) RowCount(_ context.Context, entity string) (int64, error) {
	if m.RowCountErr != nil {
		return 0, m.RowCountErr
	}
	if _, err := mapping.Lookup(entity); err != nil {
		return 0, err
	}
	return int64(len(m.Tables[entity])), nil
}

func (m *MockReader) ReadPage(_ context.Context, e mapping.Entity, offset, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	m.Reads = append(m.Reads, PageRead{Entity: e.Name, Offset: offset, Limit: limit})
	m.mu.Unlock()

	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	if at, ok := m.ReadErrAt[e.Name]; ok && offset >= at {
		return nil, fmt.Errorf("reading %s at offset %d: connection lost", e.Name, offset)
	}
	return window(m.Tables[e.Name], offset, limit), nil
}

// PageReads returns a copy of the recorded ReadPage calls.
func (m *MockReader) PageReads() []PageRead {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PageRead, len(m.Reads))
	copy(out, m.Reads)
	return out
}

func (m *MockReader) Projects(_ context.Context, q PageQuery) (*Page, error) {
	return m.page(mapping.Projects, q, nil)
}

func (m *MockReader) Conversations(_ context.Context, q PageQuery) (*Page, error) {
	var keep func(map[string]any) bool
	if q.ProjectName != "" {
		keep = func(r map[string]any) bool { return r["project_name"] == q.ProjectName }
	}
	return m.page(mapping.Conversations, q, keep)
}

func (m *MockReader) Messages(_ context.Context, q PageQuery) (*Page, error) {
	if q.ConversationID == "" {
		return nil, ErrConversationRequired
	}
	return m.page(mapping.Messages, q, func(r map[string]any) bool {
		return fmt.Sprint(r["conversation_id"]) == q.ConversationID
	})
}

func (m *MockReader) page(entity string, q PageQuery, keep func(map[string]any) bool) (*Page, error) {
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	q = q.Normalize()
	rows := filter(m.Tables[entity], keep)
	return &Page{
		Data:           window(rows, q.Offset, q.Limit),
		Total:          int64(len(rows)),
		Limit:          q.Limit,
		Offset:         q.Offset,
		ProjectName:    q.ProjectName,
		ConversationID: q.ConversationID,
	}, nil
}

func (m *MockReader) Search(_ context.Context, term, entityType string, limit int) (*SearchResult, error) {
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	var cols []string
	switch entityType {
	case mapping.Projects:
		cols = []string{"name", "platform"}
	case mapping.Conversations:
		cols = []string{"name", "project_name"}
	case mapping.Messages:
		cols = []string{"content"}
	default:
		return nil, &InvalidSearchTypeError{Type: entityType}
	}
	rows := filter(m.Tables[entityType], func(r map[string]any) bool {
		for _, c := range cols {
			if s, ok := r[c].(string); ok && strings.Contains(s, term) {
				return true
			}
		}
		return false
	})
	rows = window(rows, 0, clampLimit(limit))
	return &SearchResult{Data: rows, SearchTerm: term, SearchType: entityType, Count: len(rows)}, nil
}

func filter(rows []map[string]any, keep func(map[string]any) bool) []map[string]any {
	if keep == nil {
		return rows
	}
	var out []map[string]any
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func window(rows []map[string]any, offset, limit int) []map[string]any {
	if offset >= len(rows) {
		return []map[string]any{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}
