package source

import (
	"context"
	"errors"
	"testing"

	"github.com/chatmirror/chatmirror/internal/mapping"
)

func TestPageQuery_Normalize(t *testing.T) {
	tests := []struct {
		name       string
		in         PageQuery
		wantLimit  int
		wantOffset int
	}{
		{"defaults", PageQuery{}, 50, 0},
		{"kept", PageQuery{Limit: 20, Offset: 40}, 20, 40},
		{"capped", PageQuery{Limit: 10000}, 500, 0},
		{"negative offset", PageQuery{Limit: 5, Offset: -3}, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			if got.Limit != tt.wantLimit || got.Offset != tt.wantOffset {
				t.Errorf("Normalize() = limit %d offset %d, want %d %d", got.Limit, got.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestInvalidSearchTypeError(t *testing.T) {
	err := error(&InvalidSearchTypeError{Type: "users"})
	var ist *InvalidSearchTypeError
	if !errors.As(err, &ist) || ist.Type != "users" {
		t.Errorf("errors.As failed for %v", err)
	}
}

func mockTables() map[string][]map[string]any {
	return map[string][]map[string]any{
		mapping.Projects: {
			{"id": int64(1), "name": "alpha", "platform": "cursor"},
			{"id": int64(2), "name": "beta", "platform": "vscode"},
			{"id": int64(3), "name": "gamma", "platform": "cursor"},
		},
		mapping.Conversations: {
			{"id": "c1", "name": "setup", "project_name": "alpha"},
			{"id": "c2", "name": "deploy", "project_name": "beta"},
		},
		mapping.Messages: {
			{"id": int64(1), "conversation_id": "c1", "content": "hello"},
			{"id": int64(2), "conversation_id": "c1", "content": "deploy it"},
			{"id": int64(3), "conversation_id": "c2", "content": "bye"},
		},
	}
}

func TestMockReader_ReadPage(t *testing.T) {
	m := &MockReader{Tables: mockTables()}
	e, _ := mapping.Lookup(mapping.Projects)

	rows, err := m.ReadPage(context.Background(), e, 2, 10)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "gamma" {
		t.Errorf("rows = %v", rows)
	}

	rows, _ = m.ReadPage(context.Background(), e, 10, 10)
	if len(rows) != 0 {
		t.Errorf("past the end: %d rows", len(rows))
	}
	if got := len(m.PageReads()); got != 2 {
		t.Errorf("recorded %d reads, want 2", got)
	}
}

func TestMockReader_ReadErrAt(t *testing.T) {
	m := &MockReader{Tables: mockTables(), ReadErrAt: map[string]int{mapping.Projects: 2}}
	e, _ := mapping.Lookup(mapping.Projects)

	if _, err := m.ReadPage(context.Background(), e, 0, 2); err != nil {
		t.Fatalf("first page: %v", err)
	}
	if _, err := m.ReadPage(context.Background(), e, 2, 2); err == nil {
		t.Error("expected read error at offset 2")
	}
}

func TestMockReader_Queries(t *testing.T) {
	m := &MockReader{Tables: mockTables()}
	ctx := context.Background()

	page, err := m.Conversations(ctx, PageQuery{ProjectName: "beta"})
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if page.Total != 1 || page.Data[0]["id"] != "c2" {
		t.Errorf("conversations page = %+v", page)
	}

	msgs, err := m.Messages(ctx, PageQuery{ConversationID: "c1", Limit: 1})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if msgs.Total != 2 || len(msgs.Data) != 1 {
		t.Errorf("messages page: total %d, %d rows", msgs.Total, len(msgs.Data))
	}

	if _, err := m.Messages(ctx, PageQuery{}); !errors.Is(err, ErrConversationRequired) {
		t.Errorf("err = %v, want ErrConversationRequired", err)
	}

	res, err := m.Search(ctx, "cursor", mapping.Projects, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Count != 2 {
		t.Errorf("search count = %d, want 2", res.Count)
	}

	var ist *InvalidSearchTypeError
	if _, err := m.Search(ctx, "x", "users", 10); !errors.As(err, &ist) {
		t.Errorf("err = %v, want *InvalidSearchTypeError", err)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off!`); got != `50!%!_off!!` {
		t.Errorf("escapeLike = %q", got)
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent("weird`name"); got != "`weird``name`" {
		t.Errorf("quoteIdent = %q", got)
	}
}
