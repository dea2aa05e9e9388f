// Package source reads chat history from the source database.
package source

import (
	"context"
	"fmt"

	"github.com/chatmirror/chatmirror/internal/mapping"
)

// Paging limits for read-through queries.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Reader provides the source-side queries used by migration, stats and the
// read-through actions. Rows are returned as column maps.
type Reader interface {
	Ping(ctx context.Context) error
	RowCount(ctx context.Context, entity string) (int64, error)
	// ReadPage returns up to limit rows of the entity ordered by id.
	ReadPage(ctx context.Context, e mapping.Entity, offset, limit int) ([]map[string]any, error)
	Projects(ctx context.Context, q PageQuery) (*Page, error)
	Conversations(ctx context.Context, q PageQuery) (*Page, error)
	Messages(ctx context.Context, q PageQuery) (*Page, error)
	Search(ctx context.Context, term, entityType string, limit int) (*SearchResult, error)
}

// PageQuery filters and pages a read-through query.
type PageQuery struct {
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
	ProjectName    string `json:"project_name,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Normalize applies the default limit, the limit cap and a non-negative offset.
func (q PageQuery) Normalize() PageQuery {
	q.Limit = clampLimit(q.Limit)
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Page is one page of a read-through query plus the unpaged total.
type Page struct {
	Data           []map[string]any `json:"data"`
	Total          int64            `json:"total"`
	Limit          int              `json:"limit"`
	Offset         int              `json:"offset"`
	ProjectName    string           `json:"project_name,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
}

// SearchResult holds the matches of a substring search over one entity type.
type SearchResult struct {
	Data       []map[string]any `json:"data"`
	SearchTerm string           `json:"searchTerm"`
	SearchType string           `json:"searchType"`
	Count      int              `json:"count"`
}

// InvalidSearchTypeError is returned by Search for an entity type it cannot search.
type InvalidSearchTypeError struct {
	Type string
}

func (e *InvalidSearchTypeError) Error() string {
	return fmt.Sprintf("invalid search type %q (expected projects, conversations or messages)", e.Type)
}
