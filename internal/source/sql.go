package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/chatmirror/chatmirror/internal/mapping"
	"github.com/chatmirror/chatmirror/internal/pool"
)

// ErrConversationRequired is returned by Messages without a conversation id.
var ErrConversationRequired = errors.New("conversation_id is required")

// ConnPool lends connections. *pool.Pool satisfies it.
type ConnPool interface {
	Acquire(ctx context.Context) (pool.Conn, error)
	Release(conn pool.Conn)
	Discard(conn pool.Conn)
}

// SQLReader implements Reader over pooled database/sql connections. The
// queries use MySQL syntax that SQLite also accepts.
type SQLReader struct {
	pool   ConnPool
	logger *slog.Logger
}

// NewSQLReader creates a reader that borrows connections from p.
func NewSQLReader(p ConnPool, logger *slog.Logger) *SQLReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLReader{pool: p, logger: logger.With("component", "source")}
}

func (r *SQLReader) Ping(ctx context.Context) error {
	return r.withConn(ctx, func(conn pool.Conn) error {
		if err := conn.PingContext(ctx); err != nil {
			return fmt.Errorf("pinging source: %w", err)
		}
		return nil
	})
}

func (r *SQLReader) RowCount(ctx context.Context, entity string) (int64, error) {
	if _, err := mapping.Lookup(entity); err != nil {
		return 0, err
	}
	var total int64
	err := r.withConn(ctx, func(conn pool.Conn) error {
		var err error
		total, err = countRows(ctx, conn, "SELECT COUNT(*) FROM "+quoteIdent(entity))
		if err != nil {
			return fmt.Errorf("counting rows in %s: %w", entity, err)
		}
		return nil
	})
	return total, err
}

func (r *SQLReader) ReadPage(ctx context.Context, e mapping.Entity, offset, limit int) ([]map[string]any, error) {
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY id ASC LIMIT ? OFFSET ?", quoteIdent(e.Name))
	var rows []map[string]any
	err := r.withConn(ctx, func(conn pool.Conn) error {
		var err error
		rows, err = queryRows(ctx, conn, q, limit, offset)
		if err != nil {
			return fmt.Errorf("reading %s at offset %d: %w", e.Name, offset, err)
		}
		return nil
	})
	return rows, err
}

func (r *SQLReader) Projects(ctx context.Context, q PageQuery) (*Page, error) {
	q = q.Normalize()
	r.logger.Debug("fetching projects", "limit", q.Limit, "offset", q.Offset)
	return r.page(ctx, q,
		"SELECT * FROM projects ORDER BY created_at DESC LIMIT ? OFFSET ?",
		"SELECT COUNT(*) FROM projects",
		nil,
	)
}

func (r *SQLReader) Conversations(ctx context.Context, q PageQuery) (*Page, error) {
	q = q.Normalize()
	r.logger.Debug("fetching conversations", "project_name", q.ProjectName, "limit", q.Limit, "offset", q.Offset)

	where := ""
	var filter []any
	if q.ProjectName != "" {
		where = " WHERE project_name = ?"
		filter = append(filter, q.ProjectName)
	}
	return r.page(ctx, q,
		"SELECT * FROM conversations"+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		"SELECT COUNT(*) FROM conversations"+where,
		filter,
	)
}

func (r *SQLReader) Messages(ctx context.Context, q PageQuery) (*Page, error) {
	q = q.Normalize()
	if q.ConversationID == "" {
		return nil, ErrConversationRequired
	}
	r.logger.Debug("fetching messages", "conversation_id", q.ConversationID, "limit", q.Limit, "offset", q.Offset)
	return r.page(ctx, q,
		"SELECT * FROM messages WHERE conversation_id = ? ORDER BY message_order ASC, `timestamp` ASC LIMIT ? OFFSET ?",
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ?",
		[]any{q.ConversationID},
	)
}

// page runs a data query and its count query on one connection.
func (r *SQLReader) page(ctx context.Context, q PageQuery, dataSQL, countSQL string, filter []any) (*Page, error) {
	result := &Page{
		Limit:          q.Limit,
		Offset:         q.Offset,
		ProjectName:    q.ProjectName,
		ConversationID: q.ConversationID,
	}
	err := r.withConn(ctx, func(conn pool.Conn) error {
		args := append(append([]any{}, filter...), q.Limit, q.Offset)
		rows, err := queryRows(ctx, conn, dataSQL, args...)
		if err != nil {
			return fmt.Errorf("querying page: %w", err)
		}
		total, err := countRows(ctx, conn, countSQL, filter...)
		if err != nil {
			return fmt.Errorf("counting page total: %w", err)
		}
		result.Data = rows
		result.Total = total
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Data == nil {
		result.Data = []map[string]any{}
	}
	return result, nil
}

func (r *SQLReader) Search(ctx context.Context, term, entityType string, limit int) (*SearchResult, error) {
	limit = clampLimit(limit)
	pattern := "%" + escapeLike(term) + "%"

	var (
		q    string
		args []any
	)
	switch entityType {
	case mapping.Projects:
		q = `SELECT * FROM projects WHERE name LIKE ? ESCAPE '!' OR platform LIKE ? ESCAPE '!' ORDER BY created_at DESC LIMIT ?`
		args = []any{pattern, pattern, limit}
	case mapping.Conversations:
		q = `SELECT * FROM conversations WHERE name LIKE ? ESCAPE '!' OR project_name LIKE ? ESCAPE '!' ORDER BY created_at DESC LIMIT ?`
		args = []any{pattern, pattern, limit}
	case mapping.Messages:
		q = "SELECT m.*, c.name AS conversation_name FROM messages m " +
			"LEFT JOIN conversations c ON m.conversation_id = c.id " +
			"WHERE m.content LIKE ? ESCAPE '!' ORDER BY m.`timestamp` DESC LIMIT ?"
		args = []any{pattern, limit}
	default:
		return nil, &InvalidSearchTypeError{Type: entityType}
	}

	r.logger.Debug("searching source", "term", term, "type", entityType, "limit", limit)
	var rows []map[string]any
	err := r.withConn(ctx, func(conn pool.Conn) error {
		var err error
		rows, err = queryRows(ctx, conn, q, args...)
		if err != nil {
			return fmt.Errorf("searching %s: %w", entityType, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return &SearchResult{Data: rows, SearchTerm: term, SearchType: entityType, Count: len(rows)}, nil
}

// withConn borrows a connection for fn. Connections that report themselves
// broken are discarded instead of returned to the pool.
func (r *SQLReader) withConn(ctx context.Context, fn func(conn pool.Conn) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(conn)
	if isBadConn(err) {
		r.logger.Warn("discarding broken source connection", "error", err)
		r.pool.Discard(conn)
	} else {
		r.pool.Release(conn)
	}
	return err
}

func isBadConn(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, sql.ErrConnDone)
}

func queryRows(ctx context.Context, conn pool.Conn, q string, args ...any) ([]map[string]any, error) {
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var results []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			// Text columns arrive as []byte; keep them readable for JSON.
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return results, nil
}

func countRows(ctx context.Context, conn pool.Conn, q string, args ...any) (int64, error) {
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("scanning count: %w", err)
		}
	}
	return n, rows.Err()
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// escapeLike escapes LIKE wildcards with '!' so the term matches literally.
// Backslash is avoided because MySQL and SQLite disagree on it inside the
// ESCAPE literal.
func escapeLike(s string) string {
	r := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return r.Replace(s)
}
