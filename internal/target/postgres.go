package target

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatmirror/chatmirror/internal/mapping"
)

// PostgresWriter implements Writer for PostgreSQL using pgx.
type PostgresWriter struct {
	pool *pgxpool.Pool
}

// NewPostgresWriter connects and pings the destination.
func NewPostgresWriter(ctx context.Context, connStr string, maxConns int32) (*PostgresWriter, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging PostgreSQL: %w", err)
	}
	return &PostgresWriter{pool: pool}, nil
}

func (w *PostgresWriter) Ping(ctx context.Context) error {
	if err := w.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging PostgreSQL: %w", err)
	}
	return nil
}

func (w *PostgresWriter) Insert(ctx context.Context, rec *mapping.Record) error {
	_, err := w.pool.Exec(ctx, insertSQL(rec.Entity, rec.Columns), rec.Values...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName != "" {
			return fmt.Errorf("inserting into %s (constraint %s): %w", rec.Entity, pgErr.ConstraintName, err)
		}
		return fmt.Errorf("inserting into %s: %w", rec.Entity, err)
	}
	return nil
}

func (w *PostgresWriter) Count(ctx context.Context, entity string) (int64, error) {
	var count int64
	err := w.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+quoteIdentPg(entity)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", entity, err)
	}
	return count, nil
}

func (w *PostgresWriter) Clear(ctx context.Context, entities []string) error {
	order, err := clearOrder(entities)
	if err != nil {
		return err
	}
	for _, e := range order {
		if _, err := w.pool.Exec(ctx, "DELETE FROM "+quoteIdentPg(e)); err != nil {
			return fmt.Errorf("clearing %s: %w", e, err)
		}
	}
	return nil
}

func (w *PostgresWriter) Close(_ context.Context) error {
	w.pool.Close()
	return nil
}

func insertSQL(table string, columns []string) string {
	cols := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quoteIdentPg(c)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdentPg(table), strings.Join(cols, ", "), strings.Join(params, ", "))
}

func quoteIdentPg(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
