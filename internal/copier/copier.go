// Package copier moves one page of an entity from the source to the
// destination, row by row.
package copier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatmirror/chatmirror/internal/config"
	"github.com/chatmirror/chatmirror/internal/mapping"
	"github.com/chatmirror/chatmirror/internal/source"
	"github.com/chatmirror/chatmirror/internal/target"
	"github.com/chatmirror/chatmirror/internal/throttle"
)

// MaxRowErrors caps the row error messages kept in a BatchResult.
const MaxRowErrors = 20

// BatchResult reports one CopyBatch call.
type BatchResult struct {
	Entity    string   `json:"entity" yaml:"entity"`
	Offset    int      `json:"offset" yaml:"offset"`
	BatchSize int      `json:"batch_size" yaml:"batch_size"`
	RowsRead  int      `json:"rows_read" yaml:"rows_read"`
	Migrated  int      `json:"migrated" yaml:"migrated"`
	Errors    int      `json:"errors" yaml:"errors"`
	Truncated int      `json:"truncated" yaml:"truncated"`
	Completed bool     `json:"completed" yaml:"completed"`
	RowErrors []string `json:"row_errors,omitempty" yaml:"row_errors,omitempty"`
}

// Config tunes the copier.
type Config struct {
	MaxTextLength int
	RowDelay      time.Duration
	RowsPerSecond float64
	BatchDelays   map[string]time.Duration
}

// ConfigFrom builds a copier config from the migration section.
func ConfigFrom(m config.MigrationConfig) Config {
	delays := make(map[string]time.Duration, len(mapping.Names()))
	for _, name := range mapping.Names() {
		delays[name] = m.Entity(name).BatchDelay
	}
	return Config{
		MaxTextLength: m.MaxTextLength,
		RowDelay:      m.RowDelay,
		RowsPerSecond: m.RowsPerSecond,
		BatchDelays:   delays,
	}
}

// Copier implements CopyBatch over a source reader and destination writer.
type Copier struct {
	reader      source.Reader
	writer      target.Writer
	mapper      *mapping.Mapper
	throttle    *throttle.Throttle
	batchDelays map[string]time.Duration
	logger      *slog.Logger
}

// New creates a copier.
func New(reader source.Reader, writer target.Writer, cfg Config, logger *slog.Logger) *Copier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Copier{
		reader:      reader,
		writer:      writer,
		mapper:      mapping.NewMapper(cfg.MaxTextLength),
		throttle:    throttle.New(cfg.RowDelay, cfg.RowsPerSecond),
		batchDelays: cfg.BatchDelays,
		logger:      logger.With("component", "copier"),
	}
}

// CopyBatch reads up to batchSize rows of entity starting at offset, in id
// order, and inserts them one at a time. Row failures are counted in the
// result; only a failed page read returns an error, as *PageReadError, along
// with the empty result. Cancelling ctx while the page is read returns the
// context error and no result; once the page is read, its rows are written
// even if ctx is cancelled.
func (c *Copier) CopyBatch(ctx context.Context, entity string, offset, batchSize int) (*BatchResult, error) {
	e, err := mapping.Lookup(entity)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if offset < 0 {
		return nil, fmt.Errorf("offset must not be negative, got %d", offset)
	}

	res := &BatchResult{Entity: entity, Offset: offset, BatchSize: batchSize}

	rows, err := c.reader.ReadPage(ctx, e, offset, batchSize)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("reading %s page at offset %d: %w", entity, offset, ctxErr)
		}
		c.logger.Error("page read failed", "entity", entity, "offset", offset, "error", err)
		return res, &PageReadError{Entity: entity, Offset: offset, Err: err}
	}
	res.RowsRead = len(rows)
	res.Completed = len(rows) < batchSize

	// Rows of a page that was read are always written.
	rowCtx := context.WithoutCancel(ctx)
	for i, row := range rows {
		if err := c.copyRow(rowCtx, e, row, res); err != nil {
			rowErr := &RowError{Entity: entity, Position: offset + i, SourceID: row["id"], Err: err}
			res.Errors++
			if len(res.RowErrors) < MaxRowErrors {
				res.RowErrors = append(res.RowErrors, rowErr.Error())
			}
			c.logger.Warn("row migration failed", "entity", entity, "position", rowErr.Position, "id", rowErr.SourceID, "error", err)
		} else {
			res.Migrated++
		}
		c.throttle.AfterRow(rowCtx)
	}

	c.logger.Info("batch complete",
		"entity", entity,
		"offset", offset,
		"rows_read", res.RowsRead,
		"migrated", res.Migrated,
		"errors", res.Errors,
		"completed", res.Completed,
	)

	if !res.Completed {
		c.throttle.AfterBatch(ctx, c.batchDelays[entity])
	}
	return res, nil
}

func (c *Copier) copyRow(ctx context.Context, e mapping.Entity, row map[string]any, res *BatchResult) error {
	rec, truncated, err := c.mapper.Map(e, row)
	if err != nil {
		return fmt.Errorf("mapping row: %w", err)
	}
	if truncated > 0 {
		res.Truncated += truncated
		c.logger.Warn("oversized text truncated",
			"entity", e.Name,
			"id", row["id"],
			"fields", truncated,
			"max_length", c.mapper.MaxTextLength,
		)
	}
	if err := c.throttle.BeforeRow(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return c.writer.Insert(ctx, rec)
}
