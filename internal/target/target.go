// Package target writes migrated records to the destination database.
package target

import (
	"context"
	"fmt"
	"slices"

	"github.com/chatmirror/chatmirror/internal/config"
	"github.com/chatmirror/chatmirror/internal/mapping"
)

// Writer defines operations on the destination. Inserts are independent:
// there is no transaction across rows or tables.
type Writer interface {
	Ping(ctx context.Context) error
	Insert(ctx context.Context, rec *mapping.Record) error
	Count(ctx context.Context, entity string) (int64, error)
	// Clear deletes every row of the given entities, children first.
	Clear(ctx context.Context, entities []string) error
	Close(ctx context.Context) error
}

// Open connects to the configured destination.
func Open(ctx context.Context, cfg config.TargetConfig) (Writer, error) {
	switch cfg.Type {
	case config.TargetPostgres, "":
		return NewPostgresWriter(ctx, cfg.ConnectionString, cfg.MaxConnections)
	case config.TargetMongoDB:
		return NewMongoWriter(ctx, cfg.ConnectionString, cfg.Database)
	}
	return nil, fmt.Errorf("unsupported target type %q", cfg.Type)
}

// clearOrder returns entities in reverse dependency order so child rows go
// before the rows they reference.
func clearOrder(entities []string) ([]string, error) {
	order := mapping.Names()
	for _, e := range entities {
		if !slices.Contains(order, e) {
			return nil, fmt.Errorf("%w: %q", mapping.ErrUnknownEntity, e)
		}
	}
	var out []string
	for i := len(order) - 1; i >= 0; i-- {
		if slices.Contains(entities, order[i]) {
			out = append(out, order[i])
		}
	}
	return out, nil
}
