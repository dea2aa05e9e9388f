// Package stats counts every entity on both sides of the migration.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chatmirror/chatmirror/internal/mapping"
)

// SourceCounter counts rows in the source. source.Reader satisfies it.
type SourceCounter interface {
	RowCount(ctx context.Context, entity string) (int64, error)
}

// DestinationCounter counts documents or rows in the destination.
// target.Writer satisfies it.
type DestinationCounter interface {
	Count(ctx context.Context, entity string) (int64, error)
}

// Snapshot is a side-by-side count of every entity.
type Snapshot struct {
	Source      map[string]int64 `json:"source" yaml:"source"`
	Destination map[string]int64 `json:"destination" yaml:"destination"`
	TakenAt     time.Time        `json:"taken_at" yaml:"taken_at"`
}

// Pending returns, per entity, how many source rows have no destination
// counterpart yet. Entities already in sync are omitted.
func (s *Snapshot) Pending() map[string]int64 {
	out := make(map[string]int64)
	for name, n := range s.Source {
		if d := n - s.Destination[name]; d > 0 {
			out[name] = d
		}
	}
	return out
}

// Reporter computes snapshots.
type Reporter struct {
	source      SourceCounter
	destination DestinationCounter
	limit       int
	logger      *slog.Logger
	now         func() time.Time
}

// NewReporter creates a reporter running at most limit counts at once; limit
// should not exceed the source pool size. A limit below 1 means one at a time.
func NewReporter(src SourceCounter, dst DestinationCounter, limit int, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if limit < 1 {
		limit = 1
	}
	return &Reporter{
		source:      src,
		destination: dst,
		limit:       limit,
		logger:      logger.With("component", "stats"),
		now:         time.Now,
	}
}

// Snapshot counts every entity on source and destination concurrently. The
// first failing count cancels the rest and is returned.
func (r *Reporter) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Source:      make(map[string]int64, 3),
		Destination: make(map[string]int64, 3),
	}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for _, name := range mapping.Names() {
		g.Go(func() error {
			n, err := r.source.RowCount(ctx, name)
			if err != nil {
				return fmt.Errorf("counting source %s: %w", name, err)
			}
			mu.Lock()
			snap.Source[name] = n
			mu.Unlock()
			return nil
		})
		g.Go(func() error {
			n, err := r.destination.Count(ctx, name)
			if err != nil {
				return fmt.Errorf("counting destination %s: %w", name, err)
			}
			mu.Lock()
			snap.Destination[name] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Error("stats snapshot failed", "error", err)
		return nil, err
	}

	snap.TakenAt = r.now().UTC()
	r.logger.Debug("stats snapshot", "source", snap.Source, "destination", snap.Destination)
	return snap, nil
}
