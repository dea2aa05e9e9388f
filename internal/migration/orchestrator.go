package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chatmirror/chatmirror/internal/copier"
	"github.com/chatmirror/chatmirror/internal/mapping"
)

// ErrJobFinished is returned by Run for a completed or errored job.
var ErrJobFinished = errors.New("migration job already finished")

// BatchCopier copies one page of an entity. *copier.Copier satisfies it.
type BatchCopier interface {
	CopyBatch(ctx context.Context, entity string, offset, batchSize int) (*copier.BatchResult, error)
}

// RowCounter counts source rows. source.Reader satisfies it.
type RowCounter interface {
	RowCount(ctx context.Context, entity string) (int64, error)
}

// Clearer empties destination entities. target.Writer satisfies it.
type Clearer interface {
	Clear(ctx context.Context, entities []string) error
}

// Status is the snapshot handed to a StatusCallback.
type Status struct {
	Job           *Job                `json:"job"`
	Percent       int                 `json:"percent"`
	CurrentEntity string              `json:"current_entity,omitempty"`
	LastBatch     *copier.BatchResult `json:"last_batch,omitempty"`
}

// NewStatus snapshots job. The job is cloned.
func NewStatus(job *Job, last *copier.BatchResult) *Status {
	st := &Status{Job: job.Clone(), Percent: job.Percent(), LastBatch: last}
	if cur := job.Current(); cur != nil {
		st.CurrentEntity = cur.Name
	}
	return st
}

// StatusCallback is called after every state change and every batch.
type StatusCallback func(status *Status)

// CheckpointFunc persists a job so a later Run can resume it.
type CheckpointFunc func(job *Job) error

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCheckpoint sets the hook called after every batch and phase change.
func WithCheckpoint(fn CheckpointFunc) Option {
	return func(o *Orchestrator) { o.checkpoint = fn }
}

// Orchestrator runs jobs one batch at a time, strictly sequentially.
type Orchestrator struct {
	copier     BatchCopier
	counter    RowCounter
	clearer    Clearer
	checkpoint CheckpointFunc
	logger     *slog.Logger
	now        func() time.Time

	pause atomic.Bool
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(c BatchCopier, counter RowCounter, clearer Clearer, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		copier:  c,
		counter: counter,
		clearer: clearer,
		logger:  logger.With("component", "orchestrator"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RequestPause asks the running job to stop at the next batch boundary. The
// batch in flight always finishes first.
func (o *Orchestrator) RequestPause() {
	o.pause.Store(true)
}

// ClearPause drops a pending pause request.
func (o *Orchestrator) ClearPause() {
	o.pause.Store(false)
}

// Run advances job until it completes, errors, or pauses. An idle job first
// clears the destination when asked to and counts every entity; a paused job
// resumes from its stored offsets. Cancelling ctx pauses at the next batch
// boundary. A page read failure moves the job to errored and is returned with
// the partial totals kept in job.
func (o *Orchestrator) Run(ctx context.Context, job *Job, callback StatusCallback) (*Job, error) {
	if job.Phase.Terminal() {
		return job, ErrJobFinished
	}
	defer o.ClearPause()

	fresh := job.Phase == PhaseIdle
	if job.StartedAt.IsZero() {
		job.StartedAt = o.now()
	}
	o.transition(job, PhaseMigrating, callback)

	if fresh {
		if err := o.prepare(ctx, job); err != nil {
			return job, o.fail(job, err, callback)
		}
		o.save(job)
		o.notify(callback, job, nil)
	} else {
		o.logger.Info("resuming migration", "job", job.ID, "percent", job.Percent())
	}

	for _, task := range job.Tasks {
		for !task.Completed {
			if o.pause.Load() || ctx.Err() != nil {
				o.logger.Info("migration paused", "job", job.ID, "entity", task.Name, "offset", task.Offset)
				o.transition(job, PhasePaused, callback)
				return job, nil
			}

			res, err := o.copier.CopyBatch(ctx, task.Name, task.Offset, task.BatchSize)
			if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				o.logger.Info("migration paused while reading", "job", job.ID, "entity", task.Name, "offset", task.Offset)
				o.transition(job, PhasePaused, callback)
				return job, nil
			}
			if err != nil {
				return job, o.fail(job, fmt.Errorf("migrating %s: %w", task.Name, err), callback)
			}
			task.Apply(res)
			job.UpdatedAt = o.now()
			o.save(job)
			o.notify(callback, job, res)

			o.logger.Debug("batch applied",
				"entity", task.Name,
				"offset", task.Offset,
				"migrated", task.Migrated,
				"total", task.TotalRows,
				"percent", job.Percent(),
			)
		}
		o.logger.Info("entity migrated",
			"entity", task.Name,
			"migrated", task.Migrated,
			"errors", task.Errors,
			"truncated", task.Truncated,
		)
	}

	migrated, failed := job.Totals()
	o.logger.Info("migration completed", "job", job.ID, "migrated", migrated, "errors", failed)
	o.transition(job, PhaseCompleted, callback)
	return job, nil
}

func (o *Orchestrator) prepare(ctx context.Context, job *Job) error {
	if job.ClearDestination && !job.ClearedDestination {
		o.logger.Warn("clearing destination before migration", "entities", mapping.Names())
		if err := o.clearer.Clear(ctx, mapping.Names()); err != nil {
			return fmt.Errorf("clearing destination: %w", err)
		}
		job.ClearedDestination = true
	}
	for _, task := range job.Tasks {
		total, err := o.counter.RowCount(ctx, task.Name)
		if err != nil {
			return fmt.Errorf("counting %s: %w", task.Name, err)
		}
		task.TotalRows = total
		if total == 0 {
			task.Completed = true
		}
	}
	o.logger.Info("migration started", "job", job.ID, "totals", totalsAttr(job))
	return nil
}

func (o *Orchestrator) fail(job *Job, err error, callback StatusCallback) error {
	job.Error = err.Error()
	migrated, failed := job.Totals()
	o.logger.Error("migration failed", "job", job.ID, "migrated", migrated, "errors", failed, "error", err)
	o.transition(job, PhaseErrored, callback)
	return err
}

func (o *Orchestrator) transition(job *Job, phase Phase, callback StatusCallback) {
	job.Phase = phase
	job.UpdatedAt = o.now()
	o.save(job)
	o.notify(callback, job, nil)
}

func (o *Orchestrator) save(job *Job) {
	if o.checkpoint == nil {
		return
	}
	if err := o.checkpoint(job); err != nil {
		o.logger.Error("saving migration checkpoint", "job", job.ID, "error", err)
	}
}

func (o *Orchestrator) notify(callback StatusCallback, job *Job, last *copier.BatchResult) {
	if callback != nil {
		callback(NewStatus(job, last))
	}
}

func totalsAttr(job *Job) slog.Value {
	attrs := make([]slog.Attr, 0, len(job.Tasks))
	for _, t := range job.Tasks {
		attrs = append(attrs, slog.Int64(t.Name, t.TotalRows))
	}
	return slog.GroupValue(attrs...)
}
