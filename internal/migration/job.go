// Package migration drives a full, resumable migration of every entity in
// dependency order.
package migration

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/chatmirror/chatmirror/internal/config"
	"github.com/chatmirror/chatmirror/internal/copier"
	"github.com/chatmirror/chatmirror/internal/mapping"
)

// Phase is a job's position in the migration state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseMigrating Phase = "migrating"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseErrored   Phase = "errored"
)

// Terminal reports whether no further batches may run in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseErrored
}

// TableTask tracks the progress of one entity.
type TableTask struct {
	Name       string        `json:"name" yaml:"name"`
	TotalRows  int64         `json:"total_rows" yaml:"total_rows"`
	BatchSize  int           `json:"batch_size" yaml:"batch_size"`
	BatchDelay time.Duration `json:"batch_delay" yaml:"batch_delay"`
	Offset     int           `json:"offset" yaml:"offset"`
	Migrated   int           `json:"migrated" yaml:"migrated"`
	Errors     int           `json:"errors" yaml:"errors"`
	Truncated  int           `json:"truncated" yaml:"truncated"`
	Batches    int           `json:"batches" yaml:"batches"`
	Completed  bool          `json:"completed" yaml:"completed"`
}

// Apply folds a finished batch into the task. The offset advances by the
// batch size whether rows failed or not.
func (t *TableTask) Apply(res *copier.BatchResult) {
	t.Offset += res.BatchSize
	t.Migrated += res.Migrated
	t.Errors += res.Errors
	t.Truncated += res.Truncated
	t.Batches++
	if res.Completed || int64(t.Offset) >= t.TotalRows {
		t.Completed = true
	}
}

// Fraction is migrated/total clamped to [0, 1]. An empty entity counts as done.
func (t *TableTask) Fraction() float64 {
	if t.TotalRows <= 0 {
		if t.Completed {
			return 1
		}
		return 0
	}
	return math.Min(float64(t.Migrated)/float64(t.TotalRows), 1)
}

// Job is a migration run that may span many invocations.
type Job struct {
	ID                 string       `json:"id" yaml:"id"`
	Phase              Phase        `json:"phase" yaml:"phase"`
	ClearDestination   bool         `json:"clear_destination" yaml:"clear_destination"`
	ClearedDestination bool         `json:"cleared_destination" yaml:"cleared_destination"`
	Tasks              []*TableTask `json:"tasks" yaml:"tasks"`
	StartedAt          time.Time    `json:"started_at" yaml:"started_at"`
	UpdatedAt          time.Time    `json:"updated_at" yaml:"updated_at"`
	Error              string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewJob creates an idle job with one task per entity, batch settings taken
// from the migration config.
func NewJob(cfg config.MigrationConfig) *Job {
	job := &Job{
		ID:               uuid.NewString(),
		Phase:            PhaseIdle,
		ClearDestination: cfg.ClearBeforeRun,
	}
	for _, name := range mapping.Names() {
		e := cfg.Entity(name)
		job.Tasks = append(job.Tasks, &TableTask{
			Name:       name,
			BatchSize:  e.BatchSize,
			BatchDelay: e.BatchDelay,
		})
	}
	return job
}

// Task returns the task for an entity, or nil.
func (j *Job) Task(name string) *TableTask {
	for _, t := range j.Tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Current returns the first task not yet completed, or nil when all are.
func (j *Job) Current() *TableTask {
	for _, t := range j.Tasks {
		if !t.Completed {
			return t
		}
	}
	return nil
}

// Percent is the overall progress: each completed entity weighs 1/n and the
// entity in flight adds its migrated fraction of 1/n. It depends only on the
// current counters.
func (j *Job) Percent() int {
	if j.Phase == PhaseCompleted {
		return 100
	}
	n := len(j.Tasks)
	if n == 0 {
		return 0
	}
	done := 0
	for _, t := range j.Tasks {
		if t.Completed {
			done++
		}
	}
	frac := 0.0
	if cur := j.Current(); cur != nil {
		frac = cur.Fraction()
	}
	p := math.Round((float64(done)/float64(n) + frac/float64(n)) * 100)
	return int(math.Max(0, math.Min(p, 100)))
}

// Totals sums migrated and failed rows over every task.
func (j *Job) Totals() (migrated, errors int) {
	for _, t := range j.Tasks {
		migrated += t.Migrated
		errors += t.Errors
	}
	return migrated, errors
}

// Summary maps each entity to its migrated count.
func (j *Job) Summary() map[string]int {
	out := make(map[string]int, len(j.Tasks))
	for _, t := range j.Tasks {
		out[t.Name] = t.Migrated
	}
	return out
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Tasks = make([]*TableTask, len(j.Tasks))
	for i, t := range j.Tasks {
		tc := *t
		c.Tasks[i] = &tc
	}
	return &c
}
