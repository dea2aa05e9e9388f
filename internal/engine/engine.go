// Package engine wires the pool, reader, writer and orchestrator together and
// exposes every operation the HTTP server, CLI and TUI share.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chatmirror/chatmirror/internal/config"
	"github.com/chatmirror/chatmirror/internal/copier"
	"github.com/chatmirror/chatmirror/internal/mapping"
	"github.com/chatmirror/chatmirror/internal/migration"
	"github.com/chatmirror/chatmirror/internal/pool"
	"github.com/chatmirror/chatmirror/internal/source"
	"github.com/chatmirror/chatmirror/internal/state"
	"github.com/chatmirror/chatmirror/internal/stats"
	"github.com/chatmirror/chatmirror/internal/target"
)

var (
	// ErrMigrationRunning is returned when a full migration is already active.
	ErrMigrationRunning = errors.New("migration already running")
	// ErrNoMigration is returned when there is no job to pause, resume or report.
	ErrNoMigration = errors.New("no migration in progress")
)

// Deps are the collaborators of an Engine. Pool and Closer are optional.
type Deps struct {
	Pool      *pool.Pool
	Reader    source.Reader
	Writer    target.Writer
	Closer    io.Closer
	StatePath string
}

// Engine is the core migration engine shared by all interfaces.
type Engine struct {
	Config *config.Config
	Logger *slog.Logger

	pool     *pool.Pool
	reader   source.Reader
	writer   target.Writer
	closer   io.Closer
	copier   *copier.Copier
	orch     *migration.Orchestrator
	reporter *stats.Reporter
	store    *state.Store

	mu       sync.Mutex
	running  bool
	kind     runKind
	done     chan struct{}
	cancel   context.CancelFunc
	status   *migration.Status
	onStatus migration.StatusCallback
}

// runKind is what holds the engine while running is set.
type runKind int

const (
	runNone runKind = iota
	runOperation
	runMigration
)

// New creates an Engine over already constructed collaborators.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		Config: cfg,
		Logger: logger,
		pool:   deps.Pool,
		reader: deps.Reader,
		writer: deps.Writer,
		closer: deps.Closer,
		store:  state.NewStore(deps.StatePath),
	}
	e.copier = copier.New(deps.Reader, deps.Writer, copier.ConfigFrom(cfg.Migration), logger)
	e.orch = migration.NewOrchestrator(e.copier, deps.Reader, deps.Writer, logger,
		migration.WithCheckpoint(e.store.Checkpoint))

	limit := cfg.Pool.MaxConnections
	if deps.Pool != nil {
		limit = deps.Pool.Status().Max
	}
	e.reporter = stats.NewReporter(deps.Reader, deps.Writer, limit, logger)
	return e
}

// Open connects to the configured source and destination.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer, err := pool.NewMySQLDialer(cfg.Source, cfg.Pool.ConnectionTimeout)
	if err != nil {
		return nil, fmt.Errorf("creating source dialer: %w", err)
	}
	p := pool.New(dialer, pool.ConfigFrom(cfg.Pool), logger)

	writer, err := target.Open(ctx, cfg.Target)
	if err != nil {
		p.CloseAll(ctx)
		dialer.Close()
		return nil, fmt.Errorf("connecting to destination: %w", err)
	}

	logger.Info("engine ready",
		"source", dialer.Addr(),
		"database", cfg.Source.Database,
		"destination", cfg.Target.Type,
	)
	return New(cfg, Deps{
		Pool:   p,
		Reader: source.NewSQLReader(p, logger),
		Writer: writer,
		Closer: dialer,
	}, logger), nil
}

// OnStatus registers the callback that receives every migration status,
// from either a synchronous or an asynchronous run.
func (e *Engine) OnStatus(cb migration.StatusCallback) {
	e.mu.Lock()
	e.onStatus = cb
	e.mu.Unlock()
}

// ConnectionResult reports whether both databases answered a ping.
type ConnectionResult struct {
	SourceConnected      bool   `json:"source_connected"`
	DestinationConnected bool   `json:"destination_connected"`
	SourceError          string `json:"source_error,omitempty"`
	DestinationError     string `json:"destination_error,omitempty"`
	Message              string `json:"message"`
}

// CheckConnection pings source and destination concurrently. Failures are
// reported in the result, never as an error.
func (e *Engine) CheckConnection(ctx context.Context) *ConnectionResult {
	res := &ConnectionResult{}
	var g errgroup.Group
	g.Go(func() error {
		if err := e.reader.Ping(ctx); err != nil {
			res.SourceError = err.Error()
			return nil
		}
		res.SourceConnected = true
		return nil
	})
	g.Go(func() error {
		if err := e.writer.Ping(ctx); err != nil {
			res.DestinationError = err.Error()
			return nil
		}
		res.DestinationConnected = true
		return nil
	})
	g.Wait()

	switch {
	case res.SourceConnected && res.DestinationConnected:
		res.Message = "both connections successful"
	case res.SourceConnected:
		res.Message = "destination unreachable"
	case res.DestinationConnected:
		res.Message = "source unreachable"
	default:
		res.Message = "source and destination unreachable"
	}
	e.Logger.Info("connection check",
		"source", res.SourceConnected,
		"destination", res.DestinationConnected,
	)
	return res
}

// Stats counts every entity on both sides.
func (e *Engine) Stats(ctx context.Context) (*stats.Snapshot, error) {
	return e.reporter.Snapshot(ctx)
}

// PoolStatus reports source pool occupancy.
func (e *Engine) PoolStatus() pool.Status {
	if e.pool == nil {
		return pool.Status{}
	}
	return e.pool.Status()
}

// Projects pages through source projects.
func (e *Engine) Projects(ctx context.Context, q source.PageQuery) (*source.Page, error) {
	return e.reader.Projects(ctx, q)
}

// Conversations pages through source conversations.
func (e *Engine) Conversations(ctx context.Context, q source.PageQuery) (*source.Page, error) {
	return e.reader.Conversations(ctx, q)
}

// Messages pages through the messages of one conversation.
func (e *Engine) Messages(ctx context.Context, q source.PageQuery) (*source.Page, error) {
	return e.reader.Messages(ctx, q)
}

// Search does a substring search over one entity type.
func (e *Engine) Search(ctx context.Context, term, entityType string, limit int) (*source.SearchResult, error) {
	return e.reader.Search(ctx, term, entityType, limit)
}

// ClearDestination deletes every migrated row from the destination and drops
// the stored checkpoint. It is refused while a migration runs.
func (e *Engine) ClearDestination(ctx context.Context) error {
	if err := e.begin(runOperation, nil); err != nil {
		return err
	}
	defer e.finish()

	e.Logger.Warn("clearing destination data", "entities", mapping.Names())
	if err := e.writer.Clear(ctx, mapping.Names()); err != nil {
		return fmt.Errorf("clearing destination: %w", err)
	}
	if err := e.store.Clear(); err != nil {
		return fmt.Errorf("clearing migration state: %w", err)
	}
	return nil
}

// MigrateBatch copies one page. A batchSize of zero uses the configured size
// for the entity. It is refused while a full migration runs.
func (e *Engine) MigrateBatch(ctx context.Context, entity string, offset, batchSize int) (*copier.BatchResult, error) {
	if err := e.begin(runOperation, nil); err != nil {
		return nil, err
	}
	defer e.finish()

	if batchSize == 0 {
		batchSize = e.Config.Migration.Entity(entity).BatchSize
	}
	res, err := e.copier.CopyBatch(ctx, entity, offset, batchSize)
	if res != nil {
		e.publish(&migration.Status{CurrentEntity: entity, LastBatch: res})
	}
	return res, err
}

// RunOptions select how a full migration starts.
type RunOptions struct {
	// ClearDestination empties the destination first, in addition to the
	// configured clear_before_run.
	ClearDestination bool
	// Resume continues the stored job when it is paused or was interrupted.
	Resume bool
}

// MigrateAll runs a full migration to completion, pause or failure. On
// failure the returned job carries the partial totals.
func (e *Engine) MigrateAll(ctx context.Context, opts RunOptions) (*migration.Job, error) {
	job, err := e.prepareJob(opts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := e.begin(runMigration, cancel); err != nil {
		return nil, err
	}
	defer e.finish()
	return e.orch.Run(ctx, job, e.publish)
}

// StartMigration begins an asynchronous migration.
func (e *Engine) StartMigration(opts RunOptions) error {
	job, err := e.prepareJob(opts)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := e.begin(runMigration, cancel); err != nil {
		cancel()
		return err
	}

	go func() {
		defer e.finish()
		defer cancel()
		if _, err := e.orch.Run(ctx, job, e.publish); err != nil {
			e.Logger.Error("background migration stopped", "job", job.ID, "error", err)
		}
	}()
	return nil
}

// ResumeMigration continues the stored paused job in the background.
func (e *Engine) ResumeMigration() error {
	job, err := e.store.Job()
	if err != nil {
		return fmt.Errorf("loading migration state: %w", err)
	}
	if job == nil || job.Phase.Terminal() {
		return ErrNoMigration
	}
	return e.StartMigration(RunOptions{Resume: true})
}

// PauseMigration asks the running migration to stop after its current batch.
func (e *Engine) PauseMigration() error {
	e.mu.Lock()
	if !e.running || e.kind != runMigration {
		e.mu.Unlock()
		return ErrNoMigration
	}
	e.orch.RequestPause()
	e.mu.Unlock()
	e.Logger.Info("pause requested")
	return nil
}

// Wait blocks until the running migration, if any, returns.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether a migration or batch is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// MigrationStatus returns the latest status of this process, or the stored
// job when none ran here.
func (e *Engine) MigrationStatus() (*migration.Status, error) {
	e.mu.Lock()
	st := e.status
	e.mu.Unlock()
	if st != nil && st.Job != nil {
		return st, nil
	}

	job, err := e.store.Job()
	if err != nil {
		return nil, fmt.Errorf("loading migration state: %w", err)
	}
	if job == nil {
		return nil, ErrNoMigration
	}
	return migration.NewStatus(job, nil), nil
}

// Close pauses a running migration, waits for it, and closes both sides.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.Wait()

	var errs []error
	if err := e.writer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing destination: %w", err))
	}
	if e.pool != nil {
		if err := e.pool.CloseAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing source pool: %w", err))
		}
	}
	if e.closer != nil {
		if err := e.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing source: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) prepareJob(opts RunOptions) (*migration.Job, error) {
	if opts.Resume {
		job, err := e.store.Job()
		if err != nil {
			return nil, fmt.Errorf("loading migration state: %w", err)
		}
		if job != nil && !job.Phase.Terminal() {
			e.Logger.Info("resuming stored migration", "job", job.ID, "phase", job.Phase, "percent", job.Percent())
			return job, nil
		}
		e.Logger.Info("no resumable migration found, starting a new one")
	}
	job := migration.NewJob(e.Config.Migration)
	job.ClearDestination = job.ClearDestination || opts.ClearDestination
	return job, nil
}

func (e *Engine) begin(kind runKind, cancel context.CancelFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrMigrationRunning
	}
	e.running = true
	e.kind = kind
	e.cancel = cancel
	e.done = make(chan struct{})
	return nil
}

// finish also drops a pause that arrived after the run returned, so it
// cannot stop the next run before its first batch.
func (e *Engine) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.kind == runMigration {
		e.orch.ClearPause()
	}
	e.running = false
	e.kind = runNone
	e.cancel = nil
	close(e.done)
}

func (e *Engine) publish(st *migration.Status) {
	e.mu.Lock()
	if st.Job != nil {
		e.status = st
	}
	cb := e.onStatus
	e.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}
