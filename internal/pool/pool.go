// Package pool keeps a bounded set of long-lived source database connections.
//
// Connections are created on demand up to Config.MaxConnections, lent to one
// caller at a time, and recycled by a background sweeper that closes
// connections idle past Config.IdleTimeout and pings the rest. A caller that
// finds the pool at capacity waits for a release; waiting is best effort with
// no fairness guarantee, and only the caller's context bounds it.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chatmirror/chatmirror/internal/config"
)

// Config sizes the pool. Zero values take the defaults; a negative
// HealthCheckInterval disables the background sweeper.
type Config struct {
	MaxConnections      int
	ConnectionTimeout   time.Duration
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration
	AcquireRetry        time.Duration
}

// ConfigFrom converts the pool section of the app config.
func ConfigFrom(c config.PoolConfig) Config {
	return Config{
		MaxConnections:      c.MaxConnections,
		ConnectionTimeout:   c.ConnectionTimeout,
		IdleTimeout:         c.IdleTimeout,
		HealthCheckInterval: c.HealthCheckInterval,
		AcquireRetry:        c.AcquireRetry,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 5
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = time.Minute
	}
	if c.AcquireRetry <= 0 {
		c.AcquireRetry = 100 * time.Millisecond
	}
	return c
}

// Status is a point-in-time view of the pool for monitoring.
type Status struct {
	Total     int `json:"total"`
	InUse     int `json:"in_use"`
	Available int `json:"available"`
	Unhealthy int `json:"unhealthy"`
	Max       int `json:"max"`
}

type slot struct {
	conn     Conn
	inUse    bool
	pinging  bool
	healthy  bool
	lastUsed time.Time
}

func (s *slot) available() bool {
	return !s.inUse && !s.pinging && s.healthy
}

// Pool lends source connections. It is safe for concurrent use.
type Pool struct {
	dialer Dialer
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	slots   []*slot
	dialing int
	closed  bool
	wake    chan struct{} // closed and replaced whenever a slot may have freed up

	stop chan struct{}
	done chan struct{}
}

// New creates a pool and starts its health check sweeper.
func New(dialer Dialer, cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		dialer: dialer,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "pool"),
		now:    time.Now,
		wake:   make(chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.sweepLoop()
	p.logger.Debug("connection pool initialized",
		"addr", dialer.Addr(),
		"max_connections", p.cfg.MaxConnections,
		"idle_timeout", p.cfg.IdleTimeout,
	)
	return p
}

// Acquire returns an idle healthy connection, dials a new one while below
// capacity, or waits for a release. Dial failures return *ConnectionError.
// The returned connection must be handed back with Release or Discard.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	waited := false
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		for _, s := range p.slots {
			if s.available() {
				s.inUse = true
				s.lastUsed = p.now()
				size := len(p.slots)
				p.mu.Unlock()
				p.logger.Debug("reusing pooled connection", "pool_size", size)
				return s.conn, nil
			}
		}
		if len(p.slots)+p.dialing < p.cfg.MaxConnections {
			p.dialing++
			p.mu.Unlock()
			return p.dial(ctx)
		}
		wake := p.wake
		p.mu.Unlock()

		if !waited {
			p.logger.Debug("pool exhausted, waiting for a connection", "max_connections", p.cfg.MaxConnections)
			waited = true
		}
		timer := time.NewTimer(p.cfg.AcquireRetry)
		select {
		case <-wake:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

// dial runs with one unit of capacity reserved in p.dialing.
func (p *Pool) dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
	conn, err := p.dialer.Dial(dialCtx)
	cancel()

	p.mu.Lock()
	p.dialing--
	if err != nil {
		p.notifyLocked()
		p.mu.Unlock()
		p.logger.Error("failed to create source connection", "addr", p.dialer.Addr(), "error", err)
		return nil, &ConnectionError{Addr: p.dialer.Addr(), Err: err}
	}
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return nil, ErrPoolClosed
	}
	p.slots = append(p.slots, &slot{
		conn:     conn,
		inUse:    true,
		healthy:  true,
		lastUsed: p.now(),
	})
	size := len(p.slots)
	p.mu.Unlock()

	p.logger.Debug("created new source connection", "pool_size", size)
	return conn, nil
}

// Release returns a lent connection to the pool. Releasing a connection the
// pool no longer tracks is a no-op.
func (p *Pool) Release(conn Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	s := p.findLocked(conn)
	if s == nil || !s.inUse {
		p.mu.Unlock()
		p.logger.Debug("release of untracked connection ignored")
		return
	}
	s.inUse = false
	s.lastUsed = p.now()
	p.notifyLocked()
	available := p.availableLocked()
	p.mu.Unlock()

	p.logger.Debug("connection released", "available", available)
}

// Discard closes a lent connection the caller found broken and frees its slot.
func (p *Pool) Discard(conn Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	s := p.findLocked(conn)
	if s != nil {
		p.removeLocked(s)
		p.notifyLocked()
	}
	p.mu.Unlock()

	if err := conn.Close(); err != nil {
		p.logger.Debug("closing discarded connection", "error", err)
	}
	p.logger.Warn("discarded broken source connection")
}

// Sweep closes idle connections past the idle timeout and pings the other
// idle ones, evicting any that fail. Lent connections are never touched.
func (p *Pool) Sweep(ctx context.Context) {
	now := p.now()
	var expired, toPing []*slot

	p.mu.Lock()
	kept := make([]*slot, 0, len(p.slots))
	for _, s := range p.slots {
		switch {
		case s.inUse || s.pinging:
			kept = append(kept, s)
		case now.Sub(s.lastUsed) > p.cfg.IdleTimeout:
			expired = append(expired, s)
		default:
			s.pinging = true
			toPing = append(toPing, s)
			kept = append(kept, s)
		}
	}
	p.slots = kept
	if len(expired) > 0 {
		p.notifyLocked()
	}
	p.mu.Unlock()

	for _, s := range expired {
		p.logger.Debug("removing idle connection", "idle_for", now.Sub(s.lastUsed))
		if err := s.conn.Close(); err != nil {
			p.logger.Debug("closing idle connection", "error", err)
		}
	}

	for _, s := range toPing {
		pingCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
		err := s.conn.PingContext(pingCtx)
		cancel()

		p.mu.Lock()
		if err == nil {
			s.pinging = false
			s.healthy = true
			p.notifyLocked()
			p.mu.Unlock()
			continue
		}
		s.healthy = false
		p.mu.Unlock()

		p.logger.Warn("connection health check failed", "error", err)
		if cerr := s.conn.Close(); cerr != nil {
			p.logger.Debug("closing unhealthy connection", "error", cerr)
		}

		p.mu.Lock()
		p.removeLocked(s)
		p.notifyLocked()
		p.mu.Unlock()
	}
}

// Status reports slot counts.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{Total: len(p.slots), Max: p.cfg.MaxConnections}
	for _, s := range p.slots {
		switch {
		case s.inUse:
			st.InUse++
		case s.available():
			st.Available++
		}
		if !s.healthy {
			st.Unhealthy++
		}
	}
	return st
}

// CloseAll stops the sweeper and closes every tracked connection, lent or
// not. Later Acquire calls fail with ErrPoolClosed.
func (p *Pool) CloseAll(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	slots := p.slots
	p.slots = nil
	p.notifyLocked()
	p.mu.Unlock()

	close(p.stop)
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for _, s := range slots {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Info("all source connections closed", "count", len(slots))
	return errors.Join(errs...)
}

func (p *Pool) sweepLoop() {
	defer close(p.done)
	if p.cfg.HealthCheckInterval < 0 {
		<-p.stop
		return
	}
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Sweep(context.Background())
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) findLocked(conn Conn) *slot {
	for _, s := range p.slots {
		if s.conn == conn {
			return s
		}
	}
	return nil
}

func (p *Pool) removeLocked(target *slot) {
	for i, s := range p.slots {
		if s == target {
			p.slots = append(p.slots[:i], p.slots[i+1:]...)
			return
		}
	}
}

func (p *Pool) availableLocked() int {
	n := 0
	for _, s := range p.slots {
		if s.available() {
			n++
		}
	}
	return n
}

func (p *Pool) notifyLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}
