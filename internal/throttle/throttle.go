// Package throttle bounds the destination write rate with fixed sleeps and an
// optional token bucket. The destination gives no backpressure signal, so the
// delays are the only admission control.
package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle paces row and batch writes. A nil *Throttle never waits.
type Throttle struct {
	rowDelay time.Duration
	limiter  *rate.Limiter

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a throttle that sleeps rowDelay after every row and, when
// rowsPerSecond > 0, also admits rows through a token bucket.
func New(rowDelay time.Duration, rowsPerSecond float64) *Throttle {
	t := &Throttle{rowDelay: rowDelay, sleep: Sleep}
	if rowsPerSecond > 0 {
		burst := int(rowsPerSecond)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(rowsPerSecond), burst)
	}
	return t
}

// BeforeRow blocks until the token bucket admits one row.
func (t *Throttle) BeforeRow(ctx context.Context) error {
	if t == nil || t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

// AfterRow sleeps the per-row delay.
func (t *Throttle) AfterRow(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.sleep(ctx, t.rowDelay)
}

// AfterBatch sleeps an entity's inter-batch delay.
func (t *Throttle) AfterBatch(ctx context.Context, d time.Duration) error {
	if t == nil {
		return nil
	}
	return t.sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
