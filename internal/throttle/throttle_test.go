package throttle

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingSleeper struct {
	calls []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return nil
}

func TestThrottle_Delays(t *testing.T) {
	rec := &recordingSleeper{}
	th := New(10*time.Millisecond, 0)
	th.sleep = rec.sleep
	ctx := context.Background()

	th.AfterRow(ctx)
	th.AfterRow(ctx)
	th.AfterBatch(ctx, 200*time.Millisecond)

	want := []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 200 * time.Millisecond}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, rec.calls[i], want[i])
		}
	}
}

func TestThrottle_Nil(t *testing.T) {
	var th *Throttle
	ctx := context.Background()
	if err := th.BeforeRow(ctx); err != nil {
		t.Error(err)
	}
	if err := th.AfterRow(ctx); err != nil {
		t.Error(err)
	}
	if err := th.AfterBatch(ctx, time.Hour); err != nil {
		t.Error(err)
	}
}

func TestThrottle_TokenBucket(t *testing.T) {
	th := New(0, 100)
	ctx := context.Background()

	start := time.Now()
	// The bucket starts full with 100 tokens; 110 rows need ~100ms more.
	for i := 0; i < 110; i++ {
		if err := th.BeforeRow(ctx); err != nil {
			t.Fatalf("BeforeRow: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("110 rows at 100/s admitted in %v", elapsed)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep on cancelled ctx = %v", err)
	}

	start := time.Now()
	Sleep(context.Background(), 20*time.Millisecond)
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Sleep returned early")
	}
}
