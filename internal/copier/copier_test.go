package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/chatmirror/chatmirror/internal/mapping"
	"github.com/chatmirror/chatmirror/internal/source"
	"github.com/chatmirror/chatmirror/internal/target"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func projectRows(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{
			"id":       int64(i + 1),
			"name":     fmt.Sprintf("project-%d", i+1),
			"platform": "cursor",
		}
	}
	return rows
}

func newTestCopier(r source.Reader, w target.Writer) *Copier {
	return New(r, w, Config{MaxTextLength: 8000}, quietLogger())
}

func TestCopyBatch_ThreeBatches(t *testing.T) {
	r := &source.MockReader{Tables: map[string][]map[string]any{mapping.Projects: projectRows(25)}}
	w := &target.MockWriter{}
	c := newTestCopier(r, w)
	ctx := context.Background()

	want := []struct {
		migrated  int
		completed bool
	}{{10, false}, {10, false}, {5, true}}

	total := 0
	for i, offset := range []int{0, 10, 20} {
		res, err := c.CopyBatch(ctx, mapping.Projects, offset, 10)
		if err != nil {
			t.Fatalf("CopyBatch(%d): %v", offset, err)
		}
		if res.Migrated != want[i].migrated || res.Completed != want[i].completed || res.Errors != 0 {
			t.Errorf("batch at %d = (%d, %v, errors %d), want (%d, %v, 0)",
				offset, res.Migrated, res.Completed, res.Errors, want[i].migrated, want[i].completed)
		}
		total += res.Migrated
	}
	if total != 25 {
		t.Errorf("total migrated = %d, want 25", total)
	}
	if n, _ := w.Count(ctx, mapping.Projects); n != 25 {
		t.Errorf("destination count = %d, want 25", n)
	}
}

func TestCopyBatch_CompletedOnlyWhenShort(t *testing.T) {
	r := &source.MockReader{Tables: map[string][]map[string]any{mapping.Projects: projectRows(20)}}
	c := newTestCopier(r, &target.MockWriter{})
	ctx := context.Background()

	res, _ := c.CopyBatch(ctx, mapping.Projects, 10, 10)
	if res.Completed {
		t.Error("a full page must not report completed")
	}
	res, _ = c.CopyBatch(ctx, mapping.Projects, 20, 10)
	if !res.Completed || res.RowsRead != 0 {
		t.Errorf("empty page: completed=%v rows_read=%d", res.Completed, res.RowsRead)
	}
}

func TestCopyBatch_OneMalformedRow(t *testing.T) {
	rows := projectRows(10)
	rows[4]["created_at"] = "not a timestamp"
	r := &source.MockReader{Tables: map[string][]map[string]any{mapping.Projects: rows}}
	w := &target.MockWriter{}
	c := newTestCopier(r, w)

	res, err := c.CopyBatch(context.Background(), mapping.Projects, 0, 10)
	if err != nil {
		t.Fatalf("CopyBatch: %v", err)
	}
	if res.Migrated != 9 || res.Errors != 1 {
		t.Errorf("migrated=%d errors=%d, want 9 and 1", res.Migrated, res.Errors)
	}
	if len(res.RowErrors) != 1 || !strings.Contains(res.RowErrors[0], "id 5") {
		t.Errorf("RowErrors = %v", res.RowErrors)
	}
	if len(w.Records(mapping.Projects)) != 9 {
		t.Errorf("inserted %d records, want 9", len(w.Records(mapping.Projects)))
	}
}

func TestCopyBatch_InsertFailureIsCounted(t *testing.T) {
	r := &source.MockReader{Tables: map[string][]map[string]any{mapping.Projects: projectRows(5)}}
	w := &target.MockWriter{
		InsertErr: func(rec *mapping.Record) error {
			if rec.Value("name") == "project-2" {
				return errors.New("violates check constraint")
			}
			return nil
		},
	}
	res, err := newTestCopier(r, w).CopyBatch(context.Background(), mapping.Projects, 0, 10)
	if err != nil {
		t.Fatalf("CopyBatch: %v", err)
	}
	if res.Migrated != 4 || res.Errors != 1 || !res.Completed {
		t.Errorf("result = %+v", res)
	}
}

func TestCopyBatch_RowErrorsCapped(t *testing.T) {
	rows := make([]map[string]any, 30)
	for i := range rows {
		rows[i] = map[string]any{"id": fmt.Sprintf("c%d", i), "created_at": "not a timestamp"}
	}
	r := &source.MockReader{Tables: map[string][]map[string]any{mapping.Conversations: rows}}
	res, err := newTestCopier(r, &target.MockWriter{}).CopyBatch(context.Background(), mapping.Conversations, 0, 30)
	if err != nil {
		t.Fatalf("CopyBatch: %v", err)
	}
	if res.Errors != 30 || res.Migrated != 0 {
		t.Errorf("errors=%d migrated=%d", res.Errors, res.Migrated)
	}
	if len(res.RowErrors) != MaxRowErrors {
		t.Errorf("kept %d row errors, want %d", len(res.RowErrors), MaxRowErrors)
	}
}

func TestCopyBatch_TruncatesLongContent(t *testing.T) {
	r := &source.MockReader{Tables: map[string][]map[string]any{
		mapping.Messages: {{
			"id":              int64(1),
			"conversation_id": "c-1",
			"role":            "assistant",
			"content":         strings.Repeat("a", 50000),
		}},
	}}
	w := &target.MockWriter{}
	res, err := newTestCopier(r, w).CopyBatch(context.Background(), mapping.Messages, 0, 50)
	if err != nil {
		t.Fatalf("CopyBatch: %v", err)
	}
	if res.Truncated != 1 || res.Migrated != 1 {
		t.Errorf("truncated=%d migrated=%d", res.Truncated, res.Migrated)
	}
	recs := w.Records(mapping.Messages)
	if len(recs) != 1 {
		t.Fatalf("inserted %d records", len(recs))
	}
	if got := len(recs[0].Value("content").(string)); got != 8000 {
		t.Errorf("destination content length = %d, want exactly 8000", got)
	}
}

func TestCopyBatch_PageReadError(t *testing.T) {
	cause := errors.New("server has gone away")
	r := &source.MockReader{ReadErr: cause}
	res, err := newTestCopier(r, &target.MockWriter{}).CopyBatch(context.Background(), mapping.Projects, 30, 10)

	var pre *PageReadError
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v, want *PageReadError", err)
	}
	if pre.Offset != 30 || !errors.Is(err, cause) {
		t.Errorf("PageReadError = %+v", pre)
	}
	if res == nil || res.Migrated != 0 || res.Offset != 30 {
		t.Errorf("result = %+v", res)
	}
}

func TestCopyBatch_InvalidArguments(t *testing.T) {
	c := newTestCopier(&source.MockReader{}, &target.MockWriter{})
	ctx := context.Background()
	if _, err := c.CopyBatch(ctx, "users", 0, 10); !errors.Is(err, mapping.ErrUnknownEntity) {
		t.Errorf("unknown entity: err = %v", err)
	}
	if _, err := c.CopyBatch(ctx, mapping.Projects, 0, 0); err == nil {
		t.Error("zero batch size: expected error")
	}
	if _, err := c.CopyBatch(ctx, mapping.Projects, -1, 10); err == nil {
		t.Error("negative offset: expected error")
	}
}

func TestCopyBatch_SameOffsetReadsSameRows(t *testing.T) {
	r := &source.MockReader{Tables: map[string][]map[string]any{mapping.Projects: projectRows(25)}}
	w := &target.MockWriter{}
	c := newTestCopier(r, w)
	ctx := context.Background()

	c.CopyBatch(ctx, mapping.Projects, 10, 10)
	c.CopyBatch(ctx, mapping.Projects, 10, 10)

	recs := w.Records(mapping.Projects)
	if len(recs) != 20 {
		t.Fatalf("inserted %d records, want 20", len(recs))
	}
	for i := 0; i < 10; i++ {
		first, second := recs[i], recs[i+10]
		if first.Value("name") != second.Value("name") {
			t.Errorf("row %d: read %v then %v", i, first.Value("name"), second.Value("name"))
		}
		if first.ID() == second.ID() {
			t.Errorf("row %d: projects should get a new id on every copy", i)
		}
	}
}

func TestCopyBatch_RunsToCompletionAfterCancel(t *testing.T) {
	r := &source.MockReader{Tables: map[string][]map[string]any{mapping.Projects: projectRows(5)}}
	w := &target.MockWriter{}
	c := New(r, w, Config{RowDelay: time.Millisecond}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := c.CopyBatch(ctx, mapping.Projects, 0, 10)
	if err != nil {
		t.Fatalf("CopyBatch: %v", err)
	}
	if res.Migrated != 5 {
		t.Errorf("migrated = %d, want 5", res.Migrated)
	}
}

func TestCopyBatch_BatchDelaySkippedOnLastBatch(t *testing.T) {
	const delay = 80 * time.Millisecond
	r := &source.MockReader{Tables: map[string][]map[string]any{mapping.Projects: projectRows(3)}}
	c := New(r, &target.MockWriter{}, Config{BatchDelays: map[string]time.Duration{mapping.Projects: delay}}, quietLogger())
	ctx := context.Background()

	start := time.Now()
	c.CopyBatch(ctx, mapping.Projects, 0, 2)
	if time.Since(start) < delay {
		t.Error("a non-final batch should sleep the batch delay")
	}

	start = time.Now()
	c.CopyBatch(ctx, mapping.Projects, 2, 2)
	if time.Since(start) >= delay {
		t.Error("the final batch should not sleep the batch delay")
	}
}

// stalledReader blocks every page read until ctx is done, like a reader
// waiting on an exhausted pool.
type stalledReader struct {
	*source.MockReader
	entered chan struct{}
}

func (s *stalledReader) ReadPage(ctx context.Context, _ mapping.Entity, _, _ int) ([]map[string]any, error) {
	close(s.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCopyBatch_CancelWhileReading(t *testing.T) {
	r := &stalledReader{MockReader: &source.MockReader{}, entered: make(chan struct{})}
	w := &target.MockWriter{}
	c := newTestCopier(r, w)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-r.entered
		cancel()
	}()

	done := make(chan struct{})
	var (
		res *BatchResult
		err error
	)
	go func() {
		res, err = c.CopyBatch(ctx, mapping.Projects, 0, 10)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CopyBatch did not return after cancel")
	}

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	var pre *PageReadError
	if errors.As(err, &pre) {
		t.Error("a cancelled read is not a page read failure")
	}
	if res != nil || len(w.Records(mapping.Projects)) != 0 {
		t.Errorf("res = %+v, inserted %d", res, len(w.Records(mapping.Projects)))
	}
}
