package target

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/chatmirror/chatmirror/internal/config"
	"github.com/chatmirror/chatmirror/internal/mapping"
)

func TestInsertSQL(t *testing.T) {
	got := insertSQL("messages", []string{"id", "conversation_id", "timestamp"})
	want := `INSERT INTO "messages" ("id", "conversation_id", "timestamp") VALUES ($1, $2, $3)`
	if got != want {
		t.Errorf("insertSQL =\n %s\nwant\n %s", got, want)
	}
}

func TestQuoteIdentPg(t *testing.T) {
	if got := quoteIdentPg(`we"ird`); got != `"we""ird"` {
		t.Errorf("quoteIdentPg = %s", got)
	}
}

func TestClearOrder(t *testing.T) {
	got, err := clearOrder([]string{"projects", "messages", "conversations"})
	if err != nil {
		t.Fatalf("clearOrder: %v", err)
	}
	if strings.Join(got, ",") != "messages,conversations,projects" {
		t.Errorf("clearOrder = %v, want children first", got)
	}

	got, _ = clearOrder([]string{"projects"})
	if strings.Join(got, ",") != "projects" {
		t.Errorf("clearOrder = %v", got)
	}

	if _, err := clearOrder([]string{"users"}); !errors.Is(err, mapping.ErrUnknownEntity) {
		t.Errorf("err = %v, want ErrUnknownEntity", err)
	}
}

func TestToDocument(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &mapping.Record{
		Entity:  "conversations",
		Columns: []string{"id", "name", "created_at"},
		Values:  []any{"c-1", "setup", ts},
	}
	doc := toDocument(rec)
	want := bson.D{
		{Key: "_id", Value: "c-1"},
		{Key: "name", Value: "setup"},
		{Key: "created_at", Value: ts},
	}
	if len(doc) != len(want) {
		t.Fatalf("doc has %d fields, want %d", len(doc), len(want))
	}
	for i := range want {
		if doc[i].Key != want[i].Key || doc[i].Value != want[i].Value {
			t.Errorf("field %d = %v, want %v", i, doc[i], want[i])
		}
	}
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(context.Background(), config.TargetConfig{Type: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "unsupported target type") {
		t.Errorf("err = %v", err)
	}
}

func TestMockWriter(t *testing.T) {
	ctx := context.Background()
	w := &MockWriter{
		InsertErr: func(rec *mapping.Record) error {
			if rec.ID() == "bad" {
				return errors.New("duplicate key")
			}
			return nil
		},
	}

	for _, id := range []string{"a", "bad", "b"} {
		rec := &mapping.Record{Entity: "projects", Columns: []string{"id"}, Values: []any{id}}
		err := w.Insert(ctx, rec)
		if (err != nil) != (id == "bad") {
			t.Errorf("Insert(%s) err = %v", id, err)
		}
	}
	n, _ := w.Count(ctx, "projects")
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}

	if err := w.Clear(ctx, []string{"projects"}); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	n, _ = w.Count(ctx, "projects")
	if n != 0 {
		t.Errorf("Count after clear = %d", n)
	}
	if len(w.Cleared) != 1 {
		t.Errorf("Cleared = %v", w.Cleared)
	}
}
