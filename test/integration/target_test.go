//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/chatmirror/chatmirror/internal/mapping"
	"github.com/chatmirror/chatmirror/internal/target"
)

func sampleProject(t *testing.T) *mapping.Record {
	t.Helper()
	e, err := mapping.Lookup(mapping.Projects)
	if err != nil {
		t.Fatal(err)
	}
	rec, _, err := mapping.NewMapper(0).Map(e, map[string]any{
		"id": int64(1), "name": "alpha", "platform": "vscode", "created_at": time.Now(),
	})
	if err != nil {
		t.Fatalf("mapping project: %v", err)
	}
	return rec
}

func exerciseWriter(t *testing.T, w target.Writer) {
	t.Helper()
	ctx := context.Background()

	if err := w.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := w.Clear(ctx, mapping.Names()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Insert(ctx, sampleProject(t)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	n, err := w.Count(ctx, mapping.Projects)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("projects = %d, want 3", n)
	}
	if err := w.Clear(ctx, []string{mapping.Projects}); err != nil {
		t.Fatalf("Clear projects: %v", err)
	}
	if n, _ := w.Count(ctx, mapping.Projects); n != 0 {
		t.Errorf("projects after clear = %d", n)
	}
}

func TestPostgresWriter(t *testing.T) {
	skipIfNoPostgres(t)
	preparePostgres(t)
	ctx := context.Background()

	w, err := target.NewPostgresWriter(ctx, pgConnString(t), 2)
	if err != nil {
		t.Fatalf("connecting to PostgreSQL: %v", err)
	}
	defer w.Close(ctx)
	exerciseWriter(t, w)
}

func TestMongoWriter(t *testing.T) {
	skipIfNoMongo(t)
	ctx := context.Background()

	w, err := target.NewMongoWriter(ctx, mongoURI(t), mongoDatabase(t))
	if err != nil {
		t.Fatalf("connecting to MongoDB: %v", err)
	}
	defer w.Close(ctx)
	exerciseWriter(t, w)
}
