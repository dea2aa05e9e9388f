//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chatmirror/chatmirror/internal/api"
	"github.com/chatmirror/chatmirror/internal/config"
	"github.com/chatmirror/chatmirror/internal/engine"
	"github.com/chatmirror/chatmirror/internal/mapping"
	"github.com/chatmirror/chatmirror/internal/migration"
	"github.com/chatmirror/chatmirror/internal/ws"
)

func testConfig(t *testing.T, tgt config.TargetConfig) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Source = mysqlSource(t)
	cfg.Target = tgt
	cfg.Pool.MaxConnections = 3
	cfg.Migration.RowDelay = 0
	for name, e := range cfg.Migration.Entities {
		e.BatchDelay = time.Millisecond
		cfg.Migration.Entities[name] = e
	}
	return cfg
}

func openEngine(t *testing.T, cfg *config.Config) *engine.Engine {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	eng, err := engine.Open(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("opening engine: %v", err)
	}
	t.Cleanup(func() { eng.Close(context.Background()) })
	return eng
}

func assertMigrated(t *testing.T, eng *engine.Engine, projects, conversations, messages int64) {
	t.Helper()
	snap, err := eng.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := map[string]int64{
		mapping.Projects:      projects,
		mapping.Conversations: conversations,
		mapping.Messages:      messages,
	}
	for name, n := range want {
		if snap.Source[name] != n || snap.Destination[name] != n {
			t.Errorf("%s: source %d destination %d, want %d", name, snap.Source[name], snap.Destination[name], n)
		}
	}
}

func TestMigrateAll_MySQLToPostgres(t *testing.T) {
	skipIfNoMySQL(t)
	skipIfNoPostgres(t)
	seedMySQL(t, 12, 20, 3)
	preparePostgres(t)

	eng := openEngine(t, testConfig(t, config.TargetConfig{
		Type:             config.TargetPostgres,
		ConnectionString: pgConnString(t),
		MaxConnections:   2,
	}))

	res := eng.CheckConnection(context.Background())
	if !res.SourceConnected || !res.DestinationConnected {
		t.Fatalf("connection check: %+v", res)
	}

	job, err := eng.MigrateAll(context.Background(), engine.RunOptions{ClearDestination: true})
	if err != nil {
		t.Fatalf("MigrateAll: %v", err)
	}
	if job.Phase != migration.PhaseCompleted || job.Percent() != 100 {
		t.Errorf("job = %s %d%%", job.Phase, job.Percent())
	}
	assertMigrated(t, eng, 12, 20, 60)

	if st := eng.PoolStatus(); st.Total > 3 || st.InUse != 0 {
		t.Errorf("pool status after run = %+v", st)
	}
}

func TestMigrateAll_PauseResume_MySQLToMongo(t *testing.T) {
	skipIfNoMySQL(t)
	skipIfNoMongo(t)
	seedMySQL(t, 5, 40, 2)

	eng := openEngine(t, testConfig(t, config.TargetConfig{
		Type:             config.TargetMongoDB,
		ConnectionString: mongoURI(t),
		Database:         mongoDatabase(t),
	}))

	paused := make(chan struct{})
	var once bool
	eng.OnStatus(func(st *migration.Status) {
		if !once && st.LastBatch != nil && st.LastBatch.Entity == mapping.Conversations {
			once = true
			eng.PauseMigration()
			close(paused)
		}
	})
	if err := eng.StartMigration(engine.RunOptions{ClearDestination: true}); err != nil {
		t.Fatalf("StartMigration: %v", err)
	}
	<-paused
	eng.Wait()

	st, err := eng.MigrationStatus()
	if err != nil {
		t.Fatalf("MigrationStatus: %v", err)
	}
	if st.Job.Phase != migration.PhasePaused {
		t.Fatalf("phase = %s, want paused", st.Job.Phase)
	}

	eng.OnStatus(nil)
	if err := eng.ResumeMigration(); err != nil {
		t.Fatalf("ResumeMigration: %v", err)
	}
	eng.Wait()
	assertMigrated(t, eng, 5, 40, 80)
}

func TestAPI_MigrationEndpoints(t *testing.T) {
	skipIfNoMySQL(t)
	skipIfNoPostgres(t)
	seedMySQL(t, 3, 4, 2)
	preparePostgres(t)

	eng := openEngine(t, testConfig(t, config.TargetConfig{
		Type:             config.TargetPostgres,
		ConnectionString: pgConnString(t),
	}))
	hub := ws.NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	eng.OnStatus(hub.Publish)

	srv := httptest.NewServer(api.New(eng, slog.Default(), 0, api.WithHub(hub)).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/connection")
	if err != nil {
		t.Fatalf("GET /api/connection: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("connection status = %d", resp.StatusCode)
	}

	body, _ := json.Marshal(map[string]any{"action": "migrate_all"})
	resp, err = http.Post(srv.URL+"/api/action", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/action: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("migrate_all status = %d", resp.StatusCode)
	}
	var out api.MigrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.Summary[mapping.Messages] != 8 {
		t.Errorf("summary = %v", out.Summary)
	}
	assertMigrated(t, eng, 3, 4, 8)
}
