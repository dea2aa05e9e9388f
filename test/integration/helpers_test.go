//go:build integration

package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatmirror/chatmirror/internal/config"
	"github.com/chatmirror/chatmirror/internal/pool"
)

func mysqlSource(t *testing.T) config.SourceConfig {
	t.Helper()
	port, _ := strconv.Atoi(envOrDefault("CHATMIRROR_TEST_MYSQL_PORT", "23306"))
	return config.SourceConfig{
		Host:     envOrDefault("CHATMIRROR_TEST_MYSQL_HOST", "localhost"),
		Port:     port,
		Database: envOrDefault("CHATMIRROR_TEST_MYSQL_DATABASE", "chatmirror_test"),
		Username: envOrDefault("CHATMIRROR_TEST_MYSQL_USER", "root"),
		Password: envOrDefault("CHATMIRROR_TEST_MYSQL_PASSWORD", "root"),
	}
}

func pgConnString(t *testing.T) string {
	t.Helper()
	host := envOrDefault("CHATMIRROR_TEST_PG_HOST", "localhost")
	port := envOrDefault("CHATMIRROR_TEST_PG_PORT", "25432")
	db := envOrDefault("CHATMIRROR_TEST_PG_DATABASE", "chatmirror_test")
	user := envOrDefault("CHATMIRROR_TEST_PG_USER", "postgres")
	pass := envOrDefault("CHATMIRROR_TEST_PG_PASSWORD", "postgres")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, db)
}

func mongoURI(t *testing.T) string {
	t.Helper()
	return envOrDefault("CHATMIRROR_TEST_MONGO_URI", "mongodb://localhost:37017/?directConnection=true")
}

func mongoDatabase(t *testing.T) string {
	t.Helper()
	return envOrDefault("CHATMIRROR_TEST_MONGO_DATABASE", "chatmirror_test")
}

func skipIfNoMySQL(t *testing.T) {
	t.Helper()
	if os.Getenv("CHATMIRROR_TEST_MYSQL_HOST") == "" && os.Getenv("CHATMIRROR_TEST_MYSQL_PORT") == "" {
		t.Skip("skipping: CHATMIRROR_TEST_MYSQL_HOST/PORT not set")
	}
}

func skipIfNoPostgres(t *testing.T) {
	t.Helper()
	if os.Getenv("CHATMIRROR_TEST_PG_HOST") == "" && os.Getenv("CHATMIRROR_TEST_PG_PORT") == "" {
		t.Skip("skipping: CHATMIRROR_TEST_PG_HOST/PORT not set")
	}
}

func skipIfNoMongo(t *testing.T) {
	t.Helper()
	if os.Getenv("CHATMIRROR_TEST_MONGO_URI") == "" {
		t.Skip("skipping: CHATMIRROR_TEST_MONGO_URI not set")
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	workspace_id TEXT,
	platform TEXT,
	name TEXT,
	path TEXT,
	created_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	workspace_id TEXT,
	project_name TEXT,
	name TEXT,
	created_at TIMESTAMPTZ,
	last_interacted_at TIMESTAMPTZ,
	message_count BIGINT,
	created_timestamp TIMESTAMPTZ,
	updated_timestamp TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT REFERENCES conversations(id),
	request_id TEXT,
	role TEXT,
	content TEXT,
	timestamp TIMESTAMPTZ,
	message_order BIGINT,
	workspace_files TEXT,
	created_at TIMESTAMPTZ
);
TRUNCATE messages, conversations, projects;`

// preparePostgres creates empty destination tables.
func preparePostgres(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	p, err := pgxpool.New(ctx, pgConnString(t))
	if err != nil {
		t.Fatalf("connecting to PostgreSQL: %v", err)
	}
	defer p.Close()
	if _, err := p.Exec(ctx, pgSchema); err != nil {
		t.Fatalf("creating destination schema: %v", err)
	}
}

var mysqlSchema = []string{
	`DROP TABLE IF EXISTS messages`,
	`DROP TABLE IF EXISTS conversations`,
	`DROP TABLE IF EXISTS projects`,
	`CREATE TABLE projects (
		id INT AUTO_INCREMENT PRIMARY KEY,
		workspace_id VARCHAR(64),
		platform VARCHAR(32),
		name VARCHAR(255),
		path VARCHAR(1024),
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE conversations (
		id VARCHAR(64) PRIMARY KEY,
		workspace_id VARCHAR(64),
		project_name VARCHAR(255),
		name VARCHAR(255),
		created_at DATETIME NULL,
		last_interacted_at DATETIME NULL,
		message_count INT,
		created_timestamp DATETIME,
		updated_timestamp DATETIME
	)`,
	`CREATE TABLE messages (
		id INT AUTO_INCREMENT PRIMARY KEY,
		conversation_id VARCHAR(64),
		request_id VARCHAR(64),
		role VARCHAR(16),
		content TEXT,
		timestamp DATETIME NULL,
		message_order INT,
		workspace_files TEXT NULL,
		created_at DATETIME
	)`,
}

// seedMySQL recreates the source tables with the given row counts.
func seedMySQL(t *testing.T, projects, conversations, messagesPer int) {
	t.Helper()
	db, err := sql.Open("mysql", pool.MySQLConfig(mysqlSource(t), 10*time.Second).FormatDSN())
	if err != nil {
		t.Fatalf("opening MySQL: %v", err)
	}
	defer db.Close()

	for _, stmt := range mysqlSchema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("creating source schema: %v", err)
		}
	}
	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < projects; i++ {
		_, err := db.Exec(`INSERT INTO projects (workspace_id, platform, name, path, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			"ws-1", "vscode", fmt.Sprintf("project-%d", i), fmt.Sprintf("/src/p%d", i), now, now)
		if err != nil {
			t.Fatalf("seeding projects: %v", err)
		}
	}
	for i := 0; i < conversations; i++ {
		id := fmt.Sprintf("conv-%03d", i)
		_, err := db.Exec(`INSERT INTO conversations (id, workspace_id, project_name, name, created_at, message_count, created_timestamp, updated_timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, "ws-1", fmt.Sprintf("project-%d", i%max(projects, 1)), "chat "+id, now, messagesPer, now, now)
		if err != nil {
			t.Fatalf("seeding conversations: %v", err)
		}
		for j := 0; j < messagesPer; j++ {
			_, err := db.Exec(`INSERT INTO messages (conversation_id, request_id, role, content, timestamp, message_order, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, fmt.Sprintf("req-%d", j), "user", fmt.Sprintf("hello %d from %s", j, id), now, j, now)
			if err != nil {
				t.Fatalf("seeding messages: %v", err)
			}
		}
	}
}
