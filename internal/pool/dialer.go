package pool

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/chatmirror/chatmirror/internal/config"
)

// Conn is one dedicated database connection. *sql.Conn satisfies it.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Dialer opens new connections for the pool.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	Addr() string
}

// SQLDialer hands out dedicated connections from a database/sql handle that
// keeps no idle connections of its own, so closing a Conn closes the socket
// and the Pool stays the only owner of connection lifetime.
type SQLDialer struct {
	db   *sql.DB
	addr string
}

// NewSQLDialer wraps db. It disables db's idle cache.
func NewSQLDialer(db *sql.DB, addr string) *SQLDialer {
	db.SetMaxIdleConns(0)
	return &SQLDialer{db: db, addr: addr}
}

// NewMySQLDialer builds a dialer for the configured MySQL source.
func NewMySQLDialer(src config.SourceConfig, timeout time.Duration) (*SQLDialer, error) {
	cfg := MySQLConfig(src, timeout)
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("building MySQL connector: %w", err)
	}
	return NewSQLDialer(sql.OpenDB(connector), cfg.Addr), nil
}

// MySQLConfig translates the source section of the config into driver settings.
func MySQLConfig(src config.SourceConfig, timeout time.Duration) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = src.Username
	cfg.Passwd = src.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(src.Host, strconv.Itoa(src.Port))
	cfg.DBName = src.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = timeout
	if src.TLS != "" {
		cfg.TLSConfig = src.TLS
	}
	cfg.Collation = "utf8mb4_general_ci"
	if len(src.Params) > 0 {
		cfg.Params = maps.Clone(src.Params)
	}
	return cfg
}

// Dial opens and pings a dedicated connection.
func (d *SQLDialer) Dial(ctx context.Context) (Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (d *SQLDialer) Addr() string { return d.addr }

// Close releases the underlying database/sql handle.
func (d *SQLDialer) Close() error { return d.db.Close() }
