package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.chatmirror/chatmirror.yaml"
)

// Target types.
const (
	TargetPostgres = "postgres"
	TargetMongoDB  = "mongodb"
)

// Config is the top-level configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Source    SourceConfig    `yaml:"source"`
	Target    TargetConfig    `yaml:"target"`
	Pool      PoolConfig      `yaml:"pool,omitempty"`
	Migration MigrationConfig `yaml:"migration,omitempty"`
	Logging   LogConfig       `yaml:"logging,omitempty"`
}

// SourceConfig defines the MySQL source connection.
type SourceConfig struct {
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Database string            `yaml:"database"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	TLS      string            `yaml:"tls,omitempty"` // "", "true", "skip-verify", "preferred"
	Params   map[string]string `yaml:"params,omitempty"`
}

// TargetConfig defines the destination connection.
type TargetConfig struct {
	Type             string `yaml:"type"` // postgres or mongodb
	ConnectionString string `yaml:"connection_string"`
	Database         string `yaml:"database,omitempty"`        // mongodb only
	MaxConnections   int32  `yaml:"max_connections,omitempty"` // postgres pool size, default 4
}

// PoolConfig sizes the source connection pool.
type PoolConfig struct {
	MaxConnections      int           `yaml:"max_connections,omitempty"`       // default 5
	ConnectionTimeout   time.Duration `yaml:"connection_timeout,omitempty"`    // default 30s
	IdleTimeout         time.Duration `yaml:"idle_timeout,omitempty"`          // default 5m
	HealthCheckInterval time.Duration `yaml:"health_check_interval,omitempty"` // default 60s
	AcquireRetry        time.Duration `yaml:"acquire_retry,omitempty"`         // default 100ms
}

// MigrationConfig tunes batching and throttling.
type MigrationConfig struct {
	ClearBeforeRun bool                    `yaml:"clear_before_run,omitempty"`
	RowDelay       time.Duration           `yaml:"row_delay,omitempty"`       // default 10ms
	RowsPerSecond  float64                 `yaml:"rows_per_second,omitempty"` // 0 disables the token bucket
	MaxTextLength  int                     `yaml:"max_text_length,omitempty"` // default 8000
	Entities       map[string]EntityConfig `yaml:"entities,omitempty"`
}

// EntityConfig is the per-entity batch size and inter-batch delay.
type EntityConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`     // debug, info, warn, error
	Directory string `yaml:"directory,omitempty"` // default ~/.chatmirror/logs/
}

// DefaultEntities is the batch table used when the config omits one.
var DefaultEntities = map[string]EntityConfig{
	"projects":      {BatchSize: 10, BatchDelay: 200 * time.Millisecond},
	"conversations": {BatchSize: 15, BatchDelay: 150 * time.Millisecond},
	"messages":      {BatchSize: 50, BatchDelay: 100 * time.Millisecond},
}

// Default returns a config with every default applied and no connections set.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the config file from the given path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.Target.Type {
	case TargetPostgres, TargetMongoDB:
	default:
		return fmt.Errorf("unsupported target type %q (expected %s or %s)", c.Target.Type, TargetPostgres, TargetMongoDB)
	}
	if c.Target.Type == TargetMongoDB && c.Target.Database == "" {
		return fmt.Errorf("target database is required for mongodb")
	}
	for name, e := range c.Migration.Entities {
		if e.BatchSize <= 0 {
			return fmt.Errorf("entity %s: batch_size must be positive", name)
		}
		if e.BatchDelay < 0 {
			return fmt.Errorf("entity %s: batch_delay must not be negative", name)
		}
	}
	return nil
}

// Entity returns the batch settings for an entity, falling back to defaults.
func (m MigrationConfig) Entity(name string) EntityConfig {
	if e, ok := m.Entities[name]; ok && e.BatchSize > 0 {
		return e
	}
	if e, ok := DefaultEntities[name]; ok {
		return e
	}
	return EntityConfig{BatchSize: 50, BatchDelay: 100 * time.Millisecond}
}

func (c *Config) applyDefaults() {
	if c.Source.Port == 0 {
		c.Source.Port = 3306
	}
	if c.Target.Type == "" {
		c.Target.Type = TargetPostgres
	}
	if c.Target.MaxConnections == 0 {
		c.Target.MaxConnections = 4
	}
	if c.Pool.MaxConnections <= 0 {
		c.Pool.MaxConnections = 5
	}
	if c.Pool.ConnectionTimeout == 0 {
		c.Pool.ConnectionTimeout = 30 * time.Second
	}
	if c.Pool.IdleTimeout == 0 {
		c.Pool.IdleTimeout = 5 * time.Minute
	}
	if c.Pool.HealthCheckInterval == 0 {
		c.Pool.HealthCheckInterval = time.Minute
	}
	if c.Pool.AcquireRetry == 0 {
		c.Pool.AcquireRetry = 100 * time.Millisecond
	}
	if c.Migration.RowDelay == 0 {
		c.Migration.RowDelay = 10 * time.Millisecond
	}
	if c.Migration.MaxTextLength == 0 {
		c.Migration.MaxTextLength = 8000
	}
	if c.Migration.Entities == nil {
		c.Migration.Entities = make(map[string]EntityConfig, len(DefaultEntities))
	}
	for name, e := range DefaultEntities {
		if _, ok := c.Migration.Entities[name]; !ok {
			c.Migration.Entities[name] = e
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome("~/.chatmirror/logs/")
	}
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	var err error
	c.Source.Password, err = ResolveValue(c.Source.Password)
	if err != nil {
		return fmt.Errorf("source password: %w", err)
	}
	c.Target.ConnectionString, err = ResolveValue(c.Target.ConnectionString)
	if err != nil {
		return fmt.Errorf("target connection string: %w", err)
	}
	return nil
}

// ResolveValue resolves the first secret reference in val. Values without a
// reference are returned unchanged.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider, ref := matches[1], matches[2]
	var (
		secret string
		err    error
	)
	switch provider {
	case "ENV":
		secret = os.Getenv(ref)
		if secret == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
	case "VAULT":
		secret, err = resolveVault(ref)
	case "AWS_SM":
		secret, err = resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
	if err != nil {
		return "", err
	}
	// References may sit inside a DSN, e.g. postgres://u:${ENV:PW}@host/db.
	return strings.Replace(val, matches[0], secret, 1), nil
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
