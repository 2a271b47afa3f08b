package postgres

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds PostgreSQL connection configuration as read from YAML.
type Config struct {
	URL               string        `yaml:"url"`
	MaxConns          int           `yaml:"max_conns"`
	// MinConns is a pointer so an explicit 0 is kept apart from unset.
	MinConns          *int          `yaml:"min_conns"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	TLS               TLSConfig     `yaml:"tls"`
}

// Parse validates the configuration into a ConnConfig. No network I/O happens here.
func (c Config) Parse() (ConnConfig, error) {
	transport, err := c.TLS.Transport()
	if err != nil {
		return ConnConfig{}, &ConfigError{Field: "tls", Err: err}
	}
	minConns := 0
	if c.MinConns != nil {
		minConns = *c.MinConns
	}
	return ParseConfig(c.URL, transport,
		WithPoolLimits(int32(c.MaxConns), int32(minConns)),
		WithConnLifetime(c.MaxConnLifetime, c.MaxConnIdleTime),
		WithHealthCheckPeriod(c.HealthCheckPeriod),
		WithConnectTimeout(c.ConnectTimeout),
	)
}

// ConfigError reports a malformed connection configuration.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid database config (%s): %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConnConfig is an immutable, validated description of how to reach the database.
type ConnConfig struct {
	pool      *pgxpool.Config
	transport Transport
}

// ConfigOption tunes the pool part of a ConnConfig.
type ConfigOption func(cfg *pgxpool.Config)

// WithPoolLimits sets max and min connections; zero leaves the parsed value.
func WithPoolLimits(maxConns, minConns int32) ConfigOption {
	return func(cfg *pgxpool.Config) {
		if maxConns != 0 {
			cfg.MaxConns = maxConns
		}
		if minConns != 0 {
			cfg.MinConns = minConns
		}
	}
}

// WithConnLifetime sets connection max lifetime and max idle time; zero leaves the parsed value.
func WithConnLifetime(lifetime, idle time.Duration) ConfigOption {
	return func(cfg *pgxpool.Config) {
		if lifetime > 0 {
			cfg.MaxConnLifetime = lifetime
		}
		if idle > 0 {
			cfg.MaxConnIdleTime = idle
		}
	}
}

// WithHealthCheckPeriod sets how often the pool checks idle connections.
func WithHealthCheckPeriod(d time.Duration) ConfigOption {
	return func(cfg *pgxpool.Config) {
		if d > 0 {
			cfg.HealthCheckPeriod = d
		}
	}
}

// WithConnectTimeout bounds establishing a single connection.
func WithConnectTimeout(d time.Duration) ConfigOption {
	return func(cfg *pgxpool.Config) {
		if d > 0 {
			cfg.ConnConfig.ConnectTimeout = d
		}
	}
}

// ParseConfig parses a connection string (URI or keyword/value) and applies transport.
// Failures are returned as *ConfigError.
func ParseConfig(dsn string, transport Transport, opts ...ConfigOption) (ConnConfig, error) {
	if strings.TrimSpace(dsn) == "" {
		return ConnConfig{}, &ConfigError{Field: "url", Err: errors.New("connection string is empty")}
	}
	if transport == nil {
		transport = FromDSN()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return ConnConfig{}, &ConfigError{Field: "url", Err: err}
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.MaxConns < 1 {
		return ConnConfig{}, &ConfigError{Field: "max_conns", Err: fmt.Errorf("must be at least 1, got %d", cfg.MaxConns)}
	}
	if cfg.MinConns < 0 || cfg.MinConns > cfg.MaxConns {
		return ConnConfig{}, &ConfigError{
			Field: "min_conns",
			Err:   fmt.Errorf("must be between 0 and max_conns (%d), got %d", cfg.MaxConns, cfg.MinConns),
		}
	}
	if err := transport.Apply(&cfg.ConnConfig.Config); err != nil {
		return ConnConfig{}, &ConfigError{Field: "tls", Err: err}
	}

	return ConnConfig{pool: cfg, transport: transport}, nil
}

// IsZero reports whether c was never parsed.
func (c ConnConfig) IsZero() bool { return c.pool == nil }

// Host returns the primary host.
func (c ConnConfig) Host() string { return c.pool.ConnConfig.Host }

// Port returns the primary port.
func (c ConnConfig) Port() uint16 { return c.pool.ConnConfig.Port }

// Database returns the database name.
func (c ConnConfig) Database() string { return c.pool.ConnConfig.Database }

// User returns the user name.
func (c ConnConfig) User() string { return c.pool.ConnConfig.User }

// MaxConns returns the pool size limit.
func (c ConnConfig) MaxConns() int32 { return c.pool.MaxConns }

// MinConns returns the number of connections kept open.
func (c ConnConfig) MinConns() int32 { return c.pool.MinConns }

// Transport returns the transport capability.
func (c ConnConfig) Transport() Transport { return c.transport }

// poolConfig returns a private copy for one build attempt.
func (c ConnConfig) poolConfig() *pgxpool.Config { return c.pool.Copy() }

// String renders a password-free summary for logs.
func (c ConnConfig) String() string {
	if c.IsZero() {
		return "<unparsed>"
	}
	addr := net.JoinHostPort(c.Host(), strconv.Itoa(int(c.Port())))
	return fmt.Sprintf("postgres://%s@%s/%s (transport=%s, max_conns=%d, min_conns=%d)",
		c.User(), addr, c.Database(), c.transport.Name(), c.MaxConns(), c.MinConns())
}
