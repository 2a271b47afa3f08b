package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Pool is the resource handle: a generation-tagged pgx connection pool.
// Sharing a *Pool is O(1); all tasks of one generation use the same connections.
type Pool struct {
	id         string
	generation uint64
	pool       *pgxpool.Pool

	mu     sync.Mutex
	sqlxDB *sqlx.DB
	closed bool
}

// Build opens a pool and verifies one connection.
func Build(ctx context.Context, cfg ConnConfig, generation uint64) (*Pool, error) {
	p, err := pgxpool.NewWithConfig(ctx, cfg.poolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Test connection
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{
		id:         uuid.NewString(),
		generation: generation,
		pool:       p,
	}, nil
}

// buildPool is swapped in tests to observe build attempts.
var buildPool = Build

// Builder builds pools from a retained ConnConfig.
type Builder struct {
	cfg ConnConfig
	log *slog.Logger
}

// NewBuilder creates a builder for cfg.
func NewBuilder(cfg ConnConfig, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{cfg: cfg, log: log}
}

// Build implements actor.Builder.
func (b *Builder) Build(ctx context.Context, generation uint64) (*Pool, error) {
	b.log.Debug("Building connection pool", "config", b.cfg.String(), "generation", generation)
	return buildPool(ctx, b.cfg, generation)
}

// ID returns the unique handle ID.
func (p *Pool) ID() string { return p.id }

// Generation returns the build generation.
func (p *Pool) Generation() uint64 { return p.generation }

// Ping checks a connection out and pings the server.
func (p *Pool) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close closes the pool. It waits for checked out connections to be released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	db := p.sqlxDB
	p.mu.Unlock()

	if db != nil {
		_ = db.Close()
	}
	p.pool.Close()
}

// Stats is a snapshot of pool usage.
type Stats struct {
	Total             int32 `json:"total"`
	Idle              int32 `json:"idle"`
	Acquired          int32 `json:"acquired"`
	Max               int32 `json:"max"`
	AcquireCount      int64 `json:"acquire_count"`
	EmptyAcquireCount int64 `json:"empty_acquire_count"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	s := p.pool.Stat()
	return Stats{
		Total:             s.TotalConns(),
		Idle:              s.IdleConns(),
		Acquired:          s.AcquiredConns(),
		Max:               s.MaxConns(),
		AcquireCount:      s.AcquireCount(),
		EmptyAcquireCount: s.EmptyAcquireCount(),
	}
}

// SQLX returns a database/sql view over the same pool for sqlx scanning.
// It is closed together with the handle.
func (p *Pool) SQLX() *sqlx.DB {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sqlxDB == nil {
		p.sqlxDB = sqlx.NewDb(stdlib.OpenDBFromPool(p.pool), "pgx")
	}
	return p.sqlxDB
}

// Checkout acquires a connection. Callers must Release it.
func (p *Pool) Checkout(ctx context.Context) (*Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Conn{conn: c}, nil
}

// Query runs sql on a pooled connection and collects all rows.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return collectRows(rows)
}

// QueryRow runs sql expecting at most one row. Errors surface on Scan.
func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

// Exec runs a statement and returns the number of affected rows.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReadOnly runs fn inside a read-only transaction.
func (p *Pool) ReadOnly(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

// Conn is a checked out connection.
type Conn struct {
	conn *pgxpool.Conn
}

// Query runs sql and collects all rows.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return collectRows(rows)
}

// QueryRow runs sql expecting at most one row.
func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

// Exec runs a statement and returns the number of affected rows.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReadOnly runs fn inside a read-only transaction on this connection.
func (c *Conn) ReadOnly(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, c.conn, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

// Release returns the connection to the pool.
func (c *Conn) Release() { c.conn.Release() }

// Row is one result row keyed by column name.
type Row = map[string]any

func collectRows(rows pgx.Rows) ([]Row, error) {
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return out, nil
}
