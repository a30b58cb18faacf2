// Package database provides the pooled PostgreSQL client, migration
// utilities, and error classification shared by all store packages.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the pgx-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Client wraps a pgx connection pool. All store packages hold a *Client.
type Client struct {
	pool *pgxpool.Pool
}

// Pool returns the underlying connection pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close releases all pooled connections.
func (c *Client) Close() {
	c.pool.Close()
}

// WithConn runs fn with a dedicated connection from the pool. The connection
// is released on all exit paths, including panics inside fn.
func (c *Client) WithConn(ctx context.Context, fn func(*pgxpool.Conn) error) error {
	return c.pool.AcquireFunc(ctx, fn)
}

// NewClientFromPool wraps an existing pool (useful for testing).
func NewClientFromPool(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// NewClient connects to PostgreSQL, applies pending migrations, and returns
// a pooled client. Vector types are registered on every pooled connection so
// the memory store can bind []float32 embeddings directly.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	// Migrations run on a short-lived database/sql connection; the runtime
	// pool below never sees a partially migrated schema.
	if err := RunMigrations(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{pool: pool}, nil
}

// NewPool creates a configured pgx pool without running migrations.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", Classify(err))
	}

	return pool, nil
}
