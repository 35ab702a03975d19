package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/circuitbreaker"
)

// Config holds database configuration
type Config struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	// Retention bounds run history age. Zero keeps everything.
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
}

// Client wraps a sqlx handle with a circuit breaker.
type Client struct {
	db     *sqlx.DB
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

// ParseURL maps a database URL to a driver name and DSN. postgres:// and
// postgresql:// URLs are passed to lib/pq unchanged; sqlite://path opens a
// SQLite file (sqlite://:memory: for an in-memory database).
func ParseURL(raw string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return "postgres", raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite url %q has no path", raw)
		}
		return "sqlite3", path, nil
	}
	return "", "", fmt.Errorf("unsupported database url %q", raw)
}

// Open connects to cfg.URL and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	driver, dsn, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}

	dbx, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		// A single connection keeps :memory: databases shared across calls.
		cfg.MaxConnections, cfg.IdleConnections = 1, 1
	}
	dbx.SetMaxOpenConns(cfg.MaxConnections)
	dbx.SetMaxIdleConns(cfg.IdleConnections)
	dbx.SetConnMaxLifetime(cfg.MaxLifetime)

	client := NewClient(dbx, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client.logger.Info("Database client initialized",
		zap.String("driver", driver),
		zap.Int("max_connections", cfg.MaxConnections))
	return client, nil
}

// NewClient wraps an existing handle.
func NewClient(dbx *sqlx.DB, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := circuitbreaker.NewCircuitBreaker("database", circuitbreaker.GetDatabaseConfig().ToConfig(), logger)
	circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker("database", "run-store", cb)
	return &Client{db: dbx, cb: cb, logger: logger}
}

// DB returns the underlying handle.
func (c *Client) DB() *sqlx.DB { return c.db }

// Ping checks connectivity through the breaker.
func (c *Client) Ping(ctx context.Context) error {
	return c.guard(ctx, func() error { return c.db.PingContext(ctx) })
}

// Close closes the database.
func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) guard(ctx context.Context, fn func() error) error {
	err := c.cb.Execute(ctx, fn)
	circuitbreaker.GlobalMetricsCollector.RecordRequest("database", "run-store", c.cb.State(), err == nil)
	return err
}

// IsCircuitBreakerOpen reports whether database calls are currently rejected.
func (c *Client) IsCircuitBreakerOpen() bool {
	return c.cb.State() == circuitbreaker.StateOpen
}
