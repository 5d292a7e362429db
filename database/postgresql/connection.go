// Package postgresql implements database.Interface on top of the pgx stdlib driver.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/gaborage/tunecache/config"
	"github.com/gaborage/tunecache/database"
	"github.com/gaborage/tunecache/logger"
)

const connectTimeout = 10 * time.Second

// Connection implements database.Interface for PostgreSQL.
type Connection struct {
	db     *sql.DB
	logger logger.Logger
}

var (
	openPostgresDB = func(cfg *pgx.ConnConfig) *sql.DB {
		return stdlib.OpenDB(*cfg)
	}
	pingPostgresDB = func(ctx context.Context, db *sql.DB) error {
		return db.PingContext(ctx)
	}
)

// quoteDSN quotes a keyword/value DSN value according to libpq rules.
func quoteDSN(value string) string {
	if value == "" {
		return "''"
	}

	needsQuoting := strings.ContainsFunc(value, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') && r != '.' && r != '_' && r != '-'
	})
	if !needsQuoting {
		return value
	}

	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "'", "\\'")
	return "'" + escaped + "'"
}

// DSN builds the connection string for cfg.
func DSN(cfg *config.DatabaseConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}
	parts := []string{
		"host=" + quoteDSN(cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		"user=" + quoteDSN(cfg.Username),
		"password=" + quoteDSN(cfg.Password),
		"dbname=" + quoteDSN(cfg.Database),
	}
	if cfg.SSLMode != "" {
		parts = append(parts, "sslmode="+cfg.SSLMode)
	}
	return strings.Join(parts, " ")
}

// NewConnection opens a pool and verifies it with a ping.
func NewConnection(cfg *config.DatabaseConfig, log logger.Logger) (*Connection, error) {
	pgxConfig, err := pgx.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	db := openPostgresDB(pgxConfig)
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := pingPostgresDB(ctx, db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close PostgreSQL database connection after ping failure")
		}
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}

	log.Info().
		Str("host", pgxConfig.Host).
		Int("port", int(pgxConfig.Port)).
		Str("database", pgxConfig.Database).
		Msg("Connected to PostgreSQL database")

	return Wrap(db, log), nil
}

// Wrap adapts an open *sql.DB.
func Wrap(db *sql.DB, log logger.Logger) *Connection {
	if log == nil {
		log = logger.Nop()
	}
	return &Connection{db: db, logger: log}
}

// Transaction wraps sql.Tx to implement database.Tx.
type Transaction struct {
	tx *sql.Tx
}

// Query executes a query within the transaction.
func (t *Transaction) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRow executes a query returning at most one row within the transaction.
func (t *Transaction) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Exec executes a statement within the transaction.
func (t *Transaction) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// Commit commits the transaction.
func (t *Transaction) Commit() error { return t.tx.Commit() }

// Rollback rolls back the transaction.
func (t *Transaction) Rollback() error { return t.tx.Rollback() }

// Query executes a query that returns rows.
func (c *Connection) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row.
func (c *Connection) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// Exec executes a statement without returning rows.
func (c *Connection) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// Begin starts a transaction.
func (c *Connection) Begin(ctx context.Context) (database.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Transaction{tx: tx}, nil
}

// Health checks database connectivity.
func (c *Connection) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

// Stats returns pool statistics.
func (c *Connection) Stats() (map[string]any, error) {
	stats := c.db.Stats()
	return map[string]any{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration":        stats.WaitDuration.String(),
	}, nil
}

// Close closes the pool.
func (c *Connection) Close() error {
	c.logger.Info().Msg("Closing PostgreSQL database connection")
	return c.db.Close()
}

// DatabaseType returns "postgresql".
func (c *Connection) DatabaseType() string {
	return "postgresql"
}

var _ database.Interface = (*Connection)(nil)
