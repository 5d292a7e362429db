package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/tunecache/config"
	"github.com/gaborage/tunecache/logger"
)

func TestConnectionBasicMethodsWithSQLMock(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	c := Wrap(db, logger.Nop())
	ctx := context.Background()

	mock.ExpectPing()
	require.NoError(t, c.Health(ctx))

	mock.ExpectExec("UPDATE artists SET name").WithArgs("Nina", "a1").WillReturnResult(sqlmock.NewResult(0, 1))
	res, err := c.Exec(ctx, "UPDATE artists SET name = $1 WHERE id = $2", "Nina", "a1")
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.Equal(t, int64(1), n)

	mock.ExpectQuery("SELECT id, name FROM artists").WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("a1", "Nina"))
	rows, err := c.Query(ctx, "SELECT id, name FROM artists")
	require.NoError(t, err)
	assert.True(t, rows.Next())
	require.NoError(t, rows.Close())

	mock.ExpectQuery("SELECT name FROM artists").WithArgs("a1").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Nina"))
	var name string
	require.NoError(t, c.QueryRow(ctx, "SELECT name FROM artists WHERE id = $1", "a1").Scan(&name))
	assert.Equal(t, "Nina", name)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM follows").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	tx, err := c.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "DELETE FROM follows WHERE follower_id = $1", "u1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Contains(t, stats, "open_connections")
	assert.Equal(t, "postgresql", c.DatabaseType())

	mock.ExpectClose()
	require.NoError(t, c.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteDSN(t *testing.T) {
	tests := map[string]string{
		"":           "''",
		"tunecache":  "tunecache",
		"db.host-1":  "db.host-1",
		"p@ss word":  "'p@ss word'",
		`it's`:       `'it\'s'`,
		`back\slash`: `'back\\slash'`,
	}
	for in, want := range tests {
		assert.Equal(t, want, quoteDSN(in), in)
	}
}

func TestDSN(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host: "db", Port: 5432, Username: "music", Password: "s3cret!", Database: "catalog", SSLMode: "require",
	}
	assert.Equal(t, "host=db port=5432 user=music password='s3cret!' dbname=catalog sslmode=require", DSN(cfg))

	cfg.ConnectionString = "postgres://u@h/db"
	assert.Equal(t, "postgres://u@h/db", DSN(cfg))
}

func TestNewConnectionPingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	origOpen, origPing := openPostgresDB, pingPostgresDB
	t.Cleanup(func() { openPostgresDB, pingPostgresDB = origOpen, origPing })
	openPostgresDB = func(*pgx.ConnConfig) *sql.DB { return db }
	pingPostgresDB = func(context.Context, *sql.DB) error { return errors.New("connection refused") }

	mock.ExpectClose()
	_, err = NewConnection(&config.DatabaseConfig{Host: "db", Port: 5432, Username: "u", Database: "d"}, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping PostgreSQL database")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewConnectionSuccess(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)

	origOpen, origPing := openPostgresDB, pingPostgresDB
	t.Cleanup(func() { openPostgresDB, pingPostgresDB = origOpen, origPing })
	openPostgresDB = func(*pgx.ConnConfig) *sql.DB { return db }
	pingPostgresDB = func(context.Context, *sql.DB) error { return nil }

	conn, err := NewConnection(&config.DatabaseConfig{Host: "db", Port: 5432, Username: "u", Database: "d", MaxConns: 4}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	assert.Equal(t, 4, conn.db.Stats().MaxOpenConnections)
}

func TestNewConnectionBadDSN(t *testing.T) {
	_, err := NewConnection(&config.DatabaseConfig{ConnectionString: "postgres://%zz"}, logger.Nop())
	assert.Error(t, err)
}
