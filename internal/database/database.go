package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	lib "modernc.org/sqlite/lib"
)

// Dialect identifies the SQL flavour behind a connection.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ErrUniqueViolation is returned (wrapped) when an insert or update hits a
// unique constraint, regardless of the driver.
var ErrUniqueViolation = errors.New("unique constraint violation")

type DB struct {
	conn    *sql.DB
	dialect Dialect
	logger  zerolog.Logger
}

// Open connects to the store described by url. postgres:// and
// postgresql:// URLs use pgx; anything else is treated as a SQLite path or
// "file:" DSN.
func Open(ctx context.Context, url string, logger zerolog.Logger) (*DB, error) {
	if url == "" {
		return nil, errors.New("database url is empty")
	}

	dialect := DialectSQLite
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		dialect = DialectPostgres
	}

	var (
		conn *sql.DB
		err  error
	)
	switch dialect {
	case DialectPostgres:
		conn, err = sql.Open("pgx", url)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(time.Hour)
		conn.SetConnMaxIdleTime(30 * time.Minute)
	default:
		dsn, err := sqliteDSN(url)
		if err != nil {
			return nil, err
		}
		conn, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// SQLite works best with a single writer
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn:    conn,
		dialect: dialect,
		logger:  logger.With().Str("component", "database").Str("dialect", string(dialect)).Logger(),
	}
	db.logger.Info().Msg("database connection established")
	return db, nil
}

// sqliteDSN turns a path or file: URI into a modernc DSN with WAL, a busy
// timeout, foreign keys and immediate write transactions.
func sqliteDSN(url string) (string, error) {
	dsn := strings.TrimPrefix(url, "sqlite://")
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}

	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	inMemory := path == ":memory:" || strings.Contains(dsn, "mode=memory")
	if !inMemory && path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	params := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=foreign_keys(1)",
		"_txlock=immediate",
	}
	if !inMemory {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&"), nil
}

func (db *DB) Close() error {
	err := db.conn.Close()
	db.logger.Info().Msg("database connection closed")
	return err
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Rebind rewrites ? placeholders into the positional form the dialect
// expects. Queries must not contain literal question marks.
func (db *DB) Rebind(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ExecTx runs fn inside a transaction. The transaction is rolled back if fn
// returns an error or panics, and committed otherwise.
func (db *DB) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err was caused by a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUniqueViolation) {
		return true
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == lib.SQLITE_CONSTRAINT_UNIQUE || code == lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// Health returns basic pool statistics.
func (db *DB) Health() map[string]any {
	stats := db.conn.Stats()
	return map[string]any{
		"dialect":          db.dialect,
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration":    stats.WaitDuration.String(),
	}
}
