package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ============================================================================
// STORE - relational persistence for agents, deals, ratings, vouches, criteria
// ============================================================================

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNoCriteria is returned when a principal has never saved a criteria config.
var ErrNoCriteria = errors.New("no criteria stored for principal")

// Store wraps a sql.DB and speaks either the SQLite or the Postgres dialect.
// Queries are written with ? placeholders and rebound per driver.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the database, applies pragmas and runs schema migrations.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == DriverSQLite {
		// One writer; WAL lets readers proceed while it holds the lock.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := NewStore(db, driver, logger)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.logger.Info("database ready", "driver", driver)
	return s, nil
}

// NewStore wraps an already open handle without migrating it.
func NewStore(db *sql.DB, driver string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, driver: driver, logger: logger.With("component", "store")}
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    capabilities TEXT NOT NULL,
    base_price BIGINT NOT NULL,
    endpoint TEXT NOT NULL DEFAULT '',
    wallet TEXT NOT NULL,
    provenance TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS deals (
    nonce TEXT PRIMARY KEY,
    seq BIGINT NOT NULL UNIQUE,
    client TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    amount BIGINT NOT NULL,
    status TEXT NOT NULL,
    task TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS ratings (
    id TEXT PRIMARY KEY,
    deal_nonce TEXT NOT NULL,
    rater TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    score INTEGER NOT NULL CHECK (score BETWEEN 1 AND 5),
    comment TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    UNIQUE (deal_nonce, rater)
)`,
	`CREATE INDEX IF NOT EXISTS idx_ratings_agent ON ratings (agent_id)`,
	`CREATE TABLE IF NOT EXISTS criteria (
    principal TEXT PRIMARY KEY,
    preset TEXT NOT NULL,
    min_reputation BIGINT NOT NULL,
    min_review_count BIGINT NOT NULL,
    max_price BIGINT NOT NULL,
    require_human_approval INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS vouches (
    id TEXT PRIMARY KEY,
    voucher_agent_id TEXT NOT NULL,
    vouchee_agent_id TEXT NOT NULL,
    voucher_wallet TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL,
    created_at BIGINT NOT NULL,
    UNIQUE (voucher_agent_id, vouchee_agent_id),
    CHECK (voucher_agent_id <> vouchee_agent_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_vouches_vouchee ON vouches (vouchee_agent_id)`,
	`CREATE TABLE IF NOT EXISTS pending_approvals (
    id TEXT PRIMARY KEY,
    principal TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    client TEXT NOT NULL,
    amount BIGINT NOT NULL,
    task TEXT NOT NULL DEFAULT '',
    failed_checks TEXT NOT NULL,
    reasons TEXT NOT NULL,
    status TEXT NOT NULL,
    deal_nonce TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_approvals_principal ON pending_approvals (principal, status)`,
	`CREATE TABLE IF NOT EXISTS x402_payments (
    nonce TEXT PRIMARY KEY,
    payer TEXT NOT NULL,
    pay_to TEXT NOT NULL,
    amount BIGINT NOT NULL,
    capability TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    deal_nonce TEXT NOT NULL DEFAULT '',
    approval_id TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL
)`,
}

// migrate creates all required tables if they do not already exist. The DDL
// is the common subset of SQLite and Postgres.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i > 0 {
		return stmt[:i]
	}
	return stmt
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY conflict
// from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			msg := liteErr.Error()
			return strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "PRIMARY KEY")
		}
	}
	return false
}

// isCheckViolation reports whether err is a CHECK constraint failure.
func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23514"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "CHECK")
		}
	}
	return false
}

// stamp fills a zero timestamp with the current second and returns it as
// unix seconds, the storage representation.
func stamp(t *time.Time) int64 {
	if t.IsZero() {
		*t = time.Now().UTC().Truncate(time.Second)
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
