package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"kafer/internal/adapters/http/perf"
)

// SQLDB is the database interface used by the stores.
// Both *sql.DB and *TimedDB satisfy it.
type SQLDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var _ SQLDB = (*sql.DB)(nil)

// DefaultSlowQueryMs is the slow-statement threshold unless KAFER_SLOW_QUERY_MS overrides it.
const DefaultSlowQueryMs = 50

func slowQueryThreshold() float64 {
	if v := os.Getenv("KAFER_SLOW_QUERY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return float64(n)
		}
	}
	return DefaultSlowQueryMs
}

// TimedDB wraps a *sql.DB, warns about slow statements and records every
// statement in the perf collector under a "VERB table" label.
type TimedDB struct {
	db        *sql.DB
	collector *perf.Collector
	threshold float64
}

var _ SQLDB = (*TimedDB)(nil)

// NewTimedDB wraps db. collector may be nil.
// PRE: db is a valid database connection
// POST: Returns a TimedDB using the KAFER_SLOW_QUERY_MS threshold
func NewTimedDB(db *sql.DB, collector *perf.Collector) *TimedDB {
	return &TimedDB{db: db, collector: collector, threshold: slowQueryThreshold()}
}

// RawDB returns the underlying *sql.DB (migrations, pool settings).
func (t *TimedDB) RawDB() *sql.DB {
	return t.db
}

// statementLabel reduces a statement to its verb and first table, so that
// timings aggregate per statement shape and never carry literal values.
func statementLabel(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "EMPTY"
	}
	verb := strings.ToUpper(fields[0])
	var marker string
	switch verb {
	case "SELECT", "DELETE":
		marker = "FROM"
	case "INSERT":
		marker = "INTO"
	case "UPDATE":
		if len(fields) > 1 {
			return verb + " " + strings.Trim(fields[1], "`\"(")
		}
		return verb
	default:
		return verb
	}
	for i := 1; i+1 < len(fields); i++ {
		if strings.EqualFold(fields[i], marker) {
			return verb + " " + strings.Trim(fields[i+1], "`\"(")
		}
	}
	return verb
}

func (t *TimedDB) observe(label string, start time.Time, err error) {
	durationMs := float64(time.Since(start).Microseconds()) / 1000.0
	if durationMs >= t.threshold {
		slog.Warn("slow_query", "statement", label, "duration_ms", durationMs, "failed", err != nil)
	} else {
		slog.Debug("query", "statement", label, "duration_ms", durationMs)
	}
	t.collector.Record(perf.Entry{
		Kind:       perf.KindQuery,
		Path:       label,
		DurationMs: durationMs,
		Timestamp:  start,
	})
}

// ExecContext wraps sql.DB.ExecContext with timing.
// POST: errors are returned unchanged; timing is recorded either way
func (t *TimedDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	result, err := t.db.ExecContext(ctx, query, args...)
	t.observe(statementLabel(query), start, err)
	return result, err
}

// QueryContext wraps sql.DB.QueryContext with timing.
func (t *TimedDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := t.db.QueryContext(ctx, query, args...)
	t.observe(statementLabel(query), start, err)
	return rows, err
}

// QueryRowContext wraps sql.DB.QueryRowContext with timing.
func (t *TimedDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	start := time.Now()
	row := t.db.QueryRowContext(ctx, query, args...)
	t.observe(statementLabel(query), start, row.Err())
	return row
}

// BeginTx wraps sql.DB.BeginTx with timing.
func (t *TimedDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	start := time.Now()
	tx, err := t.db.BeginTx(ctx, opts)
	t.observe("BEGIN", start, err)
	return tx, err
}

// Close closes the underlying database.
func (t *TimedDB) Close() error {
	return t.db.Close()
}

// Ping verifies the database connection.
func (t *TimedDB) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}
