// Package storage owns the PostgreSQL connection pool and the failure
// handling around it: a circuit breaker on every call, bounded retry for
// transient transaction conflicts, and a periodic liveness probe.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/metric"
)

// ErrUnavailable is returned without touching the database while the
// circuit breaker is open.
var ErrUnavailable = errors.New("storage: unavailable")

// Options configures the pool and breaker.
type Options struct {
	DSN                string
	MaxConns           int32
	ConnectTimeout     time.Duration
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// conn is the subset of *pgxpool.Pool the DB wraps.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// DB is the pool every request acquires connections from. It satisfies
// database.DBTX for plain queries and service.TxBeginner for transactions.
type DB struct {
	conn    conn
	close   func()
	stat    func() *pgxpool.Stat
	breaker *gobreaker.TwoStepCircuitBreaker
	logger  *slog.Logger
}

// New creates the pool, verifies connectivity and arms the breaker.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	db := newDB(pool, opts, logger)
	db.close = pool.Close
	db.stat = pool.Stat
	return db, nil
}

func newDB(c conn, opts Options, logger *slog.Logger) *DB {
	return &DB{
		conn:    c,
		close:   func() {},
		breaker: newBreaker("postgres", opts.BreakerMaxFailures, opts.BreakerOpenTimeout, logger),
		logger:  logger,
	}
}

// Exec runs a statement on a pooled connection.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := db.guard(func() error {
		var err error
		tag, err = db.conn.Exec(ctx, sql, args...)
		return err
	})
	return tag, err
}

// Query runs a query on a pooled connection. Only the error from issuing the
// query counts towards the breaker; row iteration errors are the caller's.
func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	var rows pgx.Rows
	err := db.guard(func() error {
		var err error
		rows, err = db.conn.Query(ctx, sql, args...)
		return err
	})
	return rows, err
}

// QueryRow defers the breaker verdict until the row is scanned.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	done, err := db.breaker.Allow()
	if err != nil {
		return errRow{err: unavailable(err)}
	}
	return &guardedRow{row: db.conn.QueryRow(ctx, sql, args...), done: done}
}

// Begin starts a transaction whose statements are also guarded by the breaker.
func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	var tx pgx.Tx
	err := db.guard(func() error {
		var err error
		tx, err = db.conn.Begin(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &guardedTx{Tx: tx, db: db}, nil
}

// Ping checks connectivity. Failures count towards the breaker.
func (db *DB) Ping(ctx context.Context) error {
	return db.guard(func() error {
		return db.conn.Ping(ctx)
	})
}

// BreakerState reports the breaker state ("closed", "half-open", "open").
func (db *DB) BreakerState() string {
	return db.breaker.State().String()
}

// RegisterMetrics publishes pool occupancy and breaker state as gauges.
func (db *DB) RegisterMetrics(meter metric.Meter) error {
	total, err := meter.Int64ObservableGauge("receiving.db.conns.total",
		metric.WithDescription("Connections currently held by the pool"))
	if err != nil {
		return fmt.Errorf("storage: register conns gauge: %w", err)
	}
	idle, err := meter.Int64ObservableGauge("receiving.db.conns.idle",
		metric.WithDescription("Idle connections in the pool"))
	if err != nil {
		return fmt.Errorf("storage: register idle gauge: %w", err)
	}
	open, err := meter.Int64ObservableGauge("receiving.db.breaker.open",
		metric.WithDescription("1 while the database circuit breaker is open"))
	if err != nil {
		return fmt.Errorf("storage: register breaker gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if db.stat != nil {
			st := db.stat()
			o.ObserveInt64(total, int64(st.TotalConns()))
			o.ObserveInt64(idle, int64(st.IdleConns()))
		}
		var v int64
		if db.breaker.State() == gobreaker.StateOpen {
			v = 1
		}
		o.ObserveInt64(open, v)
		return nil
	}, total, idle, open)
	if err != nil {
		return fmt.Errorf("storage: register pool callback: %w", err)
	}
	return nil
}

// Close shuts down the pool.
func (db *DB) Close() {
	db.close()
}

func (db *DB) guard(fn func() error) error {
	done, err := db.breaker.Allow()
	if err != nil {
		return unavailable(err)
	}
	err = fn()
	done(!isConnectionFailure(err))
	return err
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// isConnectionFailure reports whether err says the database itself is
// unhealthy. Query-level outcomes (no rows, constraint violations,
// serialization conflicts) and caller cancellation do not count.
func isConnectionFailure(err error) bool {
	if err == nil || errors.Is(err, pgx.ErrNoRows) || errors.Is(err, context.Canceled) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case "08", // connection exception
			"53", // insufficient resources
			"57", // operator intervention
			"58": // system error
			return true
		}
		return false
	}
	return true
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error { return r.err }

type guardedRow struct {
	row  pgx.Row
	done func(success bool)
	once sync.Once
}

func (r *guardedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	r.once.Do(func() { r.done(!isConnectionFailure(err)) })
	return err
}

// guardedTx routes a transaction's statements and commit through the breaker.
// Rollback is never blocked so a transaction can always be abandoned.
type guardedTx struct {
	pgx.Tx
	db *DB
}

func (t *guardedTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := t.db.guard(func() error {
		var err error
		tag, err = t.Tx.Exec(ctx, sql, args...)
		return err
	})
	return tag, err
}

func (t *guardedTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	var rows pgx.Rows
	err := t.db.guard(func() error {
		var err error
		rows, err = t.Tx.Query(ctx, sql, args...)
		return err
	})
	return rows, err
}

func (t *guardedTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	done, err := t.db.breaker.Allow()
	if err != nil {
		return errRow{err: unavailable(err)}
	}
	return &guardedRow{row: t.Tx.QueryRow(ctx, sql, args...), done: done}
}

func (t *guardedTx) Commit(ctx context.Context) error {
	return t.db.guard(func() error {
		return t.Tx.Commit(ctx)
	})
}
