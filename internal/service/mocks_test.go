package service

import (
	"context"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	commitErr error
	committed int
	rollbacks int
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed++
	return nil
}
func (m *mockTx) Rollback(ctx context.Context) error {
	m.rollbacks++
	return nil
}
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockTxBeginner implements TxBeginner.
type mockTxBeginner struct {
	tx     pgx.Tx
	err    error
	begins int
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	m.begins++
	return m.tx, m.err
}

// recordingNotifier captures events instead of pushing them to sockets.
type recordingNotifier struct {
	events []notifiedEvent
}

type notifiedEvent struct {
	orderID   string
	eventType string
	payload   any
}

func (n *recordingNotifier) Notify(orderID, eventType string, payload any) {
	n.events = append(n.events, notifiedEvent{orderID: orderID, eventType: eventType, payload: payload})
}

// --- Test helpers ---

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func numericEquals(n pgtype.Numeric, expected string) bool {
	d := numericToDecimal(n)
	exp, _ := decimal.NewFromString(expected)
	return d.Equal(exp)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
