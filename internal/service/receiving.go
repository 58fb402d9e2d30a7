package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aus-receiving/api/internal/database"
	"github.com/aus-receiving/api/internal/enum"
	"github.com/aus-receiving/api/internal/storage"
	"github.com/aus-receiving/api/internal/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ReceivingStore defines the DB methods needed to receive goods and add lines.
// Satisfied by *database.Queries (and its WithTx variant).
type ReceivingStore interface {
	ListLinesByBarcodeForUpdate(ctx context.Context, arg database.ListLinesByBarcodeForUpdateParams) ([]database.OrderLine, error)
	UpdateLineReceipt(ctx context.Context, arg database.UpdateLineReceiptParams) (database.OrderLine, error)
	CreateLineReceipt(ctx context.Context, arg database.CreateLineReceiptParams) (database.LineReceipt, error)
	LockBarcode(ctx context.Context, barcode string) error
	BarcodeExists(ctx context.Context, barcode string) (bool, error)
	GetCatalogItem(ctx context.Context, itemCode string) (database.CatalogItem, error)
	HasPendingSupersededLines(ctx context.Context, orderID string) (bool, error)
	CreateOrderLine(ctx context.Context, arg database.CreateOrderLineParams) (database.OrderLine, error)
	BarcodeOnOtherOrder(ctx context.Context, barcode, orderID string) (bool, error)
	UpsertOrderLine(ctx context.Context, arg database.UpsertOrderLineParams) (database.UpsertOrderLineRow, error)
}

// NewReceivingStore creates a ReceivingStore from a DBTX (pool or tx).
type NewReceivingStore func(db database.DBTX) ReceivingStore

// Notifier pushes line events to live subscribers of an order.
type Notifier interface {
	Notify(orderID, eventType string, payload any)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, string, any) {}

// RetryPolicy bounds how often a transaction is replayed after a
// serialization failure or deadlock.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// RecordReceiptRequest is the input for a single scanned receipt.
// OrderID is optional and narrows the barcode match to one order.
type RecordReceiptRequest struct {
	Barcode     string
	ReceivedQty string
	OrderID     string
	RecordedBy  string
	RecordedAt  time.Time
}

// ReceivedLine is a line as it stands after a receipt.
type ReceivedLine struct {
	Line database.OrderLine
	// Mirrored is set when this receipt was the line's first, making it
	// visible through the view other than its home placement.
	Mirrored bool
}

// ReceiptResult lists every line the receipt was applied to.
type ReceiptResult struct {
	Lines []ReceivedLine
}

// BatchReceipt is one entry replayed by an offline scanner.
type BatchReceipt struct {
	Barcode     string
	ReceivedQty string
	OrderID     string
	RecordedAt  time.Time
}

// RecordReceiptsRequest is a batch of receipts applied all-or-nothing.
type RecordReceiptsRequest struct {
	RecordedBy string
	Items      []BatchReceipt
}

// AddLineRequest is the input for adding a line to an order.
type AddLineRequest struct {
	OrderID      string
	Barcode      string
	ItemCode     string
	SupplierCode string
	OrderedQty   string
}

// AddLineResult is the created line and the placement it was written to.
type AddLineResult struct {
	Line      database.OrderLine
	Placement string
}

// ReceivingService reconciles received quantities against order lines.
type ReceivingService struct {
	pool     TxBeginner
	newStore NewReceivingStore
	notifier Notifier
	retry    RetryPolicy
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	now      func() time.Time
}

// NewReceivingService creates a new ReceivingService. notifier may be nil.
func NewReceivingService(pool TxBeginner, newStore NewReceivingStore, notifier Notifier, retry RetryPolicy, logger *slog.Logger) *ReceivingService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &ReceivingService{
		pool:     pool,
		newStore: newStore,
		notifier: notifier,
		retry:    retry,
		logger:   logger,
		tracer:   telemetry.Tracer("receiving/service"),
		meter:    telemetry.Meter("receiving/service"),
		now:      time.Now,
	}
}

// receipt is a validated receipt ready to apply.
type receipt struct {
	barcode string
	orderID string
	qty     decimal.Decimal
	actor   string
	at      time.Time
}

// RecordReceipt applies a received quantity to every line carrying the
// barcode. Lines are locked, updated and logged in one transaction; any
// failure leaves all of them untouched.
func (s *ReceivingService) RecordReceipt(ctx context.Context, req RecordReceiptRequest) (*ReceiptResult, error) {
	ctx, span := s.tracer.Start(ctx, "receiving.RecordReceipt",
		trace.WithAttributes(attribute.String("receiving.barcode", req.Barcode)))
	defer span.End()

	rec, err := validateReceipt(req.Barcode, req.ReceivedQty, req.OrderID, req.RecordedBy, req.RecordedAt)
	if err != nil {
		s.finish(ctx, span, "receiving.receipts", err)
		return nil, err
	}

	var lines []ReceivedLine
	err = s.inTx(ctx, func(store ReceivingStore) error {
		var err error
		lines, err = applyReceipt(ctx, store, rec)
		return err
	})
	s.finish(ctx, span, "receiving.receipts", err)
	if err != nil {
		return nil, err
	}

	for _, l := range lines {
		s.notifier.Notify(l.Line.OrderID, enum.EventLineReceived, l.Line)
	}
	return &ReceiptResult{Lines: lines}, nil
}

// RecordReceipts replays a batch of receipts in a single transaction.
// Entries without a timestamp are stamped with the server clock.
func (s *ReceivingService) RecordReceipts(ctx context.Context, req RecordReceiptsRequest) ([]ReceiptResult, error) {
	ctx, span := s.tracer.Start(ctx, "receiving.RecordReceipts",
		trace.WithAttributes(attribute.Int("receiving.batch_size", len(req.Items))))
	defer span.End()

	if len(req.Items) == 0 {
		err := fmt.Errorf("%w: items are required", ErrValidation)
		s.finish(ctx, span, "receiving.receipt_batches", err)
		return nil, err
	}

	now := s.now()
	recs := make([]receipt, len(req.Items))
	for i, item := range req.Items {
		at := item.RecordedAt
		if at.IsZero() {
			at = now
		}
		rec, err := validateReceipt(item.Barcode, item.ReceivedQty, item.OrderID, req.RecordedBy, at)
		if err != nil {
			err = fmt.Errorf("item[%d]: %w", i, err)
			s.finish(ctx, span, "receiving.receipt_batches", err)
			return nil, err
		}
		recs[i] = rec
	}

	var results []ReceiptResult
	err := s.inTx(ctx, func(store ReceivingStore) error {
		results = make([]ReceiptResult, 0, len(recs))
		for i, rec := range recs {
			lines, err := applyReceipt(ctx, store, rec)
			if err != nil {
				return fmt.Errorf("item[%d]: %w", i, err)
			}
			results = append(results, ReceiptResult{Lines: lines})
		}
		return nil
	})
	s.finish(ctx, span, "receiving.receipt_batches", err)
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		for _, l := range r.Lines {
			s.notifier.Notify(l.Line.OrderID, enum.EventLineReceived, l.Line)
		}
	}
	return results, nil
}

// AddLine creates a new line on an order after checking that the barcode is
// unused and that the catalog item belongs to the given supplier.
//
// Lines added to an order that still has pending superseded lines go to the
// superseded placement already flagged pending; otherwise they start active.
func (s *ReceivingService) AddLine(ctx context.Context, req AddLineRequest) (*AddLineResult, error) {
	ctx, span := s.tracer.Start(ctx, "receiving.AddLine",
		trace.WithAttributes(
			attribute.String("receiving.order_id", req.OrderID),
			attribute.String("receiving.barcode", req.Barcode),
		))
	defer span.End()

	qty, err := validateAddLine(&req)
	if err != nil {
		s.finish(ctx, span, "receiving.lines_added", err)
		return nil, err
	}

	var result *AddLineResult
	err = s.inTx(ctx, func(store ReceivingStore) error {
		if err := store.LockBarcode(ctx, req.Barcode); err != nil {
			return storageErr("lock barcode", err)
		}

		exists, err := store.BarcodeExists(ctx, req.Barcode)
		if err != nil {
			return storageErr("check barcode", err)
		}
		if exists {
			return fmt.Errorf("barcode %q: %w", req.Barcode, ErrDuplicateBarcode)
		}

		item, err := store.GetCatalogItem(ctx, req.ItemCode)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("item %q: %w", req.ItemCode, ErrItemNotFound)
			}
			return storageErr("get catalog item", err)
		}
		if item.SupplierCode != req.SupplierCode {
			return fmt.Errorf("item %q belongs to %q, not %q: %w",
				req.ItemCode, item.SupplierCode, req.SupplierCode, ErrSupplierMismatch)
		}

		old, err := store.HasPendingSupersededLines(ctx, req.OrderID)
		if err != nil {
			return storageErr("check order placement", err)
		}
		placement := enum.PlacementActive
		if old {
			placement = enum.PlacementSuperseded
		}

		line, err := store.CreateOrderLine(ctx, database.CreateOrderLineParams{
			OrderID:      req.OrderID,
			ItemCode:     req.ItemCode,
			Barcode:      req.Barcode,
			OrderedQty:   decimalToNumeric(qty),
			SupplierCode: req.SupplierCode,
			Pending:      old,
			Placement:    placement,
		})
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("barcode %q: %w", req.Barcode, ErrDuplicateBarcode)
			}
			return storageErr("create line", err)
		}

		result = &AddLineResult{Line: line, Placement: placement}
		return nil
	})
	s.finish(ctx, span, "receiving.lines_added", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order line added",
		"order_id", result.Line.OrderID,
		"barcode", result.Line.Barcode,
		"placement", result.Placement,
	)
	s.notifier.Notify(result.Line.OrderID, enum.EventLineAdded, result.Line)
	return result, nil
}

// inTx runs fn inside a transaction, replaying it on transient conflicts.
func (s *ReceivingService) inTx(ctx context.Context, fn func(store ReceivingStore) error) error {
	return storage.WithRetry(ctx, s.retry.MaxRetries, s.retry.BaseDelay, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return storageErr("begin tx", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		if err := fn(s.newStore(tx)); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return storageErr("commit tx", err)
		}
		return nil
	})
}

// finish records the outcome of an operation on its span and counter.
func (s *ReceivingService) finish(ctx context.Context, span trace.Span, counterName string, err error) {
	outcome := outcomeOf(err)
	span.SetAttributes(attribute.String("receiving.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		if outcome == "storage" {
			s.logger.Error("receiving operation failed", "op", counterName, "error", err)
		}
	}
	if counter, cerr := s.meter.Int64Counter(counterName); cerr == nil {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// applyReceipt locks every line with the barcode and writes the receipt to
// each of them, appending one history row per line.
func applyReceipt(ctx context.Context, store ReceivingStore, rec receipt) ([]ReceivedLine, error) {
	lines, err := store.ListLinesByBarcodeForUpdate(ctx, database.ListLinesByBarcodeForUpdateParams{
		Barcode: rec.barcode,
		OrderID: optionalText(rec.orderID),
	})
	if err != nil {
		return nil, storageErr("lock lines", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("barcode %q: %w", rec.barcode, ErrLineNotFound)
	}

	received := decimalToNumeric(rec.qty)
	recordedAt := pgtype.Timestamptz{Time: rec.at, Valid: true}

	out := make([]ReceivedLine, 0, len(lines))
	for _, line := range lines {
		terminated := rec.qty.Equal(numericToDecimal(line.OrderedQty))

		updated, err := store.UpdateLineReceipt(ctx, database.UpdateLineReceiptParams{
			ID:          line.ID,
			ReceivedQty: received,
			Terminated:  terminated,
			Pending:     !terminated,
			RecordedBy:  pgtype.Text{String: rec.actor, Valid: true},
			RecordedAt:  recordedAt,
		})
		if err != nil {
			return nil, storageErr("update line", err)
		}

		if _, err := store.CreateLineReceipt(ctx, database.CreateLineReceiptParams{
			LineID:      updated.ID,
			OrderID:     updated.OrderID,
			Barcode:     updated.Barcode,
			ReceivedQty: received,
			Terminated:  terminated,
			Pending:     !terminated,
			RecordedBy:  rec.actor,
			RecordedAt:  recordedAt,
		}); err != nil {
			return nil, storageErr("append receipt history", err)
		}

		out = append(out, ReceivedLine{Line: updated, Mirrored: !line.RecordedAt.Valid})
	}
	return out, nil
}

// --- Helpers ---

func validateReceipt(barcode, qty, orderID, actor string, at time.Time) (receipt, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return receipt{}, fmt.Errorf("%w: barcode is required", ErrValidation)
	}
	d, err := parseQuantity("received_qty", strings.TrimSpace(qty), true)
	if err != nil {
		return receipt{}, err
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return receipt{}, fmt.Errorf("%w: recorded_by is required", ErrValidation)
	}
	if at.IsZero() {
		return receipt{}, fmt.Errorf("%w: recorded_at is required", ErrValidation)
	}
	return receipt{
		barcode: barcode,
		orderID: strings.TrimSpace(orderID),
		qty:     d,
		actor:   actor,
		at:      at,
	}, nil
}

func validateAddLine(req *AddLineRequest) (decimal.Decimal, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.Barcode = strings.TrimSpace(req.Barcode)
	req.ItemCode = strings.TrimSpace(req.ItemCode)
	req.SupplierCode = strings.TrimSpace(req.SupplierCode)
	switch {
	case req.OrderID == "":
		return decimal.Zero, fmt.Errorf("%w: order_id is required", ErrValidation)
	case req.Barcode == "":
		return decimal.Zero, fmt.Errorf("%w: barcode is required", ErrValidation)
	case req.ItemCode == "":
		return decimal.Zero, fmt.Errorf("%w: item_code is required", ErrValidation)
	case req.SupplierCode == "":
		return decimal.Zero, fmt.Errorf("%w: supplier_code is required", ErrValidation)
	}
	return parseQuantity("ordered_qty", strings.TrimSpace(req.OrderedQty), false)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func optionalText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrLineNotFound), errors.Is(err, ErrItemNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateBarcode):
		return "duplicate"
	case errors.Is(err, ErrSupplierMismatch):
		return "supplier_mismatch"
	case errors.Is(err, storage.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrStorage):
		return "storage"
	}
	return "error"
}
