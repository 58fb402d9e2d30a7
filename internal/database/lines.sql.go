package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderLineColumns = `id, order_id, item_code, barcode, ordered_qty, supplier_code, received_qty, terminated, pending, placement, recorded_by, recorded_at, created_at, updated_at`

func scanOrderLine(row rowScanner) (OrderLine, error) {
	var i OrderLine
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.ItemCode,
		&i.Barcode,
		&i.OrderedQty,
		&i.SupplierCode,
		&i.ReceivedQty,
		&i.Terminated,
		&i.Pending,
		&i.Placement,
		&i.RecordedBy,
		&i.RecordedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const lockBarcode = `-- name: LockBarcode :exec
SELECT pg_advisory_xact_lock(hashtext($1))
`

// LockBarcode serializes line creation for one barcode until the surrounding
// transaction ends. Outside a transaction the lock is released immediately.
func (q *Queries) LockBarcode(ctx context.Context, barcode string) error {
	_, err := q.db.Exec(ctx, lockBarcode, barcode)
	return err
}

const barcodeExists = `-- name: BarcodeExists :one
SELECT EXISTS (SELECT 1 FROM order_lines WHERE barcode = $1)
`

func (q *Queries) BarcodeExists(ctx context.Context, barcode string) (bool, error) {
	row := q.db.QueryRow(ctx, barcodeExists, barcode)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

// An order is superseded ("old") while any line visible through the
// superseded view is still pending.
const hasPendingSupersededLines = `-- name: HasPendingSupersededLines :one
SELECT EXISTS (
    SELECT 1 FROM order_lines
    WHERE order_id = $1
      AND pending
      AND (placement = 'superseded' OR recorded_at IS NOT NULL)
)
`

func (q *Queries) HasPendingSupersededLines(ctx context.Context, orderID string) (bool, error) {
	row := q.db.QueryRow(ctx, hasPendingSupersededLines, orderID)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const createOrderLine = `-- name: CreateOrderLine :one
INSERT INTO order_lines (order_id, item_code, barcode, ordered_qty, supplier_code, pending, placement)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + orderLineColumns

type CreateOrderLineParams struct {
	OrderID      string         `json:"order_id"`
	ItemCode     string         `json:"item_code"`
	Barcode      string         `json:"barcode"`
	OrderedQty   pgtype.Numeric `json:"ordered_qty"`
	SupplierCode string         `json:"supplier_code"`
	Pending      bool           `json:"pending"`
	Placement    string         `json:"placement"`
}

func (q *Queries) CreateOrderLine(ctx context.Context, arg CreateOrderLineParams) (OrderLine, error) {
	row := q.db.QueryRow(ctx, createOrderLine,
		arg.OrderID,
		arg.ItemCode,
		arg.Barcode,
		arg.OrderedQty,
		arg.SupplierCode,
		arg.Pending,
		arg.Placement,
	)
	return scanOrderLine(row)
}

const listLinesByBarcodeForUpdate = `-- name: ListLinesByBarcodeForUpdate :many
SELECT ` + orderLineColumns + ` FROM order_lines
WHERE barcode = $1
  AND ($2::text IS NULL OR order_id = $2)
ORDER BY order_id
FOR UPDATE
`

type ListLinesByBarcodeForUpdateParams struct {
	Barcode string      `json:"barcode"`
	OrderID pgtype.Text `json:"order_id"`
}

func (q *Queries) ListLinesByBarcodeForUpdate(ctx context.Context, arg ListLinesByBarcodeForUpdateParams) ([]OrderLine, error) {
	rows, err := q.db.Query(ctx, listLinesByBarcodeForUpdate, arg.Barcode, arg.OrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderLine{}
	for rows.Next() {
		i, err := scanOrderLine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateLineReceipt = `-- name: UpdateLineReceipt :one
UPDATE order_lines
SET received_qty = $2,
    terminated = $3,
    pending = $4,
    recorded_by = $5,
    recorded_at = $6,
    updated_at = now()
WHERE id = $1
RETURNING ` + orderLineColumns

type UpdateLineReceiptParams struct {
	ID          uuid.UUID          `json:"id"`
	ReceivedQty pgtype.Numeric     `json:"received_qty"`
	Terminated  bool               `json:"terminated"`
	Pending     bool               `json:"pending"`
	RecordedBy  pgtype.Text        `json:"recorded_by"`
	RecordedAt  pgtype.Timestamptz `json:"recorded_at"`
}

func (q *Queries) UpdateLineReceipt(ctx context.Context, arg UpdateLineReceiptParams) (OrderLine, error) {
	row := q.db.QueryRow(ctx, updateLineReceipt,
		arg.ID,
		arg.ReceivedQty,
		arg.Terminated,
		arg.Pending,
		arg.RecordedBy,
		arg.RecordedAt,
	)
	return scanOrderLine(row)
}

const listActiveOpenLines = `-- name: ListActiveOpenLines :many
SELECT ` + orderLineColumns + ` FROM order_lines
WHERE order_id = $1
  AND NOT terminated
  AND (placement = 'active' OR recorded_at IS NOT NULL)
ORDER BY barcode
`

func (q *Queries) ListActiveOpenLines(ctx context.Context, orderID string) ([]OrderLine, error) {
	return q.listOrderLines(ctx, listActiveOpenLines, orderID)
}

const listSupersededOpenLines = `-- name: ListSupersededOpenLines :many
SELECT ` + orderLineColumns + ` FROM order_lines
WHERE order_id = $1
  AND NOT terminated
  AND (placement = 'superseded' OR recorded_at IS NOT NULL)
ORDER BY barcode
`

func (q *Queries) ListSupersededOpenLines(ctx context.Context, orderID string) ([]OrderLine, error) {
	return q.listOrderLines(ctx, listSupersededOpenLines, orderID)
}

func (q *Queries) listOrderLines(ctx context.Context, query string, args ...interface{}) ([]OrderLine, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderLine{}
	for rows.Next() {
		i, err := scanOrderLine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listPendingLines = `-- name: ListPendingLines :many
SELECT l.order_id, l.item_code, l.barcode, l.ordered_qty, l.supplier_code,
       l.received_qty, l.terminated, l.pending, l.placement, s.name AS supplier_name
FROM order_lines l
JOIN suppliers s ON s.code = l.supplier_code
WHERE l.pending
  AND ($1::text IS NULL OR l.supplier_code = $1)
ORDER BY l.order_id, l.barcode
`

type ListPendingLinesRow struct {
	OrderID      string         `json:"order_id"`
	ItemCode     string         `json:"item_code"`
	Barcode      string         `json:"barcode"`
	OrderedQty   pgtype.Numeric `json:"ordered_qty"`
	SupplierCode string         `json:"supplier_code"`
	ReceivedQty  pgtype.Numeric `json:"received_qty"`
	Terminated   bool           `json:"terminated"`
	Pending      bool           `json:"pending"`
	Placement    string         `json:"placement"`
	SupplierName string         `json:"supplier_name"`
}

func (q *Queries) ListPendingLines(ctx context.Context, supplierCode pgtype.Text) ([]ListPendingLinesRow, error) {
	rows, err := q.db.Query(ctx, listPendingLines, supplierCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ListPendingLinesRow{}
	for rows.Next() {
		var i ListPendingLinesRow
		if err := rows.Scan(
			&i.OrderID,
			&i.ItemCode,
			&i.Barcode,
			&i.OrderedQty,
			&i.SupplierCode,
			&i.ReceivedQty,
			&i.Terminated,
			&i.Pending,
			&i.Placement,
			&i.SupplierName,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listPartialReceipts = `-- name: ListPartialReceipts :many
SELECT barcode, received_qty FROM order_lines
WHERE order_id = $1
  AND NOT terminated
  AND (placement = 'superseded' OR recorded_at IS NOT NULL)
ORDER BY barcode
`

type ListPartialReceiptsRow struct {
	Barcode     string         `json:"barcode"`
	ReceivedQty pgtype.Numeric `json:"received_qty"`
}

func (q *Queries) ListPartialReceipts(ctx context.Context, orderID string) ([]ListPartialReceiptsRow, error) {
	rows, err := q.db.Query(ctx, listPartialReceipts, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ListPartialReceiptsRow{}
	for rows.Next() {
		var i ListPartialReceiptsRow
		if err := rows.Scan(&i.Barcode, &i.ReceivedQty); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
