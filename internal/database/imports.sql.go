package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const barcodeOnOtherOrder = `-- name: BarcodeOnOtherOrder :one
SELECT EXISTS (SELECT 1 FROM order_lines WHERE barcode = $1 AND order_id <> $2)
`

func (q *Queries) BarcodeOnOtherOrder(ctx context.Context, barcode, orderID string) (bool, error) {
	row := q.db.QueryRow(ctx, barcodeOnOtherOrder, barcode, orderID)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

// Placement, pending and the receipt columns of an existing line are kept.
// A received line is re-evaluated against the new ordered quantity.
const upsertOrderLine = `-- name: UpsertOrderLine :one
INSERT INTO order_lines (order_id, item_code, barcode, ordered_qty, supplier_code, pending, placement)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (order_id, barcode) DO UPDATE
SET item_code = EXCLUDED.item_code,
    supplier_code = EXCLUDED.supplier_code,
    ordered_qty = EXCLUDED.ordered_qty,
    terminated = order_lines.recorded_at IS NOT NULL
        AND order_lines.received_qty = EXCLUDED.ordered_qty,
    pending = CASE
        WHEN order_lines.recorded_at IS NULL THEN order_lines.pending
        ELSE order_lines.received_qty <> EXCLUDED.ordered_qty
    END,
    updated_at = now()
RETURNING ` + orderLineColumns + `, (xmax = 0) AS inserted`

type UpsertOrderLineParams struct {
	OrderID      string         `json:"order_id"`
	ItemCode     string         `json:"item_code"`
	Barcode      string         `json:"barcode"`
	OrderedQty   pgtype.Numeric `json:"ordered_qty"`
	SupplierCode string         `json:"supplier_code"`
	Pending      bool           `json:"pending"`
	Placement    string         `json:"placement"`
}

type UpsertOrderLineRow struct {
	OrderLine OrderLine `json:"order_line"`
	Inserted  bool      `json:"inserted"`
}

func (q *Queries) UpsertOrderLine(ctx context.Context, arg UpsertOrderLineParams) (UpsertOrderLineRow, error) {
	row := q.db.QueryRow(ctx, upsertOrderLine,
		arg.OrderID,
		arg.ItemCode,
		arg.Barcode,
		arg.OrderedQty,
		arg.SupplierCode,
		arg.Pending,
		arg.Placement,
	)
	var i UpsertOrderLineRow
	err := row.Scan(
		&i.OrderLine.ID,
		&i.OrderLine.OrderID,
		&i.OrderLine.ItemCode,
		&i.OrderLine.Barcode,
		&i.OrderLine.OrderedQty,
		&i.OrderLine.SupplierCode,
		&i.OrderLine.ReceivedQty,
		&i.OrderLine.Terminated,
		&i.OrderLine.Pending,
		&i.OrderLine.Placement,
		&i.OrderLine.RecordedBy,
		&i.OrderLine.RecordedAt,
		&i.OrderLine.CreatedAt,
		&i.OrderLine.UpdatedAt,
		&i.Inserted,
	)
	return i, err
}
