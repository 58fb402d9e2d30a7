package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const createLineReceipt = `-- name: CreateLineReceipt :one
INSERT INTO line_receipts (line_id, order_id, barcode, received_qty, terminated, pending, recorded_by, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, line_id, order_id, barcode, received_qty, terminated, pending, recorded_by, recorded_at, created_at
`

type CreateLineReceiptParams struct {
	LineID      uuid.UUID          `json:"line_id"`
	OrderID     string             `json:"order_id"`
	Barcode     string             `json:"barcode"`
	ReceivedQty pgtype.Numeric     `json:"received_qty"`
	Terminated  bool               `json:"terminated"`
	Pending     bool               `json:"pending"`
	RecordedBy  string             `json:"recorded_by"`
	RecordedAt  pgtype.Timestamptz `json:"recorded_at"`
}

func (q *Queries) CreateLineReceipt(ctx context.Context, arg CreateLineReceiptParams) (LineReceipt, error) {
	row := q.db.QueryRow(ctx, createLineReceipt,
		arg.LineID,
		arg.OrderID,
		arg.Barcode,
		arg.ReceivedQty,
		arg.Terminated,
		arg.Pending,
		arg.RecordedBy,
		arg.RecordedAt,
	)
	var i LineReceipt
	err := row.Scan(
		&i.ID,
		&i.LineID,
		&i.OrderID,
		&i.Barcode,
		&i.ReceivedQty,
		&i.Terminated,
		&i.Pending,
		&i.RecordedBy,
		&i.RecordedAt,
		&i.CreatedAt,
	)
	return i, err
}

const listLineReceipts = `-- name: ListLineReceipts :many
SELECT id, line_id, order_id, barcode, received_qty, terminated, pending, recorded_by, recorded_at, created_at
FROM line_receipts
WHERE line_id = $1
ORDER BY recorded_at DESC, created_at DESC
`

func (q *Queries) ListLineReceipts(ctx context.Context, lineID uuid.UUID) ([]LineReceipt, error) {
	rows, err := q.db.Query(ctx, listLineReceipts, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []LineReceipt{}
	for rows.Next() {
		var i LineReceipt
		if err := rows.Scan(
			&i.ID,
			&i.LineID,
			&i.OrderID,
			&i.Barcode,
			&i.ReceivedQty,
			&i.Terminated,
			&i.Pending,
			&i.RecordedBy,
			&i.RecordedAt,
			&i.CreatedAt,
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
