package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type CatalogItem struct {
	ItemCode     string `json:"item_code"`
	Barcode      string `json:"barcode"`
	SupplierCode string `json:"supplier_code"`
}

type LineReceipt struct {
	ID          uuid.UUID          `json:"id"`
	LineID      uuid.UUID          `json:"line_id"`
	OrderID     string             `json:"order_id"`
	Barcode     string             `json:"barcode"`
	ReceivedQty pgtype.Numeric     `json:"received_qty"`
	Terminated  bool               `json:"terminated"`
	Pending     bool               `json:"pending"`
	RecordedBy  string             `json:"recorded_by"`
	RecordedAt  pgtype.Timestamptz `json:"recorded_at"`
	CreatedAt   time.Time          `json:"created_at"`
}

type OrderLine struct {
	ID           uuid.UUID          `json:"id"`
	OrderID      string             `json:"order_id"`
	ItemCode     string             `json:"item_code"`
	Barcode      string             `json:"barcode"`
	OrderedQty   pgtype.Numeric     `json:"ordered_qty"`
	SupplierCode string             `json:"supplier_code"`
	ReceivedQty  pgtype.Numeric     `json:"received_qty"`
	Terminated   bool               `json:"terminated"`
	Pending      bool               `json:"pending"`
	Placement    string             `json:"placement"`
	RecordedBy   pgtype.Text        `json:"recorded_by"`
	RecordedAt   pgtype.Timestamptz `json:"recorded_at"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

type Supplier struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type User struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	HashedPassword string    `json:"hashed_password"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}
