package service

import (
	"context"
	"time"

	"github.com/aus-receiving/api/internal/database"
	"github.com/aus-receiving/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memStore is an in-memory ReceivingStore over a single line relation.
// Injected errors are consumed one call at a time.
type memStore struct {
	lines    []database.OrderLine
	receipts []database.LineReceipt
	catalog  map[string]database.CatalogItem
	calls    []string

	updateErrs  []error
	receiptErrs []error
	createErr   error
	upsertErr   error
	lockErr     error
}

func newMemStore() *memStore {
	return &memStore{catalog: map[string]database.CatalogItem{}}
}

func (m *memStore) addLine(orderID, barcode, ordered, placement string) database.OrderLine {
	line := database.OrderLine{
		ID:           uuid.New(),
		OrderID:      orderID,
		ItemCode:     "IT-" + barcode,
		Barcode:      barcode,
		OrderedQty:   makeNumeric(ordered),
		SupplierCode: "S1",
		ReceivedQty:  makeNumeric("0"),
		Placement:    placement,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.lines = append(m.lines, line)
	return line
}

func (m *memStore) line(id uuid.UUID) *database.OrderLine {
	for i := range m.lines {
		if m.lines[i].ID == id {
			return &m.lines[i]
		}
	}
	return nil
}

// visibleIn reports whether a line shows up through the given view.
func visibleIn(line database.OrderLine, placement string) bool {
	return line.Placement == placement || line.RecordedAt.Valid
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (m *memStore) ListLinesByBarcodeForUpdate(ctx context.Context, arg database.ListLinesByBarcodeForUpdateParams) ([]database.OrderLine, error) {
	m.calls = append(m.calls, "ListLinesByBarcodeForUpdate")
	var out []database.OrderLine
	for _, l := range m.lines {
		if l.Barcode != arg.Barcode {
			continue
		}
		if arg.OrderID.Valid && l.OrderID != arg.OrderID.String {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *memStore) UpdateLineReceipt(ctx context.Context, arg database.UpdateLineReceiptParams) (database.OrderLine, error) {
	m.calls = append(m.calls, "UpdateLineReceipt")
	if err := popErr(&m.updateErrs); err != nil {
		return database.OrderLine{}, err
	}
	l := m.line(arg.ID)
	if l == nil {
		return database.OrderLine{}, pgx.ErrNoRows
	}
	l.ReceivedQty = arg.ReceivedQty
	l.Terminated = arg.Terminated
	l.Pending = arg.Pending
	l.RecordedBy = arg.RecordedBy
	l.RecordedAt = arg.RecordedAt
	l.UpdatedAt = time.Now()
	return *l, nil
}

func (m *memStore) CreateLineReceipt(ctx context.Context, arg database.CreateLineReceiptParams) (database.LineReceipt, error) {
	m.calls = append(m.calls, "CreateLineReceipt")
	if err := popErr(&m.receiptErrs); err != nil {
		return database.LineReceipt{}, err
	}
	r := database.LineReceipt{
		ID:          uuid.New(),
		LineID:      arg.LineID,
		OrderID:     arg.OrderID,
		Barcode:     arg.Barcode,
		ReceivedQty: arg.ReceivedQty,
		Terminated:  arg.Terminated,
		Pending:     arg.Pending,
		RecordedBy:  arg.RecordedBy,
		RecordedAt:  arg.RecordedAt,
		CreatedAt:   time.Now(),
	}
	m.receipts = append(m.receipts, r)
	return r, nil
}

func (m *memStore) LockBarcode(ctx context.Context, barcode string) error {
	m.calls = append(m.calls, "LockBarcode")
	return m.lockErr
}

func (m *memStore) BarcodeExists(ctx context.Context, barcode string) (bool, error) {
	m.calls = append(m.calls, "BarcodeExists")
	for _, l := range m.lines {
		if l.Barcode == barcode {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetCatalogItem(ctx context.Context, itemCode string) (database.CatalogItem, error) {
	m.calls = append(m.calls, "GetCatalogItem")
	item, ok := m.catalog[itemCode]
	if !ok {
		return database.CatalogItem{}, pgx.ErrNoRows
	}
	return item, nil
}

func (m *memStore) HasPendingSupersededLines(ctx context.Context, orderID string) (bool, error) {
	m.calls = append(m.calls, "HasPendingSupersededLines")
	for _, l := range m.lines {
		if l.OrderID == orderID && l.Pending && visibleIn(l, enum.PlacementSuperseded) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateOrderLine(ctx context.Context, arg database.CreateOrderLineParams) (database.OrderLine, error) {
	m.calls = append(m.calls, "CreateOrderLine")
	if m.createErr != nil {
		return database.OrderLine{}, m.createErr
	}
	line := database.OrderLine{
		ID:           uuid.New(),
		OrderID:      arg.OrderID,
		ItemCode:     arg.ItemCode,
		Barcode:      arg.Barcode,
		OrderedQty:   arg.OrderedQty,
		SupplierCode: arg.SupplierCode,
		ReceivedQty:  makeNumeric("0"),
		Pending:      arg.Pending,
		Placement:    arg.Placement,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.lines = append(m.lines, line)
	return line, nil
}

func (m *memStore) BarcodeOnOtherOrder(ctx context.Context, barcode, orderID string) (bool, error) {
	m.calls = append(m.calls, "BarcodeOnOtherOrder")
	for _, l := range m.lines {
		if l.Barcode == barcode && l.OrderID != orderID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) UpsertOrderLine(ctx context.Context, arg database.UpsertOrderLineParams) (database.UpsertOrderLineRow, error) {
	m.calls = append(m.calls, "UpsertOrderLine")
	if m.upsertErr != nil {
		return database.UpsertOrderLineRow{}, m.upsertErr
	}
	for i := range m.lines {
		l := &m.lines[i]
		if l.OrderID != arg.OrderID || l.Barcode != arg.Barcode {
			continue
		}
		l.ItemCode = arg.ItemCode
		l.SupplierCode = arg.SupplierCode
		l.OrderedQty = arg.OrderedQty
		if l.RecordedAt.Valid {
			matched := numericToDecimal(l.ReceivedQty).Equal(numericToDecimal(arg.OrderedQty))
			l.Terminated = matched
			l.Pending = !matched
		}
		l.UpdatedAt = time.Now()
		return database.UpsertOrderLineRow{OrderLine: *l}, nil
	}
	line := database.OrderLine{
		ID:           uuid.New(),
		OrderID:      arg.OrderID,
		ItemCode:     arg.ItemCode,
		Barcode:      arg.Barcode,
		OrderedQty:   arg.OrderedQty,
		SupplierCode: arg.SupplierCode,
		ReceivedQty:  makeNumeric("0"),
		Pending:      arg.Pending,
		Placement:    arg.Placement,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.lines = append(m.lines, line)
	return database.UpsertOrderLineRow{OrderLine: line, Inserted: true}, nil
}
