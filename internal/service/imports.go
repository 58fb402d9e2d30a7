package service

import (
	"context"
	"fmt"

	"github.com/aus-receiving/api/internal/database"
	"github.com/aus-receiving/api/internal/enum"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxImportLines caps a single import batch.
const MaxImportLines = 1000

// ImportOrderLinesRequest carries order lines exported by the purchasing
// system. Each line takes the same fields as AddLine.
type ImportOrderLinesRequest struct {
	Lines []AddLineRequest
}

// ImportedLine is a line as it stands after the import.
type ImportedLine struct {
	Line    database.OrderLine
	Created bool
}

// ImportResult reports every imported line in request order.
type ImportResult struct {
	Lines   []ImportedLine
	Created int
	Updated int
}

// ImportOrderLines upserts a batch of order lines keyed by (order_id,
// barcode) in one transaction. New lines are placed the way AddLine places
// them. Existing lines take the new item, supplier and ordered quantity and
// keep their receipts; a received line is re-terminated or reopened against
// the new ordered quantity.
//
// The purchasing export is the source of catalog data, so lines are not
// checked against catalog_items. Barcodes stay unique across orders.
func (s *ReceivingService) ImportOrderLines(ctx context.Context, req ImportOrderLinesRequest) (*ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "receiving.ImportOrderLines",
		trace.WithAttributes(attribute.Int("receiving.batch_size", len(req.Lines))))
	defer span.End()

	lines, qtys, err := validateImport(req.Lines)
	if err != nil {
		s.finish(ctx, span, "receiving.line_imports", err)
		return nil, err
	}

	var result *ImportResult
	err = s.inTx(ctx, func(store ReceivingStore) error {
		result = &ImportResult{Lines: make([]ImportedLine, 0, len(lines))}
		for i, line := range lines {
			imported, err := importLine(ctx, store, line, qtys[i])
			if err != nil {
				return fmt.Errorf("line[%d]: %w", i, err)
			}
			if imported.Created {
				result.Created++
			} else {
				result.Updated++
			}
			result.Lines = append(result.Lines, imported)
		}
		return nil
	})
	s.finish(ctx, span, "receiving.line_imports", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order lines imported", "created", result.Created, "updated", result.Updated)
	for _, l := range result.Lines {
		event := enum.EventLineUpdated
		if l.Created {
			event = enum.EventLineAdded
		}
		s.notifier.Notify(l.Line.OrderID, event, l.Line)
	}
	return result, nil
}

func importLine(ctx context.Context, store ReceivingStore, req AddLineRequest, qty decimal.Decimal) (ImportedLine, error) {
	if err := store.LockBarcode(ctx, req.Barcode); err != nil {
		return ImportedLine{}, storageErr("lock barcode", err)
	}

	elsewhere, err := store.BarcodeOnOtherOrder(ctx, req.Barcode, req.OrderID)
	if err != nil {
		return ImportedLine{}, storageErr("check barcode", err)
	}
	if elsewhere {
		return ImportedLine{}, fmt.Errorf("barcode %q: %w", req.Barcode, ErrDuplicateBarcode)
	}

	old, err := store.HasPendingSupersededLines(ctx, req.OrderID)
	if err != nil {
		return ImportedLine{}, storageErr("check order placement", err)
	}
	placement := enum.PlacementActive
	if old {
		placement = enum.PlacementSuperseded
	}

	row, err := store.UpsertOrderLine(ctx, database.UpsertOrderLineParams{
		OrderID:      req.OrderID,
		ItemCode:     req.ItemCode,
		Barcode:      req.Barcode,
		OrderedQty:   decimalToNumeric(qty),
		SupplierCode: req.SupplierCode,
		Pending:      old,
		Placement:    placement,
	})
	if err != nil {
		return ImportedLine{}, storageErr("upsert line", err)
	}
	return ImportedLine{Line: row.OrderLine, Created: row.Inserted}, nil
}

// validateImport checks every line before any of them is written. A barcode
// may appear only once per batch.
func validateImport(lines []AddLineRequest) ([]AddLineRequest, []decimal.Decimal, error) {
	switch {
	case len(lines) == 0:
		return nil, nil, fmt.Errorf("%w: lines are required", ErrValidation)
	case len(lines) > MaxImportLines:
		return nil, nil, fmt.Errorf("%w: at most %d lines per import", ErrValidation, MaxImportLines)
	}

	out := make([]AddLineRequest, len(lines))
	qtys := make([]decimal.Decimal, len(lines))
	seen := make(map[string]int, len(lines))
	for i, line := range lines {
		qty, err := validateAddLine(&line)
		if err != nil {
			return nil, nil, fmt.Errorf("line[%d]: %w", i, err)
		}
		if first, dup := seen[line.Barcode]; dup {
			return nil, nil, fmt.Errorf("%w: line[%d]: barcode %q repeats line[%d]", ErrValidation, i, line.Barcode, first)
		}
		seen[line.Barcode] = i
		out[i] = line
		qtys[i] = qty
	}
	return out, qtys, nil
}
