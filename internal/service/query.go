package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/aus-receiving/api/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// QueryStore defines the read-only DB methods behind the order listings.
// Satisfied by *database.Queries.
type QueryStore interface {
	ListActiveOpenLines(ctx context.Context, orderID string) ([]database.OrderLine, error)
	ListSupersededOpenLines(ctx context.Context, orderID string) ([]database.OrderLine, error)
	ListPendingLines(ctx context.Context, supplierCode pgtype.Text) ([]database.ListPendingLinesRow, error)
	ListPartialReceipts(ctx context.Context, orderID string) ([]database.ListPartialReceiptsRow, error)
	ListLineReceipts(ctx context.Context, lineID uuid.UUID) ([]database.LineReceipt, error)
}

// QueryService answers "what is left to receive" questions.
type QueryService struct {
	store QueryStore
}

// NewQueryService creates a new QueryService.
func NewQueryService(store QueryStore) *QueryService {
	return &QueryService{store: store}
}

// ListOrderLines returns the unterminated lines of an order. Active lines
// take precedence: superseded lines are only consulted when the order has
// no open active line. An empty result means nothing is left to receive.
func (s *QueryService) ListOrderLines(ctx context.Context, orderID string) ([]database.OrderLine, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrValidation)
	}

	lines, err := s.store.ListActiveOpenLines(ctx, orderID)
	if err != nil {
		return nil, storageErr("list active lines", err)
	}
	if len(lines) > 0 {
		return lines, nil
	}

	lines, err = s.store.ListSupersededOpenLines(ctx, orderID)
	if err != nil {
		return nil, storageErr("list superseded lines", err)
	}
	if lines == nil {
		lines = []database.OrderLine{}
	}
	return lines, nil
}

// ListPendingLines returns partially received lines with their supplier
// name. An empty supplierCode lists every supplier.
func (s *QueryService) ListPendingLines(ctx context.Context, supplierCode string) ([]database.ListPendingLinesRow, error) {
	rows, err := s.store.ListPendingLines(ctx, optionalText(strings.TrimSpace(supplierCode)))
	if err != nil {
		return nil, storageErr("list pending lines", err)
	}
	if rows == nil {
		rows = []database.ListPendingLinesRow{}
	}
	return rows, nil
}

// ListPartialReceipts returns the counts recorded so far on an order's open
// superseded lines, so a scanner can resume an interrupted count.
func (s *QueryService) ListPartialReceipts(ctx context.Context, orderID string) ([]database.ListPartialReceiptsRow, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrValidation)
	}
	rows, err := s.store.ListPartialReceipts(ctx, orderID)
	if err != nil {
		return nil, storageErr("list partial receipts", err)
	}
	if rows == nil {
		rows = []database.ListPartialReceiptsRow{}
	}
	return rows, nil
}

// ListLineReceipts returns the receipt history of a line, newest first.
func (s *QueryService) ListLineReceipts(ctx context.Context, lineID uuid.UUID) ([]database.LineReceipt, error) {
	rows, err := s.store.ListLineReceipts(ctx, lineID)
	if err != nil {
		return nil, storageErr("list line receipts", err)
	}
	if rows == nil {
		rows = []database.LineReceipt{}
	}
	return rows, nil
}
