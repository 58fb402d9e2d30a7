package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aus-receiving/api/internal/database"
	"github.com/aus-receiving/api/internal/middleware"
	"github.com/aus-receiving/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// ReceivingServicer defines the service methods that change line state.
// Satisfied by *service.ReceivingService; narrow interface for testability.
type ReceivingServicer interface {
	RecordReceipt(ctx context.Context, req service.RecordReceiptRequest) (*service.ReceiptResult, error)
	RecordReceipts(ctx context.Context, req service.RecordReceiptsRequest) ([]service.ReceiptResult, error)
	AddLine(ctx context.Context, req service.AddLineRequest) (*service.AddLineResult, error)
	ImportOrderLines(ctx context.Context, req service.ImportOrderLinesRequest) (*service.ImportResult, error)
}

// LineQuerier defines the read-side service methods.
// Satisfied by *service.QueryService.
type LineQuerier interface {
	ListOrderLines(ctx context.Context, orderID string) ([]database.OrderLine, error)
	ListPendingLines(ctx context.Context, supplierCode string) ([]database.ListPendingLinesRow, error)
	ListPartialReceipts(ctx context.Context, orderID string) ([]database.ListPartialReceiptsRow, error)
	ListLineReceipts(ctx context.Context, lineID uuid.UUID) ([]database.LineReceipt, error)
}

// LineHandler handles order line and receipt endpoints.
type LineHandler struct {
	svc   ReceivingServicer
	query LineQuerier
	now   func() time.Time
}

// NewLineHandler creates a new LineHandler.
func NewLineHandler(svc ReceivingServicer, query LineQuerier) *LineHandler {
	return &LineHandler{svc: svc, query: query, now: time.Now}
}

// RegisterRoutes registers line endpoints on the given Chi router.
// Expected to be mounted behind Authenticate.
func (h *LineHandler) RegisterRoutes(r chi.Router) {
	r.Get("/orders/{orderID}/lines", h.ListOrderLines)
	r.Post("/orders/{orderID}/lines", h.AddLine)
	r.Get("/orders/{orderID}/partial-receipts", h.ListPartialReceipts)
	r.Get("/lines/{lineID}/receipts", h.ListLineReceipts)
	r.Get("/pending-lines", h.ListPendingLines)
	r.Post("/receipts", h.RecordReceipt)
}

// RegisterSyncRoutes registers the offline batch endpoint. Mount it behind
// RequireRole for the roles allowed to replay scanner queues.
func (h *LineHandler) RegisterSyncRoutes(r chi.Router) {
	r.Post("/receipts/sync", h.SyncReceipts)
}

// RegisterImportRoutes registers the bulk order line import. Mount it behind
// RequireRole for supervisors.
func (h *LineHandler) RegisterImportRoutes(r chi.Router) {
	r.Post("/orders/import", h.ImportOrderLines)
}

// --- Request / Response types ---

type recordReceiptRequest struct {
	Barcode     string      `json:"barcode"`
	ReceivedQty json.Number `json:"received_qty"`
	OrderID     string      `json:"order_id"`
	RecordedAt  *time.Time  `json:"recorded_at"`
}

type syncReceiptsRequest struct {
	Items []recordReceiptRequest `json:"items"`
}

type addLineRequest struct {
	Barcode      string      `json:"barcode"`
	ItemCode     string      `json:"item_code"`
	SupplierCode string      `json:"supplier_code"`
	OrderedQty   json.Number `json:"ordered_qty"`
}

type importLineRequest struct {
	OrderID      string      `json:"order_id"`
	Barcode      string      `json:"barcode"`
	ItemCode     string      `json:"item_code"`
	SupplierCode string      `json:"supplier_code"`
	OrderedQty   json.Number `json:"ordered_qty"`
}

type importOrderLinesRequest struct {
	Lines []importLineRequest `json:"lines"`
}

type lineResponse struct {
	ID           uuid.UUID  `json:"id"`
	OrderID      string     `json:"order_id"`
	ItemCode     string     `json:"item_code"`
	Barcode      string     `json:"barcode"`
	OrderedQty   string     `json:"ordered_qty"`
	SupplierCode string     `json:"supplier_code"`
	ReceivedQty  string     `json:"received_qty"`
	Terminated   bool       `json:"terminated"`
	Pending      bool       `json:"pending"`
	Placement    string     `json:"placement"`
	RecordedBy   *string    `json:"recorded_by"`
	RecordedAt   *time.Time `json:"recorded_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type receivedLineResponse struct {
	lineResponse
	Mirrored bool `json:"mirrored"`
}

type receiptResponse struct {
	Lines []receivedLineResponse `json:"lines"`
}

type syncResponse struct {
	Count   int               `json:"count"`
	Results []receiptResponse `json:"results"`
}

type addLineResponse struct {
	Line      lineResponse `json:"line"`
	Placement string       `json:"placement"`
}

type importedLineResponse struct {
	lineResponse
	Created bool `json:"created"`
}

type importResponse struct {
	Created int                    `json:"created"`
	Updated int                    `json:"updated"`
	Lines   []importedLineResponse `json:"lines"`
}

type pendingLineResponse struct {
	OrderID      string `json:"order_id"`
	ItemCode     string `json:"item_code"`
	Barcode      string `json:"barcode"`
	OrderedQty   string `json:"ordered_qty"`
	ReceivedQty  string `json:"received_qty"`
	SupplierCode string `json:"supplier_code"`
	SupplierName string `json:"supplier_name"`
	Placement    string `json:"placement"`
}

type partialReceiptResponse struct {
	Barcode     string `json:"barcode"`
	ReceivedQty string `json:"received_qty"`
}

type lineReceiptResponse struct {
	ID          uuid.UUID  `json:"id"`
	LineID      uuid.UUID  `json:"line_id"`
	OrderID     string     `json:"order_id"`
	Barcode     string     `json:"barcode"`
	ReceivedQty string     `json:"received_qty"`
	Terminated  bool       `json:"terminated"`
	Pending     bool       `json:"pending"`
	RecordedBy  string     `json:"recorded_by"`
	RecordedAt  *time.Time `json:"recorded_at"`
}

// --- Handlers ---

// ListOrderLines handles GET /orders/{orderID}/lines.
func (h *LineHandler) ListOrderLines(w http.ResponseWriter, r *http.Request) {
	lines, err := h.query.ListOrderLines(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, r, "list order lines", err)
		return
	}

	resp := make([]lineResponse, len(lines))
	for i, l := range lines {
		resp[i] = toLineResponse(l)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddLine handles POST /orders/{orderID}/lines.
func (h *LineHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req addLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.svc.AddLine(r.Context(), service.AddLineRequest{
		OrderID:      chi.URLParam(r, "orderID"),
		Barcode:      req.Barcode,
		ItemCode:     req.ItemCode,
		SupplierCode: req.SupplierCode,
		OrderedQty:   req.OrderedQty.String(),
	})
	if err != nil {
		writeServiceError(w, r, "add line", err)
		return
	}

	writeJSON(w, http.StatusCreated, addLineResponse{
		Line:      toLineResponse(result.Line),
		Placement: result.Placement,
	})
}

// ListPartialReceipts handles GET /orders/{orderID}/partial-receipts.
func (h *LineHandler) ListPartialReceipts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.query.ListPartialReceipts(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, r, "list partial receipts", err)
		return
	}

	resp := make([]partialReceiptResponse, len(rows))
	for i, row := range rows {
		resp[i] = partialReceiptResponse{
			Barcode:     row.Barcode,
			ReceivedQty: numericToString(row.ReceivedQty),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListLineReceipts handles GET /lines/{lineID}/receipts.
func (h *LineHandler) ListLineReceipts(w http.ResponseWriter, r *http.Request) {
	lineID, err := uuid.Parse(chi.URLParam(r, "lineID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid line ID"})
		return
	}

	rows, err := h.query.ListLineReceipts(r.Context(), lineID)
	if err != nil {
		writeServiceError(w, r, "list line receipts", err)
		return
	}

	resp := make([]lineReceiptResponse, len(rows))
	for i, row := range rows {
		resp[i] = lineReceiptResponse{
			ID:          row.ID,
			LineID:      row.LineID,
			OrderID:     row.OrderID,
			Barcode:     row.Barcode,
			ReceivedQty: numericToString(row.ReceivedQty),
			Terminated:  row.Terminated,
			Pending:     row.Pending,
			RecordedBy:  row.RecordedBy,
			RecordedAt:  timestamptzPtr(row.RecordedAt),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPendingLines handles GET /pending-lines?supplier_code=.
func (h *LineHandler) ListPendingLines(w http.ResponseWriter, r *http.Request) {
	rows, err := h.query.ListPendingLines(r.Context(), r.URL.Query().Get("supplier_code"))
	if err != nil {
		writeServiceError(w, r, "list pending lines", err)
		return
	}

	resp := make([]pendingLineResponse, len(rows))
	for i, row := range rows {
		resp[i] = pendingLineResponse{
			OrderID:      row.OrderID,
			ItemCode:     row.ItemCode,
			Barcode:      row.Barcode,
			OrderedQty:   numericToString(row.OrderedQty),
			ReceivedQty:  numericToString(row.ReceivedQty),
			SupplierCode: row.SupplierCode,
			SupplierName: row.SupplierName,
			Placement:    row.Placement,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecordReceipt handles POST /receipts. The receipt is attributed to the
// authenticated user and stamped now unless recorded_at is given.
func (h *LineHandler) RecordReceipt(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req recordReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	recordedAt := h.now()
	if req.RecordedAt != nil {
		recordedAt = *req.RecordedAt
	}

	result, err := h.svc.RecordReceipt(r.Context(), service.RecordReceiptRequest{
		Barcode:     req.Barcode,
		ReceivedQty: req.ReceivedQty.String(),
		OrderID:     req.OrderID,
		RecordedBy:  claims.Name,
		RecordedAt:  recordedAt,
	})
	if err != nil {
		writeServiceError(w, r, "record receipt", err)
		return
	}

	writeJSON(w, http.StatusOK, toReceiptResponse(*result))
}

// SyncReceipts handles POST /receipts/sync: a scanner's offline queue
// replayed as one all-or-nothing batch.
func (h *LineHandler) SyncReceipts(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req syncReceiptsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	items := make([]service.BatchReceipt, len(req.Items))
	for i, item := range req.Items {
		items[i] = service.BatchReceipt{
			Barcode:     item.Barcode,
			ReceivedQty: item.ReceivedQty.String(),
			OrderID:     item.OrderID,
		}
		if item.RecordedAt != nil {
			items[i].RecordedAt = *item.RecordedAt
		}
	}

	results, err := h.svc.RecordReceipts(r.Context(), service.RecordReceiptsRequest{
		RecordedBy: claims.Name,
		Items:      items,
	})
	if err != nil {
		writeServiceError(w, r, "sync receipts", err)
		return
	}

	resp := syncResponse{Count: len(results), Results: make([]receiptResponse, len(results))}
	for i, res := range results {
		resp.Results[i] = toReceiptResponse(res)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ImportOrderLines handles POST /orders/import: order lines exported by
// purchasing, upserted by (order_id, barcode) as one batch.
func (h *LineHandler) ImportOrderLines(w http.ResponseWriter, r *http.Request) {
	var req importOrderLinesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	lines := make([]service.AddLineRequest, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = service.AddLineRequest{
			OrderID:      l.OrderID,
			Barcode:      l.Barcode,
			ItemCode:     l.ItemCode,
			SupplierCode: l.SupplierCode,
			OrderedQty:   l.OrderedQty.String(),
		}
	}

	result, err := h.svc.ImportOrderLines(r.Context(), service.ImportOrderLinesRequest{Lines: lines})
	if err != nil {
		writeServiceError(w, r, "import order lines", err)
		return
	}

	resp := importResponse{
		Created: result.Created,
		Updated: result.Updated,
		Lines:   make([]importedLineResponse, len(result.Lines)),
	}
	for i, l := range result.Lines {
		resp.Lines[i] = importedLineResponse{lineResponse: toLineResponse(l.Line), Created: l.Created}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func toReceiptResponse(result service.ReceiptResult) receiptResponse {
	resp := receiptResponse{Lines: make([]receivedLineResponse, len(result.Lines))}
	for i, l := range result.Lines {
		resp.Lines[i] = receivedLineResponse{
			lineResponse: toLineResponse(l.Line),
			Mirrored:     l.Mirrored,
		}
	}
	return resp
}

func toLineResponse(l database.OrderLine) lineResponse {
	resp := lineResponse{
		ID:           l.ID,
		OrderID:      l.OrderID,
		ItemCode:     l.ItemCode,
		Barcode:      l.Barcode,
		OrderedQty:   numericToString(l.OrderedQty),
		SupplierCode: l.SupplierCode,
		ReceivedQty:  numericToString(l.ReceivedQty),
		Terminated:   l.Terminated,
		Pending:      l.Pending,
		Placement:    l.Placement,
		RecordedAt:   timestamptzPtr(l.RecordedAt),
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
	if l.RecordedBy.Valid {
		resp.RecordedBy = &l.RecordedBy.String
	}
	return resp
}

// numericToString renders a quantity without padding or rounding.
func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0"
	}
	return d.String()
}

func timestamptzPtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
