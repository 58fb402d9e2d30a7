package handler

import (
	"context"
	"net/http"

	"github.com/aus-receiving/api/internal/database"
	"github.com/go-chi/chi/v5"
)

// CatalogLookup defines the catalog lookups exposed over HTTP.
// Satisfied by *service.CatalogService.
type CatalogLookup interface {
	FindBySupplier(ctx context.Context, itemCode string) (string, error)
	FindByBarcodeFragment(ctx context.Context, fragment string) (database.CatalogItem, error)
}

// CatalogHandler handles catalog lookup endpoints.
type CatalogHandler struct {
	catalog CatalogLookup
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(catalog CatalogLookup) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// RegisterRoutes registers catalog endpoints on the given Chi router.
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/catalog/items/{itemCode}/supplier", h.FindBySupplier)
	r.Get("/catalog/barcodes/{fragment}", h.FindByBarcodeFragment)
}

type supplierResponse struct {
	ItemCode     string `json:"item_code"`
	SupplierCode string `json:"supplier_code"`
}

// FindBySupplier handles GET /catalog/items/{itemCode}/supplier.
func (h *CatalogHandler) FindBySupplier(w http.ResponseWriter, r *http.Request) {
	itemCode := chi.URLParam(r, "itemCode")
	supplier, err := h.catalog.FindBySupplier(r.Context(), itemCode)
	if err != nil {
		writeServiceError(w, r, "find supplier", err)
		return
	}
	writeJSON(w, http.StatusOK, supplierResponse{ItemCode: itemCode, SupplierCode: supplier})
}

// FindByBarcodeFragment handles GET /catalog/barcodes/{fragment}.
func (h *CatalogHandler) FindByBarcodeFragment(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.FindByBarcodeFragment(r.Context(), chi.URLParam(r, "fragment"))
	if err != nil {
		writeServiceError(w, r, "find by barcode", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
