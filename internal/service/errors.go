package service

import "errors"

// Errors returned by the receiving services. Handlers map them to HTTP
// statuses with errors.Is; causes are wrapped alongside with %w.
var (
	ErrValidation       = errors.New("invalid input")
	ErrLineNotFound     = errors.New("order line not found")
	ErrItemNotFound     = errors.New("catalog item not found")
	ErrDuplicateBarcode = errors.New("barcode already exists on an order")
	ErrSupplierMismatch = errors.New("item belongs to a different supplier")
	ErrStorage          = errors.New("storage failure")
)
