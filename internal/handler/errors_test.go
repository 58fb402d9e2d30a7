package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/aus-receiving/api/internal/service"
	"github.com/aus-receiving/api/internal/storage"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("%w: barcode is required", service.ErrValidation), http.StatusBadRequest},
		{"line not found", service.ErrLineNotFound, http.StatusNotFound},
		{"item not found", service.ErrItemNotFound, http.StatusNotFound},
		{"duplicate", service.ErrDuplicateBarcode, http.StatusConflict},
		{"supplier mismatch", service.ErrSupplierMismatch, http.StatusUnprocessableEntity},
		{"storage", fmt.Errorf("%w: update line: %w", service.ErrStorage, errors.New("boom")), http.StatusInternalServerError},
		{"unavailable", fmt.Errorf("%w: begin: %w", service.ErrStorage, storage.ErrUnavailable), http.StatusServiceUnavailable},
		{"deadline", fmt.Errorf("%w: list lines: %w", service.ErrStorage, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := statusFor(tt.err)
			if got != tt.want {
				t.Errorf("statusFor(%v): got %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusFor_HidesServerErrors(t *testing.T) {
	_, msg := statusFor(fmt.Errorf("%w: password=hunter2", service.ErrStorage))
	if msg != "internal server error" {
		t.Errorf("message: got %q, want internal server error", msg)
	}
}
