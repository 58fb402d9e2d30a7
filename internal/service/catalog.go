package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aus-receiving/api/internal/database"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/singleflight"
)

// CatalogStore defines the DB methods for catalog lookups.
// Satisfied by *database.Queries.
type CatalogStore interface {
	GetCatalogItem(ctx context.Context, itemCode string) (database.CatalogItem, error)
	FindCatalogItemByBarcodeFragment(ctx context.Context, fragment string) (database.CatalogItem, error)
}

// CatalogCache is a read-through cache in front of the catalog tables.
// Satisfied by *cache.Catalog and cache.Noop.
type CatalogCache interface {
	Get(ctx context.Context, key string) (database.CatalogItem, bool, error)
	Set(ctx context.Context, key string, item database.CatalogItem) error
}

// CatalogService resolves items and their suppliers from the external catalog.
type CatalogService struct {
	store  CatalogStore
	cache  CatalogCache
	group  singleflight.Group
	logger *slog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(store CatalogStore, cache CatalogCache, logger *slog.Logger) *CatalogService {
	return &CatalogService{store: store, cache: cache, logger: logger}
}

// FindBySupplier returns the supplier code of a catalog item.
func (s *CatalogService) FindBySupplier(ctx context.Context, itemCode string) (string, error) {
	itemCode = strings.TrimSpace(itemCode)
	if itemCode == "" {
		return "", fmt.Errorf("%w: item_code is required", ErrValidation)
	}
	item, err := s.lookup(ctx, "item:"+itemCode, func(ctx context.Context) (database.CatalogItem, error) {
		return s.store.GetCatalogItem(ctx, itemCode)
	})
	if err != nil {
		return "", err
	}
	return item.SupplierCode, nil
}

// FindByBarcodeFragment returns the catalog item with the lowest item code
// whose barcode contains fragment.
func (s *CatalogService) FindByBarcodeFragment(ctx context.Context, fragment string) (database.CatalogItem, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return database.CatalogItem{}, fmt.Errorf("%w: barcode fragment is required", ErrValidation)
	}
	return s.lookup(ctx, "barcode:"+fragment, func(ctx context.Context) (database.CatalogItem, error) {
		return s.store.FindCatalogItemByBarcodeFragment(ctx, fragment)
	})
}

// catalogLoadTimeout bounds a shared load, which outlives any single caller.
const catalogLoadTimeout = 5 * time.Second

// lookup serves key from the cache, falling back to load. Concurrent misses
// for the same key share one load that is not tied to any caller's
// cancellation; each caller stops waiting when its own context ends.
// Misses are not cached.
func (s *CatalogService) lookup(ctx context.Context, key string, load func(context.Context) (database.CatalogItem, error)) (database.CatalogItem, error) {
	item, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("catalog cache read failed", "key", key, "error", err)
	} else if ok {
		return item, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogLoadTimeout)
		defer cancel()

		item, err := load(loadCtx)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%s: %w", key, ErrItemNotFound)
			}
			return nil, storageErr("catalog lookup", err)
		}
		if err := s.cache.Set(loadCtx, key, item); err != nil {
			s.logger.Warn("catalog cache write failed", "key", key, "error", err)
		}
		return item, nil
	})

	select {
	case <-ctx.Done():
		return database.CatalogItem{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return database.CatalogItem{}, res.Err
		}
		return res.Val.(database.CatalogItem), nil
	}
}
