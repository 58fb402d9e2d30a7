package database

import (
	"context"
)

const getCatalogItem = `-- name: GetCatalogItem :one
SELECT item_code, barcode, supplier_code FROM catalog_items
WHERE item_code = $1
`

func (q *Queries) GetCatalogItem(ctx context.Context, itemCode string) (CatalogItem, error) {
	row := q.db.QueryRow(ctx, getCatalogItem, itemCode)
	var i CatalogItem
	err := row.Scan(&i.ItemCode, &i.Barcode, &i.SupplierCode)
	return i, err
}

// strpos instead of LIKE so '%' and '_' in a scanned fragment match literally.
const findCatalogItemByBarcodeFragment = `-- name: FindCatalogItemByBarcodeFragment :one
SELECT item_code, barcode, supplier_code FROM catalog_items
WHERE strpos(barcode, $1) > 0
ORDER BY item_code
LIMIT 1
`

func (q *Queries) FindCatalogItemByBarcodeFragment(ctx context.Context, fragment string) (CatalogItem, error) {
	row := q.db.QueryRow(ctx, findCatalogItemByBarcodeFragment, fragment)
	var i CatalogItem
	err := row.Scan(&i.ItemCode, &i.Barcode, &i.SupplierCode)
	return i, err
}
