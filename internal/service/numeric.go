package service

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// decimalToNumeric keeps every digit. Callers pass quantities already
// checked by parseQuantity.
func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.String())
	return n
}

// Quantities are stored as NUMERIC(12,3).
const quantityScale = 3

var maxQuantity = decimal.New(1, 9)

// parseQuantity parses a decimal quantity for the named field. Negative
// values are rejected; zero is allowed only when allowZero is set. Values
// the column would round or overflow are rejected too, so the stored
// quantity is always the one compared against what was ordered.
func parseQuantity(field, s string, allowZero bool) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s must be a number", ErrValidation, field)
	}
	switch {
	case d.IsNegative():
		return decimal.Zero, fmt.Errorf("%w: %s must not be negative", ErrValidation, field)
	case !allowZero && d.IsZero():
		return decimal.Zero, fmt.Errorf("%w: %s must be greater than zero", ErrValidation, field)
	case !d.Equal(d.Truncate(quantityScale)):
		return decimal.Zero, fmt.Errorf("%w: %s allows at most %d decimal places", ErrValidation, field, quantityScale)
	case d.GreaterThanOrEqual(maxQuantity):
		return decimal.Zero, fmt.Errorf("%w: %s must be less than %s", ErrValidation, field, maxQuantity)
	}
	return d, nil
}
