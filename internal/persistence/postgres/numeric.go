package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericFromDecimal converts a decimal into a pgtype.Numeric value.
func numericFromDecimal(value decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	if err := out.Scan(value.String()); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", value.String(), err)
	}
	return out, nil
}

// decimalFromNumeric converts a scanned pgtype.Numeric back into a decimal.
// NULL columns map to zero.
func decimalFromNumeric(value pgtype.Numeric) (decimal.Decimal, error) {
	if !value.Valid {
		return decimal.Decimal{}, nil
	}
	scanned, err := value.Value()
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read numeric: %w", err)
	}
	text, ok := scanned.(string)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("read numeric: unexpected driver type %T", scanned)
	}
	parsed, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %q: %w", text, err)
	}
	return parsed, nil
}
