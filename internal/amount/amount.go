// Package amount converts between integer base-unit amounts and decimal
// display values. Ledger amounts travel as decimal-integer strings, never
// native floats; floats exist only at the display boundary and never feed
// back into a base-unit computation.
package amount

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Converter performs display conversion with precision-loss diagnostics.
type Converter struct {
	logger zerolog.Logger
}

// NewConverter builds a converter writing diagnostics to logger.
func NewConverter(logger zerolog.Logger) Converter {
	return Converter{logger: logger.With().Str("component", "amount").Logger()}
}

// FromBaseUnits converts an integer base-unit string to a display float.
// Precision loss is detected by reconstructing the base units from the float
// and comparing against the input; on mismatch a diagnostic is logged and the
// best-effort float is still returned, because display paths tolerate
// approximation. Malformed input yields zero and a log entry, never an error.
func (c Converter) FromBaseUnits(baseUnits string, decimals uint8) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(baseUnits))
	if err != nil || !d.IsInteger() {
		c.logger.Warn().Str("amount", baseUnits).Msg("malformed base-unit amount, falling back to zero")
		return 0
	}

	scaled := d.Shift(-int32(decimals))
	f, _ := scaled.Float64()

	reconstructed := decimal.NewFromFloat(f).Shift(int32(decimals))
	if !reconstructed.Equal(d) {
		c.logger.Warn().
			Str("amount", baseUnits).
			Uint8("decimals", decimals).
			Str("reconstructed", reconstructed.String()).
			Msg("precision loss converting base units to display value")
	}
	return f
}

// ToBaseUnits converts a display float back to an integer base-unit string.
// Fractional remainders below the base unit are truncated toward zero rather
// than left to float truncation ambiguity.
func (c Converter) ToBaseUnits(value float64, decimals uint8) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		c.logger.Warn().Float64("value", value).Msg("non-finite display value, falling back to zero base units")
		return "0"
	}
	return decimal.NewFromFloat(value).Shift(int32(decimals)).Truncate(0).String()
}

// DecimalFromBaseUnits is the exact path for non-display math: it scales the
// base-unit string without ever passing through a float.
func DecimalFromBaseUnits(baseUnits string, decimals uint8) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(baseUnits))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse base units %q: %w", baseUnits, err)
	}
	if !d.IsInteger() {
		return decimal.Decimal{}, fmt.Errorf("parse base units %q: not an integer", baseUnits)
	}
	return d.Shift(-int32(decimals)), nil
}

// ParseBigInt parses a decimal-integer string into an arbitrary-precision
// integer. Used wherever the value gates a claim and must not degrade.
func ParseBigInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("parse integer amount %q", s)
	}
	return v, nil
}
