package amount

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func noopConverter() Converter {
	return NewConverter(zerolog.Nop())
}

func capturingConverter() (Converter, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewConverter(zerolog.New(&buf)), &buf
}

func TestFromBaseUnitsExact(t *testing.T) {
	c := noopConverter()

	cases := []struct {
		amount   string
		decimals uint8
		want     float64
	}{
		{"0", 6, 0},
		{"1", 6, 0.000001},
		{"123456", 6, 0.123456},
		{"1500000000", 9, 1.5},
		{"9007199254740992", 0, 9007199254740992}, // 2^53, last exactly representable integer
	}
	for _, tc := range cases {
		if got := c.FromBaseUnits(tc.amount, tc.decimals); got != tc.want {
			t.Errorf("FromBaseUnits(%s, %d) = %v, want %v", tc.amount, tc.decimals, got, tc.want)
		}
	}
}

func TestRoundTripExactValues(t *testing.T) {
	c := noopConverter()

	for _, amount := range []string{"0", "1", "999", "123456789", "1000000000000"} {
		for _, decimals := range []uint8{0, 6, 9} {
			f := c.FromBaseUnits(amount, decimals)
			back := c.ToBaseUnits(f, decimals)
			if back != amount {
				t.Errorf("round trip %s with %d decimals: got %s", amount, decimals, back)
			}
		}
	}
}

func TestFromBaseUnitsPrecisionLossDiagnostic(t *testing.T) {
	c, buf := capturingConverter()

	// 2^53+1 cannot survive the float intermediate.
	_ = c.FromBaseUnits("9007199254740993", 0)
	if !strings.Contains(buf.String(), "precision loss") {
		t.Fatalf("expected precision-loss diagnostic, log was: %s", buf.String())
	}
}

func TestFromBaseUnitsNoSpuriousDiagnostic(t *testing.T) {
	c, buf := capturingConverter()

	_ = c.FromBaseUnits("123456", 6)
	if buf.Len() != 0 {
		t.Fatalf("exact conversion should not log, got: %s", buf.String())
	}
}

func TestFromBaseUnitsMalformed(t *testing.T) {
	c, buf := capturingConverter()

	for _, bad := range []string{"", "abc", "1.5", "12,000"} {
		if got := c.FromBaseUnits(bad, 6); got != 0 {
			t.Errorf("FromBaseUnits(%q) = %v, want zero fallback", bad, got)
		}
	}
	if !strings.Contains(buf.String(), "malformed") {
		t.Fatalf("malformed input should log, got: %s", buf.String())
	}
}

func TestToBaseUnitsTruncates(t *testing.T) {
	c := noopConverter()

	// 0.1234567 at 6 decimals keeps 123456, dropping the sub-unit remainder.
	if got := c.ToBaseUnits(0.1234567, 6); got != "123456" {
		t.Errorf("ToBaseUnits(0.1234567, 6) = %s, want 123456", got)
	}
	if got := c.ToBaseUnits(2.5, 0); got != "2" {
		t.Errorf("ToBaseUnits(2.5, 0) = %s, want 2", got)
	}
}

func TestDecimalFromBaseUnits(t *testing.T) {
	d, err := DecimalFromBaseUnits("1500000", 6)
	if err != nil {
		t.Fatalf("exact conversion failed: %v", err)
	}
	if d.String() != "1.5" {
		t.Fatalf("DecimalFromBaseUnits = %s, want 1.5", d)
	}

	if _, err := DecimalFromBaseUnits("1.5", 6); err == nil {
		t.Fatal("fractional base units should be rejected on the exact path")
	}
}

func TestParseBigInt(t *testing.T) {
	v, err := ParseBigInt("340282366920938463463374607431768211456") // 2^128
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.BitLen() != 129 {
		t.Fatalf("unexpected magnitude: %s", v)
	}
	if _, err := ParseBigInt("1.0"); err == nil {
		t.Fatal("fractional string should not parse as integer")
	}
}
