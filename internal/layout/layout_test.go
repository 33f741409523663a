package layout

import (
	"errors"
	"math"
	"testing"

	"github.com/credit-markets/vitalfi-data/internal/derive"
)

func fillAddress(fill byte) derive.Address {
	var a derive.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

// Pins every hard-coded offset and the record sizes. If this test fails the
// decoder no longer matches the on-ledger schema and will silently return
// wrong values.
func TestVaultOffsetTable(t *testing.T) {
	offsets := []struct {
		name  string
		value int
		want  int
	}{
		{"authority", VaultAuthorityOffset, 8},
		{"vault_id", VaultIDOffset, 40},
		{"asset", VaultAssetOffset, 48},
		{"status", VaultStatusOffset, 80},
		{"capacity", VaultCapacityOffset, 81},
		{"total_deposited", VaultTotalDepositedOffset, 89},
		{"total_claimed", VaultTotalClaimedOffset, 97},
		{"target_yield_bps", VaultTargetYieldOffset, 105},
		{"funding_close_ts", VaultFundingCloseOffset, 107},
		{"maturity_ts", VaultMaturityOffset, 115},
		{"min_deposit", VaultMinDepositOffset, 123},
		{"payout_set", VaultPayoutSetOffset, 131},
		{"payout_numerator", VaultPayoutNumeratorOffset, 132},
		{"payout_denominator", VaultPayoutDenominatorOffset, 140},
	}
	for _, tc := range offsets {
		if tc.value != tc.want {
			t.Errorf("vault field %s at offset %d, schema says %d", tc.name, tc.value, tc.want)
		}
	}
	if VaultSize != 148 {
		t.Errorf("vault record size %d, schema says 148", VaultSize)
	}
}

func TestPositionOffsetTable(t *testing.T) {
	if PositionOwnerOffset != 8 {
		t.Errorf("position owner at offset %d, schema says 8", PositionOwnerOffset)
	}
	if PositionVaultOffset != 40 {
		t.Errorf("position vault at offset %d, schema says 40", PositionVaultOffset)
	}
	if PositionDepositedOffset != 72 {
		t.Errorf("position deposited at offset %d, schema says 72", PositionDepositedOffset)
	}
	if PositionClaimedOffset != 80 {
		t.Errorf("position claimed at offset %d, schema says 80", PositionClaimedOffset)
	}
	if PositionSize != 88 {
		t.Errorf("position record size %d, schema says 88", PositionSize)
	}
}

func TestVaultRoundTrip(t *testing.T) {
	vaults := []Vault{
		{},
		{
			Authority:         fillAddress(0xAA),
			VaultID:           math.MaxUint64,
			Asset:             fillAddress(0xBB),
			Status:            StatusCanceled,
			Capacity:          math.MaxUint64,
			TotalDeposited:    math.MaxUint64,
			TotalClaimed:      math.MaxUint64,
			TargetYieldBps:    math.MaxUint16,
			FundingCloseTS:    math.MaxInt64,
			MaturityTS:        math.MinInt64,
			MinDeposit:        math.MaxUint64,
			PayoutSet:         true,
			PayoutNumerator:   math.MaxUint64,
			PayoutDenominator: math.MaxUint64,
		},
		{
			Authority:       fillAddress(1),
			VaultID:         7,
			Asset:           fillAddress(2),
			Status:          StatusMatured,
			Capacity:        1_000_000,
			TotalDeposited:  500_000,
			TotalClaimed:    100_000,
			TargetYieldBps:  770,
			FundingCloseTS:  1_700_000_000,
			MaturityTS:      1_760_000_000,
			MinDeposit:      1_000,
			PayoutSet:       true,
			PayoutNumerator: 770, PayoutDenominator: 700,
		},
	}

	for i, want := range vaults {
		got, err := DecodeVault(EncodeVault(want))
		if err != nil {
			t.Fatalf("vault %d: decode: %v", i, err)
		}
		if got != want {
			t.Fatalf("vault %d: round trip mismatch:\n got %+v\nwant %+v", i, got, want)
		}
	}
}

func TestPositionRoundTrip(t *testing.T) {
	positions := []Position{
		{},
		{Owner: fillAddress(3), Vault: fillAddress(4), Deposited: math.MaxUint64, Claimed: math.MaxUint64},
		{Owner: fillAddress(5), Vault: fillAddress(6), Deposited: 1000, Claimed: 250},
	}
	for i, want := range positions {
		got, err := DecodePosition(EncodePosition(want))
		if err != nil {
			t.Fatalf("position %d: decode: %v", i, err)
		}
		if got != want {
			t.Fatalf("position %d: round trip mismatch:\n got %+v\nwant %+v", i, got, want)
		}
	}
}

func TestDecodeVaultWrongLength(t *testing.T) {
	_, err := DecodeVault(make([]byte, VaultSize-1))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("short buffer should yield DecodeError, got %v", err)
	}
	if decodeErr.Expected != VaultSize || decodeErr.Actual != VaultSize-1 {
		t.Fatalf("DecodeError should carry expected/actual sizes, got %+v", decodeErr)
	}
}

func TestDecodeVaultWrongDiscriminator(t *testing.T) {
	buf := EncodeVault(Vault{})
	buf[0] ^= 0xFF
	if _, err := DecodeVault(buf); err == nil {
		t.Fatal("foreign discriminator should not decode")
	}
}

func TestDecodeVaultBadStatusTag(t *testing.T) {
	buf := EncodeVault(Vault{})
	buf[VaultStatusOffset] = 99
	var decodeErr *DecodeError
	if _, err := DecodeVault(buf); !errors.As(err, &decodeErr) {
		t.Fatalf("out-of-range status should yield DecodeError, got %v", err)
	}
}

func TestDecodePositionWrongLength(t *testing.T) {
	var decodeErr *DecodeError
	if _, err := DecodePosition(make([]byte, VaultSize)); !errors.As(err, &decodeErr) {
		t.Fatal("vault-sized buffer should not decode as position")
	}
}

func TestStatusNames(t *testing.T) {
	for _, s := range []Status{StatusFunding, StatusActive, StatusMatured, StatusCanceled} {
		parsed, err := ParseStatus(s.String())
		if err != nil {
			t.Fatalf("parse %s: %v", s, err)
		}
		if parsed != s {
			t.Fatalf("status name round trip: %s became %s", s, parsed)
		}
	}
	if _, err := ParseStatus("liquidated"); err == nil {
		t.Fatal("unknown status name should not parse")
	}
}
