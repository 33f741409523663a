// Package payout computes the base-unit amount a position is entitled to
// once its vault matures or is cancelled. Everything here runs on
// arbitrary-precision integers; the floating-point display path is never
// involved because entitlements gate how much a user may withdraw.
package payout

import (
	"fmt"

	"github.com/credit-markets/vitalfi-data/internal/amount"
	"github.com/credit-markets/vitalfi-data/internal/layout"
)

// InvalidRatioError reports a matured vault whose payout denominator is zero.
// It is fatal for the computation only; it must never propagate a NaN or
// infinity into a displayed balance.
type InvalidRatioError struct {
	Numerator   string
	Denominator string
}

func (e *InvalidRatioError) Error() string {
	return fmt.Sprintf("payout: invalid ratio %s/%s: zero denominator", e.Numerator, e.Denominator)
}

// Entitlement returns floor(deposited * numerator / denominator) as a
// base-unit string. Empty numerator and denominator mean the operator never
// set a ratio on a matured vault; the named policy for that gap is 1:1,
// principal only, no yield.
func Entitlement(deposited, numerator, denominator string) (string, error) {
	d, err := amount.ParseBigInt(deposited)
	if err != nil {
		return "", fmt.Errorf("payout: %w", err)
	}

	if numerator == "" && denominator == "" {
		return d.String(), nil
	}

	n, err := amount.ParseBigInt(numerator)
	if err != nil {
		return "", fmt.Errorf("payout: %w", err)
	}
	den, err := amount.ParseBigInt(denominator)
	if err != nil {
		return "", fmt.Errorf("payout: %w", err)
	}
	if den.Sign() == 0 {
		return "", &InvalidRatioError{Numerator: numerator, Denominator: denominator}
	}

	entitled := n.Mul(n, d)
	entitled.Quo(entitled, den)
	return entitled.String(), nil
}

// ForPosition resolves a position's entitlement against its vault state.
// Cancelled vaults always refund the full deposit regardless of any ratio
// fields. Vaults that are still funding or active have no entitlement yet.
func ForPosition(v layout.Vault, p layout.Position) (string, error) {
	deposited := fmt.Sprintf("%d", p.Deposited)

	switch v.Status {
	case layout.StatusCanceled:
		return deposited, nil
	case layout.StatusMatured:
		if !v.PayoutSet {
			return Entitlement(deposited, "", "")
		}
		return Entitlement(deposited, fmt.Sprintf("%d", v.PayoutNumerator), fmt.Sprintf("%d", v.PayoutDenominator))
	default:
		return "0", nil
	}
}

// Remaining returns the unclaimed portion of an entitlement, clamped at
// zero so an over-claimed record never renders a negative balance.
func Remaining(entitled, claimed string) (string, error) {
	e, err := amount.ParseBigInt(entitled)
	if err != nil {
		return "", fmt.Errorf("payout: %w", err)
	}
	c, err := amount.ParseBigInt(claimed)
	if err != nil {
		return "", fmt.Errorf("payout: %w", err)
	}

	rem := e.Sub(e, c)
	if rem.Sign() < 0 {
		return "0", nil
	}
	return rem.String(), nil
}
