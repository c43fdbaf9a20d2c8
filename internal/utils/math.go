package utils

import (
	"fmt"
	"math/big"
)

// bpsDenominator is the basis-point scale: 10000 bps = 100%.
var bpsDenominator = big.NewInt(10000)

// ParseAmount parses a non-negative decimal string in the token's smallest
// unit. Amounts cross the wire as strings to avoid JSON float drift.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", s)
	}
	return amount, nil
}

// ApplyBps computes amount × bps / 10000 with integer truncation. The
// settlement unit never sees fractional values, so there is no rounding
// drift to reconcile.
func ApplyBps(amount *big.Int, bps int64) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(bps))
	return fee.Quo(fee, bpsDenominator)
}
