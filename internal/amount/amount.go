// Package amount provides shared parsing, formatting, and arithmetic for
// protocol-token amounts.
//
// The TOSS token uses 6 decimal places. All amounts are stored as big.Int in
// the smallest unit (1 TOSS = 1,000,000 units). API surfaces exchange decimal
// strings; math happens on the smallest-unit representation only.
package amount

import (
	"math/big"
	"strings"
)

const Decimals = 6

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation (1500000). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 6 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly 6 decimal places (e.g. "1.500000").
func Format(v *big.Int) string {
	if v == nil {
		return "0.000000"
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// MulBPS multiplies a smallest-unit amount by a basis-point ratio
// (10000 = 100%), flooring the result. The result never exceeds v for
// bps <= 10000 and is never negative for non-negative inputs.
func MulBPS(v *big.Int, bps int64) *big.Int {
	if v == nil || v.Sign() <= 0 || bps <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(v, big.NewInt(bps))
	return out.Div(out, big.NewInt(10000))
}

// MulPct multiplies a smallest-unit amount by a whole-percent ratio
// (100 = 100%), flooring the result.
func MulPct(v *big.Int, pct int64) *big.Int {
	if v == nil || v.Sign() <= 0 || pct <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}

// Min returns the smaller of a and b (a copy, safe to mutate).
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
