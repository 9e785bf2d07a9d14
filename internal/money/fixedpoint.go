// internal/money/fixedpoint.go
package money

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrOverflow means a computed amount does not fit in int64 paisa.
var ErrOverflow = errors.New("amount overflows int64")

// All monetary amounts in the system are int64 paisa (NPR * 100).
// Quantities are whole shares. Intermediate products use big.Int so
// qty * price never overflows before the final narrowing.
const (
	DecimalPrecision = 2
	Scale            = 100 // paisa per rupee
)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // banker's rounding (default)
	RoundDown
	RoundUp
)

// Mul128 performs a * b in 128-bit space.
func Mul128(a, b int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
}

// Div128 performs numerator / denominator with the given rounding mode
// and narrows back to int64.
func Div128(numerator *big.Int, denominator int64, mode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := new(big.Int)
	remainder := new(big.Int)
	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch mode {
	case RoundHalfEven:
		// remainder is always non-negative after DivMod
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundDown:
		// truncation already happened
	}

	return result
}

// OrderValue returns quantity * unitPrice in paisa. Quantity is whole
// shares so no scale correction is needed on the product. Fails with
// ErrOverflow when the product does not fit in int64.
func OrderValue(quantity, unitPrice int64) (int64, error) {
	product := Mul128(quantity, unitPrice)
	if !product.IsInt64() {
		return 0, ErrOverflow
	}
	return product.Int64(), nil
}

// WeightedAvg computes the weighted-average cost after buying fillQty
// shares at fillPrice on top of oldQty shares carried at oldAvg.
func WeightedAvg(oldQty, oldAvg, fillQty, fillPrice int64) int64 {
	if oldQty == 0 {
		return fillPrice
	}

	numerator := new(big.Int).Add(Mul128(oldQty, oldAvg), Mul128(fillQty, fillPrice))
	return Div128(numerator, oldQty+fillQty, RoundHalfEven)
}

// FormatNPR renders paisa as a human-readable rupee string, e.g. 150050 -> "1500.50".
func FormatNPR(paisa int64) string {
	sign := ""
	if paisa < 0 {
		sign = "-"
		paisa = -paisa
	}
	return fmt.Sprintf("%s%d.%02d", sign, paisa/Scale, paisa%Scale)
}
