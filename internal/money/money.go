package money

import (
	"errors"
	"math"
	"math/big"
)

// All monetary amounts in this service are Colombian pesos expressed as
// int64 minor units. Arithmetic never touches float64 except at the
// percentage boundary, where values are converted to basis points first.

var (
	// ErrOverflow occurs when an operation would exceed int64 capacity.
	ErrOverflow = errors.New("money: arithmetic overflow")

	// ErrNegativeAmount occurs when a negative amount is passed to an
	// operation that requires a non-negative value.
	ErrNegativeAmount = errors.New("money: negative amount not allowed")

	// ErrInvalidPercent occurs when a percentage is outside [0, 100].
	ErrInvalidPercent = errors.New("money: percent out of range")
)

// Min returns the smaller of two amounts.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// PercentOf computes percent% of amount using half-up rounding.
// The percent may be fractional (e.g. 12.5); it is converted to basis
// points before any arithmetic so the computation stays in integers.
//
// PercentOf(15000, 20) = 3000. PercentOf(333, 10) = 33 (33.3 rounds down),
// PercentOf(335, 10) = 34 (33.5 rounds up).
func PercentOf(amount int64, percent float64) (int64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	if percent < 0 || percent > 100 {
		return 0, ErrInvalidPercent
	}
	if percent == 0 || amount == 0 {
		return 0, nil
	}
	if percent == 100 {
		return amount, nil
	}

	basisPoints := int64(math.Round(percent * 100))
	return mulBasisPoints(amount, basisPoints)
}

// mulBasisPoints computes (amount * basisPoints) / 10000 with half-up
// rounding, using big.Int for the intermediate product to avoid overflow.
func mulBasisPoints(amount, basisPoints int64) (int64, error) {
	result := new(big.Int).Mul(big.NewInt(amount), big.NewInt(basisPoints))

	// Half-up: add 5000 before dividing by 10000.
	result.Add(result, big.NewInt(5000))
	result.Div(result, big.NewInt(10000))

	if !result.IsInt64() {
		return 0, ErrOverflow
	}
	return result.Int64(), nil
}

// Sub subtracts b from a, flooring at zero. Discounts can never push an
// order total negative.
func Sub(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}
