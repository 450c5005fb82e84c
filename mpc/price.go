package mpc

import (
	"errors"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// PriceScale is the fixed-point factor owners apply to prices before sealing.
const PriceScale = 1_000_000

const priceExp = 6

var (
	ErrNegativePrice  = errors.New("mpc: price must not be negative")
	ErrPricePrecision = errors.New("mpc: price has more than 6 decimal places")
	ErrPriceOverflow  = errors.New("mpc: value does not fit in 64 bits")
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ScalePrice converts a decimal price, in currency per token, into the circuit's fixed-point form.
func ScalePrice(price decimal.Decimal) (uint64, error) {
	if price.IsNegative() {
		return 0, ErrNegativePrice
	}

	scaled := price.Shift(priceExp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrPricePrecision
	}
	if scaled.GreaterThan(maxUint64) {
		return 0, ErrPriceOverflow
	}
	return scaled.BigInt().Uint64(), nil
}

// UnscalePrice converts a fixed-point price back to its decimal form.
func UnscalePrice(price uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(price), -priceExp)
}

// Notional returns floor(fill price * fill quantity) in currency units for a matched result,
// which is the fill amount a buyer settles. A result that did not match has zero notional.
func Notional(r MatchResult) (uint64, error) {
	if !r.Matched {
		return 0, nil
	}

	qty := decimal.NewFromBigInt(new(big.Int).SetUint64(r.FillQuantity), 0)
	amount := UnscalePrice(r.FillPrice).Mul(qty).Floor()
	if amount.GreaterThan(maxUint64) {
		return 0, ErrPriceOverflow
	}
	return amount.BigInt().Uint64(), nil
}
