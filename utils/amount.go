package utils

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultToleranceRate is the fraction of the required amount a payment may
// fall short by and still be accepted.
var DefaultToleranceRate = decimal.RequireFromString("0.02")

// QuoteAmount converts a USD value into an asset amount at priceUSD,
// truncated toward zero to places decimal places. It never rounds up.
func QuoteAmount(usd, priceUSD decimal.Decimal, places int32) decimal.Decimal {
	if priceUSD.Sign() <= 0 {
		return decimal.Zero
	}
	q, _ := usd.QuoRem(priceUSD, places)
	return q
}

// MinAcceptable returns required - required*rate.
func MinAcceptable(required, rate decimal.Decimal) decimal.Decimal {
	return required.Sub(required.Mul(rate))
}

// WithinTolerance reports whether received covers required after applying
// the underpayment tolerance rate.
func WithinTolerance(received, required, rate decimal.Decimal) bool {
	return received.GreaterThanOrEqual(MinAcceptable(required, rate))
}

// FromBaseUnits converts an integer amount of base units (wei, lamports,
// token units) into asset units.
func FromBaseUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// FromBaseUnitsUint64 is FromBaseUnits for uint64 balances.
func FromBaseUnitsUint64(amount uint64, decimals int32) decimal.Decimal {
	return FromBaseUnits(new(big.Int).SetUint64(amount), decimals)
}

// ToBaseUnits converts an asset amount into integer base units, dropping any
// precision finer than one base unit.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}
