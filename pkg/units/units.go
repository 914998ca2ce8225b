// Package units converts between user-typed decimal strings and on-chain
// integer quantities.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyAmount   = errors.New("amount is empty")
	ErrInvalidAmount = errors.New("invalid amount format")
	ErrNonPositive   = errors.New("amount must be greater than zero")
)

// ParseDisplay parses a user-typed amount
func ParseDisplay(amount string) (decimal.Decimal, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return decimal.Zero, ErrEmptyAmount
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return d, nil
}

// ToBaseUnits truncates amount to the token precision and scales it to the
// smallest unit. Extra fractional digits are dropped, never rounded.
func ToBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	d, err := ParseDisplay(amount)
	if err != nil {
		return nil, err
	}
	return DecimalToBase(d, decimals), nil
}

// PositiveBaseUnits is ToBaseUnits that also rejects zero and negatives
func PositiveBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	v, err := ToBaseUnits(amount, decimals)
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, ErrNonPositive
	}
	return v, nil
}

// DecimalToBase truncates d to decimals places and shifts it to an integer
func DecimalToBase(d decimal.Decimal, decimals uint8) *big.Int {
	return d.Truncate(int32(decimals)).Shift(int32(decimals)).BigInt()
}

// FromBaseUnits renders a smallest-unit quantity in display units
func FromBaseUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return ""
	}
	return BaseToDecimal(v, decimals).String()
}

// BaseToDecimal scales a smallest-unit quantity down by decimals
func BaseToDecimal(v *big.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}

// IsBlankOrNonPositive reports whether a typed amount should clear its counterpart
func IsBlankOrNonPositive(amount string) bool {
	d, err := ParseDisplay(amount)
	if err != nil {
		return true
	}
	return d.Sign() <= 0
}

// USDValue values a smallest-unit quantity at price
func USDValue(v *big.Int, decimals uint8, price float64) decimal.Decimal {
	return BaseToDecimal(v, decimals).Mul(decimal.NewFromFloat(price))
}

// ApplySlippage returns amount × (1 − percent/100), truncated
func ApplySlippage(amount *big.Int, percent decimal.Decimal) *big.Int {
	keep := decimal.NewFromInt(1).Sub(percent.Div(decimal.NewFromInt(100)))
	if keep.Sign() <= 0 {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(amount, 0).Mul(keep).BigInt()
}
