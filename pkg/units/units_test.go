package units

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	testCases := []struct {
		name     string
		amount   string
		decimals uint8
		want     string
		wantErr  error
	}{
		{name: "whole number", amount: "1", decimals: 18, want: "1000000000000000000"},
		{name: "fraction", amount: "1.5", decimals: 6, want: "1500000"},
		{name: "truncates extra digits", amount: "0.1234567", decimals: 6, want: "123456"},
		{name: "does not round up", amount: "0.9999999", decimals: 6, want: "999999"},
		{name: "zero decimals", amount: "42.99", decimals: 0, want: "42"},
		{name: "whitespace", amount: "  2 ", decimals: 2, want: "200"},
		{name: "empty", amount: "", decimals: 18, wantErr: ErrEmptyAmount},
		{name: "garbage", amount: "1.2.3", decimals: 18, wantErr: ErrInvalidAmount},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ToBaseUnits(tc.amount, tc.decimals)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestPositiveBaseUnits(t *testing.T) {
	_, err := PositiveBaseUnits("0", 18)
	assert.ErrorIs(t, err, ErrNonPositive)

	// below the token precision truncates to zero
	_, err = PositiveBaseUnits("0.0000001", 6)
	assert.ErrorIs(t, err, ErrNonPositive)

	v, err := PositiveBaseUnits("0.000001", 6)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int64())
}

func TestFromBaseUnits(t *testing.T) {
	assert.Equal(t, "1.5", FromBaseUnits(big.NewInt(1_500_000), 6))
	assert.Equal(t, "0.000001", FromBaseUnits(big.NewInt(1), 6))
	assert.Equal(t, "0", FromBaseUnits(big.NewInt(0), 18))
	assert.Equal(t, "", FromBaseUnits(nil, 18))
}

func TestIsBlankOrNonPositive(t *testing.T) {
	assert.True(t, IsBlankOrNonPositive(""))
	assert.True(t, IsBlankOrNonPositive("0"))
	assert.True(t, IsBlankOrNonPositive("-1"))
	assert.True(t, IsBlankOrNonPositive("abc"))
	assert.False(t, IsBlankOrNonPositive("0.01"))
}

func TestApplySlippage(t *testing.T) {
	got := ApplySlippage(big.NewInt(1_000_000), decimal.RequireFromString("0.5"))
	assert.Equal(t, int64(995_000), got.Int64())

	got = ApplySlippage(big.NewInt(999), decimal.RequireFromString("0.5"))
	assert.Equal(t, int64(994), got.Int64(), "truncated, not rounded")

	got = ApplySlippage(big.NewInt(1_000), decimal.NewFromInt(100))
	assert.Equal(t, int64(0), got.Int64())
}

func TestUSDValue(t *testing.T) {
	v := USDValue(big.NewInt(2_500_000), 6, 2.0)
	assert.True(t, v.Equal(decimal.NewFromInt(5)), v.String())
}
