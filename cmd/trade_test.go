package cmd

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amm-swap/pkg/form"
	"amm-swap/pkg/types"
)

func TestParseTradeInput(t *testing.T) {
	tests := []struct {
		line    string
		verb    string
		args    []string
		wantErr bool
	}{
		{line: "", verb: ""},
		{line: "pay 1.5", verb: "pay", args: []string{"1.5"}},
		{line: "PAY", verb: "pay", args: []string{}},
		{line: "receive 10", verb: "receive", args: []string{"10"}},
		{line: "tokens eth usdc", verb: "tokens", args: []string{"eth", "usdc"}},
		{line: "flip", verb: "flip", args: []string{}},
		{line: "quit", verb: "quit", args: []string{}},
		{line: "pay 1 2", wantErr: true},
		{line: "tokens eth", wantErr: true},
		{line: "flip now", wantErr: true},
		{line: "buy 1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			in, err := parseTradeInput(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.verb, in.verb)
			if tt.verb != "" {
				assert.Equal(t, tt.args, in.args)
			}
		})
	}
}

func TestTradeRequest(t *testing.T) {
	usdc := types.Token{Symbol: "USDC", Address: common.HexToAddress("0x0a"), Decimals: 6}
	dai := types.Token{Symbol: "DAI", Address: common.HexToAddress("0x0b"), Decimals: 18}

	t.Run("pay side is exact in", func(t *testing.T) {
		req, err := tradeRequest(form.State{PayToken: usdc, ReceiveToken: dai, PayAmount: "1.5", ReceiveAmount: "1.49", Active: form.SidePay})
		require.NoError(t, err)
		assert.Equal(t, types.ExactIn, req.direction)
		assert.Equal(t, big.NewInt(1_500_000), req.amount)
	})

	t.Run("receive side is exact out", func(t *testing.T) {
		req, err := tradeRequest(form.State{PayToken: usdc, ReceiveToken: dai, PayAmount: "2.1", ReceiveAmount: "2", Active: form.SideReceive})
		require.NoError(t, err)
		assert.Equal(t, types.ExactOut, req.direction)
		want, _ := new(big.Int).SetString("2000000000000000000", 10)
		assert.Equal(t, want, req.amount)
	})

	t.Run("blank amount", func(t *testing.T) {
		_, err := tradeRequest(form.State{PayToken: usdc, ReceiveToken: dai, Active: form.SidePay})
		assert.Error(t, err)
	})

	t.Run("unavailable quote", func(t *testing.T) {
		_, err := tradeRequest(form.State{PayToken: usdc, ReceiveToken: dai, PayAmount: "1", Active: form.SidePay, QuoteUnavailable: true})
		assert.Error(t, err)
	})

	t.Run("same token", func(t *testing.T) {
		_, err := tradeRequest(form.State{PayToken: usdc, ReceiveToken: usdc, PayAmount: "1", Active: form.SidePay})
		assert.Error(t, err)
	})
}
