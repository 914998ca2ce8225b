package quote_test

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amm-swap/pkg/chain"
	"amm-swap/pkg/chain/chaintest"
	"amm-swap/pkg/logging"
	"amm-swap/pkg/metrics"
	"amm-swap/pkg/quote"
	"amm-swap/pkg/types"
)

var (
	usdc   = types.Token{Symbol: "USDC", Address: common.HexToAddress("0x00000000000000000000000000000000000000aa"), Decimals: 18}
	dai    = types.Token{Symbol: "DAI", Address: common.HexToAddress("0x00000000000000000000000000000000000000bb"), Decimals: 18}
	native = types.Token{Symbol: "ETH", Address: types.NativeAddress, Decimals: 18}
	weth   = types.Token{Symbol: "WETH", Address: chaintest.WETHAddr, Decimals: 18}
	pairUD = common.HexToAddress("0x0000000000000000000000000000000000000abc")
	pairWD = common.HexToAddress("0x0000000000000000000000000000000000000def")
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newEngine(t *testing.T) (*quote.Engine, *chaintest.Backend, *metrics.Metrics) {
	t.Helper()
	backend := chaintest.NewBackend()
	backend.AddPool(pairUD, usdc.Address, dai.Address, e18(10_000), e18(9_000), e18(9_486))
	backend.AddPool(pairWD, chaintest.WETHAddr, dai.Address, e18(100), e18(300_000), e18(5_477))

	m := metrics.Noop()
	gw := chain.NewGateway(backend, chaintest.Contracts(), logging.Discard())
	return quote.NewEngine(gw, m, logging.Discard()), backend, m
}

func TestEngine_RoundTripWithinOneUnit(t *testing.T) {
	engine, _, _ := newEngine(t)
	ctx := context.Background()

	paths := []types.Path{
		types.NewPath(usdc, dai, chaintest.WETHAddr),
		types.NewPath(dai, usdc, chaintest.WETHAddr),
	}
	amounts := []*big.Int{big.NewInt(1), big.NewInt(1000), big.NewInt(123_456_789), e18(1), e18(250)}

	for _, path := range paths {
		for _, x := range amounts {
			in := engine.QuoteIn(ctx, x, path)
			require.True(t, in.OK(), "quoteIn %s %s", path, x)

			out := engine.QuoteOut(ctx, in.Amount, path)
			require.True(t, out.OK(), "quoteOut %s %s", path, in.Amount)

			diff := new(big.Int).Sub(out.Amount, x)
			assert.LessOrEqual(t, new(big.Int).Abs(diff).Int64(), int64(1), "path %s x=%s got %s", path, x, out.Amount)
		}
	}
}

func TestEngine_NativeIsAliasedToWrapped(t *testing.T) {
	engine, backend, _ := newEngine(t)

	var seen []common.Address
	backend.CallHook = func(msg ethereum.CallMsg) ([]byte, error, bool) {
		_, args, err := chaintest.DecodeCall(msg.Data)
		if err == nil && len(args) == 2 {
			seen = args[1].([]common.Address)
		}
		return nil, nil, false
	}

	res := engine.QuoteOut(context.Background(), big.NewInt(1), types.NewPath(native, dai, chaintest.WETHAddr))
	require.Equal(t, quote.StatusOK, res.Status)
	assert.Equal(t, []common.Address{chaintest.WETHAddr, dai.Address}, seen)
	assert.NotContains(t, seen, types.NativeAddress)
}

func TestEngine_WrapIsPassThrough(t *testing.T) {
	engine, backend, m := newEngine(t)

	var calls atomic.Int32
	backend.CallHook = func(ethereum.CallMsg) ([]byte, error, bool) {
		calls.Add(1)
		return nil, nil, false
	}

	amount := e18(3)
	for _, path := range []types.Path{
		types.NewPath(native, weth, chaintest.WETHAddr),
		types.NewPath(weth, native, chaintest.WETHAddr),
	} {
		out := engine.QuoteOut(context.Background(), amount, path)
		require.True(t, out.OK())
		assert.Equal(t, 0, out.Amount.Cmp(amount))
		assert.NotSame(t, amount, out.Amount)

		in := engine.QuoteIn(context.Background(), amount, path)
		assert.Equal(t, 0, in.Amount.Cmp(amount))
	}

	assert.Zero(t, calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QuotesTotal.WithLabelValues("exact_in", "passthrough")))
}

func TestEngine_DegradedResults(t *testing.T) {
	orphan := types.Token{Symbol: "ORPH", Address: common.HexToAddress("0x00000000000000000000000000000000000000cc"), Decimals: 18}

	tests := []struct {
		name   string
		hook   func(ethereum.CallMsg) ([]byte, error, bool)
		path   types.Path
		amount *big.Int
		want   quote.Status
	}{
		{
			name:   "no pool",
			path:   types.NewPath(usdc, orphan, chaintest.WETHAddr),
			amount: big.NewInt(1000),
			want:   quote.StatusUnavailable,
		},
		{
			name: "rpc failure",
			hook: func(ethereum.CallMsg) ([]byte, error, bool) {
				return nil, errors.New("503 service unavailable"), true
			},
			path:   types.NewPath(usdc, dai, chaintest.WETHAddr),
			amount: big.NewInt(1000),
			want:   quote.StatusFailed,
		},
		{
			name:   "zero amount",
			path:   types.NewPath(usdc, dai, chaintest.WETHAddr),
			amount: big.NewInt(0),
			want:   quote.StatusUnavailable,
		},
		{
			name:   "nil amount",
			path:   types.NewPath(usdc, dai, chaintest.WETHAddr),
			amount: nil,
			want:   quote.StatusUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, backend, _ := newEngine(t)
			backend.CallHook = tt.hook

			res := engine.QuoteOut(context.Background(), tt.amount, tt.path)
			assert.Equal(t, tt.want, res.Status)
			assert.False(t, res.OK())
			require.NotNil(t, res.Amount)
			assert.Zero(t, res.Amount.Sign())
		})
	}
}

func TestEngine_ExactOutBeyondReservesIsUnavailable(t *testing.T) {
	engine, _, _ := newEngine(t)

	res := engine.QuoteIn(context.Background(), e18(9_000), types.NewPath(usdc, dai, chaintest.WETHAddr))
	assert.Equal(t, quote.StatusUnavailable, res.Status)
}

func TestEngine_QuoteFillsDirection(t *testing.T) {
	engine, _, _ := newEngine(t)
	path := types.NewPath(usdc, dai, chaintest.WETHAddr)

	q, res := engine.Quote(context.Background(), types.ExactOut, e18(1), path)
	require.True(t, res.OK())
	assert.Equal(t, types.ExactOut, q.Direction)
	assert.Equal(t, 0, q.AmountOut.Cmp(e18(1)))
	assert.True(t, q.AmountIn.Cmp(e18(1)) > 0)
	assert.True(t, q.Available())
}
