package chain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amm-swap/pkg/chain"
	"amm-swap/pkg/chain/chaintest"
	"amm-swap/pkg/logging"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	pairAB = common.HexToAddress("0x0000000000000000000000000000000000000abc")
)

func newGateway(t *testing.T) (*chain.Gateway, *chaintest.Backend) {
	t.Helper()
	backend := chaintest.NewBackend()
	backend.AddPool(pairAB, tokenA, tokenB, big.NewInt(1_000_000), big.NewInt(2_000_000), big.NewInt(1_414_213))
	return chain.NewGateway(backend, chaintest.Contracts(), logging.Discard()), backend
}

func TestGateway_GetAmountsOut(t *testing.T) {
	gw, _ := newGateway(t)

	amounts, err := gw.GetAmountsOut(context.Background(), big.NewInt(1000), []common.Address{tokenA, tokenB})
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	assert.Equal(t, "1000", amounts[0].String())
	// 1000*997*2e6 / (1e6*1000 + 1000*997)
	assert.Equal(t, "1992", amounts[1].String())
}

func TestGateway_ReadClassification(t *testing.T) {
	tests := []struct {
		name string
		hook func(msg ethereum.CallMsg) ([]byte, error, bool)
		path []common.Address
		want chain.ReadStatus
	}{
		{
			name: "ok",
			path: []common.Address{tokenA, tokenB},
			want: chain.ReadOK,
		},
		{
			name: "no pool reverts",
			path: []common.Address{tokenA, common.HexToAddress("0x00000000000000000000000000000000000000cc")},
			want: chain.ReadReverted,
		},
		{
			name: "rpc down fails",
			hook: func(ethereum.CallMsg) ([]byte, error, bool) {
				return nil, errors.New("dial tcp 127.0.0.1:8545: connection refused"), true
			},
			path: []common.Address{tokenA, tokenB},
			want: chain.ReadFailed,
		},
		{
			name: "node reports revert as text",
			hook: func(ethereum.CallMsg) ([]byte, error, bool) {
				return nil, errors.New("execution reverted: UniswapV2Library: INSUFFICIENT_LIQUIDITY"), true
			},
			path: []common.Address{tokenA, tokenB},
			want: chain.ReadReverted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, backend := newGateway(t)
			backend.CallHook = tt.hook

			_, err := gw.GetAmountsOut(context.Background(), big.NewInt(1000), tt.path)
			assert.Equal(t, tt.want, chain.Classify(err))
		})
	}
}

func TestGateway_PoolReads(t *testing.T) {
	gw, backend := newGateway(t)
	ctx := context.Background()
	owner := common.HexToAddress("0x0000000000000000000000000000000000000123")
	backend.SetBalance(pairAB, owner, big.NewInt(5000))

	pair, err := gw.GetPair(ctx, tokenB, tokenA)
	require.NoError(t, err)
	assert.Equal(t, pairAB, pair)

	missing, err := gw.GetPair(ctx, tokenA, common.HexToAddress("0x00000000000000000000000000000000000000cc"))
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, missing)

	r0, r1, err := gw.GetReserves(ctx, pairAB)
	require.NoError(t, err)
	assert.Equal(t, "1000000", r0.String())
	assert.Equal(t, "2000000", r1.String())

	token0, err := gw.Token0(ctx, pairAB)
	require.NoError(t, err)
	assert.Equal(t, tokenA, token0)

	supply, err := gw.TotalSupply(ctx, pairAB)
	require.NoError(t, err)
	assert.Equal(t, "1414213", supply.String())

	lp, err := gw.BalanceOf(ctx, pairAB, owner)
	require.NoError(t, err)
	assert.Equal(t, "5000", lp.String())

	decimals, err := gw.Decimals(ctx, tokenA)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), decimals)
}

func TestGateway_FilterPairEvents(t *testing.T) {
	gw, backend := newGateway(t)
	other := common.HexToAddress("0x0000000000000000000000000000000000000def")

	backend.AddSwapLog(pairAB, 50, big.NewInt(100), big.NewInt(0), big.NewInt(0), big.NewInt(190))
	backend.AddSwapLog(pairAB, 90, big.NewInt(0), big.NewInt(300), big.NewInt(140), big.NewInt(0))
	backend.AddSwapLog(pairAB, 10, big.NewInt(7), big.NewInt(0), big.NewInt(0), big.NewInt(7)) // outside window
	backend.AddSwapLog(other, 60, big.NewInt(9), big.NewInt(0), big.NewInt(0), big.NewInt(9))  // other pair
	backend.AddMintLog(pairAB, 70, big.NewInt(1), big.NewInt(2))

	events, err := gw.FilterPairEvents(context.Background(), pairAB, 20, 100)
	require.NoError(t, err)
	require.Len(t, events.Swaps, 2)
	assert.Equal(t, "100", events.Swaps[0].Amount0In.String())
	assert.Equal(t, "300", events.Swaps[1].Amount1In.String())
	assert.Equal(t, uint64(90), events.Swaps[1].BlockNumber)
	assert.Equal(t, 1, events.Mints)
	assert.Equal(t, 0, events.Burns)
}

func TestGateway_SwapCallsCarryValueOnlyForNativeIn(t *testing.T) {
	gw, _ := newGateway(t)
	to := common.HexToAddress("0x0000000000000000000000000000000000000123")
	path := []common.Address{chaintest.WETHAddr, tokenB}
	deadline := big.NewInt(1_700_000_000)

	nativeIn, err := gw.SwapExactETHForTokensCall(big.NewInt(1), big.NewInt(0), path, to, deadline)
	require.NoError(t, err)
	assert.Equal(t, chaintest.RouterAddr, nativeIn.To)
	assert.Equal(t, "1", nativeIn.Value.String())

	name, args, err := chaintest.DecodeCall(nativeIn.Data)
	require.NoError(t, err)
	assert.Equal(t, "swapExactETHForTokens", name)
	assert.Equal(t, path, args[1])

	tokenIn, err := gw.SwapExactTokensForTokensCall(big.NewInt(1), big.NewInt(0), []common.Address{tokenA, tokenB}, to, deadline)
	require.NoError(t, err)
	assert.Equal(t, 0, tokenIn.Value.Sign())
}
