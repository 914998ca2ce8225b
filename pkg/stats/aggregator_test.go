package stats

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amm-swap/pkg/chain"
	"amm-swap/pkg/chain/chaintest"
	"amm-swap/pkg/logging"
	"amm-swap/pkg/metrics"
	"amm-swap/pkg/types"
)

var (
	usdc = types.Token{Symbol: "USDC", Address: common.HexToAddress("0x00000000000000000000000000000000000000aa"), Decimals: 6}
	tkn  = types.Token{Symbol: "TKN", Address: common.HexToAddress("0x00000000000000000000000000000000000000bb"), Decimals: 18}
	pair = common.HexToAddress("0x0000000000000000000000000000000000000abc")
	user = common.HexToAddress("0x0000000000000000000000000000000000000123")
)

type priceMap map[string]float64

func (p priceMap) PriceUSD(t types.Token) (float64, bool) {
	v, ok := p[t.Symbol]
	return v, ok
}

func scaled(n int64, decimals int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil))
}

func newAggregator(t *testing.T, cfg Config) (*Aggregator, *chaintest.Backend, *metrics.Metrics) {
	t.Helper()
	backend := chaintest.NewBackend()
	backend.AddPool(pair, usdc.Address, tkn.Address, scaled(100_000, 6), scaled(50_000, 18), scaled(1_000, 18))
	backend.SetBalance(pair, user, scaled(250, 18))

	// Window with lookback 50 at head 100 is [51, 100].
	backend.AddSwapLog(pair, 60, scaled(1_000, 6), big.NewInt(0), big.NewInt(0), scaled(490, 18))
	backend.AddSwapLog(pair, 95, big.NewInt(0), scaled(500, 18), scaled(990, 6), big.NewInt(0))
	backend.AddSwapLog(pair, 10, scaled(9_999, 6), big.NewInt(0), big.NewInt(0), scaled(4_000, 18))
	backend.AddMintLog(pair, 70, scaled(1, 6), scaled(1, 18))

	m := metrics.Noop()
	gw := chain.NewGateway(backend, chaintest.Contracts(), logging.Discard())
	prices := priceMap{"USDC": 1, "TKN": 2}
	return NewAggregator(gw, prices, chaintest.WETHAddr, cfg, m, logging.Discard()), backend, m
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LookbackBlocks = 50
	return cfg
}

func TestSnapshot_TVLVolumeAPR(t *testing.T) {
	agg, _, m := newAggregator(t, testConfig())

	s := agg.Snapshot(context.Background(), usdc, tkn, common.Address{})
	require.False(t, s.Degraded)
	assert.True(t, s.Exists)
	assert.Equal(t, "200000", s.TVL.String())
	assert.Equal(t, "2000", s.Volume.String())
	assert.Equal(t, "1.095", s.APR.String())
	assert.True(t, s.IsHot)
	assert.Equal(t, 2, s.Swaps)
	assert.Equal(t, 1, s.Mints)
	assert.Equal(t, uint64(51), s.FromBlock)
	assert.Equal(t, uint64(100), s.ToBlock)
	assert.Nil(t, s.UserLP)

	assert.Equal(t, 200000.0, testutil.ToFloat64(m.PoolTVL.WithLabelValues("USDC/TKN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolSnapshotsTotal.WithLabelValues("ok")))
}

func TestSnapshot_WindowHoldsLookbackBlocks(t *testing.T) {
	agg, backend, _ := newAggregator(t, testConfig())
	backend.AddSwapLog(pair, 50, scaled(1, 6), big.NewInt(0), big.NewInt(0), scaled(1, 18))
	backend.AddSwapLog(pair, 51, scaled(1, 6), big.NewInt(0), big.NewInt(0), scaled(1, 18))

	s := agg.Snapshot(context.Background(), usdc, tkn, common.Address{})
	require.False(t, s.Degraded)
	assert.Equal(t, uint64(50), s.ToBlock-s.FromBlock+1)
	assert.Equal(t, 3, s.Swaps, "block 51 is the oldest block in the window, block 50 is not")
}

func TestSnapshot_ShortChainStartsAtGenesis(t *testing.T) {
	cfg := testConfig()
	cfg.LookbackBlocks = 500
	agg, _, _ := newAggregator(t, cfg)

	s := agg.Snapshot(context.Background(), usdc, tkn, common.Address{})
	assert.Equal(t, uint64(0), s.FromBlock)
	assert.Equal(t, 3, s.Swaps)
}

func TestStats_JSONQuantitiesAreStrings(t *testing.T) {
	big24 := scaled(1, 24)
	big24.Add(big24, big.NewInt(7))
	in := Stats{
		Pair:     pair,
		TokenA:   "USDC",
		ReserveA: big24,
		ReserveB: scaled(5, 18),
		UserLP:   scaled(3, 20),
		TVL:      decimal.RequireFromString("1234.5"),
		Swaps:    4,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "1000000000000000000000007", raw["reserve_a"])
	assert.Equal(t, "5000000000000000000", raw["reserve_b"])
	assert.Equal(t, "300000000000000000000", raw["user_lp"])
	assert.Equal(t, "USDC", raw["token_a"])

	var out Stats
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 0, in.ReserveA.Cmp(out.ReserveA))
	assert.Equal(t, 0, in.ReserveB.Cmp(out.ReserveB))
	assert.Equal(t, 0, in.UserLP.Cmp(out.UserLP))
	assert.True(t, in.TVL.Equal(out.TVL))
	assert.Equal(t, 4, out.Swaps)
	assert.Equal(t, pair, out.Pair)
}

func TestStats_JSONOmitsMissingUserLP(t *testing.T) {
	data, err := json.Marshal(zeroStats(usdc, tkn))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "user_lp")
	assert.Contains(t, string(data), `"reserve_a":"0"`)

	var out Stats
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Nil(t, out.UserLP)

	err = json.Unmarshal([]byte(`{"reserve_a":"12x"}`), &out)
	require.Error(t, err)
}

func TestSnapshot_LegsFollowToken0(t *testing.T) {
	agg, _, _ := newAggregator(t, testConfig())

	// tkn is token1 on chain; asking in reverse order must not swap prices.
	s := agg.Snapshot(context.Background(), tkn, usdc, common.Address{})
	assert.Equal(t, scaled(50_000, 18).String(), s.ReserveA.String())
	assert.Equal(t, "2000", s.Volume.String())
	assert.Equal(t, "200000", s.TVL.String())
}

func TestSnapshot_UserShare(t *testing.T) {
	agg, _, _ := newAggregator(t, testConfig())

	s := agg.Snapshot(context.Background(), usdc, tkn, user)
	require.NotNil(t, s.UserLP)
	assert.Equal(t, scaled(250, 18).String(), s.UserLP.String())
	assert.Equal(t, "25", s.UserShare.String())
}

func TestSnapshot_DegradesOnRPCFailure(t *testing.T) {
	tests := []struct {
		name  string
		fault func(b *chaintest.Backend)
	}{
		{"logs", func(b *chaintest.Backend) { b.FilterErr = errors.New("query returned more than 10000 results") }},
		{"reads", func(b *chaintest.Backend) {
			b.CallHook = func(ethereum.CallMsg) ([]byte, error, bool) {
				return nil, errors.New("connection reset by peer"), true
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, backend, m := newAggregator(t, testConfig())
			tt.fault(backend)

			s := agg.Snapshot(context.Background(), usdc, tkn, user)
			assert.True(t, s.Degraded)
			assert.True(t, s.TVL.IsZero())
			assert.True(t, s.APR.IsZero())
			assert.False(t, s.IsHot)
			assert.Zero(t, s.ReserveA.Sign())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolSnapshotsTotal.WithLabelValues("degraded")))
		})
	}
}

func TestSnapshot_MissingPoolIsNotDegraded(t *testing.T) {
	agg, _, _ := newAggregator(t, testConfig())
	orphan := types.Token{Symbol: "ORPH", Address: common.HexToAddress("0x00000000000000000000000000000000000000cc"), Decimals: 18}

	s := agg.Snapshot(context.Background(), usdc, orphan, user)
	assert.False(t, s.Degraded)
	assert.False(t, s.Exists)
	assert.True(t, s.TVL.IsZero())
}

func TestAPR(t *testing.T) {
	tests := []struct {
		name   string
		volume string
		tvl    string
		want   string
	}{
		{"zero tvl", "1000", "0", "0"},
		{"typical", "10000", "1000000", "1.095"},
		{"no volume", "0", "500", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := APR(decimal.RequireFromString(tt.volume), decimal.RequireFromString("0.003"), decimal.RequireFromString(tt.tvl))
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestSnapshot_HotByAPR(t *testing.T) {
	cfg := testConfig()
	cfg.HotTVLUSD = decimal.NewFromInt(1_000_000)
	cfg.HotAPRPercent = decimal.NewFromInt(1)
	agg, _, _ := newAggregator(t, cfg)

	s := agg.Snapshot(context.Background(), usdc, tkn, common.Address{})
	assert.True(t, s.IsHot, "APR 1.095 exceeds a 1 percent threshold")

	cfg.HotAPRPercent = decimal.NewFromInt(2)
	agg, _, _ = newAggregator(t, cfg)
	s = agg.Snapshot(context.Background(), usdc, tkn, common.Address{})
	assert.False(t, s.IsHot)
}

func TestList_PreservesOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 2
	agg, _, _ := newAggregator(t, cfg)
	orphan := types.Token{Symbol: "ORPH", Address: common.HexToAddress("0x00000000000000000000000000000000000000cc"), Decimals: 18}

	out := agg.List(context.Background(), [][2]types.Token{{usdc, tkn}, {usdc, orphan}, {tkn, usdc}}, common.Address{})
	require.Len(t, out, 3)
	assert.Equal(t, "USDC", out[0].TokenA)
	assert.True(t, out[0].Exists)
	assert.False(t, out[1].Exists)
	assert.Equal(t, "TKN", out[2].TokenA)
}
