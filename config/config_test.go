package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amm-swap/pkg/chain"
	"amm-swap/pkg/chain/chaintest"
	"amm-swap/pkg/logging"
	"amm-swap/pkg/types"
)

const sampleConfig = `
rpc_url: http://127.0.0.1:8545
router: 0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D
factory: 0x5C69bEe5ac3b6B9C4F9eE8d3D3F9c5dB9B15f1dE
wrapped_native: 0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2
slippage_percent: 1
debounce: 250ms
tokens:
  - symbol: usdc
    address: 0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48
    decimals: 6
    price_usd: 1
  - symbol: WETH
    address: 0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2
  - symbol: ETH
    price_usd: 3000
pairs:
  - ETH/USDC
  - weth-usdc
price_api:
  jwt_token: abc
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	path := filepath.Join(t.TempDir(), "amm-swap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8545", cfg.RPCURL)
	assert.Equal(t, common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"), cfg.Router)
	assert.Equal(t, "1", cfg.SlippagePercent.String())
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 20, cfg.DeadlineMinutes)
	assert.Equal(t, uint64(7200), cfg.LookbackBlocks)
	assert.Equal(t, "0.003", cfg.FeeRate.String())
	assert.Equal(t, "abc", cfg.PriceAPI.JWTToken)
	assert.Equal(t, "eth", cfg.PriceAPI.Chain)
	assert.Equal(t, [][2]string{{"ETH", "USDC"}, {"WETH", "USDC"}}, cfg.Pairs)
	assert.Same(t, cfg, Get())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("AMM_SWAP_DEADLINE_MINUTES", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.DeadlineMinutes)
	assert.Equal(t, 5*time.Minute, cfg.SwapConfig().Deadline)
}

func TestLoad_Validation(t *testing.T) {
	// Quoted so YAML keeps short hex literals as strings.
	addrs := "router: '0x0000000000000000000000000000000000000001'\n" +
		"factory: '0x0000000000000000000000000000000000000002'\n" +
		"wrapped_native: '0x0000000000000000000000000000000000000003'\n"
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing rpc", addrs, "RPC URL not found"},
		{"missing router", "rpc_url: http://x\n", "must be set"},
		{"bad address", "rpc_url: http://x\nrouter: nothex\n", "invalid router address"},
		{"bad slippage", "rpc_url: http://x\n" + addrs + "slippage_percent: 150\n", "slippage_percent"},
		{"bad pair", "rpc_url: http://x\n" + addrs + "pairs: [ETH]\n", "invalid pair"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_TokenListAddsNative(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	tl, err := cfg.TokenList()
	require.NoError(t, err)

	eth, err := tl.Lookup("eth")
	require.NoError(t, err)
	assert.True(t, eth.IsNative())
	assert.Equal(t, 3000.0, eth.PriceUSD)

	usdc, err := tl.Lookup("USDC")
	require.NoError(t, err)
	assert.Equal(t, uint8(6), usdc.Decimals)

	weth, err := tl.Lookup("WETH")
	require.NoError(t, err)
	assert.Equal(t, uint8(18), weth.Decimals)

	pairs, err := cfg.PairTokens(tl)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, types.NativeAddress, pairs[0][0].Address)
	assert.Equal(t, "USDC", pairs[1][1].Symbol)
}

func TestConfig_DerivedSettings(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	lc := cfg.LiquidityConfig()
	assert.Equal(t, "1000000000000000", lc.Epsilon.String())
	assert.Equal(t, "1", lc.DustThreshold.String())

	sc := cfg.StatsConfig()
	assert.Equal(t, "100000", sc.HotTVLUSD.String())
	assert.Equal(t, uint64(7200), sc.LookbackBlocks)

	assert.Equal(t, cfg.WrappedNative, cfg.Contracts().WrappedNative)
}

func TestVerifyDecimals(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	tl, err := cfg.TokenList()
	require.NoError(t, err)
	usdc, err := tl.Lookup("USDC")
	require.NoError(t, err)

	backend := chaintest.NewBackend()
	gw := chain.NewGateway(backend, cfg.Contracts(), logging.Discard())

	backend.SetDecimals(usdc.Address, 6)
	require.NoError(t, VerifyDecimals(context.Background(), gw, tl.All()))

	backend.SetDecimals(usdc.Address, 18)
	err = VerifyDecimals(context.Background(), gw, tl.All())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token USDC: configured decimals 6, contract reports 18")
}

func TestVerifyDecimals_ReadFailure(t *testing.T) {
	backend := chaintest.NewBackend()
	backend.CallHook = func(ethereum.CallMsg) ([]byte, error, bool) {
		return nil, errors.New("connection refused"), true
	}
	gw := chain.NewGateway(backend, chaintest.Contracts(), logging.Discard())

	tokens := []types.Token{
		{Symbol: "ETH", Address: types.NativeAddress, Decimals: 18},
		{Symbol: "DAI", Address: common.HexToAddress("0x0d"), Decimals: 18},
	}
	err := VerifyDecimals(context.Background(), gw, tokens)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read decimals of DAI")

	require.NoError(t, VerifyDecimals(context.Background(), gw, tokens[:1]), "native asset has no contract to read")
}
