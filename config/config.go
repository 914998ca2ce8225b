package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"amm-swap/pkg/chain"
	"amm-swap/pkg/client"
	"amm-swap/pkg/liquidity"
	"amm-swap/pkg/parser"
	"amm-swap/pkg/stats"
	"amm-swap/pkg/swap"
	"amm-swap/pkg/types"
	"amm-swap/pkg/units"
)

// TokenConfig is one entry of the tokens list
type TokenConfig struct {
	Symbol   string  `mapstructure:"symbol"`
	Address  string  `mapstructure:"address"`
	Decimals uint8   `mapstructure:"decimals"`
	PriceUSD float64 `mapstructure:"price_usd"`
}

// PriceAPIConfig holds 1Click API settings for USD prices
type PriceAPIConfig struct {
	JWTToken string
	BaseURL  string
	Chain    string
}

// Config holds the application configuration
type Config struct {
	RPCURL        string
	PrivateKey    string
	Router        common.Address
	Factory       common.Address
	WrappedNative common.Address
	NativeSymbol  string
	Tokens        []TokenConfig
	Pairs         [][2]string

	SlippagePercent decimal.Decimal
	DeadlineMinutes int
	Debounce        time.Duration

	PoolPollInterval  time.Duration
	PricePollInterval time.Duration

	DustThreshold  decimal.Decimal
	LPEpsilon      decimal.Decimal
	FeeRate        decimal.Decimal
	LookbackBlocks uint64
	HotTVLUSD      decimal.Decimal
	HotAPRPercent  decimal.Decimal

	SessionPath string
	PriceAPI    PriceAPIConfig
	LogLevel    string
	Addr        string
}

var globalConfig *Config

// Load reads configuration from environment variables and config file.
// An explicit path overrides the $HOME/.amm-swap.yaml lookup.
func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName(".amm-swap")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME")
		viper.AddConfigPath(".")
	}

	// Set default values
	viper.SetDefault("native_symbol", "ETH")
	viper.SetDefault("slippage_percent", "0.5")
	viper.SetDefault("deadline_minutes", 20)
	viper.SetDefault("debounce", "600ms")
	viper.SetDefault("pool_poll_interval", "15s")
	viper.SetDefault("price_poll_interval", "60s")
	viper.SetDefault("dust_threshold", "1")
	viper.SetDefault("lp_epsilon", "0.001")
	viper.SetDefault("fee_rate", "0.003")
	viper.SetDefault("lookback_blocks", stats.DefaultLookbackBlocks)
	viper.SetDefault("hot_tvl_usd", "100000")
	viper.SetDefault("hot_apr_percent", "50")
	viper.SetDefault("price_api.base_url", client.DefaultBaseURL)
	viper.SetDefault("price_api.chain", "eth")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("addr", "127.0.0.1:8080")

	// Read from environment variables
	viper.SetEnvPrefix("AMM_SWAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (optional unless given explicitly)
	if err := viper.ReadInConfig(); err != nil && path != "" {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{
		RPCURL:            viper.GetString("rpc_url"),
		PrivateKey:        viper.GetString("private_key"),
		NativeSymbol:      strings.ToUpper(viper.GetString("native_symbol")),
		DeadlineMinutes:   viper.GetInt("deadline_minutes"),
		Debounce:          viper.GetDuration("debounce"),
		PoolPollInterval:  viper.GetDuration("pool_poll_interval"),
		PricePollInterval: viper.GetDuration("price_poll_interval"),
		LookbackBlocks:    viper.GetUint64("lookback_blocks"),
		SessionPath:       viper.GetString("session_path"),
		LogLevel:          viper.GetString("log_level"),
		Addr:              viper.GetString("addr"),
		PriceAPI: PriceAPIConfig{
			JWTToken: viper.GetString("price_api.jwt_token"),
			BaseURL:  viper.GetString("price_api.base_url"),
			Chain:    strings.ToLower(viper.GetString("price_api.chain")),
		},
	}

	var err error
	if cfg.Router, err = address("router"); err != nil {
		return nil, err
	}
	if cfg.Factory, err = address("factory"); err != nil {
		return nil, err
	}
	if cfg.WrappedNative, err = address("wrapped_native"); err != nil {
		return nil, err
	}

	for key, dst := range map[string]*decimal.Decimal{
		"slippage_percent": &cfg.SlippagePercent,
		"dust_threshold":   &cfg.DustThreshold,
		"lp_epsilon":       &cfg.LPEpsilon,
		"fee_rate":         &cfg.FeeRate,
		"hot_tvl_usd":      &cfg.HotTVLUSD,
		"hot_apr_percent":  &cfg.HotAPRPercent,
	} {
		if *dst, err = decimal.NewFromString(viper.GetString(key)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	if err := viper.UnmarshalKey("tokens", &cfg.Tokens); err != nil {
		return nil, fmt.Errorf("invalid tokens: %w", err)
	}
	for _, p := range viper.GetStringSlice("pairs") {
		a, b, err := parser.ParsePair(p)
		if err != nil {
			return nil, err
		}
		cfg.Pairs = append(cfg.Pairs, [2]string{a, b})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

func address(key string) (common.Address, error) {
	s := viper.GetString(key)
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", key, s)
	}
	return common.HexToAddress(s), nil
}

// Validate checks the settings every command relies on
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL not found. Please set AMM_SWAP_RPC_URL environment variable or add rpc_url to your .amm-swap.yaml config file")
	}
	if err := c.Contracts().Validate(); err != nil {
		return err
	}
	if c.SlippagePercent.IsNegative() || c.SlippagePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("slippage_percent must be in [0, 100), got %s", c.SlippagePercent)
	}
	if c.DeadlineMinutes <= 0 {
		return fmt.Errorf("deadline_minutes must be positive, got %d", c.DeadlineMinutes)
	}
	if c.LookbackBlocks == 0 {
		return fmt.Errorf("lookback_blocks must be positive")
	}
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Symbol, c.NativeSymbol) {
			continue
		}
		if t.Symbol == "" || !common.IsHexAddress(t.Address) {
			return fmt.Errorf("token %q needs a symbol and a valid address", t.Symbol)
		}
	}
	return nil
}

// Contracts returns the AMM contract addresses
func (c *Config) Contracts() chain.Contracts {
	return chain.Contracts{Router: c.Router, Factory: c.Factory, WrappedNative: c.WrappedNative}
}

// TokenList builds the session token list; the native asset is always present
func (c *Config) TokenList() (*types.TokenList, error) {
	tokens := []types.Token{{Symbol: c.NativeSymbol, Address: types.NativeAddress, Decimals: 18}}
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Symbol, c.NativeSymbol) {
			tokens[0].PriceUSD = t.PriceUSD
			continue
		}
		decimals := t.Decimals
		if decimals == 0 {
			decimals = 18
		}
		tokens = append(tokens, types.Token{
			Symbol:   strings.ToUpper(t.Symbol),
			Address:  common.HexToAddress(t.Address),
			Decimals: decimals,
			PriceUSD: t.PriceUSD,
		})
	}
	return types.NewTokenList(tokens)
}

// DecimalsReader reads a token's on-chain precision
type DecimalsReader interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// VerifyDecimals checks the configured precision of every ERC-20 token
// against the token contract. The native asset is skipped.
func VerifyDecimals(ctx context.Context, reader DecimalsReader, tokens []types.Token) error {
	for _, t := range tokens {
		if t.IsNative() {
			continue
		}
		onChain, err := reader.Decimals(ctx, t.Address)
		if err != nil {
			return fmt.Errorf("failed to read decimals of %s: %w", t.Symbol, err)
		}
		if onChain != t.Decimals {
			return fmt.Errorf("token %s: configured decimals %d, contract reports %d", t.Symbol, t.Decimals, onChain)
		}
	}
	return nil
}

// PairTokens resolves the configured pairs against a token list
func (c *Config) PairTokens(tl *types.TokenList) ([][2]types.Token, error) {
	out := make([][2]types.Token, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		a, err := tl.Lookup(p[0])
		if err != nil {
			return nil, err
		}
		b, err := tl.Lookup(p[1])
		if err != nil {
			return nil, err
		}
		out = append(out, [2]types.Token{a, b})
	}
	return out, nil
}

// SwapConfig returns executor settings
func (c *Config) SwapConfig() swap.Config {
	return swap.Config{
		SlippagePercent: c.SlippagePercent,
		Deadline:        time.Duration(c.DeadlineMinutes) * time.Minute,
	}
}

// LiquidityConfig returns reconciler settings
func (c *Config) LiquidityConfig() liquidity.Config {
	return liquidity.Config{
		DustThreshold: c.DustThreshold,
		Epsilon:       units.DecimalToBase(c.LPEpsilon, liquidity.LPDecimals),
	}
}

// StatsConfig returns aggregator settings
func (c *Config) StatsConfig() stats.Config {
	cfg := stats.DefaultConfig()
	cfg.FeeRate = c.FeeRate
	cfg.LookbackBlocks = c.LookbackBlocks
	cfg.HotTVLUSD = c.HotTVLUSD
	cfg.HotAPRPercent = c.HotAPRPercent
	return cfg
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
