package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"amm-swap/config"
	"amm-swap/pkg/chain"
	"amm-swap/pkg/client"
	"amm-swap/pkg/liquidity"
	"amm-swap/pkg/logging"
	"amm-swap/pkg/metrics"
	"amm-swap/pkg/quote"
	"amm-swap/pkg/scheduler"
	"amm-swap/pkg/session"
	"amm-swap/pkg/stats"
	"amm-swap/pkg/swap"
	"amm-swap/pkg/types"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "amm-swap",
	Short: "A CLI for swaps and liquidity on a constant-product AMM",
	Long: `amm-swap quotes, swaps and manages liquidity on a Uniswap V2 style
router. Amounts are typed in display units; quotes come straight from the
router contract.

Examples:
  amm-swap connect
  amm-swap quote 1 ETH to USDC
  amm-swap swap USDC for 0.5 ETH
  amm-swap trade ETH USDC
  amm-swap pool stats ETH/USDC
  amm-swap serve`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolP("yes", "y", false, "Skip confirmation prompts")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $HOME/.amm-swap.yaml)")
}

// app holds everything a command needs, built once per invocation
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	eth       *ethclient.Client
	chainID   *big.Int
	gateway   *chain.Gateway
	tx        *chain.Transactor
	session   *session.Store
	tokens    *types.TokenList
	pairs     [][2]types.Token
	oneClick  *client.OneClickClient
	prices    *client.PriceBook
	feed      *client.PriceFeed
	quotes    *quote.Engine
	executor  *swap.Executor
	liquidity *liquidity.Reconciler
	stats     *stats.Aggregator
	scheduler *scheduler.Scheduler
}

// newApp loads configuration and dials the node. The wallet is connected
// silently only when the previous session ended connected.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	logger := logging.NewLogger(level)
	slog.SetDefault(logger)

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	tokens, err := cfg.TokenList()
	if err != nil {
		eth.Close()
		return nil, err
	}
	pairs, err := cfg.PairTokens(tokens)
	if err != nil {
		eth.Close()
		return nil, err
	}

	store, err := session.NewStore(cfg.SessionPath)
	if err != nil {
		eth.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	gateway := chain.NewGateway(eth, cfg.Contracts(), logger)
	if err := config.VerifyDecimals(ctx, gateway, tokens.All()); err != nil {
		eth.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		eth:      eth,
		chainID:  chainID,
		gateway:  gateway,
		session:  store,
		tokens:   tokens,
		pairs:    pairs,
		prices:   client.NewPriceBook(),
	}

	var signer chain.Signer
	if store.WasConnected() && cfg.PrivateKey != "" {
		s, err := a.signer(cmd)
		if err != nil {
			logger.Warn("saved session could not reconnect", "err", err)
		} else {
			signer = s
		}
	}
	a.tx = chain.NewTransactor(gateway, signer, logger)

	a.oneClick = client.NewOneClickClient(cfg.PriceAPI.JWTToken, cfg.PriceAPI.BaseURL)
	a.feed = client.NewPriceFeed(a.oneClick, cfg.PriceAPI.Chain, a.prices, logger)
	a.feed.Alias(cfg.NativeSymbol, "W"+cfg.NativeSymbol)

	a.quotes = quote.NewEngine(gateway, m, logger)
	a.executor = swap.NewExecutor(a.tx, cfg.SwapConfig(), m, logger)
	a.liquidity = liquidity.NewReconciler(gateway, a.executor, cfg.WrappedNative, cfg.LiquidityConfig(), logger)
	a.stats = stats.NewAggregator(gateway, a.prices, cfg.WrappedNative, cfg.StatsConfig(), m, logger)
	a.scheduler = scheduler.New(m, logger)

	// Balances and pool views go stale after any write.
	a.executor.OnSettled(func(context.Context, swap.Action) {
		a.scheduler.TriggerKind("pool")
		a.scheduler.TriggerKind("account")
	})
	return a, nil
}

// signer wraps the configured key with a confirmation prompt
func (a *app) signer(cmd *cobra.Command) (*promptSigner, error) {
	key, err := chain.NewKeySigner(a.cfg.PrivateKey, a.chainID)
	if err != nil {
		return nil, err
	}
	yes, _ := cmd.Flags().GetBool("yes")
	return newPromptSigner(key, yes), nil
}

func (a *app) close() {
	a.scheduler.StopAll()
	a.eth.Close()
}

func (a *app) account() common.Address {
	return a.tx.Account()
}

func (a *app) requireAccount() (common.Address, error) {
	account := a.account()
	if account == (common.Address{}) {
		return account, fmt.Errorf("no wallet connected. Run 'amm-swap connect' first")
	}
	return account, nil
}

// refreshPrices is best effort: static prices from config remain as fallback
func (a *app) refreshPrices(ctx context.Context) {
	if err := a.feed.Refresh(ctx); err != nil {
		a.logger.Warn("price refresh failed", "err", err)
	}
}

// balance returns the spendable balance of a token for the account
func (a *app) balance(ctx context.Context, t types.Token, account common.Address) (*big.Int, error) {
	if t.IsNative() {
		return a.gateway.NativeBalance(ctx, account)
	}
	return a.gateway.BalanceOf(ctx, t.Address, account)
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}
