package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"amm-swap/pkg/api"
	"amm-swap/pkg/scheduler"
	"amm-swap/pkg/units"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve quotes, pool stats and metrics over HTTP",
	Long: `Run a local read-only HTTP API. Prices and pool statistics are refreshed
in the background on the configured intervals.

Endpoints:
  GET /quote?from=ETH&to=USDC&amount=1&side=pay
  GET /pools
  GET /pools/ETH/USDC
  GET /metrics
  GET /healthz

Examples:
  amm-swap serve
  amm-swap serve --addr :9090`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd); err != nil {
			printError(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.startBackground(); err != nil {
		return err
	}

	server := api.NewServer(api.Options{
		Quoter:        a.quotes,
		Pools:         a.stats,
		Tokens:        a.tokens,
		Pairs:         a.pairs,
		WrappedNative: a.cfg.WrappedNative,
		Account:       a.account,
		Gatherer:      a.registry,
		Logger:        a.logger,
	})

	addr := a.cfg.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	a.logger.Info("serving", "addr", addr, "pairs", len(a.pairs))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(addr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			_ = server.Shutdown()
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_ = server.Shutdown()
	a.scheduler.StopAll()

	<-shutdownCtx.Done()
	return nil
}

// startBackground schedules the price feed, one task per configured pool,
// and the connected account's balances
func (a *app) startBackground() error {
	if err := a.scheduler.Start("prices", "price", a.cfg.PricePollInterval, a.feed.Refresh); err != nil {
		return err
	}

	for _, pair := range a.pairs {
		tokenA, tokenB := pair[0], pair[1]
		key := scheduler.PoolKey(tokenA.Symbol, tokenB.Symbol)
		err := a.scheduler.Start(key, "pool", a.cfg.PoolPollInterval, func(ctx context.Context) error {
			s := a.stats.Snapshot(ctx, tokenA, tokenB, a.account())
			if s.Degraded {
				return fmt.Errorf("pool %s degraded", key)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	account := a.account()
	if account == (common.Address{}) {
		return nil
	}
	return a.scheduler.Start(scheduler.AccountKey(account.Hex()), "account", a.cfg.PoolPollInterval, func(ctx context.Context) error {
		for _, t := range a.tokens.All() {
			balance, err := a.balance(ctx, t, account)
			if err != nil {
				return fmt.Errorf("failed to read %s balance: %w", t.Symbol, err)
			}
			a.logger.Debug("balance", "token", t.Symbol, "amount", units.FromBaseUnits(balance, t.Decimals))
		}
		return nil
	})
}
