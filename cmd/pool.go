package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"amm-swap/pkg/liquidity"
	"amm-swap/pkg/parser"
	"amm-swap/pkg/scheduler"
	"amm-swap/pkg/stats"
	"amm-swap/pkg/types"
	"amm-swap/pkg/units"
)

var (
	watchPool     bool
	addAmountA    string
	addAmountB    string
	removePercent string
	removeAmount  string
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Pool statistics and liquidity",
}

var poolStatsCmd = &cobra.Command{
	Use:   "stats <A/B>",
	Short: "Show reserves, TVL, volume and APR of a pool",
	Long: `Show the live statistics of a pool. TVL and volume are valued with the
latest USD prices; APR annualises one day of fees.

Examples:
  amm-swap pool stats ETH/USDC
  amm-swap pool stats ETH/USDC --watch`,
	Args: cobra.ExactArgs(1),
	Run:  runPoolStats,
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show statistics for every configured pair",
	Args:  cobra.NoArgs,
	Run:   runPoolList,
}

var poolAddCmd = &cobra.Command{
	Use:   "add <A/B>",
	Short: "Add liquidity to a pool",
	Long: `Add liquidity. Give one side and the other is filled at the pool's
current ratio. An empty pool sets its own price, so both sides are required.

Examples:
  amm-swap pool add ETH/USDC --amount-a 1
  amm-swap pool add ETH/USDC --amount-b 2500
  amm-swap pool add NEW/USDC --amount-a 1000 --amount-b 500`,
	Args: cobra.ExactArgs(1),
	Run:  runPoolAdd,
}

var poolRemoveCmd = &cobra.Command{
	Use:   "remove <A/B>",
	Short: "Remove liquidity from a pool",
	Long: `Burn LP tokens for the underlying tokens. Give either a percentage of
your LP balance or an LP amount.

Examples:
  amm-swap pool remove ETH/USDC --percent 50
  amm-swap pool remove ETH/USDC --amount 0.25`,
	Args: cobra.ExactArgs(1),
	Run:  runPoolRemove,
}

func init() {
	rootCmd.AddCommand(poolCmd)
	poolCmd.AddCommand(poolStatsCmd, poolListCmd, poolAddCmd, poolRemoveCmd)

	poolStatsCmd.Flags().BoolVarP(&watchPool, "watch", "w", false, "Refresh on the pool poll interval")
	poolAddCmd.Flags().StringVar(&addAmountA, "amount-a", "", "Amount of the first token")
	poolAddCmd.Flags().StringVar(&addAmountB, "amount-b", "", "Amount of the second token")
	poolRemoveCmd.Flags().StringVar(&removePercent, "percent", "", "Percent of your LP balance (0-100]")
	poolRemoveCmd.Flags().StringVar(&removeAmount, "amount", "", "LP token amount")
}

func (a *app) resolvePair(arg string) (types.Token, types.Token, error) {
	symA, symB, err := parser.ParsePair(arg)
	if err != nil {
		return types.Token{}, types.Token{}, err
	}
	tokenA, err := a.tokens.Lookup(symA)
	if err != nil {
		return types.Token{}, types.Token{}, err
	}
	tokenB, err := a.tokens.Lookup(symB)
	if err != nil {
		return types.Token{}, types.Token{}, err
	}
	return tokenA, tokenB, nil
}

func runPoolStats(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(ctx, cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	tokenA, tokenB, err := a.resolvePair(args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	a.refreshPrices(ctx)

	show := func(ctx context.Context) error {
		s := a.stats.Snapshot(ctx, tokenA, tokenB, a.account())
		if jsonOutput {
			printStatsJSON(s)
		} else {
			displayPoolStats(s, tokenA, tokenB)
		}
		return nil
	}

	if !watchPool {
		_ = show(ctx)
		return
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Start(scheduler.PoolKey(tokenA.Symbol, tokenB.Symbol), "pool", a.cfg.PoolPollInterval, show); err != nil {
		printError(err)
		os.Exit(1)
	}
	if err := a.scheduler.Start("prices", "price", a.cfg.PricePollInterval, a.feed.Refresh); err != nil {
		printError(err)
		os.Exit(1)
	}
	if !jsonOutput {
		color.Cyan("Watching %s every %s. Press Ctrl+C to stop.\n", stats.PairKey(tokenA, tokenB), a.cfg.PoolPollInterval)
	}
	<-sigCtx.Done()
}

func runPoolList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(ctx, cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	if len(a.pairs) == 0 {
		printError(fmt.Errorf("no pairs configured. Add pairs to your config file"))
		os.Exit(1)
	}
	a.refreshPrices(ctx)

	all := a.stats.List(ctx, a.pairs, a.account())
	if jsonOutput {
		jsonData, _ := json.MarshalIndent(all, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                       POOLS")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("\n  %-14s %14s %14s %10s\n", "PAIR", "TVL (USD)", "VOLUME 24H", "APR")
	for _, s := range all {
		name := s.TokenA + "/" + s.TokenB
		switch {
		case s.Degraded:
			fmt.Printf("  %-14s %s\n", name, color.RedString("unavailable"))
		case !s.Exists:
			fmt.Printf("  %-14s %s\n", name, color.YellowString("no pool"))
		default:
			apr := s.APR.StringFixed(2) + "%"
			if s.IsHot {
				apr = color.RedString(apr + " hot")
			}
			fmt.Printf("  %-14s %14s %14s %10s\n", name, s.TVL.StringFixed(2), s.Volume.StringFixed(2), apr)
		}
	}
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func printStatsJSON(s stats.Stats) {
	jsonData, _ := json.MarshalIndent(s, "", "  ")
	fmt.Println(string(jsonData))
}

func displayPoolStats(s stats.Stats, tokenA, tokenB types.Token) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                  POOL %s", stats.PairKey(tokenA, tokenB))
	fmt.Println(strings.Repeat("=", 60))

	switch {
	case s.Degraded:
		color.Red("\n  Pool data is unavailable right now.")
	case !s.Exists:
		color.Yellow("\n  No pool exists for this pair yet.")
	default:
		fmt.Printf("\n  Pair:              %s\n", color.CyanString(s.Pair.Hex()))
		fmt.Printf("  Reserve %-10s %s\n", tokenA.Symbol+":", units.FromBaseUnits(s.ReserveA, tokenA.Decimals))
		fmt.Printf("  Reserve %-10s %s\n", tokenB.Symbol+":", units.FromBaseUnits(s.ReserveB, tokenB.Decimals))
		fmt.Printf("  TVL:               $%s\n", s.TVL.StringFixed(2))
		fmt.Printf("  Volume (24h):      $%s  (%d swaps, blocks %d-%d)\n", s.Volume.StringFixed(2), s.Swaps, s.FromBlock, s.ToBlock)
		apr := s.APR.StringFixed(2) + "%"
		if s.IsHot {
			apr += color.RedString("  HOT")
		}
		fmt.Printf("  APR:               %s\n", apr)
		if s.UserLP != nil {
			fmt.Printf("  Your LP:           %s (%s%%)\n", units.FromBaseUnits(s.UserLP, liquidity.LPDecimals), s.UserShare.StringFixed(4))
		}
	}
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

// addSide decides which field the user edited; both set means an explicit
// price for an empty pool
func addSide(amountA, amountB string) (liquidity.Side, string, error) {
	switch {
	case amountA != "" && amountB == "":
		return liquidity.SideA, amountA, nil
	case amountB != "" && amountA == "":
		return liquidity.SideB, amountB, nil
	case amountA != "" && amountB != "":
		return liquidity.SideA, amountA, nil
	default:
		return "", "", fmt.Errorf("specify --amount-a, --amount-b, or both")
	}
}

func runPoolAdd(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	noConfirm, _ := cmd.Flags().GetBool("yes")

	a, err := newApp(ctx, cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	account, err := a.requireAccount()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	tokenA, tokenB, err := a.resolvePair(args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	side, amount, err := addSide(addAmountA, addAmountB)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	snap, err := a.liquidity.Snapshot(ctx, tokenA, tokenB, account)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	plan, err := a.liquidity.PlanAdd(side, amount, snap)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if plan.IsPoolEmpty {
		// Nothing to derive from; the user prices the pool.
		if addAmountA == "" || addAmountB == "" {
			printError(fmt.Errorf("%s/%s has no liquidity yet. Give both --amount-a and --amount-b to set the price", tokenA.Symbol, tokenB.Symbol))
			os.Exit(1)
		}
		other, err := units.PositiveBaseUnits(addAmountB, tokenB.Decimals)
		if err != nil {
			printError(fmt.Errorf("invalid %s amount: %w", tokenB.Symbol, err))
			os.Exit(1)
		}
		plan.AmountB = other
	} else if addAmountA != "" && addAmountB != "" && !jsonOutput {
		color.Yellow("\nThe pool already has a price; %s is filled from the reserves.", tokenB.Symbol)
	}

	for _, leg := range []struct {
		token  types.Token
		amount string
	}{{tokenA, units.FromBaseUnits(plan.AmountA, tokenA.Decimals)}, {tokenB, units.FromBaseUnits(plan.AmountB, tokenB.Decimals)}} {
		if err := a.checkBalance(ctx, leg.token, leg.amount, account); err != nil {
			printError(err)
			os.Exit(1)
		}
	}

	intent, err := a.liquidity.BuildAdd(plan, snap, account)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !jsonOutput {
		fmt.Println("\n" + strings.Repeat("=", 60))
		color.Green("                   ADD LIQUIDITY")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Printf("\n  Deposit:           %s %s\n", units.FromBaseUnits(intent.AmountADesired, tokenA.Decimals), color.YellowString(tokenA.Symbol))
		fmt.Printf("  Deposit:           %s %s\n", units.FromBaseUnits(intent.AmountBDesired, tokenB.Decimals), color.YellowString(tokenB.Symbol))
		if plan.IsPoolEmpty {
			color.Yellow("  This deposit sets the pool price.")
		}
		displayDeadline(intent.Deadline.Format("15:04:05"))
	}

	if !noConfirm && !jsonOutput {
		if !confirm("Proceed with deposit?") {
			fmt.Println("\nDeposit cancelled.")
			os.Exit(0)
		}
	}

	receipt, err := a.runWithProgress(jsonOutput, func() (*gethtypes.Receipt, error) {
		return a.liquidity.Add(ctx, intent)
	})
	a.finishAction(jsonOutput, intent.ID, "Liquidity added", receipt, err)
}

func runPoolRemove(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	noConfirm, _ := cmd.Flags().GetBool("yes")

	a, err := newApp(ctx, cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	account, err := a.requireAccount()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	tokenA, tokenB, err := a.resolvePair(args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	snap, err := a.liquidity.Snapshot(ctx, tokenA, tokenB, account)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if !snap.Exists() {
		printError(liquidity.ErrNoPool)
		os.Exit(1)
	}

	plan, err := a.liquidity.PlanRemove(liquidity.RemoveRequest{Percent: removePercent, Amount: removeAmount}, snap)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	intent, err := a.liquidity.BuildRemove(plan, snap, account)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !jsonOutput {
		fmt.Println("\n" + strings.Repeat("=", 60))
		color.Green("                  REMOVE LIQUIDITY")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Printf("\n  Burn:              %s LP\n", units.FromBaseUnits(plan.Liquidity, liquidity.LPDecimals))
		fmt.Printf("  Expect about:      %s %s\n", units.FromBaseUnits(plan.ExpectedA, tokenA.Decimals), color.YellowString(tokenA.Symbol))
		fmt.Printf("  Expect about:      %s %s\n", units.FromBaseUnits(plan.ExpectedB, tokenB.Decimals), color.YellowString(tokenB.Symbol))
		if plan.Clamped {
			color.Yellow("  Amount rounded down to your full LP balance.")
		}
		if plan.SoleOwner {
			color.Yellow("  You own almost all of this pool; removing everything empties it.")
		}
		displayDeadline(intent.Deadline.Format("15:04:05"))
	}

	if !noConfirm && !jsonOutput {
		if !confirm("Proceed with withdrawal?") {
			fmt.Println("\nWithdrawal cancelled.")
			os.Exit(0)
		}
	}

	receipt, err := a.runWithProgress(jsonOutput, func() (*gethtypes.Receipt, error) {
		return a.liquidity.Remove(ctx, intent)
	})
	a.finishAction(jsonOutput, intent.ID, "Liquidity removed", receipt, err)
}

// checkBalance fails early when the account cannot cover amount
func (a *app) checkBalance(ctx context.Context, token types.Token, amount string, account common.Address) error {
	need, err := units.ToBaseUnits(amount, token.Decimals)
	if err != nil {
		return err
	}
	// Liquidity is always added as the wrapped token.
	var have *big.Int
	if token.IsNative() {
		have, err = a.gateway.BalanceOf(ctx, a.cfg.WrappedNative, account)
	} else {
		have, err = a.balance(ctx, token, account)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s balance: %w", token.Symbol, err)
	}
	if have.Cmp(need) < 0 {
		return fmt.Errorf("insufficient %s balance: have %s, need %s", token.Symbol,
			units.FromBaseUnits(have, token.Decimals), amount)
	}
	return nil
}

func displayDeadline(at string) {
	fmt.Printf("  Deadline:          %s\n", at)
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func (a *app) finishAction(jsonOutput bool, id, done string, receipt *gethtypes.Receipt, err error) {
	if jsonOutput {
		printActionJSON(id, receipt, err)
		if err != nil {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		printTransactionError(err)
		os.Exit(1)
	}
	color.Green("\n✓ %s in block %s", done, receipt.BlockNumber)
	fmt.Printf("  Transaction: %s\n\n", color.CyanString(receipt.TxHash.Hex()))
}
