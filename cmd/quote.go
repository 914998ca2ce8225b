package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"amm-swap/pkg/parser"
	"amm-swap/pkg/quote"
	"amm-swap/pkg/types"
	"amm-swap/pkg/units"
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <token> to <token>",
	Short: "Quote a swap without sending anything",
	Long: `Ask the router how much you would receive, or how much you would pay.

Examples:
  amm-swap quote 1 ETH to USDC
  amm-swap quote USDC for 0.5 ETH`,
	Args: cobra.MinimumNArgs(3),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)
}

// swapRequest is a parsed command resolved against the token list
type swapRequest struct {
	from      types.Token
	to        types.Token
	direction types.Direction
	amount    *big.Int
	path      types.Path
}

func (a *app) resolveSwap(args []string) (*swapRequest, error) {
	parsed, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		return nil, err
	}

	from, err := a.tokens.Lookup(parsed.From)
	if err != nil {
		return nil, err
	}
	to, err := a.tokens.Lookup(parsed.To)
	if err != nil {
		return nil, err
	}
	if from.Symbol == to.Symbol {
		return nil, fmt.Errorf("cannot swap %s for itself", from.Symbol)
	}

	// The typed amount is in the units of the side the user fixed.
	fixed := from
	if parsed.Direction == types.ExactOut {
		fixed = to
	}
	amount, err := units.PositiveBaseUnits(parsed.Amount, fixed.Decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}

	return &swapRequest{
		from:      from,
		to:        to,
		direction: parsed.Direction,
		amount:    amount,
		path:      types.NewPath(from, to, a.cfg.WrappedNative),
	}, nil
}

// fetchQuote asks the router with a spinner; an unavailable quote is an error here
func (a *app) fetchQuote(ctx context.Context, req *swapRequest, showSpinner bool) (types.Quote, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if showSpinner {
		s.Suffix = " Fetching quote..."
		s.Start()
	}

	q, res := a.quotes.Quote(ctx, req.direction, req.amount, req.path)
	if showSpinner {
		s.Stop()
	}

	switch res.Status {
	case quote.StatusOK:
		return q, nil
	case quote.StatusUnavailable:
		return q, fmt.Errorf("no quote for %s: the pool is missing or too shallow", req.path)
	default:
		return q, fmt.Errorf("failed to get quote: %w", res.Err)
	}
}

func runQuote(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(ctx, cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	req, err := a.resolveSwap(args)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	q, err := a.fetchQuote(ctx, req, !jsonOutput)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(quoteOutput(q), "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayQuote(q, a.cfg.SwapConfig().SlippagePercent.String())
}

func quoteOutput(q types.Quote) map[string]interface{} {
	return map[string]interface{}{
		"from":           q.Path.From.Symbol,
		"to":             q.Path.To.Symbol,
		"direction":      q.Direction,
		"amount_in":      units.FromBaseUnits(q.AmountIn, q.Path.From.Decimals),
		"amount_out":     units.FromBaseUnits(q.AmountOut, q.Path.To.Decimals),
		"amount_in_raw":  q.AmountIn.String(),
		"amount_out_raw": q.AmountOut.String(),
		"wrap":           q.Path.IsWrap(),
	}
}

func displayQuote(q types.Quote, slippage string) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	in := units.FromBaseUnits(q.AmountIn, q.Path.From.Decimals)
	out := units.FromBaseUnits(q.AmountOut, q.Path.To.Decimals)
	if q.Direction == types.ExactIn {
		out = "~" + out
	} else {
		in = "~" + in
	}

	fmt.Printf("\n  You pay:           %s %s\n", in, color.YellowString(q.Path.From.Symbol))
	fmt.Printf("  You receive:       %s %s\n", out, color.YellowString(q.Path.To.Symbol))
	if q.Path.IsWrap() {
		fmt.Printf("  Route:             %s\n", color.CyanString("wrap/unwrap 1:1"))
	} else {
		fmt.Printf("  Route:             %s\n", color.CyanString(q.Path.String()))
		fmt.Printf("  Slippage:          %s%%\n", slippage)
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
