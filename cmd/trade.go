package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"amm-swap/pkg/form"
	"amm-swap/pkg/scheduler"
	"amm-swap/pkg/types"
	"amm-swap/pkg/units"
)

var tradeCmd = &cobra.Command{
	Use:   "trade <pay token> <receive token>",
	Short: "Interactive swap form with live quotes",
	Long: `Open a two-field swap form. Typing an amount on one side quotes the
other side after a short pause; the last edited side is the one that is fixed
when you swap.

Commands inside the form:
  pay <amount>       set the amount you pay
  receive <amount>   set the amount you receive
  tokens <A> <B>     change the pair
  flip               swap the two tokens
  swap               confirm and send
  quit               leave

Examples:
  amm-swap trade ETH USDC`,
	Args: cobra.ExactArgs(2),
	Run:  runTrade,
}

func init() {
	rootCmd.AddCommand(tradeCmd)
}

// tradeInput is one parsed line of the trade prompt
type tradeInput struct {
	verb string
	args []string
}

func parseTradeInput(line string) (tradeInput, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return tradeInput{}, nil
	}
	in := tradeInput{verb: strings.ToLower(fields[0]), args: fields[1:]}

	want := map[string]int{"pay": 1, "receive": 1, "tokens": 2, "flip": 0, "swap": 0, "quit": 0, "exit": 0, "help": 0}
	n, ok := want[in.verb]
	if !ok {
		return tradeInput{}, fmt.Errorf("unknown command %q, type help", in.verb)
	}
	if in.verb == "pay" || in.verb == "receive" {
		// An empty amount clears the field.
		if len(in.args) > 1 {
			return tradeInput{}, fmt.Errorf("%s takes one amount", in.verb)
		}
		return in, nil
	}
	if len(in.args) != n {
		return tradeInput{}, fmt.Errorf("%s takes %d argument(s)", in.verb, n)
	}
	return in, nil
}

func runTrade(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	a, err := newApp(ctx, cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	pay, err := a.tokens.Lookup(args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	receive, err := a.tokens.Lookup(args[1])
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	ctrl := form.NewController(a.quotes, a.cfg.WrappedNative, pay, receive, a.metrics, a.logger,
		form.WithDebounce(a.cfg.Debounce),
		form.WithObserver(printFormState),
	)
	defer ctrl.Close()

	// Re-quote the derived side whenever the pool may have moved.
	followPool := func(p, r types.Token) {
		a.scheduler.StopAll()
		key := scheduler.PoolKey(p.Symbol, r.Symbol)
		if err := a.scheduler.Start(key, "pool", a.cfg.PoolPollInterval, func(context.Context) error {
			ctrl.Requote()
			return nil
		}); err != nil {
			a.logger.Warn("failed to watch pool", "pool", key, "err", err)
		}
	}
	followPool(pay, receive)

	color.Cyan("\nTrading %s -> %s. Type help for commands.\n", pay.Symbol, receive.Symbol)
	for {
		fmt.Print("> ")
		line, err := readLine()
		if err != nil {
			fmt.Println()
			return
		}

		in, err := parseTradeInput(line)
		if err != nil {
			color.Red("  %v", err)
			continue
		}

		switch in.verb {
		case "":
		case "help":
			fmt.Println(cmd.Long)
		case "pay":
			ctrl.EditPay(strings.Join(in.args, ""))
		case "receive":
			ctrl.EditReceive(strings.Join(in.args, ""))
		case "tokens":
			p, err := a.tokens.Lookup(in.args[0])
			if err != nil {
				color.Red("  %v", err)
				continue
			}
			r, err := a.tokens.Lookup(in.args[1])
			if err != nil {
				color.Red("  %v", err)
				continue
			}
			ctrl.SetTokens(p, r)
			followPool(p, r)
		case "flip":
			ctrl.Flip()
			st := ctrl.State()
			followPool(st.PayToken, st.ReceiveToken)
		case "swap":
			a.tradeSwap(ctx, ctrl.State())
		case "quit", "exit":
			return
		}
	}
}

// tradeSwap re-quotes the fixed side of the form and sends the swap
func (a *app) tradeSwap(ctx context.Context, st form.State) {
	req, err := tradeRequest(st)
	if err != nil {
		color.Red("  %v", err)
		return
	}
	req.path = types.NewPath(req.from, req.to, a.cfg.WrappedNative)

	account, err := a.requireAccount()
	if err != nil {
		printError(err)
		return
	}

	q, err := a.fetchQuote(ctx, req, true)
	if err != nil {
		printError(err)
		return
	}
	balance, err := a.balance(ctx, req.from, account)
	if err != nil {
		printError(fmt.Errorf("failed to read balance: %w", err))
		return
	}
	intent, err := a.executor.BuildIntent(q, account, balance)
	if err != nil {
		printError(err)
		return
	}

	displayQuote(q, a.cfg.SwapConfig().SlippagePercent.String())
	displayIntent(intent)

	receipt, err := a.runWithProgress(false, func() (*gethtypes.Receipt, error) {
		return a.executor.Execute(ctx, intent)
	})
	if err != nil {
		printTransactionError(err)
		return
	}
	color.Green("\n✓ Swap confirmed: %s\n", receipt.TxHash.Hex())
}

// tradeRequest turns the form's active side into a swap request
func tradeRequest(st form.State) (*swapRequest, error) {
	req := &swapRequest{from: st.PayToken, to: st.ReceiveToken, direction: types.ExactIn}
	text, decimals := st.PayAmount, st.PayToken.Decimals
	if st.Active == form.SideReceive {
		req.direction = types.ExactOut
		text, decimals = st.ReceiveAmount, st.ReceiveToken.Decimals
	}
	if st.PayToken.Symbol == st.ReceiveToken.Symbol {
		return nil, fmt.Errorf("cannot swap %s for itself", st.PayToken.Symbol)
	}
	if st.QuoteUnavailable {
		return nil, fmt.Errorf("no quote for %s -> %s", st.PayToken.Symbol, st.ReceiveToken.Symbol)
	}

	amount, err := units.PositiveBaseUnits(text, decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	req.amount = amount
	return req, nil
}

func printFormState(st form.State) {
	pay, receive := st.PayAmount, st.ReceiveAmount
	if st.Quoting {
		if st.Active == form.SidePay {
			receive = "..."
		} else {
			pay = "..."
		}
	}
	if st.QuoteUnavailable {
		if st.Active == form.SidePay {
			receive = color.RedString("no quote")
		} else {
			pay = color.RedString("no quote")
		}
	}
	if pay == "" {
		pay = "0"
	}
	if receive == "" {
		receive = "0"
	}

	fmt.Printf("\r  pay %s %s  |  receive %s %s\n> ",
		pay, color.YellowString(st.PayToken.Symbol),
		receive, color.YellowString(st.ReceiveToken.Symbol))
}
