package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"amm-swap/pkg/chain"
	"amm-swap/pkg/swap"
	"amm-swap/pkg/types"
	"amm-swap/pkg/units"
)

var recipientAddr string

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <token> to <token>",
	Short: "Swap tokens through the router",
	Long: `Swap tokens through the AMM router. The minimum received is fixed from
the quote when you confirm, and the transaction expires after the configured
deadline. Wrapping and unwrapping the native token is 1:1.

Examples:
  amm-swap swap 1 ETH to USDC
  amm-swap swap USDC for 0.5 ETH
  amm-swap swap 2 ETH to WETH
  amm-swap swap 100 USDC to DAI --recipient 0x123... --yes`,
	Args: cobra.MinimumNArgs(3),
	Run:  runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().StringVar(&recipientAddr, "recipient", "", "Recipient address (default: connected account)")
}

func runSwap(cmd *cobra.Command, args []string) {
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
	recipient, err := parseRecipient(recipientAddr, account)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

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

	balance, err := a.balance(ctx, req.from, account)
	if err != nil {
		printError(fmt.Errorf("failed to read balance: %w", err))
		os.Exit(1)
	}

	intent, err := a.executor.BuildIntent(q, recipient, balance)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !jsonOutput {
		displayQuote(q, a.cfg.SwapConfig().SlippagePercent.String())
		displayIntent(intent)
	}

	// Ask for confirmation
	if !noConfirm && !jsonOutput {
		if !confirm("Proceed with swap?") {
			fmt.Println("\nSwap cancelled.")
			os.Exit(0)
		}
	}

	receipt, err := a.runWithProgress(jsonOutput, func() (*gethtypes.Receipt, error) {
		return a.executor.Execute(ctx, intent)
	})
	if jsonOutput {
		printActionJSON(intent.ID, receipt, err)
		if err != nil {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		printTransactionError(err)
		os.Exit(1)
	}

	color.Green("\n✓ Swap confirmed in block %s", receipt.BlockNumber)
	fmt.Printf("  Transaction: %s\n", color.CyanString(receipt.TxHash.Hex()))
	fmt.Println("\nYou can check the transaction again using:")
	color.Cyan("  amm-swap status %s\n", receipt.TxHash.Hex())
}

func parseRecipient(addr string, fallback common.Address) (common.Address, error) {
	if addr == "" {
		return fallback, nil
	}
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("invalid recipient address %q", addr)
	}
	return common.HexToAddress(addr), nil
}

func displayIntent(intent *types.SwapIntent) {
	to := intent.Path.To
	fmt.Printf("  Minimum received:  %s %s\n", units.FromBaseUnits(intent.AmountOutMin, to.Decimals), color.YellowString(to.Symbol))
	fmt.Printf("  Recipient:         %s\n", intent.Recipient.Hex())
	fmt.Printf("  Deadline:          %s\n", intent.Deadline.Format(time.Kitchen))
}

// runWithProgress shows the executor's step changes on a spinner
func (a *app) runWithProgress(quiet bool, run func() (*gethtypes.Receipt, error)) (*gethtypes.Receipt, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	a.executor.SetObserver(func(st swap.Status) {
		if quiet {
			return
		}
		switch st.Step {
		case swap.StepConfirmingAllowance:
			s.Suffix = " Checking allowance..."
		case swap.StepApproving:
			s.Suffix = " Waiting for approval..."
		case swap.StepSubmitting:
			s.Suffix = " Submitting transaction..."
		case swap.StepConfirming:
			s.Suffix = " Waiting for confirmation " + st.TxHash.Hex()[:10] + "..."
		default:
			return
		}
		// The signer prompts on stdout, so the spinner only runs between prompts.
		if st.Step == swap.StepConfirming {
			s.Start()
		} else {
			s.Stop()
		}
	})
	defer a.executor.SetObserver(nil)

	receipt, err := run()
	s.Stop()
	return receipt, err
}

func printTransactionError(err error) {
	var txErr *chain.TransactionError
	if !errors.As(err, &txErr) {
		printError(err)
		return
	}

	switch txErr.Kind {
	case chain.KindUserRejected:
		color.Yellow("\nTransaction rejected. Nothing was sent.\n")
	case chain.KindRevert:
		color.Red("\n✗ Transaction reverted: %s", txErr.Reason)
	default:
		color.Red("\n✗ Transaction failed: %s", txErr.Reason)
	}
	if txErr.TxHash != (common.Hash{}) {
		fmt.Printf("  Transaction: %s\n", color.CyanString(txErr.TxHash.Hex()))
	}
	fmt.Println()
}

func printActionJSON(id string, receipt *gethtypes.Receipt, err error) {
	output := map[string]interface{}{"id": id, "status": "settled"}
	if receipt != nil {
		output["tx_hash"] = receipt.TxHash.Hex()
		output["block"] = receipt.BlockNumber.String()
	}
	if err != nil {
		txErr := chain.AsTransactionError(err)
		output["status"] = "failed"
		output["kind"] = txErr.Kind
		output["reason"] = txErr.Reason
		if txErr.TxHash != (common.Hash{}) {
			output["tx_hash"] = txErr.TxHash.Hex()
		}
	}
	jsonData, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(strings.TrimSpace(string(jsonData)))
}
