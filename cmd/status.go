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
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <tx-hash>",
	Short: "Check the status of a transaction",
	Long: `Check whether a swap or liquidity transaction is pending, confirmed or reverted.

Examples:
  amm-swap status 0x1234...abcd
  amm-swap status 0x1234...abcd --watch
  amm-swap status 0x1234...abcd --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch until the transaction is mined")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

// txStatus is the outcome of one receipt lookup
type txStatus struct {
	Hash    string `json:"hash"`
	Status  string `json:"status"`
	Block   string `json:"block,omitempty"`
	GasUsed uint64 `json:"gas_used,omitempty"`
}

func newTxStatus(hash common.Hash, receipt *gethtypes.Receipt) txStatus {
	st := txStatus{Hash: hash.Hex(), Status: "PENDING"}
	if receipt == nil {
		return st
	}
	st.Block = receipt.BlockNumber.String()
	st.GasUsed = receipt.GasUsed
	if receipt.Status == gethtypes.ReceiptStatusSuccessful {
		st.Status = "CONFIRMED"
	} else {
		st.Status = "REVERTED"
	}
	return st
}

func (s txStatus) done() bool {
	return s.Status != "PENDING"
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if !isTxHash(args[0]) {
		printError(fmt.Errorf("invalid transaction hash %q", args[0]))
		os.Exit(1)
	}
	hash := common.HexToHash(args[0])

	a, err := newApp(ctx, cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	if watchStatus {
		a.watchTxStatus(ctx, hash, jsonOutput)
	} else {
		a.checkTxStatus(ctx, hash, jsonOutput)
	}
}

func isTxHash(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

func (a *app) lookupTx(ctx context.Context, hash common.Hash) (txStatus, error) {
	receipt, err := a.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return newTxStatus(hash, nil), nil
	}
	if err != nil {
		return txStatus{}, fmt.Errorf("failed to get receipt: %w", err)
	}
	return newTxStatus(hash, receipt), nil
}

func (a *app) checkTxStatus(ctx context.Context, hash common.Hash, jsonOutput bool) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking transaction status..."
		s.Start()
	}

	status, err := a.lookupTx(ctx, hash)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayStatus(status)
	}
}

func (a *app) watchTxStatus(ctx context.Context, hash common.Hash, jsonOutput bool) {
	if jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		os.Exit(1)
	}

	fmt.Printf("\nWatching transaction %s\n", color.CyanString(hash.Hex()))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		status, err := a.lookupTx(ctx, hash)
		if err != nil {
			color.Red("Error: %v", err)
		} else {
			displayStatus(status)
			if status.done() {
				return
			}
		}
		<-ticker.C
	}
}

func displayStatus(status txStatus) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                     TRANSACTION STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Transaction:     %s\n", color.CyanString(status.Hash))
	fmt.Printf("  Status:          %s\n", getColoredStatus(status.Status))
	if status.Block != "" {
		fmt.Printf("  Block:           %s\n", status.Block)
		fmt.Printf("  Gas Used:        %d\n", status.GasUsed)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(status string) string {
	switch status {
	case "CONFIRMED":
		return color.GreenString(status)
	case "PENDING":
		return color.YellowString(status)
	case "REVERTED":
		return color.RedString(status)
	default:
		return status
	}
}
