package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"amm-swap/pkg/chain"
	"amm-swap/pkg/units"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect the configured wallet",
	Long: `Connect the wallet whose key is set in private_key. The connection is
remembered, so later commands reconnect silently until you disconnect.

Examples:
  amm-swap connect
  AMM_SWAP_PRIVATE_KEY=0x... amm-swap connect`,
	Args: cobra.NoArgs,
	Run:  runConnect,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Forget the wallet connection",
	Args:  cobra.NoArgs,
	Run:   runDisconnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
}

func runConnect(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(ctx, cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	if a.cfg.PrivateKey == "" {
		printError(fmt.Errorf("private key not found. Please set AMM_SWAP_PRIVATE_KEY or add private_key to your config file"))
		os.Exit(1)
	}
	key, err := chain.NewKeySigner(a.cfg.PrivateKey, a.chainID)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if err := a.session.SetConnected(true); err != nil {
		printError(err)
		os.Exit(1)
	}

	balance, err := a.gateway.NativeBalance(ctx, key.Address())
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		output := map[string]interface{}{
			"account":  key.Address().Hex(),
			"chain_id": a.chainID.String(),
			"balance":  units.FromBaseUnits(balance, 18),
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	color.Green("\n✓ Connected")
	fmt.Printf("  Account:   %s\n", color.CyanString(key.Address().Hex()))
	fmt.Printf("  Chain ID:  %s\n", a.chainID)
	fmt.Printf("  Balance:   %s %s\n\n", units.FromBaseUnits(balance, 18), a.cfg.NativeSymbol)
}

func runDisconnect(cmd *cobra.Command, args []string) {
	a, err := newApp(context.Background(), cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	if err := a.session.SetConnected(false); err != nil {
		printError(err)
		os.Exit(1)
	}
	printSuccess("Disconnected. The next run starts read-only.")
}
