package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"amm-swap/pkg/units"
)

var (
	listRemote   bool
	filterChain  string
	filterSymbol string
)

var tokensCmd = &cobra.Command{
	Use:     "list-tokens",
	Aliases: []string{"tokens", "ls"},
	Short:   "List configured tokens",
	Long: `List the tokens in your config with their USD price and, when a wallet
is connected, your balance. With --remote, list the tokens the price API knows
about instead.

Examples:
  amm-swap list-tokens
  amm-swap list-tokens --remote --chain eth
  amm-swap list-tokens --remote --symbol USDC`,
	Run: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().BoolVar(&listRemote, "remote", false, "List tokens known to the price API")
	tokensCmd.Flags().StringVar(&filterChain, "chain", "", "Filter by blockchain (with --remote)")
	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

// tokenRow is one configured token as shown to the user
type tokenRow struct {
	Symbol   string  `json:"symbol"`
	Address  string  `json:"address"`
	Decimals uint8   `json:"decimals"`
	PriceUSD float64 `json:"price_usd"`
	Balance  string  `json:"balance,omitempty"`
}

func runListTokens(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(ctx, cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.close()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching tokens..."
		s.Start()
	}

	if listRemote {
		tokens, err := a.oneClick.GetSupportedTokens(ctx)
		if !jsonOutput {
			s.Stop()
		}
		if err != nil {
			printError(err)
			os.Exit(1)
		}

		filtered := filterRemoteTokens(tokens, filterChain, filterSymbol)
		if jsonOutput {
			jsonData, _ := json.MarshalIndent(filtered, "", "  ")
			fmt.Println(string(jsonData))
			return
		}
		displayRemoteTokens(filtered)
		return
	}

	a.refreshPrices(ctx)
	rows, err := a.tokenRows(ctx, filterSymbol)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayTokenRows(rows)
}

func (a *app) tokenRows(ctx context.Context, symbol string) ([]tokenRow, error) {
	account := a.account()
	var rows []tokenRow
	for _, t := range a.tokens.All() {
		if symbol != "" && !strings.Contains(t.Symbol, strings.ToUpper(symbol)) {
			continue
		}
		row := tokenRow{Symbol: t.Symbol, Address: t.Address.Hex(), Decimals: t.Decimals}
		row.PriceUSD, _ = a.prices.PriceUSD(t)
		if account != (common.Address{}) {
			balance, err := a.balance(ctx, t, account)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s balance: %w", t.Symbol, err)
			}
			row.Balance = units.FromBaseUnits(balance, t.Decimals)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func displayTokenRows(rows []tokenRow) {
	if len(rows) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                              TOKENS")
	fmt.Println(strings.Repeat("=", 90))
	for _, r := range rows {
		price := "-"
		if r.PriceUSD > 0 {
			price = fmt.Sprintf("$%.4f", r.PriceUSD)
		}
		line := fmt.Sprintf("  %-10s  %2d decimals  %-14s %s", color.YellowString(r.Symbol), r.Decimals, price, color.HiBlackString(r.Address))
		if r.Balance != "" {
			line += "  balance " + r.Balance
		}
		fmt.Println(line)
	}
	fmt.Println("\n" + strings.Repeat("=", 90) + "\n")
}

func filterRemoteTokens(tokens []oneclick.TokenResponse, chain, symbol string) []oneclick.TokenResponse {
	filtered := tokens
	if chain != "" {
		var temp []oneclick.TokenResponse
		for _, token := range filtered {
			if strings.EqualFold(token.GetBlockchain(), chain) {
				temp = append(temp, token)
			}
		}
		filtered = temp
	}

	if symbol != "" {
		var temp []oneclick.TokenResponse
		for _, token := range filtered {
			if strings.Contains(strings.ToUpper(token.GetSymbol()), strings.ToUpper(symbol)) {
				temp = append(temp, token)
			}
		}
		filtered = temp
	}
	return filtered
}

func displayRemoteTokens(tokens []oneclick.TokenResponse) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                            PRICE API TOKENS")
	fmt.Println(strings.Repeat("=", 90))

	byChain := make(map[string][]oneclick.TokenResponse)
	for _, token := range tokens {
		byChain[token.GetBlockchain()] = append(byChain[token.GetBlockchain()], token)
	}
	chains := make([]string, 0, len(byChain))
	for chain := range byChain {
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	for _, chain := range chains {
		color.Cyan("\n%s", strings.ToUpper(chain))
		fmt.Println(strings.Repeat("-", 90))
		for _, token := range byChain[chain] {
			address := token.GetContractAddress()
			if len(address) > 40 {
				address = address[:37] + "..."
			}
			fmt.Printf("  %-10s  $%-12.4f  %s\n",
				color.YellowString(token.GetSymbol()),
				token.GetPrice(),
				color.HiBlackString(address))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens across %d blockchains\n\n", len(tokens), len(chains))
}
