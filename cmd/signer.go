package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/fatih/color"

	"amm-swap/pkg/chain"
	"amm-swap/pkg/units"
)

// stdin is shared by every prompt so the interactive form and the signer
// never buffer each other's input
var stdin = bufio.NewReader(os.Stdin)

// readLine reads one trimmed line from stdin
func readLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func confirm(prompt string) bool {
	fmt.Printf("\n%s (y/N): ", prompt)

	response, err := readLine()
	if err != nil {
		return false
	}

	response = strings.ToLower(response)
	return response == "y" || response == "yes"
}

// promptSigner asks before every signature, the way a browser wallet does.
// Declining surfaces as chain.ErrUserRejected.
type promptSigner struct {
	key         *chain.KeySigner
	autoConfirm bool
	ask         func(prompt string) bool
}

func newPromptSigner(key *chain.KeySigner, autoConfirm bool) *promptSigner {
	return &promptSigner{key: key, autoConfirm: autoConfirm, ask: confirm}
}

func (s *promptSigner) Address() common.Address {
	return s.key.Address()
}

func (s *promptSigner) SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	if !s.autoConfirm {
		fmt.Println()
		color.Yellow("Signature request")
		fmt.Printf("  Method:   %s\n", describeTx(tx))
		fmt.Printf("  To:       %s\n", color.CyanString(tx.To().Hex()))
		if tx.Value() != nil && tx.Value().Sign() > 0 {
			fmt.Printf("  Value:    %s\n", units.FromBaseUnits(tx.Value(), 18))
		}
		fmt.Printf("  Gas:      %d\n", tx.Gas())

		if !s.ask("Sign and send?") {
			return nil, chain.ErrUserRejected
		}
	}
	return s.key.SignTx(ctx, tx)
}

func describeTx(tx *types.Transaction) string {
	if method, ok := chain.LookupMethod(tx.Data()); ok {
		return method.Name
	}
	return "unknown"
}
