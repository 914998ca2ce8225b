package parser

import (
	"fmt"
	"regexp"
	"strings"

	"amm-swap/pkg/types"
)

// SwapCommand is a parsed trade request. Amount is the side the user fixed.
type SwapCommand struct {
	Amount    string
	From      string
	To        string
	Direction types.Direction
}

var (
	// <amount> <pay token> TO <receive token>
	exactInPattern = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)\s+([A-Z0-9.]+)\s+(?:TO|->)\s+([A-Z0-9.]+)$`)
	// <pay token> FOR <amount> <receive token>
	exactOutPattern = regexp.MustCompile(`^([A-Z0-9.]+)\s+FOR\s+(\d+\.?\d*|\.\d+)\s+([A-Z0-9.]+)$`)
)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 1 ETH to USDC"
//   - "1.5 WETH -> DAI"
//   - "swap USDC for 0.25 ETH" (exact output)
func ParseSwapCommand(command string) (*SwapCommand, error) {
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")
	command = strings.TrimPrefix(command, "SWAP ")

	if m := exactInPattern.FindStringSubmatch(command); m != nil {
		return &SwapCommand{Amount: m[1], From: m[2], To: m[3], Direction: types.ExactIn}, nil
	}
	if m := exactOutPattern.FindStringSubmatch(command); m != nil {
		return &SwapCommand{Amount: m[2], From: m[1], To: m[3], Direction: types.ExactOut}, nil
	}

	return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> to <token>' or 'swap <token> for <amount> <token>'")
}

// ParsePair parses "A/B" or "A-B" into two symbols
func ParsePair(s string) (string, string, error) {
	parts := strings.FieldsFunc(strings.ToUpper(strings.TrimSpace(s)), func(r rune) bool {
		return r == '/' || r == '-' || r == ' '
	})
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid pair %q. Expected: 'TOKENA/TOKENB'", s)
	}
	if parts[0] == parts[1] {
		return "", "", fmt.Errorf("pair %q uses the same token twice", s)
	}
	return parts[0], parts[1], nil
}
