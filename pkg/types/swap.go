package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAddress is the pseudo-address used for the chain's native asset.
// It never reaches the contract boundary; paths alias it to the wrapped-native token.
var NativeAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Token is a tradable asset known to the session
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
	PriceUSD float64
}

// IsNative reports whether the token is the native asset placeholder
func (t Token) IsNative() bool {
	return t.Address == NativeAddress
}

// Path is an ordered pair of token addresses after native aliasing
type Path struct {
	From      Token
	To        Token
	In        common.Address
	Out       common.Address
	NativeIn  bool
	NativeOut bool
}

// NewPath aliases native tokens to the wrapped-native address
func NewPath(from, to Token, wrappedNative common.Address) Path {
	p := Path{
		From:      from,
		To:        to,
		In:        from.Address,
		Out:       to.Address,
		NativeIn:  from.IsNative(),
		NativeOut: to.IsNative(),
	}
	if p.NativeIn {
		p.In = wrappedNative
	}
	if p.NativeOut {
		p.Out = wrappedNative
	}
	return p
}

// IsWrap reports whether the path is a wrap/unwrap pass-through
func (p Path) IsWrap() bool {
	return p.In == p.Out
}

// Addresses returns the router path
func (p Path) Addresses() []common.Address {
	return []common.Address{p.In, p.Out}
}

// Reverse returns the path in the opposite direction
func (p Path) Reverse() Path {
	return Path{
		From:      p.To,
		To:        p.From,
		In:        p.Out,
		Out:       p.In,
		NativeIn:  p.NativeOut,
		NativeOut: p.NativeIn,
	}
}

func (p Path) String() string {
	return fmt.Sprintf("%s->%s", p.From.Symbol, p.To.Symbol)
}

// Direction says which side of a quote the user fixed
type Direction string

const (
	ExactIn  Direction = "exact_in"  // pay amount fixed, receive amount quoted
	ExactOut Direction = "exact_out" // receive amount fixed, pay amount quoted
)

// Quote is a derived price point for a path; never persisted
type Quote struct {
	Path      Path
	AmountIn  *big.Int
	AmountOut *big.Int
	Direction Direction
}

// Available reports whether both legs are positive
func (q Quote) Available() bool {
	return q.AmountIn != nil && q.AmountOut != nil && q.AmountIn.Sign() > 0 && q.AmountOut.Sign() > 0
}

// SwapIntent is built once at confirmation time from the latest quote
type SwapIntent struct {
	ID           string
	Path         Path
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Recipient    common.Address
	Deadline     time.Time
}

// DeadlineUnix returns the deadline as the router expects it
func (i SwapIntent) DeadlineUnix() *big.Int {
	return big.NewInt(i.Deadline.Unix())
}

// PoolSnapshot is the live state of a pair as seen from tokenA/tokenB order
type PoolSnapshot struct {
	Pair          common.Address
	TokenA        Token
	TokenB        Token
	ReserveA      *big.Int
	ReserveB      *big.Int
	TotalSupply   *big.Int
	UserLPBalance *big.Int
}

// Exists reports whether the factory has a pair for the tokens
func (s PoolSnapshot) Exists() bool {
	return s.Pair != (common.Address{})
}

// UserShare returns userLP/totalSupply, false when the pool has no supply
func (s PoolSnapshot) UserShare() (*big.Rat, bool) {
	if s.TotalSupply == nil || s.TotalSupply.Sign() <= 0 {
		return nil, false
	}
	lp := s.UserLPBalance
	if lp == nil {
		lp = new(big.Int)
	}
	return new(big.Rat).SetFrac(lp, s.TotalSupply), true
}

// AddLiquidityIntent holds addLiquidity arguments; minimums are always zero
type AddLiquidityIntent struct {
	ID             string
	TokenA         Token
	TokenB         Token
	AmountADesired *big.Int
	AmountBDesired *big.Int
	Recipient      common.Address
	Deadline       time.Time
}

// RemoveLiquidityIntent holds removeLiquidity arguments; minimums are always zero
type RemoveLiquidityIntent struct {
	ID        string
	Pair      common.Address
	TokenA    Token
	TokenB    Token
	Liquidity *big.Int
	Recipient common.Address
	Deadline  time.Time
}

// TokenList indexes tokens by upper-case symbol
type TokenList struct {
	bySymbol map[string]Token
	ordered  []Token
}

// NewTokenList builds a list, rejecting duplicate symbols
func NewTokenList(tokens []Token) (*TokenList, error) {
	tl := &TokenList{bySymbol: make(map[string]Token, len(tokens))}
	for _, t := range tokens {
		key := strings.ToUpper(t.Symbol)
		if _, exists := tl.bySymbol[key]; exists {
			return nil, fmt.Errorf("duplicate token symbol %s", t.Symbol)
		}
		tl.bySymbol[key] = t
		tl.ordered = append(tl.ordered, t)
	}
	return tl, nil
}

// Lookup finds a token by symbol, case-insensitively
func (tl *TokenList) Lookup(symbol string) (Token, error) {
	t, ok := tl.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, fmt.Errorf("token '%s' not configured", symbol)
	}
	return t, nil
}

// All returns tokens in configuration order
func (tl *TokenList) All() []Token {
	out := make([]Token, len(tl.ordered))
	copy(out, tl.ordered)
	return out
}
