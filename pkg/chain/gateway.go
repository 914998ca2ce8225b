// Package chain is the typed boundary to the router, factory, pair,
// ERC-20 and wrapped-native contracts.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the subset of *ethclient.Client the client relies on
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Contracts are the fixed addresses of the deployment
type Contracts struct {
	Router        common.Address
	Factory       common.Address
	WrappedNative common.Address
}

// Validate checks all addresses are set
func (c Contracts) Validate() error {
	if c.Router == (common.Address{}) || c.Factory == (common.Address{}) || c.WrappedNative == (common.Address{}) {
		return fmt.Errorf("router, factory and wrapped_native addresses must be set")
	}
	return nil
}

// Gateway performs stateless request/response reads against the contracts
// and packs the calldata for writes.
type Gateway struct {
	backend   Backend
	contracts Contracts
	logger    *slog.Logger
}

// NewGateway creates a gateway bound to one deployment
func NewGateway(backend Backend, contracts Contracts, logger *slog.Logger) *Gateway {
	return &Gateway{
		backend:   backend,
		contracts: contracts,
		logger:    logger,
	}
}

// Backend returns the underlying RPC backend
func (g *Gateway) Backend() Backend { return g.backend }

// Router returns the router address
func (g *Gateway) Router() common.Address { return g.contracts.Router }

// WrappedNative returns the wrapped-native token address
func (g *Gateway) WrappedNative() common.Address { return g.contracts.WrappedNative }

// call packs, executes and unpacks a read-only call
func (g *Gateway) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		g.logger.Debug("contract call failed", "method", method, "to", to.Hex(), "status", Classify(err).String(), "err", err)
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (g *Gateway) callBigInt(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	values, err := g.call(ctx, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", method, values[0])
	}
	return v, nil
}

func (g *Gateway) callAddress(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (common.Address, error) {
	values, err := g.call(ctx, contract, to, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	if len(values) == 0 {
		return common.Address{}, fmt.Errorf("%s: empty result", method)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected result type %T", method, values[0])
	}
	return addr, nil
}

func (g *Gateway) callAmounts(ctx context.Context, method string, amount *big.Int, path []common.Address) ([]*big.Int, error) {
	values, err := g.call(ctx, RouterABI, g.contracts.Router, method, amount, path)
	if err != nil {
		return nil, err
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return nil, fmt.Errorf("%s: malformed amounts", method)
	}
	return amounts, nil
}

// GetAmountsOut asks the router for [input, ..., output] given an exact input
func (g *Gateway) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	return g.callAmounts(ctx, "getAmountsOut", amountIn, path)
}

// GetAmountsIn asks the router for [input, ..., output] given an exact output
func (g *Gateway) GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	return g.callAmounts(ctx, "getAmountsIn", amountOut, path)
}

// GetPair resolves the pair address; the zero address means no pool exists
func (g *Gateway) GetPair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	return g.callAddress(ctx, FactoryABI, g.contracts.Factory, "getPair", tokenA, tokenB)
}

// GetReserves returns the pair reserves in token0/token1 order
func (g *Gateway) GetReserves(ctx context.Context, pair common.Address) (reserve0, reserve1 *big.Int, err error) {
	values, err := g.call(ctx, PairABI, pair, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	if len(values) < 2 {
		return nil, nil, fmt.Errorf("getReserves: invalid response length %d", len(values))
	}
	r0, ok0 := values[0].(*big.Int)
	r1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("getReserves: unexpected result types")
	}
	return r0, r1, nil
}

// Token0 returns the pair's lower-sorted token
func (g *Gateway) Token0(ctx context.Context, pair common.Address) (common.Address, error) {
	return g.callAddress(ctx, PairABI, pair, "token0")
}

// TotalSupply returns the ERC-20 supply; for a pair this is the LP supply
func (g *Gateway) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	return g.callBigInt(ctx, ERC20ABI, token, "totalSupply")
}

// BalanceOf returns an ERC-20 (or LP token) balance
func (g *Gateway) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return g.callBigInt(ctx, ERC20ABI, token, "balanceOf", owner)
}

// NativeBalance returns the account's native balance
func (g *Gateway) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	bal, err := g.backend.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("native balance of %s: %w", owner.Hex(), err)
	}
	return bal, nil
}

// Allowance returns how much spender may move on owner's behalf
func (g *Gateway) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return g.callBigInt(ctx, ERC20ABI, token, "allowance", owner, spender)
}

// Decimals reads the token's precision
func (g *Gateway) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	values, err := g.call(ctx, ERC20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected result type %T", values[0])
	}
	return d, nil
}

// BlockNumber returns the latest block
func (g *Gateway) BlockNumber(ctx context.Context) (uint64, error) {
	return g.backend.BlockNumber(ctx)
}

// SwapEvent is a decoded pair Swap log
type SwapEvent struct {
	BlockNumber uint64
	Amount0In   *big.Int
	Amount1In   *big.Int
	Amount0Out  *big.Int
	Amount1Out  *big.Int
}

// PairEvents are the pair's events over a block range
type PairEvents struct {
	Swaps []SwapEvent
	Mints int
	Burns int
}

// FilterPairEvents fetches Swap, Mint and Burn logs of a pair in [from, to]
func (g *Gateway) FilterPairEvents(ctx context.Context, pair common.Address, from, to uint64) (*PairEvents, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{pair},
		Topics:    [][]common.Hash{{SwapEventID, MintEventID, BurnEventID}},
	}
	logs, err := g.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs for pair %s: %w", pair.Hex(), err)
	}

	events := &PairEvents{}
	for _, log := range logs {
		if len(log.Topics) == 0 || log.Address != pair {
			continue
		}
		switch log.Topics[0] {
		case SwapEventID:
			values, err := PairABI.Unpack("Swap", log.Data)
			if err != nil || len(values) != 4 {
				// Malformed log; skip rather than fail the whole window.
				continue
			}
			events.Swaps = append(events.Swaps, SwapEvent{
				BlockNumber: log.BlockNumber,
				Amount0In:   values[0].(*big.Int),
				Amount1In:   values[1].(*big.Int),
				Amount0Out:  values[2].(*big.Int),
				Amount1Out:  values[3].(*big.Int),
			})
		case MintEventID:
			events.Mints++
		case BurnEventID:
			events.Burns++
		}
	}
	return events, nil
}

// Call is an unsigned contract write
type Call struct {
	Label string
	To    common.Address
	Data  []byte
	Value *big.Int
}

func pack(contract abi.ABI, label string, to common.Address, value *big.Int, method string, args ...interface{}) (Call, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("pack %s: %w", method, err)
	}
	if value == nil {
		value = new(big.Int)
	}
	return Call{Label: label, To: to, Data: data, Value: value}, nil
}

// ApproveCall approves spender for amount of token
func (g *Gateway) ApproveCall(token, spender common.Address, amount *big.Int) (Call, error) {
	return pack(ERC20ABI, "approve", token, nil, "approve", spender, amount)
}

// SwapExactTokensForTokensCall builds the token-to-token router call
func (g *Gateway) SwapExactTokensForTokensCall(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) (Call, error) {
	return pack(RouterABI, "swap", g.contracts.Router, nil, "swapExactTokensForTokens", amountIn, amountOutMin, path, to, deadline)
}

// SwapExactETHForTokensCall builds the native-in router call, sending amountIn as value
func (g *Gateway) SwapExactETHForTokensCall(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) (Call, error) {
	return pack(RouterABI, "swap", g.contracts.Router, amountIn, "swapExactETHForTokens", amountOutMin, path, to, deadline)
}

// SwapExactTokensForETHCall builds the native-out router call
func (g *Gateway) SwapExactTokensForETHCall(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) (Call, error) {
	return pack(RouterABI, "swap", g.contracts.Router, nil, "swapExactTokensForETH", amountIn, amountOutMin, path, to, deadline)
}

// DepositCall wraps amount of the native asset
func (g *Gateway) DepositCall(amount *big.Int) (Call, error) {
	return pack(WrappedNativeABI, "wrap", g.contracts.WrappedNative, amount, "deposit")
}

// WithdrawCall unwraps amount of the wrapped-native token
func (g *Gateway) WithdrawCall(amount *big.Int) (Call, error) {
	return pack(WrappedNativeABI, "unwrap", g.contracts.WrappedNative, nil, "withdraw", amount)
}

// AddLiquidityCall builds addLiquidity with zero minimums
func (g *Gateway) AddLiquidityCall(tokenA, tokenB common.Address, amountA, amountB *big.Int, to common.Address, deadline *big.Int) (Call, error) {
	zero := new(big.Int)
	return pack(RouterABI, "add liquidity", g.contracts.Router, nil, "addLiquidity", tokenA, tokenB, amountA, amountB, zero, zero, to, deadline)
}

// RemoveLiquidityCall builds removeLiquidity with zero minimums
func (g *Gateway) RemoveLiquidityCall(tokenA, tokenB common.Address, liquidity *big.Int, to common.Address, deadline *big.Int) (Call, error) {
	zero := new(big.Int)
	return pack(RouterABI, "remove liquidity", g.contracts.Router, nil, "removeLiquidity", tokenA, tokenB, liquidity, zero, zero, to, deadline)
}
