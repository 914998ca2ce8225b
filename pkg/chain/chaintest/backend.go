// Package chaintest provides an in-memory chain backend that answers
// router, factory, pair and ERC-20 calls with constant-product math.
package chaintest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"amm-swap/pkg/chain"
)

var (
	RouterAddr  = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	FactoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000F1")
	WETHAddr    = common.HexToAddress("0x00000000000000000000000000000000000000E1")
)

// Contracts returns the deployment the fake answers for
func Contracts() chain.Contracts {
	return chain.Contracts{Router: RouterAddr, Factory: FactoryAddr, WrappedNative: WETHAddr}
}

// Pool is a simulated pair
type Pool struct {
	Address     common.Address
	Token0      common.Address
	Token1      common.Address
	Reserve0    *big.Int
	Reserve1    *big.Int
	TotalSupply *big.Int
}

// Backend implements chain.Backend in memory
type Backend struct {
	mu sync.Mutex

	ChainID *big.Int
	Block   uint64

	pools      map[common.Address]*Pool
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
	native     map[common.Address]*big.Int
	decimals   map[common.Address]uint8
	logs       []types.Log

	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	delays   map[common.Hash]int
	journal  []string
	methods  map[common.Hash]string

	// CallHook, when set, may answer a call before the simulation does
	CallHook func(msg ethereum.CallMsg) ([]byte, error, bool)
	// RevertOnMine makes mined transactions of the named method fail with the reason
	RevertOnMine map[string]string
	// EstimateErr is returned from EstimateGas when set
	EstimateErr error
	// FilterErr is returned from FilterLogs when set
	FilterErr error
	// ReceiptDelay is how many receipt polls report "not found" before mining
	ReceiptDelay int
}

// NewBackend returns an empty chain at block 100
func NewBackend() *Backend {
	return &Backend{
		ChainID:      big.NewInt(1337),
		Block:        100,
		pools:        make(map[common.Address]*Pool),
		balances:     make(map[common.Address]map[common.Address]*big.Int),
		allowances:   make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		native:       make(map[common.Address]*big.Int),
		decimals:     make(map[common.Address]uint8),
		receipts:     make(map[common.Hash]*types.Receipt),
		delays:       make(map[common.Hash]int),
		methods:      make(map[common.Hash]string),
		RevertOnMine: make(map[string]string),
	}
}

// AddPool registers a pair with reserves given in tokenA/tokenB order
func (b *Backend) AddPool(pair, tokenA, tokenB common.Address, reserveA, reserveB, totalSupply *big.Int) *Pool {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := &Pool{Address: pair, Token0: tokenA, Token1: tokenB, Reserve0: reserveA, Reserve1: reserveB, TotalSupply: totalSupply}
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		p.Token0, p.Token1 = tokenB, tokenA
		p.Reserve0, p.Reserve1 = reserveB, reserveA
	}
	b.pools[pair] = p
	return p
}

// SetReserves overwrites a pool's reserves in token0/token1 order
func (b *Backend) SetReserves(pair common.Address, reserve0, reserve1 *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pools[pair]; ok {
		p.Reserve0, p.Reserve1 = reserve0, reserve1
	}
}

// SetBalance sets an ERC-20 (or LP) balance
func (b *Backend) SetBalance(token, owner common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[token] == nil {
		b.balances[token] = make(map[common.Address]*big.Int)
	}
	b.balances[token][owner] = amount
}

// SetDecimals overrides a token's precision; tokens default to 18
func (b *Backend) SetDecimals(token common.Address, decimals uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decimals[token] = decimals
}

// SetAllowance sets an ERC-20 allowance
func (b *Backend) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setAllowanceLocked(token, owner, spender, amount)
}

func (b *Backend) setAllowanceLocked(token, owner, spender common.Address, amount *big.Int) {
	if b.allowances[token] == nil {
		b.allowances[token] = make(map[common.Address]map[common.Address]*big.Int)
	}
	if b.allowances[token][owner] == nil {
		b.allowances[token][owner] = make(map[common.Address]*big.Int)
	}
	b.allowances[token][owner][spender] = amount
}

// Allowance reads the simulated allowance
func (b *Backend) Allowance(token, owner, spender common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowanceLocked(token, owner, spender)
}

func (b *Backend) allowanceLocked(token, owner, spender common.Address) *big.Int {
	if v := b.allowances[token][owner][spender]; v != nil {
		return v
	}
	return new(big.Int)
}

// SetNative sets a native balance
func (b *Backend) SetNative(owner common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.native[owner] = amount
}

// AddSwapLog appends a pair Swap event at block
func (b *Backend) AddSwapLog(pair common.Address, block uint64, amount0In, amount1In, amount0Out, amount1Out *big.Int) {
	data, err := chain.PairABI.Events["Swap"].Inputs.NonIndexed().Pack(amount0In, amount1In, amount0Out, amount1Out)
	if err != nil {
		panic(err)
	}
	b.addLog(types.Log{
		Address:     pair,
		Topics:      []common.Hash{chain.SwapEventID, {}, {}},
		Data:        data,
		BlockNumber: block,
	})
}

// AddMintLog appends a pair Mint event at block
func (b *Backend) AddMintLog(pair common.Address, block uint64, amount0, amount1 *big.Int) {
	data, err := chain.PairABI.Events["Mint"].Inputs.NonIndexed().Pack(amount0, amount1)
	if err != nil {
		panic(err)
	}
	b.addLog(types.Log{
		Address:     pair,
		Topics:      []common.Hash{chain.MintEventID, {}},
		Data:        data,
		BlockNumber: block,
	})
}

func (b *Backend) addLog(l types.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, l)
}

// Sent returns every submitted transaction in order
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.Transaction, len(b.sent))
	copy(out, b.sent)
	return out
}

// Journal returns the ordered "send:<method>" / "mined:<method>" events
func (b *Backend) Journal() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.journal))
	copy(out, b.journal)
	return out
}

// DecodeCall finds the method of calldata across all known ABIs
func DecodeCall(data []byte) (string, []interface{}, error) {
	method, ok := chain.LookupMethod(data)
	if !ok {
		return "", nil, fmt.Errorf("unknown selector %x", data)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", nil, fmt.Errorf("unpack %s: %w", method.Name, err)
	}
	return method.Name, args, nil
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if b.CallHook != nil {
		if out, err, handled := b.CallHook(msg); handled {
			return out, err
		}
	}
	if msg.To == nil {
		return nil, errors.New("call without target")
	}

	name, args, err := DecodeCall(msg.Data)
	if err != nil {
		return nil, &chain.RevertError{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Write methods marked to revert fail the same way when replayed.
	if reason, ok := b.RevertOnMine[name]; ok {
		return nil, &chain.RevertError{Reason: reason}
	}

	to := *msg.To
	switch {
	case to == RouterAddr:
		return b.routerCall(name, args)
	case to == FactoryAddr:
		return b.factoryCall(name, args)
	default:
		return b.tokenCall(to, name, args)
	}
}

func (b *Backend) routerCall(name string, args []interface{}) ([]byte, error) {
	method := chain.RouterABI.Methods[name]
	switch name {
	case "getAmountsOut", "getAmountsIn":
		amount := args[0].(*big.Int)
		path := args[1].([]common.Address)
		if len(path) != 2 {
			return nil, &chain.RevertError{Reason: "UniswapV2Library: INVALID_PATH"}
		}
		reserveIn, reserveOut, ok := b.reservesLocked(path[0], path[1])
		if !ok || reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
			return nil, &chain.RevertError{Reason: "UniswapV2Library: INSUFFICIENT_LIQUIDITY"}
		}
		if name == "getAmountsOut" {
			out := AmountOut(amount, reserveIn, reserveOut)
			return method.Outputs.Pack([]*big.Int{amount, out})
		}
		if amount.Cmp(reserveOut) >= 0 {
			return nil, &chain.RevertError{Reason: "ds-math-sub-underflow"}
		}
		in := AmountIn(amount, reserveIn, reserveOut)
		return method.Outputs.Pack([]*big.Int{in, amount})
	}
	return nil, &chain.RevertError{Reason: "unsupported router read " + name}
}

func (b *Backend) factoryCall(name string, args []interface{}) ([]byte, error) {
	if name != "getPair" {
		return nil, &chain.RevertError{}
	}
	a, c := args[0].(common.Address), args[1].(common.Address)
	for _, p := range b.pools {
		if (p.Token0 == a && p.Token1 == c) || (p.Token0 == c && p.Token1 == a) {
			return chain.FactoryABI.Methods["getPair"].Outputs.Pack(p.Address)
		}
	}
	return chain.FactoryABI.Methods["getPair"].Outputs.Pack(common.Address{})
}

func (b *Backend) tokenCall(to common.Address, name string, args []interface{}) ([]byte, error) {
	pool, isPool := b.pools[to]
	switch name {
	case "getReserves":
		if !isPool {
			return nil, &chain.RevertError{}
		}
		return chain.PairABI.Methods["getReserves"].Outputs.Pack(pool.Reserve0, pool.Reserve1, uint32(0))
	case "token0", "token1":
		if !isPool {
			return nil, &chain.RevertError{}
		}
		addr := pool.Token0
		if name == "token1" {
			addr = pool.Token1
		}
		return chain.PairABI.Methods[name].Outputs.Pack(addr)
	case "totalSupply":
		supply := new(big.Int)
		if isPool {
			supply = pool.TotalSupply
		}
		return chain.ERC20ABI.Methods["totalSupply"].Outputs.Pack(supply)
	case "balanceOf":
		bal := b.balances[to][args[0].(common.Address)]
		if bal == nil {
			bal = new(big.Int)
		}
		return chain.ERC20ABI.Methods["balanceOf"].Outputs.Pack(bal)
	case "allowance":
		return chain.ERC20ABI.Methods["allowance"].Outputs.Pack(b.allowanceLocked(to, args[0].(common.Address), args[1].(common.Address)))
	case "decimals":
		d, ok := b.decimals[to]
		if !ok {
			d = 18
		}
		return chain.ERC20ABI.Methods["decimals"].Outputs.Pack(d)
	}
	return nil, &chain.RevertError{Reason: "unsupported token read " + name}
}

// reservesLocked returns reserves ordered as (in, out)
func (b *Backend) reservesLocked(in, out common.Address) (*big.Int, *big.Int, bool) {
	for _, p := range b.pools {
		if p.Token0 == in && p.Token1 == out {
			return p.Reserve0, p.Reserve1, true
		}
		if p.Token1 == in && p.Token0 == out {
			return p.Reserve1, p.Reserve0, true
		}
	}
	return nil, nil, false
}

// AmountOut is the router's getAmountOut with a 0.3% fee
func AmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Add(new(big.Int).Mul(reserveIn, big.NewInt(1000)), inWithFee)
	return num.Div(num, den)
}

// AmountIn is the router's getAmountIn with a 0.3% fee
func AmountIn(amountOut, reserveIn, reserveOut *big.Int) *big.Int {
	num := new(big.Int).Mul(new(big.Int).Mul(reserveIn, amountOut), big.NewInt(1000))
	den := new(big.Int).Mul(new(big.Int).Sub(reserveOut, amountOut), big.NewInt(997))
	num.Div(num, den)
	return num.Add(num, big.NewInt(1))
}

func (b *Backend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if b.FilterErr != nil {
		return nil, b.FilterErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []types.Log
	for _, l := range b.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && !containsHash(q.Topics[0], l.Topics[0]) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}

func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Block, nil
}

func (b *Backend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v := b.native[account]; v != nil {
		return v, nil
	}
	return new(big.Int), nil
}

func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n uint64
	for _, tx := range b.sent {
		if from, err := types.Sender(types.LatestSignerForChainID(b.ChainID), tx); err == nil && from == account {
			n++
		}
	}
	return n, nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if b.EstimateErr != nil {
		return 0, b.EstimateErr
	}
	return 100000, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(b.ChainID), tx)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	name, args, err := DecodeCall(tx.Data())
	if err != nil {
		name = "unknown"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	status := types.ReceiptStatusSuccessful
	if _, revert := b.RevertOnMine[name]; revert {
		status = types.ReceiptStatusFailed
	} else if name == "approve" {
		b.setAllowanceLocked(*tx.To(), from, args[0].(common.Address), args[1].(*big.Int))
	}

	b.Block++
	b.sent = append(b.sent, tx)
	b.methods[tx.Hash()] = name
	b.delays[tx.Hash()] = b.ReceiptDelay
	b.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.Block),
	}
	b.journal = append(b.journal, "send:"+name)
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	if b.delays[hash] > 0 {
		b.delays[hash]--
		return nil, ethereum.NotFound
	}
	if b.delays[hash] == 0 {
		b.journal = append(b.journal, "mined:"+b.methods[hash])
		b.delays[hash] = -1
	}
	return receipt, nil
}

