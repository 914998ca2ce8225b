// Package liquidity reconciles add/remove intent against live reserves and
// LP supply, and submits the resulting router calls.
package liquidity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"amm-swap/pkg/swap"
	"amm-swap/pkg/types"
	"amm-swap/pkg/units"
)

// LPDecimals is the precision of every pair's LP token
const LPDecimals = 18

var (
	ErrNoPool          = errors.New("pool does not exist")
	ErrNoLiquidity     = errors.New("no liquidity to remove")
	ErrExceedsBalance  = errors.New("amount exceeds LP balance")
	ErrInvalidPercent  = errors.New("percent must be greater than 0 and at most 100")
	ErrAmbiguousRemove = errors.New("specify exactly one of percent or amount")
)

// A holder of at least 999 per mille of the LP supply is the sole owner
var (
	soleOwnerNum = big.NewInt(999)
	soleOwnerDen = big.NewInt(1000)
)

// Side names the field the user edited
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Config holds the reconciliation thresholds
type Config struct {
	// DustThreshold is the reserve, in display units of each token, below
	// which a pool is treated as empty
	DustThreshold decimal.Decimal
	// Epsilon is how far, in LP base units, a removal may overshoot the
	// balance and still be clamped to it
	Epsilon *big.Int
}

// DefaultConfig returns a 1.0 dust threshold and a 0.001 LP epsilon
func DefaultConfig() Config {
	return Config{
		DustThreshold: decimal.NewFromInt(1),
		Epsilon:       units.DecimalToBase(decimal.RequireFromString("0.001"), LPDecimals),
	}
}

// PoolReader is the chain read surface the reconciler needs
type PoolReader interface {
	GetPair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error)
	GetReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error)
	Token0(ctx context.Context, pair common.Address) (common.Address, error)
	TotalSupply(ctx context.Context, token common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// AddPlan is the result of reconciling an edited add-liquidity field
type AddPlan struct {
	AmountA       *big.Int
	AmountB       *big.Int
	IsPoolEmpty   bool
	CounterFilled bool
}

// RemoveRequest selects the LP amount either as a percentage of the
// balance or as an absolute LP display amount
type RemoveRequest struct {
	Percent string
	Amount  string
}

// RemovePlan is the reconciled removal
type RemovePlan struct {
	Liquidity *big.Int
	ExpectedA *big.Int
	ExpectedB *big.Int
	Clamped   bool
	SoleOwner bool
}

// Reconciler plans and executes liquidity changes
type Reconciler struct {
	reader        PoolReader
	executor      *swap.Executor
	wrappedNative common.Address
	config        Config
	logger        *slog.Logger
}

// NewReconciler creates a reconciler; executor may be nil for read-only use
func NewReconciler(reader PoolReader, executor *swap.Executor, wrappedNative common.Address, cfg Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		reader:        reader,
		executor:      executor,
		wrappedNative: wrappedNative,
		config:        cfg,
		logger:        logger,
	}
}

func (r *Reconciler) alias(t types.Token) common.Address {
	if t.IsNative() {
		return r.wrappedNative
	}
	return t.Address
}

// Snapshot reads reserves, LP supply and the account's LP balance, ordered
// as tokenA/tokenB. A missing pair yields a zero snapshot, not an error.
func (r *Reconciler) Snapshot(ctx context.Context, tokenA, tokenB types.Token, account common.Address) (types.PoolSnapshot, error) {
	snap := types.PoolSnapshot{
		TokenA:        tokenA,
		TokenB:        tokenB,
		ReserveA:      new(big.Int),
		ReserveB:      new(big.Int),
		TotalSupply:   new(big.Int),
		UserLPBalance: new(big.Int),
	}

	addrA, addrB := r.alias(tokenA), r.alias(tokenB)
	pair, err := r.reader.GetPair(ctx, addrA, addrB)
	if err != nil {
		return snap, fmt.Errorf("failed to resolve pair: %w", err)
	}
	if pair == (common.Address{}) {
		return snap, nil
	}
	snap.Pair = pair

	reserve0, reserve1, err := r.reader.GetReserves(ctx, pair)
	if err != nil {
		return snap, fmt.Errorf("failed to read reserves: %w", err)
	}
	token0, err := r.reader.Token0(ctx, pair)
	if err != nil {
		return snap, fmt.Errorf("failed to read token0: %w", err)
	}
	if token0 == addrA {
		snap.ReserveA, snap.ReserveB = reserve0, reserve1
	} else {
		snap.ReserveA, snap.ReserveB = reserve1, reserve0
	}

	supply, err := r.reader.TotalSupply(ctx, pair)
	if err != nil {
		return snap, fmt.Errorf("failed to read LP supply: %w", err)
	}
	snap.TotalSupply = supply

	if account != (common.Address{}) {
		lp, err := r.reader.BalanceOf(ctx, pair, account)
		if err != nil {
			return snap, fmt.Errorf("failed to read LP balance: %w", err)
		}
		snap.UserLPBalance = lp
	}
	return snap, nil
}

// IsPoolEmpty reports whether either reserve is below the dust threshold
func (r *Reconciler) IsPoolEmpty(snap types.PoolSnapshot) bool {
	dustA := units.DecimalToBase(r.config.DustThreshold, snap.TokenA.Decimals)
	dustB := units.DecimalToBase(r.config.DustThreshold, snap.TokenB.Decimals)
	return snap.ReserveA == nil || snap.ReserveB == nil ||
		snap.ReserveA.Cmp(dustA) < 0 || snap.ReserveB.Cmp(dustB) < 0
}

// PlanAdd converts the edited amount and, for a live pool, fills the other
// side at the current reserve ratio. An empty pool sets its own price, so
// the other side is left to the user.
func (r *Reconciler) PlanAdd(edited Side, amount string, snap types.PoolSnapshot) (AddPlan, error) {
	editedToken, counterToken := snap.TokenA, snap.TokenB
	editedReserve, counterReserve := snap.ReserveA, snap.ReserveB
	if edited == SideB {
		editedToken, counterToken = snap.TokenB, snap.TokenA
		editedReserve, counterReserve = snap.ReserveB, snap.ReserveA
	}

	value, err := units.PositiveBaseUnits(amount, editedToken.Decimals)
	if err != nil {
		return AddPlan{}, fmt.Errorf("invalid %s amount: %w", editedToken.Symbol, err)
	}

	plan := AddPlan{IsPoolEmpty: r.IsPoolEmpty(snap)}
	var counter *big.Int
	if !plan.IsPoolEmpty {
		counter = new(big.Int).Mul(value, counterReserve)
		counter.Quo(counter, editedReserve)
		plan.CounterFilled = true
		r.logger.Debug("filled counter side", "edited", editedToken.Symbol, "amount", value.String(), "counter", counterToken.Symbol, "value", counter.String())
	}

	if edited == SideA {
		plan.AmountA, plan.AmountB = value, counter
	} else {
		plan.AmountA, plan.AmountB = counter, value
	}
	return plan, nil
}

// PlanRemove resolves the LP amount to burn. A request that overshoots the
// balance by at most the epsilon is clamped to the balance; anything larger
// is rejected.
func (r *Reconciler) PlanRemove(req RemoveRequest, snap types.PoolSnapshot) (RemovePlan, error) {
	balance := snap.UserLPBalance
	if balance == nil || balance.Sign() <= 0 {
		return RemovePlan{}, ErrNoLiquidity
	}
	if (req.Percent == "") == (req.Amount == "") {
		return RemovePlan{}, ErrAmbiguousRemove
	}

	var liquidity *big.Int
	if req.Percent != "" {
		pct, err := units.ParseDisplay(req.Percent)
		if err != nil || pct.Sign() <= 0 || pct.GreaterThan(decimal.NewFromInt(100)) {
			return RemovePlan{}, ErrInvalidPercent
		}
		liquidity = decimal.NewFromBigInt(balance, 0).Mul(pct).Div(decimal.NewFromInt(100)).BigInt()
	} else {
		v, err := units.PositiveBaseUnits(req.Amount, LPDecimals)
		if err != nil {
			return RemovePlan{}, fmt.Errorf("invalid LP amount: %w", err)
		}
		liquidity = v
	}
	if liquidity.Sign() <= 0 {
		return RemovePlan{}, ErrNoLiquidity
	}

	return r.ReconcileLiquidity(liquidity, snap)
}

// ReconcileLiquidity applies the epsilon clamp and derives the expected
// token amounts for a base-unit LP request
func (r *Reconciler) ReconcileLiquidity(liquidity *big.Int, snap types.PoolSnapshot) (RemovePlan, error) {
	balance := snap.UserLPBalance
	if balance == nil || balance.Sign() <= 0 {
		return RemovePlan{}, ErrNoLiquidity
	}

	plan := RemovePlan{Liquidity: new(big.Int).Set(liquidity)}
	if over := new(big.Int).Sub(liquidity, balance); over.Sign() > 0 {
		if r.config.Epsilon == nil || over.Cmp(r.config.Epsilon) > 0 {
			return RemovePlan{}, fmt.Errorf("%w: requested %s, balance %s", ErrExceedsBalance,
				units.FromBaseUnits(liquidity, LPDecimals), units.FromBaseUnits(balance, LPDecimals))
		}
		plan.Liquidity = new(big.Int).Set(balance)
		plan.Clamped = true
	}

	supply := snap.TotalSupply
	if supply != nil && supply.Sign() > 0 {
		plan.SoleOwner = new(big.Int).Mul(balance, soleOwnerDen).Cmp(new(big.Int).Mul(supply, soleOwnerNum)) >= 0
		plan.ExpectedA = proRata(plan.Liquidity, snap.ReserveA, supply)
		plan.ExpectedB = proRata(plan.Liquidity, snap.ReserveB, supply)
	} else {
		plan.ExpectedA, plan.ExpectedB = new(big.Int), new(big.Int)
	}
	return plan, nil
}

func proRata(liquidity, reserve, supply *big.Int) *big.Int {
	if reserve == nil {
		return new(big.Int)
	}
	v := new(big.Int).Mul(liquidity, reserve)
	return v.Quo(v, supply)
}

// BuildAdd freezes an add plan into an intent with an absolute deadline
func (r *Reconciler) BuildAdd(plan AddPlan, snap types.PoolSnapshot, recipient common.Address) (*types.AddLiquidityIntent, error) {
	if plan.AmountA == nil || plan.AmountB == nil || plan.AmountA.Sign() <= 0 || plan.AmountB.Sign() <= 0 {
		return nil, errors.New("both token amounts are required")
	}
	return &types.AddLiquidityIntent{
		ID:             uuid.NewString(),
		TokenA:         snap.TokenA,
		TokenB:         snap.TokenB,
		AmountADesired: plan.AmountA,
		AmountBDesired: plan.AmountB,
		Recipient:      recipient,
		Deadline:       r.executor.Deadline(),
	}, nil
}

// BuildRemove freezes a remove plan into an intent with an absolute deadline
func (r *Reconciler) BuildRemove(plan RemovePlan, snap types.PoolSnapshot, recipient common.Address) (*types.RemoveLiquidityIntent, error) {
	if !snap.Exists() {
		return nil, ErrNoPool
	}
	return &types.RemoveLiquidityIntent{
		ID:        uuid.NewString(),
		Pair:      snap.Pair,
		TokenA:    snap.TokenA,
		TokenB:    snap.TokenB,
		Liquidity: plan.Liquidity,
		Recipient: recipient,
		Deadline:  r.executor.Deadline(),
	}, nil
}

// Add approves both tokens as needed and calls addLiquidity with zero minimums
func (r *Reconciler) Add(ctx context.Context, intent *types.AddLiquidityIntent) (*gethtypes.Receipt, error) {
	addrA, addrB := r.alias(intent.TokenA), r.alias(intent.TokenB)
	call, err := r.executor.Transactor().Gateway().AddLiquidityCall(addrA, addrB,
		intent.AmountADesired, intent.AmountBDesired, intent.Recipient, big.NewInt(intent.Deadline.Unix()))
	if err != nil {
		return nil, err
	}

	return r.executor.Run(ctx, swap.Action{
		ID:   intent.ID,
		Name: "add liquidity",
		Approvals: []swap.Approval{
			{Token: addrA, Amount: intent.AmountADesired},
			{Token: addrB, Amount: intent.AmountBDesired},
		},
		Deadline: intent.Deadline,
		Call:     call,
	})
}

// Remove approves the LP token as needed and calls removeLiquidity with zero minimums
func (r *Reconciler) Remove(ctx context.Context, intent *types.RemoveLiquidityIntent) (*gethtypes.Receipt, error) {
	addrA, addrB := r.alias(intent.TokenA), r.alias(intent.TokenB)
	call, err := r.executor.Transactor().Gateway().RemoveLiquidityCall(addrA, addrB,
		intent.Liquidity, intent.Recipient, big.NewInt(intent.Deadline.Unix()))
	if err != nil {
		return nil, err
	}

	return r.executor.Run(ctx, swap.Action{
		ID:        intent.ID,
		Name:      "remove liquidity",
		Approvals: []swap.Approval{{Token: intent.Pair, Amount: intent.Liquidity}},
		Deadline:  intent.Deadline,
		Call:      call,
	})
}
