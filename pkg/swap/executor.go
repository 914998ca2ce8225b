// Package swap turns a quote into a signed router transaction and drives
// it through approval, submission and confirmation.
package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"amm-swap/pkg/chain"
	"amm-swap/pkg/metrics"
	"amm-swap/pkg/types"
	"amm-swap/pkg/units"
)

const (
	DefaultSlippagePercent = "0.5"
	DefaultDeadline        = 20 * time.Minute
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrQuoteUnavailable    = errors.New("quote unavailable")
	ErrDeadlinePassed      = errors.New("transaction deadline passed")
)

// Step is a state of the write protocol
type Step string

const (
	StepIdle                Step = "idle"
	StepConfirmingAllowance Step = "confirming_allowance"
	StepApproving           Step = "approving"
	StepSubmitting          Step = "submitting"
	StepConfirming          Step = "confirming"
	StepSettled             Step = "settled"
	StepFailed              Step = "failed"
)

// Status is reported to the observer on every step change
type Status struct {
	ActionID string
	Action   string
	Step     Step
	TxHash   common.Hash
	Err      *chain.TransactionError
}

// Approval is an allowance the router needs before the main call
type Approval struct {
	Token  common.Address
	Amount *big.Int
}

// Action is one user-confirmed write: approvals, then a single router call
type Action struct {
	ID        string
	Name      string
	Approvals []Approval
	Deadline  time.Time
	Call      chain.Call
}

// Config holds the user's transaction settings
type Config struct {
	SlippagePercent decimal.Decimal
	Deadline        time.Duration
}

// DefaultConfig returns 0.5% slippage and a 20 minute deadline
func DefaultConfig() Config {
	return Config{
		SlippagePercent: decimal.RequireFromString(DefaultSlippagePercent),
		Deadline:        DefaultDeadline,
	}
}

// Executor runs write actions strictly one transaction at a time
type Executor struct {
	transactor *chain.Transactor
	config     Config
	now        func() time.Time

	mu       sync.Mutex
	observer func(Status)
	hooks    []func(ctx context.Context, action Action)

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewExecutor creates an executor writing through transactor
func NewExecutor(transactor *chain.Transactor, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Executor {
	return &Executor{
		transactor: transactor,
		config:     cfg,
		now:        time.Now,
		metrics:    m,
		logger:     logger,
	}
}

// SetClock replaces time.Now, for deadlines
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// SetObserver registers the step callback
func (e *Executor) SetObserver(fn func(Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = fn
}

// OnSettled registers a hook run after every successful action, e.g. to
// refresh pool statistics and balances
func (e *Executor) OnSettled(fn func(ctx context.Context, action Action)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, fn)
}

// Transactor returns the underlying transactor
func (e *Executor) Transactor() *chain.Transactor { return e.transactor }

// Deadline returns the absolute deadline for an action confirmed now
func (e *Executor) Deadline() time.Time {
	return e.now().Add(e.config.Deadline)
}

// BuildIntent freezes the quote into a swap intent. amountOutMin is computed
// here once and the deadline is absolute. balance may be nil when unknown.
func (e *Executor) BuildIntent(q types.Quote, recipient common.Address, balance *big.Int) (*types.SwapIntent, error) {
	if !q.Available() {
		return nil, ErrQuoteUnavailable
	}
	if balance != nil && q.AmountIn.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBalance,
			units.FromBaseUnits(q.AmountIn, q.Path.From.Decimals), q.Path.From.Symbol,
			units.FromBaseUnits(balance, q.Path.From.Decimals))
	}

	minOut := new(big.Int).Set(q.AmountOut)
	if !q.Path.IsWrap() {
		minOut = units.ApplySlippage(q.AmountOut, e.config.SlippagePercent)
	}

	return &types.SwapIntent{
		ID:           uuid.NewString(),
		Path:         q.Path,
		AmountIn:     new(big.Int).Set(q.AmountIn),
		AmountOutMin: minOut,
		Recipient:    recipient,
		Deadline:     e.Deadline(),
	}, nil
}

// SwapCall selects the router or wrapped-native call for the path shape
func (e *Executor) SwapCall(intent *types.SwapIntent) (chain.Call, error) {
	gw := e.transactor.Gateway()
	path := intent.Path
	deadline := intent.DeadlineUnix()

	switch {
	case path.IsWrap() && path.NativeIn:
		return gw.DepositCall(intent.AmountIn)
	case path.IsWrap():
		return gw.WithdrawCall(intent.AmountIn)
	case path.NativeIn:
		return gw.SwapExactETHForTokensCall(intent.AmountIn, intent.AmountOutMin, path.Addresses(), intent.Recipient, deadline)
	case path.NativeOut:
		return gw.SwapExactTokensForETHCall(intent.AmountIn, intent.AmountOutMin, path.Addresses(), intent.Recipient, deadline)
	default:
		return gw.SwapExactTokensForTokensCall(intent.AmountIn, intent.AmountOutMin, path.Addresses(), intent.Recipient, deadline)
	}
}

// Execute approves the input token if needed and submits the swap
func (e *Executor) Execute(ctx context.Context, intent *types.SwapIntent) (*gethtypes.Receipt, error) {
	call, err := e.SwapCall(intent)
	if err != nil {
		return nil, err
	}

	action := Action{
		ID:       intent.ID,
		Name:     "swap",
		Deadline: intent.Deadline,
		Call:     call,
	}
	// Native input is sent as value and unwrapping burns the caller's own
	// balance; every other path spends an ERC-20 through the router.
	if !intent.Path.NativeIn && !intent.Path.IsWrap() {
		action.Approvals = []Approval{{Token: intent.Path.In, Amount: intent.AmountIn}}
	}
	return e.Run(ctx, action)
}

// Run drives action through
// Idle -> ConfirmingAllowance -> (Approving)* -> Submitting -> Confirming -> Settled | Failed.
// Every failure is returned as a *chain.TransactionError.
func (e *Executor) Run(ctx context.Context, action Action) (*gethtypes.Receipt, error) {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	log := e.logger.With("action", action.Name, "id", action.ID)
	e.report(action, StepIdle, common.Hash{}, nil)

	e.report(action, StepConfirmingAllowance, common.Hash{}, nil)
	for _, approval := range action.Approvals {
		needs, err := e.transactor.NeedsApproval(ctx, approval.Token, action.Call.To, approval.Amount)
		if err != nil {
			return nil, e.fail(action, common.Hash{}, err)
		}
		if !needs {
			e.metrics.ApprovalsTotal.WithLabelValues("sufficient").Inc()
			continue
		}

		e.metrics.ApprovalsTotal.WithLabelValues("approved").Inc()
		e.report(action, StepApproving, common.Hash{}, nil)
		log.Info("approving token", "token", approval.Token.Hex(), "spender", action.Call.To.Hex())
		if _, err := e.transactor.Approve(ctx, approval.Token, action.Call.To); err != nil {
			return nil, e.fail(action, common.Hash{}, err)
		}
	}

	if !action.Deadline.IsZero() && !e.now().Before(action.Deadline) {
		return nil, e.fail(action, common.Hash{}, ErrDeadlinePassed)
	}

	e.report(action, StepSubmitting, common.Hash{}, nil)
	tx, err := e.transactor.Send(ctx, action.Call)
	if err != nil {
		return nil, e.fail(action, common.Hash{}, err)
	}

	e.report(action, StepConfirming, tx.Hash(), nil)
	receipt, err := e.transactor.WaitMined(ctx, tx, action.Call)
	if err != nil {
		return receipt, e.fail(action, tx.Hash(), err)
	}

	e.metrics.TransactionsTotal.WithLabelValues(action.Name, string(StepSettled)).Inc()
	e.report(action, StepSettled, tx.Hash(), nil)
	log.Info("action settled", "hash", tx.Hash().Hex(), "block", receipt.BlockNumber)

	e.mu.Lock()
	hooks := append([]func(context.Context, Action){}, e.hooks...)
	e.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx, action)
	}
	return receipt, nil
}

func (e *Executor) fail(action Action, hash common.Hash, err error) error {
	txErr := chain.AsTransactionError(err)
	if txErr.TxHash == (common.Hash{}) {
		txErr.TxHash = hash
	}
	e.metrics.TransactionsTotal.WithLabelValues(action.Name, string(txErr.Kind)).Inc()
	e.logger.Warn("action failed", "action", action.Name, "id", action.ID, "kind", txErr.Kind, "reason", txErr.Reason)
	e.report(action, StepFailed, txErr.TxHash, txErr)
	return txErr
}

func (e *Executor) report(action Action, step Step, hash common.Hash, err *chain.TransactionError) {
	e.mu.Lock()
	observer := e.observer
	e.mu.Unlock()
	if observer != nil {
		observer(Status{ActionID: action.ID, Action: action.Name, Step: step, TxHash: hash, Err: err})
	}
}
