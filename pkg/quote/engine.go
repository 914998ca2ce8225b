// Package quote converts amounts between the two sides of a path using the
// router's getAmountsOut / getAmountsIn.
package quote

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"amm-swap/pkg/chain"
	"amm-swap/pkg/metrics"
	"amm-swap/pkg/types"
)

// ErrInvalidAmount is attached to results for nil, zero or negative inputs
var ErrInvalidAmount = errors.New("quote amount must be a positive integer")

// Status tells a usable quote apart from the two ways a quote can be missing
type Status int

const (
	StatusOK          Status = iota // usable amount
	StatusUnavailable               // the router reverted: no pool or not enough liquidity
	StatusFailed                    // the node could not be reached or answered garbage
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "failed"
	}
}

// Result is a quote outcome. Amount is zero unless Status is StatusOK.
type Result struct {
	Amount *big.Int
	Status Status
	Err    error
}

// OK reports whether the result carries a usable amount
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Router is the read surface the engine needs
type Router interface {
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error)
}

// Engine quotes without caching; every call reads the current reserves
type Engine struct {
	router  Router
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEngine creates a quote engine over router
func NewEngine(router Router, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		router:  router,
		metrics: m,
		logger:  logger,
	}
}

// QuoteOut returns the output for an exact input
func (e *Engine) QuoteOut(ctx context.Context, amountIn *big.Int, path types.Path) Result {
	return e.quote(ctx, types.ExactIn, amountIn, path)
}

// QuoteIn returns the input required for an exact output
func (e *Engine) QuoteIn(ctx context.Context, amountOut *big.Int, path types.Path) Result {
	return e.quote(ctx, types.ExactOut, amountOut, path)
}

// Quote fills a types.Quote for the given direction; the fixed side is amount
func (e *Engine) Quote(ctx context.Context, direction types.Direction, amount *big.Int, path types.Path) (types.Quote, Result) {
	res := e.quote(ctx, direction, amount, path)
	q := types.Quote{Path: path, Direction: direction}
	if direction == types.ExactIn {
		q.AmountIn, q.AmountOut = amount, res.Amount
	} else {
		q.AmountIn, q.AmountOut = res.Amount, amount
	}
	return q, res
}

func (e *Engine) quote(ctx context.Context, direction types.Direction, amount *big.Int, path types.Path) Result {
	if amount == nil || amount.Sign() <= 0 {
		return e.done(direction, Result{Amount: new(big.Int), Status: StatusUnavailable, Err: ErrInvalidAmount})
	}

	// Wrapping and unwrapping are 1:1 and never touch the router.
	if path.IsWrap() {
		e.metrics.QuotesTotal.WithLabelValues(string(direction), "passthrough").Inc()
		return Result{Amount: new(big.Int).Set(amount), Status: StatusOK}
	}

	start := time.Now()
	var (
		amounts []*big.Int
		err     error
	)
	if direction == types.ExactIn {
		amounts, err = e.router.GetAmountsOut(ctx, amount, path.Addresses())
	} else {
		amounts, err = e.router.GetAmountsIn(ctx, amount, path.Addresses())
	}
	e.metrics.QuoteDuration.WithLabelValues(string(direction)).Observe(time.Since(start).Seconds())

	if err != nil {
		status := StatusFailed
		if chain.Classify(err) == chain.ReadReverted {
			status = StatusUnavailable
		}
		e.logger.Debug("quote unavailable", "path", path.String(), "direction", direction, "amount", amount.String(), "status", status.String(), "err", err)
		return e.done(direction, Result{Amount: new(big.Int), Status: status, Err: err})
	}

	result := amounts[len(amounts)-1]
	if direction == types.ExactOut {
		result = amounts[0]
	}
	if result == nil || result.Sign() <= 0 {
		return e.done(direction, Result{Amount: new(big.Int), Status: StatusUnavailable})
	}
	return e.done(direction, Result{Amount: result, Status: StatusOK})
}

func (e *Engine) done(direction types.Direction, r Result) Result {
	e.metrics.QuotesTotal.WithLabelValues(string(direction), r.Status.String()).Inc()
	return r
}
