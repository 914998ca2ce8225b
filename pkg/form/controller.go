// Package form keeps the pay/receive pair of a swap form consistent.
//
// Exactly one side is active: the side the user last typed into. Only the
// other side is ever written by a quote, and quote writes never schedule
// another quote, so the two fields cannot chase each other.
package form

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"amm-swap/pkg/metrics"
	"amm-swap/pkg/quote"
	"amm-swap/pkg/types"
	"amm-swap/pkg/units"
)

// DefaultDebounce is the quiet period after the last keystroke before quoting
const DefaultDebounce = 600 * time.Millisecond

// Side names one of the two amount fields
type Side string

const (
	SidePay     Side = "pay"
	SideReceive Side = "receive"
)

// Quoter is the subset of quote.Engine the form uses
type Quoter interface {
	QuoteOut(ctx context.Context, amountIn *big.Int, path types.Path) quote.Result
	QuoteIn(ctx context.Context, amountOut *big.Int, path types.Path) quote.Result
}

// State is a copy of the form at one instant
type State struct {
	PayToken         types.Token
	ReceiveToken     types.Token
	PayAmount        string
	ReceiveAmount    string
	Active           Side
	Quoting          bool
	QuoteUnavailable bool
}

// Controller is safe for concurrent use
type Controller struct {
	mu       sync.Mutex
	state    State
	seq      uint64
	timer    *time.Timer
	closed   bool
	debounce time.Duration

	quoter        Quoter
	wrappedNative common.Address
	observer      func(State)
	metrics       *metrics.Metrics
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// Option customises a Controller
type Option func(*Controller)

// WithDebounce overrides DefaultDebounce
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithObserver registers a callback that receives every state change.
// It is called without the controller lock held.
func WithObserver(fn func(State)) Option {
	return func(c *Controller) { c.observer = fn }
}

// NewController creates a form for pay -> receive
func NewController(quoter Quoter, wrappedNative common.Address, pay, receive types.Token, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		state: State{
			PayToken:     pay,
			ReceiveToken: receive,
			Active:       SidePay,
		},
		debounce:      DefaultDebounce,
		quoter:        quoter,
		wrappedNative: wrappedNative,
		metrics:       m,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot of the form
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Path returns the current path after native aliasing
func (c *Controller) Path() types.Path {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.NewPath(c.state.PayToken, c.state.ReceiveToken, c.wrappedNative)
}

// EditPay records user input in the pay field
func (c *Controller) EditPay(text string) {
	c.edit(SidePay, text)
}

// EditReceive records user input in the receive field
func (c *Controller) EditReceive(text string) {
	c.edit(SideReceive, text)
}

func (c *Controller) edit(side Side, text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state.Active = side
	if side == SidePay {
		c.state.PayAmount = text
	} else {
		c.state.ReceiveAmount = text
	}
	c.rescheduleLocked()
	snapshot := c.state
	c.mu.Unlock()

	c.notify(snapshot)
}

// SetTokens changes both tokens and re-quotes from the active side
func (c *Controller) SetTokens(pay, receive types.Token) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state.PayToken = pay
	c.state.ReceiveToken = receive
	c.rescheduleLocked()
	snapshot := c.state
	c.mu.Unlock()

	c.notify(snapshot)
}

// Flip swaps the two tokens and clears both amounts
func (c *Controller) Flip() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.seq++
	c.stopTimerLocked()
	reversed := types.NewPath(c.state.PayToken, c.state.ReceiveToken, c.wrappedNative).Reverse()
	c.state = State{
		PayToken:     reversed.From,
		ReceiveToken: reversed.To,
		Active:       SidePay,
	}
	snapshot := c.state
	c.mu.Unlock()

	c.notify(snapshot)
}

// Requote refreshes the derived side now, e.g. after the pool reserves moved
func (c *Controller) Requote() {
	c.mu.Lock()
	if c.closed || units.IsBlankOrNonPositive(c.activeTextLocked()) {
		c.mu.Unlock()
		return
	}
	c.seq++
	c.stopTimerLocked()
	c.state.Quoting = true
	seq, side, text := c.seq, c.state.Active, c.activeTextLocked()
	c.mu.Unlock()

	go c.refresh(seq, side, text)
}

// Close stops the pending refresh; later edits are ignored
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.seq++
	c.stopTimerLocked()
	c.cancel()
}

// rescheduleLocked invalidates any in-flight quote and either clears the
// derived side or arms the debounce timer for it
func (c *Controller) rescheduleLocked() {
	c.seq++
	c.stopTimerLocked()

	text := c.activeTextLocked()
	if units.IsBlankOrNonPositive(text) {
		c.setDerivedLocked("")
		c.state.Quoting = false
		c.state.QuoteUnavailable = false
		return
	}

	c.state.Quoting = true
	seq, side := c.seq, c.state.Active
	c.timer = time.AfterFunc(c.debounce, func() {
		c.refresh(seq, side, text)
	})
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) activeTextLocked() string {
	if c.state.Active == SidePay {
		return c.state.PayAmount
	}
	return c.state.ReceiveAmount
}

func (c *Controller) setDerivedLocked(text string) {
	if c.state.Active == SidePay {
		c.state.ReceiveAmount = text
	} else {
		c.state.PayAmount = text
	}
}

// refresh quotes the derived side for the input captured at schedule time
func (c *Controller) refresh(seq uint64, side Side, text string) {
	c.mu.Lock()
	pay, receive := c.state.PayToken, c.state.ReceiveToken
	c.mu.Unlock()

	path := types.NewPath(pay, receive, c.wrappedNative)

	var (
		res         quote.Result
		derivedDecs uint8
	)
	if side == SidePay {
		amount, err := units.PositiveBaseUnits(text, pay.Decimals)
		if err != nil {
			res = quote.Result{Amount: new(big.Int), Status: quote.StatusUnavailable, Err: err}
		} else {
			res = c.quoter.QuoteOut(c.ctx, amount, path)
		}
		derivedDecs = receive.Decimals
	} else {
		amount, err := units.PositiveBaseUnits(text, receive.Decimals)
		if err != nil {
			res = quote.Result{Amount: new(big.Int), Status: quote.StatusUnavailable, Err: err}
		} else {
			res = c.quoter.QuoteIn(c.ctx, amount, path)
		}
		derivedDecs = pay.Decimals
	}

	c.mu.Lock()
	if seq != c.seq || side != c.state.Active || text != c.activeTextLocked() {
		c.mu.Unlock()
		c.metrics.StaleQuotes.Inc()
		c.logger.Debug("discarding stale quote", "side", side, "input", text)
		return
	}

	if res.OK() {
		c.setDerivedLocked(units.FromBaseUnits(res.Amount, derivedDecs))
		c.state.QuoteUnavailable = false
	} else {
		c.setDerivedLocked("")
		c.state.QuoteUnavailable = true
	}
	c.state.Quoting = false
	snapshot := c.state
	c.mu.Unlock()

	c.notify(snapshot)
}

func (c *Controller) notify(s State) {
	if c.observer != nil {
		c.observer(s)
	}
}
