// Package api exposes quotes, pool statistics and metrics over HTTP so a UI
// can poll the client instead of talking to the node directly.
package api

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"amm-swap/pkg/quote"
	"amm-swap/pkg/stats"
	"amm-swap/pkg/types"
	"amm-swap/pkg/units"
)

// Quoter prices a path in either direction
type Quoter interface {
	Quote(ctx context.Context, direction types.Direction, amount *big.Int, path types.Path) (types.Quote, quote.Result)
}

// PoolStats snapshots pools; it degrades instead of failing
type PoolStats interface {
	Snapshot(ctx context.Context, tokenA, tokenB types.Token, account common.Address) stats.Stats
	List(ctx context.Context, pairs [][2]types.Token, account common.Address) []stats.Stats
}

// Options wires the server's collaborators
type Options struct {
	Quoter        Quoter
	Pools         PoolStats
	Tokens        *types.TokenList
	Pairs         [][2]types.Token
	WrappedNative common.Address
	// Account returns the connected account, or the zero address
	Account  func() common.Address
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the local HTTP API
type Server struct {
	app  *fiber.App
	opts Options
}

// QuoteRequest is the query of GET /quote
type QuoteRequest struct {
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Amount string `query:"amount" json:"amount"`
	Side   string `query:"side" json:"side"`
}

// QuoteResponse carries display amounts and the raw smallest-unit values
type QuoteResponse struct {
	From         string          `json:"from"`
	To           string          `json:"to"`
	Direction    types.Direction `json:"direction"`
	AmountIn     string          `json:"amount_in"`
	AmountOut    string          `json:"amount_out"`
	AmountInRaw  string          `json:"amount_in_raw"`
	AmountOutRaw string          `json:"amount_out_raw"`
	Available    bool            `json:"available"`
	Wrap         bool            `json:"wrap"`
}

// NewServer builds the fiber app and registers routes
func NewServer(opts Options) *Server {
	if opts.Account == nil {
		opts.Account = func() common.Address { return common.Address{} }
	}

	s := &Server{app: fiber.New(), opts: opts}
	s.app.Get("/quote", s.handleQuote)
	s.app.Get("/pools", s.handlePools)
	s.app.Get("/pools/:a/:b", s.handlePool)
	s.app.Get("/healthz", func(c fiber.Ctx) error { return c.SendString("ok") })
	if opts.Gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops the listener
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) token(symbol string) (types.Token, error) {
	t, err := s.opts.Tokens.Lookup(symbol)
	if err != nil {
		return types.Token{}, NewUnknownToken(strings.ToUpper(symbol))
	}
	return t, nil
}

func (s *Server) handleQuote(c fiber.Ctx) error {
	var req QuoteRequest
	if err := c.Bind().Query(&req); err != nil {
		s.opts.Logger.Debug("failed to bind query parameters", "err", err)
		return ErrInvalidQueryParameters
	}

	from, err := s.token(req.From)
	if err != nil {
		return err
	}
	to, err := s.token(req.To)
	if err != nil {
		return err
	}
	if from.Symbol == to.Symbol {
		return ErrSameToken
	}

	direction := types.ExactIn
	switch strings.ToLower(req.Side) {
	case "", "pay":
	case "receive":
		direction = types.ExactOut
	default:
		return ErrInvalidSide
	}

	if strings.TrimSpace(req.Amount) == "" {
		return ErrAmountRequired
	}
	fixed := from
	if direction == types.ExactOut {
		fixed = to
	}
	amount, err := units.PositiveBaseUnits(req.Amount, fixed.Decimals)
	if err != nil {
		return NewInvalidAmount(err)
	}

	path := types.NewPath(from, to, s.opts.WrappedNative)
	q, res := s.opts.Quoter.Quote(c.Context(), direction, amount, path)
	if res.Status == quote.StatusFailed {
		s.opts.Logger.Error("quote failed", "path", path.String(), "err", res.Err)
		return ErrQuoteFailed
	}

	resp := QuoteResponse{
		From:      from.Symbol,
		To:        to.Symbol,
		Direction: direction,
		Available: res.OK(),
		Wrap:      path.IsWrap(),
	}
	// An unavailable quote leaves the derived side blank.
	if direction == types.ExactIn {
		resp.AmountIn, resp.AmountInRaw = units.FromBaseUnits(amount, from.Decimals), amount.String()
		if res.OK() {
			resp.AmountOut, resp.AmountOutRaw = units.FromBaseUnits(q.AmountOut, to.Decimals), q.AmountOut.String()
		}
	} else {
		resp.AmountOut, resp.AmountOutRaw = units.FromBaseUnits(amount, to.Decimals), amount.String()
		if res.OK() {
			resp.AmountIn, resp.AmountInRaw = units.FromBaseUnits(q.AmountIn, from.Decimals), q.AmountIn.String()
		}
	}
	return c.JSON(resp)
}

func (s *Server) handlePools(c fiber.Ctx) error {
	return c.JSON(s.opts.Pools.List(c.Context(), s.opts.Pairs, s.opts.Account()))
}

func (s *Server) handlePool(c fiber.Ctx) error {
	a, err := s.token(c.Params("a"))
	if err != nil {
		return err
	}
	b, err := s.token(c.Params("b"))
	if err != nil {
		return err
	}
	if a.Symbol == b.Symbol {
		return ErrSameToken
	}
	return c.JSON(s.opts.Pools.Snapshot(c.Context(), a, b, s.opts.Account()))
}
