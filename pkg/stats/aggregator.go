// Package stats derives TVL, volume, APR and the "hot" flag of a pool from
// its reserves and a bounded window of Swap events.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"amm-swap/pkg/chain"
	"amm-swap/pkg/metrics"
	"amm-swap/pkg/types"
	"amm-swap/pkg/units"
)

const (
	DefaultLookbackBlocks = 7200 // about one day of 12s blocks
	DefaultConcurrency    = 4
)

var daysPerYear = decimal.NewFromInt(365)

// Config holds the aggregation parameters
type Config struct {
	FeeRate        decimal.Decimal
	// LookbackBlocks is the number of blocks in the event window, head included
	LookbackBlocks uint64
	HotTVLUSD      decimal.Decimal
	HotAPRPercent  decimal.Decimal
	Concurrency    int
}

// DefaultConfig returns a 0.3% fee, a one-day window, and hot thresholds of
// $100k TVL or 50% APR
func DefaultConfig() Config {
	return Config{
		FeeRate:        decimal.RequireFromString("0.003"),
		LookbackBlocks: DefaultLookbackBlocks,
		HotTVLUSD:      decimal.NewFromInt(100_000),
		HotAPRPercent:  decimal.NewFromInt(50),
		Concurrency:    DefaultConcurrency,
	}
}

// PriceSource returns the last known USD price of a token
type PriceSource interface {
	PriceUSD(token types.Token) (float64, bool)
}

// ChainReader is the read surface the aggregator needs
type ChainReader interface {
	GetPair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error)
	GetReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error)
	Token0(ctx context.Context, pair common.Address) (common.Address, error)
	TotalSupply(ctx context.Context, token common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterPairEvents(ctx context.Context, pair common.Address, from, to uint64) (*chain.PairEvents, error)
}

// Stats is a pool snapshot for display. A Degraded snapshot carries zeros.
// Raw token quantities are encoded as decimal strings in JSON.
type Stats struct {
	Pair      common.Address  `json:"pair"`
	TokenA    string          `json:"token_a"`
	TokenB    string          `json:"token_b"`
	Exists    bool            `json:"exists"`
	ReserveA  *big.Int        `json:"reserve_a"`
	ReserveB  *big.Int        `json:"reserve_b"`
	TVL       decimal.Decimal `json:"tvl_usd"`
	Volume    decimal.Decimal `json:"volume_usd"`
	APR       decimal.Decimal `json:"apr_percent"`
	IsHot     bool            `json:"is_hot"`
	Swaps     int             `json:"swaps"`
	Mints     int             `json:"mints"`
	Burns     int             `json:"burns"`
	FromBlock uint64          `json:"from_block"`
	ToBlock   uint64          `json:"to_block"`
	UserLP    *big.Int        `json:"user_lp,omitempty"`
	UserShare decimal.Decimal `json:"user_share_percent"`
	Degraded  bool            `json:"degraded"`
}

type statsAlias Stats

// statsWire overrides the integer fields of Stats with string encodings
type statsWire struct {
	statsAlias
	ReserveA string `json:"reserve_a"`
	ReserveB string `json:"reserve_b"`
	UserLP   string `json:"user_lp,omitempty"`
}

func (s Stats) MarshalJSON() ([]byte, error) {
	w := statsWire{statsAlias: statsAlias(s), ReserveA: "0", ReserveB: "0"}
	if s.ReserveA != nil {
		w.ReserveA = s.ReserveA.String()
	}
	if s.ReserveB != nil {
		w.ReserveB = s.ReserveB.String()
	}
	if s.UserLP != nil {
		w.UserLP = s.UserLP.String()
	}
	return json.Marshal(w)
}

func (s *Stats) UnmarshalJSON(data []byte) error {
	var w statsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = Stats(w.statsAlias)

	var err error
	if s.ReserveA, err = parseQuantity(w.ReserveA); err != nil {
		return fmt.Errorf("invalid reserve_a: %w", err)
	}
	if s.ReserveB, err = parseQuantity(w.ReserveB); err != nil {
		return fmt.Errorf("invalid reserve_b: %w", err)
	}
	if s.UserLP, err = parseQuantity(w.UserLP); err != nil {
		return fmt.Errorf("invalid user_lp: %w", err)
	}
	return nil
}

func parseQuantity(v string) (*big.Int, error) {
	if v == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("not an integer: %q", v)
	}
	return n, nil
}

// PairKey is the label used for a token pair in logs and metrics
func PairKey(tokenA, tokenB types.Token) string {
	return tokenA.Symbol + "/" + tokenB.Symbol
}

// Aggregator computes pool statistics; it never returns an error to the caller
type Aggregator struct {
	reader        ChainReader
	prices        PriceSource
	wrappedNative common.Address
	config        Config
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewAggregator creates an aggregator
func NewAggregator(reader ChainReader, prices PriceSource, wrappedNative common.Address, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Aggregator{
		reader:        reader,
		prices:        prices,
		wrappedNative: wrappedNative,
		config:        cfg,
		metrics:       m,
		logger:        logger,
	}
}

func (a *Aggregator) alias(t types.Token) common.Address {
	if t.IsNative() {
		return a.wrappedNative
	}
	return t.Address
}

func zeroStats(tokenA, tokenB types.Token) Stats {
	return Stats{
		TokenA:    tokenA.Symbol,
		TokenB:    tokenB.Symbol,
		ReserveA:  new(big.Int),
		ReserveB:  new(big.Int),
		TVL:       decimal.Zero,
		Volume:    decimal.Zero,
		APR:       decimal.Zero,
		UserShare: decimal.Zero,
	}
}

// Snapshot computes the statistics of the tokenA/tokenB pool. account may
// be the zero address when no wallet is connected.
func (a *Aggregator) Snapshot(ctx context.Context, tokenA, tokenB types.Token, account common.Address) Stats {
	key := PairKey(tokenA, tokenB)
	s, err := a.snapshot(ctx, tokenA, tokenB, account)
	if err != nil {
		a.logger.Warn("pool stats degraded", "pair", key, "err", err)
		a.metrics.PoolSnapshotsTotal.WithLabelValues("degraded").Inc()
		degraded := zeroStats(tokenA, tokenB)
		degraded.Degraded = true
		return degraded
	}

	a.metrics.PoolSnapshotsTotal.WithLabelValues("ok").Inc()
	a.metrics.PoolTVL.WithLabelValues(key).Set(s.TVL.InexactFloat64())
	a.metrics.PoolAPR.WithLabelValues(key).Set(s.APR.InexactFloat64())
	return s
}

func (a *Aggregator) snapshot(ctx context.Context, tokenA, tokenB types.Token, account common.Address) (Stats, error) {
	s := zeroStats(tokenA, tokenB)
	addrA, addrB := a.alias(tokenA), a.alias(tokenB)

	pair, err := a.reader.GetPair(ctx, addrA, addrB)
	if err != nil {
		return s, fmt.Errorf("failed to resolve pair: %w", err)
	}
	if pair == (common.Address{}) {
		return s, nil
	}
	s.Pair = pair
	s.Exists = true

	reserve0, reserve1, err := a.reader.GetReserves(ctx, pair)
	if err != nil {
		return s, fmt.Errorf("failed to read reserves: %w", err)
	}
	token0, err := a.reader.Token0(ctx, pair)
	if err != nil {
		return s, fmt.Errorf("failed to read token0: %w", err)
	}
	aIsToken0 := token0 == addrA
	if aIsToken0 {
		s.ReserveA, s.ReserveB = reserve0, reserve1
	} else {
		s.ReserveA, s.ReserveB = reserve1, reserve0
	}

	priceA, _ := a.prices.PriceUSD(tokenA)
	priceB, _ := a.prices.PriceUSD(tokenB)
	s.TVL = units.USDValue(s.ReserveA, tokenA.Decimals, priceA).Add(units.USDValue(s.ReserveB, tokenB.Decimals, priceB))

	head, err := a.reader.BlockNumber(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to read block number: %w", err)
	}
	// The window [from, head] holds exactly LookbackBlocks blocks.
	from := uint64(0)
	if head >= a.config.LookbackBlocks {
		from = head - a.config.LookbackBlocks + 1
	}
	s.FromBlock, s.ToBlock = from, head

	events, err := a.reader.FilterPairEvents(ctx, pair, from, head)
	if err != nil {
		return s, err
	}
	s.Swaps, s.Mints, s.Burns = len(events.Swaps), events.Mints, events.Burns

	// Only input legs count, so a swap is not counted twice.
	price0, dec0, price1, dec1 := priceA, tokenA.Decimals, priceB, tokenB.Decimals
	if !aIsToken0 {
		price0, dec0, price1, dec1 = priceB, tokenB.Decimals, priceA, tokenA.Decimals
	}
	volume := decimal.Zero
	for _, ev := range events.Swaps {
		volume = volume.Add(units.USDValue(ev.Amount0In, dec0, price0)).Add(units.USDValue(ev.Amount1In, dec1, price1))
	}
	s.Volume = volume
	s.APR = APR(volume, a.config.FeeRate, s.TVL)
	s.IsHot = s.TVL.GreaterThan(a.config.HotTVLUSD) || s.APR.GreaterThan(a.config.HotAPRPercent)

	if account != (common.Address{}) {
		supply, err := a.reader.TotalSupply(ctx, pair)
		if err != nil {
			return s, fmt.Errorf("failed to read LP supply: %w", err)
		}
		lp, err := a.reader.BalanceOf(ctx, pair, account)
		if err != nil {
			return s, fmt.Errorf("failed to read LP balance: %w", err)
		}
		s.UserLP = lp
		if supply.Sign() > 0 {
			s.UserShare = decimal.NewFromBigInt(lp, 0).Div(decimal.NewFromBigInt(supply, 0)).Mul(decimal.NewFromInt(100))
		}
	}
	return s, nil
}

// APR annualises one day of fees against TVL, in percent; 0 when TVL is 0
func APR(dailyVolume, feeRate, tvl decimal.Decimal) decimal.Decimal {
	if tvl.Sign() <= 0 {
		return decimal.Zero
	}
	return dailyVolume.Mul(feeRate).Mul(daysPerYear).Div(tvl).Mul(decimal.NewFromInt(100))
}

// List snapshots several pools with bounded concurrency, preserving order
func (a *Aggregator) List(ctx context.Context, pairs [][2]types.Token, account common.Address) []Stats {
	out := make([]Stats, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Concurrency)

	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			out[i] = a.Snapshot(gctx, p[0], p[1], account)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
