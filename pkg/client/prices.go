package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"amm-swap/pkg/types"
)

// PriceLister yields USD prices for listed tokens
type PriceLister interface {
	TokenPrices(ctx context.Context) ([]TokenPrice, error)
}

// PriceBook holds the last known USD price per symbol. Live prices from the
// feed take precedence over the static price configured on the token.
type PriceBook struct {
	mu        sync.RWMutex
	prices    map[string]float64
	updatedAt time.Time
}

// NewPriceBook creates an empty price book
func NewPriceBook() *PriceBook {
	return &PriceBook{prices: make(map[string]float64)}
}

// Set records a price for a symbol; non-positive prices are ignored
func (b *PriceBook) Set(symbol string, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[strings.ToUpper(symbol)] = price
	b.updatedAt = time.Now()
}

// Update merges a batch of prices
func (b *PriceBook) Update(prices map[string]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for symbol, price := range prices {
		if price > 0 {
			b.prices[strings.ToUpper(symbol)] = price
		}
	}
	b.updatedAt = time.Now()
}

// PriceUSD returns the live price for the token, falling back to its static price
func (b *PriceBook) PriceUSD(t types.Token) (float64, bool) {
	b.mu.RLock()
	price, ok := b.prices[strings.ToUpper(t.Symbol)]
	b.mu.RUnlock()
	if ok {
		return price, true
	}
	if t.PriceUSD > 0 {
		return t.PriceUSD, true
	}
	return 0, false
}

// UpdatedAt returns when the book last changed
func (b *PriceBook) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// PriceFeed refreshes a PriceBook from the token list of one blockchain
type PriceFeed struct {
	source PriceLister
	chain  string
	book   *PriceBook
	// aliases map a listed symbol to the local symbol that shares its price
	aliases map[string]string
	logger  *slog.Logger
}

// NewPriceFeed creates a feed for the given blockchain (empty matches all)
func NewPriceFeed(source PriceLister, chain string, book *PriceBook, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		source:  source,
		chain:   strings.ToLower(chain),
		book:    book,
		aliases: make(map[string]string),
		logger:  logger,
	}
}

// Alias prices local as listed, e.g. WETH as ETH
func (f *PriceFeed) Alias(listed, local string) {
	f.aliases[strings.ToUpper(listed)] = strings.ToUpper(local)
}

// Refresh fetches prices and merges them into the book
func (f *PriceFeed) Refresh(ctx context.Context) error {
	listed, err := f.source.TokenPrices(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh prices: %w", err)
	}

	prices := make(map[string]float64)
	for _, p := range listed {
		if f.chain != "" && p.Blockchain != f.chain {
			continue
		}
		if p.PriceUSD <= 0 {
			continue
		}
		// First listing of a symbol wins; the API lists canonical tokens first.
		if _, seen := prices[p.Symbol]; !seen {
			prices[p.Symbol] = p.PriceUSD
		}
		if local, ok := f.aliases[p.Symbol]; ok {
			if _, seen := prices[local]; !seen {
				prices[local] = p.PriceUSD
			}
		}
	}

	f.book.Update(prices)
	f.logger.Debug("prices refreshed", "chain", f.chain, "count", len(prices))
	return nil
}

// Book returns the book the feed writes to
func (f *PriceFeed) Book() *PriceBook {
	return f.book
}
