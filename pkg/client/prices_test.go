package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amm-swap/pkg/logging"
	"amm-swap/pkg/types"
)

type staticLister struct {
	prices []TokenPrice
	err    error
}

func (s staticLister) TokenPrices(context.Context) ([]TokenPrice, error) {
	return s.prices, s.err
}

func TestPriceBook_FallsBackToStaticPrice(t *testing.T) {
	book := NewPriceBook()
	dai := types.Token{Symbol: "DAI", PriceUSD: 1}
	unknown := types.Token{Symbol: "XYZ"}

	price, ok := book.PriceUSD(dai)
	assert.True(t, ok)
	assert.Equal(t, 1.0, price)

	_, ok = book.PriceUSD(unknown)
	assert.False(t, ok)

	book.Set("dai", 0.998)
	price, ok = book.PriceUSD(dai)
	assert.True(t, ok)
	assert.Equal(t, 0.998, price)
	assert.False(t, book.UpdatedAt().IsZero())
}

func TestPriceBook_IgnoresNonPositive(t *testing.T) {
	book := NewPriceBook()
	book.Set("ETH", 3000)
	book.Set("ETH", 0)
	book.Update(map[string]float64{"ETH": -1})

	price, ok := book.PriceUSD(types.Token{Symbol: "ETH"})
	require.True(t, ok)
	assert.Equal(t, 3000.0, price)
}

func TestPriceFeed_RefreshFiltersByChain(t *testing.T) {
	lister := staticLister{prices: []TokenPrice{
		{Symbol: "USDC", Blockchain: "eth", PriceUSD: 1.0001},
		{Symbol: "USDC", Blockchain: "sol", PriceUSD: 0.5},
		{Symbol: "ETH", Blockchain: "eth", PriceUSD: 3100},
		{Symbol: "SOL", Blockchain: "sol", PriceUSD: 150},
		{Symbol: "DEAD", Blockchain: "eth", PriceUSD: 0},
	}}
	book := NewPriceBook()
	feed := NewPriceFeed(lister, "ETH", book, logging.Discard())
	feed.Alias("ETH", "WETH")

	require.NoError(t, feed.Refresh(context.Background()))

	tests := []struct {
		symbol string
		want   float64
		ok     bool
	}{
		{"USDC", 1.0001, true},
		{"ETH", 3100, true},
		{"WETH", 3100, true},
		{"SOL", 0, false},
		{"DEAD", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			price, ok := feed.Book().PriceUSD(types.Token{Symbol: tt.symbol})
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, price)
		})
	}
}

func TestPriceFeed_RefreshErrorKeepsBook(t *testing.T) {
	book := NewPriceBook()
	book.Set("ETH", 2500)
	feed := NewPriceFeed(staticLister{err: errors.New("503")}, "eth", book, logging.Discard())

	err := feed.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to refresh prices")

	price, _ := book.PriceUSD(types.Token{Symbol: "ETH"})
	assert.Equal(t, 2500.0, price)
}

func TestOneClickClient_TokenPrices(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"assetId":"nep141:eth.omft.near","decimals":18,"blockchain":"eth","symbol":"ETH","price":3050.5,"priceUpdatedAt":"2025-01-01T00:00:00Z","contractAddress":""},
			{"assetId":"nep141:eth-0xa0b8.omft.near","decimals":6,"blockchain":"eth","symbol":"usdc","price":1,"priceUpdatedAt":"2025-01-01T00:00:00Z","contractAddress":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"}
		]`))
	}))
	defer srv.Close()

	c := NewOneClickClient("secret", srv.URL)
	prices, err := c.TokenPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 2)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, TokenPrice{Symbol: "ETH", Blockchain: "eth", PriceUSD: 3050.5}, prices[0])
	assert.Equal(t, "USDC", prices[1].Symbol)
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", prices[1].Contract)
}
