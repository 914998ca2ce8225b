package client

import (
	"context"
	"fmt"
	"strings"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
)

// DefaultBaseURL is the public 1Click endpoint
const DefaultBaseURL = "https://1click.chaindefuser.com"

// TokenPrice is one entry of the 1Click token list reduced to what pricing needs
type TokenPrice struct {
	Symbol     string
	Blockchain string
	Contract   string
	PriceUSD   float64
}

// OneClickClient wraps the 1Click SDK
type OneClickClient struct {
	client *oneclick.APIClient
	token  string
}

// NewOneClickClient creates a new 1Click API client
func NewOneClickClient(jwtToken, baseURL string) *OneClickClient {
	config := oneclick.NewConfiguration()
	if baseURL != "" && baseURL != DefaultBaseURL {
		config.Servers = oneclick.ServerConfigurations{{URL: baseURL}}
	}

	return &OneClickClient{
		client: oneclick.NewAPIClient(config),
		token:  jwtToken,
	}
}

func (c *OneClickClient) authorize(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return context.WithValue(ctx, oneclick.ContextAccessToken, c.token)
}

// GetSupportedTokens retrieves all supported tokens
func (c *OneClickClient) GetSupportedTokens(ctx context.Context) ([]oneclick.TokenResponse, error) {
	resp, httpResp, err := c.client.OneClickAPI.GetTokens(c.authorize(ctx)).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != 200 {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	return resp, nil
}

// TokenPrices returns the USD price of every listed token
func (c *OneClickClient) TokenPrices(ctx context.Context) ([]TokenPrice, error) {
	tokens, err := c.GetSupportedTokens(ctx)
	if err != nil {
		return nil, err
	}

	prices := make([]TokenPrice, 0, len(tokens))
	for _, token := range tokens {
		prices = append(prices, TokenPrice{
			Symbol:     strings.ToUpper(token.GetSymbol()),
			Blockchain: strings.ToLower(token.GetBlockchain()),
			Contract:   strings.ToLower(token.GetContractAddress()),
			PriceUSD:   float64(token.GetPrice()),
		})
	}
	return prices, nil
}
