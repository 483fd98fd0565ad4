package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// DefaultCoinGeckoURL is the public CoinGecko API.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// Feed fetches live USD prices keyed by feed id.
type Feed interface {
	FetchUSD(ctx context.Context, ids []string) (map[string]decimal.Decimal, error)
}

// CoinGeckoFeed reads /simple/price.
type CoinGeckoFeed struct {
	client *resty.Client
	apiKey string
}

func NewCoinGeckoFeed(baseURL, apiKey string) *CoinGeckoFeed {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(DefaultTimeout)

	return &CoinGeckoFeed{client: client, apiKey: apiKey}
}

// SetTimeout bounds every request made by the feed.
func (f *CoinGeckoFeed) SetTimeout(d time.Duration) *CoinGeckoFeed {
	f.client.SetTimeout(d)
	return f
}

func (f *CoinGeckoFeed) FetchUSD(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	if len(ids) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	req := f.client.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(ids, ",")).
		SetQueryParam("vs_currencies", "usd")
	if f.apiKey != "" {
		req.SetHeader("x-cg-demo-api-key", f.apiKey)
	}

	resp, err := req.Get("/simple/price")
	if err != nil {
		return nil, fmt.Errorf("coingecko request failed: %w", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, fmt.Errorf("coingecko rate limited")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("coingecko returned status %d", resp.StatusCode())
	}

	var body map[string]map[string]json.Number
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("malformed coingecko response: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(body))
	for id, quotes := range body {
		raw, ok := quotes["usd"]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(raw.String())
		if err != nil || !price.IsPositive() {
			continue
		}
		out[id] = price
	}
	return out, nil
}
