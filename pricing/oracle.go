// Package pricing converts assets to USD prices with caching and graceful
// degradation when the live feed is unavailable.
package pricing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitwit/chainpay/logger"
	"github.com/vitwit/chainpay/metrics"
	"github.com/vitwit/chainpay/types"
)

const (
	DefaultTTL     = 60 * time.Second
	DefaultTimeout = 10 * time.Second
)

type assetPrice struct {
	feedID   string
	stable   bool
	fallback decimal.Decimal
}

// Oracle resolves USD prices for configured assets. A price is only missing
// when the symbol is unknown to the feed and has no static fallback.
type Oracle struct {
	feed    Feed
	cache   Cache
	clock   types.Clock
	logger  logger.Logger
	metrics metrics.Recorder
	ttl     time.Duration
	timeout time.Duration

	assets map[string]assetPrice

	mu       sync.RWMutex
	lastGood map[string]types.Quote
}

type Option func(*Oracle)

func WithFeed(f Feed) Option {
	return func(o *Oracle) { o.feed = f }
}

func WithCache(c Cache) Option {
	return func(o *Oracle) { o.cache = c }
}

func WithClock(c types.Clock) Option {
	return func(o *Oracle) { o.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(o *Oracle) { o.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(o *Oracle) { o.metrics = m }
}

func WithTTL(d time.Duration) Option {
	return func(o *Oracle) { o.ttl = d }
}

func WithTimeout(d time.Duration) Option {
	return func(o *Oracle) { o.timeout = d }
}

// NewOracle builds an oracle for the given assets. When two networks list the
// same symbol the first definition wins.
func NewOracle(assets []types.AssetConfig, opts ...Option) *Oracle {
	o := &Oracle{
		ttl:      DefaultTTL,
		timeout:  DefaultTimeout,
		assets:   make(map[string]assetPrice, len(assets)),
		lastGood: make(map[string]types.Quote),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = types.SystemClock{}
	}
	if o.cache == nil {
		o.cache = NewMemoryCache(o.clock)
	}
	if o.ttl <= 0 {
		o.ttl = DefaultTTL
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	o.logger = logger.OrNoop(o.logger)
	o.metrics = metrics.OrNoop(o.metrics)

	for _, a := range assets {
		symbol := strings.ToUpper(a.Symbol)
		if _, exists := o.assets[symbol]; exists {
			continue
		}
		p := assetPrice{feedID: a.CoingeckoID, stable: a.Stablecoin}
		if a.FallbackUSD != "" {
			if d, err := decimal.NewFromString(a.FallbackUSD); err == nil && d.IsPositive() {
				p.fallback = d
			}
		}
		o.assets[symbol] = p
	}

	return o
}

// GetPrice returns the USD price of one unit of symbol.
func (o *Oracle) GetPrice(ctx context.Context, symbol string) (types.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	asset, ok := o.assets[symbol]
	if !ok {
		return types.Quote{}, types.Errorf(types.ErrPriceUnavailable, "no price source for %s", symbol)
	}

	now := o.clock.Now()
	if asset.stable {
		return types.Quote{Symbol: symbol, PriceUSD: decimal.NewFromInt(1), Source: types.PriceSourceStable, FetchedAt: now}, nil
	}

	if q, hit, err := o.cache.Get(ctx, symbol); err != nil {
		o.logger.Warn("price cache read failed", map[string]any{"symbol": symbol, "error": err})
	} else if hit {
		q.Source = types.PriceSourceCache
		return q, nil
	}

	q, err := o.fetch(ctx, symbol, asset)
	if err == nil {
		return q, nil
	}
	o.logger.Warn("price feed unavailable, using fallback", map[string]any{
		"code":   types.ErrPriceFeedUnavailable,
		"symbol": symbol,
		"error":  err,
	})
	o.metrics.IncCounter(metrics.PriceFallback, map[string]string{"code": types.ErrPriceFeedUnavailable})

	o.mu.RLock()
	last, ok := o.lastGood[symbol]
	o.mu.RUnlock()
	if ok {
		last.Source = types.PriceSourceFallback
		return last, nil
	}

	if asset.fallback.IsPositive() {
		return types.Quote{Symbol: symbol, PriceUSD: asset.fallback, Source: types.PriceSourceFallback, FetchedAt: now}, nil
	}

	return types.Quote{}, types.Errorf(types.ErrPriceUnavailable, "no price available for %s", symbol)
}

func (o *Oracle) fetch(ctx context.Context, symbol string, asset assetPrice) (types.Quote, error) {
	if o.feed == nil {
		return types.Quote{}, types.NewError(types.ErrPriceFeedUnavailable, "no price feed configured")
	}
	if asset.feedID == "" {
		return types.Quote{}, types.Errorf(types.ErrPriceFeedUnavailable, "%s has no feed id", symbol)
	}

	fctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	prices, err := o.feed.FetchUSD(fctx, []string{asset.feedID})
	if err != nil {
		return types.Quote{}, types.WrapError(types.ErrPriceFeedUnavailable, "price feed request failed", err)
	}
	price, ok := prices[asset.feedID]
	if !ok || !price.IsPositive() {
		return types.Quote{}, types.Errorf(types.ErrPriceFeedUnavailable, "feed has no price for %s", asset.feedID)
	}

	q := types.Quote{Symbol: symbol, PriceUSD: price, Source: types.PriceSourceFeed, FetchedAt: o.clock.Now()}

	o.mu.Lock()
	o.lastGood[symbol] = q
	o.mu.Unlock()

	if err := o.cache.Set(ctx, q, o.ttl); err != nil {
		o.logger.Warn("price cache write failed", map[string]any{"symbol": symbol, "error": err})
	}
	return q, nil
}
