package chainpay

import (
	"github.com/vitwit/chainpay/clients"
	"github.com/vitwit/chainpay/invoice"
	"github.com/vitwit/chainpay/logger"
	"github.com/vitwit/chainpay/metrics"
	"github.com/vitwit/chainpay/pricing"
	"github.com/vitwit/chainpay/settlement"
	"github.com/vitwit/chainpay/types"
)

type Option func(*ChainPay)

func WithLogger(l logger.Logger) Option {
	return func(c *ChainPay) {
		c.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *ChainPay) {
		c.metrics = r
	}
}

func WithClock(clock types.Clock) Option {
	return func(c *ChainPay) {
		c.clock = clock
	}
}

// WithStore sets the invoice store. It is closed by Close.
func WithStore(s invoice.Store) Option {
	return func(c *ChainPay) {
		c.store = s
	}
}

// WithActivator sets the collaborator that activates subscriptions for
// confirmed invoices.
func WithActivator(a settlement.Activator) Option {
	return func(c *ChainPay) {
		c.activator = a
	}
}

func WithPriceFeed(f pricing.Feed) Option {
	return func(c *ChainPay) {
		c.priceFeed = f
	}
}

func WithPriceCache(cache pricing.Cache) Option {
	return func(c *ChainPay) {
		c.priceCache = cache
	}
}

// WithChainClient uses client for its network instead of dialing the
// configured RPC endpoints.
func WithChainClient(client clients.ChainClient) Option {
	return func(c *ChainPay) {
		c.injected = append(c.injected, client)
	}
}
