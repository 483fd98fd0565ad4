// Package chainpay issues USD-priced crypto invoices and verifies the
// payments made against them on EVM and Solana networks.
package chainpay

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitwit/chainpay/clients"
	"github.com/vitwit/chainpay/invoice"
	"github.com/vitwit/chainpay/logger"
	"github.com/vitwit/chainpay/metrics"
	"github.com/vitwit/chainpay/pricing"
	"github.com/vitwit/chainpay/registry"
	"github.com/vitwit/chainpay/scanner"
	"github.com/vitwit/chainpay/settlement"
	"github.com/vitwit/chainpay/types"
	"github.com/vitwit/chainpay/verification"
)

// Config holds the networks and the policy knobs. Zero values select the
// package defaults.
type Config struct {
	Networks []types.NetworkConfig

	// ToleranceRate is the accepted underpayment fraction. Nil selects the
	// default; zero requires the exact amount.
	ToleranceRate      *decimal.Decimal
	InvoiceTTL         time.Duration
	VerifyTimeout      time.Duration
	ScanTimeout        time.Duration
	ScanDepth          int
	RPCMaxAttempts     int
	RPCAttemptTimeout  time.Duration
	PriceTTL           time.Duration
	PriceTimeout       time.Duration
	SubscriptionPeriod time.Duration
}

// ChainPay wires the registry, price oracle, chain clients, invoice store,
// verifier, scanner and settlement together.
type ChainPay struct {
	registry   *registry.Registry
	chains     *clients.Set
	prices     *pricing.Oracle
	invoices   *invoice.Manager
	verifier   *verification.VerificationService
	scanner    *scanner.Scanner
	settlement *settlement.SettlementService
	scanDepth  int

	store      invoice.Store
	activator  settlement.Activator
	priceFeed  pricing.Feed
	priceCache pricing.Cache
	injected   []clients.ChainClient
	clock      types.Clock
	logger     logger.Logger
	metrics    metrics.Recorder
}

// New validates the configuration and builds a ready ChainPay. RPC
// connections are established lazily on first use.
func New(cfg Config, opts ...Option) (*ChainPay, error) {
	reg, err := registry.New(cfg.Networks)
	if err != nil {
		return nil, err
	}

	c := &ChainPay{registry: reg, scanDepth: cfg.ScanDepth}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = types.SystemClock{}
	}
	c.logger = logger.OrNoop(c.logger)
	c.metrics = metrics.OrNoop(c.metrics)
	if c.store == nil {
		c.store = invoice.NewMemoryStore()
	}
	if c.activator == nil {
		c.activator = settlement.NewMemorySubscriptionStore(
			settlement.WithPeriod(cfg.SubscriptionPeriod),
			settlement.WithStoreClock(c.clock),
		)
	}

	c.chains, err = c.dialChains(reg.List(), cfg)
	if err != nil {
		return nil, err
	}

	var assets []types.AssetConfig
	for _, n := range reg.List() {
		assets = append(assets, n.Assets...)
	}
	priceOpts := []pricing.Option{
		pricing.WithClock(c.clock),
		pricing.WithLogger(c.logger),
		pricing.WithMetrics(c.metrics),
		pricing.WithTTL(cfg.PriceTTL),
		pricing.WithTimeout(cfg.PriceTimeout),
	}
	if c.priceFeed != nil {
		priceOpts = append(priceOpts, pricing.WithFeed(c.priceFeed))
	}
	if c.priceCache != nil {
		priceOpts = append(priceOpts, pricing.WithCache(c.priceCache))
	}
	c.prices = pricing.NewOracle(assets, priceOpts...)

	c.invoices = invoice.NewManager(reg, c.prices, c.store,
		invoice.WithClock(c.clock),
		invoice.WithLogger(c.logger),
		invoice.WithMetrics(c.metrics),
		invoice.WithDefaultTTL(cfg.InvoiceTTL),
	)

	c.settlement = settlement.NewSettlementService(c.store, c.activator,
		settlement.WithClock(c.clock),
		settlement.WithLogger(c.logger),
		settlement.WithMetrics(c.metrics),
	)

	verifyOpts := []verification.Option{
		verification.WithSettler(c.settlement),
		verification.WithTimeout(cfg.VerifyTimeout),
		verification.WithLogger(c.logger),
		verification.WithMetrics(c.metrics),
	}
	scanOpts := []scanner.Option{
		scanner.WithTimeout(cfg.ScanTimeout),
		scanner.WithLogger(c.logger),
		scanner.WithMetrics(c.metrics),
	}
	if cfg.ToleranceRate != nil {
		verifyOpts = append(verifyOpts, verification.WithTolerance(*cfg.ToleranceRate))
		scanOpts = append(scanOpts, scanner.WithTolerance(*cfg.ToleranceRate))
	}
	c.verifier = verification.NewVerificationService(c.invoices, reg, c.chains, verifyOpts...)
	c.scanner = scanner.New(reg, c.chains, scanOpts...)

	c.logger.Info("chainpay ready", map[string]any{"networks": len(cfg.Networks)})
	return c, nil
}

func (c *ChainPay) dialChains(networks []types.NetworkConfig, cfg Config) (*clients.Set, error) {
	set := clients.NewSet()
	injected := make(map[types.NetworkID]clients.ChainClient, len(c.injected))
	for _, client := range c.injected {
		injected[client.Network()] = client
	}

	dialOpts := []clients.Option{
		clients.WithMaxAttempts(cfg.RPCMaxAttempts),
		clients.WithAttemptTimeout(cfg.RPCAttemptTimeout),
		clients.WithLogger(c.logger),
		clients.WithMetrics(c.metrics),
	}
	for _, n := range networks {
		if client, ok := injected[n.ID]; ok {
			set.Add(client)
			continue
		}
		client, err := clients.Dial(n, dialOpts...)
		if err != nil {
			set.Close()
			return nil, err
		}
		set.Add(client)
	}
	return set, nil
}

// CreateInvoice prices and persists a new invoice and returns it with
// payment instructions.
func (c *ChainPay) CreateInvoice(ctx context.Context, req types.CreateInvoiceRequest) (*types.InvoiceResponse, error) {
	inv, err := c.invoices.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.respond(inv)
}

// GetInvoice loads an invoice, expiring it first when its window closed.
func (c *ChainPay) GetInvoice(ctx context.Context, id string) (*types.InvoiceResponse, error) {
	inv, err := c.invoices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv, _, err = c.invoices.ExpireIfDue(ctx, inv); err != nil {
		return nil, err
	}
	return c.respond(inv)
}

func (c *ChainPay) respond(inv *types.Invoice) (*types.InvoiceResponse, error) {
	instructions, err := c.invoices.Instructions(inv)
	if err != nil {
		return nil, err
	}
	return &types.InvoiceResponse{Invoice: inv, Instructions: instructions}, nil
}

// VerifyPayment checks txHash against the invoice and advances its status.
func (c *ChainPay) VerifyPayment(ctx context.Context, invoiceID, txHash string) (*types.VerificationResult, error) {
	return c.verifier.Verify(ctx, invoiceID, txHash)
}

// CheckPayment scans recent blocks for transfers that could pay the invoice.
// It does not change the invoice beyond expiring it; candidates must be
// passed to VerifyPayment.
func (c *ChainPay) CheckPayment(ctx context.Context, invoiceID string, depth int, checkpoint *types.ScanCheckpoint) (*types.ScanResult, error) {
	inv, err := c.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	inv, expired, err := c.invoices.ExpireIfDue(ctx, inv)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, types.Errorf(types.ErrInvoiceExpired, "invoice %s expired at %s",
			inv.ID, inv.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if inv.Status == types.StatusConfirmed {
		return &types.ScanResult{InvoiceID: inv.ID, Candidates: []types.ScanCandidate{}, Complete: true}, nil
	}

	if depth <= 0 {
		depth = c.scanDepth
	}
	res, err := c.scanner.ScanForPayment(ctx, scanner.ScanRequest{
		Network:        inv.Network,
		Wallet:         inv.WalletAddress,
		Asset:          inv.AssetSymbol,
		ExpectedAmount: inv.RequiredAmount,
		Depth:          depth,
		Checkpoint:     checkpoint,
	})
	if err != nil {
		return nil, err
	}
	res.InvoiceID = inv.ID
	return res, nil
}

// SweepExpired expires overdue open invoices.
func (c *ChainPay) SweepExpired(ctx context.Context, limit int) (int, error) {
	return c.invoices.SweepExpired(ctx, limit)
}

// Networks lists the configured networks.
func (c *ChainPay) Networks() []types.NetworkConfig {
	return c.registry.List()
}

// Price quotes the USD price of an asset symbol.
func (c *ChainPay) Price(ctx context.Context, symbol string) (types.Quote, error) {
	return c.prices.GetPrice(ctx, symbol)
}

// Close releases RPC connections and the invoice store.
func (c *ChainPay) Close() error {
	c.chains.Close()
	return c.store.Close()
}
