// Package invoice creates invoices, persists them and enforces their
// lifecycle.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vitwit/chainpay/logger"
	"github.com/vitwit/chainpay/metrics"
	"github.com/vitwit/chainpay/types"
	"github.com/vitwit/chainpay/utils"
)

const (
	DefaultTTL = 30 * time.Minute
	MinTTL     = time.Minute
	MaxTTL     = 24 * time.Hour
)

// NetworkResolver looks up network and asset configuration.
type NetworkResolver interface {
	Get(id types.NetworkID) (types.NetworkConfig, error)
	Asset(id types.NetworkID, symbol string) (types.NetworkConfig, types.AssetConfig, error)
}

// PriceOracle quotes USD prices.
type PriceOracle interface {
	GetPrice(ctx context.Context, symbol string) (types.Quote, error)
}

// Manager issues invoices and owns every write to the invoice store.
type Manager struct {
	networks NetworkResolver
	prices   PriceOracle
	store    Store
	clock    types.Clock
	logger   logger.Logger
	metrics  metrics.Recorder
	ttl      time.Duration
}

type Option func(*Manager)

func WithClock(c types.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithDefaultTTL sets the payment window used when a request does not ask
// for one.
func WithDefaultTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

func NewManager(networks NetworkResolver, prices PriceOracle, store Store, opts ...Option) *Manager {
	m := &Manager{
		networks: networks,
		prices:   prices,
		store:    store,
		ttl:      DefaultTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = types.SystemClock{}
	}
	m.ttl = clampTTL(m.ttl)
	m.logger = logger.OrNoop(m.logger)
	m.metrics = metrics.OrNoop(m.metrics)
	return m
}

func clampTTL(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTTL
	case d < MinTTL:
		return MinTTL
	case d > MaxTTL:
		return MaxTTL
	}
	return d
}

// Clock returns the clock driving lifecycle decisions.
func (m *Manager) Clock() types.Clock { return m.clock }

// Create prices the request and persists a pending invoice. The required
// amount is truncated to the asset's precision and never recomputed.
func (m *Manager) Create(ctx context.Context, req types.CreateInvoiceRequest) (*types.Invoice, error) {
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, err
	}
	if !req.USDValue.IsPositive() {
		return nil, types.NewError(types.ErrInvalidRequest, "usd_value must be positive")
	}

	network, asset, err := m.networks.Asset(req.NetworkID, req.AssetSymbol)
	if err != nil {
		return nil, err
	}

	ttl := m.ttl
	if req.TTLMinutes > 0 {
		ttl = clampTTL(time.Duration(req.TTLMinutes) * time.Minute)
	}

	quote, err := m.prices.GetPrice(ctx, asset.Symbol)
	if err != nil {
		return nil, err
	}

	required := utils.QuoteAmount(req.USDValue, quote.PriceUSD, asset.Precision())
	if !required.IsPositive() {
		return nil, types.Errorf(types.ErrInvalidRequest,
			"usd_value %s is below the smallest payable amount of %s", req.USDValue, asset.Symbol)
	}

	now := m.clock.Now()
	inv := &types.Invoice{
		ID:              uuid.NewString(),
		OrganizationRef: req.OrganizationRef,
		Purpose:         req.Purpose,
		Network:         network.ID,
		AssetSymbol:     asset.Symbol,
		USDValue:        req.USDValue,
		PriceUSD:        quote.PriceUSD,
		PriceSource:     quote.Source,
		RequiredAmount:  required,
		WalletAddress:   network.MerchantWallet,
		Status:          types.StatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		UpdatedAt:       now,
	}

	if err := RetryOnce(ctx, func() error { return m.store.Create(ctx, inv) }); err != nil {
		return nil, err
	}

	m.metrics.IncCounter(metrics.InvoicesCreated, map[string]string{"network": network.ID.String()})
	m.logger.Info("invoice created", map[string]any{
		"invoice_id":   inv.ID,
		"network":      inv.Network.String(),
		"asset":        inv.AssetSymbol,
		"amount":       inv.RequiredAmount.String(),
		"price_source": string(inv.PriceSource),
		"expires_at":   inv.ExpiresAt,
	})

	return inv.Clone(), nil
}

// Get loads an invoice by id.
func (m *Manager) Get(ctx context.Context, id string) (*types.Invoice, error) {
	inv, err := RetryOnceValue(ctx, func() (*types.Invoice, error) { return m.store.Get(ctx, id) })
	if errors.Is(err, ErrNotFound) {
		return nil, types.Errorf(types.ErrInvoiceNotFound, "invoice %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Update applies next if the stored invoice is still in status expected.
// When a concurrent writer won, the stored invoice is returned with
// applied=false and the caller reports that state instead.
func (m *Manager) Update(ctx context.Context, expected types.InvoiceStatus, next *types.Invoice) (*types.Invoice, bool, error) {
	err := RetryOnce(ctx, func() error { return m.store.CompareAndSwap(ctx, expected, next) })
	switch {
	case err == nil:
		stored, err := m.Get(ctx, next.ID)
		if err != nil {
			return next.Clone(), true, nil
		}
		return stored, true, nil
	case errors.Is(err, ErrHashInUse):
		return nil, false, types.WrapError(types.ErrTransactionHashMismatch,
			fmt.Sprintf("transaction %s already pays another invoice", types.NormalizeHash(*next.TransactionHash)), err)
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
		m.logger.Info("invoice changed concurrently, reloading", map[string]any{
			"invoice_id": next.ID,
			"expected":   expected.String(),
			"wanted":     next.Status.String(),
		})
		stored, gerr := m.Get(ctx, next.ID)
		if gerr != nil {
			return nil, false, gerr
		}
		return stored, false, nil
	default:
		return nil, false, err
	}
}

// ExpireIfDue moves a pending or pending_confirmation invoice past its
// deadline to expired. It reports whether the returned invoice is expired.
func (m *Manager) ExpireIfDue(ctx context.Context, inv *types.Invoice) (*types.Invoice, bool, error) {
	if inv.Status == types.StatusExpired {
		return inv, true, nil
	}
	if inv.Status.IsTerminal() || !inv.IsExpiredAt(m.clock.Now()) {
		return inv, false, nil
	}

	next := inv.Clone()
	if err := Transition(next, types.StatusExpired, m.clock.Now()); err != nil {
		return nil, false, err
	}
	stored, applied, err := m.Update(ctx, inv.Status, next)
	if err != nil {
		return nil, false, err
	}
	if applied {
		m.logger.Info("invoice expired", map[string]any{"invoice_id": inv.ID, "expires_at": inv.ExpiresAt})
	}
	return stored, stored.Status == types.StatusExpired, nil
}

// SweepExpired expires overdue open invoices in bulk and returns how many
// were moved.
func (m *Manager) SweepExpired(ctx context.Context, limit int) (int, error) {
	expired := 0
	for _, status := range []types.InvoiceStatus{types.StatusPending, types.StatusPendingConfirmation} {
		invs, err := m.store.ListByStatus(ctx, status, limit)
		if err != nil {
			return expired, types.ServiceUnavailable(err)
		}
		for _, inv := range invs {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			if _, ok, err := m.ExpireIfDue(ctx, inv); err != nil {
				return expired, err
			} else if ok {
				expired++
			}
		}
	}
	return expired, nil
}

// RetryOnce runs a store operation, retrying a single time on infrastructure
// errors. Store verdicts (not found, conflict) are returned as-is; a second
// fault becomes SERVICE_UNAVAILABLE.
func RetryOnce(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || isStoreVerdict(err) {
		return err
	}
	if ctx.Err() != nil {
		return types.ServiceUnavailable(err)
	}

	if err = op(); err == nil || isStoreVerdict(err) {
		return err
	}
	return types.ServiceUnavailable(fmt.Errorf("after retry: %w", err))
}

// RetryOnceValue is RetryOnce for operations that return a value.
func RetryOnceValue[T any](ctx context.Context, op func() (T, error)) (T, error) {
	var out T
	err := RetryOnce(ctx, func() error {
		var err error
		out, err = op()
		return err
	})
	return out, err
}

func isStoreVerdict(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrHashInUse)
}
