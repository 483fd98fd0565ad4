// Package settlement turns confirmed invoices into activated subscriptions,
// exactly once per invoice.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitwit/chainpay/invoice"
	"github.com/vitwit/chainpay/logger"
	"github.com/vitwit/chainpay/metrics"
	"github.com/vitwit/chainpay/types"
)

// ActivationRequest describes a paid invoice to activate.
type ActivationRequest struct {
	InvoiceID       string
	OrganizationRef string
	Plan            string
	Network         types.NetworkID
	AssetSymbol     string
	AmountPaid      decimal.Decimal
	PaidAt          time.Time
}

// Activator grants what an invoice paid for. Activate must be idempotent per
// InvoiceID.
type Activator interface {
	Activate(ctx context.Context, req ActivationRequest) (*Subscription, error)
}

// Settler interface defines the contract for payment settlement
type Settler interface {
	Settle(ctx context.Context, inv *types.Invoice) error
}

// SettlementService invokes the activator for confirmed invoices. The
// invoice store's activation claim guarantees a single activation even when
// verifications race.
type SettlementService struct {
	store     invoice.Store
	activator Activator
	clock     types.Clock
	logger    logger.Logger
	metrics   metrics.Recorder
}

type Option func(*SettlementService)

func WithClock(c types.Clock) Option {
	return func(s *SettlementService) { s.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(s *SettlementService) { s.logger = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *SettlementService) { s.metrics = r }
}

// NewSettlementService creates a new settlement service
func NewSettlementService(store invoice.Store, activator Activator, opts ...Option) *SettlementService {
	s := &SettlementService{store: store, activator: activator}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = types.SystemClock{}
	}
	s.logger = logger.OrNoop(s.logger)
	s.metrics = metrics.OrNoop(s.metrics)
	return s
}

// Settle activates a confirmed invoice unless it was activated already. A
// failed activation releases the claim so a later verification retries it.
func (s *SettlementService) Settle(ctx context.Context, inv *types.Invoice) error {
	if inv.Status != types.StatusConfirmed {
		return fmt.Errorf("settle invoice %s: status is %s", inv.ID, inv.Status)
	}

	now := s.clock.Now()
	claimed, err := invoice.RetryOnceValue(ctx, func() (bool, error) {
		return s.store.ClaimActivation(ctx, inv.ID, now)
	})
	if err != nil {
		return fmt.Errorf("claim activation of invoice %s: %w", inv.ID, err)
	}
	if !claimed {
		s.logger.Debug("invoice already activated", map[string]any{"invoice_id": inv.ID})
		return nil
	}

	sub, err := s.activator.Activate(ctx, activationRequest(inv))
	if err != nil {
		s.metrics.IncCounter(metrics.ActivationFailed, map[string]string{"network": inv.Network.String()})
		if rerr := s.store.ReleaseActivation(context.WithoutCancel(ctx), inv.ID); rerr != nil {
			s.logger.Error("failed to release activation claim", map[string]any{
				"invoice_id": inv.ID,
				"error":      rerr.Error(),
			})
			err = errors.Join(err, rerr)
		}
		return fmt.Errorf("activate invoice %s: %w", inv.ID, err)
	}

	s.logger.Info("subscription activated", map[string]any{
		"invoice_id":      inv.ID,
		"subscription_id": sub.ID,
		"organization":    sub.OrganizationRef,
		"plan":            sub.Plan,
		"ends_at":         sub.EndsAt,
	})
	return nil
}

func activationRequest(inv *types.Invoice) ActivationRequest {
	amount := inv.RequiredAmount
	if inv.ActualAmountReceived != nil {
		amount = *inv.ActualAmountReceived
	}
	paidAt := inv.UpdatedAt
	if inv.ConfirmedAt != nil {
		paidAt = *inv.ConfirmedAt
	}
	return ActivationRequest{
		InvoiceID:       inv.ID,
		OrganizationRef: inv.OrganizationRef,
		Plan:            inv.Purpose,
		Network:         inv.Network,
		AssetSymbol:     inv.AssetSymbol,
		AmountPaid:      amount,
		PaidAt:          paidAt,
	}
}
