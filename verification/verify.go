// Package verification checks a claimed payment transaction against an
// invoice and advances the invoice lifecycle.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitwit/chainpay/clients"
	"github.com/vitwit/chainpay/invoice"
	"github.com/vitwit/chainpay/logger"
	"github.com/vitwit/chainpay/metrics"
	"github.com/vitwit/chainpay/types"
	"github.com/vitwit/chainpay/utils"
)

const DefaultTimeout = 30 * time.Second

// Verifier interface defines the contract for payment verification
type Verifier interface {
	Verify(ctx context.Context, invoiceID, txHash string) (*types.VerificationResult, error)
}

// Settler activates what a confirmed invoice paid for. It must be safe to
// call more than once for the same invoice.
type Settler interface {
	Settle(ctx context.Context, inv *types.Invoice) error
}

// VerificationService verifies payments for invoices across networks
type VerificationService struct {
	invoices  *invoice.Manager
	networks  invoice.NetworkResolver
	clients   clients.Source
	settler   Settler
	tolerance decimal.Decimal
	timeout   time.Duration
	logger    logger.Logger
	metrics   metrics.Recorder
}

type Option func(*VerificationService)

// WithSettler sets the collaborator invoked once an invoice is confirmed.
func WithSettler(s Settler) Option {
	return func(v *VerificationService) { v.settler = s }
}

// WithTolerance sets the fraction of the required amount a payment may fall
// short by.
func WithTolerance(rate decimal.Decimal) Option {
	return func(v *VerificationService) { v.tolerance = rate }
}

func WithTimeout(d time.Duration) Option {
	return func(v *VerificationService) { v.timeout = d }
}

func WithLogger(l logger.Logger) Option {
	return func(v *VerificationService) { v.logger = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(v *VerificationService) { v.metrics = r }
}

// NewVerificationService creates a new verification service
func NewVerificationService(invoices *invoice.Manager, networks invoice.NetworkResolver, chains clients.Source, opts ...Option) *VerificationService {
	s := &VerificationService{
		invoices:  invoices,
		networks:  networks,
		clients:   chains,
		tolerance: utils.DefaultToleranceRate,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tolerance.IsNegative() {
		s.tolerance = utils.DefaultToleranceRate
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	s.logger = logger.OrNoop(s.logger)
	s.metrics = metrics.OrNoop(s.metrics)
	return s
}

// Verify checks txHash against the invoice and persists the outcome.
//
// Verification failures (wrong recipient, short payment, failed or unknown
// transaction, expired invoice) are reported in the result with IsValid
// false. The error return is reserved for unknown invoices and for chain or
// storage faults, which are retryable.
func (s *VerificationService) Verify(ctx context.Context, invoiceID, txHash string) (*types.VerificationResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	network, err := s.networks.Get(inv.Network)
	if err != nil {
		return nil, err
	}

	res, err := s.verify(ctx, inv, network, types.NormalizeHash(txHash))

	code := "ok"
	switch {
	case err != nil:
		code = types.CodeOf(err)
		if code == "" {
			code = "error"
		}
	case !res.IsValid:
		code = res.ErrorCode
	}
	labels := map[string]string{"network": network.ID.String(), "code": code}
	s.metrics.IncCounter(metrics.VerifyOutcome, labels)
	s.metrics.ObserveLatency(metrics.VerifyLatency, time.Since(start), map[string]string{"network": network.ID.String()})

	if err != nil {
		s.logger.Warn("verification aborted", map[string]any{
			"invoice_id": invoiceID,
			"network":    network.ID.String(),
			"tx":         txHash,
			"error":      err.Error(),
		})
		return nil, err
	}
	s.logger.Info("verification finished", map[string]any{
		"invoice_id":    invoiceID,
		"network":       network.ID.String(),
		"tx":            txHash,
		"valid":         res.IsValid,
		"code":          res.ErrorCode,
		"status":        res.Status.String(),
		"confirmations": res.Confirmations,
	})
	return res, nil
}

func (s *VerificationService) verify(ctx context.Context, inv *types.Invoice, network types.NetworkConfig, hash string) (*types.VerificationResult, error) {
	// Expiry is settled before any chain read.
	inv, expired, err := s.invoices.ExpireIfDue(ctx, inv)
	if err != nil {
		return nil, err
	}
	if expired {
		return reject(inv, network, hash, types.ErrInvoiceExpired,
			fmt.Sprintf("invoice expired at %s", inv.ExpiresAt.UTC().Format(time.RFC3339))), nil
	}

	if inv.Status == types.StatusConfirmed && inv.HasHash(hash) {
		if inv.ActivatedAt == nil {
			s.settle(ctx, inv)
		}
		return accept(inv, network), nil
	}
	if inv.TransactionHash != nil && !inv.HasHash(hash) {
		return reject(inv, network, hash, types.ErrTransactionHashMismatch,
			fmt.Sprintf("invoice is already bound to transaction %s", *inv.TransactionHash)), nil
	}

	if !network.Family.SameAddress(inv.WalletAddress, network.MerchantWallet) {
		return reject(inv, network, hash, types.ErrInvoiceWalletMismatch,
			"invoice wallet no longer matches the network's merchant wallet"), nil
	}
	_, asset, err := s.networks.Asset(inv.Network, inv.AssetSymbol)
	if err != nil {
		return nil, err
	}

	if err := utils.ValidateTransactionHash(hash, network.Family); err != nil {
		return reject(inv, network, hash, types.ErrTransactionNotFound, err.Error()), nil
	}

	client, err := s.clients.Client(network.ID)
	if err != nil {
		return nil, err
	}

	tx, err := client.GetTransaction(ctx, hash)
	if errors.Is(err, clients.ErrNotFound) {
		return reject(inv, network, hash, types.ErrTransactionNotFound,
			fmt.Sprintf("transaction %s not found on %s", hash, network.ID)), nil
	}
	if err != nil {
		return nil, err
	}

	receipt, err := client.GetReceipt(ctx, hash)
	switch {
	case errors.Is(err, clients.ErrNotFound):
		receipt = nil
	case err != nil:
		return nil, err
	case !receipt.Success:
		res := reject(inv, network, hash, types.ErrTransactionFailed, "transaction reverted on chain")
		res.Sender = tx.From
		return res, nil
	}

	to, received, ok := tx.Recipient(asset)
	if !ok || !network.Family.SameAddress(to, inv.WalletAddress) {
		res := reject(inv, network, hash, types.ErrWrongRecipient,
			fmt.Sprintf("transaction does not send %s to %s", asset.Symbol, inv.WalletAddress))
		res.Recipient = to
		res.Sender = tx.From
		return res, nil
	}

	if !utils.WithinTolerance(received, inv.RequiredAmount, s.tolerance) {
		res := reject(inv, network, hash, types.ErrInsufficientAmount,
			fmt.Sprintf("received %s %s, required %s", received, asset.Symbol, inv.RequiredAmount))
		res.AmountReceived = received.String()
		res.Recipient = to
		res.Sender = tx.From
		return res, nil
	}

	confs, err := s.confirmations(ctx, client, tx, receipt)
	if err != nil {
		return nil, err
	}
	if stored := inv.ConfirmationCount(); confs < stored {
		confs = stored
	}

	next := inv.Clone()
	next.TransactionHash = &hash
	next.Confirmations = &confs
	next.ActualAmountReceived = &received

	status := types.StatusPendingConfirmation
	if confs >= network.ConfirmationThreshold {
		status = types.StatusConfirmed
	}
	if err := invoice.Transition(next, status, s.invoices.Clock().Now()); err != nil {
		return nil, err
	}

	stored, _, err := s.invoices.Update(ctx, inv.Status, next)
	if types.IsCode(err, types.ErrTransactionHashMismatch) {
		res := reject(inv, network, hash, types.ErrTransactionHashMismatch, err.Error())
		res.Sender = tx.From
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case stored.Status == types.StatusExpired:
		return reject(stored, network, hash, types.ErrInvoiceExpired, "invoice expired while verifying"), nil
	case !stored.HasHash(hash):
		return reject(stored, network, hash, types.ErrTransactionHashMismatch,
			"invoice was bound to another transaction concurrently"), nil
	}

	if stored.Status == types.StatusConfirmed && stored.ActivatedAt == nil {
		s.settle(ctx, stored)
	}

	res := accept(stored, network)
	res.Recipient = to
	res.Sender = tx.From
	return res, nil
}

// confirmations returns head - block + 1, or 0 for a transaction that is
// not mined yet.
func (s *VerificationService) confirmations(ctx context.Context, client clients.ChainClient, tx *types.Transaction, receipt *types.Receipt) (uint64, error) {
	if receipt == nil {
		return 0, nil
	}
	block := receipt.BlockNumber
	if block == 0 && tx.BlockNumber != nil {
		block = *tx.BlockNumber
	}

	head, err := client.GetBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head < block {
		// endpoint behind the one that served the receipt
		return 1, nil
	}
	return head - block + 1, nil
}

func (s *VerificationService) settle(ctx context.Context, inv *types.Invoice) {
	if s.settler == nil {
		return
	}
	if err := s.settler.Settle(ctx, inv); err != nil {
		s.logger.Error("subscription activation failed", map[string]any{
			"invoice_id": inv.ID,
			"network":    inv.Network.String(),
			"error":      err.Error(),
		})
	}
}

func accept(inv *types.Invoice, network types.NetworkConfig) *types.VerificationResult {
	res := baseResult(inv, network)
	res.IsValid = true
	if inv.TransactionHash != nil {
		res.TransactionHash = *inv.TransactionHash
		res.ExplorerURL = network.TxURL(*inv.TransactionHash)
	}
	if inv.ActualAmountReceived != nil {
		res.AmountReceived = inv.ActualAmountReceived.String()
	}
	return res
}

func reject(inv *types.Invoice, network types.NetworkConfig, hash, code, reason string) *types.VerificationResult {
	res := baseResult(inv, network)
	res.ErrorCode = code
	res.InvalidReason = reason
	res.TransactionHash = hash
	return res
}

func baseResult(inv *types.Invoice, network types.NetworkConfig) *types.VerificationResult {
	return &types.VerificationResult{
		InvoiceID:             inv.ID,
		Status:                inv.Status,
		Confirmations:         inv.ConfirmationCount(),
		RequiredConfirmations: network.ConfirmationThreshold,
		AmountRequired:        inv.RequiredAmount.String(),
		Confirmed:             inv.Status == types.StatusConfirmed,
	}
}
