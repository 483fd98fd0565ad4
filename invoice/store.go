package invoice

import (
	"context"
	"errors"
	"time"

	"github.com/vitwit/chainpay/types"
)

var (
	// ErrNotFound is returned by stores for unknown invoice ids.
	ErrNotFound = errors.New("invoice not found")

	// ErrConflict is returned when a conditional write lost to a concurrent
	// writer or would break an invoice invariant.
	ErrConflict = errors.New("invoice write conflict")

	// ErrInvalidTransition is returned for status changes the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid invoice status transition")

	// ErrHashInUse is returned when a write would bind a transaction hash
	// that already pays another invoice on the same network.
	ErrHashInUse = errors.New("transaction hash already bound to another invoice")
)

// Store persists invoices. Updates are conditional on the stored status so
// concurrent verifications of one invoice serialize.
type Store interface {
	Create(ctx context.Context, inv *types.Invoice) error
	Get(ctx context.Context, id string) (*types.Invoice, error)

	// CompareAndSwap replaces the stored invoice with next when its status is
	// still expected. It fails with ErrConflict when the status moved, when a
	// different transaction hash is already recorded, or when the
	// confirmation count would decrease. Binding a hash is atomic with the
	// write: a hash held by another invoice of the network fails with
	// ErrHashInUse.
	CompareAndSwap(ctx context.Context, expected types.InvoiceStatus, next *types.Invoice) error

	// ClaimActivation marks a confirmed invoice as activated. It returns
	// false when the invoice was already claimed.
	ClaimActivation(ctx context.Context, id string, at time.Time) (bool, error)
	// ReleaseActivation undoes a claim after a failed activation.
	ReleaseActivation(ctx context.Context, id string) error

	ListByStatus(ctx context.Context, status types.InvoiceStatus, limit int) ([]*types.Invoice, error)
	Close() error
}

// checkWrite validates a conditional update of current to next.
func checkWrite(current *types.Invoice, expected types.InvoiceStatus, next *types.Invoice) error {
	if current.Status != expected {
		return ErrConflict
	}
	if !CanTransition(current.Status, next.Status) {
		return ErrInvalidTransition
	}
	if current.TransactionHash != nil && (next.TransactionHash == nil || !current.HasHash(*next.TransactionHash)) {
		return ErrConflict
	}
	if next.ConfirmationCount() < current.ConfirmationCount() {
		return ErrConflict
	}
	if !next.RequiredAmount.Equal(current.RequiredAmount) || next.WalletAddress != current.WalletAddress {
		return ErrConflict
	}
	return nil
}

// prepareWrite returns the invoice to store for a validated update. Creation
// data and the activation marker are owned by the stored record.
func prepareWrite(current, next *types.Invoice) *types.Invoice {
	out := next.Clone()
	out.CreatedAt = current.CreatedAt
	out.ExpiresAt = current.ExpiresAt
	out.ActivatedAt = current.ActivatedAt
	if out.TransactionHash != nil {
		h := types.NormalizeHash(*out.TransactionHash)
		out.TransactionHash = &h
	}
	return out
}

// bindsHash reports whether the write attaches a transaction hash the stored
// invoice does not carry yet.
func bindsHash(current, next *types.Invoice) bool {
	return current.TransactionHash == nil && next.TransactionHash != nil
}

// hashKey identifies a transaction across the store.
func hashKey(network types.NetworkID, hash string) string {
	return network.String() + "/" + types.NormalizeHash(hash)
}

func claimable(inv *types.Invoice) (bool, error) {
	if inv.Status != types.StatusConfirmed {
		return false, ErrConflict
	}
	return inv.ActivatedAt == nil, nil
}
