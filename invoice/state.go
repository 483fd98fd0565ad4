package invoice

import (
	"fmt"
	"time"

	"github.com/vitwit/chainpay/types"
)

var transitions = map[types.InvoiceStatus][]types.InvoiceStatus{
	types.StatusPending: {
		types.StatusPendingConfirmation,
		types.StatusConfirmed,
		types.StatusExpired,
	},
	types.StatusPendingConfirmation: {
		types.StatusPendingConfirmation,
		types.StatusConfirmed,
		types.StatusExpired,
	},
}

// CanTransition reports whether an invoice may move from one status to
// another. pending_confirmation to itself is a confirmation refresh.
// Nothing leaves confirmed or expired.
func CanTransition(from, to types.InvoiceStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves inv to status to, stamping UpdatedAt and, on the first
// confirmation, ConfirmedAt.
func Transition(inv *types.Invoice, to types.InvoiceStatus, now time.Time) error {
	if !CanTransition(inv.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inv.Status, to)
	}
	inv.Status = to
	inv.UpdatedAt = now
	if to == types.StatusConfirmed && inv.ConfirmedAt == nil {
		t := now
		inv.ConfirmedAt = &t
	}
	return nil
}
