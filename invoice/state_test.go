package invoice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/chainpay/types"
)

func TestCanTransition(t *testing.T) {
	all := []types.InvoiceStatus{
		types.StatusPending,
		types.StatusPendingConfirmation,
		types.StatusConfirmed,
		types.StatusExpired,
	}
	allowed := map[[2]types.InvoiceStatus]bool{
		{types.StatusPending, types.StatusPendingConfirmation}:             true,
		{types.StatusPending, types.StatusConfirmed}:                       true,
		{types.StatusPending, types.StatusExpired}:                         true,
		{types.StatusPendingConfirmation, types.StatusPendingConfirmation}: true,
		{types.StatusPendingConfirmation, types.StatusConfirmed}:           true,
		{types.StatusPendingConfirmation, types.StatusExpired}:             true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]types.InvoiceStatus{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransition_StampsConfirmedAtOnce(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inv := &types.Invoice{Status: types.StatusPending}

	require.NoError(t, Transition(inv, types.StatusPendingConfirmation, t0))
	assert.Nil(t, inv.ConfirmedAt)
	assert.Equal(t, t0, inv.UpdatedAt)

	require.NoError(t, Transition(inv, types.StatusConfirmed, t0.Add(time.Minute)))
	require.NotNil(t, inv.ConfirmedAt)
	assert.Equal(t, t0.Add(time.Minute), *inv.ConfirmedAt)

	err := Transition(inv, types.StatusExpired, t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, types.StatusConfirmed, inv.Status)
}
