package invoice

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/chainpay/internal/testutil"
	"github.com/vitwit/chainpay/registry"
	"github.com/vitwit/chainpay/types"
)

type fixedPrices map[string]string

func (p fixedPrices) GetPrice(_ context.Context, symbol string) (types.Quote, error) {
	price, ok := p[symbol]
	if !ok {
		return types.Quote{}, types.Errorf(types.ErrPriceUnavailable, "no price for %s", symbol)
	}
	source := types.PriceSourceFeed
	if symbol == "USDC" {
		source = types.PriceSourceStable
	}
	return types.Quote{Symbol: symbol, PriceUSD: decimal.RequireFromString(price), Source: source}, nil
}

// flakyStore fails the first n calls of every operation with a transient error.
type flakyStore struct {
	Store
	failures int
	calls    int
}

func (s *flakyStore) fail() error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("connection reset by peer")
	}
	return nil
}

func (s *flakyStore) Create(ctx context.Context, inv *types.Invoice) error {
	if err := s.fail(); err != nil {
		return err
	}
	return s.Store.Create(ctx, inv)
}

type managerFixture struct {
	manager *Manager
	store   Store
	clock   *testutil.Clock
}

func newManagerFixture(t *testing.T, store Store) *managerFixture {
	t.Helper()
	reg, err := registry.New([]types.NetworkConfig{testutil.EVMNetwork(), testutil.SolanaNetwork()})
	require.NoError(t, err)
	if store == nil {
		store = NewMemoryStore()
	}
	clock := testutil.NewClock(testutil.Epoch)
	prices := fixedPrices{"ETH": "1800", "SOL": "20", "USDC": "1"}
	return &managerFixture{
		manager: NewManager(reg, prices, store, WithClock(clock)),
		store:   store,
		clock:   clock,
	}
}

func createRequest(network types.NetworkID, symbol, usd string) types.CreateInvoiceRequest {
	return types.CreateInvoiceRequest{
		USDValue:        decimal.RequireFromString(usd),
		AssetSymbol:     symbol,
		NetworkID:       network,
		Purpose:         "pro",
		OrganizationRef: "org-1",
	}
}

func TestManager_CreateTruncatesAmount(t *testing.T) {
	f := newManagerFixture(t, nil)

	inv, err := f.manager.Create(context.Background(), createRequest("ethereum", "ETH", "49"))
	require.NoError(t, err)

	assert.Equal(t, "0.027222", inv.RequiredAmount.String())
	assert.Equal(t, types.StatusPending, inv.Status)
	assert.Equal(t, testutil.MerchantWallet, inv.WalletAddress)
	assert.Equal(t, types.PriceSourceFeed, inv.PriceSource)
	assert.True(t, inv.PriceUSD.Equal(decimal.NewFromInt(1800)))
	assert.Equal(t, testutil.Epoch, inv.CreatedAt)
	assert.Equal(t, testutil.Epoch.Add(DefaultTTL), inv.ExpiresAt)
	assert.Nil(t, inv.TransactionHash)

	stored, err := f.manager.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.True(t, stored.RequiredAmount.Equal(inv.RequiredAmount))
}

func TestManager_CreateStablecoin(t *testing.T) {
	f := newManagerFixture(t, nil)

	inv, err := f.manager.Create(context.Background(), createRequest("ethereum", "usdc", "49"))
	require.NoError(t, err)
	assert.Equal(t, "USDC", inv.AssetSymbol)
	assert.Equal(t, "49", inv.RequiredAmount.String())
	assert.Equal(t, types.PriceSourceStable, inv.PriceSource)
}

func TestManager_CreateTTL(t *testing.T) {
	f := newManagerFixture(t, nil)

	req := createRequest("solana", "SOL", "10")
	req.TTLMinutes = 90
	inv, err := f.manager.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch.Add(90*time.Minute), inv.ExpiresAt)
	assert.Equal(t, "0.5", inv.RequiredAmount.String())
	assert.Equal(t, testutil.SolanaWallet, inv.WalletAddress)
}

func TestManager_CreateRejects(t *testing.T) {
	f := newManagerFixture(t, nil)

	tests := []struct {
		name string
		req  types.CreateInvoiceRequest
		code string
	}{
		{"unknown network", createRequest("dogechain", "ETH", "49"), types.ErrUnknownNetwork},
		{"unsupported asset", createRequest("solana", "USDC", "49"), types.ErrUnsupportedAsset},
		{"zero usd", createRequest("ethereum", "ETH", "0"), types.ErrInvalidRequest},
		{"negative usd", createRequest("ethereum", "ETH", "-1"), types.ErrInvalidRequest},
		{"below smallest unit", createRequest("ethereum", "ETH", "0.0000001"), types.ErrInvalidRequest},
		{"missing purpose", types.CreateInvoiceRequest{
			USDValue: decimal.NewFromInt(5), AssetSymbol: "ETH", NetworkID: "ethereum", OrganizationRef: "org",
		}, types.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Create(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.CodeOf(err))
		})
	}
}

func TestManager_CreatePriceUnavailable(t *testing.T) {
	reg, err := registry.New([]types.NetworkConfig{testutil.EVMNetwork()})
	require.NoError(t, err)
	m := NewManager(reg, fixedPrices{}, NewMemoryStore())

	_, err = m.Create(context.Background(), createRequest("ethereum", "ETH", "49"))
	assert.True(t, types.IsCode(err, types.ErrPriceUnavailable))
}

func TestManager_CreateRetriesStoreOnce(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore(), failures: 1}
	f := newManagerFixture(t, store)

	inv, err := f.manager.Create(context.Background(), createRequest("ethereum", "ETH", "49"))
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)

	_, err = f.manager.Get(context.Background(), inv.ID)
	assert.NoError(t, err)
}

func TestManager_CreateServiceUnavailable(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore(), failures: 2}
	f := newManagerFixture(t, store)

	_, err := f.manager.Create(context.Background(), createRequest("ethereum", "ETH", "49"))
	require.Error(t, err)
	assert.Equal(t, types.ErrServiceUnavailable, types.CodeOf(err))
	assert.Equal(t, 2, store.calls)
}

func TestManager_GetUnknown(t *testing.T) {
	f := newManagerFixture(t, nil)
	_, err := f.manager.Get(context.Background(), "missing")
	assert.True(t, types.IsCode(err, types.ErrInvoiceNotFound))
}

func TestManager_UpdateConflictReloads(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	inv, err := f.manager.Create(ctx, createRequest("ethereum", "ETH", "49"))
	require.NoError(t, err)

	first := withHash(inv, types.StatusPendingConfirmation, testutil.TxHash, 3)
	stored, applied, err := f.manager.Update(ctx, types.StatusPending, first)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, types.StatusPendingConfirmation, stored.Status)

	// a second writer still believing the invoice is pending loses
	second := withHash(inv, types.StatusConfirmed, testutil.TxHash, 12)
	stored, applied, err = f.manager.Update(ctx, types.StatusPending, second)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, types.StatusPendingConfirmation, stored.Status)
	assert.Equal(t, uint64(3), stored.ConfirmationCount())
}

func TestManager_ExpireIfDue(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	inv, err := f.manager.Create(ctx, createRequest("ethereum", "ETH", "49"))
	require.NoError(t, err)

	got, expired, err := f.manager.ExpireIfDue(ctx, inv)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, types.StatusPending, got.Status)

	f.clock.Advance(DefaultTTL + time.Second)
	got, expired, err = f.manager.ExpireIfDue(ctx, inv)
	require.NoError(t, err)
	assert.True(t, expired)
	assert.Equal(t, types.StatusExpired, got.Status)

	// idempotent
	_, expired, err = f.manager.ExpireIfDue(ctx, got)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestManager_ExpireIfDueKeepsConfirmed(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	inv, err := f.manager.Create(ctx, createRequest("ethereum", "ETH", "49"))
	require.NoError(t, err)
	confirmed, applied, err := f.manager.Update(ctx, types.StatusPending, withHash(inv, types.StatusConfirmed, testutil.TxHash, 12))
	require.NoError(t, err)
	require.True(t, applied)

	f.clock.Advance(48 * time.Hour)
	got, expired, err := f.manager.ExpireIfDue(ctx, confirmed)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, types.StatusConfirmed, got.Status)
}

func TestManager_SweepExpired(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	short := createRequest("ethereum", "ETH", "49")
	short.TTLMinutes = 5
	a, err := f.manager.Create(ctx, short)
	require.NoError(t, err)
	b, err := f.manager.Create(ctx, short)
	require.NoError(t, err)
	_, _, err = f.manager.Update(ctx, types.StatusPending, withHash(b, types.StatusPendingConfirmation, testutil.TxHash, 1))
	require.NoError(t, err)
	long, err := f.manager.Create(ctx, createRequest("ethereum", "ETH", "49"))
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	n, err := f.manager.SweepExpired(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[string]types.InvoiceStatus{
		a.ID:    types.StatusExpired,
		b.ID:    types.StatusExpired,
		long.ID: types.StatusPending,
	} {
		got, err := f.manager.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}
}

func TestManager_Instructions(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	inv, err := f.manager.Create(ctx, createRequest("ethereum", "ETH", "49"))
	require.NoError(t, err)

	ins, err := f.manager.Instructions(inv)
	require.NoError(t, err)
	assert.Equal(t, "0.027222", ins.Amount)
	assert.Equal(t, "ETH", ins.Asset)
	assert.Equal(t, "ethereum:"+testutil.MerchantWallet+"@1?value=27222000000000000", ins.PaymentURI)
	assert.True(t, strings.HasPrefix(ins.Text, "Send exactly 0.027222 ETH on Ethereum to "+testutil.MerchantWallet))
	assert.Equal(t, "2026-03-01T12:30:00Z", ins.ExpiresAt)

	token, err := f.manager.Create(ctx, createRequest("ethereum", "USDC", "49"))
	require.NoError(t, err)
	ins, err = f.manager.Instructions(token)
	require.NoError(t, err)
	assert.Equal(t, "49.000000", ins.Amount)
	assert.Equal(t,
		"ethereum:"+testutil.USDCContract+"@1/transfer?address="+testutil.MerchantWallet+"&uint256=49000000",
		ins.PaymentURI)

	sol, err := f.manager.Create(ctx, createRequest("solana", "SOL", "10"))
	require.NoError(t, err)
	ins, err = f.manager.Instructions(sol)
	require.NoError(t, err)
	assert.Equal(t,
		"solana:"+testutil.SolanaWallet+"?amount=0.5&label=pro&message=Invoice%20"+sol.ID,
		ins.PaymentURI)
}
