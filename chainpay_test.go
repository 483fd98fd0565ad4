package chainpay

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/chainpay/internal/testutil"
	"github.com/vitwit/chainpay/settlement"
	"github.com/vitwit/chainpay/types"
)

type staticFeed map[string]string

func (f staticFeed) FetchUSD(_ context.Context, ids []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(ids))
	for _, id := range ids {
		if p, ok := f[id]; ok {
			out[id] = decimal.RequireFromString(p)
		}
	}
	return out, nil
}

type harness struct {
	cp    *ChainPay
	chain *testutil.Chain
	clock *testutil.Clock
	subs  *settlement.MemorySubscriptionStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, Config{Networks: []types.NetworkConfig{testutil.EVMNetwork()}})
}

func newHarnessWith(t *testing.T, cfg Config) *harness {
	t.Helper()
	clock := testutil.NewClock(testutil.Epoch)
	chain := testutil.NewChain("ethereum", 100)
	subs := settlement.NewMemorySubscriptionStore(settlement.WithStoreClock(clock))

	cp, err := New(cfg,
		WithClock(clock),
		WithChainClient(chain),
		WithActivator(subs),
		WithPriceFeed(staticFeed{"ethereum": "1800"}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cp.Close() })
	return &harness{cp: cp, chain: chain, clock: clock, subs: subs}
}

func (h *harness) create(t *testing.T) *types.Invoice {
	t.Helper()
	resp, err := h.cp.CreateInvoice(context.Background(), types.CreateInvoiceRequest{
		USDValue:        decimal.NewFromInt(49),
		AssetSymbol:     "ETH",
		NetworkID:       "ethereum",
		Purpose:         "pro",
		OrganizationRef: "org-1",
	})
	require.NoError(t, err)
	return resp.Invoice
}

func TestChainPay_PaymentLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.cp.CreateInvoice(ctx, types.CreateInvoiceRequest{
		USDValue:        decimal.NewFromInt(49),
		AssetSymbol:     "eth",
		NetworkID:       "Ethereum",
		Purpose:         "pro",
		OrganizationRef: "org-1",
	})
	require.NoError(t, err)
	inv := resp.Invoice
	assert.Equal(t, "0.027222", inv.RequiredAmount.String())
	assert.Equal(t, types.PriceSourceFeed, inv.PriceSource)
	assert.Equal(t, "0.027222", resp.Instructions.Amount)

	h.chain.AddTransfer(testutil.TxHash, testutil.SenderWallet, testutil.MerchantWallet, "0.027222", 100)
	h.chain.SetHead(102)

	check, err := h.cp.CheckPayment(ctx, inv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, check.Candidates, 1)
	assert.Equal(t, testutil.TxHash, check.Candidates[0].Hash)
	assert.Equal(t, inv.ID, check.InvoiceID)

	got, err := h.cp.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Invoice.Status, "scanning never changes invoice state")

	res, err := h.cp.VerifyPayment(ctx, inv.ID, check.Candidates[0].Hash)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingConfirmation, res.Status)
	assert.Equal(t, uint64(3), res.Confirmations)

	h.chain.SetHead(111)
	res, err = h.cp.VerifyPayment(ctx, inv.ID, testutil.TxHash)
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, uint64(12), res.Confirmations)

	sub, err := h.subs.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "org-1", sub.OrganizationRef)
	assert.Equal(t, testutil.Epoch.Add(settlement.DefaultPeriod), sub.EndsAt)

	check, err = h.cp.CheckPayment(ctx, inv.ID, 10, nil)
	require.NoError(t, err)
	assert.True(t, check.Complete)
	assert.Empty(t, check.Candidates)

	// confirmed invoices never expire
	h.clock.Advance(time.Hour)
	got, err = h.cp.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, got.Invoice.Status)
}

func TestChainPay_ToleranceRate(t *testing.T) {
	zero := decimal.Zero
	tests := []struct {
		name  string
		rate  *decimal.Decimal
		valid bool
	}{
		{"default accepts a small shortfall", nil, true},
		{"zero requires the exact amount", &zero, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarnessWith(t, Config{
				Networks:      []types.NetworkConfig{testutil.EVMNetwork()},
				ToleranceRate: tt.rate,
			})
			ctx := context.Background()
			inv := h.create(t)
			h.chain.AddTransfer(testutil.TxHash, testutil.SenderWallet, testutil.MerchantWallet, "0.0272", 100)

			check, err := h.cp.CheckPayment(ctx, inv.ID, 5, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, len(check.Candidates) == 1)

			res, err := h.cp.VerifyPayment(ctx, inv.ID, testutil.TxHash)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.IsValid)
			if !tt.valid {
				assert.Equal(t, types.ErrInsufficientAmount, res.ErrorCode)
			}
		})
	}
}

func TestChainPay_Expiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inv := h.create(t)

	h.clock.Advance(31 * time.Minute)
	_, err := h.cp.CheckPayment(ctx, inv.ID, 10, nil)
	assert.True(t, types.IsCode(err, types.ErrInvoiceExpired))
	assert.Zero(t, h.chain.Calls())

	got, err := h.cp.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExpired, got.Invoice.Status)
}

func TestChainPay_SweepExpired(t *testing.T) {
	h := newHarness(t)
	h.create(t)
	h.create(t)

	h.clock.Advance(time.Hour)
	n, err := h.cp.SweepExpired(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestChainPay_StaticFallbackPrice(t *testing.T) {
	cp, err := New(Config{Networks: []types.NetworkConfig{testutil.EVMNetwork()}},
		WithChainClient(testutil.NewChain("ethereum", 1)))
	require.NoError(t, err)
	defer cp.Close()

	q, err := cp.Price(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, types.PriceSourceFallback, q.Source)
	assert.True(t, q.PriceUSD.Equal(decimal.NewFromInt(1800)))

	q, err = cp.Price(context.Background(), "USDC")
	require.NoError(t, err)
	assert.Equal(t, types.PriceSourceStable, q.Source)
}

func TestChainPay_Networks(t *testing.T) {
	cp, err := New(Config{Networks: []types.NetworkConfig{testutil.SolanaNetwork(), testutil.EVMNetwork()}})
	require.NoError(t, err)
	defer cp.Close()

	networks := cp.Networks()
	require.Len(t, networks, 2)
	assert.Equal(t, types.NetworkID("ethereum"), networks[0].ID)
	assert.Equal(t, types.NetworkID("solana"), networks[1].ID)
}

func TestChainPay_InvalidConfig(t *testing.T) {
	bad := testutil.EVMNetwork()
	bad.RPCEndpoints = nil

	_, err := New(Config{Networks: []types.NetworkConfig{bad}})
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	_, err = New(Config{})
	assert.True(t, types.IsCode(err, types.ErrConfigError))
}
