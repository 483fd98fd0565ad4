package scanner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/chainpay/clients"
	"github.com/vitwit/chainpay/internal/testutil"
	"github.com/vitwit/chainpay/registry"
	"github.com/vitwit/chainpay/types"
)

func hashN(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func newScanner(t *testing.T, chain *testutil.Chain, opts ...Option) *Scanner {
	t.Helper()
	reg, err := registry.New([]types.NetworkConfig{testutil.EVMNetwork()})
	require.NoError(t, err)
	set := clients.NewSet()
	set.Add(chain)
	return New(reg, set, opts...)
}

func request(depth int) ScanRequest {
	return ScanRequest{
		Network:        "ethereum",
		Wallet:         testutil.MerchantWallet,
		Asset:          "ETH",
		ExpectedAmount: decimal.RequireFromString("0.027222"),
		Depth:          depth,
	}
}

func TestScanForPayment_FindsCandidates(t *testing.T) {
	chain := testutil.NewChain("ethereum", 100)
	chain.AddTransfer(hashN(1), testutil.SenderWallet, testutil.MerchantWallet, "0.027222", 95)
	chain.AddTransfer(hashN(2), testutil.SenderWallet, "0x742d35cc6634c0532925a3b844bc454e4438f44e", "0.0270", 99)
	chain.AddTransfer(hashN(3), testutil.SenderWallet, testutil.OtherWallet, "0.027222", 98)
	chain.AddTransfer(hashN(4), testutil.SenderWallet, testutil.MerchantWallet, "0.0266", 97)
	chain.AddTransfer(hashN(5), testutil.SenderWallet, testutil.MerchantWallet, "0.027222", 10)
	chain.AddTokenTransfer(hashN(6), testutil.SenderWallet, testutil.USDCContract, testutil.MerchantWallet, "0.027222", 96)

	res, err := newScanner(t, chain).ScanForPayment(context.Background(), request(50))
	require.NoError(t, err)

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, hashN(2), res.Candidates[0].Hash)
	assert.Equal(t, uint64(99), res.Candidates[0].BlockNumber)
	assert.Equal(t, "0.027", res.Candidates[0].Amount)
	assert.Equal(t, hashN(1), res.Candidates[1].Hash)
	assert.True(t, res.Complete)
	assert.Equal(t, 50, res.Scanned)
	assert.True(t, res.Checkpoint.Done())
	assert.Equal(t, uint64(100), res.Checkpoint.Head)
}

func TestScanForPayment_TokenAsset(t *testing.T) {
	chain := testutil.NewChain("ethereum", 100)
	chain.AddTokenTransfer(hashN(1), testutil.SenderWallet, testutil.USDCContract, testutil.MerchantWallet, "49", 100)
	chain.AddTransfer(hashN(2), testutil.SenderWallet, testutil.MerchantWallet, "49", 100)

	req := request(5)
	req.Asset = "USDC"
	req.ExpectedAmount = decimal.NewFromInt(49)

	res, err := newScanner(t, chain).ScanForPayment(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, hashN(1), res.Candidates[0].Hash)
}

func TestScanForPayment_CapsCandidates(t *testing.T) {
	chain := testutil.NewChain("ethereum", 100)
	for i := 0; i < 15; i++ {
		chain.AddTransfer(hashN(i+1), testutil.SenderWallet, testutil.MerchantWallet, "0.027222", uint64(100-i))
	}

	res, err := newScanner(t, chain).ScanForPayment(context.Background(), request(0))
	require.NoError(t, err)
	require.Len(t, res.Candidates, MaxCandidates)
	for i, c := range res.Candidates {
		assert.Equal(t, uint64(100-i), c.BlockNumber)
	}
	assert.False(t, res.Complete)
	assert.Equal(t, MaxCandidates, res.Scanned)
	assert.Equal(t, uint64(90), res.Checkpoint.Next)
	assert.Zero(t, res.Checkpoint.Skip)
}

func TestScanForPayment_CapInsideBlockResumes(t *testing.T) {
	chain := testutil.NewChain("ethereum", 100)
	for i := 1; i <= 12; i++ {
		chain.AddTransfer(hashN(i), testutil.SenderWallet, testutil.MerchantWallet, "0.027222", 100)
	}
	chain.AddTransfer(hashN(13), testutil.SenderWallet, testutil.MerchantWallet, "0.027222", 98)
	s := newScanner(t, chain)

	res, err := s.ScanForPayment(context.Background(), request(5))
	require.NoError(t, err)
	require.Len(t, res.Candidates, MaxCandidates)
	// newest transaction of the block first
	assert.Equal(t, hashN(12), res.Candidates[0].Hash)
	assert.Equal(t, hashN(3), res.Candidates[MaxCandidates-1].Hash)
	assert.False(t, res.Complete)
	assert.Equal(t, types.ScanCheckpoint{Network: "ethereum", Head: 100, Next: 100, Remaining: 5, Skip: 10}, res.Checkpoint)

	req := request(5)
	cp := res.Checkpoint
	req.Checkpoint = &cp
	rest, err := s.ScanForPayment(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, rest.Complete)
	assert.Equal(t, 5, rest.Scanned)
	var hashes []string
	for _, c := range rest.Candidates {
		hashes = append(hashes, c.Hash)
	}
	assert.Equal(t, []string{hashN(2), hashN(1), hashN(13)}, hashes)
}

func TestScanForPayment_DefaultDepthStopsAtGenesis(t *testing.T) {
	chain := testutil.NewChain("ethereum", 30)
	chain.AddTransfer(hashN(1), testutil.SenderWallet, testutil.MerchantWallet, "0.027222", 0)

	res, err := newScanner(t, chain).ScanForPayment(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, 31, res.Scanned)
	assert.True(t, res.Complete)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, uint64(0), res.Candidates[0].BlockNumber)
}

func TestScanForPayment_TimeoutReturnsPartialAndResumes(t *testing.T) {
	chain := testutil.NewChain("ethereum", 100)
	chain.AddTransfer(hashN(1), testutil.SenderWallet, testutil.MerchantWallet, "0.027222", 100)
	chain.AddTransfer(hashN(2), testutil.SenderWallet, testutil.MerchantWallet, "0.027222", 60)
	chain.BlockDelay = 20 * time.Millisecond

	s := newScanner(t, chain, WithTimeout(150*time.Millisecond))
	res, err := s.ScanForPayment(context.Background(), request(50))
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Less(t, res.Scanned, 50)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, hashN(1), res.Candidates[0].Hash)
	assert.Equal(t, 50-res.Scanned, res.Checkpoint.Remaining)

	chain.BlockDelay = 0
	req := request(50)
	cp := res.Checkpoint
	req.Checkpoint = &cp
	rest, err := s.ScanForPayment(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, rest.Complete)
	assert.Equal(t, 50, res.Scanned+rest.Scanned)
	require.Len(t, rest.Candidates, 1)
	assert.Equal(t, hashN(2), rest.Candidates[0].Hash)
}

func TestScanForPayment_Errors(t *testing.T) {
	chain := testutil.NewChain("ethereum", 100)
	s := newScanner(t, chain)

	_, err := s.ScanForPayment(context.Background(), ScanRequest{Network: "bitcoin", Wallet: testutil.MerchantWallet, Asset: "BTC"})
	assert.True(t, types.IsCode(err, types.ErrUnknownNetwork))

	req := request(10)
	req.Wallet = "not-a-wallet"
	_, err = s.ScanForPayment(context.Background(), req)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))

	chain.Err = types.ChainUnavailable("ethereum", errors.New("connection refused"))
	_, err = s.ScanForPayment(context.Background(), request(10))
	assert.True(t, types.IsCode(err, types.ErrChainUnavailable))

	req = request(10)
	req.Checkpoint = &types.ScanCheckpoint{Network: "solana", Head: 10, Next: 10, Remaining: 5}
	chain.Err = nil
	_, err = s.ScanForPayment(context.Background(), req)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestBlockIterator(t *testing.T) {
	chain := testutil.NewChain("ethereum", 100)
	s := newScanner(t, chain)

	it, err := s.Blocks("ethereum", 3, nil)
	require.NoError(t, err)
	assert.Zero(t, chain.Calls(), "iterators are lazy")

	var numbers []uint64
	for it.Next(context.Background()) {
		numbers = append(numbers, it.Block().Number)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []uint64{100, 99, 98}, numbers)
	assert.Equal(t, types.ScanCheckpoint{Network: "ethereum", Head: 100, Next: 97, Remaining: 0}, it.Checkpoint())

	_, err = s.Blocks("polygon", 3, nil)
	assert.True(t, types.IsCode(err, types.ErrUnknownNetwork))
}
