package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitwit/chainpay/clients"
	"github.com/vitwit/chainpay/types"
)

var _ clients.ChainClient = (*Chain)(nil)

// Chain is an in-memory clients.ChainClient.
type Chain struct {
	network types.NetworkID

	mu       sync.Mutex
	head     uint64
	txs      map[string]*types.Transaction
	receipts map[string]*types.Receipt
	blocks   map[uint64]*types.Block

	// Err, when set, is returned by every call.
	Err error
	// BlockDelay slows GetBlock down to exercise timeouts.
	BlockDelay time.Duration

	calls atomic.Int64
}

func NewChain(network types.NetworkID, head uint64) *Chain {
	return &Chain{
		network:  network,
		head:     head,
		txs:      make(map[string]*types.Transaction),
		receipts: make(map[string]*types.Receipt),
		blocks:   make(map[uint64]*types.Block),
	}
}

// Calls counts every chain read.
func (c *Chain) Calls() int64 { return c.calls.Load() }

func (c *Chain) SetHead(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = n
}

// AddTransfer records a successful native transfer mined at block.
func (c *Chain) AddTransfer(hash, from, to string, amount string, block uint64) *types.Transaction {
	tx := &types.Transaction{
		Hash:        types.NormalizeHash(hash),
		From:        from,
		To:          to,
		Value:       decimal.RequireFromString(amount),
		BlockNumber: &block,
	}
	c.AddTransaction(tx, &types.Receipt{Hash: tx.Hash, Success: true, BlockNumber: block})
	return tx
}

// AddTokenTransfer records a successful token transfer mined at block.
func (c *Chain) AddTokenTransfer(hash, from, contract, to string, amount string, block uint64) *types.Transaction {
	tx := &types.Transaction{
		Hash:        types.NormalizeHash(hash),
		From:        from,
		To:          contract,
		Value:       decimal.Zero,
		BlockNumber: &block,
		Token: &types.TokenTransfer{
			Contract: contract,
			To:       to,
			Amount:   decimal.RequireFromString(amount),
		},
	}
	c.AddTransaction(tx, &types.Receipt{Hash: tx.Hash, Success: true, BlockNumber: block})
	return tx
}

// AddTransaction records tx and, when receipt is non-nil, its receipt. Mined
// transactions are also appended to their block.
func (c *Chain) AddTransaction(tx *types.Transaction, receipt *types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := types.NormalizeHash(tx.Hash)
	c.txs[key] = tx
	if receipt != nil {
		c.receipts[key] = receipt
	}
	if tx.BlockNumber != nil {
		b := c.blockLocked(*tx.BlockNumber)
		b.Transactions = append(b.Transactions, tx)
	}
}

func (c *Chain) blockLocked(n uint64) *types.Block {
	b, ok := c.blocks[n]
	if !ok {
		b = &types.Block{Number: n}
		c.blocks[n] = b
	}
	return b
}

func (c *Chain) Network() types.NetworkID { return c.network }

func (c *Chain) Close() {}

func (c *Chain) GetTransaction(ctx context.Context, hash string) (*types.Transaction, error) {
	c.calls.Add(1)
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.txs[types.NormalizeHash(hash)]
	if !ok {
		return nil, clients.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (c *Chain) GetReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	c.calls.Add(1)
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.receipts[types.NormalizeHash(hash)]
	if !ok {
		return nil, clients.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (c *Chain) GetBlockNumber(ctx context.Context) (uint64, error) {
	c.calls.Add(1)
	if c.Err != nil {
		return 0, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *Chain) GetBlock(ctx context.Context, n uint64, includeTxs bool) (*types.Block, error) {
	c.calls.Add(1)
	if c.Err != nil {
		return nil, c.Err
	}
	if c.BlockDelay > 0 {
		select {
		case <-time.After(c.BlockDelay):
		case <-ctx.Done():
			return nil, types.ChainUnavailable(c.network, ctx.Err())
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if n > c.head {
		return nil, clients.ErrNotFound
	}
	out := &types.Block{Number: n}
	if b, ok := c.blocks[n]; ok {
		out.Hash = b.Hash
		out.Timestamp = b.Timestamp
		if includeTxs {
			out.Transactions = append([]*types.Transaction(nil), b.Transactions...)
		}
	}
	return out, nil
}
