package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vitwit/chainpay/types"
	"github.com/vitwit/chainpay/utils"
)

var _ ChainClient = (*EVMClient)(nil)

// EVMClient reads EVM chains over raw JSON-RPC.
type EVMClient struct {
	cfg  types.NetworkConfig
	pool *endpointPool[*rpc.Client]
}

func NewEVMClient(cfg types.NetworkConfig, opts ...Option) (*EVMClient, error) {
	if !cfg.Family.IsEVM() {
		return nil, types.Errorf(types.ErrConfigError, "network %s is not an EVM network", cfg.ID)
	}

	pool, err := newEndpointPool(cfg.ID, cfg.RPCEndpoints,
		func(ctx context.Context, url string) (*rpc.Client, error) {
			return rpc.DialContext(ctx, url)
		},
		func(c *rpc.Client) { c.Close() },
		buildOptions(opts),
	)
	if err != nil {
		return nil, err
	}

	return &EVMClient{cfg: cfg, pool: pool}, nil
}

func (e *EVMClient) Network() types.NetworkID {
	return e.cfg.ID
}

func (e *EVMClient) Close() {
	e.pool.closeAll()
}

// rpcTransaction is the subset of eth_getTransactionByHash we need.
type rpcTransaction struct {
	Hash        string          `json:"hash"`
	From        string          `json:"from"`
	To          *string         `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	Input       hexutil.Bytes   `json:"input"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
}

type rpcReceipt struct {
	TransactionHash string          `json:"transactionHash"`
	Status          *hexutil.Uint64 `json:"status"`
	BlockNumber     *hexutil.Uint64 `json:"blockNumber"`
}

type rpcBlock struct {
	Number       *hexutil.Uint64   `json:"number"`
	Hash         string            `json:"hash"`
	Timestamp    hexutil.Uint64    `json:"timestamp"`
	Transactions []json.RawMessage `json:"transactions"`
}

func (e *EVMClient) GetTransaction(ctx context.Context, hash string) (*types.Transaction, error) {
	var out *types.Transaction
	err := e.pool.do(ctx, "eth_getTransactionByHash", func(ctx context.Context, c *rpc.Client) error {
		var raw *rpcTransaction
		if err := c.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
			return err
		}
		if raw == nil {
			return ErrNotFound
		}
		tx, err := e.normalize(raw)
		if err != nil {
			return err
		}
		out = tx
		return nil
	})
	return out, err
}

func (e *EVMClient) GetReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	var out *types.Receipt
	err := e.pool.do(ctx, "eth_getTransactionReceipt", func(ctx context.Context, c *rpc.Client) error {
		var raw *rpcReceipt
		if err := c.CallContext(ctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
			return err
		}
		if raw == nil {
			return ErrNotFound
		}
		if raw.Status == nil || raw.BlockNumber == nil {
			return fmt.Errorf("%w: receipt without status or block", errMalformed)
		}
		out = &types.Receipt{
			Hash:        types.NormalizeHash(raw.TransactionHash),
			Success:     uint64(*raw.Status) == 1,
			BlockNumber: uint64(*raw.BlockNumber),
		}
		if out.Hash == "" {
			out.Hash = types.NormalizeHash(hash)
		}
		return nil
	})
	return out, err
}

func (e *EVMClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	var out uint64
	err := e.pool.do(ctx, "eth_blockNumber", func(ctx context.Context, c *rpc.Client) error {
		var n hexutil.Uint64
		if err := c.CallContext(ctx, &n, "eth_blockNumber"); err != nil {
			return err
		}
		out = uint64(n)
		return nil
	})
	return out, err
}

func (e *EVMClient) GetBlock(ctx context.Context, number uint64, includeTxs bool) (*types.Block, error) {
	var out *types.Block
	err := e.pool.do(ctx, "eth_getBlockByNumber", func(ctx context.Context, c *rpc.Client) error {
		var raw *rpcBlock
		if err := c.CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), includeTxs); err != nil {
			return err
		}
		if raw == nil {
			return ErrNotFound
		}

		block := &types.Block{
			Number:    number,
			Hash:      raw.Hash,
			Timestamp: time.Unix(int64(raw.Timestamp), 0).UTC(),
		}
		if raw.Number != nil {
			block.Number = uint64(*raw.Number)
		}

		if includeTxs {
			block.Transactions = make([]*types.Transaction, 0, len(raw.Transactions))
			for _, msg := range raw.Transactions {
				var rtx rpcTransaction
				if err := json.Unmarshal(msg, &rtx); err != nil {
					return fmt.Errorf("%w: block %d transaction: %v", errMalformed, number, err)
				}
				tx, err := e.normalize(&rtx)
				if err != nil {
					return err
				}
				block.Transactions = append(block.Transactions, tx)
			}
		}

		out = block
		return nil
	})
	return out, err
}

func (e *EVMClient) normalize(raw *rpcTransaction) (*types.Transaction, error) {
	if raw.Hash == "" || raw.Value == nil {
		return nil, fmt.Errorf("%w: transaction without hash or value", errMalformed)
	}

	tx := &types.Transaction{
		Hash:  types.NormalizeHash(raw.Hash),
		From:  strings.ToLower(raw.From),
		Value: utils.FromBaseUnits(raw.Value.ToInt(), e.cfg.NativeDecimals),
	}
	if raw.To != nil {
		tx.To = strings.ToLower(*raw.To)
	}
	if raw.BlockNumber != nil {
		n := uint64(*raw.BlockNumber)
		tx.BlockNumber = &n
	}

	if asset, ok := e.cfg.AssetByContract(tx.To); ok {
		if transfer, ok := decodeERC20Transfer(raw.Input, asset); ok {
			tx.Token = transfer
		}
	}

	return tx, nil
}
