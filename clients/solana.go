package clients

import (
	"context"
	"errors"
	"fmt"

	binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"

	"github.com/vitwit/chainpay/types"
	"github.com/vitwit/chainpay/utils"
)

// Slot errors returned for skipped or pruned slots. Both mean the slot holds
// no block.
const (
	codeSlotSkipped                = -32007
	codeLongTermStorageSlotSkipped = -32009
)

var _ ChainClient = (*SolanaClient)(nil)

// SolanaClient reads Solana over JSON-RPC. Slots play the role of block
// numbers and only native SOL transfers are recognised.
type SolanaClient struct {
	cfg        types.NetworkConfig
	pool       *endpointPool[*rpc.Client]
	commitment rpc.CommitmentType
}

func NewSolanaClient(cfg types.NetworkConfig, opts ...Option) (*SolanaClient, error) {
	if !cfg.Family.IsSolana() {
		return nil, types.Errorf(types.ErrConfigError, "network %s is not a Solana network", cfg.ID)
	}

	pool, err := newEndpointPool(cfg.ID, cfg.RPCEndpoints,
		func(_ context.Context, url string) (*rpc.Client, error) {
			return rpc.New(url), nil
		},
		func(c *rpc.Client) { _ = c.Close() },
		buildOptions(opts),
	)
	if err != nil {
		return nil, err
	}

	return &SolanaClient{
		cfg:        cfg,
		pool:       pool,
		commitment: rpc.CommitmentConfirmed,
	}, nil
}

func (s *SolanaClient) Network() types.NetworkID { return s.cfg.ID }

func (s *SolanaClient) Close() { s.pool.closeAll() }

func (s *SolanaClient) GetTransaction(ctx context.Context, hash string) (*types.Transaction, error) {
	res, err := s.fetchTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	return s.normalize(hash, res.Slot, res.Transaction, res.Meta)
}

// GetReceipt reports the execution status of a landed transaction.
func (s *SolanaClient) GetReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	res, err := s.fetchTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	return &types.Receipt{
		Hash:        hash,
		Success:     res.Meta == nil || res.Meta.Err == nil,
		BlockNumber: res.Slot,
	}, nil
}

func (s *SolanaClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	var out uint64
	err := s.pool.do(ctx, "getSlot", func(ctx context.Context, c *rpc.Client) error {
		slot, err := c.GetSlot(ctx, s.commitment)
		if err != nil {
			return err
		}
		out = slot
		return nil
	})
	return out, err
}

func (s *SolanaClient) GetBlock(ctx context.Context, slot uint64, includeTxs bool) (*types.Block, error) {
	details := rpc.TransactionDetailsNone
	if includeTxs {
		details = rpc.TransactionDetailsFull
	}
	maxVersion := uint64(0)
	rewards := false

	var out *types.Block
	err := s.pool.do(ctx, "getBlock", func(ctx context.Context, c *rpc.Client) error {
		res, err := c.GetBlockWithOpts(ctx, slot, &rpc.GetBlockOpts{
			Encoding:                       solana.EncodingBase64,
			TransactionDetails:             details,
			Rewards:                        &rewards,
			Commitment:                     s.commitment,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			if isSkippedSlot(err) {
				out = &types.Block{Number: slot}
				return nil
			}
			if errors.Is(err, rpc.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if res == nil {
			return ErrNotFound
		}

		block := &types.Block{
			Number: slot,
			Hash:   res.Blockhash.String(),
		}
		if res.BlockTime != nil {
			block.Timestamp = res.BlockTime.Time().UTC()
		}

		if includeTxs {
			block.Transactions = make([]*types.Transaction, 0, len(res.Transactions))
			for _, twm := range res.Transactions {
				parsed, err := twm.GetTransaction()
				if err != nil {
					return err
				}
				if len(parsed.Signatures) == 0 {
					continue
				}
				tx, err := s.fromParsed(parsed.Signatures[0].String(), slot, parsed, twm.Meta)
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

func (s *SolanaClient) fetchTransaction(ctx context.Context, hash string) (*rpc.GetTransactionResult, error) {
	sig, err := solana.SignatureFromBase58(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature %q", ErrNotFound, hash)
	}

	maxVersion := uint64(0)
	var out *rpc.GetTransactionResult
	err = s.pool.do(ctx, "getTransaction", func(ctx context.Context, c *rpc.Client) error {
		res, err := c.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     s.commitment,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if res == nil || res.Transaction == nil {
			return ErrNotFound
		}
		out = res
		return nil
	})
	return out, err
}

func (s *SolanaClient) normalize(hash string, slot uint64, env *rpc.TransactionResultEnvelope, meta *rpc.TransactionMeta) (*types.Transaction, error) {
	parsed, err := decodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	return s.fromParsed(hash, slot, parsed, meta)
}

// fromParsed extracts the native SOL payment of a transaction. System
// transfers are collected from top-level and inner instructions. Transfers
// to the merchant wallet pick the recipient when present, otherwise the
// first transfer does; lamports of every transfer to the recipient are
// summed.
func (s *SolanaClient) fromParsed(hash string, slot uint64, tx *solana.Transaction, meta *rpc.TransactionMeta) (*types.Transaction, error) {
	keys := append(solana.PublicKeySlice{}, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}

	out := &types.Transaction{
		Hash:        hash,
		Value:       decimal.Zero,
		BlockNumber: &slot,
	}
	if len(keys) > 0 {
		out.From = keys[0].String()
	}

	var transfers []lamportTransfer
	for _, inst := range tx.Message.Instructions {
		t, ok, err := decodeTransfer(tx, keys, int(inst.ProgramIDIndex), inst.Accounts, inst.Data)
		if err != nil {
			return nil, err
		}
		if ok {
			transfers = append(transfers, t)
		}
	}
	if meta != nil {
		for _, group := range meta.InnerInstructions {
			for _, inst := range group.Instructions {
				t, ok, err := decodeTransfer(tx, keys, int(inst.ProgramIDIndex), inst.Accounts, inst.Data)
				if err != nil {
					return nil, err
				}
				if ok {
					transfers = append(transfers, t)
				}
			}
		}
	}
	if len(transfers) == 0 {
		return out, nil
	}

	recipient := transfers[0].to
	if merchant, err := solana.PublicKeyFromBase58(s.cfg.MerchantWallet); err == nil {
		for _, t := range transfers {
			if t.to.Equals(merchant) {
				recipient = merchant
				break
			}
		}
	}

	var lamports uint64
	var sender solana.PublicKey
	for _, t := range transfers {
		if !t.to.Equals(recipient) {
			continue
		}
		if sender.IsZero() {
			sender = t.from
		}
		lamports += t.lamports
	}
	out.From = sender.String()
	out.To = recipient.String()
	out.Value = utils.FromBaseUnitsUint64(lamports, s.cfg.NativeDecimals)
	return out, nil
}

type lamportTransfer struct {
	from, to solana.PublicKey
	lamports uint64
}

// decodeTransfer decodes a compiled instruction as a system transfer. ok is
// false for any other instruction.
// Account indexes are uint16 in messages and may be int64 in rpc metadata.
func decodeTransfer[I uint16 | int64](tx *solana.Transaction, keys solana.PublicKeySlice, programIdx int, accounts []I, data []byte) (lamportTransfer, bool, error) {
	if programIdx < 0 || programIdx >= len(keys) || !keys[programIdx].Equals(solana.SystemProgramID) {
		return lamportTransfer{}, false, nil
	}

	accountMetas := make([]*solana.AccountMeta, 0, len(accounts))
	for _, accIdx := range accounts {
		if int(accIdx) < 0 || int(accIdx) >= len(keys) {
			return lamportTransfer{}, false, fmt.Errorf("%w: account index %d out of range", errMalformed, accIdx)
		}
		pub := keys[int(accIdx)]
		accountMetas = append(accountMetas, &solana.AccountMeta{
			PublicKey: pub,
			IsSigner:  tx.Message.IsSigner(pub),
		})
	}

	sysInst, err := system.DecodeInstruction(accountMetas, data)
	if err != nil {
		return lamportTransfer{}, false, nil
	}
	transfer, ok := sysInst.Impl.(*system.Transfer)
	if !ok || transfer.Lamports == nil || len(accountMetas) < 2 {
		return lamportTransfer{}, false, nil
	}
	return lamportTransfer{
		from:     accountMetas[0].PublicKey,
		to:       accountMetas[1].PublicKey,
		lamports: *transfer.Lamports,
	}, true, nil
}

func decodeEnvelope(env *rpc.TransactionResultEnvelope) (*solana.Transaction, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: missing transaction", errMalformed)
	}
	tx, err := solana.TransactionFromDecoder(binary.NewBinDecoder(env.GetBinary()))
	if err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %v", errMalformed, err)
	}
	return tx, nil
}

func isSkippedSlot(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == codeSlotSkipped || rpcErr.Code == codeLongTermStorageSlotSkipped
}
