// Package scanner walks recent blocks backward looking for transfers that
// could pay an invoice. It never changes invoice state: a candidate still has
// to be verified.
package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitwit/chainpay/clients"
	"github.com/vitwit/chainpay/logger"
	"github.com/vitwit/chainpay/metrics"
	"github.com/vitwit/chainpay/types"
	"github.com/vitwit/chainpay/utils"
)

const (
	DefaultDepth   = 100
	DefaultTimeout = 20 * time.Second
	MaxCandidates  = 10
)

// NetworkResolver looks up network and asset configuration.
type NetworkResolver interface {
	Asset(id types.NetworkID, symbol string) (types.NetworkConfig, types.AssetConfig, error)
}

// ScanRequest describes the payment to look for.
type ScanRequest struct {
	Network        types.NetworkID
	Wallet         string
	Asset          string
	ExpectedAmount decimal.Decimal
	// Depth is the number of blocks to visit, DefaultDepth when zero.
	Depth int
	// Checkpoint resumes an earlier partial scan.
	Checkpoint *types.ScanCheckpoint
}

type Scanner struct {
	networks  NetworkResolver
	clients   clients.Source
	tolerance decimal.Decimal
	timeout   time.Duration
	logger    logger.Logger
	metrics   metrics.Recorder
}

type Option func(*Scanner)

func WithTolerance(rate decimal.Decimal) Option {
	return func(s *Scanner) { s.tolerance = rate }
}

// WithTimeout bounds the wall-clock time of one ScanForPayment call.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) { s.timeout = d }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Scanner) { s.metrics = r }
}

func New(networks NetworkResolver, chains clients.Source, opts ...Option) *Scanner {
	s := &Scanner{
		networks:  networks,
		clients:   chains,
		tolerance: utils.DefaultToleranceRate,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	s.logger = logger.OrNoop(s.logger)
	s.metrics = metrics.OrNoop(s.metrics)
	return s
}

// Blocks returns an iterator over up to depth blocks of network, newest
// first. A non-nil checkpoint resumes where a previous iterator stopped and
// takes precedence over depth.
func (s *Scanner) Blocks(network types.NetworkID, depth int, checkpoint *types.ScanCheckpoint) (*BlockIterator, error) {
	client, err := s.clients.Client(network)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	it := &BlockIterator{client: client, depth: depth}
	if checkpoint != nil {
		if checkpoint.Network != "" && checkpoint.Network != network {
			return nil, types.Errorf(types.ErrInvalidRequest,
				"checkpoint belongs to network %s, not %s", checkpoint.Network, network)
		}
		cp := *checkpoint
		cp.Network = network
		it.cp = cp
		it.started = true
	}
	return it, nil
}

// ScanForPayment collects transfers of the requested asset to wallet whose
// amount is within tolerance of ExpectedAmount. Candidates are ordered
// most recent first, within a block too, and capped at MaxCandidates. When
// the cap is hit, the deadline passes or the chain fails mid-scan, the
// candidates found so far are returned with Complete=false and a checkpoint
// to resume from.
func (s *Scanner) ScanForPayment(ctx context.Context, req ScanRequest) (*types.ScanResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveLatency(metrics.ScanLatency, time.Since(start), map[string]string{"network": req.Network.String()})
	}()

	network, asset, err := s.networks.Asset(req.Network, req.Asset)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateAddress(req.Wallet, network.Family); err != nil {
		return nil, types.WrapError(types.ErrInvalidRequest, "invalid wallet", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	it, err := s.Blocks(network.ID, req.Depth, req.Checkpoint)
	if err != nil {
		return nil, err
	}

	res := &types.ScanResult{Candidates: []types.ScanCandidate{}}
	capped := false
	for !capped && it.Next(ctx) {
		res.Scanned++
		block := it.Block()
		txs := block.Transactions
		for i := len(txs) - 1 - it.Visited(); i >= 0; i-- {
			tx := txs[i]
			to, amount, ok := tx.Recipient(asset)
			if !ok || !network.Family.SameAddress(to, req.Wallet) {
				continue
			}
			if !utils.WithinTolerance(amount, req.ExpectedAmount, s.tolerance) {
				continue
			}
			res.Candidates = append(res.Candidates, types.ScanCandidate{
				Hash:        tx.Hash,
				BlockNumber: block.Number,
				From:        tx.From,
				Amount:      amount.String(),
			})
			if len(res.Candidates) == MaxCandidates {
				capped = true
				it.Stop(len(txs) - i)
				break
			}
		}
	}
	res.Checkpoint = it.Checkpoint()

	if err := it.Err(); err != nil {
		if res.Scanned == 0 && !errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, err
		}
		s.logger.Warn("block scan stopped early", map[string]any{
			"network":   network.ID.String(),
			"scanned":   res.Scanned,
			"next":      res.Checkpoint.Next,
			"remaining": res.Checkpoint.Remaining,
			"error":     err.Error(),
		})
		return res, nil
	}

	res.Complete = res.Checkpoint.Done()
	return res, nil
}

// BlockIterator walks blocks backward from the chain head. It fetches one
// block per Next call and can be resumed from its Checkpoint.
type BlockIterator struct {
	client  clients.ChainClient
	depth   int
	cp      types.ScanCheckpoint
	started bool
	block   *types.Block
	visited int
	err     error
}

// Next fetches the next older block. It returns false when the walk is done
// or failed; Err distinguishes the two.
func (it *BlockIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}

	if !it.started {
		head, err := it.client.GetBlockNumber(ctx)
		if err != nil {
			it.err = err
			return false
		}
		it.cp = types.ScanCheckpoint{
			Network:   it.client.Network(),
			Head:      head,
			Next:      head,
			Remaining: it.depth,
		}
		it.started = true
	}
	if it.cp.Done() {
		return false
	}

	block, err := it.client.GetBlock(ctx, it.cp.Next, true)
	switch {
	case errors.Is(err, clients.ErrNotFound):
		block = &types.Block{Number: it.cp.Next}
	case err != nil:
		it.err = err
		return false
	}

	it.block = block
	it.visited = it.cp.Skip
	it.cp.Skip = 0
	if it.cp.Next == 0 {
		it.cp.Remaining = 0
	} else {
		it.cp.Next--
		it.cp.Remaining--
	}
	return true
}

// Block is the block fetched by the last successful Next.
func (it *BlockIterator) Block() *types.Block { return it.block }

// Visited is the number of the current block's transactions, newest first,
// that a resumed checkpoint marked as already examined.
func (it *BlockIterator) Visited() int { return it.visited }

// Stop ends the walk inside the current block once visited of its
// transactions, newest first, were examined. The checkpoint then resumes
// with the rest of that block.
func (it *BlockIterator) Stop(visited int) {
	if it.block == nil || visited >= len(it.block.Transactions) {
		return
	}
	it.cp.Next = it.block.Number
	it.cp.Remaining++
	it.cp.Skip = visited
}

func (it *BlockIterator) Err() error { return it.err }

// Checkpoint describes the blocks not visited yet.
func (it *BlockIterator) Checkpoint() types.ScanCheckpoint { return it.cp }
