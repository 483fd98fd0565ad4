// Package clients provides read-only chain access for payment verification.
// Every client walks an ordered list of RPC endpoints and normalizes what it
// reads into the family-neutral types of package types.
package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/vitwit/chainpay/logger"
	"github.com/vitwit/chainpay/metrics"
	"github.com/vitwit/chainpay/types"
)

// ChainClient reads transactions, receipts and blocks from one network.
type ChainClient interface {
	Network() types.NetworkID
	GetTransaction(ctx context.Context, hash string) (*types.Transaction, error)
	GetReceipt(ctx context.Context, hash string) (*types.Receipt, error)
	GetBlockNumber(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, number uint64, includeTxs bool) (*types.Block, error)
	Close()
}

const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 10 * time.Second
)

// Options configures endpoint failover and instrumentation.
type Options struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	Logger         logger.Logger
	Metrics        metrics.Recorder
}

type Option func(*Options)

func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Options) { o.AttemptTimeout = d }
}

func WithLogger(l logger.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(o *Options) { o.Metrics = m }
}

func buildOptions(opts []Option) Options {
	o := Options{
		MaxAttempts:    DefaultMaxAttempts,
		AttemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}
	o.Logger = logger.OrNoop(o.Logger)
	o.Metrics = metrics.OrNoop(o.Metrics)
	return o
}

// Dial returns the client implementation matching the network's family.
func Dial(cfg types.NetworkConfig, opts ...Option) (ChainClient, error) {
	switch cfg.Family {
	case types.ChainEVM:
		return NewEVMClient(cfg, opts...)
	case types.ChainSolana:
		return NewSolanaClient(cfg, opts...)
	default:
		return nil, types.NewError(types.ErrConfigError, fmt.Sprintf("unsupported chain family %q for network %s", cfg.Family, cfg.ID))
	}
}
