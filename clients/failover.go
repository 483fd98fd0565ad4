package clients

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/vitwit/chainpay/metrics"
	"github.com/vitwit/chainpay/types"
)

// endpointPool walks an ordered endpoint list, connecting lazily.
type endpointPool[C any] struct {
	network types.NetworkID
	urls    []string
	dial    func(ctx context.Context, url string) (C, error)
	close   func(C)
	opts    Options

	mu    sync.Mutex
	conns map[int]C
}

func newEndpointPool[C any](
	network types.NetworkID,
	urls []string,
	dial func(ctx context.Context, url string) (C, error),
	closeFn func(C),
	opts Options,
) (*endpointPool[C], error) {
	if len(urls) == 0 {
		return nil, types.Errorf(types.ErrConfigError, "network %s has no rpc endpoints", network)
	}
	return &endpointPool[C]{
		network: network,
		urls:    append([]string(nil), urls...),
		dial:    dial,
		close:   closeFn,
		opts:    opts,
		conns:   make(map[int]C),
	}, nil
}

func (p *endpointPool[C]) conn(ctx context.Context, idx int) (C, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[idx]; ok {
		return c, nil
	}
	c, err := p.dial(ctx, p.urls[idx])
	if err != nil {
		var zero C
		return zero, err
	}
	p.conns[idx] = c
	return c, nil
}

// do runs fn against successive endpoints until one answers. ErrNotFound is
// an answer. Attempts cycle through the list and stop at MaxAttempts.
func (p *endpointPool[C]) do(ctx context.Context, op string, fn func(ctx context.Context, c C) error) error {
	start := time.Now()
	defer func() {
		p.opts.Metrics.ObserveLatency(metrics.RPCLatency, time.Since(start), map[string]string{
			"operation": op,
			"network":   p.network.String(),
		})
	}()

	var lastErr error
	for attempt := 0; attempt < p.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		idx := attempt % len(p.urls)
		err := p.try(ctx, idx, fn)
		if err == nil || errors.Is(err, ErrNotFound) {
			return err
		}

		lastErr = err
		p.opts.Logger.Warn("rpc endpoint failed", map[string]any{
			"network":  p.network.String(),
			"op":       op,
			"endpoint": idx,
			"attempt":  attempt + 1,
			"error":    err,
		})
		p.opts.Metrics.IncCounter(metrics.RPCFailover, map[string]string{
			"network": p.network.String(),
			"code":    strconv.Itoa(idx),
		})
	}

	return types.ChainUnavailable(p.network, fmt.Errorf("%s: %w", op, lastErr))
}

func (p *endpointPool[C]) try(ctx context.Context, idx int, fn func(ctx context.Context, c C) error) error {
	actx, cancel := context.WithTimeout(ctx, p.opts.AttemptTimeout)
	defer cancel()

	c, err := p.conn(actx, idx)
	if err != nil {
		return fmt.Errorf("dial endpoint %d: %w", idx, err)
	}
	return fn(actx, c)
}

func (p *endpointPool[C]) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for idx, c := range p.conns {
		if p.close != nil {
			p.close(c)
		}
		delete(p.conns, idx)
	}
}
