package pricing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vitwit/chainpay/types"
)

// Cache stores recent quotes. Entries expire after the TTL they were set with.
type Cache interface {
	Get(ctx context.Context, symbol string) (types.Quote, bool, error)
	Set(ctx context.Context, quote types.Quote, ttl time.Duration) error
}

type memoryEntry struct {
	quote     types.Quote
	expiresAt time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	clock types.Clock

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryCache(clock types.Clock) *MemoryCache {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &MemoryCache{clock: clock, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, symbol string) (types.Quote, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[strings.ToUpper(symbol)]
	c.mu.RUnlock()

	if !ok || !c.clock.Now().Before(e.expiresAt) {
		return types.Quote{}, false, nil
	}
	return e.quote, true, nil
}

func (c *MemoryCache) Set(_ context.Context, quote types.Quote, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[strings.ToUpper(quote.Symbol)] = memoryEntry{
		quote:     quote,
		expiresAt: c.clock.Now().Add(ttl),
	}
	return nil
}
