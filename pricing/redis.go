package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitwit/chainpay/types"
)

const defaultRedisPrefix = "chainpay:price:"

// RedisCache shares quotes between service instances.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(symbol string) string {
	return c.prefix + strings.ToUpper(symbol)
}

func (c *RedisCache) Get(ctx context.Context, symbol string) (types.Quote, bool, error) {
	raw, err := c.client.Get(ctx, c.key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Quote{}, false, nil
	}
	if err != nil {
		return types.Quote{}, false, fmt.Errorf("redis get %s: %w", symbol, err)
	}

	var q types.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return types.Quote{}, false, fmt.Errorf("decode cached quote %s: %w", symbol, err)
	}
	return q, true, nil
}

func (c *RedisCache) Set(ctx context.Context, quote types.Quote, ttl time.Duration) error {
	raw, err := json.Marshal(quote)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(quote.Symbol), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", quote.Symbol, err)
	}
	return nil
}
