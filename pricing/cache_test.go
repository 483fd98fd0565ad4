package pricing

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/chainpay/internal/testutil"
	"github.com/vitwit/chainpay/types"
)

func TestMemoryCache_Expiry(t *testing.T) {
	clock := testutil.NewClock(testutil.Epoch)
	c := NewMemoryCache(clock)
	ctx := context.Background()

	_, hit, err := c.Get(ctx, "ETH")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, types.Quote{Symbol: "eth", PriceUSD: decimal.NewFromInt(1800)}, time.Minute))

	q, hit, err := c.Get(ctx, "ETH")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "1800", q.PriceUSD.String())

	clock.Advance(time.Minute)
	_, hit, _ = c.Get(ctx, "ETH")
	assert.False(t, hit)
}

// TestRedisCache runs against a live server named by CHAINPAY_TEST_REDIS_ADDR.
func TestRedisCache(t *testing.T) {
	addr := os.Getenv("CHAINPAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHAINPAY_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	c := NewRedisCache(client, "chainpay:test:price:")
	t.Cleanup(func() { client.Del(ctx, "chainpay:test:price:ETH") })

	require.NoError(t, c.Set(ctx, types.Quote{Symbol: "ETH", PriceUSD: decimal.RequireFromString("1800.5"), Source: types.PriceSourceFeed}, time.Minute))

	q, hit, err := c.Get(ctx, "eth")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "1800.5", q.PriceUSD.String())

	_, hit, err = c.Get(ctx, "SOL")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCache_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	c := NewRedisCache(client, "")
	_, _, err := c.Get(context.Background(), "ETH")
	assert.Error(t, err)

	// The oracle degrades to its fallback when the cache is down.
	o := NewOracle(testAssets(), WithCache(c))
	q, err := o.GetPrice(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, types.PriceSourceFallback, q.Source)
}
