package caching

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hla-matching-dictionary/internal/domain"
)

func TestRedisTier_BreakerOpensOnUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	tier := NewRedisTier(client, time.Minute, time.Minute, quietLogger())
	defer tier.Close()

	for i := 0; i < 3; i++ {
		_, found, err := tier.Get(context.Background(), keyA)
		require.Error(t, err)
		assert.False(t, found)
	}
	assert.Equal(t, gobreaker.StateOpen, tier.State())

	_, _, err := tier.Get(context.Background(), keyA)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestRedisTier_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping Redis integration test")
	}

	ctx := context.Background()
	tier, err := NewRedisTierFromURL(ctx, url, time.Minute, time.Second, quietLogger())
	require.NoError(t, err)
	defer tier.Close()

	key := ProjectionKey{Locus: domain.LocusB, Version: "test-" + time.Now().Format("150405.000000")}
	_, found, err := tier.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, tier.Set(ctx, key, Projection{"39:01:01G": "39:01P"}))

	p, found, err := tier.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "39:01P", p["39:01:01G"])
}
