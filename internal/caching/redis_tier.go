package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const redisKeyPrefix = "hla-dict:projection:"

// RedisTier stores projections in Redis behind a circuit breaker. While the
// breaker is open every call fails fast and the cache computes locally.
type RedisTier struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
}

// NewRedisTier wraps an existing client.
func NewRedisTier(client *redis.Client, ttl, breakerTimeout time.Duration, logger *logrus.Logger) *RedisTier {
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "projection-redis",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return &RedisTier{client: client, breaker: breaker, ttl: ttl}
}

// NewRedisTierFromURL connects to Redis and verifies the connection.
func NewRedisTierFromURL(ctx context.Context, url string, ttl, breakerTimeout time.Duration, logger *logrus.Logger) (*RedisTier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisTier(client, ttl, breakerTimeout, logger), nil
}

func redisKey(key ProjectionKey) string {
	return redisKeyPrefix + key.String()
}

// Get reads a projection. A missing key is a miss, not an error.
func (t *RedisTier) Get(ctx context.Context, key ProjectionKey) (Projection, bool, error) {
	v, err := t.breaker.Execute(func() (interface{}, error) {
		data, err := t.client.Get(ctx, redisKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading projection %s: %w", key, err)
	}
	data, _ := v.([]byte)
	if data == nil {
		return nil, false, nil
	}

	var p Projection
	if err := json.Unmarshal(data, &p); err != nil {
		t.client.Del(ctx, redisKey(key))
		return nil, false, nil
	}
	return p, true, nil
}

// Set writes a projection with the configured TTL.
func (t *RedisTier) Set(ctx context.Context, key ProjectionKey, projection Projection) error {
	data, err := json.Marshal(projection)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}
	_, err = t.breaker.Execute(func() (interface{}, error) {
		return nil, t.client.Set(ctx, redisKey(key), data, t.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("writing projection %s: %w", key, err)
	}
	return nil
}

// State reports the breaker state.
func (t *RedisTier) State() gobreaker.State {
	return t.breaker.State()
}

// Close closes the Redis client.
func (t *RedisTier) Close() error {
	return t.client.Close()
}
