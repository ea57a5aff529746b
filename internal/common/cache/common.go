package cache

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// GetOrLoad reads key from the cache and falls back to load on a miss or an
// undecodable entry. A loaded value is written back with ttl; write-back
// failures are ignored.
func GetOrLoad[T any](
	ctx context.Context,
	cache Cache,
	key string,
	ttl time.Duration,
	marshal func(T) (string, error),
	unmarshal func(string) (T, error),
	load func(context.Context) (T, error),
) (T, error) {
	if cached, err := cache.Get(ctx, key); err == nil && cached != "" {
		if result, err := unmarshal(cached); err == nil {
			return result, nil
		}
	}

	data, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	if raw, err := marshal(data); err == nil {
		_ = cache.Set(ctx, key, raw, JitterTTL(ttl))
	}
	return data, nil
}

// JitterTTL shortens ttl by up to 10% so that keys written together do not
// expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
