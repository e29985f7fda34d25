package cache

import (
	"context"
	"fmt"

	"github.com/Amund211/raidlog/internal/logging"
)

// Returns data, created, error
//
// Concurrent callers for the same key share one call to create. If create fails the claim
// is released so a later caller can try again.
func GetOrCreate[T any](ctx context.Context, cache Cache[T], key string, create func() (T, error)) (T, bool, error) {
	claimed := false
	set := false
	defer func() {
		if claimed && !set {
			cache.delete(key)
		}
	}()

	logger := logging.FromContext(ctx)

	for {
		result := cache.getOrClaim(key)

		if result.claimed {
			claimed = true
			logger.InfoContext(ctx, "Cache lookup", "cache", "miss", "key", key)

			data, err := create()
			if err != nil {
				var empty T
				return empty, false, fmt.Errorf("failed to create cache entry: %w", err)
			}

			cache.set(key, data)
			set = true

			return data, true, nil
		}

		if result.valid {
			logger.InfoContext(ctx, "Cache lookup", "cache", "hit", "key", key)
			return result.data, false, nil
		}

		if err := ctx.Err(); err != nil {
			var empty T
			return empty, false, fmt.Errorf("stopped waiting for cache entry: %w", err)
		}
		cache.wait()
	}
}
