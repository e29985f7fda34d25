package cache_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/Amund211/raidlog/internal/adapters/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate(t *testing.T) {
	t.Parallel()

	caches := map[string]func() (cache.Cache[string], func()){
		"basic": func() (cache.Cache[string], func()) {
			return cache.NewBasicCache[string](), func() {}
		},
		"ttl": func() (cache.Cache[string], func()) {
			return cache.NewTTLCache[string](time.Hour)
		},
	}

	for name, newCache := range caches {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			t.Run("miss then hit", func(t *testing.T) {
				t.Parallel()
				synctest.Test(t, func(t *testing.T) {
					c, stop := newCache()
					defer stop()

					data, created, err := cache.GetOrCreate(t.Context(), c, "key", func() (string, error) {
						return "data1", nil
					})
					require.NoError(t, err)
					require.True(t, created)
					require.Equal(t, "data1", data)

					data, created, err = cache.GetOrCreate(t.Context(), c, "key", func() (string, error) {
						require.Fail(t, "should be cached")
						return "", nil
					})
					require.NoError(t, err)
					require.False(t, created)
					require.Equal(t, "data1", data)
				})
			})

			t.Run("concurrent callers share one create", func(t *testing.T) {
				t.Parallel()
				synctest.Test(t, func(t *testing.T) {
					c, stop := newCache()
					defer stop()

					creates := atomic.Int32{}
					createdCount := atomic.Int32{}

					wg := sync.WaitGroup{}
					for range 20 {
						wg.Go(func() {
							data, created, err := cache.GetOrCreate(t.Context(), c, "key", func() (string, error) {
								creates.Add(1)
								time.Sleep(time.Second)
								return "shared", nil
							})
							require.NoError(t, err)
							require.Equal(t, "shared", data)
							if created {
								createdCount.Add(1)
							}
						})
					}
					wg.Wait()

					require.Equal(t, int32(1), creates.Load())
					require.Equal(t, int32(1), createdCount.Load())
				})
			})

			t.Run("failed create releases the claim", func(t *testing.T) {
				t.Parallel()
				synctest.Test(t, func(t *testing.T) {
					c, stop := newCache()
					defer stop()

					_, created, err := cache.GetOrCreate(t.Context(), c, "key", func() (string, error) {
						return "", assert.AnError
					})
					require.ErrorIs(t, err, assert.AnError)
					require.False(t, created)

					data, created, err := cache.GetOrCreate(t.Context(), c, "key", func() (string, error) {
						return "second try", nil
					})
					require.NoError(t, err)
					require.True(t, created)
					require.Equal(t, "second try", data)
				})
			})

			t.Run("waiters take over after a failed create", func(t *testing.T) {
				t.Parallel()
				synctest.Test(t, func(t *testing.T) {
					c, stop := newCache()
					defer stop()

					attempts := atomic.Int32{}
					results := make(chan error, 2)
					for range 2 {
						go func() {
							_, _, err := cache.GetOrCreate(t.Context(), c, "key", func() (string, error) {
								attempt := attempts.Add(1)
								time.Sleep(time.Second)
								if attempt == 1 {
									return "", fmt.Errorf("attempt %d: %w", attempt, assert.AnError)
								}
								return "ok", nil
							})
							results <- err
						}()
					}

					errs := []error{<-results, <-results}
					require.Equal(t, int32(2), attempts.Load())
					require.True(t, (errs[0] == nil) != (errs[1] == nil), "exactly one caller should fail, got %v", errs)
				})
			})

			t.Run("waiting stops when ctx is done", func(t *testing.T) {
				t.Parallel()
				synctest.Test(t, func(t *testing.T) {
					c, stop := newCache()
					defer stop()

					release := make(chan struct{})
					done := make(chan struct{})
					go func() {
						defer close(done)
						_, _, err := cache.GetOrCreate(t.Context(), c, "key", func() (string, error) {
							<-release
							return "late", nil
						})
						require.NoError(t, err)
					}()
					synctest.Wait()

					ctx, cancel := context.WithTimeout(t.Context(), time.Second)
					defer cancel()
					_, _, err := cache.GetOrCreate(ctx, c, "key", func() (string, error) {
						require.Fail(t, "key is claimed")
						return "", nil
					})
					require.ErrorIs(t, err, context.DeadlineExceeded)

					close(release)
					<-done
				})
			})
		})
	}
}
