package coalescer_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/Amund211/raidlog/internal/coalescer"
	"github.com/Amund211/raidlog/internal/domain"
	"github.com/Amund211/raidlog/internal/domaintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockedFetcher struct {
	fetch func(ctx context.Context, reportID string) (*domain.ReportDetail, error)

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (m *mockedFetcher) GetDetail(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
	m.calls.Add(1)
	current := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)

	for {
		seen := m.maxInFlight.Load()
		if current <= seen || m.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}

	return m.fetch(ctx, reportID)
}

var start = time.Date(2024, time.March, 1, 20, 0, 0, 0, time.UTC)

func detailFor(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
	return domaintest.NewDetail(reportID, start), nil
}

func newStarted(t *testing.T, fetcher coalescer.DetailFetcher, workers int, opts ...coalescer.Option) *coalescer.Coalescer {
	t.Helper()

	c, err := coalescer.New(context.Background(), fetcher, workers, opts...)
	require.NoError(t, err)
	c.Start()
	return c
}

func TestNew(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{0, -1} {
		_, err := coalescer.New(t.Context(), &mockedFetcher{fetch: detailFor}, workers)
		require.Error(t, err)
	}
}

func TestCoalescer(t *testing.T) {
	t.Parallel()

	t.Run("every request resolves to its own detail", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			fetcher := &mockedFetcher{fetch: detailFor}
			c := newStarted(t, fetcher, 4)

			requests := make([]*coalescer.Request, 0, 100)
			for i := range 100 {
				requests = append(requests, c.Submit(fmt.Sprintf("report-%d", i)))
			}

			for i, request := range requests {
				detail, err := request.Wait(t.Context())
				require.NoError(t, err)
				require.Equal(t, fmt.Sprintf("report-%d", i), detail.ReportID)
			}

			require.NoError(t, c.Shutdown(t.Context()))
			require.Equal(t, int32(100), fetcher.calls.Load())
		})
	})

	t.Run("at most P fetches in flight", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			begin := time.Now()
			fetcher := &mockedFetcher{
				fetch: func(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
					time.Sleep(time.Second)
					return detailFor(ctx, reportID)
				},
			}
			c := newStarted(t, fetcher, 4)

			wg := sync.WaitGroup{}
			for i := range 50 {
				wg.Go(func() {
					detail, err := c.Submit(fmt.Sprintf("report-%d", i)).Wait(t.Context())
					require.NoError(t, err)
					require.NotNil(t, detail)
				})
			}
			wg.Wait()

			require.Equal(t, int32(4), fetcher.maxInFlight.Load())
			// 50 fetches of 1 second over 4 workers
			require.Equal(t, begin.Add(13*time.Second), time.Now())

			require.NoError(t, c.Shutdown(t.Context()))
		})
	})

	t.Run("no deduplication", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			fetcher := &mockedFetcher{fetch: detailFor}
			c := newStarted(t, fetcher, 2)

			first := c.Submit("same")
			second := c.Submit("same")

			firstDetail, err := first.Wait(t.Context())
			require.NoError(t, err)
			secondDetail, err := second.Wait(t.Context())
			require.NoError(t, err)

			require.NotSame(t, firstDetail, secondDetail)
			require.Equal(t, int32(2), fetcher.calls.Load())

			require.NoError(t, c.Shutdown(t.Context()))
		})
	})

	t.Run("failed fetches resolve to nil and the worker keeps going", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			fetcher := &mockedFetcher{
				fetch: func(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
					switch reportID {
					case "error":
						return nil, fmt.Errorf("%w: status 502", domain.ErrTemporarilyUnavailable)
					case "not-found":
						return nil, nil
					}
					return detailFor(ctx, reportID)
				},
			}
			c := newStarted(t, fetcher, 1)

			failing := c.Submit("error")
			missing := c.Submit("not-found")
			after := c.Submit("after")

			detail, err := failing.Wait(t.Context())
			require.Nil(t, detail)
			require.ErrorIs(t, err, domain.ErrTemporarilyUnavailable)

			detail, err = missing.Wait(t.Context())
			require.Nil(t, detail)
			require.ErrorIs(t, err, domain.ErrReportNotFound)

			detail, err = after.Wait(t.Context())
			require.NoError(t, err)
			require.Equal(t, "after", detail.ReportID)

			require.NoError(t, c.Shutdown(t.Context()))
		})
	})

	t.Run("a panicking fetch still resolves", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			fetcher := &mockedFetcher{
				fetch: func(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
					if reportID == "boom" {
						panic("boom")
					}
					return detailFor(ctx, reportID)
				},
			}
			c := newStarted(t, fetcher, 1)

			boom := c.Submit("boom")
			after := c.Submit("after")

			detail, err := boom.Wait(t.Context())
			require.Nil(t, detail)
			require.ErrorContains(t, err, "panic")

			detail, err = after.Wait(t.Context())
			require.NoError(t, err)
			require.Equal(t, "after", detail.ReportID)

			require.NoError(t, c.Shutdown(t.Context()))
		})
	})

	t.Run("slow fetch does not hold up other workers", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			release := make(chan struct{})
			fetcher := &mockedFetcher{
				fetch: func(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
					if reportID == "slow" {
						<-release
					}
					return detailFor(ctx, reportID)
				},
			}
			c := newStarted(t, fetcher, 2)

			slow := c.Submit("slow")
			synctest.Wait()

			for i := range 10 {
				detail, err := c.Submit(fmt.Sprintf("fast-%d", i)).Wait(t.Context())
				require.NoError(t, err)
				require.NotNil(t, detail)
			}

			select {
			case <-slow.Done():
				require.Fail(t, "slow request resolved early")
			default:
			}

			close(release)
			detail, err := slow.Wait(t.Context())
			require.NoError(t, err)
			require.Equal(t, "slow", detail.ReportID)

			require.NoError(t, c.Shutdown(t.Context()))
		})
	})

	t.Run("fetch timeout", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			fetcher := &mockedFetcher{
				fetch: func(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				},
			}
			c := newStarted(t, fetcher, 1, coalescer.WithFetchTimeout(5*time.Second))

			begin := time.Now()
			detail, err := c.Submit("hangs").Wait(t.Context())
			require.Nil(t, detail)
			require.ErrorIs(t, err, context.DeadlineExceeded)
			require.Equal(t, begin.Add(5*time.Second), time.Now())

			require.NoError(t, c.Shutdown(t.Context()))
		})
	})

	t.Run("no deadline without a fetch timeout", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			fetcher := &mockedFetcher{
				fetch: func(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
					_, hasDeadline := ctx.Deadline()
					assert.False(t, hasDeadline)

					// Long waits, such as for a rate limit, are fine
					time.Sleep(10 * time.Minute)
					return detailFor(ctx, reportID)
				},
			}
			c := newStarted(t, fetcher, 1)

			detail, err := c.Submit("patient").Wait(t.Context())
			require.NoError(t, err)
			require.Equal(t, "patient", detail.ReportID)

			require.NoError(t, c.Shutdown(t.Context()))
		})
	})

	t.Run("wait honors the caller's context", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			release := make(chan struct{})
			fetcher := &mockedFetcher{
				fetch: func(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
					<-release
					return detailFor(ctx, reportID)
				},
			}
			c := newStarted(t, fetcher, 1)

			request := c.Submit("a")

			ctx, cancel := context.WithTimeout(t.Context(), time.Second)
			defer cancel()
			_, err := request.Wait(ctx)
			require.ErrorIs(t, err, context.DeadlineExceeded)

			// The fetch itself carries on
			close(release)
			detail, err := request.Wait(t.Context())
			require.NoError(t, err)
			require.Equal(t, "a", detail.ReportID)

			require.NoError(t, c.Shutdown(t.Context()))
		})
	})

	t.Run("requests submitted before start wait for it", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			fetcher := &mockedFetcher{fetch: detailFor}
			c, err := coalescer.New(context.Background(), fetcher, 2)
			require.NoError(t, err)

			request := c.Submit("a")
			synctest.Wait()
			require.Equal(t, 1, c.Len())
			require.Equal(t, int32(0), fetcher.calls.Load())

			c.Start()
			c.Start()

			detail, err := request.Wait(t.Context())
			require.NoError(t, err)
			require.Equal(t, "a", detail.ReportID)
			require.Equal(t, 0, c.Len())

			require.NoError(t, c.Shutdown(t.Context()))
		})
	})
}

func TestCoalescerShutdown(t *testing.T) {
	t.Parallel()

	t.Run("in flight finishes, queued and later requests are stopped", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			release := make(chan struct{})
			fetcher := &mockedFetcher{
				fetch: func(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
					<-release
					// Shutdown does not cancel the fetch
					assert.NoError(t, ctx.Err())
					return detailFor(ctx, reportID)
				},
			}
			c := newStarted(t, fetcher, 1)

			inFlight := c.Submit("in-flight")
			synctest.Wait()
			queued := []*coalescer.Request{c.Submit("queued-1"), c.Submit("queued-2")}
			require.Equal(t, 2, c.Len())

			shutdownErr := make(chan error)
			go func() {
				shutdownErr <- c.Shutdown(context.Background())
			}()
			synctest.Wait()

			select {
			case <-shutdownErr:
				require.Fail(t, "shutdown returned before the in flight fetch completed")
			default:
			}

			close(release)
			require.NoError(t, <-shutdownErr)

			detail, err := inFlight.Wait(t.Context())
			require.NoError(t, err)
			require.Equal(t, "in-flight", detail.ReportID)

			for _, request := range queued {
				detail, err := request.Wait(t.Context())
				require.Nil(t, detail)
				require.ErrorIs(t, err, domain.ErrCoalescerStopped)
			}

			detail, err = c.Submit("late").Wait(t.Context())
			require.Nil(t, detail)
			require.ErrorIs(t, err, domain.ErrCoalescerStopped)

			require.Equal(t, int32(1), fetcher.calls.Load())
		})
	})

	t.Run("shutdown deadline", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			release := make(chan struct{})
			fetcher := &mockedFetcher{
				fetch: func(ctx context.Context, reportID string) (*domain.ReportDetail, error) {
					<-release
					return detailFor(ctx, reportID)
				},
			}
			c := newStarted(t, fetcher, 1)

			inFlight := c.Submit("in-flight")
			synctest.Wait()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			require.ErrorIs(t, c.Shutdown(ctx), context.DeadlineExceeded)

			close(release)
			detail, err := inFlight.Wait(t.Context())
			require.NoError(t, err)
			require.NotNil(t, detail)
		})
	})

	t.Run("shutdown without start", func(t *testing.T) {
		t.Parallel()
		synctest.Test(t, func(t *testing.T) {
			c, err := coalescer.New(context.Background(), &mockedFetcher{fetch: detailFor}, 1)
			require.NoError(t, err)

			request := c.Submit("a")
			require.NoError(t, c.Shutdown(t.Context()))

			_, err = request.Wait(t.Context())
			require.ErrorIs(t, err, domain.ErrCoalescerStopped)
		})
	})
}
