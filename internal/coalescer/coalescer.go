package coalescer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Amund211/raidlog/internal/domain"
	"github.com/Amund211/raidlog/internal/logging"
	"github.com/Amund211/raidlog/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type DetailFetcher interface {
	GetDetail(ctx context.Context, reportID string) (*domain.ReportDetail, error)
}

type state int

const (
	stateCreated state = iota
	stateRunning
	stateStopped
)

type coalescerMetricsCollection struct {
	submitted metric.Int64Counter
	completed metric.Int64Counter
	inFlight  metric.Int64UpDownCounter
	waitTime  metric.Float64Histogram
}

func setupCoalescerMetrics(meter metric.Meter) (coalescerMetricsCollection, error) {
	submitted, err := meter.Int64Counter("coalescer/submitted")
	if err != nil {
		return coalescerMetricsCollection{}, fmt.Errorf("failed to create submitted metric: %w", err)
	}

	completed, err := meter.Int64Counter("coalescer/completed")
	if err != nil {
		return coalescerMetricsCollection{}, fmt.Errorf("failed to create completed metric: %w", err)
	}

	inFlight, err := meter.Int64UpDownCounter("coalescer/in_flight")
	if err != nil {
		return coalescerMetricsCollection{}, fmt.Errorf("failed to create in flight metric: %w", err)
	}

	waitTime, err := meter.Float64Histogram(
		"coalescer/queue_wait_seconds",
		metric.WithDescription("Time from submission until a worker picked up the request"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return coalescerMetricsCollection{}, fmt.Errorf("failed to create wait time metric: %w", err)
	}

	return coalescerMetricsCollection{
		submitted: submitted,
		completed: completed,
		inFlight:  inFlight,
		waitTime:  waitTime,
	}, nil
}

// Funnels any number of concurrent detail requests through a fixed number of workers.
//
// No deduplication is done: two submissions for the same report id are two fetches.
type Coalescer struct {
	fetcher      DetailFetcher
	workers      int
	fetchTimeout time.Duration
	nowFunc      func() time.Time

	queue *requestQueue

	mu     sync.Mutex
	state  state
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics coalescerMetricsCollection
}

type Option func(*Coalescer)

// Upper bound for a single fetch, including any wait for the fetcher's rate limit.
//
// Without it a fetch runs until the fetcher returns, so queued work waits for the
// rate limit instead of failing.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(c *Coalescer) {
		c.fetchTimeout = timeout
	}
}

func WithNowFunc(nowFunc func() time.Time) Option {
	return func(c *Coalescer) {
		c.nowFunc = nowFunc
	}
}

// ctx is the base context for the workers, carrying their logger and Sentry hub.
// Workers stop when ctx is cancelled or Shutdown is called.
func New(ctx context.Context, fetcher DetailFetcher, workers int, opts ...Option) (*Coalescer, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workers)
	}

	metrics, err := setupCoalescerMetrics(otel.Meter("raidlog/coalescer"))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(logging.WithComponent(ctx, "coalescer"))

	c := &Coalescer{
		fetcher:      fetcher,
		workers:      workers,
		nowFunc:      time.Now,
		queue:        newRequestQueue(),
		ctx:          ctx,
		cancel:       cancel,
		metrics:      metrics,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Coalescer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateCreated {
		return
	}
	c.state = stateRunning

	for i := range c.workers {
		c.wg.Go(func() {
			c.work(i)
		})
	}
}

// Enqueue a detail fetch. Never blocks on network I/O.
//
// Requests submitted before Start are picked up once the workers start.
// Requests submitted after Shutdown resolve immediately with domain.ErrCoalescerStopped.
func (c *Coalescer) Submit(reportID string) *Request {
	request := newRequest(reportID, c.nowFunc())

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateStopped {
		request.resolve(nil, fmt.Errorf("%w: submitted after shutdown", domain.ErrCoalescerStopped))
		return request
	}

	c.queue.push(request)
	c.metrics.submitted.Add(c.ctx, 1)

	return request
}

// Number of requests waiting for a worker
func (c *Coalescer) Len() int {
	return c.queue.len()
}

// Stop dequeuing and wait for the workers to finish their current fetch.
//
// In-flight fetches are not aborted. Requests still queued resolve with domain.ErrCoalescerStopped.
// Returns ctx's error if the workers did not exit in time.
func (c *Coalescer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.state = stateStopped
	c.mu.Unlock()

	c.cancel()

	workersDone := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(workersDone)
	}()

	var err error
	select {
	case <-workersDone:
	case <-ctx.Done():
		err = fmt.Errorf("workers did not exit before the deadline: %w", ctx.Err())
	}

	abandoned := c.queue.drain()
	for _, request := range abandoned {
		request.resolve(nil, fmt.Errorf("%w: still queued at shutdown", domain.ErrCoalescerStopped))
	}
	if len(abandoned) > 0 {
		logging.FromContext(c.ctx).InfoContext(ctx, "Resolved queued requests at shutdown", "count", len(abandoned))
	}

	return err
}

func (c *Coalescer) work(worker int) {
	for {
		request, ok := c.queue.pop(c.ctx)
		if !ok {
			return
		}
		c.process(worker, request)
	}
}

func (c *Coalescer) process(worker int, request *Request) {
	ctx := c.ctx
	logger := logging.FromContext(ctx)

	c.metrics.waitTime.Record(ctx, c.nowFunc().Sub(request.SubmittedAt).Seconds())

	// Shutdown does not abort fetches that already started
	fetchCtx := context.WithoutCancel(ctx)
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(fetchCtx, c.fetchTimeout)
		defer cancel()
	}

	var detail *domain.ReportDetail
	err := errors.New("fetch did not complete")

	c.metrics.inFlight.Add(ctx, 1)
	defer func() {
		c.metrics.inFlight.Add(ctx, -1)

		if r := recover(); r != nil {
			detail = nil
			err = fmt.Errorf("panic while fetching detail for %s: %v", request.ReportID, r)
			reporting.Report(ctx, err, map[string]string{"reportID": request.ReportID})
		}

		if err != nil {
			detail = nil
			logger.WarnContext(ctx, "Failed to fetch detail", "reportID", request.ReportID, "worker", worker, "error", err.Error())
		}

		request.resolve(detail, err)
		c.metrics.completed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("got_detail", detail != nil)))
	}()

	detail, err = c.fetcher.GetDetail(fetchCtx, request.ReportID)
	if err == nil && detail == nil {
		err = fmt.Errorf("%w: no detail returned for %s", domain.ErrReportNotFound, request.ReportID)
	}
}
