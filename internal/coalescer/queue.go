package coalescer

import (
	"context"
	"sync"
)

// Unbounded FIFO shared by all workers
type requestQueue struct {
	mu    sync.Mutex
	items []*Request

	// Holds at most one wakeup. A worker that takes an item while more remain passes the wakeup on.
	ready chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		ready: make(chan struct{}, 1),
	}
}

func (q *requestQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *requestQueue) push(request *Request) {
	q.mu.Lock()
	q.items = append(q.items, request)
	q.mu.Unlock()

	q.signal()
}

func (q *requestQueue) tryPop() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	request := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	if len(q.items) > 0 {
		q.signal()
	}
	return request, true
}

// Block until a request is available or ctx is done
func (q *requestQueue) pop(ctx context.Context) (*Request, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}

		if request, ok := q.tryPop(); ok {
			return request, true
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *requestQueue) drain() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
