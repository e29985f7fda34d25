package coalescer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Amund211/raidlog/internal/domain"
)

// One-shot result slot for a submitted detail fetch
type Request struct {
	ReportID    string
	SubmittedAt time.Time

	once   sync.Once
	done   chan struct{}
	detail *domain.ReportDetail
	err    error
}

func newRequest(reportID string, submittedAt time.Time) *Request {
	return &Request{
		ReportID:    reportID,
		SubmittedAt: submittedAt,
		done:        make(chan struct{}),
	}
}

// Only the first resolution counts
func (r *Request) resolve(detail *domain.ReportDetail, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.detail = detail
		r.err = err
		close(r.done)
		resolved = true
	})
	return resolved
}

// Closed once the request is resolved
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait for the fetch to complete.
//
// A failed fetch gives a nil detail along with the reason. Returns ctx's error if ctx is
// done first, the fetch keeps going in the background in that case.
func (r *Request) Wait(ctx context.Context) (*domain.ReportDetail, error) {
	select {
	case <-r.done:
		return r.detail, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stopped waiting for detail of %s: %w", r.ReportID, ctx.Err())
	}
}
