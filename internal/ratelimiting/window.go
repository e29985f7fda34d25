package ratelimiting

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Allows at most limit operations to start within any window-long period.
//
// An operation counts against the window from the moment it completes, so slow
// operations never let more than limit requests hit the upstream within one window.
type WindowLimiter struct {
	window    time.Duration
	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time

	// One token per operation allowed to be in progress
	slots chan struct{}

	mu sync.Mutex
	// Completion times, oldest first. One entry per free slot.
	completed []time.Time
}

func NewWindowLimiter(
	limit int,
	window time.Duration,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) *WindowLimiter {
	slots := make(chan struct{}, limit)
	completed := make([]time.Time, limit)
	longAgo := nowFunc().Add(-window)
	for i := range limit {
		slots <- struct{}{}
		completed[i] = longAgo
	}

	return &WindowLimiter{
		window:    window,
		nowFunc:   nowFunc,
		afterFunc: afterFunc,
		slots:     slots,
		completed: completed,
	}
}

// Run operation once the window allows it.
//
// Returns false without running the operation when ctx is done, or when ctx's deadline
// would pass before the wait plus maxOperationTime is over.
func (l *WindowLimiter) Do(ctx context.Context, maxOperationTime time.Duration, operation func()) bool {
	return l.DoCancelable(ctx, maxOperationTime, func() bool {
		operation()
		return true
	})
}

// Like Do, but the operation can report that it did not actually run (returning false),
// in which case it does not count against the window.
func (l *WindowLimiter) DoCancelable(ctx context.Context, maxOperationTime time.Duration, operation func() bool) bool {
	select {
	case <-l.slots:
	case <-ctx.Done():
		return false
	}
	defer func() {
		l.slots <- struct{}{}
	}()

	reserved, ok := l.reserve(ctx, maxOperationTime)
	if !ok {
		return false
	}

	// Hand the reservation back untouched unless the operation runs
	release := reserved
	defer func() {
		l.release(release)
	}()

	if wait := l.waitFor(reserved); wait > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-l.afterFunc(wait):
		}
	}

	if !operation() {
		return false
	}

	release = l.nowFunc()
	return true
}

func (l *WindowLimiter) waitFor(completedAt time.Time) time.Duration {
	return l.window - l.nowFunc().Sub(completedAt)
}

// Take the oldest completion time, if the operation could finish before ctx's deadline
func (l *WindowLimiter) reserve(ctx context.Context, maxOperationTime time.Duration) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldest := l.completed[0]

	if deadline, ok := ctx.Deadline(); ok {
		if l.waitFor(oldest)+maxOperationTime > deadline.Sub(l.nowFunc()) {
			return time.Time{}, false
		}
	}

	l.completed = l.completed[1:]
	return oldest, true
}

func (l *WindowLimiter) release(completedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = insertSorted(l.completed, completedAt)
}

func insertSorted(times []time.Time, t time.Time) []time.Time {
	i, _ := slices.BinarySearchFunc(times, t, time.Time.Compare)
	return slices.Insert(times, i, t)
}
