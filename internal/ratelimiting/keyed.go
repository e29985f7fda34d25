package ratelimiting

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// Idle buckets are forgotten after this long, which refills them completely
const BUCKET_TTL = 30 * time.Minute

type KeyedLimiter interface {
	Allow(key string) bool
}

type tokenBucketLimiter struct {
	buckets    *ttlcache.Cache[string, *rate.Limiter]
	refillRate rate.Limit
	burst      int
}

func (l *tokenBucketLimiter) Allow(key string) bool {
	item, _ := l.buckets.GetOrSetFunc(key, func() *rate.Limiter {
		return rate.NewLimiter(l.refillRate, l.burst)
	})
	return item.Value().Allow()
}

// A token bucket per key. Call the returned stop function to stop the eviction loop.
func NewTokenBucketLimiter(refillPerSecond float64, burst int) (KeyedLimiter, func()) {
	buckets := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](BUCKET_TTL),
	)
	go buckets.Start()

	return &tokenBucketLimiter{
		buckets:    buckets,
		refillRate: rate.Limit(refillPerSecond),
		burst:      burst,
	}, buckets.Stop
}

type RequestLimiter interface {
	Allow(r *http.Request) bool
	KeyFor(r *http.Request) string
}

type requestLimiter struct {
	limiter KeyedLimiter
	keyFunc func(r *http.Request) string
}

func (l *requestLimiter) Allow(r *http.Request) bool {
	return l.limiter.Allow(l.keyFunc(r))
}

func (l *requestLimiter) KeyFor(r *http.Request) string {
	return l.keyFunc(r)
}

func NewRequestLimiter(limiter KeyedLimiter, keyFunc func(r *http.Request) string) RequestLimiter {
	return &requestLimiter{
		limiter: limiter,
		keyFunc: keyFunc,
	}
}

// Key on the originating client ip, taken from the load balancer's X-Forwarded-For when present
func IPKeyFunc(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		client, _, _ := strings.Cut(forwardedFor, ",")
		return fmt.Sprintf("ip: %s", strings.TrimSpace(client))
	}

	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i != -1 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	return fmt.Sprintf("ip: %s", host)
}

// Every request shares one bucket
func GlobalKeyFunc(r *http.Request) string {
	return "global"
}
