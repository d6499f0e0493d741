package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sessionRateLimiter caps how many booking sessions one client address may
// open. Allow reports how long the caller should wait when refused.
type sessionRateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// clientRateLimiter keeps one token bucket per client. A bucket holds limit
// tokens and refills one every window/limit.
type clientRateLimiter struct {
	every  rate.Limit
	burst  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientRateLimiter(limit int, window time.Duration, clock func() time.Time) sessionRateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &clientRateLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]*clientBucket),
	}
}

func (l *clientRateLimiter) Allow(key string) (bool, time.Duration) {
	if key = strings.TrimSpace(key); key == "" {
		key = "unknown"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok {
		l.evictIdleLocked(now)
		bucket = &clientBucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now

	reservation := bucket.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// evictIdleLocked drops buckets untouched for a full window; they would be
// full again anyway.
func (l *clientRateLimiter) evictIdleLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= l.window {
			delete(l.buckets, key)
		}
	}
}

// clientKey uses the address chi's RealIP middleware left in RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
