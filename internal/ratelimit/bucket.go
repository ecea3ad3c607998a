package ratelimit

import (
	"context"
	"sync"
	"time"
)

// staleAfter is how long an idle key keeps its bucket.
const staleAfter = 10 * time.Minute

type bucket struct {
	tokens float64
	seen   time.Time
}

// TokenBucket is an in-memory Limiter with one bucket per key, refilled at a
// fixed rate up to a burst capacity.
type TokenBucket struct {
	perSecond float64
	burst     float64
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewTokenBucket allows perMinute sustained requests per key with bursts of
// up to burst. A background goroutine drops idle keys until Close.
func NewTokenBucket(perMinute float64, burst int) *TokenBucket {
	tb := &TokenBucket{
		perSecond: perMinute / 60,
		burst:     float64(max(burst, 1)),
		now:       time.Now,
		buckets:   make(map[string]*bucket),
		done:      make(chan struct{}),
	}
	go tb.sweepLoop()
	return tb
}

func (tb *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		tb.buckets[key] = &bucket{tokens: tb.burst - 1, seen: now}
		return true, nil
	}
	b.tokens = min(tb.burst, b.tokens+now.Sub(b.seen).Seconds()*tb.perSecond)
	b.seen = now
	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the sweeper. Safe to call more than once.
func (tb *TokenBucket) Close() error {
	tb.stopOnce.Do(func() { close(tb.done) })
	return nil
}

func (tb *TokenBucket) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-tb.done:
			return
		case <-ticker.C:
			tb.sweep()
		}
	}
}

func (tb *TokenBucket) sweep() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	cutoff := tb.now().Add(-staleAfter)
	for key, b := range tb.buckets {
		if b.seen.Before(cutoff) {
			delete(tb.buckets, key)
		}
	}
}
