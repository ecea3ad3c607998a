package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newBucket(t *testing.T, perMinute float64, burst int) (*TokenBucket, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	tb := NewTokenBucket(perMinute, burst)
	tb.now = clock.Now
	t.Cleanup(func() { _ = tb.Close() })
	return tb, clock
}

func TestTokenBucket_BurstThenDeny(t *testing.T) {
	tb, _ := newBucket(t, 6, 3)
	ctx := context.Background()
	for i := range 3 {
		ok, err := tb.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, err := tb.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenBucket_Refills(t *testing.T) {
	tb, clock := newBucket(t, 6, 1)
	ctx := context.Background()

	ok, _ := tb.Allow(ctx, "k")
	require.True(t, ok)
	ok, _ = tb.Allow(ctx, "k")
	require.False(t, ok)

	clock.Advance(10 * time.Second)
	ok, _ = tb.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestTokenBucket_CapsAtBurst(t *testing.T) {
	tb, clock := newBucket(t, 60, 2)
	ctx := context.Background()
	_, _ = tb.Allow(ctx, "k")
	clock.Advance(time.Hour)

	allowed := 0
	for range 5 {
		if ok, _ := tb.Allow(ctx, "k"); ok {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestTokenBucket_IndependentKeys(t *testing.T) {
	tb, _ := newBucket(t, 1, 1)
	ctx := context.Background()
	ok, _ := tb.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = tb.Allow(ctx, "b")
	assert.True(t, ok)
	ok, _ = tb.Allow(ctx, "a")
	assert.False(t, ok)
}

func TestTokenBucket_SweepDropsIdleKeys(t *testing.T) {
	tb, clock := newBucket(t, 1, 1)
	ctx := context.Background()
	_, _ = tb.Allow(ctx, "old")
	clock.Advance(staleAfter + time.Minute)
	_, _ = tb.Allow(ctx, "fresh")

	tb.sweep()
	tb.mu.Lock()
	defer tb.mu.Unlock()
	assert.NotContains(t, tb.buckets, "old")
	assert.Contains(t, tb.buckets, "fresh")
}

func TestTokenBucket_CloseTwice(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	assert.NoError(t, tb.Close())
	assert.NoError(t, tb.Close())
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("down") }
func (failingLimiter) Close() error { return nil }

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	limited := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }

	do := func(h http.Handler, addr string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/cycle", nil)
		req.RemoteAddr = addr
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("limits per ip", func(t *testing.T) {
		tb, _ := newBucket(t, 1, 1)
		h := Middleware(tb, IPKeyFunc, 30, limited, logger)(ok)
		assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1000").Code)
		rec := do(h, "10.0.0.1:2000")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "30", rec.Header().Get("Retry-After"))
		assert.Equal(t, http.StatusOK, do(h, "10.0.0.2:1000").Code)
	})

	t.Run("fails open", func(t *testing.T) {
		h := Middleware(failingLimiter{}, IPKeyFunc, 1, limited, logger)(ok)
		assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1000").Code)
	})

	t.Run("noop", func(t *testing.T) {
		h := Middleware(NoopLimiter{}, IPKeyFunc, 1, limited, logger)(ok)
		for range 3 {
			assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1000").Code)
		}
	})
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", IPKeyFunc(req))
	req.RemoteAddr = "garbage"
	assert.Equal(t, "garbage", IPKeyFunc(req))
}
