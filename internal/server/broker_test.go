package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker(nil, testLogger())
	ch1 := broker.Subscribe()
	ch2 := broker.Subscribe()

	broker.Publish(TickEvent, `{"tick_id":"a"}`)
	want := formatSSE(TickEvent, `{"tick_id":"a"}`)
	for _, ch := range []chan []byte{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, string(want), string(got))
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timed out waiting for event")
		}
	}

	broker.Unsubscribe(ch1)
	broker.Publish(TickEvent, `{"tick_id":"b"}`)
	select {
	case got := <-ch2:
		assert.Contains(t, string(got), `"b"`)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2 timed out after ch1 unsubscribed")
	}
	broker.Unsubscribe(ch2)
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	broker := NewBroker(nil, testLogger())
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)
	for range 100 {
		broker.Publish(TickEvent, "{}")
	}
	assert.Len(t, ch, cap(ch))
}

// fakeSource replays queued payloads, then blocks until ctx is done.
type fakeSource struct {
	mu       sync.Mutex
	listened []string
	payloads chan string
}

func (f *fakeSource) Listen(_ context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listened = append(f.listened, channel)
	return nil
}

func (f *fakeSource) WaitForNotification(ctx context.Context) (string, string, error) {
	select {
	case p := <-f.payloads:
		return "cce_ticks", p, nil
	case <-ctx.Done():
		return "", "", errors.New("closed")
	}
}

func TestBrokerRelaysSource(t *testing.T) {
	src := &fakeSource{payloads: make(chan string, 1)}
	broker := NewBroker(src, testLogger(), "cce_ticks")
	require.True(t, broker.HasSource())
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		broker.Start(ctx)
		close(done)
	}()

	src.payloads <- `{"success":false}`
	select {
	case got := <-ch:
		assert.Equal(t, string(formatSSE(TickEvent, `{"success":false}`)), string(got))
	case <-time.After(time.Second):
		t.Fatal("no relayed event")
	}
	cancel()
	<-done

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, []string{"cce_ticks"}, src.listened)
}
