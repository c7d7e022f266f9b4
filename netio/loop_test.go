package netio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopPostRunsOnLoopGoroutine(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()

	var mu sync.Mutex
	got := 0
	var wg sync.WaitGroup
	wg.Add(1)
	loop.Post(func() {
		mu.Lock()
		got = 42
		mu.Unlock()
		wg.Done()
	})
	wg.Wait()

	mu.Lock()
	assert.Equal(t, 42, got)
	mu.Unlock()

	cancel()
	<-done
}

func TestLoopTimerFiresAndReschedules(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	fired := make(chan int, 10)
	count := 0
	timer := loop.Schedule(func(now time.Time) (time.Duration, bool) {
		count++
		fired <- count
		if count >= 3 {
			return 0, false
		}
		return 2 * time.Millisecond, true
	})
	timer.SetTimeout(2 * time.Millisecond)

	for i := 1; i <= 3; i++ {
		select {
		case v := <-fired:
			require.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatal("timer did not fire in time")
		}
	}
}

func TestLoopStop(t *testing.T) {
	loop := NewLoop()
	done := make(chan struct{})
	go func() {
		_ = loop.Run(context.Background())
		close(done)
	}()
	loop.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
