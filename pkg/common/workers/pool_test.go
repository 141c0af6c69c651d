package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := New(2)
	var running int32
	var maxRunning int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := pool.Submit(context.Background(), func() {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxRunning)
				if n <= old || atomic.CompareAndSwapInt32(&maxRunning, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	wg.Wait()

	if maxRunning > 2 {
		t.Errorf("expected at most 2 concurrent jobs, saw %d", maxRunning)
	}
}

func TestPoolSubmitRespectsCancellation(t *testing.T) {
	pool := New(1)
	block := make(chan struct{})
	_ = pool.Submit(context.Background(), func() {
		<-block
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := pool.Submit(ctx, func() {}); err == nil {
		t.Error("expected Submit to fail on a canceled context while the pool is full")
	}
	close(block)
}

func TestPoolCapacityAndInUse(t *testing.T) {
	pool := New(3)
	if pool.Capacity() != 3 {
		t.Fatalf("expected capacity 3, got %d", pool.Capacity())
	}

	done := make(chan struct{})
	_ = pool.Submit(context.Background(), func() { <-done })
	time.Sleep(5 * time.Millisecond)

	if pool.InUse() != 1 {
		t.Errorf("expected InUse()==1, got %d", pool.InUse())
	}
	close(done)
}
