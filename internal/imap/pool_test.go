package imap

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestAccountLimiterBoundsConcurrency(t *testing.T) {
	limiter := NewAccountLimiter(2)
	ctx := context.Background()

	var current, max int64
	acquireAndHold := func() {
		release, err := limiter.Acquire(ctx, "acct-1")
		if err != nil {
			t.Errorf("Acquire: %v", err)
			return
		}
		defer release()

		n := atomic.AddInt64(&current, 1)
		for {
			m := atomic.LoadInt64(&max)
			if n <= m || atomic.CompareAndSwapInt64(&max, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&current, -1)
	}

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			acquireAndHold()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	if max > 2 {
		t.Errorf("observed %d concurrent permits, limiter allows only 2", max)
	}
}

func TestAccountLimiterPerAccountIsolation(t *testing.T) {
	limiter := NewAccountLimiter(1)
	ctx := context.Background()

	releaseA, err := limiter.Acquire(ctx, "acct-a")
	if err != nil {
		t.Fatalf("Acquire acct-a: %v", err)
	}
	defer releaseA()

	ctxB, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	releaseB, err := limiter.Acquire(ctxB, "acct-b")
	if err != nil {
		t.Fatalf("Acquire acct-b should not block on acct-a's permit: %v", err)
	}
	releaseB()
}

func TestAccountLimiterBlocksWhenExhausted(t *testing.T) {
	limiter := NewAccountLimiter(1)
	ctx := context.Background()

	release, err := limiter.Acquire(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := limiter.Acquire(ctxTimeout, "acct-1"); err == nil {
		t.Fatal("expected second acquire on exhausted limiter to time out")
	}
}
