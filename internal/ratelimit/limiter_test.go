package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNewThrottle_ZeroDelay(t *testing.T) {
	th := NewThrottle(0)

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := th.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("zero delay should not block, took %v", elapsed)
	}
}

func TestThrottle_Spacing(t *testing.T) {
	th := NewThrottle(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	// First call uses the burst token, the next five wait ~20ms each.
	for i := 0; i < 6; i++ {
		if err := th.Wait(ctx); err != nil {
			t.Fatalf("wait failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("throttle doesn't appear to be spacing calls, elapsed: %v", elapsed)
	}
}

func TestThrottle_ContextCancelled(t *testing.T) {
	th := NewThrottle(time.Second)
	_ = th.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := th.Wait(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestThrottle_ZeroDelayCancelled(t *testing.T) {
	th := NewThrottle(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := th.Wait(ctx); err == nil {
		t.Error("expected context error")
	}
}

func TestThrottle_SetDelay(t *testing.T) {
	th := NewThrottleMillis(1000)
	if th.Delay() != time.Second {
		t.Errorf("Delay() = %v", th.Delay())
	}
	_ = th.Wait(context.Background())

	th.SetDelay(0)
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := th.Wait(context.Background()); err != nil {
			t.Fatalf("wait failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("disabled throttle should be fast, took %v", elapsed)
	}

	th.SetDelay(-time.Second)
	if th.Delay() != 0 {
		t.Errorf("negative delay not clamped: %v", th.Delay())
	}
}

func TestThrottle_ConcurrentWait(t *testing.T) {
	th := NewThrottle(time.Millisecond)
	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 5; j++ {
				if err := th.Wait(context.Background()); err != nil {
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
}
