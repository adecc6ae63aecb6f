package crawler

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNewAdaptiveLimiter(t *testing.T) {
	tests := []struct {
		name       string
		initialRPS int
		wantRate   int
	}{
		{name: "in range", initialRPS: 10, wantRate: 10},
		{name: "below floor", initialRPS: 0, wantRate: 1},
		{name: "above ceiling", initialRPS: 500, wantRate: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewAdaptiveLimiter(tt.initialRPS, 2*time.Second)
			if got := limiter.CurrentRate(); got != tt.wantRate {
				t.Errorf("CurrentRate() = %d, want %d", got, tt.wantRate)
			}
		})
	}
}

func TestAdaptiveLimiter_Wait_ContextCancellation(t *testing.T) {
	limiter := NewAdaptiveLimiter(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first Wait() failed: %v", err)
	}
	cancel()
	if err := limiter.Wait(ctx); err == nil {
		t.Error("Wait() should fail with a cancelled context")
	}
}

func TestAdaptiveLimiter_ObserveRTT(t *testing.T) {
	limiter := NewAdaptiveLimiter(10, 2*time.Second)

	for range 5 {
		limiter.ObserveRTT(6 * time.Second)
	}
	backedOff := limiter.CurrentRate()
	if backedOff >= 10 || backedOff < 1 {
		t.Fatalf("CurrentRate() after slow pages = %d, want in [1, 10)", backedOff)
	}

	for range 30 {
		limiter.ObserveRTT(500 * time.Millisecond)
	}
	if got := limiter.CurrentRate(); got <= backedOff {
		t.Errorf("CurrentRate() = %d, should have recovered above %d", got, backedOff)
	}

	for range 100 {
		limiter.ObserveRTT(time.Millisecond)
	}
	if got := limiter.CurrentRate(); got != 50 {
		t.Errorf("CurrentRate() = %d, want ceiling 50", got)
	}
}

func TestAdaptiveLimiter_SingleOutlierIsSmoothed(t *testing.T) {
	limiter := NewAdaptiveLimiter(20, 2*time.Second)
	for range 10 {
		limiter.ObserveRTT(2 * time.Second)
	}
	steady := limiter.CurrentRate()

	limiter.ObserveRTT(60 * time.Second)
	after := limiter.CurrentRate()
	if after >= steady {
		t.Errorf("rate should drop after a slow page, got %d (was %d)", after, steady)
	}
	if float64(after) < float64(steady)*backoffFactor-1 {
		t.Errorf("one observation dropped the rate from %d to %d", steady, after)
	}
}

func TestAdaptiveLimiter_SetRateDisablesAdaptation(t *testing.T) {
	limiter := NewAdaptiveLimiter(10, 2*time.Second)

	limiter.SetRate(25)
	limiter.ObserveRTT(time.Minute)
	if got := limiter.CurrentRate(); got != 25 {
		t.Errorf("rate changed while adaptation disabled: got %d, want 25", got)
	}

	limiter.EnableAdaptation()
	limiter.ObserveRTT(time.Minute)
	if got := limiter.CurrentRate(); got == 25 {
		t.Error("rate did not change after EnableAdaptation")
	}
}

func TestAdaptiveLimiter_Scale(t *testing.T) {
	limiter := NewAdaptiveLimiter(20, 2*time.Second)
	limiter.SetRate(20)

	limiter.Scale(0.5)
	if got := limiter.CurrentRate(); got != 10 {
		t.Errorf("Scale(0.5) rate = %d, want 10", got)
	}

	for range 10 {
		limiter.Scale(0.5)
	}
	if got := limiter.CurrentRate(); got != 1 {
		t.Errorf("repeated Scale rate = %d, want floor 1", got)
	}

	limiter.Scale(0)
	if got := limiter.CurrentRate(); got != 1 {
		t.Errorf("Scale(0) changed the rate to %d", got)
	}
}

func TestAdaptiveLimiter_CurrentEMA(t *testing.T) {
	target := 2 * time.Second
	limiter := NewAdaptiveLimiter(10, target)
	if got := limiter.CurrentEMA(); got != target {
		t.Errorf("initial CurrentEMA() = %v, want %v", got, target)
	}

	for range 3 {
		limiter.ObserveRTT(3 * time.Second)
	}
	if ema := limiter.CurrentEMA(); ema <= target || ema > 3*time.Second {
		t.Errorf("CurrentEMA() = %v, want in (2s, 3s]", ema)
	}
}

func TestAdaptiveLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewAdaptiveLimiter(50, 2*time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				_ = limiter.Wait(ctx)
				limiter.ObserveRTT(time.Second)
				limiter.Scale(1)
				_ = limiter.CurrentRate()
			}
		}()
	}
	wg.Wait()
}

func TestNew_FixedRatePinsLimiter(t *testing.T) {
	c, err := New(Config{RateLimit: 7, FixedRate: true, WorkDir: t.TempDir()},
		Deps{Navigator: NewHTTPNavigator(time.Second, "a11ycrawl-test")})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer c.Close()

	c.limiter.ObserveRTT(time.Minute)
	if got := c.limiter.CurrentRate(); got != 7 {
		t.Errorf("fixed rate moved to %d, want 7", got)
	}
}
