package crawler

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// minRateFloor is the slowest the limiter will go, in navigations per
	// second. A browser navigation plus analysis takes seconds, so the floor
	// sits well below one page per worker per second.
	minRateFloor = 1.0

	// maxRateCeiling bounds how hard a fast site is driven.
	maxRateCeiling = 50.0

	// emaAlpha is the weight of a new RTT observation in the moving average.
	emaAlpha = 0.2

	// recoveryFactor is the per-observation increase while the site answers
	// faster than the target RTT.
	recoveryFactor = 1.1

	// backoffFactor bounds the drop of a single observation.
	backoffFactor = 0.5
)

// AdaptiveLimiter paces navigations by the site's response time. It keeps
// an exponential moving average of observed round trips and scales the
// rate toward the target RTT.
type AdaptiveLimiter struct {
	limiter   *rate.Limiter
	targetRTT time.Duration
	mu        sync.RWMutex

	emaRTT      time.Duration
	currentRate float64

	// disabled pins the rate after a manual SetRate.
	disabled bool
}

// NewAdaptiveLimiter creates a limiter starting at initialRPS navigations per
// second, adapting toward targetRTT.
func NewAdaptiveLimiter(initialRPS int, targetRTT time.Duration) *AdaptiveLimiter {
	clamped := clampRateFloat(float64(initialRPS))
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(rate.Limit(clamped), burstFor(clamped)),
		targetRTT:   targetRTT,
		currentRate: clamped,
		emaRTT:      targetRTT,
	}
}

// Wait blocks until the next navigation may start or ctx is done. It is safe
// for concurrent use.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// ObserveRTT feeds one navigation's duration into the moving average and
// adjusts the rate.
func (a *AdaptiveLimiter) ObserveRTT(rtt time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.disabled || rtt <= 0 {
		return
	}

	a.emaRTT = time.Duration(emaAlpha*float64(rtt) + (1-emaAlpha)*float64(a.emaRTT))
	ratio := float64(a.targetRTT) / float64(a.emaRTT)

	var next float64
	if ratio < 1 {
		next = max(a.currentRate*ratio, a.currentRate*backoffFactor)
	} else {
		next = a.currentRate * recoveryFactor
	}
	a.setLocked(next)
}

// Scale multiplies the current rate by factor, within the limiter's
// bounds. It applies even when adaptation is disabled: memory pressure
// overrides a manual rate.
func (a *AdaptiveLimiter) Scale(factor float64) {
	if factor <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setLocked(a.currentRate * factor)
}

// setLocked clamps and applies rps when it moved by more than 0.05. Must be
// called with mu held.
func (a *AdaptiveLimiter) setLocked(rps float64) {
	rps = clampRateFloat(rps)
	if math.Abs(rps-a.currentRate) <= 0.05 {
		return
	}
	a.currentRate = rps
	a.limiter.SetLimit(rate.Limit(rps))
	a.limiter.SetBurst(burstFor(rps))
}

// SetRate pins the rate and disables adaptation.
func (a *AdaptiveLimiter) SetRate(rps int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	clamped := clampRateFloat(float64(rps))
	a.currentRate = clamped
	a.disabled = true
	a.limiter.SetLimit(rate.Limit(clamped))
	a.limiter.SetBurst(burstFor(clamped))
}

// CurrentRate returns the current rate rounded to whole navigations per second.
func (a *AdaptiveLimiter) CurrentRate() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return int(math.Round(a.currentRate))
}

// EnableAdaptation re-enables adaptive rate limiting after a manual override.
func (a *AdaptiveLimiter) EnableAdaptation() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disabled = false
}

// CurrentEMA returns the moving average of observed RTTs.
func (a *AdaptiveLimiter) CurrentEMA() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.emaRTT
}

func clampRateFloat(rps float64) float64 {
	return min(max(rps, minRateFloor), maxRateCeiling)
}

func burstFor(rps float64) int {
	return int(math.Ceil(rps))
}
