package crawler

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// ThrottleLevel indicates memory pressure severity.
type ThrottleLevel int

const (
	// ThrottleNormal indicates memory usage is within normal bounds.
	ThrottleNormal ThrottleLevel = iota
	// ThrottleWarning indicates memory usage is elevated (75-90% of limit).
	ThrottleWarning
	// ThrottleCritical indicates memory usage is critical (>90% of limit).
	ThrottleCritical
)

func (l ThrottleLevel) String() string {
	switch l {
	case ThrottleWarning:
		return "warning"
	case ThrottleCritical:
		return "critical"
	default:
		return "normal"
	}
}

// MemoryWatcher monitors heap pressure during a crawl. Each browser page
// holds a DOM and an analysis result, so a run with many workers can
// outgrow the machine; the crawler halves its request rate when the
// watcher reports critical pressure.
type MemoryWatcher struct {
	mu         sync.RWMutex
	limitBytes int64
	callback   func(level ThrottleLevel)
	lastLevel  ThrottleLevel
}

// NewMemoryWatcher creates a memory watcher with the specified limit in MB
// and installs it as the runtime's soft memory limit. A non-positive limit
// disables the watcher: Check always reports normal.
func NewMemoryWatcher(limitMB int64) *MemoryWatcher {
	limitBytes := limitMB * 1024 * 1024
	if limitBytes > 0 {
		debug.SetMemoryLimit(limitBytes)
	}
	return &MemoryWatcher{
		limitBytes: limitBytes,
		lastLevel:  ThrottleNormal,
	}
}

// Check returns current memory usage percentage and throttle level, and
// fires the throttle callback when the level changed since the last call.
func (m *MemoryWatcher) Check() (usedPercent float64, level ThrottleLevel) {
	m.mu.RLock()
	limitBytes := float64(m.limitBytes)
	m.mu.RUnlock()

	if limitBytes <= 0 {
		return 0, ThrottleNormal
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// HeapAlloc is memory in use; Sys would include reserved pages.
	usedPercent = float64(memStats.HeapAlloc) / limitBytes * 100

	switch {
	case usedPercent >= 90:
		level = ThrottleCritical
	case usedPercent >= 75:
		level = ThrottleWarning
	default:
		level = ThrottleNormal
	}

	m.mu.Lock()
	changed := level != m.lastLevel
	m.lastLevel = level
	callback := m.callback
	m.mu.Unlock()

	if changed && callback != nil {
		callback(level)
	}
	return usedPercent, level
}

// Watch calls Check every interval until ctx is done.
func (m *MemoryWatcher) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// SetThrottleCallback registers a callback to be invoked when throttle level changes.
func (m *MemoryWatcher) SetThrottleCallback(cb func(level ThrottleLevel)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = cb
}

// SetLimit updates the memory limit in bytes.
func (m *MemoryWatcher) SetLimit(limitBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limitBytes = limitBytes
	if limitBytes > 0 {
		debug.SetMemoryLimit(limitBytes)
	}
}
