package crawler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

// RetryPolicy configures retry behavior for failed navigations.
type RetryPolicy struct {
	MaxRetries int           // Maximum number of retries (1 = 2 total attempts)
	BaseDelay  time.Duration // Initial backoff delay
	MaxDelay   time.Duration // Maximum backoff cap
}

// DefaultRetryPolicy returns a RetryPolicy that retries once after 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 1,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// NavigateWithRetry wraps nav.Navigate with exponential backoff. It retries
// on transient failures (network errors, 5xx, 429) but not on permanent
// ones. The page of a failed attempt is closed before retrying.
func NavigateWithRetry(ctx context.Context, nav Navigator, t Target, policy RetryPolicy) (*Page, error) {
	backoff := policy.BaseDelay
	var (
		page *Page
		err  error
	)

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			page.Close()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(backoff*2, policy.MaxDelay)
			}
		}

		page, err = nav.Navigate(ctx, t)
		if !shouldRetry(page, err) {
			return page, err
		}
	}
	return page, err
}

// shouldRetry determines if a navigation should be retried.
// Returns true for:
// - Network errors (timeout, connection refused, DNS failure)
// - HTTP 429 (rate limited)
// - HTTP 5xx (server errors)
func shouldRetry(page *Page, err error) bool {
	if err != nil {
		return isRetryableError(err)
	}
	if page == nil {
		return false
	}
	return page.Status == http.StatusTooManyRequests || page.Status >= 500
}

// retryablePatterns match transient failures reported as plain strings,
// as browser bindings do.
var retryablePatterns = []string{
	"timeout",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"no such host",
	"dns",
	"temporary failure",
	"err_connection",
	"err_name_not_resolved",
}

// isRetryableError checks if an error is transient.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
