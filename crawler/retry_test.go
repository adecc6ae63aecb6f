package crawler

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedNavigator answers each Navigate call with the next entry of its
// script, repeating the last one.
type scriptedNavigator struct {
	calls  atomic.Int32
	closed atomic.Int32
	script []scripted
}

type scripted struct {
	status int
	err    error
}

func (s *scriptedNavigator) Navigate(_ context.Context, t Target) (*Page, error) {
	i := int(s.calls.Add(1)) - 1
	step := s.script[min(i, len(s.script)-1)]
	if step.err != nil {
		return nil, step.err
	}
	p := NewPage(func() { s.closed.Add(1) })
	p.Status = step.status
	p.FinalURL = t.URL
	return p, nil
}

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()
	if policy.MaxRetries != 1 {
		t.Errorf("expected MaxRetries=1, got %d", policy.MaxRetries)
	}
	if policy.BaseDelay != 500*time.Millisecond {
		t.Errorf("expected BaseDelay=500ms, got %v", policy.BaseDelay)
	}
	if policy.MaxDelay != 5*time.Second {
		t.Errorf("expected MaxDelay=5s, got %v", policy.MaxDelay)
	}
}

func TestNavigateWithRetry(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	tests := []struct {
		name         string
		script       []scripted
		retries      int
		wantCalls    int32
		wantStatus   int
		wantErr      bool
		wantReleased int32
	}{
		{
			name:      "success on first attempt",
			script:    []scripted{{status: 200}},
			retries:   2,
			wantCalls: 1, wantStatus: 200,
		},
		{
			name:      "retries on 5xx",
			script:    []scripted{{status: 503}, {status: 500}, {status: 200}},
			retries:   2,
			wantCalls: 3, wantStatus: 200, wantReleased: 2,
		},
		{
			name:      "retries on 429",
			script:    []scripted{{status: 429}, {status: 200}},
			retries:   1,
			wantCalls: 2, wantStatus: 200, wantReleased: 1,
		},
		{
			name:      "no retry on 404",
			script:    []scripted{{status: 404}},
			retries:   3,
			wantCalls: 1, wantStatus: 404,
		},
		{
			name:      "retries network error",
			script:    []scripted{{err: refused}, {status: 200}},
			retries:   1,
			wantCalls: 2, wantStatus: 200,
		},
		{
			name:      "exhausts retries",
			script:    []scripted{{status: 502}},
			retries:   2,
			wantCalls: 3, wantStatus: 502, wantReleased: 2,
		},
		{
			name:      "permanent error",
			script:    []scripted{{err: errors.New("net::ERR_ABORTED")}},
			retries:   2,
			wantCalls: 1, wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := &scriptedNavigator{script: tt.script}
			tgt, _ := NewTarget("https://example.com/")

			page, err := NavigateWithRetry(context.Background(), nav, tgt, fastPolicy(tt.retries))
			if (err != nil) != tt.wantErr {
				t.Fatalf("NavigateWithRetry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := nav.calls.Load(); got != tt.wantCalls {
				t.Errorf("attempts = %d, want %d", got, tt.wantCalls)
			}
			if !tt.wantErr && page.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", page.Status, tt.wantStatus)
			}
			if got := nav.closed.Load(); got != tt.wantReleased {
				t.Errorf("released pages = %d, want %d", got, tt.wantReleased)
			}
			page.Close()
		})
	}
}

func TestNavigateWithRetry_ContextCancellation(t *testing.T) {
	nav := &scriptedNavigator{script: []scripted{{status: 500}}}
	tgt, _ := NewTarget("https://example.com/")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NavigateWithRetry(ctx, nav, tgt, RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if nav.calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1", nav.calls.Load())
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, true},
		{"browser connection error", errors.New("net::ERR_CONNECTION_RESET"), true},
		{"browser dns error", errors.New("net::ERR_NAME_NOT_RESOLVED"), true},
		{"timeout text", errors.New("navigation Timeout exceeded"), true},
		{"other", errors.New("malformed response"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
