package errors

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Kind Tests
// =============================================================================

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{Unknown, "unknown"},
		{Network, "network"},
		{Timeout, "timeout"},
		{RateLimit, "rate_limit"},
		{NotFound, "not_found"},
		{ServerError, "server_error"},
		{ClientError, "client_error"},
		{Parse, "parse"},
		{Render, "render"},
		{Storage, "storage"},
		{Policy, "policy"},
		{Cancelled, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKind_IsRetryable(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
	}{
		{Network, true},
		{Timeout, true},
		{RateLimit, true},
		{ServerError, true},
		{NotFound, false},
		{ClientError, false},
		{Parse, false},
		{Policy, false},
		{Cancelled, false},
		{Unknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.IsRetryable(); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

// =============================================================================
// AuditError Tests
// =============================================================================

func TestAuditError_Error(t *testing.T) {
	cause := New("connection refused")
	err := NewAuditError(Network, "https://example.com", "fetch", "connection failed", cause)

	msg := err.Error()
	for _, want := range []string{"network", "fetch", "https://example.com", "connection failed", "connection refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the cause")
	}
}

func TestAuditError_Is(t *testing.T) {
	a := NewNetworkError("https://a.com", "fetch", nil)
	b := NewNetworkError("https://b.com", "status", nil)
	c := NewTimeoutError("https://a.com", "fetch", nil)

	if !Is(a, b) {
		t.Error("errors of the same kind should match")
	}
	if Is(a, c) {
		t.Error("errors of different kinds should not match")
	}
}

func TestSentinels_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("insert page: %w", ErrJobDeleted)
	if !IsDeleted(wrapped) {
		t.Error("IsDeleted should see through wrapping")
	}
	if IsDeleted(ErrJobNotFound) {
		t.Error("ErrJobNotFound is not a deletion")
	}
	if ErrNoPagesCrawled.Error() != "No pages could be crawled" {
		t.Errorf("ErrNoPagesCrawled = %q", ErrNoPagesCrawled.Error())
	}
}

// =============================================================================
// Categorize Tests
// =============================================================================

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"context canceled", fmt.Errorf("get: %w", context.Canceled), Cancelled},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), Timeout},
		{"dial", New("dial tcp 127.0.0.1:1: connect: connection refused"), Network},
		{"no such host", New("lookup nope.invalid: no such host"), Network},
		{"other", New("something odd"), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.err, "https://example.com")
			if got.Kind != tt.want {
				t.Errorf("Categorize().Kind = %v, want %v", got.Kind, tt.want)
			}
		})
	}

	if Categorize(nil, "x") != nil {
		t.Error("Categorize(nil) should be nil")
	}
	original := NewParseError("u", "extract", nil)
	if Categorize(original, "u") != original {
		t.Error("Categorize should return an existing AuditError unchanged")
	}
}

func TestCategorizeHTTPStatus(t *testing.T) {
	tests := []struct {
		status  int
		want    Kind
		wantNil bool
	}{
		{200, Unknown, true},
		{301, Unknown, true},
		{400, ClientError, false},
		{403, ClientError, false},
		{404, NotFound, false},
		{429, RateLimit, false},
		{500, ServerError, false},
		{503, ServerError, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := CategorizeHTTPStatus(tt.status, "https://example.com")
			if tt.wantNil {
				if err != nil {
					t.Errorf("CategorizeHTTPStatus(%d) = %v, want nil", tt.status, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("CategorizeHTTPStatus(%d) returned nil", tt.status)
			}
			if err.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", err.Kind, tt.want)
			}
			if StatusCode(err) != tt.status {
				t.Errorf("StatusCode = %d, want %d", StatusCode(err), tt.status)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 3); got != "abc" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("ab", 3); got != "ab" {
		t.Errorf("Truncate = %q", got)
	}
}

// =============================================================================
// Retry Tests
// =============================================================================

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetrier_Do_Success(t *testing.T) {
	r := NewDefaultRetrier()
	calls := 0

	result := r.Do(context.Background(), "test", "url", func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})

	if !result.Success || result.Attempts != 1 || calls != 1 {
		t.Errorf("result = %+v, calls = %d", result, calls)
	}
}

func TestRetrier_Do_RetriesUntilSuccess(t *testing.T) {
	r := NewRetrier(fastRetry(3))

	result := r.Do(context.Background(), "test", "url", func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return NewNetworkError("url", "op", nil)
		}
		return nil
	})

	if !result.Success {
		t.Error("should succeed on the third attempt")
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestRetrier_Do_AttemptsExhausted(t *testing.T) {
	r := NewRetrier(fastRetry(2))

	result := r.Do(context.Background(), "test", "url", func(ctx context.Context, attempt int) error {
		return NewTimeoutError("url", "op", nil)
	})

	if result.Success {
		t.Error("should fail")
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
	if KindOf(result.LastError) != Timeout {
		t.Errorf("LastError = %v", result.LastError)
	}
}

func TestRetrier_Do_Predicate(t *testing.T) {
	cfg := fastRetry(5)
	cfg.Retryable = func(err error) bool { return StatusCode(err) == 405 }
	r := NewRetrier(cfg)

	calls := 0
	r.Do(context.Background(), "test", "url", func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 1 {
			return CategorizeHTTPStatus(405, "url")
		}
		return CategorizeHTTPStatus(500, "url")
	})

	if calls != 2 {
		t.Errorf("calls = %d, want 2 (405 retried, 500 rejected by predicate)", calls)
	}
}

func TestRetrier_Do_NonRetryable(t *testing.T) {
	r := NewRetrier(fastRetry(5))
	calls := 0

	result := r.Do(context.Background(), "test", "url", func(ctx context.Context, attempt int) error {
		calls++
		return CategorizeHTTPStatus(404, "url")
	})

	if result.Success || calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetrier_Do_ContextCancellation(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 5, InitialDelay: time.Second, Multiplier: 2})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := r.Do(ctx, "test", "url", func(ctx context.Context, attempt int) error {
		return NewNetworkError("url", "op", nil)
	})

	if result.Success {
		t.Error("should fail on cancellation")
	}
	if KindOf(result.LastError) != Cancelled {
		t.Errorf("LastError = %v, want cancelled", result.LastError)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation should interrupt the backoff wait")
	}
}

func TestDoWithResult(t *testing.T) {
	r := NewRetrier(fastRetry(3))

	v, res := DoWithResult(context.Background(), r, "test", "url", func(ctx context.Context, attempt int) (int, error) {
		if attempt == 1 {
			return 0, NewNetworkError("url", "op", nil)
		}
		return 42, nil
	})

	if !res.Success || v != 42 {
		t.Errorf("v = %d, res = %+v", v, res)
	}
}

// =============================================================================
// Circuit Breaker Tests
// =============================================================================

func TestCircuitBreaker_Trips(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})
	boom := New("boom")

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return boom }); err != boom {
			t.Fatalf("Execute() = %v, want boom", err)
		}
	}

	if cb.State() != Open {
		t.Fatalf("State = %v, want open", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("Execute() while open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("should refuse during cool-down")
	}

	now = now.Add(2 * time.Second)
	if !cb.Allow() {
		t.Fatal("should allow a probe after cool-down")
	}
	if cb.State() != HalfOpen {
		t.Fatalf("State = %v, want half-open", cb.State())
	}
	if cb.Allow() {
		t.Error("only one probe at a time")
	}

	cb.RecordSuccess()
	if cb.State() != Closed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	if cb.State() != Closed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	var transitions []string
	cb.OnStateChange(func(from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	cb.RecordFailure()
	cb.Reset()

	want := []string{"closed->open", "open->closed"}
	if strings.Join(transitions, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}
