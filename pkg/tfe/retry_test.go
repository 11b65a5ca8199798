package tfe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// newTestRetrier returns a retrier that records sleeps instead of waiting.
func newTestRetrier(maxRetries int, base time.Duration) (*Retrier, *[]time.Duration) {
	r := NewRetrier(maxRetries, base)
	r.Notify = func(RetryNotice) {}
	sleeps := &[]time.Duration{}
	r.sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return r, sleeps
}

func TestRetrier_Do_SucceedsAfterTransientFailures(t *testing.T) {
	r, sleeps := newTestRetrier(3, 100*time.Millisecond)

	calls := 0
	op := func() error {
		calls++
		if calls <= 2 {
			return &APIError{StatusCode: 429, Method: "GET", Path: "/api/v2/runs/run-ABC123xyz"}
		}
		return nil
	}

	ectx := NewErrorContext("run lookup", 3)
	if err := r.Do(context.Background(), op, ectx); err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(*sleeps) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(*sleeps))
	}

	// Sleep n is base*2^n plus 10-30% jitter of that term.
	base := 100 * time.Millisecond
	for n, got := range *sleeps {
		lo := time.Duration(float64(base) * float64(int(1)<<n) * 1.10)
		hi := time.Duration(float64(base) * float64(int(1)<<n) * 1.30)
		if got < lo || got > hi {
			t.Errorf("sleep %d = %v, want within [%v, %v]", n, got, lo, hi)
		}
	}
	if ectx.Attempt != 2 {
		t.Errorf("expected attempt counter 2, got %d", ectx.Attempt)
	}
}

func TestRetrier_Do_BackoffGrowsExponentially(t *testing.T) {
	r, sleeps := newTestRetrier(4, 50*time.Millisecond)

	op := func() error {
		return &APIError{StatusCode: 503, Method: "GET", Path: "/api/v2"}
	}

	_ = r.Do(context.Background(), op, NewErrorContext("connection check", 4))

	if len(*sleeps) != 4 {
		t.Fatalf("expected 4 sleeps, got %d", len(*sleeps))
	}
	for n := 1; n < len(*sleeps); n++ {
		// Even with maximal jitter on the previous term (1.3x) and minimal on
		// this one (1.1x), doubling keeps the sequence strictly increasing.
		if (*sleeps)[n] <= (*sleeps)[n-1] {
			t.Errorf("sleep %d (%v) not greater than sleep %d (%v)",
				n, (*sleeps)[n], n-1, (*sleeps)[n-1])
		}
	}
}

func TestRetrier_Do_AuthenticationFailsFast(t *testing.T) {
	r, sleeps := newTestRetrier(3, 10*time.Millisecond)

	calls := 0
	op := func() error {
		calls++
		return &APIError{StatusCode: 401, Method: "GET", Path: "/api/v2/account/details"}
	}

	err := r.Do(context.Background(), op, NewErrorContext("authentication", 3))
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("expected no sleeps, got %d", len(*sleeps))
	}

	var cerr *ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ClassifiedError, got %T", err)
	}
	if cerr.Category != CategoryAuthentication {
		t.Errorf("category = %s, want %s", cerr.Category, CategoryAuthentication)
	}
	if cerr.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", cerr.Attempts)
	}
}

func TestRetrier_Do_ExhaustsBudget(t *testing.T) {
	r, sleeps := newTestRetrier(2, 10*time.Millisecond)

	calls := 0
	op := func() error {
		calls++
		return &APIError{StatusCode: 429, Method: "GET", Path: "/api/v2/runs/run-ABC123xyz"}
	}

	err := r.Do(context.Background(), op, NewErrorContext("run lookup", 2))
	if err == nil {
		t.Fatal("expected an error after exhaustion")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts (initial + 2 retries), got %d", calls)
	}
	if len(*sleeps) != 2 {
		t.Errorf("expected 2 sleeps, got %d", len(*sleeps))
	}

	var cerr *ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ClassifiedError, got %T", err)
	}
	if cerr.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", cerr.Attempts)
	}
	if !strings.Contains(cerr.Message, "Gave up after 3 attempts") {
		t.Errorf("message missing exhaustion note: %q", cerr.Message)
	}
}

func TestRetrier_Do_NotifiesBeforeEachSleep(t *testing.T) {
	r, _ := newTestRetrier(2, 10*time.Millisecond)

	var notices []RetryNotice
	r.Notify = func(n RetryNotice) { notices = append(notices, n) }

	op := func() error {
		return &APIError{StatusCode: 429, Method: "GET", Path: "/api/v2/runs/run-ABC123xyz"}
	}
	_ = r.Do(context.Background(), op, NewErrorContext("run lookup", 2))

	if len(notices) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(notices))
	}
	for i, n := range notices {
		if n.Category != CategoryAPIRateLimit {
			t.Errorf("notice %d category = %s, want %s", i, n.Category, CategoryAPIRateLimit)
		}
		if n.Operation != "run lookup" {
			t.Errorf("notice %d operation = %q", i, n.Operation)
		}
		if n.Attempt != i {
			t.Errorf("notice %d attempt = %d, want %d", i, n.Attempt, i)
		}
		if n.Delay <= 0 {
			t.Errorf("notice %d has no delay", i)
		}
	}
}

func TestRetrier_Do_ContextCancelledDuringSleep(t *testing.T) {
	r := NewRetrier(3, 50*time.Millisecond)
	r.Notify = func(RetryNotice) {}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	op := func() error {
		calls++
		cancel() // cancel while the retrier is about to back off
		return &APIError{StatusCode: 503, Method: "GET", Path: "/api/v2"}
	}

	err := r.Do(ctx, op, NewErrorContext("connection check", 3))
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}

	var cerr *ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ClassifiedError, got %T", err)
	}
	if cerr.Category != CategoryTimeout {
		t.Errorf("category = %s, want %s", cerr.Category, CategoryTimeout)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected the underlying cancellation to be wrapped")
	}
}

func TestRetrier_Do_CancelledBeforeFirstAttempt(t *testing.T) {
	r, _ := newTestRetrier(3, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Do(ctx, func() error { calls++; return nil }, NewErrorContext("run lookup", 3))
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	if calls != 0 {
		t.Errorf("operation should not run under a cancelled context, ran %d times", calls)
	}
}

func TestRetrier_Do_ZeroBudgetMeansSingleAttempt(t *testing.T) {
	r := &Retrier{
		MaxRetries: 0,
		BaseDelay:  10 * time.Millisecond,
		Notify:     func(RetryNotice) {},
		Formatter:  TextFormatter{},
		sleep: func(ctx context.Context, d time.Duration) error {
			t.Error("sleep should never run with a zero budget")
			return nil
		},
	}

	calls := 0
	op := func() error {
		calls++
		return &APIError{StatusCode: 429, Method: "GET", Path: "/api/v2"}
	}
	_ = r.Do(context.Background(), op, &ErrorContext{Category: CategoryUnknown, Operation: "run lookup"})

	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestDoValue_ReturnsResult(t *testing.T) {
	r, _ := newTestRetrier(2, 10*time.Millisecond)

	calls := 0
	got, err := DoValue(context.Background(), r, func() (string, error) {
		calls++
		if calls == 1 {
			return "", &APIError{StatusCode: 500, Method: "GET", Path: "/api/v2/plans/plan-1"}
		}
		return "plan-body", nil
	}, NewErrorContext("plan download", 2))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "plan-body" {
		t.Errorf("got %q, want %q", got, "plan-body")
	}
}

func TestRetrier_backoff_CapsAtMaximum(t *testing.T) {
	r := NewRetrier(10, time.Second)
	d := r.backoff(10) // 1s * 2^10 = ~17min uncapped
	if d > time.Duration(float64(maxBackoff)*1.3) {
		t.Errorf("backoff %v exceeds cap with jitter", d)
	}
}
