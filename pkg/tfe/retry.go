package tfe

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxRetries is the retry budget applied when the descriptor does
	// not configure one.
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the first backoff interval.
	DefaultBaseDelay = 1 * time.Second

	// maxBackoff caps the exponential term so a large retry budget cannot
	// produce multi-minute sleeps.
	maxBackoff = 1 * time.Minute
)

// RetryNotice describes an upcoming retry. It is delivered to the configured
// Notifier before each backoff sleep so callers can surface progress.
type RetryNotice struct {
	Category   Category
	Operation  string
	Attempt    int
	MaxRetries int
	Delay      time.Duration
}

// Notifier receives retry progress notices. The default implementation logs
// them; UIs can swap in their own and tests typically install a no-op.
type Notifier func(notice RetryNotice)

// LogNotifier emits retry notices through zerolog with category-aware
// wording.
func LogNotifier(notice RetryNotice) {
	evt := log.Warn().
		Str("operation", notice.Operation).
		Str("category", string(notice.Category)).
		Int("attempt", notice.Attempt+1).
		Int("max_retries", notice.MaxRetries).
		Dur("delay", notice.Delay)
	if notice.Category == CategoryAPIRateLimit {
		evt.Msg("Rate limited by the TFE API, backing off before retry")
		return
	}
	evt.Msg("Operation failed, will retry")
}

// Retrier repeatedly invokes operations, classifying each failure and
// consulting the per-category policy table, sleeping with exponential
// backoff plus jitter between attempts.
type Retrier struct {
	// MaxRetries is the retry budget per operation. Zero means a single
	// attempt with no retries.
	MaxRetries int

	// BaseDelay is the backoff base: sleep n is BaseDelay * 2^n plus jitter.
	BaseDelay time.Duration

	// Notify is called before each backoff sleep.
	Notify Notifier

	// Formatter builds the final troubleshooting message on exhaustion.
	Formatter Formatter

	// sleep is replaceable in tests to record delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRetrier creates a retrier with the given budget and base delay.
// Non-positive arguments fall back to the defaults.
func NewRetrier(maxRetries int, baseDelay time.Duration) *Retrier {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Retrier{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		Notify:     LogNotifier,
		Formatter:  TextFormatter{},
		sleep:      sleepContext,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do invokes op until it succeeds, fails with a non-retryable category, the
// retry budget is exhausted, or ctx is cancelled. On failure it returns a
// *ClassifiedError whose message follows the troubleshooting contract. The
// caller blocks for the full duration of every backoff sleep.
func (r *Retrier) Do(ctx context.Context, op func() error, ectx *ErrorContext) error {
	if ectx.MaxRetries == 0 {
		ectx.MaxRetries = r.MaxRetries
	}

	for {
		if err := ctx.Err(); err != nil {
			ectx.Err = err
			ectx.Category = CategoryTimeout
			return r.fail(ectx)
		}

		err := op()
		if err == nil {
			return nil
		}

		ectx.Err = err
		ectx.Category = Classify(err, ectx.Operation)

		if !ectx.Category.Retryable() || ectx.Attempt >= ectx.MaxRetries {
			return r.fail(ectx)
		}

		delay := r.backoff(ectx.Attempt)
		if r.Notify != nil {
			r.Notify(RetryNotice{
				Category:   ectx.Category,
				Operation:  ectx.Operation,
				Attempt:    ectx.Attempt,
				MaxRetries: ectx.MaxRetries,
				Delay:      delay,
			})
		}
		if err := r.sleep(ctx, delay); err != nil {
			ectx.Err = err
			ectx.Category = CategoryTimeout
			return r.fail(ectx)
		}
		ectx.Attempt++
	}
}

// backoff computes BaseDelay * 2^attempt plus a uniformly random jitter of
// 10-30% of that term, capped at maxBackoff.
func (r *Retrier) backoff(attempt int) time.Duration {
	base := time.Duration(float64(r.BaseDelay) * math.Pow(2, float64(attempt)))
	if base > maxBackoff {
		base = maxBackoff
	}

	r.mu.Lock()
	frac := 0.10 + r.rnd.Float64()*0.20
	r.mu.Unlock()

	return base + time.Duration(float64(base)*frac)
}

// fail builds the terminal classified error for an exhausted context.
func (r *Retrier) fail(ectx *ErrorContext) error {
	f := r.Formatter
	if f == nil {
		f = TextFormatter{}
	}
	return &ClassifiedError{
		Category:  ectx.Category,
		Operation: ectx.Operation,
		Message:   f.Format(ectx),
		Attempts:  ectx.Attempt + 1,
		Err:       ectx.Err,
	}
}

// sleepContext blocks for d or until ctx is cancelled, whichever comes
// first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DoValue runs op under the retrier and returns its result, or the zero
// value alongside the classified error.
func DoValue[T any](ctx context.Context, r *Retrier, op func() (T, error), ectx *ErrorContext) (T, error) {
	var result T
	err := r.Do(ctx, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		result = v
		return nil
	}, ectx)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
