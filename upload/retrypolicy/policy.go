package retrypolicy

import (
	"fmt"
	"math/rand"
	"time"
)

// MaxRetryCount is the default number of attempts per transfer.
const MaxRetryCount = 3

const (
	backoffUnit = time.Second
	backoffCap  = 30 * time.Second
	// jitterFraction is the upper bound of the random extra delay, relative to the base.
	jitterFraction = 0.3
)

// Decision is the outcome of a single retry evaluation.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason string
}

// Decide evaluates whether the attempt-th failure of an operation should be
// retried. attempt counts failures so far, so attempt == maxAttempts means the
// budget is spent. online comes from the caller's ConnectivityChecker; the
// first attempt is always allowed through even when offline detection is
// stale.
func Decide(err error, attempt, maxAttempts, statusCode int, online bool) Decision {
	if attempt >= maxAttempts {
		return Decision{Reason: "max attempts reached"}
	}

	category := Classify(err, statusCode)
	if category == CategoryPermanent {
		return Decision{Reason: fmt.Sprintf("%s error, not retryable", category)}
	}

	condition := Estimate([]Category{category}, online)
	if condition == ConditionOffline && attempt > 0 {
		return Decision{Reason: "no network connection"}
	}

	return Decision{
		Retry:  true,
		Delay:  Backoff(attempt, category),
		Reason: fmt.Sprintf("%s error, network %s", category, condition),
	}
}

// BackoffBase returns the pre-jitter exponential delay for the given attempt,
// capped at 30s. Non-decreasing in attempt.
func BackoffBase(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 1s << 5 already exceeds the cap, no need to shift further.
	if attempt > 5 {
		return backoffCap
	}
	base := backoffUnit << uint(attempt)
	if base > backoffCap {
		return backoffCap
	}
	return base
}

// Backoff computes the full delay for a retry: exponential base, random
// jitter, then a category-specific escalation factor (rate limiting waits
// twice as long, timeouts half as long again).
func Backoff(attempt int, category Category) time.Duration {
	base := BackoffBase(attempt)
	delay := base + time.Duration(rand.Float64()*jitterFraction*float64(base))

	switch category {
	case CategoryRateLimit:
		delay *= 2
	case CategoryTimeout:
		delay = delay * 3 / 2
	}
	return delay
}
