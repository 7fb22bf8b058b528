package exchange

import (
	"context"
	"time"

	"github.com/duskrow/perpbacktest/internal/series"
)

// Connector is the abstract capability set every venue may implement.
// Not every exchange implements every method; unsupported calls fail
// with NotSupportedError.
type Connector interface {
	Name() string

	GetOHLCV(ctx context.Context, symbol string, tf series.Timeframe, start, end time.Time) (series.Series, error)
	GetFundingRate(ctx context.Context, symbol string, start, end time.Time) (series.Series, error)
	GetOpenInterest(ctx context.Context, symbol string, start, end time.Time) (series.Series, error)
	GetLongShortRatio(ctx context.Context, symbol string, start, end time.Time) (series.Series, error)
	GetLiquidations(ctx context.Context, symbol string, start, end time.Time) (series.Series, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
}

// RetryPolicy captures §4.2's retry rule: network/5xx errors retried with
// exponential backoff (factor 2, up to 3 attempts); HTTP 429 waits 60s and
// retries; 404/invalid-symbol short-circuits immediately.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	RateLimitWait time.Duration
}

// DefaultRetryPolicy matches §4.2 exactly.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		BackoffFactor: 2.0,
		RateLimitWait: 60 * time.Second,
	}
}

// Classified distinguishes retriable conditions from terminal ones so
// callers (and the Experiment Runner's own retry policy) can decide
// whether to retry without inspecting error strings.
type Classified int

const (
	ClassTerminal Classified = iota
	ClassTransient
	ClassRateLimited
)

// Classify inspects an error returned by a connector call.
func Classify(err error) Classified {
	if err == nil {
		return ClassTerminal
	}
	switch err.(type) {
	case *RateLimitExceededError:
		return ClassRateLimited
	case *ExchangeAPIError:
		return ClassTransient
	case *SymbolNotFoundError, *DataFormatError, *NotSupportedError:
		return ClassTerminal
	default:
		return ClassTransient
	}
}

// Retry runs fn up to policy.MaxAttempts times, sleeping with exponential
// backoff between attempts, short-circuiting on terminal errors and using
// RateLimitWait when the venue signals a 429.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	delay := policy.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		class := Classify(err)
		if class == ClassTerminal {
			return err
		}

		wait := delay
		if class == ClassRateLimited {
			wait = policy.RateLimitWait
		}

		if attempt == policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * policy.BackoffFactor)
	}

	if Classify(lastErr) == ClassRateLimited {
		return &RateLimitExceededError{}
	}
	return lastErr
}
