package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	cb "github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rs/zerolog"

	"github.com/duskrow/perpbacktest/internal/ratelimit"
)

// newBreaker builds the same trip policy every venue uses: 3 consecutive
// failures, or a failure rate over 5% once at least 20 requests have been
// observed, opens the breaker for 60s.
func newBreaker(name string) *cb.CircuitBreaker {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}
	return cb.NewCircuitBreaker(st)
}

// Transport is the shared plumbing every venue connector embeds: sliding
// window admission (C1), a token-bucket burst governor on top of it, a
// circuit breaker around the underlying HTTP call, and request/retry
// logging. Venue packages build one Transport and call GetJSON on it; they
// own only the URL construction and response parsing.
type Transport struct {
	Exchange string
	HTTP     *http.Client
	Limits   *ratelimit.Manager
	Burst    *rate.Limiter
	Breaker  *cb.CircuitBreaker
	Log      zerolog.Logger
	Retry    RetryPolicy
}

// NewTransport wires a venue's rate budget, circuit breaker, and logger.
func NewTransport(exchange string, limits *ratelimit.Manager, burst *rate.Limiter, log zerolog.Logger) *Transport {
	return &Transport{
		Exchange: exchange,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		Limits:   limits,
		Burst:    burst,
		Breaker:  newBreaker(exchange),
		Log:      log.With().Str("exchange", exchange).Logger(),
		Retry:    DefaultRetryPolicy(),
	}
}

// GetJSON performs one rate-limited, circuit-broken GET and decodes the
// JSON body into out. weight is the venue's request-weight accounting unit
// (1 for most Binance endpoints, higher for heavier ones).
func (t *Transport) GetJSON(ctx context.Context, url string, weight int, out any) error {
	return Retry(ctx, t.Retry, func() error {
		if err := t.Limits.Acquire(ctx, t.Exchange, weight); err != nil {
			return err
		}
		if err := t.Burst.Wait(ctx); err != nil {
			return err
		}

		result, err := t.Breaker.Execute(func() (any, error) {
			return t.doGet(ctx, url)
		})
		if err != nil {
			t.Log.Warn().Err(err).Str("url", url).Msg("request failed")
			return err
		}

		body := result.([]byte)
		if err := json.Unmarshal(body, out); err != nil {
			return &DataFormatError{Exchange: t.Exchange, Detail: err.Error()}
		}
		return nil
	})
}

func (t *Transport) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ExchangeAPIError{Exchange: t.Exchange, Op: "build request", Err: err}
	}

	resp, err := t.HTTP.Do(req)
	if err != nil {
		return nil, &ExchangeAPIError{Exchange: t.Exchange, Op: "do", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExchangeAPIError{Exchange: t.Exchange, Op: "read body", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitExceededError{Exchange: t.Exchange}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &SymbolNotFoundError{Exchange: t.Exchange}
	case resp.StatusCode >= 500:
		return nil, &ExchangeAPIError{Exchange: t.Exchange, Op: "http", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &DataFormatError{Exchange: t.Exchange, Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, body)}
	}

	return body, nil
}
