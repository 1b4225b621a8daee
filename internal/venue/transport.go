package venue

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/finbridge/venuegate/internal/pkg/logger"
	"github.com/finbridge/venuegate/internal/pkg/metrics"
	"golang.org/x/time/rate"
)

const (
	maxAttempts    = 3
	maxBackoff     = 5 * time.Second
	defaultTimeout = 12 * time.Second
)

// transport is the shared outbound call path for one venue adapter:
// rate pacing, circuit breaking, bounded retry, per-call timeout.
// Pacing blocks the calling goroutine only; each venue has its own budget.
type transport struct {
	venue       string
	client      *http.Client
	pacer       *rate.Limiter
	breaker     *Breaker
	callTimeout time.Duration
	log         *slog.Logger
}

func newTransport(cfg model.VenueConfig) *transport {
	rpm := cfg.RatePerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &transport{
		venue: cfg.ID,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: defaultTimeout,
		},
		pacer:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		breaker:     NewBreaker(cfg.ID, DefaultBreakerConfig()),
		callTimeout: defaultTimeout,
		log:         logger.Component("venue." + cfg.ID),
	}
}

// Do executes one logical venue call. The build function is invoked per
// attempt so signatures carry a fresh timestamp on retries.
func (t *transport) Do(ctx context.Context, op string, build func(ctx context.Context) (*http.Request, error)) ([]byte, int, error) {
	if !t.breaker.Allow() {
		metrics.VenueErrors.WithLabelValues(t.venue, string(apperrors.ErrCircuitOpen)).Inc()
		return nil, 0, apperrors.Newf(apperrors.ErrCircuitOpen, "venue %s circuit breaker is %s", t.venue, t.breaker.State())
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := t.pacer.Wait(ctx); err != nil {
			return nil, 0, apperrors.New(apperrors.ErrTransport, "rate pacing interrupted", err)
		}

		body, status, err := t.attempt(ctx, op, build)
		if err == nil {
			t.breaker.RecordSuccess()
			return body, status, nil
		}

		t.breaker.RecordFailure()
		metrics.VenueErrors.WithLabelValues(t.venue, string(apperrors.Wrap(err).Type)).Inc()
		lastErr = err
		if !apperrors.Retriable(err) {
			return nil, status, err
		}
		if attempt < maxAttempts {
			backoff := time.Duration(attempt) * 1500 * time.Millisecond
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			t.log.Warn("retrying venue call", "op", op, "attempt", attempt, "backoff", backoff.String(), "error", err.Error())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, 0, apperrors.New(apperrors.ErrTransport, "call cancelled during backoff", ctx.Err())
			}
		}
	}
	return nil, 0, lastErr
}

func (t *transport) attempt(ctx context.Context, op string, build func(ctx context.Context) (*http.Request, error)) ([]byte, int, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()

	req, err := build(callCtx)
	if err != nil {
		return nil, 0, apperrors.New(apperrors.ErrInternal, "failed to build request", err)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	metrics.VenueRequestSeconds.WithLabelValues(t.venue, op).Observe(time.Since(start).Seconds())
	if err != nil {
		// Timeouts are transport failures, never treated as success.
		return nil, 0, apperrors.New(apperrors.ErrTransport, "venue request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, apperrors.New(apperrors.ErrTransport, "failed to read venue response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return body, resp.StatusCode, apperrors.Newf(apperrors.ErrAuthFailed, "venue %s rejected credentials: %s", t.venue, truncate(body))
	case resp.StatusCode == http.StatusTooManyRequests:
		return body, resp.StatusCode, apperrors.Newf(apperrors.ErrRateLimited, "venue %s rate limited the request", t.venue)
	case resp.StatusCode >= 500:
		return body, resp.StatusCode, apperrors.Newf(apperrors.ErrUpstream, "venue %s returned %d: %s", t.venue, resp.StatusCode, truncate(body))
	case resp.StatusCode >= 400:
		return body, resp.StatusCode, apperrors.Newf(apperrors.ErrBusinessReject, "venue %s declined the request: %s", t.venue, truncate(body))
	}
	return body, resp.StatusCode, nil
}

func truncate(b []byte) string {
	const max = 300
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
