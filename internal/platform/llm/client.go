// Package llm talks to OpenAI-compatible providers for embeddings and
// structured pair analysis. Gemini is reached through its OpenAI-compatible
// endpoint with the same client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultBackoffBase = time.Second
	defaultCooldown    = 30 * time.Second
)

// ClientConfig holds connection and resilience settings for one provider.
type ClientConfig struct {
	Name            string
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Client wraps a go-openai client with retry, backoff and a circuit breaker.
type Client struct {
	api        *openai.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	backoff    time.Duration
	sleep      func(context.Context, time.Duration) error
	logger     *slog.Logger
}

// NewClient builds a Client. An empty BaseURL uses the OpenAI default.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	failures := cfg.BreakerFailures
	if failures < 1 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "llm"), slog.String("provider", cfg.Name))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(failures)
		},
		// Caller cancellation and rejected requests say nothing about
		// provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Client{
		api:        openai.NewClientWithConfig(oc),
		breaker:    breaker,
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    defaultBackoffBase,
		sleep:      sleepCtx,
		logger:     logger,
	}
}

// do runs fn behind the breaker, retrying transient failures with
// exponential backoff.
func do[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			c.logger.Debug("retrying provider call",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", wait),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return zero, err
			}
		}

		out, err := c.breaker.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
		if err == nil {
			return out.(T), nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, err
		}
		if ctx.Err() != nil || !retryable(err) {
			return zero, err
		}
		c.logger.Warn("provider call failed",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return zero, fmt.Errorf("%s: %d retries exhausted: %w", op, c.maxRetries, lastErr)
}

// retryable reports whether err is a rate limit, a server error or a
// transient network failure.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
