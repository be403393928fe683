package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

const maxResponseBytes = 4 << 20

// HTTPConfig describes one remote capability endpoint.
type HTTPConfig struct {
	Name    string
	URL     string
	Timeout time.Duration

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int

	// Breaker trips after FailureThreshold consecutive failures and stays
	// open for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// HTTPCapability invokes a service by POSTing the input as JSON and decoding
// a JSON object response.
type HTTPCapability struct {
	cfg     HTTPConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPCapability creates an HTTP backed capability.
func NewHTTPCapability(cfg HTTPConfig, client *http.Client, logger *slog.Logger) *HTTPCapability {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	threshold := cfg.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var aborted *abortedError
			return err == nil || errors.As(err, &aborted)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Capability circuit state changed",
				slog.String("service", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPCapability{
		cfg:     cfg,
		client:  client,
		breaker: breaker,
		limiter: limiter,
		logger:  logger,
	}
}

// Invoke waits for a rate limit token, then calls the endpoint through the
// circuit breaker.
func (c *HTTPCapability) Invoke(ctx context.Context, input domain.Payload) (domain.Payload, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to acquire rate limit for %s: %w", c.cfg.Name, err)
		}
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		out, err := c.post(ctx, input)
		if err != nil && ctx.Err() != nil {
			return nil, &abortedError{err: err}
		}
		return out, err
	})
	if err != nil {
		return nil, err
	}
	return out.(domain.Payload), nil
}

// State returns the circuit breaker state: closed, half-open or open.
func (c *HTTPCapability) State() string {
	return c.breaker.State().String()
}

func (c *HTTPCapability) post(ctx context.Context, input domain.Payload) (domain.Payload, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", c.cfg.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", c.cfg.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned status %d: %s", c.cfg.Name, resp.StatusCode, truncate(string(data), 200))
	}

	var out domain.Payload
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", c.cfg.Name, err)
	}
	if out == nil {
		out = domain.Payload{}
	}
	return out, nil
}

// abortedError marks a call cut short by the caller's context. It says nothing
// about the health of the service and does not count against the breaker.
type abortedError struct {
	err error
}

func (e *abortedError) Error() string {
	return e.err.Error()
}

func (e *abortedError) Unwrap() error {
	return e.err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// NewRegistryFromConfig builds a registry holding one HTTP capability per entry.
func NewRegistryFromConfig(cfgs []HTTPConfig, logger *slog.Logger) *Registry {
	reg := NewRegistry()
	for _, cfg := range cfgs {
		reg.Register(cfg.Name, NewHTTPCapability(cfg, nil, logger.With(slog.String("service", cfg.Name))))
	}
	return reg
}
