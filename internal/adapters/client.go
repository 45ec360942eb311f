// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

const (
	// DefaultHTTPTimeout is shorter than the scheduler's job timeout so a hung
	// platform surfaces as a timeout-class TransientError.
	DefaultHTTPTimeout = 30 * time.Second

	defaultRateLimitWait = time.Minute
	maxResponseBytes     = 10 << 20
)

// ClientConfig configures a platform Client.
type ClientConfig struct {
	Platform          string
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            zerolog.Logger
}

// Client is the HTTP transport shared by platform adapters.
type Client struct {
	platform string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	cb       *gobreaker.CircuitBreaker[*response]
	logger   zerolog.Logger
	now      func() time.Time
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// requestConfig describes one API call.
type requestConfig struct {
	method string
	path   string
	query  url.Values
	token  string
	body   interface{}
}

// NewClient builds a Client with a token-bucket limiter and a circuit breaker
// named after the platform.
//
//nolint:gocritic // config passed once at construction
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		platform: cfg.Platform,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   cfg.Logger,
		now:      time.Now,
	}
	c.cb = newBreaker(cfg.Platform+"-api", cfg.Logger)
	return c
}

func newBreaker(name string, logger zerolog.Logger) *gobreaker.CircuitBreaker[*response] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		// Opens at a 60% failure rate over at least 10 requests.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= 0.6 {
				logger.Warn().
					Str("breaker", name).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).
					Msg("Opening circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// errServerStatus marks a 5xx so the breaker counts it as a failure.
type errServerStatus struct{ status int }

func (e errServerStatus) Error() string { return fmt.Sprintf("server returned %d", e.status) }

// doJSON executes cfg and decodes a 2xx body into result. Any failure is
// returned as a syncerr kind.
func (c *Client) doJSON(ctx context.Context, cfg requestConfig, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return syncerr.Transient(c.platform, fmt.Errorf("rate limiter: %w", err))
	}

	resp, err := c.execute(ctx, cfg)
	if err != nil {
		var serverErr errServerStatus
		if errors.As(err, &serverErr) && resp != nil {
			return syncerr.Transient(c.platform, fmt.Errorf("%s %s: %w: %s", cfg.method, cfg.path, err, snippet(resp.body)))
		}
		return syncerr.Transient(c.platform, fmt.Errorf("%s %s: %w", cfg.method, cfg.path, err))
	}

	if err := c.classifyStatus(cfg, resp); err != nil {
		return err
	}

	if result != nil && len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, result); err != nil {
			return syncerr.Fatal(c.platform, fmt.Errorf("decode %s response: %w", cfg.path, err))
		}
	}
	return nil
}

func (c *Client) execute(ctx context.Context, cfg requestConfig) (*response, error) {
	resp, err := c.cb.Execute(func() (*response, error) {
		req, err := c.newRequest(ctx, cfg)
		if err != nil {
			return nil, err
		}
		httpResp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		r := &response{status: httpResp.StatusCode, header: httpResp.Header, body: body}
		if httpResp.StatusCode >= http.StatusInternalServerError {
			return r, errServerStatus{status: httpResp.StatusCode}
		}
		return r, nil
	})

	name := c.platform + "-api"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(name, "rejected").Inc()
	case err != nil:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "failure").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(float64(c.cb.Counts().ConsecutiveFailures))
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "success").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
	}
	return resp, err
}

func (c *Client) newRequest(ctx context.Context, cfg requestConfig) (*http.Request, error) {
	reqURL := c.baseURL + cfg.path
	if len(cfg.query) > 0 {
		reqURL += "?" + cfg.query.Encode()
	}

	var body io.Reader = http.NoBody
	if cfg.body != nil {
		data, err := json.Marshal(cfg.body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cfg.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.token)
	}
	return req, nil
}

func (c *Client) classifyStatus(cfg requestConfig, resp *response) error {
	switch {
	case resp.status >= 200 && resp.status < 300:
		return nil
	case resp.status == http.StatusUnauthorized, resp.status == http.StatusForbidden:
		return syncerr.Auth(c.platform, fmt.Errorf("%s %s: status %d", cfg.method, cfg.path, resp.status))
	case resp.status == http.StatusTooManyRequests:
		resetAt := c.rateLimitReset(resp.header)
		c.logger.Warn().Str("platform", c.platform).Time("reset_at", resetAt).Msg("Platform rate limit hit")
		return syncerr.RateLimited(c.platform, resetAt)
	default:
		return syncerr.Fatal(c.platform, fmt.Errorf("%s %s: status %d: %s", cfg.method, cfg.path, resp.status, snippet(resp.body)))
	}
}

// rateLimitReset reads Retry-After (seconds or HTTP date) or the epoch-seconds
// x-rate-limit-reset header, falling back to one minute from now.
func (c *Client) rateLimitReset(h http.Header) time.Time {
	now := c.now()
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
			return now.Add(time.Duration(secs) * time.Second)
		}
		if t, err := http.ParseTime(v); err == nil {
			return t
		}
	}
	if v := h.Get("X-Rate-Limit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return time.Unix(epoch, 0)
		}
	}
	return now.Add(defaultRateLimitWait)
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
