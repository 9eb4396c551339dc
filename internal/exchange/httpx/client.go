// Package httpx is the resilient HTTP transport underneath the Exchange
// Gateway's concrete adapter: retry + circuit breaker via failsafe-go,
// client-side rate limiting via golang.org/x/time/rate, and HMAC request
// signing, generalized with a rate limiter to respect exchange
// request-rate caps independent of the bounded-concurrency pool that
// bounds fan-out operations.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gridcore/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// APIError represents a non-2xx API response.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer signs an outbound request with a user's API key pair. A nil Signer means the request requires no authentication
// (e.g. ticker/market_info).
type Signer interface {
	SignRequest(req *http.Request, apiKey, apiSecret string) error
}

// Client wraps net/http.Client with retry, circuit breaking, and rate
// limiting suitable for one exchange host.
type Client struct {
	client   *http.Client
	baseURL  string
	signer   Signer
	limiter  *rate.Limiter
	pipeline failsafe.Executor[*http.Response]

	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient builds a Client with the Gateway's default resilience
// policies: 3 retries with 100ms-2s backoff on network errors/5xx/429,
// a circuit breaker opening after 5-of-10 failures for 10s, and a
// requestsPerSecond client-side rate limiter.
func NewClient(baseURL string, timeout time.Duration, requestsPerSecond float64, signer Signer) *Client {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == 429
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	tracer := telemetry.GetTracer("exchange-http")
	meter := telemetry.GetMeter("exchange-http")
	reqCounter, _ := meter.Int64Counter("exchange_http_requests_total")
	errCounter, _ := meter.Int64Counter("exchange_http_errors_total")
	latencyHist, _ := meter.Float64Histogram("exchange_http_request_duration_ms")

	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)
	if requestsPerSecond <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	return &Client{
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		signer:      signer,
		limiter:     limiter,
		pipeline:    failsafe.With[*http.Response](retryPolicy, breaker),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// Get issues a GET request, signing it when apiKey is non-empty.
func (c *Client) Get(ctx context.Context, path string, params map[string]string, apiKey, apiSecret string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()
	return c.do(req, apiKey, apiSecret)
}

// Post issues a POST request with a JSON body, signing it when apiKey is
// non-empty.
func (c *Client) Post(ctx context.Context, path string, body interface{}, apiKey, apiSecret string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewBuffer(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, apiKey, apiSecret)
}

// PostForm issues a POST request with params carried in the query string
// rather than a JSON body, the convention Binance-family trading
// endpoints use even for writes, signing it when apiKey is non-empty.
func (c *Client) PostForm(ctx context.Context, path string, params map[string]string, apiKey, apiSecret string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()
	return c.do(req, apiKey, apiSecret)
}

// Delete issues a DELETE request, signing it when apiKey is non-empty.
func (c *Client) Delete(ctx context.Context, path string, params map[string]string, apiKey, apiSecret string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()
	return c.do(req, apiKey, apiSecret)
}

func (c *Client) do(req *http.Request, apiKey, apiSecret string) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	ctx, span := c.tracer.Start(req.Context(), fmt.Sprintf("%s %s", req.Method, req.URL.Path),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	if c.signer != nil && apiKey != "" {
		if err := c.signer.SignRequest(req, apiKey, apiSecret); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return c.client.Do(req)
	})

	duration := float64(time.Since(start).Milliseconds())
	attrs := metric.WithAttributes(attribute.String("method", req.Method), attribute.String("path", req.URL.Path))
	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, duration, attrs)
	if m := telemetry.GetGlobalMetrics().LatencyExchange; m != nil {
		m.Record(ctx, duration, attrs)
	}

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, attrs)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, attrs)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}
