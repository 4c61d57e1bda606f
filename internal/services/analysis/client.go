// Package analysis is the HTTP client of the external analysis service.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"CryptoAgent/internal/domain/models"
	"CryptoAgent/internal/domain/repository"
	xhttp "CryptoAgent/pkg/http"
	"CryptoAgent/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// maxResponseBytes caps the analysis payload read from the wire.
const maxResponseBytes = 8 << 20

// ErrUpstream wraps every failure of the analysis service (transport, status, payload).
var ErrUpstream = errors.New("analysis service error")

// Client fetches analyses over HTTP GET.
type Client struct {
	http    *xhttp.Client
	baseURL string
	path    string
	token   string

	attempts        int
	initialInterval time.Duration
	maxInterval     time.Duration
	limiter         *rate.Limiter

	log     *logger.Logger
	metrics repository.Metrics
}

// Option configures Client.
type Option func(*Client)

// NewClient creates a client for baseURL. The endpoint path defaults to /api/analysis.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		path:            "/api/analysis",
		attempts:        3,
		initialInterval: 200 * time.Millisecond,
		maxInterval:     2 * time.Second,
		log:             logger.Nop(),
		metrics:         repository.NopMetrics{},
	}
	httpOpts := []xhttp.ClientOption{xhttp.WithTimeout(15 * time.Second), xhttp.WithMaxBodySize(maxResponseBytes)}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = xhttp.NewClient(httpOpts...)
	}
	return c
}

// FetchAnalysis performs GET <base><path>?symbol=&timeframe=&timerange= and decodes the body.
// 4xx answers and undecodable payloads are not retried.
func (c *Client) FetchAnalysis(ctx context.Context, key models.QueryKey) (*models.Analysis, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	mode := "full"
	if key.Lookback <= models.MinimalLookback {
		mode = "latest"
	}
	start := time.Now()

	var result *models.Analysis
	attempt := 0
	op := func() error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}
		a, err := c.fetchOnce(ctx, key)
		if err != nil {
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = a
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn("analysis request failed, retrying",
			logger.String("key", key.String()),
			logger.Int("attempt", attempt),
			logger.Duration("wait_ms", wait),
			logger.Error(err),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)
	c.metrics.RecordFetch(mode, err == nil, time.Since(start).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstream, key, err)
	}

	c.log.Debug("analysis fetched",
		logger.String("key", key.String()),
		logger.Int("candles", len(result.Candles)),
		logger.Int("attempts", attempt),
		logger.Duration("latency_ms", time.Since(start)),
	)
	return result, nil
}

func (c *Client) fetchOnce(ctx context.Context, key models.QueryKey) (*models.Analysis, error) {
	headers := map[string]string{"Accept": "application/json"}
	if c.token != "" {
		headers["Authorization"] = "Bearer " + c.token
	}

	var body []byte
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     c.baseURL + c.path,
		Headers: headers,
		QueryParams: map[string][]string{
			"symbol":    {key.Symbol},
			"timeframe": {key.Timeframe},
			"timerange": {strconv.Itoa(key.Lookback)},
		},
	}, &body)
	if err != nil {
		return nil, err
	}

	var a models.Analysis
	if err := json.Unmarshal(SanitizeNonFinite(body), &a); err != nil {
		return nil, &decodeError{err: err}
	}
	return &a, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxInterval = c.maxInterval
	bo.MaxElapsedTime = 0
	if c.attempts <= 1 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(bo, uint64(c.attempts-1))
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode analysis: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var de *decodeError
	if errors.As(err, &de) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	// transport errors
	return true
}

// WithPath sets the endpoint path.
func WithPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.path = "/" + strings.TrimLeft(path, "/")
		}
	}
}

// WithToken sends the token as a Bearer Authorization header.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = xhttp.NewClient(xhttp.WithTimeout(d), xhttp.WithMaxBodySize(maxResponseBytes))
		}
	}
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(hc *xhttp.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetry sets the attempt budget and backoff bounds.
func WithRetry(attempts int, initial, max time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		if initial > 0 {
			c.initialInterval = initial
		}
		if max > 0 {
			c.maxInterval = max
		}
	}
}

// WithRateLimit caps outgoing requests. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		c.log = l.Component("analysis-client")
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m repository.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

var _ repository.AnalysisSource = (*Client)(nil)

// statusOf extracts the upstream HTTP status of an error, 0 when there is none.
func statusOf(err error) int {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsNotFound reports whether the service answered 404 for the key.
func IsNotFound(err error) bool { return statusOf(err) == http.StatusNotFound }
