package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/config"
	"github.com/trogers1052/fund-quotes/internal/logging"
)

// DefaultReferer is sent when the caller supplies none
const DefaultReferer = "https://www.google.com"

// MaxBackoff caps the delay between transport retries
const MaxBackoff = 120 * time.Second

var defaultHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language":           "pt-PT,pt;q=0.9,en-US;q=0.8,en;q=0.7",
	"Cache-Control":             "no-cache",
	"Upgrade-Insecure-Requests": "1",
	"DNT":                       "1",
}

// statusForcelist holds the statuses retried by the transport
var statusForcelist = map[int]bool{
	http.StatusRequestEntityTooLarge: true,
	http.StatusTooManyRequests:       true,
	http.StatusInternalServerError:   true,
	http.StatusBadGateway:            true,
	http.StatusServiceUnavailable:    true,
	http.StatusGatewayTimeout:        true,
}

// retryAfterStatuses honour the Retry-After header
var retryAfterStatuses = map[int]bool{
	http.StatusRequestEntityTooLarge: true,
	http.StatusTooManyRequests:       true,
	http.StatusServiceUnavailable:    true,
}

// Request describes a single fetch
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	// Form switches the request to a urlencoded POST.
	Form    url.Values
	Referer string
	// NoProxy bypasses the configured proxy for this request.
	NoProxy bool
}

// Response is a fully read response
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Latency    time.Duration
}

type noProxyKey struct{}

// Client performs HTTP requests over one pooled transport with transport
// level retries on connection errors and forcelisted statuses.
type Client struct {
	http      *retryablehttp.Client
	transport *http.Transport
	userAgent string
	logger    *zap.SugaredLogger
}

// NewClient builds a client from the scraper settings. The user agent is
// chosen once here and reused for every request.
func NewClient(cfg config.ScraperConfig, logger *zap.SugaredLogger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With("component", "http_client")

	ua, err := UserAgent(cfg.UserAgent, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return nil, err
	}

	var proxyURL *url.URL
	if cfg.Proxy != "" {
		if proxyURL, err = config.ParseProxy(cfg.Proxy); err != nil {
			return nil, err
		}
	}

	transport := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			if proxyURL == nil || req.Context().Value(noProxyKey{}) != nil {
				return nil, nil
			}
			return proxyURL, nil
		},
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.Timeout,
		ExpectContinueTimeout: time.Second,
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	rc.Logger = logging.NewLeveled(logger)
	rc.RetryMax = cfg.Retries
	rc.CheckRetry = checkRetry
	rc.Backoff = Backoff(cfg.BackoffFactor)

	c := &Client{
		http:      rc,
		transport: transport,
		userAgent: ua,
		logger:    logger,
	}
	rc.ErrorHandler = c.giveUp

	logger.Infow("HTTP client initialized",
		"retries", cfg.Retries,
		"backoff_factor", cfg.BackoffFactor,
		"timeout", cfg.Timeout,
		"proxy", proxyURL != nil,
	)
	return c, nil
}

// UserAgent returns the user agent sent with every request
func (c *Client) UserAgent() string {
	return c.userAgent
}

// Fetch performs the request and reads the whole body
func (c *Client) Fetch(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := c.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{URL: req.URL, Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
		Latency:    time.Since(start),
	}, nil
}

// Open performs the request and returns the response with its body unread.
// The caller must close the body. Statuses >= 400 are returned as errors.
func (c *Client) Open(ctx context.Context, req *Request) (*http.Response, error) {
	if req.NoProxy {
		ctx = context.WithValue(ctx, noProxyKey{}, true)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body interface{}
	if req.Form != nil {
		method = http.MethodPost
		body = req.Form.Encode()
	}

	rreq, err := retryablehttp.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.applyHeaders(rreq.Header, req)

	resp, err := c.http.Do(rreq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &HTTPError{URL: req.URL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// Close releases idle pooled connections
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

func (c *Client) applyHeaders(h http.Header, req *Request) {
	for k, v := range defaultHeaders {
		h.Set(k, v)
	}
	h.Set("User-Agent", c.userAgent)

	referer := req.Referer
	if referer == "" {
		referer = DefaultReferer
	}
	h.Set("Referer", referer)

	if req.Form != nil {
		h.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, vs := range req.Headers {
		h[http.CanonicalHeaderKey(k)] = vs
	}
}

// giveUp runs once the retry loop stops without a usable response
func (c *Client) giveUp(resp *http.Response, err error, attempts int) (*http.Response, error) {
	var target string
	var status int
	if resp != nil {
		target = resp.Request.URL.String()
		status = resp.StatusCode
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}

	if err != nil {
		// checkRetry hands back the caller's context error unwrapped
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil, err
		}
		var uerr *url.Error
		if errors.As(err, &uerr) {
			target = uerr.URL
		}
		if attempts <= c.http.RetryMax {
			return nil, &ConnectionError{URL: target, Err: err}
		}
	}

	return nil, &MaxRetryError{URL: target, Attempts: attempts, StatusCode: status, Err: err}
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return statusForcelist[resp.StatusCode], nil
}

// Backoff returns a retryablehttp backoff of factor * 2^attempt, capped at
// MaxBackoff. Retry-After is honoured for 413, 429 and 503.
func Backoff(factor time.Duration) retryablehttp.Backoff {
	return func(_, _ time.Duration, attempt int, resp *http.Response) time.Duration {
		if resp != nil && retryAfterStatuses[resp.StatusCode] {
			if wait, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				return min(wait, MaxBackoff)
			}
		}

		wait := float64(factor) * math.Pow(2, float64(attempt))
		if wait > float64(MaxBackoff) || math.IsInf(wait, 0) {
			return MaxBackoff
		}
		return time.Duration(wait)
	}
}

func retryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}
	return 0, false
}
