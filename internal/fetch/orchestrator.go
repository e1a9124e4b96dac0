package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	// MaxAttempts is the number of outer attempts per Request call
	MaxAttempts = 5
	// ProxyFallbackAttempt is the first attempt sent without the proxy
	ProxyFallbackAttempt = 5
	// DownloadChunkSize is the read size used when streaming downloads
	DownloadChunkSize = 8 * 1024
)

// Fetcher performs single HTTP requests
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
	Open(ctx context.Context, req *Request) (*http.Response, error)
}

// RequestOption customizes an outgoing request
type RequestOption func(*Request)

// WithReferer sets the Referer header
func WithReferer(referer string) RequestOption {
	return func(r *Request) {
		r.Referer = referer
	}
}

// WithForm sends the values as a urlencoded POST body
func WithForm(form url.Values) RequestOption {
	return func(r *Request) {
		r.Form = form
	}
}

// WithHeader adds a request header
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Headers == nil {
			r.Headers = make(http.Header)
		}
		r.Headers.Add(key, value)
	}
}

// Orchestrator wraps a Fetcher with an outer attempt loop. After the last
// attempt it reports failure as a nil result instead of an error.
type Orchestrator struct {
	fetcher      Fetcher
	logger       *zap.SugaredLogger
	downloadPath string
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithDownloadPath sets the directory for downloads and page exports
func WithDownloadPath(path string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.downloadPath = path
	}
}

// NewOrchestrator creates a new request orchestrator
func NewOrchestrator(fetcher Fetcher, logger *zap.SugaredLogger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		fetcher:      fetcher,
		logger:       logger.With("component", "orchestrator"),
		downloadPath: "downloads",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Request fetches url and returns the body, or nil when every attempt
// failed. A nil result means the scrape is skipped this cycle.
func (o *Orchestrator) Request(ctx context.Context, rawURL string, opts ...RequestOption) []byte {
	noProxy := false

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			o.logger.Debugw("Request cancelled", "url", rawURL, "attempt", attempt)
			return nil
		}

		if attempt >= ProxyFallbackAttempt && !noProxy {
			o.logger.Debug("Not using proxy for next request")
			noProxy = true
		}

		req := newRequest(rawURL, opts)
		req.NoProxy = noProxy

		start := time.Now()
		resp, err := o.fetcher.Fetch(ctx, req)
		o.logger.Debugw("Request took", "url", rawURL, "attempt", attempt, "elapsed", time.Since(start))

		if err != nil {
			o.logFailure(rawURL, attempt, err)
			continue
		}
		if len(resp.Body) == 0 {
			o.logger.Warnw("Empty response body", "url", rawURL, "attempt", attempt)
			continue
		}
		return resp.Body
	}

	o.logger.Errorw("Failed to scrape web page", "url", rawURL, "attempts", MaxAttempts)
	return nil
}

// RequestJSON fetches url and decodes the body into v
func (o *Orchestrator) RequestJSON(ctx context.Context, rawURL string, v interface{}, opts ...RequestOption) bool {
	body := o.Request(ctx, rawURL, append(opts, WithHeader("Accept", "application/json"))...)
	if body == nil {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		o.logger.Errorw("Failed to decode JSON response", "url", rawURL, "error", err)
		return false
	}
	return true
}

// Download streams url into filename. Relative names are placed under the
// download path. A failed download leaves no file behind.
func (o *Orchestrator) Download(ctx context.Context, rawURL, filename string, opts ...RequestOption) (ok bool) {
	if !filepath.IsAbs(filename) {
		filename = filepath.Join(o.downloadPath, filename)
	}
	logger := o.logger.With("url", rawURL, "file", filename)

	resp, err := o.fetcher.Open(ctx, newRequest(rawURL, opts))
	if err != nil {
		logger.Errorw("Failed to download file", "error", err)
		return false
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		logger.Errorw("Failed to create download directory", "error", err)
		return false
	}

	f, err := os.Create(filename)
	if err != nil {
		logger.Errorw("Failed to create file", "error", err)
		return false
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && ok {
			logger.Errorw("Failed to close file", "error", cerr)
			ok = false
		}
		if !ok {
			os.Remove(filename)
		}
	}()

	written, err := copyChunks(ctx, f, resp.Body)
	if err != nil {
		logger.Errorw("Failed to download file", "error", err, "bytes", written)
		return false
	}

	logger.Debugw("File downloaded", "bytes", written)
	return true
}

// Export saves content under the download path, for inspecting pages that
// failed to parse.
func (o *Orchestrator) Export(name string, content []byte) error {
	filename := filepath.Join(o.downloadPath, name)
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(filename, content, 0o644); err != nil {
		return fmt.Errorf("failed to export web page: %w", err)
	}
	o.logger.Debugw("Web page output saved", "file", filename)
	return nil
}

func (o *Orchestrator) logFailure(rawURL string, attempt int, err error) {
	var (
		maxRetry *MaxRetryError
		connErr  *ConnectionError
		httpErr  *HTTPError
	)
	switch {
	case errors.As(err, &maxRetry):
		o.logger.Errorw("Max retries exceeded", "url", rawURL, "attempt", attempt, "error", err)
	case errors.As(err, &connErr):
		o.logger.Errorw("Connection error", "url", rawURL, "attempt", attempt, "error", err)
	case errors.As(err, &httpErr):
		o.logger.Warnw("HTTP error", "url", rawURL, "attempt", attempt, "status", httpErr.StatusCode)
	default:
		o.logger.Errorw("Failed to request URL", "url", rawURL, "attempt", attempt, "error", err, zap.Stack("stack"))
	}
}

func newRequest(rawURL string, opts []RequestOption) *Request {
	req := &Request{Method: http.MethodGet, URL: rawURL}
	for _, opt := range opts {
		opt(req)
	}
	return req
}

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, DownloadChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
