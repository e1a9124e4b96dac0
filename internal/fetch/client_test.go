package fetch

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/config"
)

func testScraperConfig(retries int) config.ScraperConfig {
	return config.ScraperConfig{
		Retries:        retries,
		BackoffFactor:  time.Millisecond,
		Timeout:        2 * time.Second,
		UserAgent:      config.UserAgentFirefox,
		FrequencyHours: 6,
	}
}

func newTestClient(t *testing.T, cfg config.ScraperConfig) *Client {
	t.Helper()
	c, err := NewClient(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestClientRetries(t *testing.T) {
	t.Run("503 three times then 200 succeeds", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&hits, 1) <= 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("n04-12-2023;4,7642;"))
		}))
		defer srv.Close()

		c := newTestClient(t, testScraperConfig(5))
		resp, err := c.Fetch(context.Background(), &Request{URL: srv.URL})

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "n04-12-2023;4,7642;", string(resp.Body))
		assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
	})

	t.Run("forcelisted status exhausts retries", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := newTestClient(t, testScraperConfig(2))
		_, err := c.Fetch(context.Background(), &Request{URL: srv.URL})

		var maxErr *MaxRetryError
		require.ErrorAs(t, err, &maxErr)
		assert.Equal(t, 3, maxErr.Attempts)
		assert.Equal(t, http.StatusBadGateway, maxErr.StatusCode)
		assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	})

	t.Run("zero retries makes a single attempt", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		c := newTestClient(t, testScraperConfig(0))
		_, err := c.Fetch(context.Background(), &Request{URL: srv.URL})

		var maxErr *MaxRetryError
		require.ErrorAs(t, err, &maxErr)
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})

	t.Run("non-forcelisted status fails immediately", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := newTestClient(t, testScraperConfig(5))
		_, err := c.Fetch(context.Background(), &Request{URL: srv.URL})

		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})

	t.Run("connection refused is retried then reported", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		c := newTestClient(t, testScraperConfig(1))
		_, err := c.Fetch(context.Background(), &Request{URL: addr})

		var maxErr *MaxRetryError
		require.ErrorAs(t, err, &maxErr)
		assert.Equal(t, 2, maxErr.Attempts)
		assert.Error(t, errors.Unwrap(maxErr))
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		cfg := testScraperConfig(5)
		cfg.BackoffFactor = time.Second
		c := newTestClient(t, cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := c.Fetch(ctx, &Request{URL: srv.URL})
		require.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestClientHeaders(t *testing.T) {
	var mu sync.Mutex
	var got *http.Request
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got, body = r.Clone(context.Background()), string(b)
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	last := func() (*http.Request, string) {
		mu.Lock()
		defer mu.Unlock()
		return got, body
	}

	c := newTestClient(t, testScraperConfig(0))

	t.Run("default referer and user agent", func(t *testing.T) {
		_, err := c.Fetch(context.Background(), &Request{URL: srv.URL})
		require.NoError(t, err)

		got, _ := last()
		assert.Equal(t, http.MethodGet, got.Method)
		assert.Equal(t, DefaultReferer, got.Header.Get("Referer"))
		assert.Equal(t, c.UserAgent(), got.Header.Get("User-Agent"))
		assert.Contains(t, got.Header.Get("User-Agent"), "Firefox")
	})

	t.Run("form posts are urlencoded", func(t *testing.T) {
		form := url.Values{"fund": {"PTARMCLM0004"}}
		_, err := c.Fetch(context.Background(), &Request{
			URL:     srv.URL,
			Form:    form,
			Referer: "https://bank.example/funds",
		})
		require.NoError(t, err)

		got, body := last()
		assert.Equal(t, http.MethodPost, got.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", got.Header.Get("Content-Type"))
		assert.Equal(t, "fund=PTARMCLM0004", body)
		assert.Equal(t, "https://bank.example/funds", got.Header.Get("Referer"))
	})

	t.Run("user agent is chosen once per client", func(t *testing.T) {
		first := c.UserAgent()
		for i := 0; i < 3; i++ {
			_, err := c.Fetch(context.Background(), &Request{URL: srv.URL})
			require.NoError(t, err)
			got, _ := last()
			assert.Equal(t, first, got.Header.Get("User-Agent"))
		}
	})
}

func TestClientProxy(t *testing.T) {
	var viaProxy int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&viaProxy, 1)
		w.Write([]byte("proxied"))
	}))
	defer proxy.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("direct"))
	}))
	defer target.Close()

	cfg := testScraperConfig(0)
	cfg.Proxy = proxy.URL
	c := newTestClient(t, cfg)

	resp, err := c.Fetch(context.Background(), &Request{URL: target.URL})
	require.NoError(t, err)
	assert.Equal(t, "proxied", string(resp.Body))

	resp, err = c.Fetch(context.Background(), &Request{URL: target.URL, NoProxy: true})
	require.NoError(t, err)
	assert.Equal(t, "direct", string(resp.Body))
	assert.Equal(t, int32(1), atomic.LoadInt32(&viaProxy))
}

func TestBackoff(t *testing.T) {
	backoff := Backoff(500 * time.Millisecond)

	tests := []struct {
		name    string
		attempt int
		resp    *http.Response
		want    time.Duration
	}{
		{"first retry", 0, nil, 500 * time.Millisecond},
		{"grows exponentially", 3, nil, 4 * time.Second},
		{"capped", 20, nil, MaxBackoff},
		{"retry-after on 503", 1, withRetryAfter(http.StatusServiceUnavailable, "7"), 7 * time.Second},
		{"retry-after capped", 0, withRetryAfter(http.StatusTooManyRequests, "600"), MaxBackoff},
		{"retry-after ignored on 500", 1, withRetryAfter(http.StatusInternalServerError, "7"), time.Second},
		{"invalid retry-after", 1, withRetryAfter(http.StatusServiceUnavailable, "soon"), time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backoff(0, 0, tt.attempt, tt.resp))
		})
	}
}

func TestUserAgent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, choice := range []string{config.UserAgentChrome, config.UserAgentFirefox, config.UserAgentSafari, config.UserAgentRandom} {
		ua, err := UserAgent(choice, rng)
		require.NoError(t, err, choice)
		assert.True(t, strings.HasPrefix(ua, "Mozilla/5.0"))
	}

	_, err := UserAgent("lynx", rng)
	assert.Error(t, err)
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	cfg := testScraperConfig(1)
	cfg.Proxy = "proxy.local"
	_, err := NewClient(cfg, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func withRetryAfter(status int, value string) *http.Response {
	h := make(http.Header)
	h.Set("Retry-After", value)
	return &http.Response{StatusCode: status, Header: h}
}
