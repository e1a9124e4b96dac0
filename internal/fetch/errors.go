package fetch

import (
	"fmt"
	"net/http"
)

// MaxRetryError is returned when the transport retry budget is exhausted
type MaxRetryError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *MaxRetryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("max retries exceeded for %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("max retries exceeded for %s after %d attempts: status %d", e.URL, e.Attempts, e.StatusCode)
}

func (e *MaxRetryError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-retryable HTTP failure status
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d %s for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// ConnectionError is a transport failure that was not retried
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error for %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
