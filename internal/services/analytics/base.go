package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	xhttp "FinVerdict/pkg/http"
)

// HTTPServiceBase is the shared foundation of the remote port adapters.
// It owns the client and the JSON POST + retry loop.
type HTTPServiceBase struct {
	baseURL  string
	client   *xhttp.Client
	attempts int
}

// NewHTTPServiceBase builds a client against baseURL. attempts < 1 means one try.
func NewHTTPServiceBase(baseURL string, timeout time.Duration, attempts int, opts ...xhttp.ClientOption) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = time.Second
	}
	if attempts < 1 {
		attempts = 1
	}
	opts = append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, opts...)
	return &HTTPServiceBase{
		baseURL:  baseURL,
		client:   xhttp.NewClient(opts...),
		attempts: attempts,
	}
}

// PostJSON posts the given payload to path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("http port client not initialized")
	}
	if err := b.client.DoJSON(ctx, http.MethodPost, b.baseURL+path, payload, dest); err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry retries transient failures with linear backoff.
// 4xx responses other than 429 are returned immediately.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	var err error
	for i := 1; i <= b.attempts; i++ {
		err = b.PostJSON(ctx, path, payload, dest)
		if err == nil || !retryable(err) || i == b.attempts {
			return err
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
