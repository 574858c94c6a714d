package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// maxBackoff caps the exponential retry delay.
const maxBackoff = 60 * time.Second

// ErrCircuitOpen is returned while the circuit breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker open")

// StatusError is a non-200 upstream response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// fetcher performs GET requests with retry, exponential backoff and a
// circuit breaker.
type fetcher struct {
	client     *http.Client
	headers    http.Header
	maxRetries int
	retryDelay time.Duration
	breaker    *CircuitBreaker
	logger     *slog.Logger
}

// getJSON fetches url and decodes the JSON body into out.
func (f *fetcher) getJSON(ctx context.Context, url string, out any) error {
	body, err := f.get(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

// get performs the request with retries. 4xx responses other than 429 are
// not retried.
func (f *fetcher) get(ctx context.Context, url string) (io.ReadCloser, error) {
	if f.breaker != nil && !f.breaker.CanProceed() {
		st := f.breaker.GetStatus()
		return nil, fmt.Errorf("%w (%d/%d failures)", ErrCircuitOpen, st.Failures, st.Total)
	}

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * f.retryDelay
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			f.logger.Debug("retrying request", "attempt", attempt, "max_retries", f.maxRetries, "backoff", backoff)
			if err := sleepContext(ctx, backoff); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		for k, vs := range f.headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Warn("request failed", "attempt", attempt+1, "error", err)
			f.recordFailure(0)
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			if f.breaker != nil {
				f.breaker.RecordSuccess()
			}
			return resp.Body, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = &StatusError{StatusCode: resp.StatusCode, URL: url}
		f.logger.Warn("request failed", "attempt", attempt+1, "status", resp.StatusCode)

		if isBlockingStatus(resp.StatusCode) {
			f.recordFailure(resp.StatusCode)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			break
		}
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", f.maxRetries, lastErr)
}

func (f *fetcher) recordFailure(status int) {
	if f.breaker != nil {
		f.breaker.RecordFailure(status)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
