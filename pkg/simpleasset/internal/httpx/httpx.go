// Package httpx holds the bounded retry loop shared by the origin fetcher and
// the HTTP provider uploaders.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultPolicy retries three times starting at half a second.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, Backoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second}
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// NewStatusError drains up to 4KiB of the body into a StatusError.
func NewStatusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(raw)),
		RetryAfter: RetryAfter(resp.Header),
	}
}

func IsRetryableHTTPStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooEarly || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// IsRetryableError reports transient network faults and retryable statuses.
// Context errors are never retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return IsRetryableHTTPStatus(se.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// RetryAfter parses a Retry-After header given in seconds.
func RetryAfter(h http.Header) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(ra); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// JitterSleep spreads base by +/-20%.
func JitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

// Do runs attempt until it succeeds, returns a non-retryable error or the
// policy is exhausted. Each retry is logged at warn with the op name.
func Do(ctx context.Context, p Policy, logger *slog.Logger, op string, attempt func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) || n >= p.MaxRetries {
			return err
		}

		sleepFor := backoff
		var se *StatusError
		if errors.As(err, &se) && se.RetryAfter > 0 {
			sleepFor = se.RetryAfter
		}
		if p.MaxBackoff > 0 && sleepFor > p.MaxBackoff {
			sleepFor = p.MaxBackoff
		}
		sleepFor = JitterSleep(sleepFor)

		logger.WarnContext(ctx, op+" request retrying",
			"attempt", n+1,
			"max_retries", p.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		t := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
	}
}
