package ocr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrMalformedResponse means the service answered 2xx with a body we cannot use.
	ErrMalformedResponse = errors.New("ocr: malformed response")
	// ErrRejected means the service answered 4xx; the request will not succeed on retry.
	ErrRejected = errors.New("ocr: request rejected")
	// ErrUnavailable means every attempt failed with a transient error.
	ErrUnavailable = errors.New("ocr: service unavailable")
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ocr: non-2xx status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return ErrRejected
	}
	return nil
}

// retryable reports whether err is a network failure, a timeout or a 5xx.
// Cancellation of the caller's context is never retryable.
func retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 500
	}
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrRejected) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// http.Client.Do wraps every transport failure (reset, EOF, refused) in *url.Error.
	var ne net.Error
	return errors.As(err, &ne)
}

// backoff returns the delay before retry n (1-based): base, 2·base, 4·base, ...
func backoff(base time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return base << (n - 1)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
