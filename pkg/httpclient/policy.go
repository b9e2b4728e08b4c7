package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Retry defaults.
const (
	DefaultRetryAttempts     = 4
	DefaultOfflineRetries    = -1
	DefaultRetryDelay        = 200 * time.Millisecond
	DefaultRetryMaxDelay     = 3 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// RetryPolicy describes how a single call is retried.
type RetryPolicy struct {
	// MaxRetries is the budget for transient failures other than offline
	// ones. 0 disables retries.
	MaxRetries int

	// MaxOfflineRetries is the budget for connectivity failures. A negative
	// value retries until the context is done.
	MaxOfflineRetries int

	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// OnRetry is called before waiting for each retry.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy returns the default segment retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        DefaultRetryAttempts,
		MaxOfflineRetries: DefaultOfflineRetries,
		BaseDelay:         DefaultRetryDelay,
		MaxDelay:          DefaultRetryMaxDelay,
		Multiplier:        DefaultBackoffMultiplier,
	}
}

// NoRetry returns a policy that never retries.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// Delay returns the backoff before retry number n (starting at 1).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = DefaultBackoffMultiplier
	}
	delay := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		delay *= mult
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// retryBudget tracks the two retry counters of one call.
type retryBudget struct {
	policy  RetryPolicy
	generic int
	offline int
}

func newRetryBudget(p RetryPolicy) *retryBudget {
	return &retryBudget{policy: p}
}

func (b *retryBudget) attempts() int {
	return b.generic + b.offline
}

// next consumes one retry for err and returns the delay to wait, or false
// when the matching budget is exhausted.
func (b *retryBudget) next(err error) (time.Duration, bool) {
	if IsOffline(err) {
		b.offline++
		if b.policy.MaxOfflineRetries >= 0 && b.offline > b.policy.MaxOfflineRetries {
			return 0, false
		}
		return b.policy.Delay(b.offline), true
	}
	b.generic++
	if b.generic > b.policy.MaxRetries {
		return 0, false
	}
	return b.policy.Delay(b.generic), true
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// TimeoutError is returned when a single attempt exceeded the client timeout.
type TimeoutError struct {
	URL   string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.URL, e.After)
}

// Timeout implements net.Error style timeout detection.
func (e *TimeoutError) Timeout() bool { return true }

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrResponseTooLarge) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode >= 500,
			se.StatusCode == http.StatusNotFound,
			se.StatusCode == http.StatusRequestTimeout,
			se.StatusCode == http.StatusPreconditionFailed,
			se.StatusCode == http.StatusTooManyRequests:
			return true
		default:
			return false
		}
	}
	return true
}

// IsOffline reports whether err is a connectivity failure (DNS, refused or
// unreachable network) rather than a server-side one.
func IsOffline(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

// IsTimeout reports whether err is an attempt timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
