package http

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	nethttp "net/http"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/nasdesk/nasdesk/internal/constants"
	"github.com/nasdesk/nasdesk/internal/logging"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeNetwork indicates the NAS could not be reached (refused, reset, timeout, DNS)
	ErrorTypeNetwork
	// ErrorTypeCancelled indicates the caller's context ended the request
	ErrorTypeCancelled
	// ErrorTypeFatal indicates anything else
	ErrorTypeFatal
)

// ClassifyError determines whether err means the NAS was unreachable.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}

	if errors.Is(err, context.Canceled) {
		return ErrorTypeCancelled
	}

	var netErr net.Error
	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.As(err, &netErr):
		return ErrorTypeNetwork
	}

	// Wrapped errors from proxies and TLS stacks sometimes only carry text
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "tls handshake timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "timeout") {
		return ErrorTypeNetwork
	}

	return ErrorTypeFatal
}

// ErrorTypeName returns a human-readable name for an ErrorType
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeCancelled:
		return "cancelled"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CalculateBackoff returns exponential backoff duration with full jitter
//
// Formula: random(0, min(maxDelay, initialDelay * 2^attempt))
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}

	base := time.Duration(1<<uint(attempt)) * initialDelay
	if base > maxDelay || base <= 0 {
		base = maxDelay
	}

	return time.Duration(rand.Int63n(int64(base)))
}

// IsServerBusy reports whether a status code means "try again shortly".
func IsServerBusy(status int) bool {
	switch status {
	case nethttp.StatusTooManyRequests,
		nethttp.StatusBadGateway,
		nethttp.StatusServiceUnavailable,
		nethttp.StatusGatewayTimeout:
		return true
	}
	return false
}

// CheckServerBusy is a retryablehttp.CheckRetry policy that retries only
// server-busy responses. Transport errors are returned to the caller
// untouched so they surface as network failures.
func CheckServerBusy(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return false, nil
	}
	return IsServerBusy(resp.StatusCode), nil
}

// busyBackoff honors Retry-After and otherwise uses full-jitter backoff.
func busyBackoff(min, max time.Duration, attemptNum int, resp *nethttp.Response) time.Duration {
	if resp != nil && resp.Header.Get("Retry-After") != "" {
		return retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	}
	return CalculateBackoff(attemptNum+1, min, max)
}

// RetryPolicy bounds retries of server-busy responses.
type RetryPolicy struct {
	MaxRetries int
	WaitMin    time.Duration
	WaitMax    time.Duration
}

// DefaultRetryPolicy returns the policy used for API calls.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		WaitMin:    constants.RetryInitialDelay,
		WaitMax:    constants.RetryMaxDelay,
	}
}

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// NewRetryingClient wraps base so server-busy responses are retried under
// policy. The final response is returned as-is once retries are exhausted,
// so callers still see the HTTP status. Request bodies must be rewindable;
// use base directly for streamed uploads.
func NewRetryingClient(base *nethttp.Client, policy RetryPolicy, logger *logging.Logger) *nethttp.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = base
	retryClient.RetryMax = policy.MaxRetries
	retryClient.RetryWaitMin = policy.WaitMin
	retryClient.RetryWaitMax = policy.WaitMax
	retryClient.CheckRetry = CheckServerBusy
	retryClient.Backoff = busyBackoff
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = retryLogger{logger: logging.OrNop(logger)}

	// Cookies are applied by base; the wrapper must not carry a jar too
	return retryClient.StandardClient()
}
