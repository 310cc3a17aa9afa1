package storage

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dbvault/internal/logger"
)

// RetryConfig configures transfer retry behavior
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the defaults for artifact transfers
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
		Multiplier:      2.0,
	}
}

// QuickRetryConfig returns config for probes that should fail fast
func QuickRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      2,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
		Multiplier:      2.0,
	}
}

// WithRetries overrides the attempt budget, keeping the other knobs
func (c *RetryConfig) WithRetries(n int) *RetryConfig {
	out := *c
	out.MaxRetries = n
	return &out
}

// retryOperation runs op with exponential backoff. Errors matching the
// permanent patterns abort immediately; everything else retries until
// the budget runs out. Each retry is logged through log.
func retryOperation(ctx context.Context, cfg *RetryConfig, log logger.Logger, name string, op func() error) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cfg.InitialInterval
	expBackoff.MaxInterval = cfg.MaxInterval
	expBackoff.MaxElapsedTime = cfg.MaxElapsedTime
	expBackoff.Multiplier = cfg.Multiplier
	expBackoff.Reset()

	var b backoff.BackOff = expBackoff
	if cfg.MaxRetries > 0 {
		b = backoff.WithMaxRetries(expBackoff, uint64(cfg.MaxRetries))
	}
	b = backoff.WithContext(b, ctx)

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isPermanentError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		log.Warn("transfer attempt failed, retrying",
			"operation", name, "retry_in", next, "error", err)
	}

	return backoff.RetryNotify(wrapped, b, notify)
}

// isPermanentError reports whether retrying cannot help. Auth failures
// and missing objects stay missing no matter how often we ask.
func isPermanentError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	permanentPatterns := []string{
		"access denied",
		"forbidden",
		"unauthorized",
		"invalid credentials",
		"invalid access key",
		"invalid secret",
		"no such bucket",
		"nosuchbucket",
		"nosuchkey",
		"not found",
		"no such file",
		"does not exist",
		"invalid argument",
		"malformed",
		"permission denied",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// isRetryableError reports whether an error looks transient
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	for e := err; e != nil; {
		if ne, ok := e.(net.Error); ok {
			netErr = ne
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if netErr != nil {
		return netErr.Timeout()
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"connection reset",
		"connection refused",
		"connection closed",
		"broken pipe",
		"temporary failure",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"too many requests",
		"rate limit",
		"throttl",
		"slowdown",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
