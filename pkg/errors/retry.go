package errors

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// RetryConfig controls how often and how patiently Retry calls an operation.
type RetryConfig struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         bool
	RetryableError func(error) bool
	// OnRetry is called before sleeping between attempts
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig retries transient warehouse failures three times.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		RetryableError: isTransient,
	}
}

func isTransient(err error) bool {
	if IsRecoverable(err) {
		return true
	}
	code := GetErrorCode(err)
	return code == ErrCodeNetworkUnavailable || code == ErrCodeQueryTimeout
}

// RetryableFunc is one attempt of a retried operation.
type RetryableFunc func(ctx context.Context) error

// Retry calls fn until it succeeds, returns a non-retryable error, or MaxRetries
// extra attempts are spent. Exhaustion is reported as ErrCodeResourceExhausted.
func Retry(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	retryable := config.RetryableError
	if retryable == nil {
		retryable = isTransient
	}

	attempt := 0
	for {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case !retryable(err):
			return err
		case attempt == config.MaxRetries:
			return Wrap(err, ErrCodeResourceExhausted,
				fmt.Sprintf("Operation failed after %d attempts", attempt+1)).
				WithSeverity(SeverityError)
		}

		wait := config.delay(attempt)
		attempt++
		if config.OnRetry != nil {
			config.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// delay is InitialDelay*Multiplier^attempt capped at MaxDelay, plus up to 30% jitter.
func (c *RetryConfig) delay(attempt int) time.Duration {
	d := math.Min(float64(c.InitialDelay)*math.Pow(c.Multiplier, float64(attempt)), float64(c.MaxDelay))
	if c.Jitter {
		var b [8]byte
		_, _ = cryptorand.Read(b[:])
		d += d * 0.3 * float64(binary.LittleEndian.Uint64(b[:])) / float64(math.MaxUint64)
	}
	return time.Duration(d)
}
