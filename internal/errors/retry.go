package errors

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of retry attempts (default: 3)
	BaseDelay    time.Duration // Base delay for exponential backoff (default: 1s)
	MaxDelay     time.Duration // Maximum delay between retries (default: 30s)
	JitterFactor float64       // Jitter factor for randomization (default: 0.25 = ±25%)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// Retry executes fn with exponential backoff until it succeeds, returns a
// non-retryable kind, or the attempt budget runs out.
func Retry(ctx context.Context, config RetryConfig, logger logging.Logger, fn RetryableFunc) error {
	logger = logging.OrNop(logger)

	var lastErr error
	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Wrap(KindInternal, ctx.Err(), "retry cancelled")
		default:
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded after %d attempts", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			logger.Warn("max retries (%d) exhausted: %v", config.MaxAttempts+1, err)
			break
		}

		delay := backoff(attempt, config)
		logger.Debug("attempt %d failed (%v), waiting %v", attempt+1, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Wrap(KindInternal, ctx.Err(), "retry cancelled during backoff")
		}
	}
	return lastErr
}

// retryable: transport-level kinds are worth another attempt; state and
// request errors are not.
func retryable(err error) bool {
	switch KindOf(err) {
	case KindBusPublish, KindAgentRPC, KindValidationRPC, KindInternal:
		return true
	default:
		return false
	}
}

func backoff(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(2, float64(attempt))
	if max := float64(config.MaxDelay); delay > max {
		delay = max
	}
	if config.JitterFactor > 0 {
		jitter := delay * config.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
