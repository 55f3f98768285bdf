package recovery

import (
	"math"
	"math/rand"
	"time"

	"github.com/audiohub/audiohub-go/internal/conf"
)

// RetryConfig holds the backoff shape applied between step attempts.
type RetryConfig struct {
	MaxAttempts  int           // attempt ceiling per step, including the first try
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on the exponential portion
	Multiplier   float64       // growth factor per attempt
	Jitter       time.Duration // uniform random addition to spread retries
}

// DefaultRetryConfig matches the shipped configuration defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       time.Second,
	}
}

// RetryConfigFromSettings builds the backoff shape from loaded settings.
func RetryConfigFromSettings(settings *conf.Settings) RetryConfig {
	initial, maxDelay, jitter := settings.RetryDelays()
	return RetryConfig{
		MaxAttempts:  settings.Orchestrator.MaxAttempts,
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   settings.Retry.Multiplier,
		Jitter:       jitter,
	}
}

// Backoff calculates the delay before retry number attempt, counted from
// zero. The exponential portion is capped at MaxDelay before the jitter
// is added.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// Calculate exponential backoff
	backoff := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))

	// Cap at max delay
	if backoff > float64(c.MaxDelay) {
		backoff = float64(c.MaxDelay)
	}

	delay := time.Duration(backoff)
	if c.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(c.Jitter)))
	}
	return delay
}

// ShouldRetry reports whether another attempt is allowed after a failure
// on the given attempt number, counted from zero. Only retryable kinds
// qualify, and the total number of tries never exceeds MaxAttempts.
func (c RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt+1 >= c.MaxAttempts {
		return false
	}
	return Classify(err).Retryable()
}
