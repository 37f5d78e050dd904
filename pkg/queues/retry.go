package queues

import (
	"math"
	"time"
)

// RetryPolicy controls how long a failed job waits before it is handed out
// again. The attempt limit lives on QueueConfig.
type RetryPolicy struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
}

// DefaultRetryPolicy waits 5s, doubling up to five minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     5 * time.Minute,
		BackoffFactor:  2.0,
	}
}

// CalculateBackoff returns InitialBackoff * BackoffFactor^retryCount, capped
// at MaxBackoff. A zero policy behaves like DefaultRetryPolicy.
func (p RetryPolicy) CalculateBackoff(retryCount int) time.Duration {
	if p.InitialBackoff <= 0 {
		p = DefaultRetryPolicy()
	}
	if retryCount < 0 {
		retryCount = 0
	}
	wait := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(retryCount))
	if p.MaxBackoff > 0 && wait > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(wait)
}

// RetryDecision is the outcome of DecideRetry.
type RetryDecision struct {
	ShouldRetry     bool
	BackoffDuration time.Duration
	Reason          string
}

// DecideRetry decides what happens to a job that just failed for the
// attempt-th time. Permanent failures and exhausted jobs go to the dead
// letter list.
func (p RetryPolicy) DecideRetry(err error, attempt, maxRetries int) RetryDecision {
	if attempt >= maxRetries {
		return RetryDecision{Reason: "max retries exceeded"}
	}
	if pe := Categorize(err); pe != nil && !pe.IsRetryable() {
		return RetryDecision{Reason: "permanent error: " + pe.Code}
	}
	return RetryDecision{
		ShouldRetry:     true,
		BackoffDuration: p.CalculateBackoff(attempt - 1),
		Reason:          "retryable error",
	}
}
