// Package recovery decides how long a failing loop waits before trying again.
package recovery

import (
	"context"
	"errors"
	"math"
	"time"
)

// FailureCategory classifies an error for retry purposes.
type FailureCategory int

const (
	// CategoryTransient errors are retried with backoff.
	CategoryTransient FailureCategory = iota
	// CategoryPermanent errors stop the loop.
	CategoryPermanent
)

// Classifier maps an error to a category.
type Classifier func(err error) FailureCategory

// DefaultClassifier treats cancellation as permanent and everything else as transient.
func DefaultClassifier(err error) FailureCategory {
	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}
	return CategoryTransient
}

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay for the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if we should retry based on the error and attempt count.
	ShouldRetry(err error, attempt int) bool
}

// ExponentialBackoff implements a standard backoff strategy.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int // 0 = unlimited
	Classifier   Classifier
}

// DefaultBackoff returns sensible defaults for polling a chain node.
// 1s, 2s, 4s, 8s, 16s, 32s (Max 60s)
func DefaultBackoff(classifier Classifier) *ExponentialBackoff {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return &ExponentialBackoff{
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Classifier:   classifier,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if error is transient and max attempts not exceeded.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if s.MaxAttempts > 0 && attempt >= s.MaxAttempts {
		return false
	}
	classify := s.Classifier
	if classify == nil {
		classify = DefaultClassifier
	}
	return classify(err) == CategoryTransient
}
