// Package retry implements a small, explicit retry state machine with
// jittered exponential backoff. Modeling attempts as state (attempt count,
// next delay, terminal flag) keeps callers unit-testable without network
// mocking.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"
)

// Policy describes the retry budget shared by publish, fetch, and storage
// transaction paths.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default builds a policy with sane defaults.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// State tracks one retryable operation through its attempts.
type State struct {
	policy  Policy
	attempt int
}

// Start begins a new attempt sequence under this policy.
func (p Policy) Start() *State {
	return &State{policy: p}
}

// Attempt returns the number of attempts made so far.
func (s *State) Attempt() int {
	return s.attempt
}

// Next records an attempt outcome and reports whether the caller should retry
// and, if so, after what delay. A nil error, an exhausted budget, or a
// non-retryable error all terminate the sequence.
func (s *State) Next(err error) (time.Duration, bool) {
	s.attempt++
	if err == nil {
		return 0, false
	}
	if s.attempt >= s.policy.MaxAttempts {
		return 0, false
	}
	if !Retryable(err) {
		return 0, false
	}
	return s.backoff(s.attempt), true
}

// Retryable reports whether the error is worth another attempt. Context
// cancellation is terminal; network errors are retried only on timeout.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

func (s *State) backoff(attempt int) time.Duration {
	base := s.policy.BaseDelay
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	maxDelay := s.policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

// Sleep waits for the given delay or until the context ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
