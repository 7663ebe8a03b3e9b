// Package retry holds the two retry strategies used by the bot: computed
// exponential backoff for calls to the generation backend and server-dictated
// flood waits for message delivery.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 10 * time.Second
)

// Policy runs an operation under a retry strategy.
type Policy interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Value runs op under p and returns its result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// StatusError is a non-2xx reply from a remote HTTP service. It carries the
// code only; response bodies are never kept.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote responded with status %d", e.Code)
}

// IsTransient reports whether err is a connection timeout, a refused
// connection, a network timeout or a 5xx reply.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 && statusErr.Code <= 599
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// Backoff retries transient failures with delay min(Base*2^attempt, Cap).
type Backoff struct {
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
	Retryable  func(error) bool
	// Sleep replaces the library timer when set.
	Sleep   SleepFunc
	OnRetry func(attempt int, delay time.Duration, err error)
	Logger  *logrus.Logger
}

// NewBackoff returns a Backoff with the default delays.
func NewBackoff(maxRetries int, logger *logrus.Logger) *Backoff {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Backoff{
		MaxRetries: maxRetries,
		Base:       DefaultBaseDelay,
		Cap:        DefaultMaxDelay,
		Retryable:  IsTransient,
		Logger:     logger,
	}
}

// schedule returns a jitter-free exponential schedule starting at Base and
// capped at Cap.
func (b *Backoff) schedule() *backoff.ExponentialBackOff {
	base, limit := b.Base, b.Cap
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if limit <= 0 {
		limit = DefaultMaxDelay
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = base
	expo.RandomizationFactor = 0
	expo.Multiplier = 2
	expo.MaxInterval = limit
	expo.MaxElapsedTime = 0
	expo.Reset()
	return expo
}

// Delay returns the wait before retry number attempt (zero-indexed).
func (b *Backoff) Delay(attempt int) time.Duration {
	expo := b.schedule()
	d := expo.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = expo.NextBackOff()
	}
	return d
}

// Do implements Policy
func (b *Backoff) Do(ctx context.Context, op func(ctx context.Context) error) error {
	retryable := b.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	permanent := false
	operation := func() error {
		err := op(ctx)
		if err != nil && !retryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	attempt := 0
	notify := func(err error, delay time.Duration) {
		if b.Logger != nil {
			b.Logger.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"delay":   delay.String(),
				"error":   err.Error(),
			}).Warn("Transient failure, retrying")
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, delay, err)
		}
		attempt++
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b.schedule(), uint64(b.MaxRetries)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, policy, notify, newTimer(ctx, b.Sleep))
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("retry interrupted: %w", err)
	default:
		return fmt.Errorf("all retry attempts failed: %w", err)
	}
}

// newTimer returns nil, selecting the library timer, unless sleep is set.
func newTimer(ctx context.Context, sleep SleepFunc) backoff.Timer {
	if sleep == nil {
		return nil
	}
	return &sleepTimer{ctx: ctx, sleep: sleep}
}

// sleepTimer runs a SleepFunc synchronously in Start. It fires only when the
// sleep completes; a failed sleep means ctx is done and the retry loop exits.
type sleepTimer struct {
	ctx   context.Context
	sleep SleepFunc
	c     chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	t.c = make(chan time.Time, 1)
	if err := t.sleep(t.ctx, d); err == nil {
		t.c <- time.Now()
	}
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time { return t.c }
