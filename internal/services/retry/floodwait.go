package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const DefaultFloodMaxWait = 300 * time.Second

// ErrWaitTooLong is returned when the transport asks for a longer pause than
// the configured maximum.
var ErrWaitTooLong = errors.New("required flood wait exceeds maximum")

// FloodWaiter is implemented by transport errors that dictate a wait.
type FloodWaiter interface {
	error
	RetryAfter() time.Duration
}

// FloodWaitError is a generic transport rate-limit signal.
type FloodWaitError struct {
	Wait time.Duration
	Err  error
}

func (e *FloodWaitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flood wait %s: %v", e.Wait, e.Err)
	}
	return fmt.Sprintf("flood wait %s", e.Wait)
}

func (e *FloodWaitError) Unwrap() error { return e.Err }

// RetryAfter implements FloodWaiter
func (e *FloodWaitError) RetryAfter() time.Duration { return e.Wait }

// FloodWait sleeps exactly the wait the transport asked for, then retries.
// Any error without a dictated wait is returned as is.
type FloodWait struct {
	MaxRetries int
	MaxWait    time.Duration
	// Sleep replaces the library timer when set.
	Sleep   SleepFunc
	OnRetry func(attempt int, wait time.Duration)
	Logger  *logrus.Logger
}

// NewFloodWait returns a FloodWait policy; non-positive values select the
// defaults.
func NewFloodWait(maxRetries int, maxWait time.Duration, logger *logrus.Logger) *FloodWait {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if maxWait <= 0 {
		maxWait = DefaultFloodMaxWait
	}
	return &FloodWait{
		MaxRetries: maxRetries,
		MaxWait:    maxWait,
		Logger:     logger,
	}
}

// dictatedWait is a backoff.BackOff that repeats the last server-dictated
// wait.
type dictatedWait struct {
	next time.Duration
}

func (d *dictatedWait) NextBackOff() time.Duration { return d.next }

func (d *dictatedWait) Reset() { d.next = 0 }

// Do implements Policy
func (f *FloodWait) Do(ctx context.Context, op func(ctx context.Context) error) error {
	wait := &dictatedWait{}
	calls := 0
	permanent := false

	operation := func() error {
		calls++
		err := op(ctx)
		if err == nil {
			return nil
		}

		var fw FloodWaiter
		if !errors.As(err, &fw) {
			permanent = true
			return backoff.Permanent(err)
		}
		if d := fw.RetryAfter(); d > f.MaxWait {
			permanent = true
			return backoff.Permanent(fmt.Errorf("%w: %s > %s: %v", ErrWaitTooLong, d, f.MaxWait, err))
		}
		wait.next = fw.RetryAfter()
		return err
	}

	notify := func(err error, d time.Duration) {
		if f.Logger != nil {
			f.Logger.WithFields(logrus.Fields{
				"attempt": calls,
				"wait":    d.String(),
			}).Warn("Flood control triggered, waiting")
		}
		if f.OnRetry != nil {
			f.OnRetry(calls-1, d)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(wait, uint64(f.MaxRetries)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, policy, notify, newTimer(ctx, f.Sleep))
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("flood wait interrupted: %w", err)
	default:
		return fmt.Errorf("flood wait retries exhausted after %d attempts: %w", calls, err)
	}
}
