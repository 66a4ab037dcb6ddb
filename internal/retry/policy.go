// Package retry runs reconnecting sessions under an injected policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrAttemptsExhausted is returned when a bounded policy gives up
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Backoff returns the delay before the given attempt (1-based)
type Backoff func(attempt int) time.Duration

// Fixed waits the same delay before every attempt
func Fixed(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Linear waits attempt*step, capped at max
func Linear(step, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := time.Duration(attempt) * step
		if d > max {
			return max
		}
		return d
	}
}

// Dial establishes a session. On success it returns a serve function that
// runs the session until it ends.
type Dial func(ctx context.Context) (serve func(ctx context.Context) error, err error)

// Policy controls how a session is re-established.
// The attempt counter resets after every successful dial.
type Policy struct {
	// MaxAttempts bounds consecutive failures; 0 means unbounded
	MaxAttempts int
	Backoff     Backoff
	// Sleep waits between attempts; nil uses a context-aware timer
	Sleep func(ctx context.Context, d time.Duration) error
	// Notify is called before each wait
	Notify func(attempt int, delay time.Duration, err error)
}

// Permanent marks an error that must stop the retry loop
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

var errSessionEnded = errors.New("session ended")

// Run dials and serves sessions until ctx is cancelled, a permanent error
// occurs, or a bounded policy runs out of attempts
func (p Policy) Run(ctx context.Context, dial Dial) error {
	seq := &sequence{delay: p.Backoff}
	var b backoff.BackOff = seq
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
	}
	bctx := backoff.WithContext(b, ctx)

	permanent := false
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		serve, err := dial(ctx)
		if err == nil {
			// A live session starts a fresh run of attempts
			bctx.Reset()
			if err = serve(ctx); err == nil {
				err = errSessionEnded
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}

		var perm *backoff.PermanentError
		permanent = errors.As(err, &perm)
		return err
	}

	notify := func(err error, delay time.Duration) {
		if p.Notify != nil {
			p.Notify(seq.attempt, delay, err)
		}
	}

	var timer backoff.Timer
	if p.Sleep != nil {
		timer = &sleepTimer{ctx: ctx, sleep: p.Sleep}
	}

	err := backoff.RetryNotifyWithTimer(operation, bctx, notify, timer)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err == nil || permanent {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, p.MaxAttempts, err)
}

// sequence adapts a Backoff func to backoff.BackOff
type sequence struct {
	delay   Backoff
	attempt int
}

func (s *sequence) NextBackOff() time.Duration {
	s.attempt++
	if s.delay == nil {
		return 0
	}
	return s.delay(s.attempt)
}

func (s *sequence) Reset() { s.attempt = 0 }

// sleepTimer drives backoff through an injected Sleep
type sleepTimer struct {
	ctx   context.Context
	sleep func(ctx context.Context, d time.Duration) error
	fired chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	t.fired = make(chan time.Time, 1)
	// On error ctx is done and the retry loop exits on its own
	_ = t.sleep(t.ctx, d)
	t.fired <- time.Now()
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time { return t.fired }

// NoSleep returns immediately; useful to run a policy synchronously in tests
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
