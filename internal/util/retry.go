package util

import (
	"context"
	"time"
)

// Backoff describes an exponential retry schedule.
type Backoff struct {
	Base time.Duration
	Max  time.Duration // 0 means no cap
}

// Next returns the delay after d, doubling up to Max.
func (b Backoff) Next(d time.Duration) time.Duration {
	if d <= 0 {
		return b.Base
	}
	d *= 2
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Retry calls fn up to maxAttempts times with exponential backoff. A
// maxAttempts of zero or less retries until ctx is cancelled. It returns nil
// on the first successful call, ctx.Err() if cancelled while waiting, or the
// last error once attempts are exhausted.
// fn receives the attempt number starting at 0.
func Retry(ctx context.Context, maxAttempts int, b Backoff, fn func(attempt int) error) error {
	var err error
	var delay time.Duration

	for attempt := 0; maxAttempts <= 0 || attempt < maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Don't sleep after the last failed attempt.
		if maxAttempts > 0 && attempt == maxAttempts-1 {
			break
		}
		delay = b.Next(delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return err
}

// Await runs fn in its own goroutine and returns its result, or ctx.Err() as
// soon as ctx is done. fn may ignore ctx; a result that arrives after ctx is
// done is dropped.
func Await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
