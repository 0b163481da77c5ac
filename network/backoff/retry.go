// Package backoff turns repeated failures into randomized exponential delays.
package backoff

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrGaveUp is returned once MaxAttempts tries have failed.
var ErrGaveUp = errors.New("backoff: gave up")

// Config holds the backoff parameters.
//
// Report, if non-nil, sees every failure. It may return a non-nil error to
// abort the loop when waiting will not help.
// MinWait is the first delay; zero means 10ms.
// MaxWait caps a single delay; zero means no cap.
// MaxAttempts bounds the number of tries; zero means try until ctx ends.
type Config struct {
	Report      func(attempt int, err error) error
	MinWait     time.Duration
	MaxWait     time.Duration
	MaxAttempts int
}

// Retry calls try until it succeeds, ctx is cancelled or the attempts run out.
// The last error from try is wrapped into the ErrGaveUp error.
func (c Config) Retry(ctx context.Context, try func() error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	wait := c.MinWait
	if wait <= 0 {
		wait = 10 * time.Millisecond
	}

	for attempt := 1; ; attempt++ {
		err := try()
		if err == nil {
			return nil
		}
		if c.Report != nil {
			if rerr := c.Report(attempt, err); rerr != nil {
				return rerr
			}
		}
		if c.MaxAttempts > 0 && attempt >= c.MaxAttempts {
			return errors.Join(ErrGaveUp, err)
		}

		d := wait + time.Duration(rand.Int63n(int64(wait)))
		if c.MaxWait > 0 && d > c.MaxWait {
			d = c.MaxWait
		}
		wait *= 2
		if c.MaxWait > 0 && wait > c.MaxWait {
			wait = c.MaxWait
		}

		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}
