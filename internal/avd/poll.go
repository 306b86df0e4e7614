// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"errors"
	"time"
)

// Clock is the time source of the polling loops.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

var errPollDeadline = errors.New("poll deadline exceeded")

// Poll evaluates cond until it reports true, returns an error, or the absolute
// deadline now+timeout passes. cond always runs at least once. On expiry the
// returned error is errPollDeadline.
func Poll(clock Clock, interval, timeout time.Duration, cond func() (bool, error)) error {
	if clock == nil {
		clock = SystemClock{}
	}
	deadline := clock.Now().Add(timeout)
	for {
		done, err := cond()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		remaining := deadline.Sub(clock.Now())
		if remaining <= 0 {
			return errPollDeadline
		}
		clock.Sleep(min(interval, remaining))
	}
}
