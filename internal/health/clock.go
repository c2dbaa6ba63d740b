package health

import (
	"context"
	"time"
)

// Clock abstracts wall-clock time so the poll loop can run against virtual time in tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real-time Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deadline is a fixed point in time computed once when a poll session starts.
type Deadline struct {
	clock Clock
	at    time.Time
}

// NewDeadline returns a deadline timeout from the clock's current time.
func NewDeadline(clock Clock, timeout time.Duration) Deadline {
	return Deadline{clock: clock, at: clock.Now().Add(timeout)}
}

// Expired reports whether the deadline has been reached.
func (d Deadline) Expired() bool {
	return !d.clock.Now().Before(d.at)
}

// Remaining returns the time left before expiry, never negative.
func (d Deadline) Remaining() time.Duration {
	r := d.at.Sub(d.clock.Now())
	if r < 0 {
		return 0
	}
	return r
}
