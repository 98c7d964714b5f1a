// Package retry implements RetryTimer: a monotonic-time-driven
// exponential-backoff timer polled from the scheduler's loop
// (internal/scheduler). It never sleeps — Start records a deadline and
// the owning process checks Expired each time the loop runs it.
//
// The backoff/ceiling shape (double on failure up to a ceiling) is the
// usual cache-full retry pattern: retries are driven by wall-clock
// expiry rather than a tight loop, and stop after a bounded number of
// expiries at the ceiling.
package retry

import "time"

// DefaultInitialDelay is the first retransmit interval (TFTP, TCP and
// SUN-RPC start their timers with it).
const DefaultInitialDelay = 200 * time.Millisecond

// DefaultMaxDelay is the backoff ceiling; once reached, the interval stops
// doubling and the timer fires at this fixed cadence until MaxAttempts is
// exceeded.
const DefaultMaxDelay = 4 * time.Second

// DefaultMaxAttempts is the number of consecutive expiries tolerated at
// the ceiling delay before the caller should treat the operation as
// errcode.TimedOut.
const DefaultMaxAttempts = 5

// Clock abstracts monotonic time for testability.
type Clock func() time.Time

// Timer is a single RetryTimer instance. It is not safe for concurrent
// use — like every component in this firmware it is driven exclusively
// from the single-threaded poll loop.
type Timer struct {
	clock       Clock
	initial     time.Duration
	ceiling     time.Duration
	maxAttempts int

	running   bool
	deadline  time.Time
	current   time.Duration
	attempts  int
	atCeiling int
}

// New creates a Timer using the given clock (time.Now in production,
// a fake clock in tests) and backoff parameters.
func New(clock Clock, initial, ceiling time.Duration, maxAttempts int) *Timer {
	if clock == nil {
		clock = time.Now
	}
	return &Timer{clock: clock, initial: initial, ceiling: ceiling, maxAttempts: maxAttempts}
}

// NewDefault creates a Timer with the package default backoff shape.
func NewDefault(clock Clock) *Timer {
	return New(clock, DefaultInitialDelay, DefaultMaxDelay, DefaultMaxAttempts)
}

// Start (re)arms the timer for delta from now, resetting the backoff
// sequence. Used when the timer is first armed for a new operation.
func (t *Timer) Start(delta time.Duration) {
	t.running = true
	t.current = delta
	t.attempts = 0
	t.atCeiling = 0
	t.deadline = t.clock().Add(delta)
}

// Stop cancels the timer; no further Expired() calls will report true.
func (t *Timer) Stop() {
	t.running = false
}

// Running reports whether the timer is currently armed.
func (t *Timer) Running() bool { return t.running }

// Expired reports whether the deadline has passed. It does NOT advance
// the backoff sequence — call Backoff() once the caller decides to
// retransmit.
func (t *Timer) Expired() bool {
	return t.running && !t.clock().Before(t.deadline)
}

// Backoff doubles the interval (clamped to the ceiling), re-arms the
// deadline, and increments the attempt counter. Returns false once
// maxAttempts consecutive expiries at the ceiling have been consumed,
// signaling the caller should fail with errcode.TimedOut.
func (t *Timer) Backoff() bool {
	t.attempts++
	if t.current >= t.ceiling {
		t.current = t.ceiling
		t.atCeiling++
		if t.atCeiling > t.maxAttempts {
			t.running = false
			return false
		}
	} else {
		t.current *= 2
		if t.current > t.ceiling {
			t.current = t.ceiling
		}
	}
	t.deadline = t.clock().Add(t.current)
	return true
}

// Attempts returns the number of Backoff calls since the last Start.
func (t *Timer) Attempts() int { return t.attempts }

// Deadline returns the current expiry time.
func (t *Timer) Deadline() time.Time { return t.deadline }
