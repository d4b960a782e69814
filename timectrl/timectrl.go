// Package timectrl provides the clock abstraction used for freshness checks,
// retry backoff, debouncing and other delayed work, so that time-driven
// behaviour can be driven deterministically in tests.
package timectrl

import "time"

// Timer is a pending call scheduled with AfterFunc.
type Timer interface {
	// Stop prevents the call from firing. It returns false if the call has
	// already fired or been stopped.
	Stop() bool
}

// Clock is the source of time and timers.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real clock) or from Advance
	// (manual clock) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// UnixMilli returns the clock's current time in Unix milliseconds.
func UnixMilli(c Clock) int64 {
	return c.Now().UnixMilli()
}

// OrReal returns c, or the wall clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}
