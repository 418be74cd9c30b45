// Package clock abstracts the time source so governance components can be
// tested deterministically.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Deferrer schedules a callback after a delay. Clocks that also implement it
// let tests fire deferred work by advancing fake time.
type Deferrer interface {
	AfterFunc(d time.Duration, f func())
}

// System implements Clock and Deferrer using the time package.
type System struct{}

// NewSystem creates a new System clock.
func NewSystem() *System {
	return &System{}
}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc runs f on its own goroutine after d elapses.
func (System) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}
