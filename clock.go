package notify

import "time"

// Clock schedules the watchdog and flood release timers.
// Tests substitute a manual implementation.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop reports whether the call stopped the timer before it fired.
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
