package client

import "time"

// Scheduler abstracts timer creation so the display cycle can be tested
// without wall-clock waits. Each state transition schedules exactly one
// timer.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NewScheduler returns the wall-clock scheduler.
func NewScheduler() Scheduler { return realScheduler{} }
