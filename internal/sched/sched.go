// Package sched defines cancellable scheduled tasks. Callers keep the
// returned Task and stop it when the work it guards is superseded.
package sched

import "time"

// Task is a pending callback.
type Task interface {
	// Stop cancels the callback. It reports false if the callback already
	// ran or was stopped before.
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Task
}

// Func adapts a function to Scheduler.
type Func func(d time.Duration, f func()) Task

func (fn Func) AfterFunc(d time.Duration, f func()) Task {
	return fn(d, f)
}
