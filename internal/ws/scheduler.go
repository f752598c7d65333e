package ws

import (
	"time"

	"veche/internal/sched"
)

// loopTask is a timer whose callback runs on the hub loop. stopped and
// fired are only touched on the loop goroutine, so a timer that already
// fired but was stopped before its closure ran never acts.
type loopTask struct {
	timer   *time.Timer
	stopped bool
	fired   bool
}

func (t *loopTask) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}

func (h *Hub) afterFunc(d time.Duration, f func()) sched.Task {
	t := &loopTask{}
	t.timer = time.AfterFunc(d, func() {
		h.post(func() {
			if t.stopped {
				return
			}
			t.fired = true
			f()
		})
	})
	return t
}

// post queues op for the loop without waiting for it. Ops posted after
// the loop exits are dropped.
func (h *Hub) post(op func()) {
	select {
	case h.ops <- op:
	case <-h.done:
	}
}
