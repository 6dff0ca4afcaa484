package eventq

import (
	"fmt"
	"time"
)

// Recurring is a task that reschedules itself after every firing. It is the
// explicit replacement for framework timers: Stop cancels the pending firing
// and no further firings happen.
type Recurring struct {
	sched  Scheduler
	period time.Duration
	fn     func(now time.Duration)

	next    *Handle
	fired   int
	stopped bool
}

// Every schedules fn to run first after start and then every period.
func Every(sched Scheduler, start, period time.Duration, fn func(now time.Duration)) (*Recurring, error) {
	if sched == nil {
		return nil, fmt.Errorf("%w: nil scheduler", ErrInvalidSchedule)
	}
	if period <= 0 {
		return nil, fmt.Errorf("%w: non-positive period %v", ErrInvalidSchedule, period)
	}
	r := &Recurring{sched: sched, period: period, fn: fn}
	h, err := sched.Schedule(start, r.run)
	if err != nil {
		return nil, err
	}
	r.next = h
	return r, nil
}

func (r *Recurring) run() {
	if r.stopped {
		return
	}
	r.fired++
	if r.fn != nil {
		r.fn(r.sched.Now())
	}
	if r.stopped {
		return
	}
	next, err := r.sched.Schedule(r.period, r.run)
	if err != nil {
		// The next firing would lie past MaxTime.
		r.stopped = true
		r.next = nil
		return
	}
	r.next = next
}

// Fired returns how many times the task has run.
func (r *Recurring) Fired() int {
	return r.fired
}

// Stop tears the task down. Calling it from inside fn is allowed.
func (r *Recurring) Stop() {
	if r == nil || r.stopped {
		return
	}
	r.stopped = true
	r.sched.Cancel(r.next)
}
