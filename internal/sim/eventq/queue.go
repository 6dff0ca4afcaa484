package eventq

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/wifi-roaming-sim/timectrl"
)

// ErrInvalidSchedule is returned when an event is scheduled before the
// current virtual time (a negative delay) or with an unusable period.
var ErrInvalidSchedule = errors.New("invalid schedule")

// MaxTime is the latest virtual time an event can be scheduled at.
const MaxTime = time.Duration(math.MaxInt64)

// Action is the work carried by an event. It runs synchronously on the
// event loop; follow-up work is expressed by scheduling further events.
type Action func()

// Scheduler is the subset of Queue that simulation components schedule on.
type Scheduler interface {
	timectrl.SimClock

	// Schedule registers action to run delay after Now().
	Schedule(delay time.Duration, action Action) (*Handle, error)

	// ScheduleAt registers action to run at absolute virtual time at.
	ScheduleAt(at time.Duration, action Action) (*Handle, error)

	// Cancel invalidates a pending event. It is a no-op for nil, fired or
	// already cancelled handles.
	Cancel(h *Handle)
}

// Pacer holds the loop back before an event fires, e.g. to run in real time.
type Pacer interface {
	Wait(ctx context.Context, at time.Duration) error
}

// Handle identifies a scheduled event.
type Handle struct {
	at     time.Duration
	seq    uint64
	action Action

	cancelled bool
	fired     bool

	// index in the heap, -1 once removed.
	index int
}

// Time returns the virtual time the event fires at.
func (h *Handle) Time() time.Duration { return h.at }

// Seq returns the insertion sequence number used to break time ties.
func (h *Handle) Seq() uint64 { return h.seq }

// Cancelled reports whether the event was cancelled before firing.
func (h *Handle) Cancelled() bool { return h.cancelled }

// Pending reports whether the event is still waiting to fire.
func (h *Handle) Pending() bool { return !h.cancelled && !h.fired }

// Queue is a deterministic discrete-event loop: a min-heap ordered by
// (fire time, sequence) plus the virtual clock it drives.
//
// Queue is not safe for concurrent use. All scheduling happens from the
// goroutine running RunUntil, or before it starts.
type Queue struct {
	*HookableBase

	now    time.Duration
	seq    uint64
	events eventHeap

	processed     uint64
	stopRequested bool

	pacer   Pacer
	onPanic func(h *Handle, recovered any)
}

// Option customises Queue construction.
type Option func(*Queue)

// WithPacer attaches a pacer consulted before every event.
func WithPacer(p Pacer) Option {
	return func(q *Queue) {
		q.pacer = p
	}
}

// WithPanicHandler installs fn to receive panics raised by event actions.
// The loop recovers, reports and carries on with the next event.
func WithPanicHandler(fn func(h *Handle, recovered any)) Option {
	return func(q *Queue) {
		q.onPanic = fn
	}
}

// New creates an empty queue with the clock at zero.
func New(opts ...Option) *Queue {
	q := &Queue{
		HookableBase: NewHookableBase(),
		events:       make(eventHeap, 0),
	}
	heap.Init(&q.events)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Now returns the current virtual time.
func (q *Queue) Now() time.Duration {
	return q.now
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	return q.events.Len()
}

// Processed returns how many events have fired so far.
func (q *Queue) Processed() uint64 {
	return q.processed
}

// Schedule registers action to run delay after Now(). Events scheduled for
// the current time run after every event already queued for that time.
func (q *Queue) Schedule(delay time.Duration, action Action) (*Handle, error) {
	if delay < 0 {
		return nil, fmt.Errorf("%w: negative delay %v", ErrInvalidSchedule, delay)
	}
	if delay > MaxTime-q.now {
		return nil, fmt.Errorf("%w: delay %v from %v overflows virtual time", ErrInvalidSchedule, delay, q.now)
	}
	return q.push(q.now+delay, action), nil
}

// ScheduleAt registers action to run at absolute virtual time at.
func (q *Queue) ScheduleAt(at time.Duration, action Action) (*Handle, error) {
	if at < q.now {
		return nil, fmt.Errorf("%w: time %v is before now %v", ErrInvalidSchedule, at, q.now)
	}
	return q.push(at, action), nil
}

func (q *Queue) push(at time.Duration, action Action) *Handle {
	q.seq++
	h := &Handle{at: at, seq: q.seq, action: action}
	heap.Push(&q.events, h)
	return h
}

// Cancel removes a pending event from the queue.
func (q *Queue) Cancel(h *Handle) {
	if h == nil || !h.Pending() {
		return
	}
	h.cancelled = true
	if h.index >= 0 && h.index < q.events.Len() && q.events[h.index] == h {
		heap.Remove(&q.events, h.index)
	}
}

// Stop asks RunUntil to return once the current event finishes.
func (q *Queue) Stop() {
	q.stopRequested = true
}

// RunUntil pops events in (time, sequence) order, advancing the clock to each
// event's time before invoking it. It returns when the queue is empty, when
// the next event lies beyond stop, when Stop is called, or when ctx is done.
func (q *Queue) RunUntil(ctx context.Context, stop time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q.stopRequested = false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if q.events.Len() == 0 {
			return nil
		}

		next := q.events[0]
		if next.at > stop {
			return nil
		}

		if q.pacer != nil {
			if err := q.pacer.Wait(ctx, next.at); err != nil {
				return err
			}
		}

		heap.Pop(&q.events)
		if next.at < q.now {
			// Unreachable through Schedule/ScheduleAt; guards the clock
			// invariant against heap corruption.
			panic(fmt.Sprintf("eventq: event at %v popped after now %v", next.at, q.now))
		}
		q.now = next.at
		next.fired = true
		q.processed++

		hookCtx := HookCtx{
			Domain: q,
			Pos:    HookPosBeforeEvent,
			Item:   next,
			Now:    q.now,
		}
		q.InvokeHook(hookCtx)

		q.fire(next)

		hookCtx.Pos = HookPosAfterEvent
		q.InvokeHook(hookCtx)

		if q.stopRequested {
			q.stopRequested = false
			return nil
		}
	}
}

func (q *Queue) fire(h *Handle) {
	if h.action == nil {
		return
	}
	if q.onPanic != nil {
		defer func() {
			if r := recover(); r != nil {
				q.onPanic(h, r)
			}
		}()
	}
	h.action()
}

type eventHeap []*Handle

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	evt := x.(*Handle)
	evt.index = len(*h)
	*h = append(*h, evt)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	evt := old[n-1]
	old[n-1] = nil
	evt.index = -1
	*h = old[:n-1]
	return evt
}

var _ Scheduler = (*Queue)(nil)
