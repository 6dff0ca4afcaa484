package timectrl

import (
	"context"
	"math"
	"time"
)

// SimClock is an interface for accessing simulation time. Components that
// only need to read the clock (mobility, traffic, flow recording) depend on
// this abstraction rather than on the event queue itself.
type SimClock interface {
	// Now returns the current virtual time, measured from simulation start.
	Now() time.Duration
}

// Seconds converts a floating-point number of seconds into virtual time,
// rounded to the nearest nanosecond.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// MaxSeconds is the longest span, in seconds, a time.Duration can hold.
const MaxSeconds = float64(math.MaxInt64) / float64(time.Second)

// FitsDuration reports whether Seconds(s) is representable. NaN and
// infinities never fit.
func FitsDuration(s float64) bool {
	return math.Abs(s)*float64(time.Second) < float64(math.MaxInt64)
}

// Mode describes how the event loop relates virtual time to wall-clock time.
type Mode int

const (
	// Accelerated advances as quickly as the event loop can run.
	Accelerated Mode = iota
	// RealTime holds each event back until the same amount of wall-clock
	// time has elapsed since the run started.
	RealTime
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	default:
		return "accelerated"
	}
}

// Pacer keeps virtual time in step with wall-clock time when Mode is RealTime.
// In Accelerated mode Wait returns immediately.
type Pacer struct {
	Mode Mode

	// Scale stretches virtual time: 2 means one virtual second takes two
	// wall-clock seconds. Zero or negative is treated as 1.
	Scale float64

	started bool
	origin  time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer constructs a pacer for the given mode.
func NewPacer(mode Mode) *Pacer {
	return &Pacer{
		Mode:  mode,
		Scale: 1,
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Wait blocks until wall-clock time has caught up with virtual time at.
// The first call anchors virtual time zero to the current wall-clock time.
func (p *Pacer) Wait(ctx context.Context, at time.Duration) error {
	if p == nil || p.Mode != RealTime {
		return nil
	}
	if !p.started {
		p.origin = p.now()
		p.started = true
	}

	scale := p.Scale
	if scale <= 0 {
		scale = 1
	}
	target := p.origin.Add(time.Duration(float64(at) * scale))
	d := target.Sub(p.now())
	if d <= 0 {
		return nil
	}
	return p.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
