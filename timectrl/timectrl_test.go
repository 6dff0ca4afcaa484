package timectrl

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

type fakeWall struct {
	now    time.Time
	slept  []time.Duration
	failOn int
}

func (f *fakeWall) Now() time.Time { return f.now }

func (f *fakeWall) Sleep(ctx context.Context, d time.Duration) error {
	f.slept = append(f.slept, d)
	if f.failOn > 0 && len(f.slept) == f.failOn {
		return context.Canceled
	}
	f.now = f.now.Add(d)
	return nil
}

func newFakePacer(mode Mode, wall *fakeWall) *Pacer {
	p := NewPacer(mode)
	p.now = wall.Now
	p.sleep = wall.Sleep
	return p
}

func TestPacerAcceleratedNeverSleeps(t *testing.T) {
	wall := &fakeWall{now: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)}
	p := newFakePacer(Accelerated, wall)

	for _, at := range []time.Duration{0, time.Second, time.Minute} {
		if err := p.Wait(context.Background(), at); err != nil {
			t.Fatalf("Wait(%v) error: %v", at, err)
		}
	}
	if len(wall.slept) != 0 {
		t.Fatalf("accelerated pacer slept %v, want no sleeps", wall.slept)
	}
}

func TestPacerRealTimeSleepsUntilVirtualTime(t *testing.T) {
	wall := &fakeWall{now: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)}
	p := newFakePacer(RealTime, wall)

	if err := p.Wait(context.Background(), 0); err != nil {
		t.Fatalf("Wait(0) error: %v", err)
	}
	if err := p.Wait(context.Background(), 1500*time.Millisecond); err != nil {
		t.Fatalf("Wait(1.5s) error: %v", err)
	}
	// Already caught up: no additional sleep.
	if err := p.Wait(context.Background(), time.Second); err != nil {
		t.Fatalf("Wait(1s) error: %v", err)
	}

	if len(wall.slept) != 1 || wall.slept[0] != 1500*time.Millisecond {
		t.Fatalf("slept = %v, want [1.5s]", wall.slept)
	}
}

func TestPacerScaleStretchesWallClock(t *testing.T) {
	wall := &fakeWall{now: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)}
	p := newFakePacer(RealTime, wall)
	p.Scale = 2

	_ = p.Wait(context.Background(), 0)
	_ = p.Wait(context.Background(), time.Second)

	if len(wall.slept) != 1 || wall.slept[0] != 2*time.Second {
		t.Fatalf("slept = %v, want [2s]", wall.slept)
	}
}

func TestPacerPropagatesCancellation(t *testing.T) {
	wall := &fakeWall{now: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), failOn: 1}
	p := newFakePacer(RealTime, wall)

	_ = p.Wait(context.Background(), 0)
	if err := p.Wait(context.Background(), time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait error = %v, want context.Canceled", err)
	}
}

func TestSeconds(t *testing.T) {
	if got := Seconds(0.1); got != 100*time.Millisecond {
		t.Fatalf("Seconds(0.1) = %v, want 100ms", got)
	}
	if got := Seconds(60); got != time.Minute {
		t.Fatalf("Seconds(60) = %v, want 1m", got)
	}
}

func TestFitsDuration(t *testing.T) {
	for _, s := range []float64{0, 60, -60, 9e9} {
		if !FitsDuration(s) {
			t.Fatalf("FitsDuration(%v) = false, want true", s)
		}
		if (Seconds(s) < 0) != (s < 0) {
			t.Fatalf("Seconds(%v) = %v changed sign", s, Seconds(s))
		}
	}
	for _, s := range []float64{1e10, 2 * MaxSeconds, -1e10, math.Inf(1), math.NaN()} {
		if FitsDuration(s) {
			t.Fatalf("FitsDuration(%v) = true, want false", s)
		}
	}
}
