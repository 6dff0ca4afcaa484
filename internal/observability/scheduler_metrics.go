package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/sim/eventq"
)

// loopTimer remembers when the current event started running. The event
// loop is single-threaded so no locking is needed.
type loopTimer struct {
	started time.Time
	now     func() time.Time
}

func (l *loopTimer) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}

// Func implements eventq.Hook. Before each event it advances the
// virtual-time gauge and starts the wall-clock timer; after it, the event
// is counted and its duration observed.
func (c *SimCollector) Func(ctx eventq.HookCtx) {
	if c == nil || ctx.Pos == nil {
		return
	}
	switch ctx.Pos {
	case eventq.HookPosBeforeEvent:
		if c.VirtualTime != nil {
			c.VirtualTime.Set(ctx.Now.Seconds())
		}
		c.loop.started = c.loop.clock()
	case eventq.HookPosAfterEvent:
		if c.EventsProcessed != nil {
			c.EventsProcessed.Inc()
		}
		if c.EventDuration != nil && !c.loop.started.IsZero() {
			c.EventDuration.Observe(c.loop.clock().Sub(c.loop.started).Seconds())
		}
	}
}

// ObserveRun records the wall-clock duration of a finished run.
func (c *SimCollector) ObserveRun(d time.Duration) {
	if c == nil || c.RunDuration == nil {
		return
	}
	c.RunDuration.Observe(d.Seconds())
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
