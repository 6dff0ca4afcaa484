// Package flowmon aggregates per-flow packet counters for reporting.
package flowmon

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slices"

	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

var (
	// ErrUnknownFlow is returned when a receive is recorded for a flow that
	// never transmitted.
	ErrUnknownFlow = errors.New("unknown flow")
	// ErrRxExceedsTx is returned when a receive would leave a flow with more
	// packets received than sent.
	ErrRxExceedsTx = errors.New("rx exceeds tx")
)

type flowState struct {
	stats  model.FlowStats
	seenRx bool
}

// Recorder counts transmissions and receptions per five-tuple. It is owned
// by one simulation run and is not safe for concurrent use.
type Recorder struct {
	flows  map[model.FlowKey]*flowState
	nextID uint32

	anomalies int
	finalized bool
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		flows:  make(map[model.FlowKey]*flowState),
		nextID: 1,
	}
}

// RecordTx counts a transmitted packet. The first transmission of a key
// creates the flow and assigns the next flow id.
func (r *Recorder) RecordTx(key model.FlowKey, bytes int, at time.Duration) uint32 {
	f, ok := r.flows[key]
	if !ok {
		f = &flowState{stats: model.FlowStats{FlowID: r.nextID, Key: key, FirstTx: at}}
		r.nextID++
		r.flows[key] = f
	}
	f.stats.TxPackets++
	f.stats.TxBytes += uint64(bytes)
	f.stats.LastTx = at
	return f.stats.FlowID
}

// RecordRx counts a received packet whose end-to-end delay is delay. The
// reception time is at; the packet left at at-delay.
func (r *Recorder) RecordRx(key model.FlowKey, bytes int, at, delay time.Duration) error {
	f, ok := r.flows[key]
	if !ok {
		r.anomalies++
		return fmt.Errorf("record rx for %s: %w", key, ErrUnknownFlow)
	}
	if f.stats.RxPackets >= f.stats.TxPackets {
		r.anomalies++
		return fmt.Errorf("record rx for flow %d: %w", f.stats.FlowID, ErrRxExceedsTx)
	}

	s := &f.stats
	if !f.seenRx {
		s.FirstRx = at
		f.seenRx = true
	} else {
		jitter := delay - s.LastDelay
		if jitter < 0 {
			jitter = -jitter
		}
		s.JitterSum += jitter
	}
	s.RxPackets++
	s.RxBytes += uint64(bytes)
	s.LastRx = at
	s.DelaySum += delay
	s.LastDelay = delay
	return nil
}

// Anomalies counts refused RecordRx calls.
func (r *Recorder) Anomalies() int { return r.anomalies }

// Len returns the number of flows seen so far.
func (r *Recorder) Len() int { return len(r.flows) }

// Stats returns the current counters of key.
func (r *Recorder) Stats(key model.FlowKey) (model.FlowStats, bool) {
	f, ok := r.flows[key]
	if !ok {
		return model.FlowStats{}, false
	}
	return f.stats, true
}

// Finalize closes the recording and returns every flow keyed by five-tuple.
// Later calls return the same counters.
func (r *Recorder) Finalize() map[model.FlowKey]model.FlowStats {
	r.finalized = true
	out := make(map[model.FlowKey]model.FlowStats, len(r.flows))
	for k, f := range r.flows {
		out[k] = f.stats
	}
	return out
}

// Finalized reports whether Finalize has been called.
func (r *Recorder) Finalized() bool { return r.finalized }

// Sorted returns the flows ordered by flow id.
func Sorted(flows map[model.FlowKey]model.FlowStats) []model.FlowStats {
	out := make([]model.FlowStats, 0, len(flows))
	for _, s := range flows {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b model.FlowStats) int { return int(a.FlowID) - int(b.FlowID) })
	return out
}
