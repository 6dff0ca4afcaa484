// Package trace writes the handover, signal and flow logs of a run.
package trace

import (
	"errors"
	"strconv"
	"sync"

	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

// File names and headers of the CSV traces.
const (
	HandoverFile = "handover_events.csv"
	SignalFile   = "rssi_measurements.csv"
	FlowFile     = "flow_stats.csv"

	HandoverHeader = "Time,EventType,StationID,AccessPoint1,AccessPoint2"
	SignalHeader   = "Time,StationID,APID,PosX,PosY,RSSI"
	FlowHeader     = "FlowID,Source,Destination,TxPackets,RxPackets,LostPackets,DelaySum,JitterSum,LastDelay,TxBytes,RxBytes,Duration,Throughput(Kbps)"
)

// Sink receives the records of a run. Sinks are opened by their
// constructors and must be closed exactly once.
type Sink interface {
	RecordAssociation(ev model.AssociationEvent) error
	RecordSignal(s model.SignalSample) error
	RecordFlows(flows []model.FlowStats) error
	Close() error
}

// APNamer renders an AP reference for the handover log.
type APNamer func(id model.NodeID) string

// NodeIDNamer writes APs as their node id.
func NodeIDNamer(id model.NodeID) string { return id.String() }

// FormatFloat renders v with six significant digits in the shortest of
// fixed or exponent notation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// Multi fans records out to several sinks. Errors are joined.
type Multi []Sink

// RecordAssociation writes ev to every sink.
func (m Multi) RecordAssociation(ev model.AssociationEvent) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordAssociation(ev))
	}
	return errors.Join(errs...)
}

// RecordSignal writes sample to every sink.
func (m Multi) RecordSignal(sample model.SignalSample) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordSignal(sample))
	}
	return errors.Join(errs...)
}

// RecordFlows writes the finalized flows to every sink.
func (m Multi) RecordFlows(flows []model.FlowStats) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordFlows(flows))
	}
	return errors.Join(errs...)
}

// Close closes every sink, even after an earlier one fails.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Observer adapts a Sink to the association engine's observer interfaces.
// Write failures do not interrupt the run; they are counted and the first
// one is kept.
type Observer struct {
	Sink Sink

	mu       sync.Mutex
	failures int
	first    error
}

// NewObserver wraps s.
func NewObserver(s Sink) *Observer { return &Observer{Sink: s} }

// ObserveAssociation records ev, counting a failed write.
func (o *Observer) ObserveAssociation(ev model.AssociationEvent) {
	o.note(o.Sink.RecordAssociation(ev))
}

// ObserveSignal records s, counting a failed write.
func (o *Observer) ObserveSignal(s model.SignalSample) {
	o.note(o.Sink.RecordSignal(s))
}

func (o *Observer) note(err error) {
	if err == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
	if o.first == nil {
		o.first = err
	}
}

// Failures returns the number of failed writes and the first error.
func (o *Observer) Failures() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures, o.first
}
