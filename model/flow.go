package model

import (
	"fmt"
	"net/netip"
	"time"
)

// ProtocolUDP is the IP protocol number carried by application traffic.
const ProtocolUDP uint8 = 17

// FlowKey is the five-tuple identifying a unidirectional flow.
type FlowKey struct {
	Source      netip.Addr
	Destination netip.Addr
	Protocol    uint8
	SourcePort  uint16
	DestPort    uint16
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%d", k.Source, k.SourcePort, k.Destination, k.DestPort, k.Protocol)
}

// Reverse returns the key of the reply direction.
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{
		Source:      k.Destination,
		Destination: k.Source,
		Protocol:    k.Protocol,
		SourcePort:  k.DestPort,
		DestPort:    k.SourcePort,
	}
}

// FlowStats are the finalized counters of one flow.
type FlowStats struct {
	FlowID uint32
	Key    FlowKey

	TxPackets uint64
	RxPackets uint64
	TxBytes   uint64
	RxBytes   uint64

	FirstTx time.Duration
	LastTx  time.Duration
	FirstRx time.Duration
	LastRx  time.Duration

	DelaySum  time.Duration
	JitterSum time.Duration
	LastDelay time.Duration
}

// LostPackets is tx minus rx; the recorder never lets rx exceed tx.
func (s FlowStats) LostPackets() uint64 {
	if s.RxPackets > s.TxPackets {
		return 0
	}
	return s.TxPackets - s.RxPackets
}

// Duration is the span from first transmission to last reception, zero if
// nothing was received.
func (s FlowStats) Duration() time.Duration {
	if s.RxPackets == 0 || s.LastRx < s.FirstTx {
		return 0
	}
	return s.LastRx - s.FirstTx
}

// Throughput returns rx bits per second over Duration, zero when the
// duration is zero.
func (s FlowStats) Throughput() float64 {
	d := s.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(s.RxBytes) * 8 / d
}

// ThroughputKbps is Throughput in kilobits per second.
func (s FlowStats) ThroughputKbps() float64 {
	return s.Throughput() / 1000
}

// MeanDelay is DelaySum over received packets.
func (s FlowStats) MeanDelay() time.Duration {
	if s.RxPackets == 0 {
		return 0
	}
	return s.DelaySum / time.Duration(s.RxPackets)
}
