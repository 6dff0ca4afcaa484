package model

import (
	"net/netip"
	"testing"
	"time"
)

func TestFlowStatsDerivedValues(t *testing.T) {
	s := FlowStats{
		TxPackets: 10,
		RxPackets: 8,
		RxBytes:   8 * 1000,
		FirstTx:   time.Second,
		LastRx:    3 * time.Second,
		DelaySum:  8 * time.Millisecond,
	}

	if got := s.LostPackets(); got != 2 {
		t.Fatalf("LostPackets = %d, want 2", got)
	}
	if got := s.Duration(); got != 2*time.Second {
		t.Fatalf("Duration = %v, want 2s", got)
	}
	if got := s.ThroughputKbps(); got != 32 {
		t.Fatalf("ThroughputKbps = %v, want 32", got)
	}
	if got := s.MeanDelay(); got != time.Millisecond {
		t.Fatalf("MeanDelay = %v, want 1ms", got)
	}
}

func TestFlowStatsWithoutReception(t *testing.T) {
	s := FlowStats{TxPackets: 3, FirstTx: time.Second, LastTx: 2 * time.Second}

	if s.Duration() != 0 || s.Throughput() != 0 || s.MeanDelay() != 0 {
		t.Fatalf("unreceived flow derived values = %v/%v/%v, want zeros", s.Duration(), s.Throughput(), s.MeanDelay())
	}
	if got := s.LostPackets(); got != 3 {
		t.Fatalf("LostPackets = %d, want 3", got)
	}
}

func TestFlowKeyReverse(t *testing.T) {
	k := FlowKey{
		Source:      netip.MustParseAddr("10.1.1.3"),
		Destination: netip.MustParseAddr("10.1.1.1"),
		Protocol:    ProtocolUDP,
		SourcePort:  49153,
		DestPort:    9,
	}
	r := k.Reverse()
	if r.Source != k.Destination || r.SourcePort != 9 || r.DestPort != 49153 {
		t.Fatalf("Reverse = %v", r)
	}
	if r.Reverse() != k {
		t.Fatalf("double Reverse = %v, want %v", r.Reverse(), k)
	}
	if got, want := k.String(), "10.1.1.3:49153->10.1.1.1:9/17"; got != want {
		t.Fatalf("String = %q, want %q", got, want)
	}
}

func TestAssociationEventTypeRoundTrip(t *testing.T) {
	for _, typ := range []AssociationEventType{Associate, Disassociate, Handover} {
		got, err := ParseAssociationEventType(typ.String())
		if err != nil {
			t.Fatalf("ParseAssociationEventType(%q) error: %v", typ, err)
		}
		if got != typ {
			t.Fatalf("ParseAssociationEventType(%q) = %v", typ, got)
		}
	}
	if _, err := ParseAssociationEventType("ROAM"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestAssociationEventAP(t *testing.T) {
	dis := AssociationEvent{Type: Disassociate, FromAP: 1, ToAP: NoNode}
	if dis.AP() != 1 {
		t.Fatalf("Disassociate AP = %v, want 1", dis.AP())
	}
	ho := AssociationEvent{Type: Handover, FromAP: 0, ToAP: 1}
	if ho.AP() != 1 {
		t.Fatalf("Handover AP = %v, want 1", ho.AP())
	}
	if NoNode.String() != "" || NodeID(4).String() != "4" {
		t.Fatalf("NodeID String = %q/%q", NoNode.String(), NodeID(4).String())
	}
}
