package model

import (
	"fmt"
	"strings"
	"time"
)

// SignalSample is one periodic RSSI measurement between a station and an AP.
// PosX and PosY are the station's position at sampling time.
type SignalSample struct {
	Time      time.Duration
	StationID NodeID
	APID      NodeID
	PosX      float64
	PosY      float64
	RSSI      float64 // dBm
}

// AssociationEventType is the kind of association-state transition.
type AssociationEventType int

const (
	Associate AssociationEventType = iota
	Disassociate
	Handover
)

// String returns the label used in handover logs.
func (t AssociationEventType) String() string {
	switch t {
	case Associate:
		return "ASSOC"
	case Disassociate:
		return "DEASSOC"
	case Handover:
		return "HANDOVER"
	default:
		return fmt.Sprintf("AssociationEventType(%d)", int(t))
	}
}

// ParseAssociationEventType is the inverse of String.
func ParseAssociationEventType(s string) (AssociationEventType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ASSOC":
		return Associate, nil
	case "DEASSOC":
		return Disassociate, nil
	case "HANDOVER":
		return Handover, nil
	default:
		return 0, fmt.Errorf("unknown association event type %q", s)
	}
}

// AssociationEvent is an append-only log entry of a station's association
// state changing.
//
// Associate: FromAP is NoNode, ToAP is the new AP.
// Disassociate: FromAP is the AP left, ToAP is NoNode.
// Handover: FromAP is the AP held immediately before, ToAP the new one.
type AssociationEvent struct {
	Time      time.Duration
	StationID NodeID
	Type      AssociationEventType
	FromAP    NodeID
	ToAP      NodeID
}

// AP returns the AP the event is about: the target for Associate and
// Handover, the AP left for Disassociate.
func (e AssociationEvent) AP() NodeID {
	if e.Type == Disassociate {
		return e.FromAP
	}
	return e.ToAP
}
