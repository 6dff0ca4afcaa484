package core

import (
	"testing"

	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

func modelID(i int) model.NodeID { return model.NodeID(i) }

func TestDeviceCapabilityTags(t *testing.T) {
	ap := newTestAP(0, Vec3{}, 16)
	sta := newTestStation(1, &ConstantPosition{})

	if _, ok := ap.AccessPoint(); !ok || ap.IsStation() {
		t.Fatalf("AP device has wrong capability tags")
	}
	if _, ok := ap.Station(); ok {
		t.Fatalf("AP must not expose station state")
	}
	if st, ok := sta.Station(); !ok || st.Associated() {
		t.Fatalf("new station should be tagged and unassociated")
	}
	if _, ok := sta.AccessPoint(); ok {
		t.Fatalf("station must not expose AP fields")
	}
	if sta.Role != model.RoleStation || ap.Role != model.RoleAccessPoint {
		t.Fatalf("roles = %v/%v", sta.Role, ap.Role)
	}
}

func TestMACForIndex(t *testing.T) {
	if got := MACForIndex(1).String(); got != "00:00:00:00:00:01" {
		t.Fatalf("MACForIndex(1) = %s", got)
	}
	if got := MACForIndex(258).String(); got != "00:00:00:00:01:02" {
		t.Fatalf("MACForIndex(258) = %s", got)
	}
}

func TestNodeWithoutMobilitySitsAtOrigin(t *testing.T) {
	n := &Node{ID: 3}
	if got := n.PositionAt(0); got != (Vec3{}) {
		t.Fatalf("PositionAt = %+v, want origin", got)
	}
}
