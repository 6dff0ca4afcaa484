package core

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

var (
	// ErrNotStation is returned when a station-only operation gets an AP.
	ErrNotStation = errors.New("device is not a station")
	// ErrNotAccessPoint is returned when an AP-only operation gets a station.
	ErrNotAccessPoint = errors.New("device is not an access point")
)

// Node is a positioned simulation entity. Its mobility model is the only
// thing that moves it.
type Node struct {
	ID       model.NodeID
	Name     string
	Mobility MobilityModel
}

// PositionAt returns the node position at t; nodes without a mobility model
// sit at the origin.
func (n *Node) PositionAt(t time.Duration) Vec3 {
	if n == nil || n.Mobility == nil {
		return Vec3{}
	}
	return n.Mobility.PositionAt(t)
}

// StationState is the mutable association state of a station.
type StationState struct {
	associated *Device

	associatedAt time.Duration
	linkReadyAt  time.Duration
	holdUntil    time.Duration

	transitions int
}

// AssociatedAP returns the current AP, or nil when unassociated.
func (s *StationState) AssociatedAP() *Device { return s.associated }

// Associated reports whether the station holds an association.
func (s *StationState) Associated() bool { return s.associated != nil }

// AssociatedSince is the time of the latest Associate or Handover.
func (s *StationState) AssociatedSince() time.Duration { return s.associatedAt }

// LinkReady reports whether data frames can use the association at now.
func (s *StationState) LinkReady(now time.Duration) bool {
	return s.associated != nil && now >= s.linkReadyAt
}

// Transitions counts every association state change of the station.
func (s *StationState) Transitions() int { return s.transitions }

// AccessPointInfo holds the AP-only fields.
type AccessPointInfo struct {
	stations map[model.NodeID]*Device
}

// NumStations returns how many stations are currently associated.
func (a *AccessPointInfo) NumStations() int { return len(a.stations) }

// HasStation reports whether the station id is associated to this AP.
func (a *AccessPointInfo) HasStation(id model.NodeID) bool {
	_, ok := a.stations[id]
	return ok
}

// Device is a WiFi interface installed on a node. It is tagged with its
// role and carries exactly one of the station or access point field sets.
type Device struct {
	Node *Node
	Role model.Role
	SSID string
	Phy  Phy

	MAC     net.HardwareAddr
	Address netip.Addr

	station *StationState
	ap      *AccessPointInfo
}

// NewStation builds a station device on node.
func NewStation(node *Node, ssid string, phy Phy, mac net.HardwareAddr, addr netip.Addr) *Device {
	return &Device{
		Node:    node,
		Role:    model.RoleStation,
		SSID:    ssid,
		Phy:     phy,
		MAC:     mac,
		Address: addr,
		station: &StationState{},
	}
}

// NewAccessPoint builds an access point device on node.
func NewAccessPoint(node *Node, ssid string, phy Phy, mac net.HardwareAddr, addr netip.Addr) *Device {
	return &Device{
		Node:    node,
		Role:    model.RoleAccessPoint,
		SSID:    ssid,
		Phy:     phy,
		MAC:     mac,
		Address: addr,
		ap:      &AccessPointInfo{stations: make(map[model.NodeID]*Device)},
	}
}

// ID is the owning node's id.
func (d *Device) ID() model.NodeID {
	if d == nil || d.Node == nil {
		return model.NoNode
	}
	return d.Node.ID
}

// PositionAt returns the owning node's position.
func (d *Device) PositionAt(t time.Duration) Vec3 { return d.Node.PositionAt(t) }

// Station returns the station fields, or false for an access point.
func (d *Device) Station() (*StationState, bool) {
	return d.station, d.station != nil
}

// AccessPoint returns the AP fields, or false for a station.
func (d *Device) AccessPoint() (*AccessPointInfo, bool) {
	return d.ap, d.ap != nil
}

// IsStation reports the station tag.
func (d *Device) IsStation() bool { return d.station != nil }

// IsAccessPoint reports the access point tag.
func (d *Device) IsAccessPoint() bool { return d.ap != nil }

func (d *Device) String() string {
	if d == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s-%d", d.Role, d.ID())
}

// MACForIndex returns the locally sequential address 00:00:00:00:hh:ll used
// for the i-th device (1-based).
func MACForIndex(i int) net.HardwareAddr {
	return net.HardwareAddr{0, 0, 0, 0, byte(i >> 8), byte(i)}
}
