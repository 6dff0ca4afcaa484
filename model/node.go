package model

import "strconv"

// NodeID identifies a node for the whole run. Access points are created
// first, so they hold the lowest ids.
type NodeID int

// NoNode marks an absent node reference, e.g. the from-AP of an Associate.
const NoNode NodeID = -1

// Valid reports whether id refers to a node.
func (id NodeID) Valid() bool { return id >= 0 }

func (id NodeID) String() string {
	if !id.Valid() {
		return ""
	}
	return strconv.Itoa(int(id))
}

// Role is the capability tag of a device.
type Role int

const (
	RoleStation Role = iota
	RoleAccessPoint
)

func (r Role) String() string {
	switch r {
	case RoleAccessPoint:
		return "AP"
	default:
		return "STA"
	}
}
