package kb

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/signalsfoundry/wifi-roaming-sim/core"
	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

var (
	ErrNodeExists   = errors.New("node already exists")
	ErrNodeNotFound = errors.New("node not found")
	ErrDeviceExists = errors.New("device already exists")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventDeviceAdded EventType = iota
	EventAssociationChanged
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type        EventType
	Device      *core.Device
	Association model.AssociationEvent
}

// KnowledgeBase is an in-memory, thread-safe registry of nodes and their
// WiFi devices. It is the device source of the association engine.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes   map[model.NodeID]*core.Node
	devices map[model.NodeID]*core.Device
	byAddr  map[netip.Addr]*core.Device

	subs    map[uint64]func(Event)
	nextSub uint64
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes:   make(map[model.NodeID]*core.Node),
		devices: make(map[model.NodeID]*core.Device),
		byAddr:  make(map[netip.Addr]*core.Device),
		subs:    make(map[uint64]func(Event)),
	}
}

// AddNode adds a new node. It returns an error if the ID already exists.
func (kb *KnowledgeBase) AddNode(n *core.Node) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.nodes[n.ID]; exists {
		return fmt.Errorf("node %d: %w", n.ID, ErrNodeExists)
	}
	kb.nodes[n.ID] = n
	return nil
}

// AddDevice installs a device on its node. Each node holds one device, and
// device addresses are unique.
func (kb *KnowledgeBase) AddDevice(d *core.Device) error {
	kb.mu.Lock()
	id := d.ID()
	if _, ok := kb.nodes[id]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("device %s: node %d: %w", d, id, ErrNodeNotFound)
	}
	if _, exists := kb.devices[id]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("device on node %d: %w", id, ErrDeviceExists)
	}
	if d.Address.IsValid() {
		if other, exists := kb.byAddr[d.Address]; exists {
			kb.mu.Unlock()
			return fmt.Errorf("address %s already used by %s: %w", d.Address, other, ErrDeviceExists)
		}
		kb.byAddr[d.Address] = d
	}
	kb.devices[id] = d
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	for _, sub := range subs {
		sub(Event{Type: EventDeviceAdded, Device: d})
	}
	return nil
}

// GetNode returns the node with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetNode(id model.NodeID) *core.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.nodes[id]
}

// GetDevice returns the device installed on node id, or nil.
func (kb *KnowledgeBase) GetDevice(id model.NodeID) *core.Device {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.devices[id]
}

// DeviceByAddress resolves a network-layer address.
func (kb *KnowledgeBase) DeviceByAddress(addr netip.Addr) *core.Device {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.byAddr[addr]
}

// ListNodes returns a snapshot of all nodes ordered by id.
func (kb *KnowledgeBase) ListNodes() []*core.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*core.Node, 0, len(kb.nodes))
	for _, n := range kb.nodes {
		res = append(res, n)
	}
	slices.SortFunc(res, func(a, b *core.Node) int { return int(a.ID) - int(b.ID) })
	return res
}

// Devices returns every device ordered by node id.
func (kb *KnowledgeBase) Devices() []*core.Device {
	return kb.filter(func(*core.Device) bool { return true })
}

// AccessPoints returns the AP devices ordered by node id.
func (kb *KnowledgeBase) AccessPoints() []*core.Device {
	return kb.filter((*core.Device).IsAccessPoint)
}

// Stations returns the station devices ordered by node id.
func (kb *KnowledgeBase) Stations() []*core.Device {
	return kb.filter((*core.Device).IsStation)
}

func (kb *KnowledgeBase) filter(keep func(*core.Device) bool) []*core.Device {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*core.Device, 0, len(kb.devices))
	for _, d := range kb.devices {
		if keep(d) {
			res = append(res, d)
		}
	}
	slices.SortFunc(res, func(a, b *core.Device) int { return int(a.ID()) - int(b.ID()) })
	return res
}

// ObserveAssociation fans association changes out to subscribers.
func (kb *KnowledgeBase) ObserveAssociation(ev model.AssociationEvent) {
	kb.mu.RLock()
	dev := kb.devices[ev.StationID]
	subs := kb.subscribersLocked()
	kb.mu.RUnlock()

	for _, sub := range subs {
		sub(Event{Type: EventAssociationChanged, Device: dev, Association: ev})
	}
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function; calling it more than once is a no-op. Callbacks run in
// subscription order.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// subscribersLocked snapshots the callbacks in subscription order. The
// caller holds kb.mu.
func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]uint64, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}

var (
	_ core.DeviceSource        = (*KnowledgeBase)(nil)
	_ core.AssociationObserver = (*KnowledgeBase)(nil)
)
