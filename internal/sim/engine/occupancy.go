package engine

import (
	"golang.org/x/exp/slices"

	"github.com/signalsfoundry/wifi-roaming-sim/kb"
	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

// APOccupancy is how many stations an access point served.
type APOccupancy struct {
	AP    model.NodeID
	Name  string
	Peak  int
	Final int
}

// occupancy follows registry events and tracks associated stations per AP.
type occupancy struct {
	registry *kb.KnowledgeBase
	byAP     map[model.NodeID]*APOccupancy
}

func newOccupancy(registry *kb.KnowledgeBase) *occupancy {
	return &occupancy{registry: registry, byAP: make(map[model.NodeID]*APOccupancy)}
}

func (o *occupancy) handle(ev kb.Event) {
	switch ev.Type {
	case kb.EventDeviceAdded:
		if ev.Device.IsAccessPoint() {
			o.byAP[ev.Device.ID()] = &APOccupancy{AP: ev.Device.ID(), Name: ev.Device.Node.Name}
		}
	case kb.EventAssociationChanged:
		for _, id := range []model.NodeID{ev.Association.FromAP, ev.Association.ToAP} {
			o.refresh(id)
		}
	}
}

func (o *occupancy) refresh(id model.NodeID) {
	entry, ok := o.byAP[id]
	if !ok {
		return
	}
	info, ok := o.registry.GetDevice(id).AccessPoint()
	if !ok {
		return
	}
	entry.Final = info.NumStations()
	if entry.Final > entry.Peak {
		entry.Peak = entry.Final
	}
}

// snapshot returns the per-AP counts in id order.
func (o *occupancy) snapshot() []APOccupancy {
	res := make([]APOccupancy, 0, len(o.byAP))
	for _, entry := range o.byAP {
		res = append(res, *entry)
	}
	slices.SortFunc(res, func(a, b APOccupancy) int { return int(a.AP) - int(b.AP) })
	return res
}
