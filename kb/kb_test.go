package kb

import (
	"errors"
	"net/netip"
	"sync"
	"testing"

	"github.com/signalsfoundry/wifi-roaming-sim/core"
	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

func addr(i int) netip.Addr { return netip.AddrFrom4([4]byte{10, 1, 1, byte(i)}) }

func addDevice(t *testing.T, store *KnowledgeBase, id int, ap bool) *core.Device {
	t.Helper()
	node := &core.Node{ID: model.NodeID(id), Mobility: &core.ConstantPosition{}}
	if err := store.AddNode(node); err != nil {
		t.Fatalf("AddNode(%d) error: %v", id, err)
	}
	phy := core.Phy{TxPowerDBm: 16, Channel: 1}
	var d *core.Device
	if ap {
		d = core.NewAccessPoint(node, "ssid", phy, core.MACForIndex(id+1), addr(id+1))
	} else {
		d = core.NewStation(node, "ssid", phy, core.MACForIndex(id+1), addr(id+1))
	}
	if err := store.AddDevice(d); err != nil {
		t.Fatalf("AddDevice(%d) error: %v", id, err)
	}
	return d
}

func TestAddAndGetDevice(t *testing.T) {
	store := NewKnowledgeBase()
	d := addDevice(t, store, 0, true)

	if got := store.GetDevice(0); got != d {
		t.Fatalf("GetDevice returned %v, want %v", got, d)
	}
	if got := store.DeviceByAddress(addr(1)); got != d {
		t.Fatalf("DeviceByAddress returned %v, want %v", got, d)
	}
	if got := store.GetNode(0); got == nil || got.ID != 0 {
		t.Fatalf("GetNode returned %#v", got)
	}
}

func TestAddNodeDuplicate(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(&core.Node{ID: 1}); err != nil {
		t.Fatalf("first AddNode error: %v", err)
	}
	if err := store.AddNode(&core.Node{ID: 1}); !errors.Is(err, ErrNodeExists) {
		t.Fatalf("duplicate AddNode error = %v, want ErrNodeExists", err)
	}
}

func TestAddDeviceValidation(t *testing.T) {
	store := NewKnowledgeBase()
	orphan := core.NewStation(&core.Node{ID: 7}, "ssid", core.Phy{}, core.MACForIndex(1), addr(1))
	if err := store.AddDevice(orphan); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("AddDevice without node error = %v, want ErrNodeNotFound", err)
	}

	addDevice(t, store, 0, true)
	again := core.NewAccessPoint(store.GetNode(0), "ssid", core.Phy{}, core.MACForIndex(9), addr(9))
	if err := store.AddDevice(again); !errors.Is(err, ErrDeviceExists) {
		t.Fatalf("second device on node error = %v, want ErrDeviceExists", err)
	}

	node := &core.Node{ID: 5}
	if err := store.AddNode(node); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}
	clash := core.NewStation(node, "ssid", core.Phy{}, core.MACForIndex(6), addr(1))
	if err := store.AddDevice(clash); !errors.Is(err, ErrDeviceExists) {
		t.Fatalf("address clash error = %v, want ErrDeviceExists", err)
	}
}

func TestRoleListsAreOrderedByID(t *testing.T) {
	store := NewKnowledgeBase()
	for _, id := range []int{4, 1, 3, 0, 2} {
		addDevice(t, store, id, id < 2)
	}

	aps := store.AccessPoints()
	if len(aps) != 2 || aps[0].ID() != 0 || aps[1].ID() != 1 {
		t.Fatalf("AccessPoints = %v, want [AP-0 AP-1]", aps)
	}
	stas := store.Stations()
	if len(stas) != 3 || stas[0].ID() != 2 || stas[2].ID() != 4 {
		t.Fatalf("Stations = %v, want ids 2..4", stas)
	}
	nodes := store.ListNodes()
	for i, n := range nodes {
		if int(n.ID) != i {
			t.Fatalf("ListNodes[%d] = %d", i, n.ID)
		}
	}
	if got := len(store.Devices()); got != 5 {
		t.Fatalf("Devices = %d, want 5", got)
	}
}

func TestSubscribeAssociationChanges(t *testing.T) {
	store := NewKnowledgeBase()
	sta := addDevice(t, store, 2, false)

	var got []Event
	unsubscribe := store.Subscribe(func(e Event) { got = append(got, e) })

	ev := model.AssociationEvent{StationID: 2, Type: model.Associate, FromAP: model.NoNode, ToAP: 0}
	store.ObserveAssociation(ev)
	if len(got) != 1 || got[0].Type != EventAssociationChanged || got[0].Device != sta || got[0].Association != ev {
		t.Fatalf("events = %+v", got)
	}

	unsubscribe()
	store.ObserveAssociation(ev)
	if len(got) != 1 {
		t.Fatalf("received events after unsubscribe: %d", len(got))
	}
}

func TestUnsubscribeRemovesOnlyItsCallback(t *testing.T) {
	store := NewKnowledgeBase()
	addDevice(t, store, 2, false)

	var order []string
	counts := map[string]int{}
	subscribe := func(name string) func() {
		return store.Subscribe(func(Event) {
			counts[name]++
			order = append(order, name)
		})
	}
	unsubA := subscribe("a")
	unsubB := subscribe("b")
	subscribe("c")
	subscribe("d")

	unsubA()
	unsubB()
	unsubB()

	store.ObserveAssociation(model.AssociationEvent{StationID: 2, Type: model.Associate, FromAP: model.NoNode, ToAP: 0})
	if counts["a"] != 0 || counts["b"] != 0 || counts["c"] != 1 || counts["d"] != 1 {
		t.Fatalf("callback counts = %v, want only c and d once", counts)
	}
	if len(order) != 2 || order[0] != "c" || order[1] != "d" {
		t.Fatalf("callback order = %v, want [c d]", order)
	}
}

func TestConcurrentReads(t *testing.T) {
	store := NewKnowledgeBase()
	for i := 0; i < 10; i++ {
		addDevice(t, store, i, i < 2)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if len(store.Stations()) != 8 {
					t.Errorf("Stations length changed")
					return
				}
				_ = store.AccessPoints()
			}
		}()
	}
	wg.Wait()
}
