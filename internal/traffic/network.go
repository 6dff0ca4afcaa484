// Package traffic generates and absorbs application packets and carries
// them over a shared per-channel medium.
package traffic

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/signalsfoundry/wifi-roaming-sim/core"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/flowmon"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/logging"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/sim/eventq"
	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

// FirstEphemeralPort is the first source port handed out per node.
const FirstEphemeralPort uint16 = 49153

// ErrPortInUse is returned when binding an address/port pair twice.
var ErrPortInUse = errors.New("port already bound")

// Medium defaults: 802.11a/g 54 Mb/s with MAC header and FCS overhead.
const (
	DefaultPhyRate          = 54e6
	DefaultMACOverheadBytes = 36
	DefaultFrameOverhead    = 100 * time.Microsecond
	DefaultMaxQueueDelay    = 500 * time.Millisecond
)

// MediumConfig describes the shared channel.
type MediumConfig struct {
	PhyRate          float64 // bits per second
	MACOverheadBytes int
	FrameOverhead    time.Duration
	MaxQueueDelay    time.Duration
}

// DefaultMediumConfig returns the defaults above.
func DefaultMediumConfig() MediumConfig {
	return MediumConfig{
		PhyRate:          DefaultPhyRate,
		MACOverheadBytes: DefaultMACOverheadBytes,
		FrameOverhead:    DefaultFrameOverhead,
		MaxQueueDelay:    DefaultMaxQueueDelay,
	}
}

// Airtime is the channel occupancy of a size-byte payload.
func (c MediumConfig) Airtime(size int) time.Duration {
	rate := c.PhyRate
	if rate <= 0 {
		rate = DefaultPhyRate
	}
	bits := float64(size+c.MACOverheadBytes) * 8
	return time.Duration(bits*float64(time.Second)/rate) + c.FrameOverhead
}

// Direction of a frame relative to the AP.
type Direction string

const (
	Uplink   Direction = "uplink"
	Downlink Direction = "downlink"
)

// Outcome of a packet.
type Outcome string

const (
	Delivered           Outcome = "delivered"
	DroppedUnassociated Outcome = "unassociated"
	DroppedQueue        Outcome = "queue"
	DroppedLink         Outcome = "link"
	DroppedNoEndpoint   Outcome = "no_endpoint"
)

// PacketEvent reports the fate of one packet.
type PacketEvent struct {
	Time      time.Duration
	Direction Direction
	Outcome   Outcome
	Bytes     int
}

// PacketObserver is notified of every packet outcome.
type PacketObserver interface {
	ObservePacket(ev PacketEvent)
}

// Registry resolves destination addresses.
type Registry interface {
	DeviceByAddress(addr netip.Addr) *core.Device
}

// Packet is an application datagram in flight.
type Packet struct {
	Key    model.FlowKey
	Size   int
	SentAt time.Duration
}

// Endpoint receives packets addressed to a bound address and port.
type Endpoint interface {
	Receive(pkt Packet, from *core.Device, now time.Duration)
}

type binding struct {
	addr netip.Addr
	port uint16
}

// Stats are the network-wide packet counters.
type Stats struct {
	Sent                uint64
	Delivered           uint64
	DroppedUnassociated uint64
	DroppedQueue        uint64
	DroppedLink         uint64
	DroppedNoEndpoint   uint64
	Anomalies           uint64
}

// Network carries packets between stations and APs. Frames on the same
// channel serialise: each waits for the channel to be idle, and a frame that
// would wait longer than MaxQueueDelay is dropped.
type Network struct {
	sched    eventq.Scheduler
	channel  *core.RadioChannel
	registry Registry
	flows    *flowmon.Recorder
	cfg      MediumConfig
	log      logging.Logger

	busyUntil map[int]time.Duration
	endpoints map[binding]Endpoint
	nextPort  map[model.NodeID]uint16

	observers []PacketObserver
	stats     Stats
}

// Option customises NewNetwork.
type Option func(*Network)

// WithLogger sets the network logger.
func WithLogger(l logging.Logger) Option {
	return func(n *Network) { n.log = logging.OrNoop(l) }
}

// WithObserver registers a packet observer.
func WithObserver(o PacketObserver) Option {
	return func(n *Network) {
		if o != nil {
			n.observers = append(n.observers, o)
		}
	}
}

// NewNetwork wires a medium to the scheduler, the channel model, the address
// registry and the flow recorder.
func NewNetwork(sched eventq.Scheduler, channel *core.RadioChannel, registry Registry, flows *flowmon.Recorder, cfg MediumConfig, opts ...Option) *Network {
	n := &Network{
		sched:     sched,
		channel:   channel,
		registry:  registry,
		flows:     flows,
		cfg:       cfg,
		log:       logging.Noop(),
		busyUntil: make(map[int]time.Duration),
		endpoints: make(map[binding]Endpoint),
		nextPort:  make(map[model.NodeID]uint16),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Stats returns a snapshot of the packet counters.
func (n *Network) Stats() Stats { return n.stats }

// Flows returns the recorder the network feeds.
func (n *Network) Flows() *flowmon.Recorder { return n.flows }

// Scheduler returns the event queue packets are scheduled on.
func (n *Network) Scheduler() eventq.Scheduler { return n.sched }

// Bind attaches ep to addr:port.
func (n *Network) Bind(addr netip.Addr, port uint16, ep Endpoint) error {
	b := binding{addr: addr, port: port}
	if _, exists := n.endpoints[b]; exists {
		return fmt.Errorf("bind %s:%d: %w", addr, port, ErrPortInUse)
	}
	n.endpoints[b] = ep
	return nil
}

// EphemeralPort hands out the next source port of dev.
func (n *Network) EphemeralPort(dev *core.Device) uint16 {
	p, ok := n.nextPort[dev.ID()]
	if !ok {
		p = FirstEphemeralPort
	}
	n.nextPort[dev.ID()] = p + 1
	return p
}

// Send records pkt as transmitted by from towards to and puts it on the
// medium. Delivery, if any, happens in a later event.
func (n *Network) Send(pkt Packet, from, to *core.Device, dir Direction) {
	n.stats.Sent++
	n.flows.RecordTx(pkt.Key, pkt.Size, pkt.SentAt)

	if sta, ok := from.Station(); ok && !sta.LinkReady(pkt.SentAt) {
		n.drop(pkt, dir, DroppedLink)
		return
	}

	now := n.sched.Now()
	ch := from.Phy.Channel
	start := now
	if busy := n.busyUntil[ch]; busy > start {
		start = busy
	}
	if n.cfg.MaxQueueDelay > 0 && start-now > n.cfg.MaxQueueDelay {
		n.drop(pkt, dir, DroppedQueue)
		return
	}
	txEnd := start + n.cfg.Airtime(pkt.Size)
	n.busyUntil[ch] = txEnd

	rx := n.channel.Reception(from, to, txEnd)
	if _, err := n.sched.ScheduleAt(txEnd+rx.Delay, func() { n.arrive(pkt, from, to, dir) }); err != nil {
		n.anomaly("schedule arrival", err)
	}
}

func (n *Network) arrive(pkt Packet, from, to *core.Device, dir Direction) {
	now := n.sched.Now()
	if !n.linkHolds(from, to, dir, now) {
		n.drop(pkt, dir, DroppedLink)
		return
	}
	if err := n.flows.RecordRx(pkt.Key, pkt.Size, now, now-pkt.SentAt); err != nil {
		n.anomaly("record rx", err)
		return
	}

	ep, ok := n.endpoints[binding{addr: pkt.Key.Destination, port: pkt.Key.DestPort}]
	if !ok {
		n.drop(pkt, dir, DroppedNoEndpoint)
		return
	}
	n.stats.Delivered++
	n.notify(PacketEvent{Time: now, Direction: dir, Outcome: Delivered, Bytes: pkt.Size})
	ep.Receive(pkt, from, now)
}

// linkHolds checks the receiver still hears the frame at arrival, the
// destination still exists and, downlink, the station is still associated
// to the sending AP.
func (n *Network) linkHolds(from, to *core.Device, dir Direction, now time.Duration) bool {
	if n.registry != nil && n.registry.DeviceByAddress(to.Address) == nil {
		return false
	}
	if dir == Downlink {
		sta, ok := to.Station()
		if !ok || sta.AssociatedAP() != from {
			return false
		}
	}
	return n.channel.Reception(from, to, now).Received
}

func (n *Network) drop(pkt Packet, dir Direction, why Outcome) {
	switch why {
	case DroppedUnassociated:
		n.stats.DroppedUnassociated++
	case DroppedQueue:
		n.stats.DroppedQueue++
	case DroppedLink:
		n.stats.DroppedLink++
	case DroppedNoEndpoint:
		n.stats.DroppedNoEndpoint++
	}
	n.notify(PacketEvent{Time: n.sched.Now(), Direction: dir, Outcome: why, Bytes: pkt.Size})
}

// DropUnassociated counts a packet that never left its station.
func (n *Network) DropUnassociated(size int) {
	n.drop(Packet{Size: size}, Uplink, DroppedUnassociated)
}

func (n *Network) anomaly(what string, err error) {
	n.stats.Anomalies++
	n.log.Warn(context.Background(), "traffic anomaly",
		logging.String("op", what),
		logging.Duration("time", n.sched.Now()),
		logging.Err(err),
	)
}

func (n *Network) notify(ev PacketEvent) {
	for _, o := range n.observers {
		o.ObservePacket(ev)
	}
}
