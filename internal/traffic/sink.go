package traffic

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/wifi-roaming-sim/core"
)

// Sink absorbs packets on an AP port. An echo sink answers every request
// with a reply of the same size to the requesting station.
type Sink struct {
	ap   *core.Device
	port uint16
	echo bool
	net  *Network

	received uint64
	rxBytes  uint64
	replies  uint64
}

// NewSink binds a sink on ap:port.
func NewSink(net *Network, ap *core.Device, port uint16, echo bool) (*Sink, error) {
	if !ap.IsAccessPoint() {
		return nil, fmt.Errorf("sink on %s: %w", ap, core.ErrNotAccessPoint)
	}
	s := &Sink{ap: ap, port: port, echo: echo, net: net}
	if err := net.Bind(ap.Address, port, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Received is the number of packets absorbed.
func (s *Sink) Received() uint64 { return s.received }

// RxBytes is the number of payload bytes absorbed.
func (s *Sink) RxBytes() uint64 { return s.rxBytes }

// Replies is the number of echo replies sent.
func (s *Sink) Replies() uint64 { return s.replies }

// Receive implements Endpoint.
func (s *Sink) Receive(pkt Packet, from *core.Device, now time.Duration) {
	s.received++
	s.rxBytes += uint64(pkt.Size)
	if !s.echo || from == nil || !from.IsStation() {
		return
	}
	s.replies++
	reply := Packet{Key: pkt.Key.Reverse(), Size: pkt.Size, SentAt: now}
	s.net.Send(reply, s.ap, from, Downlink)
}
