package traffic

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/wifi-roaming-sim/core"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/sim/eventq"
	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

// ErrInvalidSource is returned for unusable source parameters.
var ErrInvalidSource = errors.New("invalid traffic source")

// Kind selects the application behaviour.
type Kind int

const (
	// Echo sends fixed-size requests on a fixed interval and expects the
	// AP to answer each with a reply of the same size.
	Echo Kind = iota
	// CBR sends at a constant bit rate with no replies.
	CBR
)

func (k Kind) String() string {
	switch k {
	case CBR:
		return "cbr"
	default:
		return "echo"
	}
}

// ParseKind accepts "echo" and "cbr".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "echo", "":
		return Echo, nil
	case "cbr", "onoff":
		return CBR, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidSource, s)
	}
}

// SourceConfig describes one station application.
type SourceConfig struct {
	Kind       Kind
	PacketSize int
	// Interval between packets. For CBR it is usually derived with
	// IntervalForRate.
	Interval   time.Duration
	MaxPackets int // 0 means unlimited
	Start      time.Duration
	Stop       time.Duration
	DestPort   uint16
}

// IntervalForRate returns the spacing of size-byte packets at rate bit/s.
func IntervalForRate(size int, rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(size) * 8 * float64(time.Second) / rate)
}

// SourceStats are the per-source counters.
type SourceStats struct {
	Sent                uint64
	DroppedUnassociated uint64
	Replies             uint64
}

// Source sends from a station to whichever AP the station is associated
// with at each send.
type Source struct {
	cfg     SourceConfig
	station *core.Device
	net     *Network
	port    uint16

	task  *eventq.Recurring
	stats SourceStats
}

// NewSource binds an ephemeral port on sta and returns an idle source.
func NewSource(net *Network, sta *core.Device, cfg SourceConfig) (*Source, error) {
	if !sta.IsStation() {
		return nil, fmt.Errorf("source on %s: %w", sta, core.ErrNotStation)
	}
	if cfg.PacketSize <= 0 {
		return nil, fmt.Errorf("%w: packet size %d", ErrInvalidSource, cfg.PacketSize)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval %v", ErrInvalidSource, cfg.Interval)
	}
	if cfg.Stop > 0 && cfg.Stop < cfg.Start {
		return nil, fmt.Errorf("%w: stop %v before start %v", ErrInvalidSource, cfg.Stop, cfg.Start)
	}

	s := &Source{cfg: cfg, station: sta, net: net, port: net.EphemeralPort(sta)}
	if err := net.Bind(sta.Address, s.port, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Port is the bound source port.
func (s *Source) Port() uint16 { return s.port }

// Station is the sending device.
func (s *Source) Station() *core.Device { return s.station }

// Config returns the source parameters.
func (s *Source) Config() SourceConfig { return s.cfg }

// Stats returns the source counters.
func (s *Source) Stats() SourceStats { return s.stats }

// Start schedules the sending task over [Start, Stop].
func (s *Source) Start() error {
	sched := s.net.Scheduler()
	delay := s.cfg.Start - sched.Now()
	if delay < 0 {
		delay = 0
	}
	task, err := eventq.Every(sched, delay, s.cfg.Interval, s.fire)
	if err != nil {
		return fmt.Errorf("start source on %s: %w", s.station, err)
	}
	s.task = task
	if s.cfg.Stop > 0 {
		// Queued ahead of any firing at Stop, so nothing is sent at Stop itself.
		if _, err := sched.ScheduleAt(s.cfg.Stop, task.Stop); err != nil {
			return fmt.Errorf("stop source on %s: %w", s.station, err)
		}
	}
	return nil
}

// Stop tears the sending task down.
func (s *Source) Stop() {
	if s.task != nil {
		s.task.Stop()
	}
}

func (s *Source) fire(now time.Duration) {
	if s.cfg.MaxPackets > 0 && s.stats.Sent+s.stats.DroppedUnassociated >= uint64(s.cfg.MaxPackets) {
		s.task.Stop()
		return
	}

	st, _ := s.station.Station()
	ap := st.AssociatedAP()
	if ap == nil {
		s.stats.DroppedUnassociated++
		s.net.DropUnassociated(s.cfg.PacketSize)
		return
	}

	key := model.FlowKey{
		Source:      s.station.Address,
		Destination: ap.Address,
		Protocol:    model.ProtocolUDP,
		SourcePort:  s.port,
		DestPort:    s.cfg.DestPort,
	}
	s.stats.Sent++
	s.net.Send(Packet{Key: key, Size: s.cfg.PacketSize, SentAt: now}, s.station, ap, Uplink)
}

// Receive counts echo replies addressed to the source port.
func (s *Source) Receive(Packet, *core.Device, time.Duration) {
	s.stats.Replies++
}
