package config

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/wifi-roaming-sim/core"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/traffic"
	"github.com/signalsfoundry/wifi-roaming-sim/timectrl"
)

// Echo and CBR parameters of the generated scenarios.
const (
	RoamingEchoPort       = 9
	RoamingEchoSize       = 4096
	RoamingEchoInterval   = 100 * time.Millisecond
	RoamingTrafficStart   = time.Second
	SaturationBasePort    = 5000
	SaturationPacketSize  = 1472
	SaturationMobilePort  = 6000
	SaturationEchoSize    = 512
	SaturationEchoPeriod  = 250 * time.Millisecond
	SaturationMobileIndex = 0
)

// APLayout is a resolved access point.
type APLayout struct {
	Name     string
	Position core.Vec3
	TxPower  float64
	Channel  int
	SSID     string
}

// VelocityStep changes a station's velocity at At.
type VelocityStep struct {
	At       time.Duration
	Velocity core.Vec3
}

// StationLayout is a resolved station. A zero Velocity with no steps means
// the station never moves.
type StationLayout struct {
	Name     string
	Position core.Vec3
	Velocity core.Vec3
	Steps    []VelocityStep
	TxPower  float64
	SSID     string
}

// Mobile reports whether the station ever moves.
func (s StationLayout) Mobile() bool {
	return s.Velocity != (core.Vec3{}) || len(s.Steps) > 0
}

// TrafficLayout is one application bound to Layout.Stations[Station].
type TrafficLayout struct {
	Station int
	Source  traffic.SourceConfig
}

// Layout is the concrete node and traffic set of a run.
type Layout struct {
	AccessPoints []APLayout
	Stations     []StationLayout
	Traffic      []TrafficLayout
}

// SinkPorts returns the ports every AP must listen on, with whether the
// sink answers (echo) or only counts.
func (l Layout) SinkPorts() map[uint16]bool {
	ports := make(map[uint16]bool)
	for _, t := range l.Traffic {
		ports[t.Source.DestPort] = ports[t.Source.DestPort] || t.Source.Kind == traffic.Echo
	}
	return ports
}

// SimDuration is the virtual run length.
func (c Config) SimDuration() time.Duration { return timectrl.Seconds(c.SimTime) }

// Layout expands the configuration into nodes and traffic. It assumes
// Validate has passed.
func (c Config) Layout() (Layout, error) {
	switch c.Scenario {
	case ScenarioRoaming:
		return c.roamingLayout()
	case ScenarioSaturation:
		return c.saturationLayout()
	case ScenarioCustom:
		return c.customLayout()
	default:
		return Layout{}, invalid("unknown scenario %q", c.Scenario)
	}
}

func (c Config) twoAPs() []APLayout {
	return []APLayout{
		{Name: "AP1", Position: core.Vec3{}, TxPower: c.APTxPower, Channel: c.Channel, SSID: c.SSID},
		{Name: "AP2", Position: core.Vec3{X: c.APDistance}, TxPower: c.APTxPower, Channel: c.Channel, SSID: c.SSID},
	}
}

// walk moves the station along +x from MoveStart and reverses it halfway
// through the run.
func (c Config) walk(st *StationLayout) {
	v := core.Vec3{X: c.Speed}
	half := c.SimDuration() / 2
	start := timectrl.Seconds(c.MoveStart)
	if start == 0 {
		st.Velocity = v
	} else {
		st.Steps = append(st.Steps, VelocityStep{At: start, Velocity: v})
	}
	if half > start {
		st.Steps = append(st.Steps, VelocityStep{At: half, Velocity: v.Scale(-1)})
	}
}

func (c Config) roamingLayout() (Layout, error) {
	l := Layout{AccessPoints: c.twoAPs()}
	for i := 0; i < c.Stations; i++ {
		st := StationLayout{
			Name:     fmt.Sprintf("STA%d", i+1),
			Position: core.Vec3{Y: 1.5 + 0.1*float64(i)},
			TxPower:  c.StationTxPower,
			SSID:     c.SSID,
		}
		c.walk(&st)
		l.Stations = append(l.Stations, st)
		l.Traffic = append(l.Traffic, TrafficLayout{
			Station: i,
			Source: traffic.SourceConfig{
				Kind:       traffic.Echo,
				PacketSize: RoamingEchoSize,
				Interval:   RoamingEchoInterval,
				Start:      RoamingTrafficStart,
				Stop:       c.SimDuration(),
				DestPort:   RoamingEchoPort,
			},
		})
	}
	return l, nil
}

func (c Config) saturationLayout() (Layout, error) {
	rate, err := ParseDataRate(c.DataRate)
	if err != nil {
		return Layout{}, invalid("data_rate: %v", err)
	}
	l := Layout{AccessPoints: c.twoAPs()}

	mobile := StationLayout{
		Name:     "STA-mobile",
		Position: core.Vec3{Y: 2},
		TxPower:  c.StationTxPower,
		SSID:     c.SSID,
	}
	c.walk(&mobile)
	l.Stations = append(l.Stations, mobile)
	l.Traffic = append(l.Traffic, TrafficLayout{
		Station: SaturationMobileIndex,
		Source: traffic.SourceConfig{
			Kind:       traffic.Echo,
			PacketSize: SaturationEchoSize,
			Interval:   SaturationEchoPeriod,
			Start:      RoamingTrafficStart,
			Stop:       c.SimDuration(),
			DestPort:   SaturationMobilePort,
		},
	})

	for i := 0; i < c.FixedStations; i++ {
		l.Stations = append(l.Stations, StationLayout{
			Name:     fmt.Sprintf("STA-fixed%d", i+1),
			Position: core.Vec3{X: 2 + 0.5*float64(i), Y: 1 + float64(i)},
			TxPower:  c.StationTxPower,
			SSID:     c.SSID,
		})
		l.Traffic = append(l.Traffic, TrafficLayout{
			Station: len(l.Stations) - 1,
			Source: traffic.SourceConfig{
				Kind:       traffic.CBR,
				PacketSize: SaturationPacketSize,
				Interval:   traffic.IntervalForRate(SaturationPacketSize, rate),
				Start:      RoamingTrafficStart,
				Stop:       c.SimDuration(),
				DestPort:   uint16(SaturationBasePort + i),
			},
		})
	}
	return l, nil
}

func vec(v Vec) core.Vec3 { return core.Vec3{X: v.X, Y: v.Y, Z: v.Z} }

func orDefault(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func orString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (c Config) customLayout() (Layout, error) {
	var l Layout
	for _, ap := range c.Custom.AccessPoints {
		ch := ap.Channel
		if ch == 0 {
			ch = c.Channel
		}
		l.AccessPoints = append(l.AccessPoints, APLayout{
			Name:     ap.Name,
			Position: vec(ap.Position),
			TxPower:  orDefault(ap.TxPower, c.APTxPower),
			Channel:  ch,
			SSID:     orString(ap.SSID, c.SSID),
		})
	}

	index := make(map[string]int)
	for i, st := range c.Custom.Stations {
		index[st.Name] = i
		sl := StationLayout{
			Name:     st.Name,
			Position: vec(st.Position),
			Velocity: vec(st.Velocity),
			TxPower:  orDefault(st.TxPower, c.StationTxPower),
			SSID:     orString(st.SSID, c.SSID),
		}
		for _, vc := range st.VelocityChanges {
			sl.Steps = append(sl.Steps, VelocityStep{At: timectrl.Seconds(vc.At), Velocity: vec(vc.Velocity)})
		}
		l.Stations = append(l.Stations, sl)
	}

	for i, tr := range c.Custom.Traffic {
		idx, ok := index[tr.Station]
		if !ok {
			return Layout{}, invalid("traffic[%d] references unknown station %q", i, tr.Station)
		}
		kind, err := traffic.ParseKind(tr.Kind)
		if err != nil {
			return Layout{}, invalid("traffic[%d]: %v", i, err)
		}
		interval := timectrl.Seconds(tr.Interval)
		if tr.DataRate != "" {
			rate, err := ParseDataRate(tr.DataRate)
			if err != nil {
				return Layout{}, invalid("traffic[%d] data_rate: %v", i, err)
			}
			interval = traffic.IntervalForRate(tr.PacketSize, rate)
		}
		stop := timectrl.Seconds(tr.Stop)
		if stop == 0 {
			stop = c.SimDuration()
		}
		l.Traffic = append(l.Traffic, TrafficLayout{
			Station: idx,
			Source: traffic.SourceConfig{
				Kind:       kind,
				PacketSize: tr.PacketSize,
				Interval:   interval,
				MaxPackets: tr.MaxPackets,
				Start:      timectrl.Seconds(tr.Start),
				Stop:       stop,
				DestPort:   uint16(tr.Port),
			},
		})
	}
	return l, nil
}

// AssociationConfig converts the association section to engine form.
func (c Config) AssociationConfig() core.AssociationConfig {
	a := c.Association
	return core.AssociationConfig{
		MinAssociationRSSI: a.MinAssociationRSSI,
		DisassociationRSSI: a.DisassociationRSSI,
		HysteresisDB:       a.HysteresisDB,
		SampleInterval:     timectrl.Seconds(a.SampleInterval),
		HoldDown:           timectrl.Seconds(a.HoldDown),
		ReassociationDelay: timectrl.Seconds(a.ReassociationDelay),
	}
}

// MediumConfig converts the medium section to network form.
func (c Config) MediumConfig() (traffic.MediumConfig, error) {
	rate, err := ParseDataRate(c.Medium.PhyRate)
	if err != nil {
		return traffic.MediumConfig{}, invalid("medium.phy_rate: %v", err)
	}
	return traffic.MediumConfig{
		PhyRate:          rate,
		MACOverheadBytes: c.Medium.MACOverheadBytes,
		FrameOverhead:    timectrl.Seconds(c.Medium.FrameOverhead),
		MaxQueueDelay:    timectrl.Seconds(c.Medium.MaxQueueDelay),
	}, nil
}

// PropagationModel builds the log-distance model.
func (c Config) PropagationModel() *core.LogDistance {
	return &core.LogDistance{
		Exponent:          c.Propagation.Exponent,
		ReferenceDistance: c.Propagation.ReferenceDistance,
		ReferenceLoss:     c.Propagation.ReferenceLoss,
	}
}
