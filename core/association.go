package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/slices"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/logging"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/sim/eventq"
	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

// Association defaults.
const (
	DefaultMinAssociationRSSI = -85.0
	DefaultDisassociationRSSI = -90.0
	DefaultHysteresisDB       = 3.0
	DefaultSampleInterval     = 100 * time.Millisecond
)

// AssociationConfig holds the thresholds of the station-side state machine.
type AssociationConfig struct {
	// MinAssociationRSSI is the weakest AP signal a station associates or
	// hands over to.
	MinAssociationRSSI float64
	// DisassociationRSSI: a current AP heard below this is abandoned.
	DisassociationRSSI float64
	// HysteresisDB is the margin a competing AP must beat the current one by.
	// Zero allows a handover on any strictly stronger signal.
	HysteresisDB float64
	// SampleInterval is the period of the sampling task.
	SampleInterval time.Duration
	// HoldDown suppresses Associate and hysteresis Handover decisions for
	// this long after the station last associated.
	HoldDown time.Duration
	// ReassociationDelay keeps the data link unusable after each
	// Associate or Handover.
	ReassociationDelay time.Duration
}

// DefaultAssociationConfig returns the default thresholds.
func DefaultAssociationConfig() AssociationConfig {
	return AssociationConfig{
		MinAssociationRSSI: DefaultMinAssociationRSSI,
		DisassociationRSSI: DefaultDisassociationRSSI,
		HysteresisDB:       DefaultHysteresisDB,
		SampleInterval:     DefaultSampleInterval,
	}
}

// AssociationObserver is notified of every association event.
type AssociationObserver interface {
	ObserveAssociation(ev model.AssociationEvent)
}

// SignalObserver is notified of every RSSI sample.
type SignalObserver interface {
	ObserveSignal(s model.SignalSample)
}

// DeviceSource lists the devices sampled on every tick.
type DeviceSource interface {
	Stations() []*Device
	AccessPoints() []*Device
}

// Decision is the outcome of one sample_and_decide pass for a station.
type Decision struct {
	Samples []model.SignalSample
	// Event is nil when the station stays in its state.
	Event *model.AssociationEvent
}

// AssociationEngine runs the association/handover state machine for all
// stations and owns the association log.
type AssociationEngine struct {
	cfg     AssociationConfig
	channel *RadioChannel
	log     logging.Logger

	assocObservers  []AssociationObserver
	signalObservers []SignalObserver

	events    []model.AssociationEvent
	anomalies int
}

// AssociationOption customises NewAssociationEngine.
type AssociationOption func(*AssociationEngine)

// WithAssociationLogger sets the logger.
func WithAssociationLogger(l logging.Logger) AssociationOption {
	return func(e *AssociationEngine) {
		e.log = logging.OrNoop(l)
	}
}

// WithAssociationObserver registers an observer of association events.
func WithAssociationObserver(o AssociationObserver) AssociationOption {
	return func(e *AssociationEngine) {
		if o != nil {
			e.assocObservers = append(e.assocObservers, o)
		}
	}
}

// WithSignalObserver registers an observer of RSSI samples.
func WithSignalObserver(o SignalObserver) AssociationOption {
	return func(e *AssociationEngine) {
		if o != nil {
			e.signalObservers = append(e.signalObservers, o)
		}
	}
}

// NewAssociationEngine builds an engine over channel.
func NewAssociationEngine(cfg AssociationConfig, channel *RadioChannel, opts ...AssociationOption) *AssociationEngine {
	if channel == nil {
		channel = NewRadioChannel(nil)
	}
	e := &AssociationEngine{
		cfg:     cfg,
		channel: channel,
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine thresholds.
func (e *AssociationEngine) Config() AssociationConfig { return e.cfg }

// Events returns a copy of the association log in emission order.
func (e *AssociationEngine) Events() []model.AssociationEvent {
	return slices.Clone(e.events)
}

// Anomalies counts sampling passes that failed and were skipped.
func (e *AssociationEngine) Anomalies() int { return e.anomalies }

// HandoverCount returns the number of Handover events in the log.
func (e *AssociationEngine) HandoverCount() int {
	n := 0
	for _, ev := range e.events {
		if ev.Type == model.Handover {
			n++
		}
	}
	return n
}

type candidate struct {
	ap   *Device
	rssi float64
}

// SampleAndDecide measures every AP from sta's position at now and applies
// at most one state transition. An empty aps list is a no-op.
func (e *AssociationEngine) SampleAndDecide(sta *Device, aps []*Device, now time.Duration) (Decision, error) {
	st, ok := sta.Station()
	if !ok {
		return Decision{}, fmt.Errorf("sample %s: %w", sta, ErrNotStation)
	}
	if len(aps) == 0 {
		return Decision{}, nil
	}

	pos := sta.PositionAt(now)
	samples := make([]model.SignalSample, 0, len(aps))
	var best *candidate
	current := candidate{ap: st.associated, rssi: math.Inf(-1)}

	for _, ap := range aps {
		if !ap.IsAccessPoint() {
			return Decision{}, fmt.Errorf("sample %s against %s: %w", sta, ap, ErrNotAccessPoint)
		}
		rssi := e.channel.RSSI(ap, sta, now)
		samples = append(samples, model.SignalSample{
			Time:      now,
			StationID: sta.ID(),
			APID:      ap.ID(),
			PosX:      pos.X,
			PosY:      pos.Y,
			RSSI:      rssi,
		})
		if ap == st.associated {
			current.rssi = rssi
		}
		if ap.SSID != sta.SSID {
			continue
		}
		if best == nil || rssi > best.rssi || (rssi == best.rssi && ap.ID() < best.ap.ID()) {
			best = &candidate{ap: ap, rssi: rssi}
		}
	}

	d := Decision{Samples: samples}
	for _, o := range e.signalObservers {
		for _, s := range samples {
			o.ObserveSignal(s)
		}
	}

	ev, target := e.decide(st, current, best, now)
	if ev == nil {
		return d, nil
	}
	ev.StationID = sta.ID()
	e.apply(sta, st, target, *ev)
	d.Event = ev
	return d, nil
}

// decide returns the transition to apply, if any, and the AP it moves to.
func (e *AssociationEngine) decide(st *StationState, current candidate, best *candidate, now time.Duration) (*model.AssociationEvent, *Device) {
	held := now < st.holdUntil
	qualifies := func(c *candidate) bool {
		return c != nil && c.ap != current.ap && c.rssi >= e.cfg.MinAssociationRSSI && c.rssi > current.rssi
	}

	if current.ap == nil {
		if held || best == nil || best.rssi < e.cfg.MinAssociationRSSI {
			return nil, nil
		}
		return &model.AssociationEvent{Time: now, Type: model.Associate, FromAP: model.NoNode, ToAP: best.ap.ID()}, best.ap
	}

	if current.rssi < e.cfg.DisassociationRSSI {
		// Neither the margin nor hold-down protects a link that is already lost.
		if qualifies(best) {
			return &model.AssociationEvent{Time: now, Type: model.Handover, FromAP: current.ap.ID(), ToAP: best.ap.ID()}, best.ap
		}
		return &model.AssociationEvent{Time: now, Type: model.Disassociate, FromAP: current.ap.ID(), ToAP: model.NoNode}, nil
	}

	if held || !qualifies(best) || best.rssi-current.rssi < e.cfg.HysteresisDB {
		return nil, nil
	}
	return &model.AssociationEvent{Time: now, Type: model.Handover, FromAP: current.ap.ID(), ToAP: best.ap.ID()}, best.ap
}

// apply performs exactly one transition and notifies observers.
func (e *AssociationEngine) apply(sta *Device, st *StationState, target *Device, ev model.AssociationEvent) {
	if prev := st.associated; prev != nil {
		delete(prev.ap.stations, sta.ID())
	}

	switch ev.Type {
	case model.Associate, model.Handover:
		st.associated = target
		st.associatedAt = ev.Time
		st.linkReadyAt = ev.Time + e.cfg.ReassociationDelay
		st.holdUntil = ev.Time + e.cfg.HoldDown
		target.ap.stations[sta.ID()] = sta
		sta.Phy.Channel = target.Phy.Channel
	case model.Disassociate:
		st.associated = nil
	}
	st.transitions++
	e.events = append(e.events, ev)

	e.log.Debug(context.Background(), "association event",
		logging.Duration("time", ev.Time),
		logging.String("type", ev.Type.String()),
		logging.Int("station", int(ev.StationID)),
		logging.String("from", ev.FromAP.String()),
		logging.String("to", ev.ToAP.String()),
	)
	for _, o := range e.assocObservers {
		o.ObserveAssociation(ev)
	}
}

// Start installs the recurring sampling task: every SampleInterval from
// start, each station of src is sampled against every AP of src in id
// order. A failing station is logged, counted and skipped.
func (e *AssociationEngine) Start(sched eventq.Scheduler, src DeviceSource, start time.Duration) (*eventq.Recurring, error) {
	return eventq.Every(sched, start, e.cfg.SampleInterval, func(now time.Duration) {
		aps := src.AccessPoints()
		for _, sta := range src.Stations() {
			if _, err := e.SampleAndDecide(sta, aps, now); err != nil {
				e.anomalies++
				e.log.Warn(context.Background(), "association sampling failed",
					logging.Duration("time", now),
					logging.String("station", sta.String()),
					logging.Err(err),
				)
			}
		}
	})
}
