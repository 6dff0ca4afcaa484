package core

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/sim/eventq"
	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

type staticSource struct {
	stations []*Device
	aps      []*Device
}

func (s *staticSource) Stations() []*Device     { return s.stations }
func (s *staticSource) AccessPoints() []*Device { return s.aps }

type recordingObserver struct {
	events  []model.AssociationEvent
	samples int
}

func (r *recordingObserver) ObserveAssociation(ev model.AssociationEvent) {
	r.events = append(r.events, ev)
}

func (r *recordingObserver) ObserveSignal(model.SignalSample) { r.samples++ }

// twoAPs places AP0 at x=0 and AP1 at x=60.
func twoAPs() []*Device {
	return []*Device{
		newTestAP(0, Vec3{}, 16),
		newTestAP(1, Vec3{X: 60}, 16),
	}
}

// xForAdvantage returns the x at which AP1 beats AP0 by diff dB.
func xForAdvantage(diff float64) float64 {
	r := math.Pow(10, diff/(10*DefaultPathLossExponent))
	return 60 * r / (1 + r)
}

func runEngine(t *testing.T, cfg AssociationConfig, sta *Device, aps []*Device, stop time.Duration, opts ...AssociationOption) *AssociationEngine {
	t.Helper()
	q := eventq.New()
	e := NewAssociationEngine(cfg, nil, opts...)
	if _, err := e.Start(q, &staticSource{stations: []*Device{sta}, aps: aps}, 0); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := q.RunUntil(context.Background(), stop); err != nil {
		t.Fatalf("RunUntil error: %v", err)
	}
	return e
}

func countType(events []model.AssociationEvent, typ model.AssociationEventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestSampleAndDecide_EmptyAPListIsNoop(t *testing.T) {
	e := NewAssociationEngine(DefaultAssociationConfig(), nil)
	sta := newTestStation(2, &ConstantPosition{})

	d, err := e.SampleAndDecide(sta, nil, 0)
	if err != nil {
		t.Fatalf("SampleAndDecide error: %v", err)
	}
	if d.Event != nil || len(d.Samples) != 0 {
		t.Fatalf("expected no-op decision, got %+v", d)
	}
	if st, _ := sta.Station(); st.Associated() {
		t.Fatalf("station must stay unassociated")
	}
}

func TestSampleAndDecide_RejectsNonStation(t *testing.T) {
	e := NewAssociationEngine(DefaultAssociationConfig(), nil)
	aps := twoAPs()

	_, err := e.SampleAndDecide(aps[0], aps, 0)
	if !errors.Is(err, ErrNotStation) {
		t.Fatalf("error = %v, want ErrNotStation", err)
	}
}

func TestSampleAndDecide_AssociatesToStrongest(t *testing.T) {
	obs := &recordingObserver{}
	e := NewAssociationEngine(DefaultAssociationConfig(), nil, WithAssociationObserver(obs), WithSignalObserver(obs))
	aps := twoAPs()
	sta := newTestStation(2, &ConstantPosition{Position: Vec3{X: 50, Y: 1}})

	d, err := e.SampleAndDecide(sta, aps, 0)
	if err != nil {
		t.Fatalf("SampleAndDecide error: %v", err)
	}
	if d.Event == nil || d.Event.Type != model.Associate || d.Event.ToAP != 1 || d.Event.FromAP != model.NoNode {
		t.Fatalf("event = %+v, want Associate to AP 1", d.Event)
	}
	if len(d.Samples) != 2 || obs.samples != 2 {
		t.Fatalf("samples = %d (observed %d), want 2", len(d.Samples), obs.samples)
	}
	if d.Samples[0].PosX != 50 || d.Samples[0].PosY != 1 {
		t.Fatalf("sample position = (%v,%v), want (50,1)", d.Samples[0].PosX, d.Samples[0].PosY)
	}
	st, _ := sta.Station()
	if st.AssociatedAP() != aps[1] {
		t.Fatalf("associated to %v, want AP 1", st.AssociatedAP())
	}
	if info, _ := aps[1].AccessPoint(); !info.HasStation(2) {
		t.Fatalf("AP 1 does not list the station")
	}
	if len(obs.events) != 1 {
		t.Fatalf("observer saw %d events, want 1", len(obs.events))
	}
}

func TestSampleAndDecide_BelowMinimumStaysUnassociated(t *testing.T) {
	e := NewAssociationEngine(DefaultAssociationConfig(), nil)
	aps := twoAPs()
	// About -91 dBm from both APs.
	sta := newTestStation(2, &ConstantPosition{Position: Vec3{X: 30, Y: 100}})

	d, err := e.SampleAndDecide(sta, aps, 0)
	if err != nil {
		t.Fatalf("SampleAndDecide error: %v", err)
	}
	if d.Event != nil {
		t.Fatalf("unexpected event %+v", d.Event)
	}
}

func TestSampleAndDecide_IgnoresForeignSSID(t *testing.T) {
	e := NewAssociationEngine(DefaultAssociationConfig(), nil)
	aps := twoAPs()
	aps[0].SSID = "other"
	sta := newTestStation(2, &ConstantPosition{Position: Vec3{X: 5}})

	d, _ := e.SampleAndDecide(sta, aps, 0)
	if d.Event == nil || d.Event.ToAP != 1 {
		t.Fatalf("event = %+v, want Associate to AP 1 despite AP 0 being closer", d.Event)
	}
	if len(d.Samples) != 2 {
		t.Fatalf("foreign APs must still be sampled, got %d samples", len(d.Samples))
	}
}

func TestSampleAndDecide_TieBreaksOnLowestID(t *testing.T) {
	e := NewAssociationEngine(DefaultAssociationConfig(), nil)
	aps := twoAPs()
	sta := newTestStation(2, &ConstantPosition{Position: Vec3{X: 30}})

	d, _ := e.SampleAndDecide(sta, []*Device{aps[1], aps[0]}, 0)
	if d.Event == nil || d.Event.ToAP != 0 {
		t.Fatalf("event = %+v, want Associate to AP 0", d.Event)
	}
}

func TestHysteresis_MarginMustBeMet(t *testing.T) {
	cfg := DefaultAssociationConfig()
	cfg.DisassociationRSSI = -200
	e := NewAssociationEngine(cfg, nil)
	aps := twoAPs()
	pos := &ConstantPosition{Position: Vec3{X: 1}}
	sta := newTestStation(2, pos)

	if d, _ := e.SampleAndDecide(sta, aps, 0); d.Event == nil || d.Event.ToAP != 0 {
		t.Fatalf("expected initial association to AP 0, got %+v", d.Event)
	}

	for i, diff := range []float64{-1, 0, 1, 2.9} {
		pos.Position = Vec3{X: xForAdvantage(diff)}
		d, _ := e.SampleAndDecide(sta, aps, time.Duration(i+1)*time.Second)
		if d.Event != nil {
			t.Fatalf("advantage %.1f dB triggered %+v, want no transition", diff, d.Event)
		}
	}

	pos.Position = Vec3{X: xForAdvantage(3.1)}
	d, _ := e.SampleAndDecide(sta, aps, 10*time.Second)
	if d.Event == nil || d.Event.Type != model.Handover || d.Event.FromAP != 0 || d.Event.ToAP != 1 {
		t.Fatalf("advantage 3.1 dB gave %+v, want Handover 0->1", d.Event)
	}
}

func TestHysteresis_EqualSignalNeverHandsOverWithZeroMargin(t *testing.T) {
	cfg := DefaultAssociationConfig()
	cfg.HysteresisDB = 0
	e := NewAssociationEngine(cfg, nil)
	aps := twoAPs()
	sta := newTestStation(2, &ConstantPosition{Position: Vec3{X: 30}})

	for i := 0; i < 20; i++ {
		_, _ = e.SampleAndDecide(sta, aps, time.Duration(i)*100*time.Millisecond)
	}
	events := e.Events()
	if len(events) != 1 || events[0].Type != model.Associate {
		t.Fatalf("events = %+v, want a single Associate", events)
	}
}

func TestDisassociation_WithoutAlternative(t *testing.T) {
	e := NewAssociationEngine(DefaultAssociationConfig(), nil)
	ap := newTestAP(0, Vec3{}, 16)
	pos := &ConstantPosition{Position: Vec3{X: 5}}
	sta := newTestStation(2, pos)

	_, _ = e.SampleAndDecide(sta, []*Device{ap}, 0)
	pos.Position = Vec3{X: 150} // ~-96 dBm
	d, _ := e.SampleAndDecide(sta, []*Device{ap}, time.Second)

	if d.Event == nil || d.Event.Type != model.Disassociate || d.Event.FromAP != 0 || d.Event.ToAP != model.NoNode {
		t.Fatalf("event = %+v, want Disassociate from AP 0", d.Event)
	}
	if st, _ := sta.Station(); st.Associated() {
		t.Fatalf("station still associated")
	}
	if info, _ := ap.AccessPoint(); info.NumStations() != 0 {
		t.Fatalf("AP still lists %d stations", info.NumStations())
	}
}

func TestDisassociation_MissingCurrentAPCountsAsLost(t *testing.T) {
	e := NewAssociationEngine(DefaultAssociationConfig(), nil)
	aps := twoAPs()
	sta := newTestStation(2, &ConstantPosition{Position: Vec3{X: 10}})

	_, _ = e.SampleAndDecide(sta, aps, 0)
	d, _ := e.SampleAndDecide(sta, aps[1:], time.Second)
	if d.Event == nil || d.Event.Type != model.Handover || d.Event.ToAP != 1 {
		t.Fatalf("event = %+v, want Handover to the remaining AP", d.Event)
	}
}

func TestHoldDownSuppressesHandover(t *testing.T) {
	cfg := DefaultAssociationConfig()
	cfg.HoldDown = 5 * time.Second
	e := NewAssociationEngine(cfg, nil)
	aps := twoAPs()
	pos := &ConstantPosition{Position: Vec3{X: 1}}
	sta := newTestStation(2, pos)

	_, _ = e.SampleAndDecide(sta, aps, 0)
	pos.Position = Vec3{X: 50}
	if d, _ := e.SampleAndDecide(sta, aps, time.Second); d.Event != nil {
		t.Fatalf("handover during hold-down: %+v", d.Event)
	}
	if d, _ := e.SampleAndDecide(sta, aps, 5*time.Second); d.Event == nil || d.Event.Type != model.Handover {
		t.Fatalf("expected handover after hold-down expired, got %+v", d.Event)
	}
}

func TestReassociationDelayGatesLink(t *testing.T) {
	cfg := DefaultAssociationConfig()
	cfg.ReassociationDelay = 50 * time.Millisecond
	e := NewAssociationEngine(cfg, nil)
	sta := newTestStation(2, &ConstantPosition{Position: Vec3{X: 1}})

	_, _ = e.SampleAndDecide(sta, twoAPs(), time.Second)
	st, _ := sta.Station()
	if st.LinkReady(time.Second + 10*time.Millisecond) {
		t.Fatalf("link ready before reassociation delay")
	}
	if !st.LinkReady(time.Second + 50*time.Millisecond) {
		t.Fatalf("link not ready after reassociation delay")
	}
}

// A station walking from AP0 towards AP1 at 2 m/s from t=1s crosses the
// -75 dBm disassociation level at ~30 m and must hand over exactly once.
func TestScenario_SingleHandoverNearMidpoint(t *testing.T) {
	cfg := DefaultAssociationConfig()
	cfg.DisassociationRSSI = -75
	aps := twoAPs()
	mob := NewConstantVelocity(Vec3{}, Vec3{})
	sta := newTestStation(2, mob)

	q := eventq.New()
	if _, err := ScheduleVelocityChange(q, mob, time.Second, Vec3{X: 2}); err != nil {
		t.Fatalf("ScheduleVelocityChange error: %v", err)
	}
	e := NewAssociationEngine(cfg, nil)
	if _, err := e.Start(q, &staticSource{stations: []*Device{sta}, aps: aps}, 0); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := q.RunUntil(context.Background(), 40*time.Second); err != nil {
		t.Fatalf("RunUntil error: %v", err)
	}

	events := e.Events()
	if got := countType(events, model.Handover); got != 1 {
		t.Fatalf("handovers = %d, want 1 (events %+v)", got, events)
	}
	for _, ev := range events {
		if ev.Type != model.Handover {
			continue
		}
		if s := ev.Time.Seconds(); s < 15.5 || s > 17 {
			t.Fatalf("handover at %.2fs, want near 16s", s)
		}
		if ev.FromAP != 0 || ev.ToAP != 1 {
			t.Fatalf("handover %d->%d, want 0->1", ev.FromAP, ev.ToAP)
		}
	}
	if events[0].Type != model.Associate || events[0].Time != 0 {
		t.Fatalf("first event = %+v, want Associate at t=0", events[0])
	}
}

func TestScenario_NoMovementNoHandover(t *testing.T) {
	cfg := DefaultAssociationConfig()
	cfg.DisassociationRSSI = -75
	sta := newTestStation(2, NewConstantVelocity(Vec3{}, Vec3{}))

	e := runEngine(t, cfg, sta, twoAPs(), 40*time.Second)
	if got := countType(e.Events(), model.Handover); got != 0 {
		t.Fatalf("handovers = %d, want 0", got)
	}
	if got := len(e.Events()); got != 1 {
		t.Fatalf("events = %d, want the initial Associate only", got)
	}
}

// jitterMobility flips the station 0.5 m either side of the midpoint on every
// sample period.
type jitterMobility struct {
	period time.Duration
}

func (j jitterMobility) PositionAt(t time.Duration) Vec3 {
	if (t/j.period)%2 == 0 {
		return Vec3{X: 30.5}
	}
	return Vec3{X: 29.5}
}

func (j jitterMobility) VelocityAt(time.Duration) Vec3 { return Vec3{} }

// With no margin a station hovering at the midpoint hands over on every
// sample. This is a known risk of HysteresisDB=0: the number of transitions
// is bounded by the sampling rate, never more than one per sample.
func TestZeroMargin_OscillationIsBoundedBySampling(t *testing.T) {
	cfg := DefaultAssociationConfig()
	cfg.HysteresisDB = 0
	sta := newTestStation(2, jitterMobility{period: cfg.SampleInterval})
	window := 10 * time.Second

	e := runEngine(t, cfg, sta, twoAPs(), window)

	samples := int(window/cfg.SampleInterval) + 1
	st, _ := sta.Station()
	if st.Transitions() > samples {
		t.Fatalf("transitions = %d, exceeds one per sample (%d)", st.Transitions(), samples)
	}
	if countType(e.Events(), model.Handover) == 0 {
		t.Fatalf("expected zero-margin flapping to be observable")
	}
}

func TestZeroMargin_HoldDownBoundsOscillation(t *testing.T) {
	cfg := DefaultAssociationConfig()
	cfg.HysteresisDB = 0
	cfg.HoldDown = time.Second
	sta := newTestStation(2, jitterMobility{period: cfg.SampleInterval})
	window := 10 * time.Second

	e := runEngine(t, cfg, sta, twoAPs(), window)

	limit := int(window/cfg.HoldDown) + 1
	if got := len(e.Events()); got > limit {
		t.Fatalf("transitions = %d, want at most %d with a 1s hold-down", got, limit)
	}
}

func TestDefaultMargin_NoOscillationAtMidpoint(t *testing.T) {
	cfg := DefaultAssociationConfig()
	sta := newTestStation(2, jitterMobility{period: cfg.SampleInterval})

	e := runEngine(t, cfg, sta, twoAPs(), 10*time.Second)
	if got := countType(e.Events(), model.Handover); got != 0 {
		t.Fatalf("handovers = %d, want 0 with a 3 dB margin", got)
	}
}

func TestAssociationIsDeterministic(t *testing.T) {
	run := func() []model.AssociationEvent {
		cfg := DefaultAssociationConfig()
		cfg.HysteresisDB = 0
		sta := newTestStation(2, jitterMobility{period: 300 * time.Millisecond})
		return runEngine(t, cfg, sta, twoAPs(), 20*time.Second).Events()
	}

	first := run()
	for i := 0; i < 3; i++ {
		again := run()
		if len(again) != len(first) {
			t.Fatalf("run %d produced %d events, want %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d event %d = %+v, want %+v", i, j, again[j], first[j])
			}
		}
	}
}

func TestStartCountsFailingStations(t *testing.T) {
	q := eventq.New()
	e := NewAssociationEngine(DefaultAssociationConfig(), nil)
	aps := twoAPs()
	src := &staticSource{stations: []*Device{aps[0]}, aps: aps}

	if _, err := e.Start(q, src, 0); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := q.RunUntil(context.Background(), 250*time.Millisecond); err != nil {
		t.Fatalf("RunUntil error: %v", err)
	}
	if got := e.Anomalies(); got != 3 {
		t.Fatalf("anomalies = %d, want 3", got)
	}
}
