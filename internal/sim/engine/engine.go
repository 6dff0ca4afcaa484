// Package engine assembles a complete run from a configuration: devices,
// mobility, association sampling, traffic and trace output on one event
// queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/exp/slices"

	"github.com/signalsfoundry/wifi-roaming-sim/core"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/config"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/flowmon"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/logging"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/observability"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/report"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/sim/eventq"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/trace"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/traffic"
	"github.com/signalsfoundry/wifi-roaming-sim/kb"
	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

var (
	// ErrAlreadyRun is returned by a second call to Run.
	ErrAlreadyRun = errors.New("simulation already run")
	// ErrTooManyNodes is returned when the layout does not fit the 10.1.1.0/24
	// addressing plan.
	ErrTooManyNodes = errors.New("too many nodes for address plan")
)

// maxNodes is the number of host addresses in 10.1.1.0/24.
const maxNodes = 254

// Option customises New.
type Option func(*Simulation)

// WithLogger sets the run logger. A run_id field is added at Run.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulation) {
		s.log = logging.OrNoop(l)
	}
}

// WithSinks adds trace sinks on top of the ones named by the output
// configuration. The simulation closes them when the run ends.
func WithSinks(sinks ...trace.Sink) Option {
	return func(s *Simulation) {
		s.extraSinks = append(s.extraSinks, sinks...)
	}
}

// WithCollector attaches Prometheus run metrics.
func WithCollector(c *observability.SimCollector) Option {
	return func(s *Simulation) {
		s.collector = c
	}
}

// WithPacer holds the event loop back, e.g. for real-time runs.
func WithPacer(p eventq.Pacer) Option {
	return func(s *Simulation) {
		s.pacer = p
	}
}

// WithAssociationObserver registers an extra observer of association
// events.
func WithAssociationObserver(o core.AssociationObserver) Option {
	return func(s *Simulation) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// Anomalies counts the recoverable problems of a run by origin.
type Anomalies struct {
	Association int // sampling failures
	Flow        int // unknown flows and rx beyond tx
	Network     int // deliveries with no binding or registry entry
	Trace       int // failed sink writes
	Panics      int // recovered event actions
}

// Total sums every counter.
func (a Anomalies) Total() int {
	return a.Association + a.Flow + a.Network + a.Trace + a.Panics
}

// SourceReport is the final state of one traffic source.
type SourceReport struct {
	Station string
	Kind    traffic.Kind
	Port    uint16
	Stats   traffic.SourceStats
}

// Result is everything a finished run produced.
type Result struct {
	RunID           string
	EndTime         time.Duration
	EventsProcessed uint64
	Events          []model.AssociationEvent
	Samples         int
	Flows           []model.FlowStats
	Network         traffic.Stats
	Sources         []SourceReport
	Summary         report.Summary
	Occupancy       []APOccupancy
	Anomalies       Anomalies
	SQLitePath      string
}

// Handovers counts Handover events.
func (r *Result) Handovers() int {
	n := 0
	for _, ev := range r.Events {
		if ev.Type == model.Handover {
			n++
		}
	}
	return n
}

// Simulation owns every component of one run. It is single-use.
type Simulation struct {
	cfg config.Config

	log        logging.Logger
	extraSinks []trace.Sink
	collector  *observability.SimCollector
	pacer      eventq.Pacer
	observers  []core.AssociationObserver

	queue    *eventq.Queue
	registry *kb.KnowledgeBase
	channel  *core.RadioChannel
	assoc    *core.AssociationEngine
	network  *traffic.Network
	flows    *flowmon.Recorder
	sampler  *eventq.Recurring
	sources  []*traffic.Source
	sinks    trace.Multi
	recorder *trace.Observer
	signals  *signalLog

	occupancy   *occupancy
	unsubscribe func()

	sqlitePath string
	panics     int
	ran        bool
}

// New validates cfg and returns an idle simulation.
func New(cfg config.Config, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulation{cfg: cfg, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the run configuration.
func (s *Simulation) Config() config.Config { return s.cfg }

// KnowledgeBase returns the device registry. It is nil before Run.
func (s *Simulation) KnowledgeBase() *kb.KnowledgeBase { return s.registry }

// Run builds the scenario, drives the event loop to sim_time and flushes
// every sink. Setup errors abort before the loop starts; anomalies during
// the loop are counted in Result.Anomalies. A cancelled ctx stops the loop
// early and the partial result is still finalised.
func (s *Simulation) Run(ctx context.Context) (*Result, error) {
	if s.ran {
		return nil, ErrAlreadyRun
	}
	s.ran = true

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, log := logging.WithRunLogger(ctx, s.log)
	s.log = log
	runID := logging.RunIDFromContext(ctx)
	wallStart := time.Now()

	ctx, span := observability.StartSpan(ctx, "simulation",
		attribute.String("scenario", string(s.cfg.Scenario)),
		attribute.Float64("sim_time", s.cfg.SimTime),
	)
	defer span.End()

	if err := s.setup(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		_ = s.closeSinks()
		return nil, err
	}

	stop := s.cfg.SimDuration()
	log.Info(ctx, "simulation started",
		logging.String("scenario", string(s.cfg.Scenario)),
		logging.Int("access_points", len(s.registry.AccessPoints())),
		logging.Int("stations", len(s.registry.Stations())),
		logging.Int("sources", len(s.sources)),
		logging.Duration("sim_time", stop),
	)

	loopCtx, loopSpan := observability.StartSpan(ctx, "simulation.loop")
	runErr := s.queue.RunUntil(loopCtx, stop)
	loopSpan.SetAttributes(attribute.Int64("events", int64(s.queue.Processed())))
	if runErr != nil {
		loopSpan.RecordError(runErr)
		log.Warn(ctx, "event loop interrupted", logging.Err(runErr), logging.Duration("now", s.queue.Now()))
	}
	loopSpan.End()

	res, finErr := s.finalize(ctx, runID)
	if s.collector != nil {
		s.collector.ObserveRun(time.Since(wallStart))
	}

	err := errors.Join(runErr, finErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	log.Info(ctx, "simulation finished",
		logging.Duration("end_time", res.EndTime),
		logging.Int("handovers", res.Handovers()),
		logging.Int("flows", len(res.Flows)),
		logging.Int("anomalies", res.Anomalies.Total()),
		logging.String("wall_time", time.Since(wallStart).String()),
	)
	return res, err
}

func (s *Simulation) setup(ctx context.Context) error {
	_, span := observability.StartSpan(ctx, "simulation.setup")
	defer span.End()

	layout, err := s.cfg.Layout()
	if err != nil {
		return err
	}
	if n := len(layout.AccessPoints) + len(layout.Stations); n > maxNodes {
		return fmt.Errorf("%d nodes: %w", n, ErrTooManyNodes)
	}
	medium, err := s.cfg.MediumConfig()
	if err != nil {
		return err
	}

	opts := []eventq.Option{eventq.WithPanicHandler(s.onPanic)}
	if s.pacer != nil {
		opts = append(opts, eventq.WithPacer(s.pacer))
	}
	s.queue = eventq.New(opts...)
	if s.collector != nil {
		s.queue.AcceptHook(s.collector)
	}

	s.registry = kb.NewKnowledgeBase()
	s.occupancy = newOccupancy(s.registry)
	s.unsubscribe = s.registry.Subscribe(s.occupancy.handle)
	s.channel = core.NewRadioChannel(s.cfg.PropagationModel())

	stations, err := s.buildDevices(layout)
	if err != nil {
		return err
	}

	if err := s.openSinks(); err != nil {
		return err
	}
	s.recorder = trace.NewObserver(s.sinks)
	s.signals = &signalLog{}

	assocOpts := []core.AssociationOption{
		core.WithAssociationLogger(s.log),
		core.WithAssociationObserver(s.registry),
		core.WithAssociationObserver(s.recorder),
		core.WithSignalObserver(s.recorder),
		core.WithSignalObserver(s.signals),
	}
	if s.collector != nil {
		assocOpts = append(assocOpts, core.WithAssociationObserver(s.collector))
	}
	for _, o := range s.observers {
		assocOpts = append(assocOpts, core.WithAssociationObserver(o))
	}
	s.assoc = core.NewAssociationEngine(s.cfg.AssociationConfig(), s.channel, assocOpts...)
	if s.sampler, err = s.assoc.Start(s.queue, s.registry, 0); err != nil {
		return fmt.Errorf("start association sampling: %w", err)
	}

	s.flows = flowmon.NewRecorder()
	netOpts := []traffic.Option{traffic.WithLogger(s.log)}
	if s.collector != nil {
		netOpts = append(netOpts, traffic.WithObserver(s.collector))
	}
	s.network = traffic.NewNetwork(s.queue, s.channel, s.registry, s.flows, medium, netOpts...)

	return s.buildTraffic(layout, stations)
}

func addressFor(id model.NodeID) netip.Addr {
	return netip.AddrFrom4([4]byte{10, 1, 1, byte(int(id) + 1)})
}

// APMACNamer names an AP by its MAC address, the way the handover log
// identifies access points.
func APMACNamer(id model.NodeID) string {
	if !id.Valid() {
		return ""
	}
	return core.MACForIndex(int(id) + 1).String()
}

// buildDevices registers APs first, then stations, with ids in that order.
func (s *Simulation) buildDevices(l config.Layout) ([]*core.Device, error) {
	next := 0
	add := func(name string, mob core.MobilityModel, build func(*core.Node, net4) *core.Device) (*core.Device, error) {
		id := model.NodeID(next)
		next++
		node := &core.Node{ID: id, Name: name, Mobility: mob}
		if err := s.registry.AddNode(node); err != nil {
			return nil, err
		}
		dev := build(node, net4{mac: core.MACForIndex(next), addr: addressFor(id)})
		if err := s.registry.AddDevice(dev); err != nil {
			return nil, err
		}
		return dev, nil
	}

	for _, ap := range l.AccessPoints {
		phy := core.Phy{TxPowerDBm: ap.TxPower, Channel: ap.Channel, RxSensitivityDBm: s.cfg.RxSensitivity}
		ssid := ap.SSID
		if _, err := add(ap.Name, &core.ConstantPosition{Position: ap.Position}, func(n *core.Node, a net4) *core.Device {
			return core.NewAccessPoint(n, ssid, phy, a.mac, a.addr)
		}); err != nil {
			return nil, fmt.Errorf("add access point %s: %w", ap.Name, err)
		}
	}

	stations := make([]*core.Device, 0, len(l.Stations))
	for _, st := range l.Stations {
		var mob core.MobilityModel = &core.ConstantPosition{Position: st.Position}
		var moving *core.ConstantVelocity
		if st.Mobile() {
			moving = core.NewConstantVelocity(st.Position, st.Velocity)
			mob = moving
		}
		phy := core.Phy{TxPowerDBm: st.TxPower, Channel: s.cfg.Channel, RxSensitivityDBm: s.cfg.RxSensitivity}
		ssid := st.SSID
		dev, err := add(st.Name, mob, func(n *core.Node, a net4) *core.Device {
			return core.NewStation(n, ssid, phy, a.mac, a.addr)
		})
		if err != nil {
			return nil, fmt.Errorf("add station %s: %w", st.Name, err)
		}
		for _, step := range st.Steps {
			if _, err := core.ScheduleVelocityChange(s.queue, moving, step.At, step.Velocity); err != nil {
				return nil, fmt.Errorf("station %s velocity change at %v: %w", st.Name, step.At, err)
			}
		}
		stations = append(stations, dev)
	}
	return stations, nil
}

type net4 struct {
	mac  net.HardwareAddr
	addr netip.Addr
}

func (s *Simulation) buildTraffic(l config.Layout, stations []*core.Device) error {
	ports := l.SinkPorts()
	sorted := make([]uint16, 0, len(ports))
	for p := range ports {
		sorted = append(sorted, p)
	}
	slices.Sort(sorted)
	for _, ap := range s.registry.AccessPoints() {
		for _, port := range sorted {
			if _, err := traffic.NewSink(s.network, ap, port, ports[port]); err != nil {
				return fmt.Errorf("sink %s:%d: %w", ap, port, err)
			}
		}
	}

	for _, t := range l.Traffic {
		sta := stations[t.Station]
		src, err := traffic.NewSource(s.network, sta, t.Source)
		if err != nil {
			return fmt.Errorf("source on %s: %w", sta.Node.Name, err)
		}
		if err := src.Start(); err != nil {
			return err
		}
		s.sources = append(s.sources, src)
	}
	return nil
}

func (s *Simulation) openSinks() error {
	out := s.cfg.Output
	var sinks trace.Multi
	if out.CSV || out.SQLite {
		if err := os.MkdirAll(out.Dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if out.CSV {
		csv, err := trace.NewCSVSink(out.Dir, trace.WithAPNamer(APMACNamer))
		if err != nil {
			return err
		}
		sinks = append(sinks, csv)
	}
	if out.SQLite {
		path := out.SQLitePath
		if path == "" {
			path = trace.DefaultSQLitePath(out.Dir)
		}
		db, err := trace.NewSQLiteSink(path)
		if err != nil {
			_ = sinks.Close()
			return err
		}
		s.sqlitePath = path
		sinks = append(sinks, db)
	}
	s.sinks = append(sinks, s.extraSinks...)
	return nil
}

func (s *Simulation) closeSinks() error {
	if s.sinks == nil {
		return trace.Multi(s.extraSinks).Close()
	}
	return s.sinks.Close()
}

func (s *Simulation) onPanic(h *eventq.Handle, recovered any) {
	s.panics++
	s.log.Error(context.Background(), "event action panicked",
		logging.Duration("at", h.Time()),
		logging.Any("panic", recovered),
	)
}

func (s *Simulation) finalize(ctx context.Context, runID string) (*Result, error) {
	_, span := observability.StartSpan(ctx, "simulation.finalize")
	defer span.End()

	s.sampler.Stop()
	for _, src := range s.sources {
		src.Stop()
	}
	s.unsubscribe()

	flows := flowmon.Sorted(s.flows.Finalize())
	var errs []error
	if err := s.sinks.RecordFlows(flows); err != nil {
		errs = append(errs, fmt.Errorf("write flow stats: %w", err))
	}
	if err := s.closeSinks(); err != nil {
		errs = append(errs, fmt.Errorf("close trace sinks: %w", err))
	}

	traceFailures, traceErr := s.recorder.Failures()
	if traceErr != nil {
		s.log.Warn(ctx, "trace records dropped", logging.Int("count", traceFailures), logging.Err(traceErr))
	}

	events := s.assoc.Events()
	res := &Result{
		RunID:           runID,
		EndTime:         s.queue.Now(),
		EventsProcessed: s.queue.Processed(),
		Events:          events,
		Samples:         len(s.signals.samples),
		Flows:           flows,
		Network:         s.network.Stats(),
		Summary:         report.FromRecords(events, s.signals.samples, flows),
		Occupancy:       s.occupancy.snapshot(),
		SQLitePath:      s.sqlitePath,
		Anomalies: Anomalies{
			Association: s.assoc.Anomalies(),
			Flow:        s.flows.Anomalies(),
			Network:     int(s.network.Stats().Anomalies),
			Trace:       traceFailures,
			Panics:      s.panics,
		},
	}
	for _, src := range s.sources {
		res.Sources = append(res.Sources, SourceReport{
			Station: src.Station().Node.Name,
			Kind:    src.Config().Kind,
			Port:    src.Port(),
			Stats:   src.Stats(),
		})
	}

	if s.collector != nil {
		s.collector.AddAnomalies("association", res.Anomalies.Association)
		s.collector.AddAnomalies("flow", res.Anomalies.Flow)
		s.collector.AddAnomalies("network", res.Anomalies.Network)
		s.collector.AddAnomalies("trace", res.Anomalies.Trace)
		s.collector.AddAnomalies("panic", res.Anomalies.Panics)
	}
	span.SetAttributes(
		attribute.Int("flows", len(flows)),
		attribute.Int("association_events", len(events)),
		attribute.Int("anomalies", res.Anomalies.Total()),
	)
	return res, errors.Join(errs...)
}

// signalLog keeps the samples of a run for the in-memory summary.
type signalLog struct {
	samples []model.SignalSample
}

func (l *signalLog) ObserveSignal(s model.SignalSample) {
	l.samples = append(l.samples, s)
}
