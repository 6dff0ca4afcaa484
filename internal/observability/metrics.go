package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/wifi-roaming-sim/core"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/sim/eventq"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/traffic"
	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

// SimCollector bundles Prometheus metrics for a simulation run. It plugs
// into the event loop as a hook and into the association engine and the
// packet network as an observer.
type SimCollector struct {
	gatherer prometheus.Gatherer

	EventsProcessed    prometheus.Counter
	EventDuration      prometheus.Histogram
	VirtualTime        prometheus.Gauge
	AssociationEvents  *prometheus.CounterVec
	StationsAssociated prometheus.Gauge
	Packets            *prometheus.CounterVec
	PacketBytes        *prometheus.CounterVec
	Anomalies          *prometheus.CounterVec
	RunDuration        prometheus.Histogram

	loop loopTimer
}

// NewSimCollector registers run metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil. Registering twice
// against the same registry reuses the existing collectors.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SimCollector{gatherer: gatherer}
	var err error

	if c.EventsProcessed, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wifisim_events_processed_total",
		Help: "Number of discrete events fired by the event loop.",
	}), "wifisim_events_processed_total"); err != nil {
		return nil, err
	}
	if c.EventDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wifisim_event_duration_seconds",
		Help:    "Wall-clock time spent running a single event action.",
		Buckets: []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 0.01},
	}), "wifisim_event_duration_seconds"); err != nil {
		return nil, err
	}
	if c.VirtualTime, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wifisim_virtual_time_seconds",
		Help: "Current virtual time of the event loop.",
	}), "wifisim_virtual_time_seconds"); err != nil {
		return nil, err
	}
	if c.AssociationEvents, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wifisim_association_events_total",
		Help: "Association state changes, labeled by type (ASSOC, DEASSOC, HANDOVER).",
	}, []string{"type"}), "wifisim_association_events_total"); err != nil {
		return nil, err
	}
	if c.StationsAssociated, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wifisim_stations_associated",
		Help: "Number of stations currently associated with an access point.",
	}), "wifisim_stations_associated"); err != nil {
		return nil, err
	}
	if c.Packets, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wifisim_packets_total",
		Help: "Application packets, labeled by direction and outcome.",
	}, []string{"direction", "outcome"}), "wifisim_packets_total"); err != nil {
		return nil, err
	}
	if c.PacketBytes, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wifisim_packet_bytes_total",
		Help: "Application payload bytes, labeled by direction and outcome.",
	}, []string{"direction", "outcome"}), "wifisim_packet_bytes_total"); err != nil {
		return nil, err
	}
	if c.Anomalies, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wifisim_anomalies_total",
		Help: "Recoverable inconsistencies detected during a run, labeled by kind.",
	}, []string{"kind"}), "wifisim_anomalies_total"); err != nil {
		return nil, err
	}
	if c.RunDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wifisim_run_duration_seconds",
		Help:    "Wall-clock duration of complete simulation runs.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}), "wifisim_run_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveAssociation counts the event and tracks the associated-station
// gauge. Handovers leave the gauge unchanged.
func (c *SimCollector) ObserveAssociation(ev model.AssociationEvent) {
	if c == nil {
		return
	}
	if c.AssociationEvents != nil {
		c.AssociationEvents.WithLabelValues(ev.Type.String()).Inc()
	}
	if c.StationsAssociated == nil {
		return
	}
	switch ev.Type {
	case model.Associate:
		c.StationsAssociated.Inc()
	case model.Disassociate:
		c.StationsAssociated.Dec()
	}
}

// ObservePacket counts a packet outcome.
func (c *SimCollector) ObservePacket(ev traffic.PacketEvent) {
	if c == nil {
		return
	}
	dir, outcome := string(ev.Direction), string(ev.Outcome)
	if c.Packets != nil {
		c.Packets.WithLabelValues(dir, outcome).Inc()
	}
	if c.PacketBytes != nil && ev.Bytes > 0 {
		c.PacketBytes.WithLabelValues(dir, outcome).Add(float64(ev.Bytes))
	}
}

// AddAnomalies adds n to the anomaly counter for kind.
func (c *SimCollector) AddAnomalies(kind string, n int) {
	if c == nil || c.Anomalies == nil || n <= 0 {
		return
	}
	c.Anomalies.WithLabelValues(kind).Add(float64(n))
}

var (
	_ eventq.Hook              = (*SimCollector)(nil)
	_ core.AssociationObserver = (*SimCollector)(nil)
	_ traffic.PacketObserver   = (*SimCollector)(nil)
)

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
