package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/config"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/logging"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/observability"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/sim/engine"
	"github.com/signalsfoundry/wifi-roaming-sim/timectrl"
)

type runOptions struct {
	configPath string

	scenario       string
	stations       int
	fixedStations  int
	apDistance     float64
	speed          float64
	moveStart      float64
	txPower        float64
	simTime        float64
	dataRate       string
	hysteresis     float64
	holdDown       float64
	reassocDelay   float64
	minRSSI        float64
	disassocRSSI   float64
	sampleInterval float64
	outputDir      string
	noCSV          bool
	sqlite         bool
	sqlitePath     string
	metricsAddr    string
	realtime       bool
	scale          float64
}

func newRunCmd(root *rootOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and write its traces.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.resolve(cmd)
			if err != nil {
				return err
			}
			return runSimulation(cmd, root.logger(), cfg, o.scale)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "YAML or JSON configuration file")
	f.StringVar(&o.scenario, "scenario", "", "scenario kind: roaming, saturation or custom")
	f.IntVar(&o.stations, "stations", 0, "number of mobile stations (roaming)")
	f.IntVar(&o.fixedStations, "fixed-stations", 0, "number of fixed saturating stations (saturation)")
	f.Float64Var(&o.apDistance, "ap-distance", 0, "distance between the two access points in metres")
	f.Float64Var(&o.speed, "speed", 0, "station speed in m/s")
	f.Float64Var(&o.moveStart, "move-start", 0, "time in seconds at which mobile stations start moving")
	f.Float64Var(&o.txPower, "tx-power", 0, "access point transmit power in dBm")
	f.Float64Var(&o.simTime, "sim-time", 0, "simulated duration in seconds")
	f.StringVar(&o.dataRate, "data-rate", "", "per-station CBR data rate, e.g. 10Mbps (saturation)")
	f.Float64Var(&o.hysteresis, "hysteresis", 0, "handover margin in dB")
	f.Float64Var(&o.holdDown, "hold-down", 0, "seconds after an association during which no new one is made")
	f.Float64Var(&o.reassocDelay, "reassoc-delay", 0, "seconds after an association before the data link is usable")
	f.Float64Var(&o.minRSSI, "min-rssi", 0, "minimum RSSI in dBm to associate")
	f.Float64Var(&o.disassocRSSI, "disassoc-rssi", 0, "RSSI in dBm below which a station leaves its AP")
	f.Float64Var(&o.sampleInterval, "sample-interval", 0, "association sampling period in seconds")
	f.StringVar(&o.outputDir, "output-dir", "", "directory for trace files")
	f.BoolVar(&o.noCSV, "no-csv", false, "do not write CSV traces")
	f.BoolVar(&o.sqlite, "sqlite", false, "also write traces to a SQLite database")
	f.StringVar(&o.sqlitePath, "sqlite-path", "", "SQLite database path (default: <output-dir>/wifisim_<id>.sqlite3)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address during the run")
	f.BoolVar(&o.realtime, "realtime", false, "pace virtual time against the wall clock")
	f.Float64Var(&o.scale, "realtime-scale", 1, "wall-clock seconds per virtual second in realtime mode")
	return cmd
}

// resolve loads the config file, or the defaults, and applies every flag
// that was set explicitly.
func (o *runOptions) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	set := cmd.Flags().Changed
	if set("scenario") {
		cfg.Scenario = config.Scenario(o.scenario)
	}
	if set("stations") {
		cfg.Stations = o.stations
	}
	if set("fixed-stations") {
		cfg.FixedStations = o.fixedStations
	}
	if set("ap-distance") {
		cfg.APDistance = o.apDistance
	}
	if set("speed") {
		cfg.Speed = o.speed
	}
	if set("move-start") {
		cfg.MoveStart = o.moveStart
	}
	if set("tx-power") {
		cfg.APTxPower = o.txPower
	}
	if set("sim-time") {
		cfg.SimTime = o.simTime
	}
	if set("data-rate") {
		cfg.DataRate = o.dataRate
	}
	if set("hysteresis") {
		cfg.Association.HysteresisDB = o.hysteresis
	}
	if set("hold-down") {
		cfg.Association.HoldDown = o.holdDown
	}
	if set("reassoc-delay") {
		cfg.Association.ReassociationDelay = o.reassocDelay
	}
	if set("min-rssi") {
		cfg.Association.MinAssociationRSSI = o.minRSSI
	}
	if set("disassoc-rssi") {
		cfg.Association.DisassociationRSSI = o.disassocRSSI
	}
	if set("sample-interval") {
		cfg.Association.SampleInterval = o.sampleInterval
	}
	if set("output-dir") {
		cfg.Output.Dir = o.outputDir
	}
	if set("no-csv") {
		cfg.Output.CSV = !o.noCSV
	}
	if set("sqlite") {
		cfg.Output.SQLite = o.sqlite
	}
	if set("sqlite-path") {
		cfg.Output.SQLitePath = o.sqlitePath
		cfg.Output.SQLite = true
	}
	if set("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	if set("realtime") {
		cfg.RealTime = o.realtime
	}
	return cfg, cfg.Validate()
}

func runSimulation(cmd *cobra.Command, log logging.Logger, cfg config.Config, scale float64) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, runID := logging.EnsureRunID(ctx)
	tracing := observability.TracingConfigFromEnv()
	tracing.RunID = runID
	tracing.Scenario = string(cfg.Scenario)
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	// atexit covers exits that bypass the deferred calls.
	flushTracing := sync.OnceFunc(func() {
		observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)
	})
	atexit.Register(flushTracing)
	defer flushTracing()

	opts := []engine.Option{engine.WithLogger(log)}
	if cfg.MetricsAddr != "" {
		collector, err := observability.NewSimCollector(prometheus.NewRegistry())
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		srv := serveMetrics(cfg.MetricsAddr, collector, log)
		stopMetrics := sync.OnceFunc(func() { shutdownServer(srv) })
		atexit.Register(stopMetrics)
		defer stopMetrics()
		opts = append(opts, engine.WithCollector(collector))
	}
	if cfg.RealTime {
		pacer := timectrl.NewPacer(timectrl.RealTime)
		pacer.Scale = scale
		opts = append(opts, engine.WithPacer(pacer))
	}

	sim, err := engine.New(cfg, opts...)
	if err != nil {
		return err
	}
	res, runErr := sim.Run(ctx)
	if res == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %s scenario, %v simulated, %d events\n",
		res.RunID, cfg.Scenario, res.EndTime, res.EventsProcessed)
	if cfg.Output.CSV {
		fmt.Fprintf(out, "traces written to %s\n", cfg.Output.Dir)
	}
	if res.SQLitePath != "" {
		fmt.Fprintf(out, "sqlite database %s\n", res.SQLitePath)
	}
	for _, o := range res.Occupancy {
		fmt.Fprintf(out, "%s: peak %d stations, %d at end\n", o.Name, o.Peak, o.Final)
	}
	if n := res.Anomalies.Total(); n > 0 {
		fmt.Fprintf(out, "anomalies: %+v\n", res.Anomalies)
	}
	fmt.Fprintln(out)
	if err := res.Summary.WriteText(out); err != nil {
		return err
	}
	logResources(ctx, log)
	return runErr
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func shutdownServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
