// Package config holds the strongly typed run configuration: defaults,
// file loading, validation and expansion into a concrete layout.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/wifi-roaming-sim/timectrl"
)

// ErrInvalidConfiguration is wrapped by every validation failure.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Scenario selects how the node layout is produced.
type Scenario string

const (
	// ScenarioRoaming: N mobile stations walk from AP1 towards AP2 and back.
	ScenarioRoaming Scenario = "roaming"
	// ScenarioSaturation: fixed stations saturate AP1 while one mobile
	// station roams.
	ScenarioSaturation Scenario = "saturation"
	// ScenarioCustom: nodes and traffic are listed explicitly.
	ScenarioCustom Scenario = "custom"
)

// Vec is a position or velocity in metres (per second).
type Vec struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// PropagationConfig parameterises the log-distance law.
type PropagationConfig struct {
	Exponent          float64 `json:"exponent" yaml:"exponent"`
	ReferenceDistance float64 `json:"reference_distance" yaml:"reference_distance"`
	ReferenceLoss     float64 `json:"reference_loss" yaml:"reference_loss"`
}

// AssociationConfig holds the handover thresholds. Durations in seconds.
type AssociationConfig struct {
	MinAssociationRSSI float64 `json:"min_association_rssi" yaml:"min_association_rssi"`
	DisassociationRSSI float64 `json:"disassociation_rssi" yaml:"disassociation_rssi"`
	HysteresisDB       float64 `json:"hysteresis_db" yaml:"hysteresis_db"`
	SampleInterval     float64 `json:"sample_interval" yaml:"sample_interval"`
	HoldDown           float64 `json:"hold_down" yaml:"hold_down"`
	ReassociationDelay float64 `json:"reassociation_delay" yaml:"reassociation_delay"`
}

// MediumConfig describes the shared channel. Durations in seconds.
type MediumConfig struct {
	PhyRate          string  `json:"phy_rate" yaml:"phy_rate"`
	MACOverheadBytes int     `json:"mac_overhead_bytes" yaml:"mac_overhead_bytes"`
	FrameOverhead    float64 `json:"frame_overhead" yaml:"frame_overhead"`
	MaxQueueDelay    float64 `json:"max_queue_delay" yaml:"max_queue_delay"`
}

// AccessPointSpec is one explicitly placed AP.
type AccessPointSpec struct {
	Name     string   `json:"name" yaml:"name"`
	Position Vec      `json:"position" yaml:"position"`
	TxPower  *float64 `json:"tx_power,omitempty" yaml:"tx_power,omitempty"`
	Channel  int      `json:"channel,omitempty" yaml:"channel,omitempty"`
	SSID     string   `json:"ssid,omitempty" yaml:"ssid,omitempty"`
}

// VelocityChange sets a station's velocity at At seconds.
type VelocityChange struct {
	At       float64 `json:"at" yaml:"at"`
	Velocity Vec     `json:"velocity" yaml:"velocity"`
}

// StationSpec is one explicitly placed station.
type StationSpec struct {
	Name            string           `json:"name" yaml:"name"`
	Position        Vec              `json:"position" yaml:"position"`
	Velocity        Vec              `json:"velocity" yaml:"velocity"`
	VelocityChanges []VelocityChange `json:"velocity_changes,omitempty" yaml:"velocity_changes,omitempty"`
	TxPower         *float64         `json:"tx_power,omitempty" yaml:"tx_power,omitempty"`
	SSID            string           `json:"ssid,omitempty" yaml:"ssid,omitempty"`
}

// TrafficSpec is one application on a station. Times in seconds.
type TrafficSpec struct {
	Station    string  `json:"station" yaml:"station"`
	Kind       string  `json:"kind" yaml:"kind"`
	PacketSize int     `json:"packet_size" yaml:"packet_size"`
	Interval   float64 `json:"interval,omitempty" yaml:"interval,omitempty"`
	DataRate   string  `json:"data_rate,omitempty" yaml:"data_rate,omitempty"`
	MaxPackets int     `json:"max_packets,omitempty" yaml:"max_packets,omitempty"`
	Start      float64 `json:"start" yaml:"start"`
	Stop       float64 `json:"stop,omitempty" yaml:"stop,omitempty"`
	Port       int     `json:"port" yaml:"port"`
}

// CustomLayout lists nodes and traffic for ScenarioCustom.
type CustomLayout struct {
	AccessPoints []AccessPointSpec `json:"access_points,omitempty" yaml:"access_points,omitempty"`
	Stations     []StationSpec     `json:"stations,omitempty" yaml:"stations,omitempty"`
	Traffic      []TrafficSpec     `json:"traffic,omitempty" yaml:"traffic,omitempty"`
}

// OutputConfig selects the trace sinks.
type OutputConfig struct {
	Dir        string `json:"dir" yaml:"dir"`
	CSV        bool   `json:"csv" yaml:"csv"`
	SQLite     bool   `json:"sqlite" yaml:"sqlite"`
	SQLitePath string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
}

// Config is the full run configuration. Durations are in seconds.
type Config struct {
	Scenario Scenario `json:"scenario" yaml:"scenario"`

	Stations       int     `json:"stations" yaml:"stations"`
	FixedStations  int     `json:"fixed_stations" yaml:"fixed_stations"`
	APDistance     float64 `json:"ap_distance" yaml:"ap_distance"`
	Speed          float64 `json:"speed" yaml:"speed"`
	MoveStart      float64 `json:"move_start" yaml:"move_start"`
	APTxPower      float64 `json:"ap_tx_power" yaml:"ap_tx_power"`
	StationTxPower float64 `json:"station_tx_power" yaml:"station_tx_power"`
	SimTime        float64 `json:"sim_time" yaml:"sim_time"`
	DataRate       string  `json:"data_rate" yaml:"data_rate"`
	SSID           string  `json:"ssid" yaml:"ssid"`
	Channel        int     `json:"channel" yaml:"channel"`
	RxSensitivity  float64 `json:"rx_sensitivity" yaml:"rx_sensitivity"`

	Propagation PropagationConfig `json:"propagation" yaml:"propagation"`
	Association AssociationConfig `json:"association" yaml:"association"`
	Medium      MediumConfig      `json:"medium" yaml:"medium"`
	Custom      CustomLayout      `json:"custom" yaml:"custom"`

	Output      OutputConfig `json:"output" yaml:"output"`
	MetricsAddr string       `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
	RealTime    bool         `json:"realtime" yaml:"realtime"`
}

// Default returns the roaming scenario with the reference parameters.
func Default() Config {
	return Config{
		Scenario:       ScenarioRoaming,
		Stations:       5,
		FixedStations:  5,
		APDistance:     60,
		Speed:          2,
		APTxPower:      16,
		StationTxPower: 16,
		SimTime:        60,
		DataRate:       "10Mbps",
		SSID:           "ns3-ssid",
		Channel:        1,
		RxSensitivity:  -101,
		Propagation: PropagationConfig{
			Exponent:          3,
			ReferenceDistance: 1,
			ReferenceLoss:     46.6777,
		},
		Association: AssociationConfig{
			MinAssociationRSSI: -85,
			DisassociationRSSI: -90,
			HysteresisDB:       3,
			SampleInterval:     0.1,
		},
		Medium: MediumConfig{
			PhyRate:          "54Mbps",
			MACOverheadBytes: 36,
			FrameOverhead:    100e-6,
			MaxQueueDelay:    0.5,
		},
		Output: OutputConfig{
			Dir: "output",
			CSV: true,
		},
	}
}

// Load reads path over Default(). The format follows the extension: .yaml
// or .yml for YAML, anything else is parsed as JSON.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %v: %w", path, err, ErrInvalidConfiguration)
	}
	return cfg, nil
}

// Save writes cfg to path in the format chosen by its extension.
func Save(cfg Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "\t")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidConfiguration)
}

// Validate reports every problem found, each wrapping
// ErrInvalidConfiguration.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, invalid(format, args...)) }

	switch c.Scenario {
	case ScenarioRoaming, ScenarioSaturation:
		if c.Speed <= 0 {
			add("speed must be positive, got %v", c.Speed)
		}
		if c.APDistance <= 0 {
			add("ap_distance must be positive, got %v", c.APDistance)
		}
		if c.Stations < 0 {
			add("stations must not be negative, got %d", c.Stations)
		}
		if c.FixedStations < 0 {
			add("fixed_stations must not be negative, got %d", c.FixedStations)
		}
		if c.MoveStart < 0 {
			add("move_start must not be negative, got %v", c.MoveStart)
		}
	case ScenarioCustom:
		errs = append(errs, c.validateCustom()...)
	default:
		add("unknown scenario %q", c.Scenario)
	}

	if c.SimTime <= 0 {
		add("sim_time must be positive, got %v", c.SimTime)
	}
	if _, err := ParseDataRate(c.DataRate); err != nil {
		add("data_rate: %v", err)
	}
	if c.Channel <= 0 {
		add("channel must be positive, got %d", c.Channel)
	}

	if c.Propagation.Exponent <= 0 {
		add("propagation.exponent must be positive, got %v", c.Propagation.Exponent)
	}
	if c.Propagation.ReferenceDistance <= 0 {
		add("propagation.reference_distance must be positive, got %v", c.Propagation.ReferenceDistance)
	}

	a := c.Association
	if a.SampleInterval <= 0 {
		add("association.sample_interval must be positive, got %v", a.SampleInterval)
	}
	if a.HysteresisDB < 0 {
		add("association.hysteresis_db must not be negative, got %v", a.HysteresisDB)
	}
	if a.HoldDown < 0 || a.ReassociationDelay < 0 {
		add("association hold_down and reassociation_delay must not be negative")
	}
	if a.DisassociationRSSI > a.MinAssociationRSSI {
		add("association.disassociation_rssi %v is above min_association_rssi %v", a.DisassociationRSSI, a.MinAssociationRSSI)
	}

	if _, err := ParseDataRate(c.Medium.PhyRate); err != nil {
		add("medium.phy_rate: %v", err)
	}
	if c.Medium.MACOverheadBytes < 0 || c.Medium.FrameOverhead < 0 || c.Medium.MaxQueueDelay < 0 {
		add("medium overheads and max_queue_delay must not be negative")
	}

	if c.Output.SQLitePath != "" && !c.Output.SQLite {
		add("output.sqlite_path set but output.sqlite is false")
	}

	for _, f := range c.secondsFields() {
		if !timectrl.FitsDuration(f.value) {
			add("%s %v exceeds the longest representable time (%.0fs)", f.name, f.value, timectrl.MaxSeconds)
		}
	}
	return errors.Join(errs...)
}

type secondsField struct {
	name  string
	value float64
}

// secondsFields lists every value that becomes a time.Duration.
func (c Config) secondsFields() []secondsField {
	fields := []secondsField{
		{"sim_time", c.SimTime},
		{"move_start", c.MoveStart},
		{"association.sample_interval", c.Association.SampleInterval},
		{"association.hold_down", c.Association.HoldDown},
		{"association.reassociation_delay", c.Association.ReassociationDelay},
		{"medium.frame_overhead", c.Medium.FrameOverhead},
		{"medium.max_queue_delay", c.Medium.MaxQueueDelay},
	}
	for _, st := range c.Custom.Stations {
		for i, vc := range st.VelocityChanges {
			fields = append(fields, secondsField{fmt.Sprintf("station %q velocity_changes[%d].at", st.Name, i), vc.At})
		}
	}
	for i, tr := range c.Custom.Traffic {
		fields = append(fields,
			secondsField{fmt.Sprintf("traffic[%d].interval", i), tr.Interval},
			secondsField{fmt.Sprintf("traffic[%d].start", i), tr.Start},
			secondsField{fmt.Sprintf("traffic[%d].stop", i), tr.Stop},
		)
	}
	return fields
}

func (c Config) validateCustom() []error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, invalid(format, args...)) }

	if len(c.Custom.AccessPoints) == 0 {
		add("custom scenario needs at least one access point")
	}
	names := make(map[string]bool)
	for _, ap := range c.Custom.AccessPoints {
		if ap.Name == "" || names[ap.Name] {
			add("access point name %q is empty or duplicated", ap.Name)
		}
		names[ap.Name] = true
	}
	stations := make(map[string]bool)
	for _, st := range c.Custom.Stations {
		if st.Name == "" || names[st.Name] {
			add("station name %q is empty or duplicated", st.Name)
		}
		names[st.Name] = true
		stations[st.Name] = true
		for _, vc := range st.VelocityChanges {
			if vc.At < 0 {
				add("station %q velocity change at negative time %v", st.Name, vc.At)
			}
		}
	}
	for i, tr := range c.Custom.Traffic {
		if !stations[tr.Station] {
			add("traffic[%d] references unknown station %q", i, tr.Station)
		}
		if tr.PacketSize <= 0 {
			add("traffic[%d] packet_size must be positive", i)
		}
		if tr.Port <= 0 || tr.Port > 65535 {
			add("traffic[%d] port %d out of range", i, tr.Port)
		}
		if tr.Interval <= 0 && tr.DataRate == "" {
			add("traffic[%d] needs an interval or a data_rate", i)
		}
		if tr.DataRate != "" {
			if _, err := ParseDataRate(tr.DataRate); err != nil {
				add("traffic[%d] data_rate: %v", i, err)
			}
		}
		if tr.Start < 0 || (tr.Stop > 0 && tr.Stop < tr.Start) {
			add("traffic[%d] has an invalid start/stop window", i)
		}
	}
	return errs
}
