package trace

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

// CSVSink writes the three CSV traces into a directory.
type CSVSink struct {
	dir    string
	namer  APNamer
	files  []*os.File
	hand   *csv.Writer
	signal *csv.Writer
	flow   *csv.Writer
	closed bool
}

// CSVOption customises NewCSVSink.
type CSVOption func(*CSVSink)

// WithAPNamer sets how APs are written in the handover log.
func WithAPNamer(n APNamer) CSVOption {
	return func(s *CSVSink) {
		if n != nil {
			s.namer = n
		}
	}
}

// NewCSVSink creates dir if needed and opens the traces, writing headers.
// Existing files are truncated.
func NewCSVSink(dir string, opts ...CSVOption) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	s := &CSVSink{dir: dir, namer: NodeIDNamer}
	for _, opt := range opts {
		opt(s)
	}

	open := func(name, header string) (*csv.Writer, error) {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		s.files = append(s.files, f)
		w := csv.NewWriter(f)
		if err := w.Write(strings.Split(header, ",")); err != nil {
			return nil, fmt.Errorf("write %s header: %w", name, err)
		}
		return w, nil
	}

	var err error
	if s.hand, err = open(HandoverFile, HandoverHeader); err != nil {
		_ = s.closeFiles()
		return nil, err
	}
	if s.signal, err = open(SignalFile, SignalHeader); err != nil {
		_ = s.closeFiles()
		return nil, err
	}
	if s.flow, err = open(FlowFile, FlowHeader); err != nil {
		_ = s.closeFiles()
		return nil, err
	}
	return s, nil
}

// Dir is the output directory.
func (s *CSVSink) Dir() string { return s.dir }

// RecordAssociation appends one handover-log row.
func (s *CSVSink) RecordAssociation(ev model.AssociationEvent) error {
	row := []string{
		FormatFloat(ev.Time.Seconds()),
		ev.Type.String(),
		ev.StationID.String(),
	}
	switch ev.Type {
	case model.Handover:
		row = append(row, s.namer(ev.FromAP), s.namer(ev.ToAP))
	default:
		row = append(row, s.namer(ev.AP()))
	}
	return s.hand.Write(row)
}

// RecordSignal appends one signal-log row.
func (s *CSVSink) RecordSignal(sample model.SignalSample) error {
	return s.signal.Write([]string{
		FormatFloat(sample.Time.Seconds()),
		sample.StationID.String(),
		sample.APID.String(),
		FormatFloat(sample.PosX),
		FormatFloat(sample.PosY),
		FormatFloat(sample.RSSI),
	})
}

// RecordFlows writes the flow statistics in the given order.
func (s *CSVSink) RecordFlows(flows []model.FlowStats) error {
	for _, f := range flows {
		err := s.flow.Write([]string{
			strconv.FormatUint(uint64(f.FlowID), 10),
			f.Key.Source.String(),
			f.Key.Destination.String(),
			strconv.FormatUint(f.TxPackets, 10),
			strconv.FormatUint(f.RxPackets, 10),
			strconv.FormatUint(f.LostPackets(), 10),
			FormatFloat(f.DelaySum.Seconds()),
			FormatFloat(f.JitterSum.Seconds()),
			FormatFloat(f.LastDelay.Seconds()),
			strconv.FormatUint(f.TxBytes, 10),
			strconv.FormatUint(f.RxBytes, 10),
			FormatFloat(f.Duration().Seconds()),
			FormatFloat(f.ThroughputKbps()),
		})
		if err != nil {
			return err
		}
	}
	s.flow.Flush()
	return s.flow.Error()
}

// Close flushes and closes every file. A second Close is a no-op.
func (s *CSVSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, w := range []*csv.Writer{s.hand, s.signal, s.flow} {
		w.Flush()
		errs = append(errs, w.Error())
	}
	errs = append(errs, s.closeFiles())
	return errors.Join(errs...)
}

func (s *CSVSink) closeFiles() error {
	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	s.files = nil
	return errors.Join(errs...)
}
