package trace

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/signalsfoundry/wifi-roaming-sim/model"
	"github.com/signalsfoundry/wifi-roaming-sim/timectrl"
)

// ErrMalformedTrace is returned for trace files that do not parse.
var ErrMalformedTrace = errors.New("malformed trace")

// HandoverRow is one parsed handover-log line. From is empty for Associate
// and To is empty for Disassociate.
type HandoverRow struct {
	Time      float64
	Type      model.AssociationEventType
	StationID int
	From      string
	To        string
}

// FlowRow is one parsed flow-statistics line; times are in seconds.
type FlowRow struct {
	FlowID         uint32
	Source         string
	Destination    string
	TxPackets      uint64
	RxPackets      uint64
	LostPackets    uint64
	DelaySum       float64
	JitterSum      float64
	LastDelay      float64
	TxBytes        uint64
	RxBytes        uint64
	Duration       float64
	ThroughputKbps float64
}

func readRows(path, header string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	first, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: empty file: %w", path, ErrMalformedTrace)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if strings.Join(first, ",") != header {
		return nil, fmt.Errorf("%s: unexpected header %q: %w", path, strings.Join(first, ","), ErrMalformedTrace)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

type fieldParser struct {
	path string
	line int
	err  error
}

func (p *fieldParser) fail(field string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s:%d: field %s: %v: %w", p.path, p.line, field, err, ErrMalformedTrace)
	}
}

func (p *fieldParser) parseFloat(field, s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *fieldParser) parseUint(field, s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *fieldParser) parseInt(field, s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		p.fail(field, err)
	}
	return v
}

// ReadHandoverLog parses a handover_events.csv file.
func ReadHandoverLog(path string) ([]HandoverRow, error) {
	rows, err := readRows(path, HandoverHeader)
	if err != nil {
		return nil, err
	}
	out := make([]HandoverRow, 0, len(rows))
	for i, rec := range rows {
		p := fieldParser{path: path, line: i + 2}
		if len(rec) < 4 {
			return nil, fmt.Errorf("%s:%d: %d fields: %w", path, i+2, len(rec), ErrMalformedTrace)
		}
		typ, err := model.ParseAssociationEventType(rec[1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %v: %w", path, i+2, err, ErrMalformedTrace)
		}
		row := HandoverRow{Time: p.parseFloat("Time", rec[0]), Type: typ, StationID: p.parseInt("StationID", rec[2])}
		switch typ {
		case model.Handover:
			if len(rec) < 5 {
				return nil, fmt.Errorf("%s:%d: handover without target: %w", path, i+2, ErrMalformedTrace)
			}
			row.From, row.To = rec[3], rec[4]
		case model.Disassociate:
			row.From = rec[3]
		default:
			row.To = rec[3]
		}
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, row)
	}
	return out, nil
}

// ReadSignalLog parses a rssi_measurements.csv file.
func ReadSignalLog(path string) ([]model.SignalSample, error) {
	rows, err := readRows(path, SignalHeader)
	if err != nil {
		return nil, err
	}
	out := make([]model.SignalSample, 0, len(rows))
	for i, rec := range rows {
		p := fieldParser{path: path, line: i + 2}
		if len(rec) != 6 {
			return nil, fmt.Errorf("%s:%d: %d fields: %w", path, i+2, len(rec), ErrMalformedTrace)
		}
		s := model.SignalSample{
			Time:      timectrl.Seconds(p.parseFloat("Time", rec[0])),
			StationID: model.NodeID(p.parseInt("StationID", rec[1])),
			APID:      model.NodeID(p.parseInt("APID", rec[2])),
			PosX:      p.parseFloat("PosX", rec[3]),
			PosY:      p.parseFloat("PosY", rec[4]),
			RSSI:      p.parseFloat("RSSI", rec[5]),
		}
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadFlowStats parses a flow_stats.csv file.
func ReadFlowStats(path string) ([]FlowRow, error) {
	rows, err := readRows(path, FlowHeader)
	if err != nil {
		return nil, err
	}
	out := make([]FlowRow, 0, len(rows))
	for i, rec := range rows {
		p := fieldParser{path: path, line: i + 2}
		if len(rec) != 13 {
			return nil, fmt.Errorf("%s:%d: %d fields: %w", path, i+2, len(rec), ErrMalformedTrace)
		}
		r := FlowRow{
			FlowID:         uint32(p.parseUint("FlowID", rec[0])),
			Source:         rec[1],
			Destination:    rec[2],
			TxPackets:      p.parseUint("TxPackets", rec[3]),
			RxPackets:      p.parseUint("RxPackets", rec[4]),
			LostPackets:    p.parseUint("LostPackets", rec[5]),
			DelaySum:       p.parseFloat("DelaySum", rec[6]),
			JitterSum:      p.parseFloat("JitterSum", rec[7]),
			LastDelay:      p.parseFloat("LastDelay", rec[8]),
			TxBytes:        p.parseUint("TxBytes", rec[9]),
			RxBytes:        p.parseUint("RxBytes", rec[10]),
			Duration:       p.parseFloat("Duration", rec[11]),
			ThroughputKbps: p.parseFloat("Throughput(Kbps)", rec[12]),
		}
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, r)
	}
	return out, nil
}
