// Package report summarises the traces of a run: handover counts, signal
// statistics per AP and flow loss, delay and throughput.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/trace"
	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

// APSignal is the RSSI distribution seen from one AP.
type APSignal struct {
	APID    int
	Samples int
	Mean    float64
	StdDev  float64
	Min     float64
	Max     float64
}

// Summary is the digest of one run.
type Summary struct {
	Associations    int
	Disassociations int
	TotalHandovers  int
	// HandoversPerStation is keyed by station id.
	HandoversPerStation map[int]int
	// MeanTimeBetweenHandovers averages the gaps between consecutive
	// handovers of the same station, in seconds. Zero with fewer than two.
	MeanTimeBetweenHandovers float64

	Signal []APSignal

	Flows              int
	TxPackets          uint64
	RxPackets          uint64
	LostPackets        uint64
	LossRatio          float64
	MeanDelay          float64 // seconds per received packet
	MeanThroughputKbps float64 // over flows that received anything
}

// Build computes the summary from parsed trace rows.
func Build(handovers []trace.HandoverRow, samples []model.SignalSample, flows []trace.FlowRow) Summary {
	s := Summary{HandoversPerStation: make(map[int]int)}

	perStation := make(map[int][]float64)
	for _, h := range handovers {
		switch h.Type {
		case model.Associate:
			s.Associations++
		case model.Disassociate:
			s.Disassociations++
		case model.Handover:
			s.TotalHandovers++
			s.HandoversPerStation[h.StationID]++
			perStation[h.StationID] = append(perStation[h.StationID], h.Time)
		}
	}
	var gaps []float64
	for _, times := range perStation {
		slices.Sort(times)
		for i := 1; i < len(times); i++ {
			gaps = append(gaps, times[i]-times[i-1])
		}
	}
	if len(gaps) > 0 {
		s.MeanTimeBetweenHandovers = stat.Mean(gaps, nil)
	}

	byAP := make(map[int][]float64)
	for _, sample := range samples {
		byAP[int(sample.APID)] = append(byAP[int(sample.APID)], sample.RSSI)
	}
	for id, rssi := range byAP {
		sig := APSignal{
			APID:    id,
			Samples: len(rssi),
			Mean:    stat.Mean(rssi, nil),
			Min:     floats.Min(rssi),
			Max:     floats.Max(rssi),
		}
		if len(rssi) > 1 {
			sig.StdDev = stat.StdDev(rssi, nil)
		}
		s.Signal = append(s.Signal, sig)
	}
	slices.SortFunc(s.Signal, func(a, b APSignal) int { return a.APID - b.APID })

	var delaySum float64
	var throughputs []float64
	for _, f := range flows {
		s.Flows++
		s.TxPackets += f.TxPackets
		s.RxPackets += f.RxPackets
		s.LostPackets += f.LostPackets
		delaySum += f.DelaySum
		if f.RxPackets > 0 {
			throughputs = append(throughputs, f.ThroughputKbps)
		}
	}
	if s.TxPackets > 0 {
		s.LossRatio = float64(s.LostPackets) / float64(s.TxPackets)
	}
	if s.RxPackets > 0 {
		s.MeanDelay = delaySum / float64(s.RxPackets)
	}
	if len(throughputs) > 0 {
		s.MeanThroughputKbps = stat.Mean(throughputs, nil)
	}
	return s
}

// FromRecords builds the summary from in-memory run records.
func FromRecords(events []model.AssociationEvent, samples []model.SignalSample, flows []model.FlowStats) Summary {
	rows := make([]trace.HandoverRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, trace.HandoverRow{
			Time:      ev.Time.Seconds(),
			Type:      ev.Type,
			StationID: int(ev.StationID),
			From:      ev.FromAP.String(),
			To:        ev.ToAP.String(),
		})
	}
	flowRows := make([]trace.FlowRow, 0, len(flows))
	for _, f := range flows {
		flowRows = append(flowRows, trace.FlowRow{
			FlowID:         f.FlowID,
			Source:         f.Key.Source.String(),
			Destination:    f.Key.Destination.String(),
			TxPackets:      f.TxPackets,
			RxPackets:      f.RxPackets,
			LostPackets:    f.LostPackets(),
			DelaySum:       f.DelaySum.Seconds(),
			JitterSum:      f.JitterSum.Seconds(),
			LastDelay:      f.LastDelay.Seconds(),
			TxBytes:        f.TxBytes,
			RxBytes:        f.RxBytes,
			Duration:       f.Duration().Seconds(),
			ThroughputKbps: f.ThroughputKbps(),
		})
	}
	return Build(rows, samples, flowRows)
}

// FromDir reads the CSV traces in dir.
func FromDir(dir string) (Summary, error) {
	handovers, err := trace.ReadHandoverLog(filepath.Join(dir, trace.HandoverFile))
	if err != nil {
		return Summary{}, err
	}
	samples, err := trace.ReadSignalLog(filepath.Join(dir, trace.SignalFile))
	if err != nil {
		return Summary{}, err
	}
	flows, err := trace.ReadFlowStats(filepath.Join(dir, trace.FlowFile))
	if err != nil {
		return Summary{}, err
	}
	return Build(handovers, samples, flows), nil
}

// WriteText prints the summary for humans.
func (s Summary) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	p := func(format string, args ...any) { fmt.Fprintf(tw, format, args...) }

	p("=== Association ===\n")
	p("associations\t%d\n", s.Associations)
	p("disassociations\t%d\n", s.Disassociations)
	p("handovers\t%d\n", s.TotalHandovers)
	stations := make([]int, 0, len(s.HandoversPerStation))
	for id := range s.HandoversPerStation {
		stations = append(stations, id)
	}
	slices.Sort(stations)
	for _, id := range stations {
		p("  station %d\t%d\n", id, s.HandoversPerStation[id])
	}
	p("mean time between handovers\t%s s\n", trace.FormatFloat(s.MeanTimeBetweenHandovers))

	p("\n=== Signal (dBm) ===\n")
	p("AP\tsamples\tmean\tstddev\tmin\tmax\n")
	for _, sig := range s.Signal {
		p("%d\t%d\t%s\t%s\t%s\t%s\n", sig.APID, sig.Samples,
			trace.FormatFloat(sig.Mean), trace.FormatFloat(sig.StdDev),
			trace.FormatFloat(sig.Min), trace.FormatFloat(sig.Max))
	}

	p("\n=== Flows ===\n")
	p("flows\t%d\n", s.Flows)
	p("tx packets\t%d\n", s.TxPackets)
	p("rx packets\t%d\n", s.RxPackets)
	p("lost packets\t%d\n", s.LostPackets)
	p("loss ratio\t%s\n", trace.FormatFloat(s.LossRatio))
	p("mean delay\t%s s\n", trace.FormatFloat(s.MeanDelay))
	p("mean throughput\t%s kbps\n", trace.FormatFloat(s.MeanThroughputKbps))
	return tw.Flush()
}
