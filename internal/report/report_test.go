package report

import (
	"bytes"
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/trace"
	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

func TestBuildCountsHandovers(t *testing.T) {
	rows := []trace.HandoverRow{
		{Time: 0, Type: model.Associate, StationID: 2, To: "a"},
		{Time: 0, Type: model.Associate, StationID: 3, To: "a"},
		{Time: 16, Type: model.Handover, StationID: 2, From: "a", To: "b"},
		{Time: 46, Type: model.Handover, StationID: 2, From: "b", To: "a"},
		{Time: 20, Type: model.Handover, StationID: 3, From: "a", To: "b"},
		{Time: 50, Type: model.Disassociate, StationID: 3, From: "b"},
	}

	s := Build(rows, nil, nil)
	assert.Equal(t, 2, s.Associations)
	assert.Equal(t, 1, s.Disassociations)
	assert.Equal(t, 3, s.TotalHandovers)
	assert.Equal(t, map[int]int{2: 2, 3: 1}, s.HandoversPerStation)
	assert.InDelta(t, 30.0, s.MeanTimeBetweenHandovers, 1e-12)
}

func TestBuildSignalStatistics(t *testing.T) {
	samples := []model.SignalSample{
		{APID: 1, RSSI: -60},
		{APID: 0, RSSI: -50},
		{APID: 0, RSSI: -54},
		{APID: 0, RSSI: -52},
	}

	s := Build(nil, samples, nil)
	require.Len(t, s.Signal, 2)
	ap0 := s.Signal[0]
	assert.Equal(t, 0, ap0.APID)
	assert.Equal(t, 3, ap0.Samples)
	assert.InDelta(t, -52.0, ap0.Mean, 1e-12)
	assert.InDelta(t, 2.0, ap0.StdDev, 1e-12)
	assert.Equal(t, -54.0, ap0.Min)
	assert.Equal(t, -50.0, ap0.Max)
	assert.Equal(t, 0.0, s.Signal[1].StdDev)
}

func TestFromRecordsFlowTotals(t *testing.T) {
	key := model.FlowKey{Source: netip.MustParseAddr("10.1.1.3"), Destination: netip.MustParseAddr("10.1.1.1"), Protocol: model.ProtocolUDP}
	flows := []model.FlowStats{
		{FlowID: 1, Key: key, TxPackets: 10, RxPackets: 8, RxBytes: 8000, FirstTx: 0, LastRx: 2 * time.Second, DelaySum: 16 * time.Millisecond},
		{FlowID: 2, Key: key.Reverse(), TxPackets: 8, RxPackets: 8, RxBytes: 8000, FirstTx: 0, LastRx: 4 * time.Second, DelaySum: 8 * time.Millisecond},
		{FlowID: 3, Key: key, TxPackets: 2},
	}

	s := FromRecords(nil, nil, flows)
	assert.Equal(t, 3, s.Flows)
	assert.Equal(t, uint64(20), s.TxPackets)
	assert.Equal(t, uint64(16), s.RxPackets)
	assert.Equal(t, uint64(4), s.LostPackets)
	assert.InDelta(t, 0.2, s.LossRatio, 1e-12)
	assert.InDelta(t, 0.024/16, s.MeanDelay, 1e-12)
	// 32 kbps and 16 kbps; the silent flow is excluded.
	assert.InDelta(t, 24.0, s.MeanThroughputKbps, 1e-9)
}

func TestWriteText(t *testing.T) {
	s := Build(
		[]trace.HandoverRow{{Time: 16.1, Type: model.Handover, StationID: 2, From: "a", To: "b"}},
		[]model.SignalSample{{APID: 0, RSSI: -70}},
		[]trace.FlowRow{{TxPackets: 4, RxPackets: 3, LostPackets: 1, ThroughputKbps: 12.5}},
	)

	var buf bytes.Buffer
	require.NoError(t, s.WriteText(&buf))
	out := buf.String()
	for _, want := range []string{"handovers", "station 2", "-70", "loss ratio", "0.25", "12.5 kbps"} {
		assert.Contains(t, out, want)
	}
	assert.False(t, math.IsNaN(s.MeanDelay))
}
