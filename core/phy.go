package core

import (
	"time"
)

// DefaultRxSensitivityDBm is the weakest signal a receiver can decode.
const DefaultRxSensitivityDBm = -101.0

// Phy is the per-device radio state.
type Phy struct {
	TxPowerDBm float64
	Channel    int

	// RxSensitivityDBm is the decode floor; zero means the default.
	RxSensitivityDBm float64
}

// Sensitivity returns the configured decode floor or the default.
func (p Phy) Sensitivity() float64 {
	if p.RxSensitivityDBm == 0 {
		return DefaultRxSensitivityDBm
	}
	return p.RxSensitivityDBm
}

// LinkQuality is a coarse, human-readable classification of link
// quality derived from the RSSI.
type LinkQuality string

const (
	LinkQualityDown      LinkQuality = "down"
	LinkQualityPoor      LinkQuality = "poor"
	LinkQualityFair      LinkQuality = "fair"
	LinkQualityGood      LinkQuality = "good"
	LinkQualityExcellent LinkQuality = "excellent"
)

// ClassifyRSSI buckets rssi. Anything under the receiver's sensitivity is
// down regardless of the fixed thresholds.
func ClassifyRSSI(rssi, sensitivity float64) LinkQuality {
	switch {
	case rssi < sensitivity:
		return LinkQualityDown
	case rssi < -80:
		return LinkQualityPoor
	case rssi < -70:
		return LinkQualityFair
	case rssi < -60:
		return LinkQualityGood
	default:
		return LinkQualityExcellent
	}
}

// Reception is the outcome of one transmission between two devices.
type Reception struct {
	RSSI     float64
	Distance float64 // metres
	Delay    time.Duration
	Quality  LinkQuality

	// Received is true when both radios share a channel and the RSSI is at
	// or above the receiver's sensitivity.
	Received bool
}

// RadioChannel resolves link quality between devices by asking the
// propagation model about their current positions.
type RadioChannel struct {
	Propagation PropagationModel
}

// NewRadioChannel wraps a propagation model; nil selects the default
// log-distance law.
func NewRadioChannel(p PropagationModel) *RadioChannel {
	if p == nil {
		p = NewLogDistance()
	}
	return &RadioChannel{Propagation: p}
}

// RSSI returns the signal strength at rx of a frame sent by tx at t,
// regardless of channel.
func (c *RadioChannel) RSSI(tx, rx *Device, t time.Duration) float64 {
	return c.Propagation.ReceivedSignal(tx.Phy.TxPowerDBm, tx.PositionAt(t), rx.PositionAt(t))
}

// Reception decides whether rx hears a frame sent by tx at t.
func (c *RadioChannel) Reception(tx, rx *Device, t time.Duration) Reception {
	txPos := tx.PositionAt(t)
	rxPos := rx.PositionAt(t)
	rssi := c.Propagation.ReceivedSignal(tx.Phy.TxPowerDBm, txPos, rxPos)
	sens := rx.Phy.Sensitivity()

	r := Reception{
		RSSI:     rssi,
		Distance: txPos.DistanceTo(rxPos),
		Delay:    time.Duration(PropagationDelaySeconds(txPos, rxPos) * float64(time.Second)),
		Quality:  ClassifyRSSI(rssi, sens),
	}
	r.Received = tx.Phy.Channel == rx.Phy.Channel && rssi >= sens
	return r
}
