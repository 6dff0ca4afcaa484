package core

import "math"

// Log-distance defaults matching a 5 GHz indoor link with a 1 m reference.
const (
	DefaultPathLossExponent  = 3.0
	DefaultReferenceDistance = 1.0     // metres
	DefaultReferenceLoss     = 46.6777 // dB at the reference distance
)

// PropagationModel computes received signal strength between two positions.
type PropagationModel interface {
	ReceivedSignal(txPowerDBm float64, tx, rx Vec3) float64
}

// LogDistance is the log-distance path-loss law:
//
//	loss = ReferenceLoss + 10 * Exponent * log10(d / ReferenceDistance)
//
// for d > ReferenceDistance, and ReferenceLoss otherwise.
type LogDistance struct {
	Exponent          float64
	ReferenceDistance float64
	ReferenceLoss     float64
}

// NewLogDistance returns the model with default parameters.
func NewLogDistance() *LogDistance {
	return &LogDistance{
		Exponent:          DefaultPathLossExponent,
		ReferenceDistance: DefaultReferenceDistance,
		ReferenceLoss:     DefaultReferenceLoss,
	}
}

// PathLoss returns the attenuation in dB over distance metres.
func (m *LogDistance) PathLoss(distance float64) float64 {
	ref := m.ReferenceDistance
	if ref <= 0 {
		ref = DefaultReferenceDistance
	}
	if distance <= ref {
		return m.ReferenceLoss
	}
	return m.ReferenceLoss + 10*m.Exponent*math.Log10(distance/ref)
}

// ReceivedSignal returns txPowerDBm minus the path loss between tx and rx.
func (m *LogDistance) ReceivedSignal(txPowerDBm float64, tx, rx Vec3) float64 {
	return txPowerDBm - m.PathLoss(tx.DistanceTo(rx))
}

// DistanceForRSSI inverts the law: the distance at which a transmitter of
// txPowerDBm is received at rssi. Inside the reference distance the answer
// is the reference distance itself.
func (m *LogDistance) DistanceForRSSI(txPowerDBm, rssi float64) float64 {
	ref := m.ReferenceDistance
	if ref <= 0 {
		ref = DefaultReferenceDistance
	}
	loss := txPowerDBm - rssi
	if loss <= m.ReferenceLoss || m.Exponent <= 0 {
		return ref
	}
	return ref * math.Pow(10, (loss-m.ReferenceLoss)/(10*m.Exponent))
}
