package core

import (
	"time"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/sim/eventq"
)

// MobilityModel reports a node's position and velocity at a virtual time.
type MobilityModel interface {
	PositionAt(t time.Duration) Vec3
	VelocityAt(t time.Duration) Vec3
}

// ConstantPosition leaves the node where it was placed.
type ConstantPosition struct {
	Position Vec3
}

// PositionAt returns the fixed position.
func (m *ConstantPosition) PositionAt(time.Duration) Vec3 { return m.Position }

// VelocityAt is always zero.
func (m *ConstantPosition) VelocityAt(time.Duration) Vec3 { return Vec3{} }

// ConstantVelocity moves a node in a straight line:
// position = base + velocity * (t - baseTime).
type ConstantVelocity struct {
	base     Vec3
	baseTime time.Duration
	velocity Vec3
}

// NewConstantVelocity places a node at start at time zero moving with v.
func NewConstantVelocity(start, v Vec3) *ConstantVelocity {
	return &ConstantVelocity{base: start, velocity: v}
}

// PositionAt integrates the current velocity from the last baseline. Times
// before the baseline extrapolate backwards along the same line.
func (m *ConstantVelocity) PositionAt(t time.Duration) Vec3 {
	elapsed := (t - m.baseTime).Seconds()
	return m.base.Add(m.velocity.Scale(elapsed))
}

// VelocityAt returns the velocity in force since the last baseline.
func (m *ConstantVelocity) VelocityAt(time.Duration) Vec3 { return m.velocity }

// SetVelocity re-baselines the model at t: the position reached at t becomes
// the new origin and v applies from then on.
func (m *ConstantVelocity) SetVelocity(t time.Duration, v Vec3) {
	m.base = m.PositionAt(t)
	m.baseTime = t
	m.velocity = v
}

// SetPosition teleports the node to p at t, keeping its velocity.
func (m *ConstantVelocity) SetPosition(t time.Duration, p Vec3) {
	m.base = p
	m.baseTime = t
}

// ScheduleVelocityChange realises a velocity change as a discrete event at
// absolute virtual time at.
func ScheduleVelocityChange(sched eventq.Scheduler, m *ConstantVelocity, at time.Duration, v Vec3) (*eventq.Handle, error) {
	return sched.ScheduleAt(at, func() {
		m.SetVelocity(sched.Now(), v)
	})
}
