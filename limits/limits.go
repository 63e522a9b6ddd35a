// Package limits turns the static joint limits of a model into velocity
// bounds for the next integration step.
//
// For a bounded coordinate with position q, limits [qmin, qmax], velocity
// limit vmax and step dt:
//
//	max(-vmax, (qmin - q)/dt) <= v <= min(vmax, (qmax - q)/dt)
//
// optionally intersected with |v - v_prev| <= amax·dt.
package limits

import (
	"errors"
	"fmt"
	"math"

	"github.com/mohammadijoo/diffik/manifold"
)

var (
	// ErrEmptyFeasibleRegion is returned when the bounds of a coordinate
	// cross: lower > upper.
	ErrEmptyFeasibleRegion = errors.New("limits: empty feasible region")
	// ErrNotWithinConfigurationLimits is returned by CheckConfiguration.
	ErrNotWithinConfigurationLimits = errors.New("limits: configuration outside joint limits")
	ErrInvalidTimeStep              = errors.New("limits: time step must be positive and finite")
)

// boundedGap is the smallest range a joint must have to count as bounded.
const boundedGap = 1e-10

// Model supplies the static limits. Position limits are indexed like q,
// velocity limits like v. Unbounded entries are infinite.
type Model interface {
	Space() *manifold.Space
	LowerPositionLimit() []float64
	UpperPositionLimit() []float64
	VelocityLimit() []float64
	CoordinateName(v int) string
}

// Coordinate pairs the q and v index of a bounded scalar joint coordinate.
type Coordinate struct {
	Q, V int
}

// BoundedCoordinates lists the coordinates that have finite position limits.
// Only blocks whose every configuration entry is bounded qualify, which in
// practice means revolute and prismatic joints.
func BoundedCoordinates(m Model) []Coordinate {
	s := m.Space()
	lower, upper := m.LowerPositionLimit(), m.UpperPositionLimit()
	var out []Coordinate
	for b := 0; b < s.NumBlocks(); b++ {
		blk := s.Block(b)
		if blk.Kind() != manifold.KindEuclidean {
			continue
		}
		qi, vi := s.QIndex(b), s.VIndex(b)
		bounded := true
		for k := 0; k < blk.NQ(); k++ {
			lo, hi := lower[qi+k], upper[qi+k]
			if math.IsInf(hi, 1) || math.IsInf(lo, -1) || !(hi > lo+boundedGap) {
				bounded = false
				break
			}
		}
		if !bounded {
			continue
		}
		for k := 0; k < blk.NV(); k++ {
			out = append(out, Coordinate{Q: qi + k, V: vi + k})
		}
	}
	return out
}

// Bounds are per-coordinate velocity bounds. Unbounded entries are ±Inf.
type Bounds struct {
	Lower, Upper []float64
}

// Unbounded returns bounds of dimension nv that constrain nothing.
func Unbounded(nv int) Bounds {
	b := Bounds{Lower: make([]float64, nv), Upper: make([]float64, nv)}
	for i := 0; i < nv; i++ {
		b.Lower[i], b.Upper[i] = math.Inf(-1), math.Inf(1)
	}
	return b
}

func (b Bounds) Dim() int { return len(b.Lower) }

// Contains reports whether v respects the bounds within tol.
func (b Bounds) Contains(v []float64, tol float64) bool {
	if len(v) != len(b.Lower) {
		return false
	}
	for i, x := range v {
		if x < b.Lower[i]-tol || x > b.Upper[i]+tol {
			return false
		}
	}
	return true
}

// Active counts the coordinates with at least one finite bound.
func (b Bounds) Active() int {
	n := 0
	for i := range b.Lower {
		if !math.IsInf(b.Lower[i], -1) || !math.IsInf(b.Upper[i], 1) {
			n++
		}
	}
	return n
}

// Option tunes Compute.
type Option func(*options)

type options struct {
	accel      []float64
	prev       []float64
	noPosition bool
}

// WithAccelerationLimit bounds |v - v_prev| by a·dt, per tangent coordinate.
// It only applies together with WithPreviousVelocity.
func WithAccelerationLimit(a []float64) Option {
	return func(o *options) { o.accel = a }
}

// WithPreviousVelocity supplies the velocity of the previous tick.
func WithPreviousVelocity(v []float64) Option {
	return func(o *options) { o.prev = v }
}

// WithoutPositionLimits keeps only velocity and acceleration bounds.
func WithoutPositionLimits() Option {
	return func(o *options) { o.noPosition = true }
}

// Compute builds the velocity bounds at configuration c for a step dt.
func Compute(m Model, c manifold.Configuration, dt float64, opts ...Option) (Bounds, error) {
	if !(dt > 0) || math.IsInf(dt, 1) {
		return Bounds{}, fmt.Errorf("%w: %v", ErrInvalidTimeStep, dt)
	}
	s := m.Space()
	if c.Len() != s.NQ() {
		return Bounds{}, fmt.Errorf("%w: configuration has %d entries, want %d", manifold.ErrDimensionMismatch, c.Len(), s.NQ())
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	nv := s.NV()
	b := Unbounded(nv)

	vmax := m.VelocityLimit()
	for i := 0; i < nv; i++ {
		if !math.IsInf(vmax[i], 1) {
			b.Lower[i], b.Upper[i] = -vmax[i], vmax[i]
		}
	}

	if !o.noPosition {
		lower, upper := m.LowerPositionLimit(), m.UpperPositionLimit()
		for _, bc := range BoundedCoordinates(m) {
			q := c.At(bc.Q)
			b.Lower[bc.V] = math.Max(b.Lower[bc.V], (lower[bc.Q]-q)/dt)
			b.Upper[bc.V] = math.Min(b.Upper[bc.V], (upper[bc.Q]-q)/dt)
		}
	}

	if o.accel != nil && o.prev != nil {
		if len(o.accel) != nv || len(o.prev) != nv {
			return Bounds{}, fmt.Errorf("%w: acceleration limits need %d entries", manifold.ErrDimensionMismatch, nv)
		}
		for i := 0; i < nv; i++ {
			if math.IsInf(o.accel[i], 1) {
				continue
			}
			b.Lower[i] = math.Max(b.Lower[i], o.prev[i]-o.accel[i]*dt)
			b.Upper[i] = math.Min(b.Upper[i], o.prev[i]+o.accel[i]*dt)
		}
	}

	for i := 0; i < nv; i++ {
		if b.Lower[i] > b.Upper[i] {
			return Bounds{}, fmt.Errorf("%w: %s needs %v <= v <= %v", ErrEmptyFeasibleRegion, m.CoordinateName(i), b.Lower[i], b.Upper[i])
		}
	}
	return b, nil
}

// CheckConfiguration verifies that every bounded coordinate of c lies within
// its position limits, up to tol.
func CheckConfiguration(m Model, c manifold.Configuration, tol float64) error {
	lower, upper := m.LowerPositionLimit(), m.UpperPositionLimit()
	for _, bc := range BoundedCoordinates(m) {
		q := c.At(bc.Q)
		if q < lower[bc.Q]-tol || q > upper[bc.Q]+tol {
			return fmt.Errorf("%w: %s = %v not in [%v, %v]", ErrNotWithinConfigurationLimits, m.CoordinateName(bc.V), q, lower[bc.Q], upper[bc.Q])
		}
	}
	return nil
}
