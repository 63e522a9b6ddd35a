// Package tasks defines the objectives of the differential IK problem. A
// task maps the current kinematics to a residual r and its Jacobian J with
// respect to the tangent velocity; the engine then asks the tangent velocity
// v to satisfy J v ≈ -gain·r/dt in a weighted least-squares sense.
package tasks

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mohammadijoo/diffik/kinematics"
	"github.com/mohammadijoo/diffik/lie"
	"github.com/mohammadijoo/diffik/manifold"
)

var (
	// ErrTargetNotSet is returned when a task is evaluated before its target
	// was set.
	ErrTargetNotSet = errors.New("tasks: target not set")
	// ErrInvalidParameter is returned for gains outside [0, 1] and for
	// negative or non-finite weights, costs and damping values.
	ErrInvalidParameter = errors.New("tasks: invalid parameter")
)

// Kinematics is the view of the robot at one configuration that tasks read.
// Two calls with the same configuration must return identical values.
type Kinematics interface {
	Configuration() manifold.Configuration
	FramePlacement(frame string) (lie.Transform, error)
	// FrameJacobian is the 6×nv body Jacobian of the frame, linear rows
	// first.
	FrameJacobian(frame string) (*mat.Dense, error)
	CenterOfMass() (r3.Vec, error)
	CenterOfMassJacobian() (*mat.Dense, error)
}

// Model is what task constructors need to know about the robot.
type Model interface {
	Space() *manifold.Space
	HasFrame(name string) bool
	HasMass() bool
}

// Task is one weighted objective of the task stack.
type Task interface {
	Name() string
	// Dim is the dimension of the residual.
	Dim() int
	ComputeError(k Kinematics) (*mat.VecDense, error)
	// ComputeJacobian returns a Dim×nv matrix.
	ComputeJacobian(k Kinematics) (*mat.Dense, error)
	Gain() float64
	Weight() float64
	// Cost returns the per-coordinate cost of the residual (Dim entries).
	Cost() []float64
	LMDamping() float64
	Enabled() bool
}

// DesiredVelocity is the task-space velocity the task asks for: -gain·r/dt.
// With gain 1 the residual is cancelled in one tick of length dt.
func DesiredVelocity(t Task, r *mat.VecDense, dt float64) *mat.VecDense {
	var d mat.VecDense
	d.ScaleVec(-t.Gain()/dt, r)
	return &d
}

// ---- shared parameters ----

type params struct {
	name     string
	dim      int
	gain     float64
	weight   float64
	cost     []float64
	lm       float64
	disabled bool
	last     *mat.VecDense
}

func newParams(name string, dim int) params {
	cost := make([]float64, dim)
	for i := range cost {
		cost[i] = 1
	}
	return params{name: name, dim: dim, gain: 1, weight: 1, cost: cost}
}

// Option configures a task at construction.
type Option func(*params) error

// WithName overrides the default task name.
func WithName(name string) Option {
	return func(p *params) error {
		p.name = name
		return nil
	}
}

// WithGain sets the fraction of the error corrected per step, in [0, 1].
func WithGain(g float64) Option { return func(p *params) error { return p.setGain(g) } }

// WithWeight scales the task in the stack. Zero removes its influence.
func WithWeight(w float64) Option { return func(p *params) error { return p.setWeight(w) } }

// WithCost sets the per-coordinate cost. A single value applies to every
// coordinate.
func WithCost(c ...float64) Option { return func(p *params) error { return p.setCost(c...) } }

// WithLMDamping adds Levenberg-Marquardt damping that grows with the
// squared error.
func WithLMDamping(lm float64) Option { return func(p *params) error { return p.setLMDamping(lm) } }

func (p *params) apply(opts []Option) error {
	for _, o := range opts {
		if err := o(p); err != nil {
			return fmt.Errorf("task %s: %w", p.name, err)
		}
	}
	return nil
}

func (p *params) Name() string       { return p.name }
func (p *params) Dim() int           { return p.dim }
func (p *params) Gain() float64      { return p.gain }
func (p *params) Weight() float64    { return p.weight }
func (p *params) LMDamping() float64 { return p.lm }
func (p *params) Enabled() bool      { return !p.disabled }

func (p *params) Cost() []float64 { return append([]float64(nil), p.cost...) }

// SetGain sets the proportional gain, in [0, 1].
func (p *params) SetGain(g float64) error { return p.setGain(g) }

// SetWeight sets the weight of the task in the aggregate objective. A zero
// weight keeps the task in the stack without any effect on the solution.
func (p *params) SetWeight(w float64) error { return p.setWeight(w) }

func (p *params) SetCost(c ...float64) error { return p.setCost(c...) }

func (p *params) SetLMDamping(lm float64) error { return p.setLMDamping(lm) }

func (p *params) SetEnabled(on bool) { p.disabled = !on }

// LastError returns a copy of the residual of the last evaluation, or nil.
func (p *params) LastError() *mat.VecDense {
	if p.last == nil {
		return nil
	}
	return mat.VecDenseCopyOf(p.last)
}

func (p *params) remember(r *mat.VecDense) *mat.VecDense {
	p.last = mat.VecDenseCopyOf(r)
	return r
}

func (p *params) setGain(g float64) error {
	if math.IsNaN(g) || g < 0 || g > 1 {
		return fmt.Errorf("%w: gain %v not in [0, 1]", ErrInvalidParameter, g)
	}
	p.gain = g
	return nil
}

func (p *params) setWeight(w float64) error {
	if !nonNegative(w) {
		return fmt.Errorf("%w: weight %v", ErrInvalidParameter, w)
	}
	p.weight = w
	return nil
}

func (p *params) setLMDamping(lm float64) error {
	if !nonNegative(lm) {
		return fmt.Errorf("%w: Levenberg-Marquardt damping %v", ErrInvalidParameter, lm)
	}
	p.lm = lm
	return nil
}

func (p *params) setCost(c ...float64) error {
	return p.setCostRange(0, p.dim, c)
}

// setCostRange writes c into cost[from:to], broadcasting a single value.
func (p *params) setCostRange(from, to int, c []float64) error {
	n := to - from
	if len(c) != 1 && len(c) != n {
		return fmt.Errorf("%w: %d cost values for %d coordinates", ErrInvalidParameter, len(c), n)
	}
	for _, x := range c {
		if !nonNegative(x) {
			return fmt.Errorf("%w: cost %v", ErrInvalidParameter, x)
		}
	}
	for i := 0; i < n; i++ {
		if len(c) == 1 {
			p.cost[from+i] = c[0]
		} else {
			p.cost[from+i] = c[i]
		}
	}
	return nil
}

func nonNegative(x float64) bool {
	return x >= 0 && !math.IsInf(x, 1) && !math.IsNaN(x)
}

// frameExists is shared by the frame based constructors.
func frameExists(m Model, frame string) error {
	if !m.HasFrame(frame) {
		return fmt.Errorf("%w: %q", kinematics.ErrFrameNotFound, frame)
	}
	return nil
}
