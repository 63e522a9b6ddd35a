// Package barriers implements control barrier functions. A barrier h(q) is
// non-negative on the safe set; each of its components j contributes the
// inequality
//
//	-J_j v <= gain_j · alpha(h_j)
//
// on the tangent velocity v, with J = ∂h/∂v and alpha an extended class-K
// function. A barrier may also ask for a diagonal regularizer that keeps the
// velocity small when the barrier Jacobian is small.
package barriers

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mohammadijoo/diffik/tasks"
)

// ErrNoPositionLimit is returned for a position barrier with no bound on any axis.
var ErrNoPositionLimit = errors.New("barriers: position barrier needs a minimum or a maximum")

// Barrier is one control barrier function.
type Barrier interface {
	Name() string
	Dim() int
	ComputeBarrier(k tasks.Kinematics) (*mat.VecDense, error)
	ComputeJacobian(k tasks.Kinematics) (*mat.Dense, error)
	// Gain has Dim entries.
	Gain() []float64
	// ClassK is the extended class-K function applied to each component.
	ClassK(h float64) float64
	// SafeDisplacementGain is the weight r of the regularizer
	// r/‖J‖²·‖v‖². Zero disables it.
	SafeDisplacementGain() float64
}

// Identity is the default class-K function.
func Identity(h float64) float64 { return h }

// Saturating is h/(1+|h|), bounded in (-1, 1).
func Saturating(h float64) float64 { return h / (1 + math.Abs(h)) }

// Inequality evaluates the rows G v <= h contributed by b.
func Inequality(b Barrier, k tasks.Kinematics) (*mat.Dense, *mat.VecDense, error) {
	hv, err := b.ComputeBarrier(k)
	if err != nil {
		return nil, nil, fmt.Errorf("barrier %s: %w", b.Name(), err)
	}
	J, err := b.ComputeJacobian(k)
	if err != nil {
		return nil, nil, fmt.Errorf("barrier %s: %w", b.Name(), err)
	}
	var G mat.Dense
	G.Scale(-1, J)
	gain := b.Gain()
	h := mat.NewVecDense(hv.Len(), nil)
	for i := 0; i < hv.Len(); i++ {
		h.SetVec(i, gain[i]*b.ClassK(hv.AtVec(i)))
	}
	return &G, h, nil
}

// Regularization returns the diagonal weight r/‖J‖²_F that b adds to the
// Hessian, or zero.
func Regularization(b Barrier, k tasks.Kinematics) (float64, error) {
	r := b.SafeDisplacementGain()
	if r <= 1e-6 {
		return 0, nil
	}
	J, err := b.ComputeJacobian(k)
	if err != nil {
		return 0, fmt.Errorf("barrier %s: %w", b.Name(), err)
	}
	n := mat.Norm(J, 2)
	if n == 0 {
		return 0, nil
	}
	return r / (n * n), nil
}

type params struct {
	name string
	gain []float64
	r    float64
}

func (p *params) Name() string                  { return p.name }
func (p *params) Dim() int                      { return len(p.gain) }
func (p *params) Gain() []float64               { return append([]float64(nil), p.gain...) }
func (p *params) SafeDisplacementGain() float64 { return p.r }

// Option configures a barrier at construction.
type Option func(*params) error

// WithGain sets the barrier gain. A single value applies to every component.
func WithGain(g ...float64) Option {
	return func(p *params) error {
		if len(g) != 1 && len(g) != len(p.gain) {
			return fmt.Errorf("%w: %d gains for %d components", tasks.ErrInvalidParameter, len(g), len(p.gain))
		}
		for i := range p.gain {
			x := g[0]
			if len(g) > 1 {
				x = g[i]
			}
			if !(x >= 0) || math.IsInf(x, 1) {
				return fmt.Errorf("%w: barrier gain %v", tasks.ErrInvalidParameter, x)
			}
			p.gain[i] = x
		}
		return nil
	}
}

// WithSafeDisplacementGain sets r.
func WithSafeDisplacementGain(r float64) Option {
	return func(p *params) error {
		if !(r >= 0) || math.IsInf(r, 1) {
			return fmt.Errorf("%w: safe displacement gain %v", tasks.ErrInvalidParameter, r)
		}
		p.r = r
		return nil
	}
}

// WithName overrides the default barrier name.
func WithName(name string) Option {
	return func(p *params) error {
		p.name = name
		return nil
	}
}

func newParams(name string, dim int, gain, r float64, opts []Option) (params, error) {
	p := params{name: name, gain: make([]float64, dim), r: r}
	for i := range p.gain {
		p.gain[i] = gain
	}
	for _, o := range opts {
		if err := o(&p); err != nil {
			return params{}, fmt.Errorf("barrier %s: %w", name, err)
		}
	}
	return p, nil
}
