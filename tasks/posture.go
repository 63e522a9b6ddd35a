package tasks

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mohammadijoo/diffik/kinematics"
	"github.com/mohammadijoo/diffik/lie"
	"github.com/mohammadijoo/diffik/manifold"
)

// PostureTask regularizes every joint toward a reference configuration. The
// floating base, when there is one, is left out.
type PostureTask struct {
	params
	space  *manifold.Space
	base   int
	target *manifold.Configuration
}

func NewPostureTask(m Model, opts ...Option) (*PostureTask, error) {
	s := m.Space()
	base := s.FloatingBaseNV()
	if s.NV() == base {
		return nil, fmt.Errorf("%w: posture task needs at least one joint besides the floating base", ErrInvalidParameter)
	}
	t := &PostureTask{params: newParams("posture", s.NV()-base), space: s, base: base}
	if err := t.apply(opts); err != nil {
		return nil, err
	}
	return t, nil
}

// SetTarget sets the reference configuration.
func (t *PostureTask) SetTarget(c manifold.Configuration) error {
	if c.Len() != t.space.NQ() {
		return fmt.Errorf("%w: posture target has %d entries, want %d", manifold.ErrDimensionMismatch, c.Len(), t.space.NQ())
	}
	t.target = &c
	return nil
}

func (t *PostureTask) SetTargetFromConfiguration(k Kinematics) error {
	return t.SetTarget(k.Configuration())
}

func (t *PostureTask) Target() (manifold.Configuration, bool) {
	if t.target == nil {
		return manifold.Configuration{}, false
	}
	return *t.target, true
}

func (t *PostureTask) difference(k Kinematics) ([]float64, error) {
	if t.target == nil {
		return nil, ErrTargetNotSet
	}
	return t.space.Difference(k.Configuration(), *t.target)
}

func (t *PostureTask) ComputeError(k Kinematics) (*mat.VecDense, error) {
	d, err := t.difference(k)
	if err != nil {
		return nil, err
	}
	return t.remember(mat.NewVecDense(t.dim, d[t.base:])), nil
}

// ComputeJacobian is the identity on Euclidean joints and Jlog3 of the
// residual on spherical joints.
func (t *PostureTask) ComputeJacobian(k Kinematics) (*mat.Dense, error) {
	d, err := t.difference(k)
	if err != nil {
		return nil, err
	}
	J := mat.NewDense(t.dim, t.space.NV(), nil)
	for b := 0; b < t.space.NumBlocks(); b++ {
		blk := t.space.Block(b)
		vi := t.space.VIndex(b)
		if vi < t.base {
			continue
		}
		row := vi - t.base
		if blk.Kind() != manifold.KindSpherical {
			for i := 0; i < blk.NV(); i++ {
				J.Set(row+i, vi+i, 1)
			}
			continue
		}
		jl := lie.Jlog3(r3.Vec{X: d[vi], Y: d[vi+1], Z: d[vi+2]})
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				J.Set(row+i, vi+j, jl[i][j])
			}
		}
	}
	return J, nil
}

// DampingTask penalizes joint velocities. Its residual is always zero so it
// only adds weight·cost² to the diagonal of the Hessian.
type DampingTask struct {
	params
	nv   int
	base int
}

func NewDampingTask(m Model, opts ...Option) (*DampingTask, error) {
	s := m.Space()
	base := s.FloatingBaseNV()
	if s.NV() == base {
		return nil, fmt.Errorf("%w: damping task needs at least one joint besides the floating base", ErrInvalidParameter)
	}
	t := &DampingTask{params: newParams("damping", s.NV()-base), nv: s.NV(), base: base}
	if err := t.apply(opts); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *DampingTask) ComputeError(Kinematics) (*mat.VecDense, error) {
	return t.remember(mat.NewVecDense(t.dim, nil)), nil
}

func (t *DampingTask) ComputeJacobian(Kinematics) (*mat.Dense, error) {
	J := mat.NewDense(t.dim, t.nv, nil)
	for i := 0; i < t.dim; i++ {
		J.Set(i, t.base+i, 1)
	}
	return J, nil
}

// ComTask drives the center of mass to a world position.
type ComTask struct {
	params
	target *r3.Vec
}

// NewComTask fails with kinematics.ErrNoMass when the links of m carry no
// mass.
func NewComTask(m Model, opts ...Option) (*ComTask, error) {
	if !m.HasMass() {
		return nil, fmt.Errorf("%w: center of mass task needs link masses", kinematics.ErrNoMass)
	}
	t := &ComTask{params: newParams("com", 3)}
	if err := t.apply(opts); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ComTask) SetTarget(p r3.Vec) { t.target = &p }

func (t *ComTask) SetTargetFromConfiguration(k Kinematics) error {
	c, err := k.CenterOfMass()
	if err != nil {
		return err
	}
	t.SetTarget(c)
	return nil
}

func (t *ComTask) Target() (r3.Vec, bool) {
	if t.target == nil {
		return r3.Vec{}, false
	}
	return *t.target, true
}

func (t *ComTask) ComputeError(k Kinematics) (*mat.VecDense, error) {
	if t.target == nil {
		return nil, ErrTargetNotSet
	}
	c, err := k.CenterOfMass()
	if err != nil {
		return nil, err
	}
	e := r3.Sub(c, *t.target)
	return t.remember(mat.NewVecDense(3, []float64{e.X, e.Y, e.Z})), nil
}

func (t *ComTask) ComputeJacobian(k Kinematics) (*mat.Dense, error) {
	if t.target == nil {
		return nil, ErrTargetNotSet
	}
	return k.CenterOfMassJacobian()
}
