package barriers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mohammadijoo/diffik/kinematics"
	"github.com/mohammadijoo/diffik/tasks"
)

// PositionLimits bounds the world position of a frame along some axes
// (0, 1, 2 for x, y, z). Min and Max have one entry per axis; either may be
// nil but not both.
type PositionLimits struct {
	Axes     []int
	Min, Max []float64
}

// PositionBarrier keeps the origin of a frame inside an axis-aligned box.
type PositionBarrier struct {
	params
	frame string
	lim   PositionLimits
}

// NewPositionBarrier defaults to gain 1, no safe displacement regularizer and
// the identity class-K function. Nil axes select x, y and z.
func NewPositionBarrier(m tasks.Model, frame string, lim PositionLimits, opts ...Option) (*PositionBarrier, error) {
	if !m.HasFrame(frame) {
		return nil, fmt.Errorf("%w: %q", kinematics.ErrFrameNotFound, frame)
	}
	if lim.Min == nil && lim.Max == nil {
		return nil, fmt.Errorf("%w: frame %s", ErrNoPositionLimit, frame)
	}
	if lim.Axes == nil {
		lim.Axes = []int{0, 1, 2}
	}
	for _, a := range lim.Axes {
		if a < 0 || a > 2 {
			return nil, fmt.Errorf("%w: axis %d", tasks.ErrInvalidParameter, a)
		}
	}
	for _, side := range [][]float64{lim.Min, lim.Max} {
		if side != nil && len(side) != len(lim.Axes) {
			return nil, fmt.Errorf("%w: %d limits for %d axes", tasks.ErrInvalidParameter, len(side), len(lim.Axes))
		}
	}
	dim := 0
	if lim.Min != nil {
		dim += len(lim.Axes)
	}
	if lim.Max != nil {
		dim += len(lim.Axes)
	}
	p, err := newParams("position:"+frame, dim, 1, 0, opts)
	if err != nil {
		return nil, err
	}
	return &PositionBarrier{params: p, frame: frame, lim: lim}, nil
}

func (b *PositionBarrier) ClassK(h float64) float64 { return Identity(h) }

func (b *PositionBarrier) ComputeBarrier(k tasks.Kinematics) (*mat.VecDense, error) {
	T, err := k.FramePlacement(b.frame)
	if err != nil {
		return nil, err
	}
	p := []float64{T.P.X, T.P.Y, T.P.Z}
	h := make([]float64, 0, b.Dim())
	if b.lim.Min != nil {
		for i, a := range b.lim.Axes {
			h = append(h, p[a]-b.lim.Min[i])
		}
	}
	if b.lim.Max != nil {
		for i, a := range b.lim.Axes {
			h = append(h, b.lim.Max[i]-p[a])
		}
	}
	return mat.NewVecDense(len(h), h), nil
}

func (b *PositionBarrier) ComputeJacobian(k tasks.Kinematics) (*mat.Dense, error) {
	T, err := k.FramePlacement(b.frame)
	if err != nil {
		return nil, err
	}
	Jb, err := k.FrameJacobian(b.frame)
	if err != nil {
		return nil, err
	}
	_, nv := Jb.Dims()
	R := mat.NewDense(3, 3, []float64{
		T.R[0][0], T.R[0][1], T.R[0][2],
		T.R[1][0], T.R[1][1], T.R[1][2],
		T.R[2][0], T.R[2][1], T.R[2][2],
	})
	var world mat.Dense
	world.Mul(R, Jb.Slice(0, 3, 0, nv))

	J := mat.NewDense(b.Dim(), nv, nil)
	row := 0
	if b.lim.Min != nil {
		for _, a := range b.lim.Axes {
			J.SetRow(row, world.RawRowView(a))
			row++
		}
	}
	if b.lim.Max != nil {
		for _, a := range b.lim.Axes {
			for j := 0; j < nv; j++ {
				J.Set(row, j, -world.At(a, j))
			}
			row++
		}
	}
	return J, nil
}
