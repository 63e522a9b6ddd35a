package barriers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mohammadijoo/diffik/limits"
	"github.com/mohammadijoo/diffik/tasks"
)

// ConfigurationBarrier keeps every bounded joint inside its position limits.
// Its components are q - qmin for each bounded coordinate followed by
// qmax - q.
type ConfigurationBarrier struct {
	params
	coords       []limits.Coordinate
	lower, upper []float64
	nv           int
}

// NewConfigurationBarrier defaults to gain 0.5, safe displacement gain 3 and
// the saturating class-K function.
func NewConfigurationBarrier(m limits.Model, opts ...Option) (*ConfigurationBarrier, error) {
	coords := limits.BoundedCoordinates(m)
	if len(coords) == 0 {
		return nil, fmt.Errorf("%w: configuration barrier on a model without bounded joints", tasks.ErrInvalidParameter)
	}
	p, err := newParams("configuration", 2*len(coords), 0.5, 3, opts)
	if err != nil {
		return nil, err
	}
	return &ConfigurationBarrier{
		params: p,
		coords: coords,
		lower:  m.LowerPositionLimit(),
		upper:  m.UpperPositionLimit(),
		nv:     m.Space().NV(),
	}, nil
}

func (b *ConfigurationBarrier) ClassK(h float64) float64 { return Saturating(h) }

func (b *ConfigurationBarrier) ComputeBarrier(k tasks.Kinematics) (*mat.VecDense, error) {
	c := k.Configuration()
	n := len(b.coords)
	h := mat.NewVecDense(2*n, nil)
	for i, bc := range b.coords {
		q := c.At(bc.Q)
		h.SetVec(i, q-b.lower[bc.Q])
		h.SetVec(n+i, b.upper[bc.Q]-q)
	}
	return h, nil
}

func (b *ConfigurationBarrier) ComputeJacobian(tasks.Kinematics) (*mat.Dense, error) {
	n := len(b.coords)
	J := mat.NewDense(2*n, b.nv, nil)
	for i, bc := range b.coords {
		J.Set(i, bc.V, 1)
		J.Set(n+i, bc.V, -1)
	}
	return J, nil
}
