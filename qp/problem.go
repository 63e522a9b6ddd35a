// Package qp solves the convex quadratic programs built by the IK engine:
//
//	minimize    ½ xᵀPx + qᵀx
//	subject to  Gx ≤ h
//	            Ax = b
//	            lower ≤ x ≤ upper
//
// Back-ends are interchangeable behind the Backend interface and are looked
// up by name. Callers go through Solve, which validates the problem, turns
// back-end panics into a status and checks the returned point.
package qp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrUnknownBackend is returned by New for a name not in the registry.
	ErrUnknownBackend = errors.New("qp: unknown backend")
	// ErrInvalidProblem reports bad shapes or NaN entries.
	ErrInvalidProblem = errors.New("qp: invalid problem")
	// ErrInfeasible reports constraints with no common point.
	ErrInfeasible = errors.New("qp: problem is infeasible")
	// ErrMaxIterations reports a back-end that ran out of iterations.
	ErrMaxIterations = errors.New("qp: iteration limit reached")
	// ErrNumerical reports a back-end that broke down, for example on a
	// failed factorization or a non-finite result.
	ErrNumerical = errors.New("qp: numerical failure")
)

// Problem is a convex QP. G/H, A/B and Lower/Upper are optional; infinite
// box entries mean unbounded.
type Problem struct {
	P *mat.SymDense
	Q *mat.VecDense

	G *mat.Dense
	H *mat.VecDense

	A *mat.Dense
	B *mat.VecDense

	Lower, Upper []float64
}

// Dim is the number of decision variables.
func (p *Problem) Dim() int {
	if p.P == nil {
		return 0
	}
	return p.P.SymmetricDim()
}

// NumInequalities counts the rows of G.
func (p *Problem) NumInequalities() int {
	if p.G == nil {
		return 0
	}
	r, _ := p.G.Dims()
	return r
}

func (p *Problem) NumEqualities() int {
	if p.A == nil {
		return 0
	}
	r, _ := p.A.Dims()
	return r
}

// Validate checks shapes and rejects NaN entries.
func (p *Problem) Validate() error {
	if p.P == nil || p.Q == nil {
		return fmt.Errorf("%w: missing cost", ErrInvalidProblem)
	}
	n := p.Dim()
	if n == 0 {
		return fmt.Errorf("%w: no decision variables", ErrInvalidProblem)
	}
	if p.Q.Len() != n {
		return fmt.Errorf("%w: q has %d entries, want %d", ErrInvalidProblem, p.Q.Len(), n)
	}
	if !finiteMatrix(p.P) || !finiteVector(p.Q) {
		return fmt.Errorf("%w: cost is not finite", ErrInvalidProblem)
	}
	if err := checkRows("inequality", p.G, p.H, n); err != nil {
		return err
	}
	if err := checkRows("equality", p.A, p.B, n); err != nil {
		return err
	}
	for _, side := range [][]float64{p.Lower, p.Upper} {
		if side != nil && len(side) != n {
			return fmt.Errorf("%w: box has %d entries, want %d", ErrInvalidProblem, len(side), n)
		}
	}
	for i := range p.Lower {
		if math.IsNaN(p.Lower[i]) || math.IsInf(p.Lower[i], 1) {
			return fmt.Errorf("%w: lower bound %d is %v", ErrInvalidProblem, i, p.Lower[i])
		}
	}
	for i := range p.Upper {
		if math.IsNaN(p.Upper[i]) || math.IsInf(p.Upper[i], -1) {
			return fmt.Errorf("%w: upper bound %d is %v", ErrInvalidProblem, i, p.Upper[i])
		}
	}
	return nil
}

func checkRows(kind string, M *mat.Dense, v *mat.VecDense, n int) error {
	if M == nil && v == nil {
		return nil
	}
	if M == nil || v == nil {
		return fmt.Errorf("%w: %s matrix and vector must be set together", ErrInvalidProblem, kind)
	}
	r, c := M.Dims()
	if c != n || v.Len() != r {
		return fmt.Errorf("%w: %s rows are %d×%d with %d bounds, want %d columns", ErrInvalidProblem, kind, r, c, v.Len(), n)
	}
	if !finiteMatrix(M) || !finiteVector(v) {
		return fmt.Errorf("%w: %s rows are not finite", ErrInvalidProblem, kind)
	}
	return nil
}

func finiteMatrix(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x := m.At(i, j)
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}

func finiteVector(v mat.Vector) bool {
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// inequalityRows stacks Gx ≤ h with the finite box bounds written as
// x_i ≤ upper_i and -x_i ≤ -lower_i. It returns one row slice per
// constraint.
func (p *Problem) inequalityRows() (rows [][]float64, bound []float64) {
	n := p.Dim()
	for i := 0; i < p.NumInequalities(); i++ {
		rows = append(rows, mat.Row(nil, i, p.G))
		bound = append(bound, p.H.AtVec(i))
	}
	for i := 0; i < n; i++ {
		if p.Upper != nil && !math.IsInf(p.Upper[i], 1) {
			r := make([]float64, n)
			r[i] = 1
			rows = append(rows, r)
			bound = append(bound, p.Upper[i])
		}
		if p.Lower != nil && !math.IsInf(p.Lower[i], -1) {
			r := make([]float64, n)
			r[i] = -1
			rows = append(rows, r)
			bound = append(bound, -p.Lower[i])
		}
	}
	return rows, bound
}

func (p *Problem) equalityRows() (rows [][]float64, rhs []float64) {
	for i := 0; i < p.NumEqualities(); i++ {
		rows = append(rows, mat.Row(nil, i, p.A))
		rhs = append(rhs, p.B.AtVec(i))
	}
	return rows, rhs
}

// Objective evaluates ½ xᵀPx + qᵀx.
func (p *Problem) Objective(x mat.Vector) float64 {
	return 0.5*mat.Inner(x, p.P, x) + mat.Dot(p.Q, x)
}
