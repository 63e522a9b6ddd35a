package qp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// hildreth runs coordinate ascent on the dual of
//
//	minimize ½ xᵀPx + qᵀx  subject to  Mx <= γ
//
// Equalities are written as two opposite inequalities. The IK Hessian is
// only regularized by a tiny damping, which leaves the dual badly
// conditioned, so the ascent works on proximal subproblems
//
//	minimize ½ xᵀPx + qᵀx + σ/2 |x - xₖ|²
//
// re-centred at each outer step until the centre stops moving. One
// factorization of P + σI serves all of them.
type hildreth struct {
	maxIter int
	tol     float64
}

const (
	hildrethDivergence = 1e10
	// σ relative to the mean diagonal of P.
	hildrethProximalScale = 0.1
	hildrethProximalMin   = 1e-8
	hildrethOuterTol      = 1e-10
)

func newHildreth(o Options) *hildreth {
	h := &hildreth{maxIter: 50000, tol: 1e-12}
	if o.MaxIterations > 0 {
		h.maxIter = o.MaxIterations
	}
	if o.Tolerance > 0 {
		h.tol = o.Tolerance
	}
	return h
}

func (h *hildreth) Name() string { return "hildreth" }

func (h *hildreth) Solve(p *Problem) Solution {
	n := p.Dim()
	rows, gamma := p.inequalityRows()
	eq, rhs := p.equalityRows()
	for i, r := range eq {
		neg := make([]float64, n)
		floats.ScaleTo(neg, -1, r)
		rows = append(rows, r, neg)
		gamma = append(gamma, rhs[i], -rhs[i])
	}
	if len(rows) == 0 {
		return solveUnconstrained(p)
	}
	m := len(rows)
	M := mat.NewDense(m, n, nil)
	for i, r := range rows {
		if floats.Norm(r, 2) == 0 && gamma[i] < 0 {
			return Solution{Status: StatusInfeasible, Err: fmt.Errorf("%w: row %d reads 0 <= %v", ErrInfeasible, i, gamma[i])}
		}
		M.SetRow(i, r)
	}
	if x, ok := feasibleUnconstrained(p, M, gamma); ok {
		return Solution{X: x, Status: StatusSolved, Iterations: 1}
	}

	trace := 0.0
	for i := 0; i < n; i++ {
		trace += p.P.At(i, i)
	}
	sigma := math.Max(hildrethProximalScale*trace/float64(n), hildrethProximalMin)
	Ps := mat.NewSymDense(n, nil)
	Ps.CopySym(p.P)
	for i := 0; i < n; i++ {
		Ps.SetSym(i, i, Ps.At(i, i)+sigma)
	}
	var chol mat.Cholesky
	if !chol.Factorize(Ps) {
		return Solution{Status: StatusNumericalFailure, Err: fmt.Errorf("%w: Hessian is not positive semidefinite", ErrNumerical)}
	}

	// W = (P+σI)⁻¹Mᵀ and H = MW do not depend on the centre.
	var W, H mat.Dense
	if err := chol.SolveTo(&W, M.T()); err != nil {
		return Solution{Status: StatusNumericalFailure, Err: fmt.Errorf("%w: %v", ErrNumerical, err)}
	}
	H.Mul(M, &W)

	var x0, dx mat.VecDense
	x := mat.NewVecDense(n, nil)
	qk := mat.NewVecDense(n, nil)
	lambda := make([]float64, m)
	hrow := make([]float64, m)
	K := make([]float64, m)
	iter := 0
	for iter < h.maxIter {
		qk.AddScaledVec(p.Q, -sigma, x)
		if err := chol.SolveVecTo(&x0, qk); err != nil {
			return Solution{Status: StatusNumericalFailure, Iterations: iter, Err: fmt.Errorf("%w: %v", ErrNumerical, err)}
		}
		x0.ScaleVec(-1, &x0)
		base := x0.RawVector().Data
		for i, r := range rows {
			K[i] = gamma[i] - floats.Dot(r, base)
		}

		// λ carries over from the previous centre.
		converged := false
		for iter < h.maxIter {
			iter++
			change := 0.0
			for i := 0; i < m; i++ {
				hii := H.At(i, i)
				if hii <= 0 {
					continue
				}
				mat.Row(hrow, i, &H)
				w := K[i] + floats.Dot(hrow, lambda) - hii*lambda[i]
				next := math.Max(0, -w/hii)
				change = math.Max(change, math.Abs(next-lambda[i]))
				lambda[i] = next
			}
			if floats.Norm(lambda, 2) > hildrethDivergence {
				return Solution{Status: StatusInfeasible, Iterations: iter, Err: fmt.Errorf("%w: dual multipliers diverge", ErrInfeasible)}
			}
			if change <= h.tol*(1+floats.Norm(lambda, math.Inf(1))) {
				converged = true
				break
			}
		}
		if !converged {
			break
		}

		dx.MulVec(&W, mat.NewVecDense(m, lambda))
		next := mat.NewVecDense(n, nil)
		next.SubVec(&x0, &dx)
		dx.SubVec(next, x)
		x = next
		if mat.Norm(&dx, 2) <= hildrethOuterTol*(1+mat.Norm(x, 2)) {
			return Solution{X: x, Status: StatusSolved, Iterations: iter}
		}
	}
	return Solution{Status: StatusMaxIterations, Iterations: iter}
}

// feasibleUnconstrained returns -P⁻¹q when P factors and the point already
// satisfies every row.
func feasibleUnconstrained(p *Problem, M *mat.Dense, gamma []float64) (*mat.VecDense, bool) {
	var chol mat.Cholesky
	if !chol.Factorize(p.P) {
		return nil, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, p.Q); err != nil {
		return nil, false
	}
	x.ScaleVec(-1, &x)
	var mx mat.VecDense
	mx.MulVec(M, &x)
	for i, g := range gamma {
		if mx.AtVec(i) > g {
			return nil, false
		}
	}
	return &x, true
}
