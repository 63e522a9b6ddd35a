package qp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ------------------------------------------------------------
// Operator splitting (ADMM)
// ------------------------------------------------------------
//
// All constraints are stacked into l <= Cx <= u and solved with the
// relaxed ADMM iteration
//
//	x̃ = (P + σI + CᵀρC)⁻¹ (σx - q + Cᵀ(ρz - y))
//	x  = αx̃ + (1-α)x
//	z  = Π[l,u](αCx̃ + (1-α)z + y/ρ)
//	y  = y + ρ(αCx̃ + (1-α)z_prev - z)
//
// ρ is adapted from the ratio of the scaled residuals and the KKT matrix
// is refactored when it moves by more than admmRefactorRatio.

const (
	admmRho           = 0.1
	admmSigma         = 1e-6
	admmAlpha         = 1.6
	admmEqualityScale = 1e3
	admmRhoMin        = 1e-6
	admmRhoMax        = 1e6
	admmAdaptEvery    = 25
	admmRefactorRatio = 5.0
	admmInfeasibleEps = 1e-6
	admmTiny          = 1e-30
)

type admm struct {
	maxIter int
	eps     float64
}

func newADMM(o Options) *admm {
	a := &admm{maxIter: 20000, eps: 1e-9}
	if o.MaxIterations > 0 {
		a.maxIter = o.MaxIterations
	}
	if o.Tolerance > 0 {
		a.eps = o.Tolerance
	}
	return a
}

func (a *admm) Name() string { return "admm" }

func (a *admm) Solve(p *Problem) Solution {
	n := p.Dim()
	C, lo, hi := stackConstraints(p)
	if C == nil {
		return solveUnconstrained(p)
	}
	m, _ := C.Dims()

	base := admmRho
	rho := make([]float64, m)
	setRho := func() {
		for i := range rho {
			switch {
			case math.IsInf(lo[i], -1) && math.IsInf(hi[i], 1):
				rho[i] = admmRhoMin
			case lo[i] == hi[i]:
				rho[i] = admmEqualityScale * base
			default:
				rho[i] = base
			}
		}
	}
	var chol mat.Cholesky
	factor := func() bool {
		var rc, ctrc mat.Dense
		rc.Apply(func(i, _ int, v float64) float64 { return rho[i] * v }, C)
		ctrc.Mul(C.T(), &rc)
		K := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := p.P.At(i, j) + ctrc.At(i, j)
				if i == j {
					v += admmSigma
				}
				K.SetSym(i, j, v)
			}
		}
		return chol.Factorize(K)
	}
	setRho()
	if !factor() {
		return Solution{Status: StatusNumericalFailure, Err: fmt.Errorf("%w: KKT matrix is not positive definite", ErrNumerical)}
	}

	x := make([]float64, n)
	z := make([]float64, m)
	y := make([]float64, m)
	for i := range z {
		z[i] = clamp(0, lo[i], hi[i])
	}
	q := p.Q.RawVector().Data

	var (
		rhs, xt        = make([]float64, n), mat.NewVecDense(n, nil)
		zt             = mat.NewVecDense(m, nil)
		w              = make([]float64, m)
		ctw            = mat.NewVecDense(n, nil)
		zr             = make([]float64, m)
		dy             = make([]float64, m)
		cx             = mat.NewVecDense(m, nil)
		px             = mat.NewVecDense(n, nil)
		cty            = mat.NewVecDense(n, nil)
		ctdy           = mat.NewVecDense(n, nil)
		dual           = make([]float64, n)
		prim           = make([]float64, m)
		xv, yv, wv, dv = mat.NewVecDense(n, x), mat.NewVecDense(m, y), mat.NewVecDense(m, w), mat.NewVecDense(m, dy)
	)
	inf := math.Inf(1)

	for iter := 1; iter <= a.maxIter; iter++ {
		for i := 0; i < m; i++ {
			w[i] = rho[i]*z[i] - y[i]
		}
		ctw.MulVec(C.T(), wv)
		for i := 0; i < n; i++ {
			rhs[i] = admmSigma*x[i] - q[i] + ctw.AtVec(i)
		}
		if err := chol.SolveVecTo(xt, mat.NewVecDense(n, rhs)); err != nil {
			return Solution{Status: StatusNumericalFailure, Iterations: iter, Err: fmt.Errorf("%w: %v", ErrNumerical, err)}
		}
		zt.MulVec(C, xt)
		for i := 0; i < n; i++ {
			x[i] = admmAlpha*xt.AtVec(i) + (1-admmAlpha)*x[i]
		}
		for i := 0; i < m; i++ {
			zr[i] = admmAlpha*zt.AtVec(i) + (1-admmAlpha)*z[i]
			zNew := clamp(zr[i]+y[i]/rho[i], lo[i], hi[i])
			yNew := y[i] + rho[i]*(zr[i]-zNew)
			dy[i] = yNew - y[i]
			z[i], y[i] = zNew, yNew
		}

		cx.MulVec(C, xv)
		px.MulVec(p.P, xv)
		cty.MulVec(C.T(), yv)
		for i := 0; i < m; i++ {
			prim[i] = cx.AtVec(i) - z[i]
		}
		for i := 0; i < n; i++ {
			dual[i] = px.AtVec(i) + q[i] + cty.AtVec(i)
		}
		rp, rd := floats.Norm(prim, inf), floats.Norm(dual, inf)
		primScale := math.Max(floats.Norm(cx.RawVector().Data, inf), floats.Norm(z, inf))
		dualScale := math.Max(floats.Norm(px.RawVector().Data, inf), math.Max(floats.Norm(cty.RawVector().Data, inf), floats.Norm(q, inf)))
		if rp <= a.eps+a.eps*primScale && rd <= a.eps+a.eps*dualScale {
			return Solution{X: mat.NewVecDense(n, append([]float64(nil), x...)), Status: StatusSolved, Iterations: iter}
		}

		if primalInfeasible(C, ctdy, dv, dy, lo, hi) {
			return Solution{Status: StatusInfeasible, Iterations: iter, Err: fmt.Errorf("%w: primal infeasibility certificate found", ErrInfeasible)}
		}

		if iter%admmAdaptEvery == 0 {
			ratio := (rp / (primScale + admmTiny)) / (rd/(dualScale+admmTiny) + admmTiny)
			next := math.Min(admmRhoMax, math.Max(admmRhoMin, base*math.Sqrt(ratio)))
			if next > admmRefactorRatio*base || next < base/admmRefactorRatio {
				base = next
				setRho()
				if !factor() {
					return Solution{Status: StatusNumericalFailure, Iterations: iter, Err: fmt.Errorf("%w: KKT refactorization failed", ErrNumerical)}
				}
			}
		}
	}
	return Solution{Status: StatusMaxIterations, Iterations: a.maxIter}
}

// primalInfeasible tests the dual increment dy for a certificate of primal
// infeasibility after projecting it onto the polar of the recession cone of
// [l, u]. dy is modified.
func primalInfeasible(C *mat.Dense, ctdy, dv *mat.VecDense, dy, lo, hi []float64) bool {
	for i := range dy {
		if math.IsInf(hi[i], 1) {
			dy[i] = math.Min(dy[i], 0)
		}
		if math.IsInf(lo[i], -1) {
			dy[i] = math.Max(dy[i], 0)
		}
	}
	norm := floats.Norm(dy, math.Inf(1))
	if norm <= admmTiny {
		return false
	}
	ctdy.MulVec(C.T(), dv)
	if floats.Norm(ctdy.RawVector().Data, math.Inf(1)) > admmInfeasibleEps*norm {
		return false
	}
	support := 0.0
	for i, d := range dy {
		switch {
		case d > 0:
			support += hi[i] * d
		case d < 0:
			support += lo[i] * d
		}
	}
	return support < -admmInfeasibleEps*norm
}

// stackConstraints writes every constraint of p as l <= Cx <= u. It returns
// a nil matrix when p has no constraints.
func stackConstraints(p *Problem) (*mat.Dense, []float64, []float64) {
	n := p.Dim()
	var rows [][]float64
	var lo, hi []float64
	for i := 0; i < p.NumInequalities(); i++ {
		rows = append(rows, mat.Row(nil, i, p.G))
		lo = append(lo, math.Inf(-1))
		hi = append(hi, p.H.AtVec(i))
	}
	for i := 0; i < p.NumEqualities(); i++ {
		rows = append(rows, mat.Row(nil, i, p.A))
		lo = append(lo, p.B.AtVec(i))
		hi = append(hi, p.B.AtVec(i))
	}
	for i := 0; i < n; i++ {
		l, u := math.Inf(-1), math.Inf(1)
		if p.Lower != nil {
			l = p.Lower[i]
		}
		if p.Upper != nil {
			u = p.Upper[i]
		}
		if math.IsInf(l, -1) && math.IsInf(u, 1) {
			continue
		}
		r := make([]float64, n)
		r[i] = 1
		rows = append(rows, r)
		lo = append(lo, l)
		hi = append(hi, u)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	C := mat.NewDense(len(rows), n, nil)
	for i, r := range rows {
		C.SetRow(i, r)
	}
	return C, lo, hi
}

// solveUnconstrained returns x = -P⁻¹q.
func solveUnconstrained(p *Problem) Solution {
	var chol mat.Cholesky
	if !chol.Factorize(p.P) {
		return Solution{Status: StatusNumericalFailure, Err: fmt.Errorf("%w: Hessian is not positive definite", ErrNumerical)}
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, p.Q); err != nil {
		return Solution{Status: StatusNumericalFailure, Err: fmt.Errorf("%w: %v", ErrNumerical, err)}
	}
	x.ScaleVec(-1, &x)
	return Solution{X: &x, Status: StatusSolved, Iterations: 1}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
