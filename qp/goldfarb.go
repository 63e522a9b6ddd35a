package qp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ------------------------------------------------------------
// Goldfarb-Idnani dual active-set method
// ------------------------------------------------------------
//
// Constraints are handled in the form nᵀx + c ≥ 0. The method starts from
// the unconstrained minimum, which is dual feasible, and adds the most
// violated constraint at each outer iteration while keeping the active set
// primal-dual consistent. J and R hold the factorization J = L⁻ᵀ Q with
// P = LLᵀ and the active constraint normals Lᵀ-transformed into Q·[R; 0];
// both are updated with Givens rotations when constraints enter or leave.

const machEps = 2.220446049250313e-16

type goldfarbIdnani struct {
	maxIter int
}

func newGoldfarbIdnani(o Options) *goldfarbIdnani {
	return &goldfarbIdnani{maxIter: o.MaxIterations}
}

func (g *goldfarbIdnani) Name() string { return "goldfarb-idnani" }

// giState is the working set of one solve.
type giState struct {
	n     int
	J, R  [][]float64
	rNorm float64
	d, z  []float64
	r     []float64
	u     []float64
	act   []int // active constraints: -i-1 for equality i, i for inequality i
	iq    int
}

func (g *goldfarbIdnani) Solve(p *Problem) Solution {
	n := p.Dim()
	ineq, ineqBound := p.inequalityRows()
	eq, eqRHS := p.equalityRows()
	m, me := len(ineq), len(eq)

	maxIter := g.maxIter
	if maxIter <= 0 {
		maxIter = 100 + 50*(n+m+me)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(p.P); !ok {
		return Solution{Status: StatusNumericalFailure, Err: fmt.Errorf("%w: Hessian is not positive definite", ErrNumerical)}
	}
	var L, Linv mat.TriDense
	chol.LTo(&L)
	if err := Linv.InverseTri(&L); err != nil {
		return Solution{Status: StatusNumericalFailure, Err: fmt.Errorf("%w: %v", ErrNumerical, err)}
	}

	s := &giState{
		n:     n,
		J:     make([][]float64, n),
		R:     make([][]float64, n),
		rNorm: 1,
		d:     make([]float64, n),
		z:     make([]float64, n),
		r:     make([]float64, n+m+me+1),
		u:     make([]float64, n+m+me+1),
		act:   make([]int, n+m+me+1),
	}
	// J = L⁻ᵀ
	for i := 0; i < n; i++ {
		s.J[i] = make([]float64, n)
		s.R[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			s.J[i][j] = Linv.At(j, i)
		}
	}
	c1 := mat.Trace(p.P)
	c2 := 0.0
	for i := 0; i < n; i++ {
		c2 += s.J[i][i]
	}

	// Unconstrained minimum.
	var xv mat.VecDense
	if err := chol.SolveVecTo(&xv, p.Q); err != nil {
		return Solution{Status: StatusNumericalFailure, Err: fmt.Errorf("%w: %v", ErrNumerical, err)}
	}
	x := make([]float64, n)
	for i := range x {
		x[i] = -xv.AtVec(i)
	}

	// Equalities enter the active set first and never leave it.
	for i := 0; i < me; i++ {
		np := eq[i]
		s.computeD(np)
		s.updateZ()
		s.updateR()
		t2 := 0.0
		if floats.Dot(s.z, s.z) > machEps {
			t2 = (eqRHS[i] - floats.Dot(np, x)) / floats.Dot(s.z, np)
		}
		floats.AddScaled(x, t2, s.z)
		s.u[s.iq] = t2
		for k := 0; k < s.iq; k++ {
			s.u[k] -= t2 * s.r[k]
		}
		s.act[s.iq] = -i - 1
		if !s.addConstraint() {
			return Solution{Status: StatusInfeasible, Err: fmt.Errorf("%w: equality constraints are linearly dependent", ErrInfeasible)}
		}
	}

	// Inequalities in nᵀx + c ≥ 0 form.
	normal := make([][]float64, m)
	offset := make([]float64, m)
	for i := range ineq {
		normal[i] = make([]float64, n)
		floats.ScaleTo(normal[i], -1, ineq[i])
		offset[i] = ineqBound[i]
	}
	slackOf := func(i int) float64 { return floats.Dot(normal[i], x) + offset[i] }

	iai := make([]int, m)
	for i := range iai {
		iai[i] = i
	}
	excl := make([]bool, m)
	sv := make([]float64, m)
	uOld := make([]float64, len(s.u))
	actOld := make([]int, len(s.act))
	xOld := make([]float64, n)

	iter := 0
	solved := func() Solution {
		return Solution{X: mat.NewVecDense(n, x), Status: StatusSolved, Iterations: iter}
	}

outer:
	for {
		iter++
		if iter > maxIter {
			return Solution{Status: StatusMaxIterations, Iterations: iter}
		}
		for i := me; i < s.iq; i++ {
			iai[s.act[i]] = -1
		}
		psi := 0.0
		for i := 0; i < m; i++ {
			excl[i] = true
			sv[i] = slackOf(i)
			psi += math.Min(0, sv[i])
		}
		if math.Abs(psi) <= float64(m)*machEps*c1*c2*100 {
			return solved()
		}
		copy(uOld, s.u)
		copy(actOld, s.act)
		copy(xOld, x)

	chooseViolated:
		for {
			ip, worst := -1, 0.0
			for i := 0; i < m; i++ {
				if sv[i] < worst && iai[i] != -1 && excl[i] {
					worst, ip = sv[i], i
				}
			}
			if ip < 0 {
				return solved()
			}
			np := normal[ip]
			s.u[s.iq] = 0
			s.act[s.iq] = ip

			for {
				iter++
				if iter > maxIter {
					return Solution{Status: StatusMaxIterations, Iterations: iter}
				}
				s.computeD(np)
				s.updateZ()
				s.updateR()

				// Largest dual step keeping the multipliers of active
				// inequalities non-negative.
				leaving, t1 := -1, math.Inf(1)
				for k := me; k < s.iq; k++ {
					if s.r[k] > 0 && s.u[k]/s.r[k] < t1 {
						t1 = s.u[k] / s.r[k]
						leaving = s.act[k]
					}
				}
				// Full primal step onto the new constraint.
				t2 := math.Inf(1)
				if floats.Dot(s.z, s.z) > machEps {
					t2 = -sv[ip] / floats.Dot(s.z, np)
				}
				t := math.Min(t1, t2)
				if math.IsInf(t, 1) {
					return Solution{Status: StatusInfeasible, Iterations: iter, Err: fmt.Errorf("%w: constraint %d cannot be satisfied", ErrInfeasible, ip)}
				}

				if math.IsInf(t2, 1) {
					// Dual step only.
					for k := 0; k < s.iq; k++ {
						s.u[k] -= t * s.r[k]
					}
					s.u[s.iq] += t
					iai[leaving] = leaving
					s.deleteConstraint(leaving, me)
					continue
				}

				floats.AddScaled(x, t, s.z)
				for k := 0; k < s.iq; k++ {
					s.u[k] -= t * s.r[k]
				}
				s.u[s.iq] += t

				if t == t2 {
					if !s.addConstraint() {
						excl[ip] = false
						s.deleteConstraint(ip, me)
						for i := 0; i < m; i++ {
							iai[i] = i
						}
						for i := me; i < s.iq; i++ {
							s.act[i] = actOld[i]
							s.u[i] = uOld[i]
							iai[s.act[i]] = -1
						}
						copy(x, xOld)
						continue chooseViolated
					}
					iai[ip] = -1
					continue outer
				}

				// Partial step: drop the blocking constraint and retry.
				iai[leaving] = leaving
				s.deleteConstraint(leaving, me)
				sv[ip] = slackOf(ip)
			}
		}
	}
}

// computeD sets d = Jᵀ np.
func (s *giState) computeD(np []float64) {
	for i := 0; i < s.n; i++ {
		sum := 0.0
		for k := 0; k < s.n; k++ {
			sum += s.J[k][i] * np[k]
		}
		s.d[i] = sum
	}
}

// updateZ sets the primal step direction z = J[:, iq:] d[iq:].
func (s *giState) updateZ() {
	for i := 0; i < s.n; i++ {
		sum := 0.0
		for j := s.iq; j < s.n; j++ {
			sum += s.J[i][j] * s.d[j]
		}
		s.z[i] = sum
	}
}

// updateR solves R[:iq, :iq] r = d[:iq] by back substitution.
func (s *giState) updateR() {
	for i := s.iq - 1; i >= 0; i-- {
		sum := 0.0
		for j := i + 1; j < s.iq; j++ {
			sum += s.R[i][j] * s.r[j]
		}
		s.r[i] = (s.d[i] - sum) / s.R[i][i]
	}
}

// addConstraint appends the constraint whose transformed normal is in d. It
// reports false when the normal is linearly dependent on the active set.
func (s *giState) addConstraint() bool {
	n := s.n
	for j := n - 1; j >= s.iq+1; j-- {
		cc, ss := s.d[j-1], s.d[j]
		h := math.Hypot(cc, ss)
		if h == 0 {
			continue
		}
		s.d[j] = 0
		cc, ss = cc/h, ss/h
		if cc < 0 {
			cc, ss = -cc, -ss
			s.d[j-1] = -h
		} else {
			s.d[j-1] = h
		}
		xny := ss / (1 + cc)
		for k := 0; k < n; k++ {
			t1, t2 := s.J[k][j-1], s.J[k][j]
			s.J[k][j-1] = t1*cc + t2*ss
			s.J[k][j] = xny*(t1+s.J[k][j-1]) - t2
		}
	}
	s.iq++
	for i := 0; i < s.iq; i++ {
		s.R[i][s.iq-1] = s.d[i]
	}
	if math.Abs(s.d[s.iq-1]) <= machEps*s.rNorm {
		return false
	}
	s.rNorm = math.Max(s.rNorm, math.Abs(s.d[s.iq-1]))
	return true
}

// deleteConstraint removes inequality l from the active set and restores
// the triangular shape of R.
func (s *giState) deleteConstraint(l, me int) {
	n := s.n
	qq := -1
	for i := me; i < s.iq; i++ {
		if s.act[i] == l {
			qq = i
			break
		}
	}
	if qq < 0 {
		return
	}
	for i := qq; i < s.iq-1; i++ {
		s.act[i] = s.act[i+1]
		s.u[i] = s.u[i+1]
		for j := 0; j < n; j++ {
			s.R[j][i] = s.R[j][i+1]
		}
	}
	s.act[s.iq-1] = s.act[s.iq]
	s.u[s.iq-1] = s.u[s.iq]
	s.act[s.iq] = 0
	s.u[s.iq] = 0
	for j := 0; j < s.iq; j++ {
		s.R[j][s.iq-1] = 0
	}
	s.iq--
	if s.iq == 0 {
		return
	}
	for j := qq; j < s.iq; j++ {
		cc, ss := s.R[j][j], s.R[j+1][j]
		h := math.Hypot(cc, ss)
		if h == 0 {
			continue
		}
		cc, ss = cc/h, ss/h
		s.R[j+1][j] = 0
		if cc < 0 {
			s.R[j][j] = -h
			cc, ss = -cc, -ss
		} else {
			s.R[j][j] = h
		}
		xny := ss / (1 + cc)
		for k := j + 1; k < s.iq; k++ {
			t1, t2 := s.R[j][k], s.R[j+1][k]
			s.R[j][k] = t1*cc + t2*ss
			s.R[j+1][k] = xny*(t1+s.R[j][k]) - t2
		}
		for k := 0; k < n; k++ {
			t1, t2 := s.J[k][j], s.J[k][j+1]
			s.J[k][j] = t1*cc + t2*ss
			s.J[k][j+1] = xny*(s.J[k][j]+t1) - t2
		}
	}
}
