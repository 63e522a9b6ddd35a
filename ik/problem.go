// Package ik turns a stack of weighted tasks into a quadratic program over the
// tangent velocity, solves it and integrates the result on the configuration
// manifold.
//
// For tasks i with residual r_i, Jacobian J_i, gain g_i, weight w_i, cost
// C_i = diag(cost_i) and Levenberg-Marquardt damping λ_i, the problem is
//
//	minimize    ½ vᵀPv + qᵀv
//	P = Σ w_i (C_i J_i)ᵀ(C_i J_i) + Σ μ_i I + Σ ρ_k I + ε I
//	q = -Σ w_i (C_i J_i)ᵀ C_i d_i,   d_i = -g_i r_i / dt
//	μ_i = λ_i w_i ‖C_i d_i dt‖²
//
// subject to the velocity bounds of package limits and the barrier rows of
// package barriers (ρ_k are their regularizers).
package ik

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mohammadijoo/diffik/barriers"
	"github.com/mohammadijoo/diffik/limits"
	"github.com/mohammadijoo/diffik/manifold"
	"github.com/mohammadijoo/diffik/qp"
	"github.com/mohammadijoo/diffik/tasks"
)

// DefaultDamping is the Tikhonov regularization ε added to the Hessian.
const DefaultDamping = 1e-12

// ErrSolveFailed is returned when the QP back-end did not produce a usable
// velocity. The error also wraps the back-end error, so errors.Is works with
// the qp sentinels.
var ErrSolveFailed = errors.New("ik: QP solve failed")

// Option configures BuildProblem, SolveIK and NewController.
type Option func(*options)

type options struct {
	damping     float64
	barriers    []barriers.Barrier
	limitOpts   []limits.Option
	noLimits    bool
	safetyBreak bool
	safetyTol   float64
	backend     qp.Backend
	accel       []float64
}

func defaultOptions() options {
	return options{damping: DefaultDamping, safetyBreak: true, safetyTol: 1e-6}
}

func collect(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDamping sets ε. Zero is allowed but leaves rank-deficient stacks
// without a unique solution.
func WithDamping(eps float64) Option {
	return func(o *options) { o.damping = eps }
}

func WithBarriers(bs ...barriers.Barrier) Option {
	return func(o *options) { o.barriers = append([]barriers.Barrier(nil), bs...) }
}

// WithLimitOptions forwards options to limits.Compute.
func WithLimitOptions(lo ...limits.Option) Option {
	return func(o *options) { o.limitOpts = append(o.limitOpts, lo...) }
}

// WithoutLimits drops the velocity bounds from the problem. Barriers still
// apply.
func WithoutLimits() Option {
	return func(o *options) { o.noLimits = true }
}

// WithSafetyBreak toggles the configuration limit check that runs before
// each solve.
func WithSafetyBreak(on bool) Option {
	return func(o *options) { o.safetyBreak = on }
}

// WithAccelerationLimit bounds the change of velocity between two ticks of
// a Controller. SolveIK has no previous velocity and ignores it.
func WithAccelerationLimit(a []float64) Option {
	return func(o *options) { o.accel = append([]float64(nil), a...) }
}

// WithBackend selects the QP back-end. The default is qp.DefaultBackend.
func WithBackend(b qp.Backend) Option {
	return func(o *options) { o.backend = b }
}

// BuildProblem assembles the QP of one tick at the configuration seen by k.
// Disabled tasks and tasks of weight zero are left out entirely.
func BuildProblem(m limits.Model, k tasks.Kinematics, stack []tasks.Task, dt float64, opts ...Option) (*qp.Problem, error) {
	return buildProblem(m, k, stack, dt, collect(opts))
}

func buildProblem(m limits.Model, k tasks.Kinematics, stack []tasks.Task, dt float64, o options) (*qp.Problem, error) {
	if !(dt > 0) || math.IsInf(dt, 1) {
		return nil, fmt.Errorf("%w: %v", limits.ErrInvalidTimeStep, dt)
	}
	if !(o.damping >= 0) {
		return nil, fmt.Errorf("%w: damping %v", tasks.ErrInvalidParameter, o.damping)
	}
	nv := m.Space().NV()
	P := mat.NewSymDense(nv, nil)
	q := mat.NewVecDense(nv, nil)
	diag := o.damping

	for _, t := range stack {
		if !t.Enabled() || t.Weight() == 0 {
			continue
		}
		r, err := t.ComputeError(k)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", t.Name(), err)
		}
		J, err := t.ComputeJacobian(k)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", t.Name(), err)
		}
		rows, cols := J.Dims()
		if rows != r.Len() || cols != nv {
			return nil, fmt.Errorf("%w: task %s has a %d×%d Jacobian for %d residuals and %d velocities",
				manifold.ErrDimensionMismatch, t.Name(), rows, cols, r.Len(), nv)
		}

		cost := t.Cost()
		d := tasks.DesiredVelocity(t, r, dt)
		var CJ mat.Dense
		CJ.Apply(func(i, _ int, v float64) float64 { return cost[i] * v }, J)
		Cd := mat.NewVecDense(rows, nil)
		for i := 0; i < rows; i++ {
			Cd.SetVec(i, cost[i]*d.AtVec(i))
		}

		w := t.Weight()
		P.SymRankK(P, w, CJ.T())
		var g mat.VecDense
		g.MulVec(CJ.T(), Cd)
		q.AddScaledVec(q, -w, &g)

		if lm := t.LMDamping(); lm > 0 {
			e := dt * mat.Norm(Cd, 2)
			diag += lm * w * e * e
		}
	}

	p := &qp.Problem{P: P, Q: q}

	var Gs []*mat.Dense
	var Hs []*mat.VecDense
	for _, b := range o.barriers {
		G, h, err := barriers.Inequality(b, k)
		if err != nil {
			return nil, err
		}
		if _, c := G.Dims(); c != nv {
			return nil, fmt.Errorf("%w: barrier %s has %d columns, want %d", manifold.ErrDimensionMismatch, b.Name(), c, nv)
		}
		reg, err := barriers.Regularization(b, k)
		if err != nil {
			return nil, err
		}
		diag += reg
		Gs, Hs = append(Gs, G), append(Hs, h)
	}
	if len(Gs) > 0 {
		p.G, p.H = stackRows(Gs, Hs, nv)
	}

	for i := 0; i < nv; i++ {
		P.SetSym(i, i, P.At(i, i)+diag)
	}

	if !o.noLimits {
		b, err := limits.Compute(m, k.Configuration(), dt, o.limitOpts...)
		if err != nil {
			return nil, err
		}
		if b.Active() > 0 {
			p.Lower, p.Upper = b.Lower, b.Upper
		}
	}
	return p, nil
}

func stackRows(Gs []*mat.Dense, Hs []*mat.VecDense, nv int) (*mat.Dense, *mat.VecDense) {
	n := 0
	for _, h := range Hs {
		n += h.Len()
	}
	G := mat.NewDense(n, nv, nil)
	H := mat.NewVecDense(n, nil)
	row := 0
	for i, g := range Gs {
		r, _ := g.Dims()
		G.Slice(row, row+r, 0, nv).(*mat.Dense).Copy(g)
		for j := 0; j < r; j++ {
			H.SetVec(row+j, Hs[i].AtVec(j))
		}
		row += r
	}
	return G, H
}
