package ik

import (
	"fmt"

	"github.com/mohammadijoo/diffik/kinematics"
	"github.com/mohammadijoo/diffik/limits"
	"github.com/mohammadijoo/diffik/manifold"
	"github.com/mohammadijoo/diffik/qp"
	"github.com/mohammadijoo/diffik/tasks"
)

// SolveIK computes the tangent velocity that best achieves the task stack at
// configuration c over a step of length dt. Integrate it with
// c.Integrate(v, dt) to obtain the next configuration.
func SolveIK(m *kinematics.Model, c manifold.Configuration, stack []tasks.Task, dt float64, opts ...Option) ([]float64, error) {
	o := collect(opts)
	if o.backend == nil {
		b, err := qp.New(qp.DefaultBackend, qp.Options{})
		if err != nil {
			return nil, err
		}
		o.backend = b
	}
	v, _, err := solve(m, c, stack, dt, o)
	return v, err
}

// solve runs Collect, Formulate and Solve. The Solution is returned whenever
// the back-end ran, so callers can record it even on failure.
func solve(m *kinematics.Model, c manifold.Configuration, stack []tasks.Task, dt float64, o options) ([]float64, qp.Solution, error) {
	if o.safetyBreak {
		if err := limits.CheckConfiguration(m, c, o.safetyTol); err != nil {
			return nil, qp.Solution{}, err
		}
	}
	k, err := m.Compute(c)
	if err != nil {
		return nil, qp.Solution{}, err
	}
	p, err := buildProblem(m, k, stack, dt, o)
	if err != nil {
		return nil, qp.Solution{}, err
	}
	sol := qp.Solve(o.backend, p)
	if !sol.OK() {
		return nil, sol, fmt.Errorf("%w: %s: %w", ErrSolveFailed, sol.Status, sol.Err)
	}
	return append([]float64(nil), sol.X.RawVector().Data...), sol, nil
}
