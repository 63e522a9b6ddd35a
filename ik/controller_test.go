package ik

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mohammadijoo/diffik/kinematics"
	"github.com/mohammadijoo/diffik/limits"
	"github.com/mohammadijoo/diffik/manifold"
	"github.com/mohammadijoo/diffik/qp"
	"github.com/mohammadijoo/diffik/tasks"
)

// reachController drives the ee frame of planar3 toward the position it has
// at goal, with a light posture task toward goal for the redundant joint.
func reachController(t testing.TB, m *kinematics.Model, start, goal manifold.Configuration, opts ...Option) (*Controller, *tasks.PositionTask) {
	reach, err := tasks.NewPositionTask(m, "ee")
	require.NoError(t, err)
	k, err := m.Compute(goal)
	require.NoError(t, err)
	require.NoError(t, reach.SetTargetFromConfiguration(k))

	posture, err := tasks.NewPostureTask(m, tasks.WithWeight(1e-3))
	require.NoError(t, err)
	require.NoError(t, posture.SetTarget(goal))

	ctl, err := NewController(m, start, 0.05, nil, opts...)
	require.NoError(t, err)
	ctl.SetTasks(reach, posture)
	return ctl, reach
}

func TestControllerConverges(t *testing.T) {
	m, start := load(t, "planar3", 0.2, 0.3, 0.3)
	goal := config(t, m, 0.5, 0.6, -0.2)
	ctl, reach := reachController(t, m, start, goal)

	for i := 0; i < 200; i++ {
		_, err := ctl.Step()
		require.NoError(t, err, "tick %d", i)
	}
	assert.Equal(t, 200, ctl.Ticks())
	status, ok := ctl.LastStatus()
	assert.True(t, ok)
	assert.Equal(t, qp.StatusSolved, status)

	r, err := reach.ComputeError(compute(t, m, ctl.Configuration()))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 0, r.AtVec(i), 1e-6)
	}
	for i, q := range ctl.Configuration().Q() {
		assert.InDelta(t, goal.At(i), q, 1e-4)
	}
}

func TestControllerRespectsVelocityLimits(t *testing.T) {
	m, start := load(t, "planar3", 0.2, 0.3, 0.3)
	ctl, _ := reachController(t, m, start, config(t, m, -1.5, 1.8, -1))

	for i := 0; i < 20; i++ {
		before := ctl.Configuration()
		_, err := ctl.Step()
		require.NoError(t, err)
		b, err := limits.Compute(m, before, ctl.Dt())
		require.NoError(t, err)
		assert.True(t, b.Contains(ctl.LastVelocity(), 1e-9), "tick %d: %v", i, ctl.LastVelocity())
	}
}

func TestControllerAccelerationLimit(t *testing.T) {
	m, start := load(t, "planar3", 0.2, 0.3, 0.3)
	accel := []float64{4, 4, 4}
	ctl, _ := reachController(t, m, start, config(t, m, -1.5, 1.8, -1), WithAccelerationLimit(accel))

	_, err := ctl.Step()
	require.NoError(t, err)
	prev := ctl.LastVelocity()
	for i := 0; i < 10; i++ {
		_, err := ctl.Step()
		require.NoError(t, err)
		v := ctl.LastVelocity()
		for j := range v {
			assert.LessOrEqual(t, v[j]-prev[j], accel[j]*ctl.Dt()+1e-9)
			assert.GreaterOrEqual(t, v[j]-prev[j], -accel[j]*ctl.Dt()-1e-9)
		}
		prev = v
	}

	_, err = NewController(m, start, 0.05, nil, WithAccelerationLimit([]float64{1}))
	assert.ErrorIs(t, err, manifold.ErrDimensionMismatch)
}

// A lone position task leaves arm6 with a rank 3 Hessian regularized only by
// the default damping. Every back-end has to keep up with it tick after tick.
func TestControllerRankDeficientStack(t *testing.T) {
	for _, name := range []string{"goldfarb-idnani", "admm", "hildreth"} {
		t.Run(name, func(t *testing.T) {
			m, start := load(t, "arm6", 0.1, 0.4, 0.8, 0.3, 0.6, 0.2)
			reach, err := tasks.NewPositionTask(m, "ee")
			require.NoError(t, err)
			require.NoError(t, reach.SetTargetFromConfiguration(compute(t, m, config(t, m, 0.3, 0.5, 0.9, 0.2, 0.5, 0.1))))

			ctl, err := NewController(m, start, 0.05, nil)
			require.NoError(t, err)
			require.NoError(t, ctl.SetSolver(name, qp.Options{}))
			ctl.SetTasks(reach)

			for i := 0; i < 200; i++ {
				_, err := ctl.Step()
				require.NoError(t, err, "tick %d", i)
				status, _ := ctl.LastStatus()
				require.Equal(t, qp.StatusSolved, status, "tick %d", i)
			}
			r, err := reach.ComputeError(compute(t, m, ctl.Configuration()))
			require.NoError(t, err)
			for i := 0; i < 3; i++ {
				assert.InDelta(t, 0, r.AtVec(i), 1e-4)
			}
		})
	}
}

type failingBackend struct {
	status qp.Status
	panics bool
}

func (failingBackend) Name() string { return "failing" }

func (f failingBackend) Solve(p *qp.Problem) qp.Solution {
	if f.panics {
		panic("singular KKT system")
	}
	return qp.Solution{Status: f.status}
}

func TestSolverFailureKeepsConfiguration(t *testing.T) {
	for _, fb := range []failingBackend{
		{status: qp.StatusInfeasible},
		{status: qp.StatusMaxIterations},
		{panics: true},
	} {
		t.Run(fmt.Sprintf("%v/%v", fb.status, fb.panics), func(t *testing.T) {
			m, start := load(t, "planar3", 0.2, 0.3, 0.3)
			core, logs := observer.New(zap.WarnLevel)
			ctl, err := NewController(m, start, 0.05, zap.New(core), WithBackend(fb))
			require.NoError(t, err)
			reach, err := tasks.NewPositionTask(m, "ee")
			require.NoError(t, err)
			reach.SetTarget(r3.Vec{X: 0.3, Y: 0.6})
			ctl.AddTask(reach)

			got, err := ctl.Step()
			require.ErrorIs(t, err, ErrSolveFailed)
			assert.Empty(t, cmp.Diff(start.Q(), got.Q()))
			assert.Empty(t, cmp.Diff(start.Q(), ctl.Configuration().Q()))
			assert.Zero(t, ctl.Ticks())
			assert.Empty(t, ctl.LastVelocity())

			sol, ok := ctl.LastSolution()
			require.True(t, ok)
			assert.Nil(t, sol.X)
			want := fb.status
			if fb.panics {
				want = qp.StatusNumericalFailure
			}
			assert.Equal(t, want, sol.Status)
			assert.Equal(t, 1, logs.FilterMessage("solve failed").Len())
		})
	}
}

func TestInfeasibleStatusIsDistinguishable(t *testing.T) {
	m, start := load(t, "planar3", 0.2, 0.3, 0.3)
	ctl, err := NewController(m, start, 0.05, nil, WithBackend(failingBackend{status: qp.StatusInfeasible}))
	require.NoError(t, err)
	_, err = ctl.Step()
	assert.ErrorIs(t, err, ErrSolveFailed)
	assert.ErrorIs(t, err, qp.ErrInfeasible)
	assert.NotErrorIs(t, err, qp.ErrMaxIterations)
}

func TestControllerSurface(t *testing.T) {
	m, start := load(t, "planar3")
	ctl, err := NewController(m, start, 0.01, zap.NewNop())
	require.NoError(t, err)

	_, ok := ctl.LastStatus()
	assert.False(t, ok)
	assert.Equal(t, qp.DefaultBackend, ctl.Solver())

	assert.ErrorIs(t, ctl.SetDt(0), limits.ErrInvalidTimeStep)
	assert.ErrorIs(t, ctl.SetDt(-1), limits.ErrInvalidTimeStep)
	require.NoError(t, ctl.SetDt(0.02))
	assert.Equal(t, 0.02, ctl.Dt())

	assert.ErrorIs(t, ctl.SetSolver("nope", qp.Options{}), qp.ErrUnknownBackend)
	require.NoError(t, ctl.SetSolver("admm", qp.Options{}))
	assert.Equal(t, "admm", ctl.Solver())

	moved := config(t, m, 0.1, 0.2, 0.3)
	posture, err := tasks.NewPostureTask(m)
	require.NoError(t, err)
	require.NoError(t, posture.SetTarget(moved))
	damping, err := tasks.NewDampingTask(m)
	require.NoError(t, err)
	ctl.SetTasks(posture)
	ctl.AddTask(damping)
	assert.Len(t, ctl.Tasks(), 2)

	// Other models' configurations are rejected.
	other, err := kinematics.NewBuilder("other").
		AddJoint(kinematics.Joint{Name: "a", Type: kinematics.Revolute, Axis: r3.Vec{Z: 1}}, "").
		Build()
	require.NoError(t, err)
	assert.ErrorIs(t, ctl.SetConfiguration(other.Neutral()), manifold.ErrSpaceMismatch)

	require.NoError(t, ctl.SetConfiguration(moved))
	assert.Equal(t, moved.Q(), ctl.Configuration().Q())

	// Already at the posture target: zero velocity.
	next, err := ctl.Step()
	require.NoError(t, err)
	for i := range next.Q() {
		assert.InDelta(t, moved.At(i), next.At(i), 1e-6)
	}
}

func TestControllerSafetyBreak(t *testing.T) {
	m, start := load(t, "planar3", 2.7, 0, 0)
	ctl, err := NewController(m, start, 0.1, nil)
	require.NoError(t, err)

	_, err = ctl.Step()
	assert.ErrorIs(t, err, limits.ErrNotWithinConfigurationLimits)
	_, ok := ctl.LastSolution()
	assert.False(t, ok, "no solve should run")

	ctl.SetSafetyBreak(false)
	next, err := ctl.Step()
	require.NoError(t, err)
	assert.LessOrEqual(t, next.At(0), 2.6+1e-9)
}

func TestParallelControllers(t *testing.T) {
	goals := [][]float64{
		{0.5, 0.6, -0.2},
		{-0.4, 0.9, 0.3},
		{1.0, -0.5, 0.5},
		{0.1, 1.2, -0.8},
	}
	ctls := make([]*Controller, len(goals))
	for i, q := range goals {
		m, start := load(t, "planar3", 0.2, 0.3, 0.3)
		ctls[i], _ = reachController(t, m, start, config(t, m, q...))
	}

	var g errgroup.Group
	for i, ctl := range ctls {
		i, ctl := i, ctl
		g.Go(func() error {
			for n := 0; n < 200; n++ {
				if _, err := ctl.Step(); err != nil {
					return fmt.Errorf("robot %d tick %d: %w", i, n, err)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i, q := range goals {
		final := ctls[i].Configuration().Q()
		for j := range q {
			assert.InDelta(t, q[j], final[j], 1e-4, "robot %d joint %d", i, j)
		}
	}
}
