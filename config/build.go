package config

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mohammadijoo/diffik/barriers"
	"github.com/mohammadijoo/diffik/ik"
	"github.com/mohammadijoo/diffik/kinematics"
	"github.com/mohammadijoo/diffik/lie"
	"github.com/mohammadijoo/diffik/manifold"
	"github.com/mohammadijoo/diffik/qp"
	"github.com/mohammadijoo/diffik/robots"
	"github.com/mohammadijoo/diffik/tasks"
)

// Setup is a scenario resolved against its robot model.
type Setup struct {
	Model    *kinematics.Model
	Initial  manifold.Configuration
	Tasks    []tasks.Task
	Barriers []barriers.Barrier
	Options  []ik.Option
}

// Resolve loads the robot and builds the task stack, barriers and solver
// options. Errors from the robot model (unknown frames, bad limits) surface
// here rather than in Validate.
func (s Scenario) Resolve() (*Setup, error) {
	m, err := robots.Resolve(s.Controller.Robot)
	if err != nil {
		return nil, err
	}
	initial := m.Neutral()
	if s.Controller.Initial != nil {
		if initial, err = m.Space().NewConfiguration(s.Controller.Initial); err != nil {
			return nil, fmt.Errorf("controller.initial: %w", err)
		}
	}
	k, err := m.Compute(initial)
	if err != nil {
		return nil, err
	}

	st := &Setup{Model: m, Initial: initial}
	for i, spec := range s.Tasks {
		t, err := spec.build(m, k)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d] (%s): %w", i, spec.Kind, err)
		}
		st.Tasks = append(st.Tasks, t)
	}
	for i, spec := range s.Barriers {
		b, err := spec.build(m)
		if err != nil {
			return nil, fmt.Errorf("barriers[%d] (%s): %w", i, spec.Kind, err)
		}
		st.Barriers = append(st.Barriers, b)
	}

	backend, err := qp.New(s.Solver.Backend, qp.Options{
		MaxIterations: s.Solver.MaxIterations,
		Tolerance:     s.Solver.Tolerance,
	})
	if err != nil {
		return nil, err
	}
	st.Options = []ik.Option{
		ik.WithBackend(backend),
		ik.WithDamping(s.Controller.Damping),
		ik.WithSafetyBreak(s.Controller.SafetyBreak),
	}
	if len(st.Barriers) > 0 {
		st.Options = append(st.Options, ik.WithBarriers(st.Barriers...))
	}
	if s.Controller.AccelerationLimit != nil {
		st.Options = append(st.Options, ik.WithAccelerationLimit(s.Controller.AccelerationLimit))
	}
	return st, nil
}

// NewController starts a controller at the initial configuration with the
// scenario's task stack.
func (st *Setup) NewController(dt float64, log *zap.Logger) (*ik.Controller, error) {
	ctl, err := ik.NewController(st.Model, st.Initial, dt, log, st.Options...)
	if err != nil {
		return nil, err
	}
	ctl.SetTasks(st.Tasks...)
	return ctl, nil
}

func (t TaskSpec) options() []tasks.Option {
	var opts []tasks.Option
	if t.Name != "" {
		opts = append(opts, tasks.WithName(t.Name))
	}
	if t.Gain != nil {
		opts = append(opts, tasks.WithGain(*t.Gain))
	}
	if t.Weight != nil {
		opts = append(opts, tasks.WithWeight(*t.Weight))
	}
	if t.Cost != nil {
		opts = append(opts, tasks.WithCost(t.Cost...))
	}
	if t.LMDamping > 0 {
		opts = append(opts, tasks.WithLMDamping(t.LMDamping))
	}
	return opts
}

// reference returns the kinematics targets are read from when the task has
// no explicit target: the initial configuration or TargetConfiguration.
func (t TaskSpec) reference(m *kinematics.Model, initial *kinematics.Data) (*kinematics.Data, error) {
	if t.TargetConfiguration == nil {
		return initial, nil
	}
	c, err := m.Space().NewConfiguration(t.TargetConfiguration)
	if err != nil {
		return nil, fmt.Errorf("target_configuration: %w", err)
	}
	return m.Compute(c)
}

func vec(v []float64) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func rotation(rpy []float64) lie.Mat3 {
	if rpy == nil {
		return lie.Eye3()
	}
	return lie.RPY(rpy[0], rpy[1], rpy[2])
}

func (t TaskSpec) build(m *kinematics.Model, initial *kinematics.Data) (tasks.Task, error) {
	ref, err := t.reference(m, initial)
	if err != nil {
		return nil, err
	}
	opts := t.options()

	switch t.Kind {
	case KindFrame:
		ft, err := tasks.NewFrameTask(m, t.Frame, opts...)
		if err != nil {
			return nil, err
		}
		if t.PositionCost != nil {
			if err := ft.SetPositionCost(t.PositionCost...); err != nil {
				return nil, err
			}
		}
		if t.OrientationCost != nil {
			if err := ft.SetOrientationCost(t.OrientationCost...); err != nil {
				return nil, err
			}
		}
		if t.Target != nil {
			ft.SetTarget(lie.Transform{R: rotation(t.RPY), P: vec(t.Target)})
			return ft, nil
		}
		return ft, ft.SetTargetFromConfiguration(ref)

	case KindPosition:
		pt, err := tasks.NewPositionTask(m, t.Frame, opts...)
		if err != nil {
			return nil, err
		}
		if t.Target != nil {
			pt.SetTarget(vec(t.Target))
			return pt, nil
		}
		return pt, pt.SetTargetFromConfiguration(ref)

	case KindOrientation:
		ot, err := tasks.NewOrientationTask(m, t.Frame, opts...)
		if err != nil {
			return nil, err
		}
		if t.RPY != nil {
			ot.SetTarget(rotation(t.RPY))
			return ot, nil
		}
		return ot, ot.SetTargetFromConfiguration(ref)

	case KindPosture:
		pt, err := tasks.NewPostureTask(m, opts...)
		if err != nil {
			return nil, err
		}
		return pt, pt.SetTargetFromConfiguration(ref)

	case KindDamping:
		return tasks.NewDampingTask(m, opts...)

	case KindCom:
		ct, err := tasks.NewComTask(m, opts...)
		if err != nil {
			return nil, err
		}
		if t.Target != nil {
			ct.SetTarget(vec(t.Target))
			return ct, nil
		}
		return ct, ct.SetTargetFromConfiguration(ref)
	}
	return nil, fmt.Errorf("%w: unknown task kind %q", ErrInvalidScenario, t.Kind)
}

func (b BarrierSpec) options() []barriers.Option {
	var opts []barriers.Option
	if b.Name != "" {
		opts = append(opts, barriers.WithName(b.Name))
	}
	if b.Gain != nil {
		opts = append(opts, barriers.WithGain(b.Gain...))
	}
	if b.SafeDisplacementGain != nil {
		opts = append(opts, barriers.WithSafeDisplacementGain(*b.SafeDisplacementGain))
	}
	return opts
}

func (b BarrierSpec) build(m *kinematics.Model) (barriers.Barrier, error) {
	switch b.Kind {
	case BarrierConfiguration:
		return barriers.NewConfigurationBarrier(m, b.options()...)
	case BarrierPosition:
		return barriers.NewPositionBarrier(m, b.Frame, barriers.PositionLimits{Axes: b.Axes, Min: b.Min, Max: b.Max}, b.options()...)
	}
	return nil, fmt.Errorf("%w: unknown barrier kind %q", ErrInvalidScenario, b.Kind)
}
