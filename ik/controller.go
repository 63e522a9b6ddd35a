package ik

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/mohammadijoo/diffik/barriers"
	"github.com/mohammadijoo/diffik/kinematics"
	"github.com/mohammadijoo/diffik/limits"
	"github.com/mohammadijoo/diffik/manifold"
	"github.com/mohammadijoo/diffik/qp"
	"github.com/mohammadijoo/diffik/tasks"
)

// Controller owns the configuration of one robot and advances it one tick at
// a time. It is not safe for concurrent use; run one Controller per robot.
type Controller struct {
	model  *kinematics.Model
	config manifold.Configuration
	dt     float64
	stack  []tasks.Task
	opts   options
	log    *zap.Logger

	prev   []float64 // velocity of the last successful tick
	last   qp.Solution
	solved bool // last holds a solver outcome
	tick   int
}

// NewController starts at configuration c with step dt. A nil logger
// disables logging.
func NewController(m *kinematics.Model, c manifold.Configuration, dt float64, log *zap.Logger, opts ...Option) (*Controller, error) {
	if log == nil {
		log = zap.NewNop()
	}
	o := collect(opts)
	if o.backend == nil {
		b, err := qp.New(qp.DefaultBackend, qp.Options{})
		if err != nil {
			return nil, err
		}
		o.backend = b
	}
	if o.accel != nil && len(o.accel) != m.NV() {
		return nil, fmt.Errorf("%w: %d acceleration limits for %d velocities", manifold.ErrDimensionMismatch, len(o.accel), m.NV())
	}
	ctl := &Controller{model: m, opts: o, log: log.With(zap.String("robot", m.Name()))}
	if err := ctl.SetDt(dt); err != nil {
		return nil, err
	}
	if err := ctl.SetConfiguration(c); err != nil {
		return nil, err
	}
	return ctl, nil
}

// SetTasks replaces the task stack.
func (c *Controller) SetTasks(ts ...tasks.Task) { c.stack = append([]tasks.Task(nil), ts...) }

func (c *Controller) AddTask(t tasks.Task) { c.stack = append(c.stack, t) }

// Tasks returns the task stack in order.
func (c *Controller) Tasks() []tasks.Task { return append([]tasks.Task(nil), c.stack...) }

// SetBarriers replaces the barrier set.
func (c *Controller) SetBarriers(bs ...barriers.Barrier) {
	c.opts.barriers = append([]barriers.Barrier(nil), bs...)
}

func (c *Controller) Dt() float64 { return c.dt }

func (c *Controller) SetDt(dt float64) error {
	if !(dt > 0) || math.IsInf(dt, 1) {
		return fmt.Errorf("%w: %v", limits.ErrInvalidTimeStep, dt)
	}
	c.dt = dt
	return nil
}

// SetSolver selects a registered QP back-end by name. An empty name selects
// qp.DefaultBackend.
func (c *Controller) SetSolver(name string, o qp.Options) error {
	b, err := qp.New(name, o)
	if err != nil {
		return err
	}
	c.opts.backend = b
	return nil
}

// Solver returns the name of the active back-end.
func (c *Controller) Solver() string { return c.opts.backend.Name() }

// SetSafetyBreak toggles the configuration limit check run before each tick.
func (c *Controller) SetSafetyBreak(on bool) { c.opts.safetyBreak = on }

func (c *Controller) Configuration() manifold.Configuration { return c.config }

// SetConfiguration replaces the current configuration. It also forgets the
// previous velocity used by acceleration limits.
func (c *Controller) SetConfiguration(q manifold.Configuration) error {
	if _, err := c.model.Compute(q); err != nil {
		return err
	}
	c.config = q
	c.prev = nil
	return nil
}

// LastSolution returns the outcome of the last solve and whether any solve
// happened yet.
func (c *Controller) LastSolution() (qp.Solution, bool) { return c.last, c.solved }

// LastStatus is shorthand for the status of LastSolution.
func (c *Controller) LastStatus() (qp.Status, bool) { return c.last.Status, c.solved }

// LastVelocity returns the velocity applied by the last successful tick.
func (c *Controller) LastVelocity() []float64 { return append([]float64(nil), c.prev...) }

// Ticks counts the successful ticks.
func (c *Controller) Ticks() int { return c.tick }

// Step runs one tick: Collect, Formulate, Solve and Integrate. On any error
// the configuration is left unchanged. Solver failures wrap ErrSolveFailed.
func (c *Controller) Step() (manifold.Configuration, error) {
	o := c.opts
	if o.accel != nil && c.prev != nil {
		o.limitOpts = append(append([]limits.Option(nil), o.limitOpts...),
			limits.WithAccelerationLimit(o.accel), limits.WithPreviousVelocity(c.prev))
	}

	v, sol, err := solve(c.model, c.config, c.stack, c.dt, o)
	if sol.Backend != "" {
		c.last, c.solved = sol, true
	}
	if err != nil {
		if sol.Backend != "" {
			c.log.Warn("solve failed",
				zap.Int("tick", c.tick),
				zap.String("backend", sol.Backend),
				zap.Stringer("status", sol.Status),
				zap.Error(sol.Err))
		}
		return c.config, err
	}

	next, err := c.config.Integrate(v, c.dt)
	if err != nil {
		return c.config, err
	}
	c.config, c.prev = next, v
	c.tick++
	c.log.Debug("tick",
		zap.Int("tick", c.tick),
		zap.String("backend", sol.Backend),
		zap.Int("iterations", sol.Iterations),
		zap.Float64("velocity_norm", floats.Norm(v, 2)))
	return next, nil
}
