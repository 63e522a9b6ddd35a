// ------------------------------------------------------------
// Reachability map of a robot frame
// ------------------------------------------------------------
// For every target on a regular grid in a horizontal plane the program
// iterates the one-shot IK solve
//
//   v = SolveIK(q, tasks, dt),   q ← q ⊕ v·dt
//
// from the same start configuration and records the final position error.
// Joint position and velocity limits apply on every iteration, so the map
// shows what the limited robot reaches, not its geometric workspace.
//
// Output folder (relative to where you run the program):
//   output/reach_map/<robot>_<frame>.png   heat map of log10(error)
//   output/reach_map/<robot>_<frame>.csv   x, y, error, iterations
// ------------------------------------------------------------

package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mohammadijoo/diffik/ik"
	"github.com/mohammadijoo/diffik/internal/logging"
	"github.com/mohammadijoo/diffik/internal/report"
	"github.com/mohammadijoo/diffik/kinematics"
	"github.com/mohammadijoo/diffik/manifold"
	"github.com/mohammadijoo/diffik/qp"
	"github.com/mohammadijoo/diffik/robots"
	"github.com/mohammadijoo/diffik/tasks"
)

type mapOptions struct {
	robot      string
	frame      string
	start      []float64
	backend    string
	n          int
	extent     float64
	z          float64
	iterations int
	dt         float64
	tol        float64
	workers    int
	outDir     string
	logLevel   string
}

var opts mapOptions

var rootCmd = &cobra.Command{
	Use:   "reach_map",
	Short: "Map how closely a robot frame reaches targets on a grid",
	Args:  cobra.NoArgs,

	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), opts)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.robot, "robot", "planar3", "Embedded robot name or YAML description")
	f.StringVar(&opts.frame, "frame", "ee", "Frame to place on the targets")
	// The neutral pose of planar3 is singular: stretched arms cannot move
	// radially.
	f.Float64SliceVar(&opts.start, "start", []float64{0.3, 0.6, 0.6}, "Start configuration, empty for neutral")
	f.StringVar(&opts.backend, "backend", qp.DefaultBackend, "QP back-end")
	f.IntVarP(&opts.n, "points", "n", 41, "Grid points per axis")
	f.Float64Var(&opts.extent, "extent", 1.0, "Half width of the square grid (m)")
	f.Float64Var(&opts.z, "z", 0, "Height of the grid plane (m)")
	f.IntVar(&opts.iterations, "iterations", 200, "IK iterations per target")
	f.Float64Var(&opts.dt, "dt", 0.05, "Integration step (s)")
	f.Float64Var(&opts.tol, "tol", 1e-4, "Position error counted as reached (m)")
	f.IntVar(&opts.workers, "workers", runtime.GOMAXPROCS(0), "Rows solved in parallel")
	f.StringVarP(&opts.outDir, "out", "o", filepath.Join("output", "reach_map"), "Output directory")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level (env "+logging.EnvLogLevel+" wins)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o mapOptions) error {
	log, err := logging.New(o.logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	g, stats, err := sweep(ctx, o, log)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s_%s", filepath.Base(o.robot), o.frame)
	xs, ys, errs, its := stats.columns(g)
	if err := report.WriteCSV(filepath.Join(o.outDir, name+".csv"),
		[]string{"x", "y", "error", "iterations"}, [][]float64{xs, ys, errs, its}); err != nil {
		return err
	}

	heat := report.NewGrid(g.NX, g.NY, -o.extent, o.extent, -o.extent, o.extent)
	for i, e := range g.Data {
		heat.Data[i] = math.Log10(math.Max(e, 1e-12))
	}
	title := fmt.Sprintf("Reach of %s on %s (log10 error)", o.frame, filepath.Base(o.robot))
	fig := report.Figure{Title: title, XLabel: "x (m)", YLabel: "y (m)", Ticks: 9}
	if err := report.SaveHeatMap(filepath.Join(o.outDir, name+".png"), fig, heat); err != nil {
		return err
	}
	log.Info("reach map saved",
		zap.String("output", o.outDir),
		zap.Int("targets", len(g.Data)),
		zap.Int("reached", stats.reached(o.tol)))
	return nil
}

// ------------------------------------------------------------
// Grid sweep
// ------------------------------------------------------------

type sweepStats struct {
	iterations []int
	errors     []float64
}

func (s sweepStats) reached(tol float64) int {
	n := 0
	for _, e := range s.errors {
		if e <= tol {
			n++
		}
	}
	return n
}

func (s sweepStats) columns(g *report.Grid) (xs, ys, errs, its []float64) {
	for r := 0; r < g.NY; r++ {
		for c := 0; c < g.NX; c++ {
			xs = append(xs, g.X(c))
			ys = append(ys, g.Y(r))
			errs = append(errs, g.Z(c, r))
			its = append(its, float64(s.iterations[r*g.NX+c]))
		}
	}
	return xs, ys, errs, its
}

// sweep solves one grid row per goroutine. Each worker loads its own model.
func sweep(ctx context.Context, o mapOptions, log *zap.Logger) (*report.Grid, sweepStats, error) {
	if o.n < 2 {
		return nil, sweepStats{}, fmt.Errorf("grid needs at least 2 points per axis, got %d", o.n)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	g := report.NewGrid(o.n, o.n, -o.extent, o.extent, -o.extent, o.extent)
	stats := sweepStats{iterations: make([]int, o.n*o.n), errors: g.Data}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(o.workers)
	for r := 0; r < g.NY; r++ {
		r := r
		eg.Go(func() error {
			rs, err := newReacher(o)
			if err != nil {
				return err
			}
			for c := 0; c < g.NX; c++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				e, it, err := rs.reach(r3.Vec{X: g.X(c), Y: g.Y(r), Z: o.z})
				if err != nil {
					return fmt.Errorf("target (%d, %d): %w", c, r, err)
				}
				g.Set(c, r, e)
				stats.iterations[r*g.NX+c] = it
			}
			log.Debug("row done", zap.Int("row", r))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, sweepStats{}, err
	}
	return g, stats, nil
}

// reacher owns the model and task of one worker.
type reacher struct {
	model *kinematics.Model
	start manifold.Configuration
	task  *tasks.PositionTask
	stack []tasks.Task
	opts  []ik.Option
	o     mapOptions
}

func newReacher(o mapOptions) (*reacher, error) {
	m, err := robots.Resolve(o.robot)
	if err != nil {
		return nil, err
	}
	start := m.Neutral()
	if len(o.start) > 0 {
		if start, err = m.Space().NewConfiguration(o.start); err != nil {
			return nil, err
		}
	}
	task, err := tasks.NewPositionTask(m, o.frame)
	if err != nil {
		return nil, err
	}
	damping, err := tasks.NewDampingTask(m, tasks.WithWeight(1e-4))
	if err != nil {
		return nil, err
	}
	backend, err := qp.New(o.backend, qp.Options{})
	if err != nil {
		return nil, err
	}
	return &reacher{
		model: m,
		start: start,
		task:  task,
		stack: []tasks.Task{task, damping},
		opts:  []ik.Option{ik.WithBackend(backend)},
		o:     o,
	}, nil
}

// reach drives the frame toward target and returns the final error and the
// number of iterations used. Unreachable targets are not errors: the solve
// keeps the frame at the closest point the limits allow.
func (rs *reacher) reach(target r3.Vec) (float64, int, error) {
	rs.task.SetTarget(target)
	q := rs.start
	for it := 0; it < rs.o.iterations; it++ {
		k, err := rs.model.Compute(q)
		if err != nil {
			return 0, it, err
		}
		r, err := rs.task.ComputeError(k)
		if err != nil {
			return 0, it, err
		}
		if e := mat.Norm(r, 2); e <= rs.o.tol {
			return e, it, nil
		}
		v, err := ik.SolveIK(rs.model, q, rs.stack, rs.o.dt, rs.opts...)
		if err != nil {
			return 0, it, err
		}
		if q, err = q.Integrate(v, rs.o.dt); err != nil {
			return 0, it, err
		}
	}
	k, err := rs.model.Compute(q)
	if err != nil {
		return 0, rs.o.iterations, err
	}
	r, err := rs.task.ComputeError(k)
	if err != nil {
		return 0, rs.o.iterations, err
	}
	return mat.Norm(r, 2), rs.o.iterations, nil
}
