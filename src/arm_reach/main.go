// ------------------------------------------------------------
// Closed-loop differential IK on a scenario file
// ------------------------------------------------------------
// Each tick the controller:
//   - evaluates every task at the current configuration,
//   - solves  min ½ vᵀPv + qᵀv  under velocity bounds and barriers,
//   - integrates q ← q ⊕ v·dt on the configuration manifold.
//
// Output folder (scenario [output] dir, relative to where you run):
//   ik_log.csv          time, q, v, per-task error norms, solver data
//   joints.png          configuration vs time
//   velocities.png      tangent velocity vs time
//   task_errors.png     ‖r‖ per task vs time
// ------------------------------------------------------------

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/mohammadijoo/diffik/config"
	"github.com/mohammadijoo/diffik/ik"
	"github.com/mohammadijoo/diffik/internal/logging"
	"github.com/mohammadijoo/diffik/internal/report"
)

type runOptions struct {
	scenario string
	robot    string
	backend  string
	ticks    int
	outDir   string
	logLevel string
	noPlots  bool
}

var opts runOptions

var rootCmd = &cobra.Command{
	Use:   "arm_reach",
	Short: "Run a differential IK scenario and log the trajectory",
	Long: `arm_reach loads a TOML scenario (robot, task stack, barriers, solver),
steps an IK controller for the configured number of ticks and writes a CSV log
plus PNG plots of the joint trajectory and task errors.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(opts)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&opts.scenario, "scenario", "s", filepath.Join("scenarios", "planar3_reach.toml"), "Scenario file")
	f.StringVar(&opts.robot, "robot", "", "Override controller.robot")
	f.StringVar(&opts.backend, "backend", "", "Override solver.backend")
	f.IntVar(&opts.ticks, "ticks", 0, "Override controller.ticks")
	f.StringVarP(&opts.outDir, "out", "o", "", "Override output.dir")
	f.StringVar(&opts.logLevel, "log-level", "", "Override logging.level (env "+logging.EnvLogLevel+" wins)")
	f.BoolVar(&opts.noPlots, "no-plots", false, "Skip PNG plots")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadScenario reads the scenario and applies the command line overrides.
func loadScenario(o runOptions) (config.Scenario, error) {
	s, err := config.Load(o.scenario)
	if err != nil {
		return config.Scenario{}, err
	}
	if o.robot != "" {
		s.Controller.Robot = o.robot
	}
	if o.backend != "" {
		s.Solver.Backend = o.backend
	}
	if o.ticks > 0 {
		s.Controller.Ticks = o.ticks
	}
	if o.outDir != "" {
		s.Output.Dir = o.outDir
	}
	if o.logLevel != "" {
		s.Logging.Level = o.logLevel
	}
	if o.noPlots {
		s.Output.Plots = false
	}
	return s, s.Validate()
}

func run(o runOptions) error {
	s, err := loadScenario(o)
	if err != nil {
		return err
	}
	log, err := logging.New(s.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	res, err := simulate(s, log)
	if err != nil {
		return err
	}
	if err := res.save(s.Output); err != nil {
		return err
	}
	log.Info("finished",
		zap.String("robot", s.Controller.Robot),
		zap.Int("ticks", res.ticks),
		zap.Int("failures", res.failures),
		zap.Float64s("final_errors", res.finalErrors),
		zap.String("output", s.Output.Dir))
	return nil
}

// ------------------------------------------------------------
// Simulation loop
// ------------------------------------------------------------

type result struct {
	trace       *report.Trace
	qNames      []string
	vNames      []string
	taskNames   []string
	ticks       int
	failures    int
	finalErrors []float64
}

func simulate(s config.Scenario, log *zap.Logger) (*result, error) {
	st, err := s.Resolve()
	if err != nil {
		return nil, err
	}
	ctl, err := st.NewController(s.Controller.Dt, log)
	if err != nil {
		return nil, err
	}

	m := st.Model
	res := &result{}
	cols := []string{"t"}
	for i := 0; i < m.NQ(); i++ {
		res.qNames = append(res.qNames, fmt.Sprintf("q[%d]", i))
	}
	for i := 0; i < m.NV(); i++ {
		res.vNames = append(res.vNames, "v:"+m.CoordinateName(i))
	}
	for _, t := range st.Tasks {
		res.taskNames = append(res.taskNames, "err:"+t.Name())
	}
	cols = append(cols, res.qNames...)
	cols = append(cols, res.vNames...)
	cols = append(cols, res.taskNames...)
	cols = append(cols, "v_norm", "iterations", "status")
	res.trace = report.NewTrace(cols...)

	row := make([]float64, 0, len(cols))
	for tick := 0; tick <= s.Controller.Ticks; tick++ {
		// The last pass only records the final state.
		var v []float64
		if tick > 0 {
			_, err := ctl.Step()
			switch {
			case errors.Is(err, ik.ErrSolveFailed):
				res.failures++
			case err != nil:
				return nil, fmt.Errorf("tick %d: %w", tick, err)
			default:
				v = ctl.LastVelocity()
			}
		}
		if v == nil {
			v = make([]float64, m.NV())
		}

		k, err := m.Compute(ctl.Configuration())
		if err != nil {
			return nil, err
		}
		errs := make([]float64, len(st.Tasks))
		for i, t := range st.Tasks {
			r, err := t.ComputeError(k)
			if err != nil {
				return nil, fmt.Errorf("task %s: %w", t.Name(), err)
			}
			errs[i] = mat.Norm(r, 2)
		}

		iterations, status := 0.0, 0.0
		if sol, ok := ctl.LastSolution(); ok {
			iterations, status = float64(sol.Iterations), float64(sol.Status)
		}
		row = append(row[:0], float64(tick)*s.Controller.Dt)
		row = append(row, ctl.Configuration().Q()...)
		row = append(row, v...)
		row = append(row, errs...)
		row = append(row, mat.Norm(mat.NewVecDense(len(v), v), 2), iterations, status)
		res.trace.Add(row...)
		res.finalErrors = errs
	}
	res.ticks = ctl.Ticks()
	return res, nil
}

// ------------------------------------------------------------
// Output
// ------------------------------------------------------------

func (r *result) save(out config.Output) error {
	if err := r.trace.WriteCSV(filepath.Join(out.Dir, "ik_log.csv")); err != nil {
		return err
	}
	if !out.Plots {
		return nil
	}
	t := r.trace.Column("t")
	plots := []struct {
		file  string
		fig   report.Figure
		names []string
	}{
		{"joints.png", report.Figure{Title: "Configuration q(t)", YLabel: "q", YFormat: "%.2f"}, r.qNames},
		{"velocities.png", report.Figure{Title: "Tangent Velocity v(t)", YLabel: "v", YFormat: "%.3f"}, r.vNames},
		{"task_errors.png", report.Figure{Title: "Task Error Norms", YLabel: "‖r‖", YFormat: "%.1e"}, r.taskNames},
	}
	for _, p := range plots {
		if len(p.names) == 0 {
			continue
		}
		series := make([]report.Series, len(p.names))
		for i, n := range p.names {
			series[i] = report.Series{Name: n, Y: r.trace.Column(n)}
		}
		p.fig.XLabel, p.fig.XFormat, p.fig.Ticks = "time (s)", "%.2f", 8
		if err := report.SaveLinePlot(filepath.Join(out.Dir, p.file), p.fig, t, series...); err != nil {
			return fmt.Errorf("%s: %w", p.file, err)
		}
	}
	return nil
}
