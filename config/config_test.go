package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mohammadijoo/diffik/ik"
	"github.com/mohammadijoo/diffik/kinematics"
	"github.com/mohammadijoo/diffik/manifold"
	"github.com/mohammadijoo/diffik/qp"
	"github.com/mohammadijoo/diffik/robots"
	"github.com/mohammadijoo/diffik/tasks"
)

func decode(t *testing.T, src string) Scenario {
	t.Helper()
	s, err := Decode(strings.NewReader(src))
	require.NoError(t, err)
	return s
}

func TestDefaultIsValid(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())
	assert.Equal(t, ik.DefaultDamping, s.Controller.Damping)
	assert.True(t, s.Controller.SafetyBreak)
	assert.Equal(t, qp.DefaultBackend, s.Solver.Backend)
}

func TestDecodeOverridesDefaults(t *testing.T) {
	got := decode(t, `
[controller]
robot = " arm6 "
dt = 0.02
safety_break = false

[solver]
backend = "hildreth"

[[tasks]]
kind = "Position"
frame = "ee"
target = [0.5, 0.1, 0.6]
gain = 0.5
`)

	gain := 0.5
	want := Default()
	want.Controller.Robot = "arm6"
	want.Controller.Dt = 0.02
	want.Controller.SafetyBreak = false
	want.Solver.Backend = "hildreth"
	want.Tasks = []TaskSpec{{Kind: KindPosition, Frame: "ee", Target: []float64{0.5, 0.1, 0.6}, Gain: &gain}}
	assert.Empty(t, cmp.Diff(want, got))
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode(strings.NewReader("[controller]\nrobto = \"planar3\"\n"))
	require.ErrorIs(t, err, ErrInvalidScenario)
	assert.Contains(t, err.Error(), "controller.robto")

	_, err = Decode(strings.NewReader("[controller\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	neg := -1.0
	big := 2.0
	for name, edit := range map[string]func(*Scenario){
		"no robot":          func(s *Scenario) { s.Controller.Robot = "" },
		"zero dt":           func(s *Scenario) { s.Controller.Dt = 0 },
		"negative damping":  func(s *Scenario) { s.Controller.Damping = -1 },
		"negative ticks":    func(s *Scenario) { s.Controller.Ticks = -1 },
		"zero acceleration": func(s *Scenario) { s.Controller.AccelerationLimit = []float64{1, 0} },
		"unknown backend":   func(s *Scenario) { s.Solver.Backend = "cvxopt" },
		"negative tol":      func(s *Scenario) { s.Solver.Tolerance = -1 },
		"task kind":         func(s *Scenario) { s.Tasks = []TaskSpec{{Kind: "joint"}} },
		"missing kind":      func(s *Scenario) { s.Tasks = []TaskSpec{{}} },
		"missing frame":     func(s *Scenario) { s.Tasks = []TaskSpec{{Kind: KindPosition}} },
		"short target":      func(s *Scenario) { s.Tasks = []TaskSpec{{Kind: KindCom, Target: []float64{1}}} },
		"two targets": func(s *Scenario) {
			s.Tasks = []TaskSpec{{Kind: KindPosition, Frame: "ee", Target: []float64{0, 0, 0}, TargetConfiguration: []float64{0, 0, 0}}}
		},
		"position rpy":      func(s *Scenario) { s.Tasks = []TaskSpec{{Kind: KindPosition, Frame: "ee", RPY: []float64{0, 0, 0}}} },
		"posture target":    func(s *Scenario) { s.Tasks = []TaskSpec{{Kind: KindPosture, Target: []float64{0, 0, 0}}} },
		"damping target":    func(s *Scenario) { s.Tasks = []TaskSpec{{Kind: KindDamping, TargetConfiguration: []float64{0}}} },
		"frame rpy only":    func(s *Scenario) { s.Tasks = []TaskSpec{{Kind: KindFrame, Frame: "ee", RPY: []float64{0, 0, 0}}} },
		"position cost":     func(s *Scenario) { s.Tasks = []TaskSpec{{Kind: KindPosture, PositionCost: []float64{1}}} },
		"gain above one":    func(s *Scenario) { s.Tasks = []TaskSpec{{Kind: KindPosture, Gain: &big}} },
		"negative weight":   func(s *Scenario) { s.Tasks = []TaskSpec{{Kind: KindPosture, Weight: &neg}} },
		"negative lm":       func(s *Scenario) { s.Tasks = []TaskSpec{{Kind: KindPosture, LMDamping: -1}} },
		"barrier kind":      func(s *Scenario) { s.Barriers = []BarrierSpec{{Kind: "wall"}} },
		"barrier frame":     func(s *Scenario) { s.Barriers = []BarrierSpec{{Kind: BarrierPosition, Min: []float64{0, 0, 0}}} },
		"barrier box":       func(s *Scenario) { s.Barriers = []BarrierSpec{{Kind: BarrierPosition, Frame: "ee"}} },
		"configuration box": func(s *Scenario) { s.Barriers = []BarrierSpec{{Kind: BarrierConfiguration, Frame: "ee"}} },
		"negative r":        func(s *Scenario) { s.Barriers = []BarrierSpec{{Kind: BarrierConfiguration, SafeDisplacementGain: &neg}} },
	} {
		t.Run(name, func(t *testing.T) {
			s := Default()
			edit(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidScenario)
		})
	}
}

func TestResolveTargets(t *testing.T) {
	s := decode(t, `
[controller]
robot = "planar3"
initial = [0.2, 0.3, 0.3]

[[tasks]]
kind = "position"
frame = "ee"
target = [0.3, 0.4, 0.0]

[[tasks]]
kind = "frame"
frame = "ee"
target_configuration = [0.5, 0.6, -0.2]
position_cost = [1.0, 1.0, 0.0]
orientation_cost = [0.0, 0.0, 0.5]

[[tasks]]
kind = "posture"
weight = 0.01

[[tasks]]
kind = "damping"
name = "still"

[[barriers]]
kind = "configuration"
gain = [0.2]
`)
	st, err := s.Resolve()
	require.NoError(t, err)
	require.Len(t, st.Tasks, 4)
	require.Len(t, st.Barriers, 1)

	target, ok := st.Tasks[0].(*tasks.PositionTask).Target()
	require.True(t, ok)
	assert.Equal(t, r3.Vec{X: 0.3, Y: 0.4}, target)

	goal, err := st.Model.Space().NewConfiguration([]float64{0.5, 0.6, -0.2})
	require.NoError(t, err)
	k, err := st.Model.Compute(goal)
	require.NoError(t, err)
	want, err := k.FramePlacement("ee")
	require.NoError(t, err)
	ft := st.Tasks[1].(*tasks.FrameTask)
	placement, ok := ft.Target()
	require.True(t, ok)
	assert.True(t, want.IsApprox(placement, 1e-12))
	assert.Equal(t, []float64{1, 1, 0, 0, 0, 0.5}, ft.Cost())

	posture, ok := st.Tasks[2].(*tasks.PostureTask).Target()
	require.True(t, ok)
	assert.Equal(t, []float64{0.2, 0.3, 0.3}, posture.Q())
	assert.Equal(t, 0.01, st.Tasks[2].Weight())
	assert.Equal(t, "still", st.Tasks[3].Name())
	assert.Equal(t, []float64{0.2, 0.2, 0.2, 0.2, 0.2, 0.2}, st.Barriers[0].Gain())
}

func TestResolveErrors(t *testing.T) {
	for name, tc := range map[string]struct {
		src  string
		want error
	}{
		"unknown robot": {`[controller]
robot = "hexapod"`, robots.ErrUnknownRobot},
		"initial length": {`[controller]
initial = [0.1]`, manifold.ErrDimensionMismatch},
		"unknown frame": {`[[tasks]]
kind = "position"
frame = "gripper"`, kinematics.ErrFrameNotFound},
		"target configuration length": {`[[tasks]]
kind = "posture"
target_configuration = [0, 0]`, manifold.ErrDimensionMismatch},
		"bad cost": {`[[tasks]]
kind = "damping"
cost = [1, 2]`, tasks.ErrInvalidParameter},
		"barrier frame": {`[[barriers]]
kind = "position"
frame = "gripper"
max = [1, 1, 1]`, kinematics.ErrFrameNotFound},
	} {
		t.Run(name, func(t *testing.T) {
			s := decode(t, tc.src)
			_, err := s.Resolve()
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestExampleScenariosRun(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "scenarios", "*.toml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := Load(path)
			require.NoError(t, err)
			st, err := s.Resolve()
			require.NoError(t, err)
			ctl, err := st.NewController(s.Controller.Dt, zap.NewNop())
			require.NoError(t, err)
			assert.Len(t, ctl.Tasks(), len(s.Tasks))
			for i := 0; i < 5; i++ {
				_, err := ctl.Step()
				require.NoError(t, err, "tick %d", i)
			}
			assert.Equal(t, 5, ctl.Ticks())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
