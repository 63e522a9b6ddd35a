// Package config reads scenario files: a robot, its initial configuration,
// a task stack, barriers and the solver settings of one simulation run.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/mohammadijoo/diffik/ik"
	"github.com/mohammadijoo/diffik/qp"
)

// Task kinds.
const (
	KindFrame       = "frame"
	KindPosition    = "position"
	KindOrientation = "orientation"
	KindPosture     = "posture"
	KindDamping     = "damping"
	KindCom         = "com"
)

// Barrier kinds.
const (
	BarrierConfiguration = "configuration"
	BarrierPosition      = "position"
)

// ErrInvalidScenario wraps every validation failure of a scenario file.
var ErrInvalidScenario = errors.New("config: invalid scenario")

// Scenario is a whole run read from TOML: robot, task stack and outputs.
type Scenario struct {
	Controller Controller    `toml:"controller"`
	Solver     Solver        `toml:"solver"`
	Logging    Logging       `toml:"logging"`
	Output     Output        `toml:"output"`
	Tasks      []TaskSpec    `toml:"tasks"`
	Barriers   []BarrierSpec `toml:"barriers"`
}

// Controller holds the robot and the integration settings.
type Controller struct {
	// Robot is an embedded robot name or a path to a YAML description.
	Robot       string  `toml:"robot"`
	Dt          float64 `toml:"dt"`
	Damping     float64 `toml:"damping"`
	SafetyBreak bool    `toml:"safety_break"`
	Ticks       int     `toml:"ticks"`

	// Initial is the initial q vector; empty means the neutral configuration.
	Initial           []float64 `toml:"initial"`
	AccelerationLimit []float64 `toml:"acceleration_limit"`
}

// Solver selects the QP back-end and its limits.
type Solver struct {
	Backend       string  `toml:"backend"`
	MaxIterations int     `toml:"max_iterations"`
	Tolerance     float64 `toml:"tolerance"`
}

type Logging struct {
	Level string `toml:"level"`
}

type Output struct {
	Dir   string `toml:"dir"`
	Plots bool   `toml:"plots"`
}

// TaskSpec describes one task. Targets are optional: a task without one
// tracks whatever its frame (or the posture) is at the initial
// configuration, unless TargetConfiguration names another configuration.
type TaskSpec struct {
	Kind  string `toml:"kind"`
	Name  string `toml:"name"`
	Frame string `toml:"frame"`

	Target              []float64 `toml:"target"`
	RPY                 []float64 `toml:"rpy"`
	TargetConfiguration []float64 `toml:"target_configuration"`

	// Gain and Weight default to 1.
	Gain            *float64  `toml:"gain"`
	Weight          *float64  `toml:"weight"`
	Cost            []float64 `toml:"cost"`
	PositionCost    []float64 `toml:"position_cost"`
	OrientationCost []float64 `toml:"orientation_cost"`
	LMDamping       float64   `toml:"lm_damping"`
}

type BarrierSpec struct {
	Kind  string `toml:"kind"`
	Name  string `toml:"name"`
	Frame string `toml:"frame"`

	Axes []int     `toml:"axes"`
	Min  []float64 `toml:"min"`
	Max  []float64 `toml:"max"`

	Gain                 []float64 `toml:"gain"`
	SafeDisplacementGain *float64  `toml:"safe_displacement_gain"`
}

// Default returns a scenario without tasks for the planar3 robot.
func Default() Scenario {
	return Scenario{
		Controller: Controller{
			Robot:       "planar3",
			Dt:          0.01,
			Damping:     ik.DefaultDamping,
			SafetyBreak: true,
			Ticks:       500,
		},
		Solver:  Solver{Backend: qp.DefaultBackend},
		Logging: Logging{Level: "info"},
		Output:  Output{Dir: "output", Plots: true},
	}
}

// Load reads a scenario file over Default and validates it.
func Load(path string) (Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	defer f.Close()
	s, err := Decode(f)
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Decode is Load for an already opened file. Unknown keys are rejected.
func Decode(r io.Reader) (Scenario, error) {
	s := Default()
	meta, err := toml.NewDecoder(r).Decode(&s)
	if err != nil {
		return Scenario{}, fmt.Errorf("config parse failed: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Scenario{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidScenario, strings.Join(keys, ", "))
	}
	s.normalize()
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

func (s *Scenario) normalize() {
	s.Controller.Robot = strings.TrimSpace(s.Controller.Robot)
	s.Solver.Backend = strings.TrimSpace(s.Solver.Backend)
	for i := range s.Tasks {
		s.Tasks[i].Kind = strings.ToLower(strings.TrimSpace(s.Tasks[i].Kind))
		s.Tasks[i].Frame = strings.TrimSpace(s.Tasks[i].Frame)
	}
	for i := range s.Barriers {
		s.Barriers[i].Kind = strings.ToLower(strings.TrimSpace(s.Barriers[i].Kind))
		s.Barriers[i].Frame = strings.TrimSpace(s.Barriers[i].Frame)
	}
}

// Validate checks what can be checked without loading the robot.
func (s Scenario) Validate() error {
	c := s.Controller
	if c.Robot == "" {
		return fmt.Errorf("%w: controller.robot is required", ErrInvalidScenario)
	}
	if !positive(c.Dt) {
		return fmt.Errorf("%w: controller.dt must be positive, got %v", ErrInvalidScenario, c.Dt)
	}
	if !(c.Damping >= 0) || math.IsInf(c.Damping, 1) {
		return fmt.Errorf("%w: controller.damping must be non-negative, got %v", ErrInvalidScenario, c.Damping)
	}
	if c.Ticks < 0 {
		return fmt.Errorf("%w: controller.ticks must be non-negative, got %d", ErrInvalidScenario, c.Ticks)
	}
	for _, a := range c.AccelerationLimit {
		if !positive(a) {
			return fmt.Errorf("%w: acceleration limits must be positive, got %v", ErrInvalidScenario, a)
		}
	}
	if s.Solver.Backend != "" && !slices.Contains(qp.Backends(), s.Solver.Backend) {
		return fmt.Errorf("%w: solver.backend %q (have %s)", ErrInvalidScenario, s.Solver.Backend, strings.Join(qp.Backends(), ", "))
	}
	if s.Solver.MaxIterations < 0 || !(s.Solver.Tolerance >= 0) {
		return fmt.Errorf("%w: solver limits must be non-negative", ErrInvalidScenario)
	}
	for i, t := range s.Tasks {
		if err := t.validate(); err != nil {
			return fmt.Errorf("%w: tasks[%d]: %w", ErrInvalidScenario, i, err)
		}
	}
	for i, b := range s.Barriers {
		if err := b.validate(); err != nil {
			return fmt.Errorf("%w: barriers[%d]: %w", ErrInvalidScenario, i, err)
		}
	}
	return nil
}

func (t TaskSpec) validate() error {
	switch t.Kind {
	case KindFrame, KindPosition, KindOrientation:
		if t.Frame == "" {
			return fmt.Errorf("%s task needs a frame", t.Kind)
		}
	case KindPosture, KindDamping, KindCom:
	case "":
		return errors.New("kind is required")
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	if t.Target != nil && len(t.Target) != 3 {
		return fmt.Errorf("target needs 3 values, got %d", len(t.Target))
	}
	if t.RPY != nil && len(t.RPY) != 3 {
		return fmt.Errorf("rpy needs 3 values, got %d", len(t.RPY))
	}
	if t.Target != nil && t.TargetConfiguration != nil {
		return errors.New("target and target_configuration are exclusive")
	}
	switch t.Kind {
	case KindPosition, KindCom:
		if t.RPY != nil {
			return fmt.Errorf("%s task has no orientation", t.Kind)
		}
	case KindOrientation:
		if t.Target != nil {
			return errors.New("orientation task takes rpy, not target")
		}
	case KindPosture, KindDamping:
		if t.Target != nil || t.RPY != nil {
			return fmt.Errorf("%s task takes no Cartesian target", t.Kind)
		}
	}
	if t.Kind == KindDamping && t.TargetConfiguration != nil {
		return errors.New("damping task has no target")
	}
	if t.Kind == KindFrame && t.RPY != nil && t.Target == nil {
		return errors.New("frame task with rpy needs a target")
	}
	if t.Kind != KindFrame && (t.PositionCost != nil || t.OrientationCost != nil) {
		return errors.New("position_cost and orientation_cost apply to frame tasks")
	}
	if t.Gain != nil && !(*t.Gain >= 0 && *t.Gain <= 1) {
		return fmt.Errorf("gain must be in [0, 1], got %v", *t.Gain)
	}
	if t.Weight != nil && (!(*t.Weight >= 0) || math.IsInf(*t.Weight, 1)) {
		return fmt.Errorf("weight must be non-negative, got %v", *t.Weight)
	}
	if !(t.LMDamping >= 0) {
		return fmt.Errorf("lm_damping must be non-negative, got %v", t.LMDamping)
	}
	return nil
}

func (b BarrierSpec) validate() error {
	switch b.Kind {
	case BarrierConfiguration:
		if b.Frame != "" || b.Axes != nil || b.Min != nil || b.Max != nil {
			return errors.New("configuration barrier takes no frame or box")
		}
	case BarrierPosition:
		if b.Frame == "" {
			return errors.New("position barrier needs a frame")
		}
		if b.Min == nil && b.Max == nil {
			return errors.New("position barrier needs min or max")
		}
	case "":
		return errors.New("kind is required")
	default:
		return fmt.Errorf("unknown barrier kind %q", b.Kind)
	}
	if b.SafeDisplacementGain != nil && !(*b.SafeDisplacementGain >= 0) {
		return fmt.Errorf("safe_displacement_gain must be non-negative, got %v", *b.SafeDisplacementGain)
	}
	return nil
}

func positive(x float64) bool { return x > 0 && !math.IsInf(x, 1) }
