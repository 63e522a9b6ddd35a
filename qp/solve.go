package qp

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Status reports how a solve ended.
type Status int

const (
	StatusSolved Status = iota
	StatusInfeasible
	StatusMaxIterations
	StatusNumericalFailure
	StatusInvalidProblem
)

func (s Status) String() string {
	switch s {
	case StatusSolved:
		return "solved"
	case StatusInfeasible:
		return "infeasible"
	case StatusMaxIterations:
		return "max_iterations"
	case StatusNumericalFailure:
		return "numerical_failure"
	case StatusInvalidProblem:
		return "invalid_problem"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) sentinel() error {
	switch s {
	case StatusInfeasible:
		return ErrInfeasible
	case StatusMaxIterations:
		return ErrMaxIterations
	case StatusInvalidProblem:
		return ErrInvalidProblem
	default:
		return ErrNumerical
	}
}

// Solution is the outcome of a solve. X is only set when Status is
// StatusSolved.
type Solution struct {
	X          *mat.VecDense
	Status     Status
	Iterations int
	Backend    string
	Err        error
}

// OK reports whether X can be used.
func (s Solution) OK() bool { return s.Status == StatusSolved && s.X != nil }

// Backend is a numerical QP method. Solve may assume a validated problem.
type Backend interface {
	Name() string
	Solve(p *Problem) Solution
}

// Options are shared by the built-in back-ends. Zero values select each
// back-end's defaults.
type Options struct {
	MaxIterations int
	Tolerance     float64
}

// Factory builds a back-end.
type Factory func(Options) Backend

// DefaultBackend is used when no back-end is configured.
const DefaultBackend = "goldfarb-idnani"

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"goldfarb-idnani": func(o Options) Backend { return newGoldfarbIdnani(o) },
		"quadprog":        func(o Options) Backend { return newGoldfarbIdnani(o) },
		"admm":            func(o Options) Backend { return newADMM(o) },
		"hildreth":        func(o Options) Backend { return newHildreth(o) },
	}
)

// Register adds or replaces a back-end.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Backends lists the registered names in alphabetical order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the named back-end. An empty name selects DefaultBackend.
func New(name string, o Options) (Backend, error) {
	if name == "" {
		name = DefaultBackend
	}
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownBackend, name, Backends())
	}
	return f(o), nil
}

// FeasibilityTolerance is the slack Solve allows on constraints, relative
// to the magnitude of the bound.
const FeasibilityTolerance = 1e-6

// Solve runs b on p and normalizes the outcome: invalid problems, back-end
// panics, non-finite points and points that violate the constraints are all
// reported through the status, never returned as a usable X.
func Solve(b Backend, p *Problem) (sol Solution) {
	name := b.Name()
	if err := p.Validate(); err != nil {
		return Solution{Status: StatusInvalidProblem, Backend: name, Err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			sol = Solution{
				Status:  StatusNumericalFailure,
				Backend: name,
				Err:     fmt.Errorf("%w: %s panicked: %v", ErrNumerical, name, r),
			}
		}
	}()

	sol = b.Solve(p)
	sol.Backend = name
	if sol.Status != StatusSolved {
		if sol.Err == nil {
			sol.Err = fmt.Errorf("%w: %s", sol.Status.sentinel(), name)
		}
		sol.X = nil
		return sol
	}
	if err := checkPoint(p, sol.X); err != nil {
		return Solution{Status: StatusNumericalFailure, Iterations: sol.Iterations, Backend: name, Err: fmt.Errorf("%s: %w", name, err)}
	}
	return sol
}

// checkPoint verifies x and clips box violations within tolerance.
func checkPoint(p *Problem, x *mat.VecDense) error {
	n := p.Dim()
	if x == nil || x.Len() != n {
		return fmt.Errorf("%w: solution has wrong dimension", ErrNumerical)
	}
	if !finiteVector(x) {
		return fmt.Errorf("%w: solution is not finite", ErrNumerical)
	}
	for i := 0; i < n; i++ {
		v := x.AtVec(i)
		if p.Lower != nil && v < p.Lower[i] {
			if p.Lower[i]-v > slack(p.Lower[i]) {
				return fmt.Errorf("%w: x[%d] = %v below %v", ErrNumerical, i, v, p.Lower[i])
			}
			x.SetVec(i, p.Lower[i])
		}
		if p.Upper != nil && v > p.Upper[i] {
			if v-p.Upper[i] > slack(p.Upper[i]) {
				return fmt.Errorf("%w: x[%d] = %v above %v", ErrNumerical, i, v, p.Upper[i])
			}
			x.SetVec(i, p.Upper[i])
		}
	}
	for i := 0; i < p.NumInequalities(); i++ {
		g := mat.Dot(p.G.RowView(i), x)
		h := p.H.AtVec(i)
		if g-h > slack(h) {
			return fmt.Errorf("%w: inequality %d violated by %v", ErrNumerical, i, g-h)
		}
	}
	for i := 0; i < p.NumEqualities(); i++ {
		a := mat.Dot(p.A.RowView(i), x)
		b := p.B.AtVec(i)
		if math.Abs(a-b) > slack(b) {
			return fmt.Errorf("%w: equality %d violated by %v", ErrNumerical, i, a-b)
		}
	}
	return nil
}

func slack(bound float64) float64 {
	return FeasibilityTolerance * math.Max(1, math.Abs(bound))
}
