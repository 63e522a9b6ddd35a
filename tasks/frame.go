package tasks

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mohammadijoo/diffik/lie"
)

// FrameTask drives the pose of a frame to a target transform. The residual is
// the body twist log6(T_target⁻¹ T_frame), linear part first.
type FrameTask struct {
	params
	frame  string
	target *lie.Transform
}

func NewFrameTask(m Model, frame string, opts ...Option) (*FrameTask, error) {
	if err := frameExists(m, frame); err != nil {
		return nil, err
	}
	t := &FrameTask{params: newParams("frame:"+frame, 6), frame: frame}
	if err := t.apply(opts); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *FrameTask) Frame() string { return t.frame }

// SetTarget sets the desired frame-to-world transform.
func (t *FrameTask) SetTarget(target lie.Transform) { t.target = &target }

// SetTargetFromConfiguration copies the current placement of the frame.
func (t *FrameTask) SetTargetFromConfiguration(k Kinematics) error {
	T, err := k.FramePlacement(t.frame)
	if err != nil {
		return err
	}
	t.SetTarget(T)
	return nil
}

// Target returns the target and whether it is set.
func (t *FrameTask) Target() (lie.Transform, bool) {
	if t.target == nil {
		return lie.Transform{}, false
	}
	return *t.target, true
}

// SetPositionCost sets the cost of the three translation coordinates.
func (t *FrameTask) SetPositionCost(c ...float64) error { return t.setCostRange(0, 3, c) }

// SetOrientationCost sets the cost of the three rotation coordinates.
func (t *FrameTask) SetOrientationCost(c ...float64) error { return t.setCostRange(3, 6, c) }

func (t *FrameTask) targetToFrame(k Kinematics) (lie.Transform, error) {
	if t.target == nil {
		return lie.Transform{}, ErrTargetNotSet
	}
	T, err := k.FramePlacement(t.frame)
	if err != nil {
		return lie.Transform{}, err
	}
	return t.target.Inverse().Mul(T), nil
}

func (t *FrameTask) ComputeError(k Kinematics) (*mat.VecDense, error) {
	tb, err := t.targetToFrame(k)
	if err != nil {
		return nil, err
	}
	return t.remember(mat.NewVecDense(6, lie.Log6(tb).Vector())), nil
}

func (t *FrameTask) ComputeJacobian(k Kinematics) (*mat.Dense, error) {
	tb, err := t.targetToFrame(k)
	if err != nil {
		return nil, err
	}
	J, err := k.FrameJacobian(t.frame)
	if err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Mul(lie.Jlog6(tb), J)
	return &out, nil
}

// PositionTask drives the origin of a frame to a point, in the world frame.
type PositionTask struct {
	params
	frame  string
	target *r3.Vec
}

func NewPositionTask(m Model, frame string, opts ...Option) (*PositionTask, error) {
	if err := frameExists(m, frame); err != nil {
		return nil, err
	}
	t := &PositionTask{params: newParams("position:"+frame, 3), frame: frame}
	if err := t.apply(opts); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *PositionTask) Frame() string { return t.frame }

func (t *PositionTask) SetTarget(p r3.Vec) { t.target = &p }

func (t *PositionTask) SetTargetFromConfiguration(k Kinematics) error {
	T, err := k.FramePlacement(t.frame)
	if err != nil {
		return err
	}
	t.SetTarget(T.P)
	return nil
}

func (t *PositionTask) Target() (r3.Vec, bool) {
	if t.target == nil {
		return r3.Vec{}, false
	}
	return *t.target, true
}

func (t *PositionTask) ComputeError(k Kinematics) (*mat.VecDense, error) {
	if t.target == nil {
		return nil, ErrTargetNotSet
	}
	T, err := k.FramePlacement(t.frame)
	if err != nil {
		return nil, err
	}
	e := r3.Sub(T.P, *t.target)
	return t.remember(mat.NewVecDense(3, []float64{e.X, e.Y, e.Z})), nil
}

// ComputeJacobian rotates the linear rows of the body Jacobian into the
// world frame.
func (t *PositionTask) ComputeJacobian(k Kinematics) (*mat.Dense, error) {
	if t.target == nil {
		return nil, ErrTargetNotSet
	}
	T, err := k.FramePlacement(t.frame)
	if err != nil {
		return nil, err
	}
	J, err := k.FrameJacobian(t.frame)
	if err != nil {
		return nil, err
	}
	_, nv := J.Dims()
	var out mat.Dense
	out.Mul(mat3Dense(T.R), J.Slice(0, 3, 0, nv))
	return &out, nil
}

// OrientationTask drives the orientation of a frame to a target rotation.
// The residual is log3(R_target^T R_frame).
type OrientationTask struct {
	params
	frame  string
	target *lie.Mat3
}

func NewOrientationTask(m Model, frame string, opts ...Option) (*OrientationTask, error) {
	if err := frameExists(m, frame); err != nil {
		return nil, err
	}
	t := &OrientationTask{params: newParams("orientation:"+frame, 3), frame: frame}
	if err := t.apply(opts); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *OrientationTask) Frame() string { return t.frame }

func (t *OrientationTask) SetTarget(R lie.Mat3) { t.target = &R }

func (t *OrientationTask) SetTargetFromConfiguration(k Kinematics) error {
	T, err := k.FramePlacement(t.frame)
	if err != nil {
		return err
	}
	t.SetTarget(T.R)
	return nil
}

func (t *OrientationTask) Target() (lie.Mat3, bool) {
	if t.target == nil {
		return lie.Mat3{}, false
	}
	return *t.target, true
}

func (t *OrientationTask) rotationError(k Kinematics) (r3.Vec, error) {
	if t.target == nil {
		return r3.Vec{}, ErrTargetNotSet
	}
	T, err := k.FramePlacement(t.frame)
	if err != nil {
		return r3.Vec{}, err
	}
	return lie.Log3(t.target.T().Mul(T.R)), nil
}

func (t *OrientationTask) ComputeError(k Kinematics) (*mat.VecDense, error) {
	w, err := t.rotationError(k)
	if err != nil {
		return nil, err
	}
	return t.remember(mat.NewVecDense(3, []float64{w.X, w.Y, w.Z})), nil
}

func (t *OrientationTask) ComputeJacobian(k Kinematics) (*mat.Dense, error) {
	w, err := t.rotationError(k)
	if err != nil {
		return nil, err
	}
	J, err := k.FrameJacobian(t.frame)
	if err != nil {
		return nil, err
	}
	_, nv := J.Dims()
	var out mat.Dense
	out.Mul(mat3Dense(lie.Jlog3(w)), J.Slice(3, 6, 0, nv))
	return &out, nil
}

func mat3Dense(m lie.Mat3) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
}
