package manifold

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mohammadijoo/diffik/lie"
)

// quatTolerance bounds |‖q‖ - 1| for stored orientations.
const quatTolerance = 1e-6

// Kind tags the geometry of a joint block.
type Kind int

const (
	KindEuclidean Kind = iota
	KindSpherical
	KindFreeFlyer
)

func (k Kind) String() string {
	switch k {
	case KindEuclidean:
		return "euclidean"
	case KindSpherical:
		return "spherical"
	case KindFreeFlyer:
		return "free_flyer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Block is one joint's slice of the configuration vector (NQ entries) and of
// the tangent vector (NV entries).
type Block interface {
	Kind() Kind
	NQ() int
	NV() int
	// Neutral writes the neutral configuration into q.
	Neutral(q []float64)
	// Integrate writes q ⊕ v·dt into out.
	Integrate(q, v []float64, dt float64, out []float64)
	// Difference writes the tangent vector d such that b ⊕ d = a.
	Difference(a, b []float64, out []float64)
	// Check validates a configuration slice.
	Check(q []float64) error
}

// ------------------------------------------------------------
// Euclidean: revolute (unbounded angle stored as a scalar) and prismatic
// ------------------------------------------------------------

// Euclidean is R^n with vector addition.
type Euclidean struct {
	n int
}

func NewEuclidean(n int) Euclidean { return Euclidean{n: n} }

func (e Euclidean) Kind() Kind { return KindEuclidean }
func (e Euclidean) NQ() int    { return e.n }
func (e Euclidean) NV() int    { return e.n }

func (e Euclidean) Neutral(q []float64) {
	for i := range q {
		q[i] = 0
	}
}

func (e Euclidean) Integrate(q, v []float64, dt float64, out []float64) {
	for i := 0; i < e.n; i++ {
		out[i] = q[i] + v[i]*dt
	}
}

func (e Euclidean) Difference(a, b []float64, out []float64) {
	for i := 0; i < e.n; i++ {
		out[i] = a[i] - b[i]
	}
}

func (e Euclidean) Check(q []float64) error {
	for i, x := range q {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("euclidean coordinate %d is not finite: %v", i, x)
		}
	}
	return nil
}

// ------------------------------------------------------------
// Spherical: SO(3), q = [qx qy qz qw], v = body angular velocity
// ------------------------------------------------------------

type Spherical struct{}

func (Spherical) Kind() Kind { return KindSpherical }
func (Spherical) NQ() int    { return 4 }
func (Spherical) NV() int    { return 3 }

func (Spherical) Neutral(q []float64) {
	q[0], q[1], q[2], q[3] = 0, 0, 0, 1
}

func (Spherical) Integrate(q, v []float64, dt float64, out []float64) {
	w := r3.Vec{X: v[0] * dt, Y: v[1] * dt, Z: v[2] * dt}
	storeQuat(out, quat.Mul(loadQuat(q), lie.QuatExp(w)))
}

func (Spherical) Difference(a, b []float64, out []float64) {
	Ra := lie.QuatToMat3(loadQuat(a))
	Rb := lie.QuatToMat3(loadQuat(b))
	w := lie.Log3(Rb.T().Mul(Ra))
	out[0], out[1], out[2] = w.X, w.Y, w.Z
}

func (Spherical) Check(q []float64) error {
	return checkQuat(q)
}

// ------------------------------------------------------------
// FreeFlyer: SE(3), q = [x y z qx qy qz qw], v = body twist (linear first)
// ------------------------------------------------------------

type FreeFlyer struct{}

func (FreeFlyer) Kind() Kind { return KindFreeFlyer }
func (FreeFlyer) NQ() int    { return 7 }
func (FreeFlyer) NV() int    { return 6 }

func (FreeFlyer) Neutral(q []float64) {
	q[0], q[1], q[2] = 0, 0, 0
	q[3], q[4], q[5], q[6] = 0, 0, 0, 1
}

func (FreeFlyer) Integrate(q, v []float64, dt float64, out []float64) {
	m := lie.MotionFromSlice(v).Scale(dt)
	step := lie.Exp6(m)

	rot := loadQuat(q[3:7])
	R := lie.QuatToMat3(rot)
	p := r3.Add(r3.Vec{X: q[0], Y: q[1], Z: q[2]}, R.MulVec(step.P))

	out[0], out[1], out[2] = p.X, p.Y, p.Z
	storeQuat(out[3:7], quat.Mul(rot, lie.QuatExp(m.Angular)))
}

func (FreeFlyer) Difference(a, b []float64, out []float64) {
	d := Placement(b).Inverse().Mul(Placement(a))
	copy(out, lie.Log6(d).Vector())
}

func (FreeFlyer) Check(q []float64) error {
	return checkQuat(q[3:7])
}

// Placement reads the rigid transform stored in a free-flyer block.
func Placement(q []float64) lie.Transform {
	return lie.Transform{
		R: lie.QuatToMat3(loadQuat(q[3:7])),
		P: r3.Vec{X: q[0], Y: q[1], Z: q[2]},
	}
}

// Orientation reads the rotation stored in a spherical block.
func Orientation(q []float64) lie.Mat3 {
	return lie.QuatToMat3(loadQuat(q))
}

func loadQuat(q []float64) quat.Number {
	return quat.Number{Real: q[3], Imag: q[0], Jmag: q[1], Kmag: q[2]}
}

func storeQuat(out []float64, q quat.Number) {
	out[0], out[1], out[2], out[3] = q.Imag, q.Jmag, q.Kmag, q.Real
}

func checkQuat(q []float64) error {
	n := quat.Abs(loadQuat(q))
	if math.IsNaN(n) || math.Abs(n-1) > quatTolerance {
		return fmt.Errorf("%w: |q| = %v", ErrNotNormalized, n)
	}
	return nil
}
