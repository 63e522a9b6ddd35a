// Package lie implements the small amount of SO(3) and SE(3) Lie group
// calculus needed by the configuration manifold and the kinematic tasks:
// exponential and logarithm maps, their right Jacobians, rigid transforms and
// the adjoint action on twists.
//
// Twists follow the linear-first convention [vx vy vz wx wy wz].
package lie

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// smallAngle is the angle below which the closed forms switch to their
// Taylor expansions.
const smallAngle = 1e-2

// Mat3 is a row-major 3x3 matrix. Rotations are Mat3 values.
type Mat3 [3][3]float64

// Eye3 returns the 3x3 identity.
func Eye3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Skew returns the cross-product matrix [v] such that [v]u = v × u.
func Skew(v r3.Vec) Mat3 {
	return Mat3{
		{0, -v.Z, v.Y},
		{v.Z, 0, -v.X},
		{-v.Y, v.X, 0},
	}
}

func (m Mat3) Mul(o Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][0]*o[0][j] + m[i][1]*o[1][j] + m[i][2]*o[2][j]
		}
	}
	return out
}

func (m Mat3) MulVec(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

func (m Mat3) T() Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

func (m Mat3) Add(o Mat3) Mat3 {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] += o[i][j]
		}
	}
	return m
}

func (m Mat3) Scale(f float64) Mat3 {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] *= f
		}
	}
	return m
}

// Col returns column j.
func (m Mat3) Col(j int) r3.Vec {
	return r3.Vec{X: m[0][j], Y: m[1][j], Z: m[2][j]}
}

// vee extracts the axial vector of the antisymmetric part, scaled by 2.
func (m Mat3) vee() r3.Vec {
	return r3.Vec{X: m[2][1] - m[1][2], Y: m[0][2] - m[2][0], Z: m[1][0] - m[0][1]}
}

// ------------------------------------------------------------
// Scalar coefficients shared by the SO(3)/SE(3) closed forms
// ------------------------------------------------------------

// sinc returns sin(t)/t.
func sinc(t float64) float64 {
	if t < smallAngle {
		t2 := t * t
		return 1 - t2/6 + t2*t2/120
	}
	return math.Sin(t) / t
}

// cosc returns (1 - cos t)/t².
func cosc(t float64) float64 {
	if t < smallAngle {
		t2 := t * t
		return 0.5 - t2/24 + t2*t2/720
	}
	return (1 - math.Cos(t)) / (t * t)
}

// sinc3 returns (t - sin t)/t³.
func sinc3(t float64) float64 {
	if t < smallAngle {
		t2 := t * t
		return 1.0/6 - t2/120 + t2*t2/5040
	}
	return (t - math.Sin(t)) / (t * t * t)
}

// logCoeff returns 1/t² - (1 + cos t)/(2 t sin t), the [w]² coefficient of
// the inverse left/right Jacobians.
func logCoeff(t float64) float64 {
	if t < smallAngle {
		t2 := t * t
		return 1.0/12 + t2/720 + t2*t2/30240
	}
	return 1/(t*t) - (1+math.Cos(t))/(2*t*math.Sin(t))
}

// ------------------------------------------------------------
// SO(3)
// ------------------------------------------------------------

// Exp3 maps a rotation vector to a rotation matrix (Rodrigues).
func Exp3(w r3.Vec) Mat3 {
	t := r3.Norm(w)
	k := Skew(w)
	return Eye3().Add(k.Scale(sinc(t))).Add(k.Mul(k).Scale(cosc(t)))
}

// Log3 returns the rotation vector of R, with angle in [0, π].
func Log3(R Mat3) r3.Vec {
	vee := R.vee()
	s := 0.5 * r3.Norm(vee)
	c := 0.5 * (R[0][0] + R[1][1] + R[2][2] - 1)
	t := math.Atan2(s, c)

	if c < 0 && s < 1e-4 {
		// Near π the antisymmetric part vanishes; read the axis from the
		// symmetric part R = cI + (1-c)aaᵀ.
		var best int
		for i := 1; i < 3; i++ {
			if R[i][i] > R[best][best] {
				best = i
			}
		}
		den := 1 - c
		col := [3]float64{}
		for i := 0; i < 3; i++ {
			col[i] = 0.5 * (R[i][best] + R[best][i]) / den
		}
		col[best] = (R[best][best] - c) / den
		ak := math.Sqrt(math.Max(col[best], 0))
		a := r3.Vec{X: col[0] / ak, Y: col[1] / ak, Z: col[2] / ak}
		switch best {
		case 0:
			a.X = ak
		case 1:
			a.Y = ak
		case 2:
			a.Z = ak
		}
		if r3.Dot(a, vee) < 0 {
			a = r3.Scale(-1, a)
		}
		return r3.Scale(t, r3.Unit(a))
	}
	// vee = 2 sin(t) a
	return r3.Scale(0.5/sinc(t), vee)
}

// Jexp3 is the right Jacobian of Exp3: Exp3(w+δ) ≈ Exp3(w) Exp3(Jexp3(w) δ).
func Jexp3(w r3.Vec) Mat3 {
	t := r3.Norm(w)
	k := Skew(w)
	return Eye3().Add(k.Scale(-cosc(t))).Add(k.Mul(k).Scale(sinc3(t)))
}

// Jlog3 is the inverse of Jexp3(w), with w = Log3(R): it maps a right
// perturbation δ of R to the first-order change of Log3(R Exp3(δ)).
func Jlog3(w r3.Vec) Mat3 {
	t := r3.Norm(w)
	k := Skew(w)
	return Eye3().Add(k.Scale(0.5)).Add(k.Mul(k).Scale(logCoeff(t)))
}

// RPY returns Rz(yaw) Ry(pitch) Rx(roll).
func RPY(roll, pitch, yaw float64) Mat3 {
	cr, sr := math.Cos(roll), math.Sin(roll)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	cy, sy := math.Cos(yaw), math.Sin(yaw)
	return Mat3{
		{cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr},
		{sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr},
		{-sp, cp * sr, cp * cr},
	}
}

// ------------------------------------------------------------
// Unit quaternions (w = Real, x = Imag, y = Jmag, z = Kmag)
// ------------------------------------------------------------

// QuatExp returns the unit quaternion of the rotation Exp3(w).
func QuatExp(w r3.Vec) quat.Number {
	return quat.Exp(quat.Number{Imag: w.X / 2, Jmag: w.Y / 2, Kmag: w.Z / 2})
}

// QuatToMat3 converts a unit quaternion to a rotation matrix.
func QuatToMat3(q quat.Number) Mat3 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Mat3{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// Mat3ToQuat converts a rotation matrix to a unit quaternion with w >= 0.
func Mat3ToQuat(R Mat3) quat.Number {
	var q quat.Number
	tr := R[0][0] + R[1][1] + R[2][2]
	switch {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		q = quat.Number{Real: s / 4, Imag: (R[2][1] - R[1][2]) / s, Jmag: (R[0][2] - R[2][0]) / s, Kmag: (R[1][0] - R[0][1]) / s}
	case R[0][0] > R[1][1] && R[0][0] > R[2][2]:
		s := 2 * math.Sqrt(1+R[0][0]-R[1][1]-R[2][2])
		q = quat.Number{Real: (R[2][1] - R[1][2]) / s, Imag: s / 4, Jmag: (R[0][1] + R[1][0]) / s, Kmag: (R[0][2] + R[2][0]) / s}
	case R[1][1] > R[2][2]:
		s := 2 * math.Sqrt(1+R[1][1]-R[0][0]-R[2][2])
		q = quat.Number{Real: (R[0][2] - R[2][0]) / s, Imag: (R[0][1] + R[1][0]) / s, Jmag: s / 4, Kmag: (R[1][2] + R[2][1]) / s}
	default:
		s := 2 * math.Sqrt(1+R[2][2]-R[0][0]-R[1][1])
		q = quat.Number{Real: (R[1][0] - R[0][1]) / s, Imag: (R[0][2] + R[2][0]) / s, Jmag: (R[1][2] + R[2][1]) / s, Kmag: s / 4}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return quat.Scale(1/quat.Abs(q), q)
}
