package lie

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid transform x ↦ R x + P. A Transform named
// "a to b" maps coordinates expressed in frame a to frame b.
type Transform struct {
	R Mat3
	P r3.Vec
}

// IdentityTransform returns the identity placement.
func IdentityTransform() Transform {
	return Transform{R: Eye3()}
}

// Translation returns a pure translation.
func Translation(p r3.Vec) Transform {
	return Transform{R: Eye3(), P: p}
}

// Mul composes t ∘ o.
func (t Transform) Mul(o Transform) Transform {
	return Transform{R: t.R.Mul(o.R), P: r3.Add(t.R.MulVec(o.P), t.P)}
}

func (t Transform) Inverse() Transform {
	rt := t.R.T()
	return Transform{R: rt, P: r3.Scale(-1, rt.MulVec(t.P))}
}

// Act applies the transform to a point.
func (t Transform) Act(p r3.Vec) r3.Vec {
	return r3.Add(t.R.MulVec(p), t.P)
}

// ActMotion changes the frame of a twist: a twist expressed in the source
// frame of t is returned expressed in its destination frame.
func (t Transform) ActMotion(m Motion) Motion {
	w := t.R.MulVec(m.Angular)
	return Motion{
		Linear:  r3.Add(t.R.MulVec(m.Linear), r3.Cross(t.P, w)),
		Angular: w,
	}
}

// Adjoint returns the 6x6 matrix of ActMotion.
func (t Transform) Adjoint() *mat.Dense {
	ad := mat.NewDense(6, 6, nil)
	pr := Skew(t.P).Mul(t.R)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			ad.Set(i, j, t.R[i][j])
			ad.Set(i, j+3, pr[i][j])
			ad.Set(i+3, j+3, t.R[i][j])
		}
	}
	return ad
}

// IsApprox reports whether two transforms agree entry-wise within tol.
func (t Transform) IsApprox(o Transform, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(t.R[i][j]-o.R[i][j]) > tol {
				return false
			}
		}
	}
	return r3.Norm(r3.Sub(t.P, o.P)) <= tol
}

// Motion is a twist (spatial velocity), linear part first.
type Motion struct {
	Linear  r3.Vec
	Angular r3.Vec
}

// MotionFromSlice reads a twist from v[0:6].
func MotionFromSlice(v []float64) Motion {
	return Motion{
		Linear:  r3.Vec{X: v[0], Y: v[1], Z: v[2]},
		Angular: r3.Vec{X: v[3], Y: v[4], Z: v[5]},
	}
}

// Vector returns [vx vy vz wx wy wz].
func (m Motion) Vector() []float64 {
	return []float64{m.Linear.X, m.Linear.Y, m.Linear.Z, m.Angular.X, m.Angular.Y, m.Angular.Z}
}

func (m Motion) Scale(f float64) Motion {
	return Motion{Linear: r3.Scale(f, m.Linear), Angular: r3.Scale(f, m.Angular)}
}

// ------------------------------------------------------------
// SE(3) exponential and logarithm
// ------------------------------------------------------------

// leftJacobian3 is V(w) = I + (1-cos t)/t² [w] + (t - sin t)/t³ [w]², the
// matrix mapping the linear part of a twist to the translation of Exp6.
func leftJacobian3(w r3.Vec) Mat3 {
	t := r3.Norm(w)
	k := Skew(w)
	return Eye3().Add(k.Scale(cosc(t))).Add(k.Mul(k).Scale(sinc3(t)))
}

// leftJacobian3Inv is V(w)⁻¹.
func leftJacobian3Inv(w r3.Vec) Mat3 {
	t := r3.Norm(w)
	k := Skew(w)
	return Eye3().Add(k.Scale(-0.5)).Add(k.Mul(k).Scale(logCoeff(t)))
}

// Exp6 maps a twist to the rigid transform reached by following it for unit
// time.
func Exp6(m Motion) Transform {
	return Transform{
		R: Exp3(m.Angular),
		P: leftJacobian3(m.Angular).MulVec(m.Linear),
	}
}

// Log6 is the inverse of Exp6 for rotation angles below π.
func Log6(t Transform) Motion {
	w := Log3(t.R)
	return Motion{Linear: leftJacobian3Inv(w).MulVec(t.P), Angular: w}
}

// Jlog6 maps a right perturbation δ of t to the first-order change of
// Log6(t Exp6(δ)). It is the inverse of the SE(3) right Jacobian evaluated at
// Log6(t):
//
//	Jlog6 = [ Jlog3  -Jlog3·Q·Jlog3 ]
//	        [   0         Jlog3     ]
//
// where Q is the coupling block of the right Jacobian.
func Jlog6(t Transform) *mat.Dense {
	xi := Log6(t)
	a := Jlog3(xi.Angular)
	q := couplingQ(r3.Scale(-1, xi.Linear), r3.Scale(-1, xi.Angular))
	b := a.Mul(q).Mul(a).Scale(-1)

	out := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, a[i][j])
			out.Set(i, j+3, b[i][j])
			out.Set(i+3, j+3, a[i][j])
		}
	}
	return out
}

// couplingQ is the upper-right block of the SE(3) left Jacobian at (rho, phi).
func couplingQ(rho, phi r3.Vec) Mat3 {
	t := r3.Norm(phi)
	P := Skew(phi)
	Rh := Skew(rho)
	PR := P.Mul(Rh)
	RP := Rh.Mul(P)
	PRP := PR.Mul(P)

	var c2, c3 float64
	if t < smallAngle {
		t2 := t * t
		c2 = 1.0/24 - t2/720
		c3 = 1.0/120 - t2/2520
	} else {
		t2 := t * t
		c2 = (t2 + 2*math.Cos(t) - 2) / (2 * t2 * t2)
		c3 = (2*t - 3*math.Sin(t) + t*math.Cos(t)) / (2 * t2 * t2 * t)
	}

	q := Rh.Scale(0.5)
	q = q.Add(PR.Add(RP).Add(PRP).Scale(sinc3(t)))
	q = q.Add(P.Mul(PR).Add(RP.Mul(P)).Add(PRP.Scale(-3)).Scale(c2))
	q = q.Add(PRP.Mul(P).Add(P.Mul(PRP)).Scale(c3))
	return q
}
