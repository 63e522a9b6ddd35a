package kinematics

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mohammadijoo/diffik/lie"
	"github.com/mohammadijoo/diffik/manifold"
)

// Data holds the forward kinematics of a model at one configuration. It is a
// pure function of the configuration and is never updated in place.
type Data struct {
	model  *Model
	config manifold.Configuration
	oMi    []lie.Transform
	oMf    []lie.Transform
}

// Compute runs forward kinematics at c.
func (m *Model) Compute(c manifold.Configuration) (*Data, error) {
	if c.Space() != m.space {
		return nil, fmt.Errorf("compute %s: %w", m.name, manifold.ErrSpaceMismatch)
	}
	d := &Data{
		model:  m,
		config: c,
		oMi:    make([]lie.Transform, len(m.joints)),
		oMf:    make([]lie.Transform, len(m.frames)),
	}
	for i, j := range m.joints {
		local := j.Placement.Mul(jointMotion(j, c.Block(j.block)))
		if j.parent < 0 {
			d.oMi[i] = local
		} else {
			d.oMi[i] = d.oMi[j.parent].Mul(local)
		}
	}
	for i, f := range m.frames {
		if f.Joint < 0 {
			d.oMf[i] = f.Placement
			continue
		}
		d.oMf[i] = d.oMi[f.Joint].Mul(f.Placement)
	}
	return d, nil
}

// jointMotion is the transform added by the joint coordinates q.
func jointMotion(j Joint, q []float64) lie.Transform {
	switch j.Type {
	case Revolute:
		return lie.Transform{R: lie.Exp3(r3.Scale(q[0], j.Axis))}
	case Prismatic:
		return lie.Translation(r3.Scale(q[0], j.Axis))
	case Spherical:
		return lie.Transform{R: manifold.Orientation(q)}
	case FreeFlyer:
		return manifold.Placement(q)
	}
	return lie.IdentityTransform()
}

// motionSubspace lists the unit twists of the joint, in the joint frame, in
// tangent order.
func motionSubspace(j Joint) []lie.Motion {
	ex, ey, ez := r3.Vec{X: 1}, r3.Vec{Y: 1}, r3.Vec{Z: 1}
	switch j.Type {
	case Revolute:
		return []lie.Motion{{Angular: j.Axis}}
	case Prismatic:
		return []lie.Motion{{Linear: j.Axis}}
	case Spherical:
		return []lie.Motion{{Angular: ex}, {Angular: ey}, {Angular: ez}}
	case FreeFlyer:
		return []lie.Motion{
			{Linear: ex}, {Linear: ey}, {Linear: ez},
			{Angular: ex}, {Angular: ey}, {Angular: ez},
		}
	}
	return nil
}

// Model returns the model d was computed for.
func (d *Data) Model() *Model { return d.model }

// Configuration returns the configuration d was computed at.
func (d *Data) Configuration() manifold.Configuration { return d.config }

// NV returns the tangent dimension.
func (d *Data) NV() int { return d.model.NV() }

// JointPlacement returns the joint-to-world transform of a joint.
func (d *Data) JointPlacement(name string) (lie.Transform, error) {
	i, ok := d.model.jointIndex[name]
	if !ok {
		return lie.Transform{}, fmt.Errorf("%w: %q", ErrJointNotFound, name)
	}
	return d.oMi[i], nil
}

// FramePlacement returns the frame-to-world transform of a frame.
func (d *Data) FramePlacement(name string) (lie.Transform, error) {
	i, ok := d.model.frameIndex[name]
	if !ok {
		return lie.Transform{}, fmt.Errorf("%w: %q", ErrFrameNotFound, name)
	}
	return d.oMf[i], nil
}

// FrameJacobian returns the 6×NV body Jacobian of a frame: column k is the
// twist of the frame, expressed in the frame itself, produced by a unit
// velocity along tangent coordinate k.
func (d *Data) FrameJacobian(name string) (*mat.Dense, error) {
	fi, ok := d.model.frameIndex[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFrameNotFound, name)
	}
	J := mat.NewDense(6, d.NV(), nil)
	f := d.model.frames[fi]
	if f.Joint < 0 {
		return J, nil
	}
	fMo := d.oMf[fi].Inverse()
	for _, ji := range d.model.joints[f.Joint].support {
		j := d.model.joints[ji]
		fMj := fMo.Mul(d.oMi[ji])
		col := d.model.space.VIndex(j.block)
		for k, s := range motionSubspace(j) {
			J.SetCol(col+k, fMj.ActMotion(s).Vector())
		}
	}
	return J, nil
}

// CenterOfMass returns the world position of the center of mass.
func (d *Data) CenterOfMass() (r3.Vec, error) {
	if d.model.totalMass <= 0 {
		return r3.Vec{}, ErrNoMass
	}
	var c r3.Vec
	for i, j := range d.model.joints {
		if j.Mass == 0 {
			continue
		}
		c = r3.Add(c, r3.Scale(j.Mass, d.oMi[i].Act(j.CoM)))
	}
	return r3.Scale(1/d.model.totalMass, c), nil
}

// CenterOfMassJacobian returns the 3×NV Jacobian of the center of mass
// position, in the world frame.
func (d *Data) CenterOfMassJacobian() (*mat.Dense, error) {
	if d.model.totalMass <= 0 {
		return nil, ErrNoMass
	}
	J := mat.NewDense(3, d.NV(), nil)
	for i, link := range d.model.joints {
		if link.Mass == 0 {
			continue
		}
		w := link.Mass / d.model.totalMass
		p := d.oMi[i].Act(link.CoM)
		for _, ji := range link.support {
			j := d.model.joints[ji]
			col := d.model.space.VIndex(j.block)
			for k, s := range motionSubspace(j) {
				xi := d.oMi[ji].ActMotion(s)
				v := r3.Add(xi.Linear, r3.Cross(xi.Angular, p))
				J.Set(0, col+k, J.At(0, col+k)+w*v.X)
				J.Set(1, col+k, J.At(1, col+k)+w*v.Y)
				J.Set(2, col+k, J.At(2, col+k)+w*v.Z)
			}
		}
	}
	return J, nil
}
