// Package kinematics is a small rigid-body kinematic tree: joint and frame
// bookkeeping, position and velocity limits, forward kinematics, frame
// Jacobians and the center of mass. It is the reference implementation of the
// model and kinematics collaborators used by the IK engine.
package kinematics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mohammadijoo/diffik/lie"
	"github.com/mohammadijoo/diffik/manifold"
)

var (
	ErrFrameNotFound = errors.New("kinematics: frame not found")
	ErrJointNotFound = errors.New("kinematics: joint not found")
	ErrInvalidModel  = errors.New("kinematics: invalid model")
	ErrNoMass        = errors.New("kinematics: model has no mass")
)

// JointType names the joint kinds supported by the tree.
type JointType string

const (
	Revolute  JointType = "revolute"
	Prismatic JointType = "prismatic"
	Spherical JointType = "spherical"
	FreeFlyer JointType = "free_flyer"
)

// Joint is one node of the kinematic tree together with the link it moves.
type Joint struct {
	Name string
	Type JointType
	// Placement of the joint frame in its parent joint frame at the neutral
	// configuration.
	Placement lie.Transform
	// Axis of revolute and prismatic joints, in the joint frame.
	Axis r3.Vec
	// Position limits of revolute and prismatic joints. Both zero means
	// unbounded.
	Lower, Upper float64
	// VelocityLimit applies to every degree of freedom of the joint. Zero
	// means unbounded.
	VelocityLimit float64
	// Mass and CoM (in the joint frame) of the attached link.
	Mass float64
	CoM  r3.Vec

	parent  int
	block   int
	support []int
}

// Parent returns the index of the parent joint, -1 for the world.
func (j Joint) Parent() int { return j.parent }

func (j Joint) nq() int {
	switch j.Type {
	case Spherical:
		return 4
	case FreeFlyer:
		return 7
	default:
		return 1
	}
}

// Frame is an operational frame rigidly attached to a joint.
type Frame struct {
	Name      string
	Joint     int // -1 for frames fixed in the world
	Placement lie.Transform
}

// Model is an immutable kinematic tree. Build it with a Builder or from a
// YAML description.
type Model struct {
	name       string
	joints     []Joint
	frames     []Frame
	jointIndex map[string]int
	frameIndex map[string]int
	space      *manifold.Space
	lower      []float64
	upper      []float64
	velocity   []float64
	totalMass  float64
}

func (m *Model) Name() string { return m.name }

// Space returns the configuration manifold of the model.
func (m *Model) Space() *manifold.Space { return m.space }

func (m *Model) NQ() int { return m.space.NQ() }
func (m *Model) NV() int { return m.space.NV() }

// NumJoints returns the number of joints.
func (m *Model) NumJoints() int { return len(m.joints) }

// JointAt returns joint i.
func (m *Model) JointAt(i int) Joint { return m.joints[i] }

// Joint looks a joint up by name.
func (m *Model) Joint(name string) (Joint, error) {
	i, ok := m.jointIndex[name]
	if !ok {
		return Joint{}, fmt.Errorf("%w: %q", ErrJointNotFound, name)
	}
	return m.joints[i], nil
}

// JointQIndex and JointVIndex return where a joint starts in q and v.
func (m *Model) JointQIndex(i int) int { return m.space.QIndex(m.joints[i].block) }
func (m *Model) JointVIndex(i int) int { return m.space.VIndex(m.joints[i].block) }

// HasFrame reports whether a frame (joint frames included) exists.
func (m *Model) HasFrame(name string) bool {
	_, ok := m.frameIndex[name]
	return ok
}

// FrameNames lists frames in declaration order.
func (m *Model) FrameNames() []string {
	out := make([]string, len(m.frames))
	for i, f := range m.frames {
		out[i] = f.Name
	}
	return out
}

// LowerPositionLimit returns the lower limit of every configuration
// coordinate (-Inf when unbounded).
func (m *Model) LowerPositionLimit() []float64 { return append([]float64(nil), m.lower...) }

// UpperPositionLimit returns the upper limit of every configuration
// coordinate (+Inf when unbounded).
func (m *Model) UpperPositionLimit() []float64 { return append([]float64(nil), m.upper...) }

// VelocityLimit returns the velocity limit of every tangent coordinate
// (+Inf when unbounded).
func (m *Model) VelocityLimit() []float64 { return append([]float64(nil), m.velocity...) }

// TotalMass is the sum of link masses.
func (m *Model) TotalMass() float64 { return m.totalMass }

// HasMass reports whether the center of mass is defined.
func (m *Model) HasMass() bool { return m.totalMass > 0 }

// CoordinateName returns "joint" or "joint[k]" for tangent index i.
func (m *Model) CoordinateName(i int) string {
	for _, j := range m.joints {
		start := m.space.VIndex(j.block)
		nv := m.space.Block(j.block).NV()
		if i >= start && i < start+nv {
			if nv == 1 {
				return j.Name
			}
			return fmt.Sprintf("%s[%d]", j.Name, i-start)
		}
	}
	return fmt.Sprintf("v[%d]", i)
}

// Neutral is shorthand for m.Space().Neutral().
func (m *Model) Neutral() manifold.Configuration { return m.space.Neutral() }

// ------------------------------------------------------------
// Builder
// ------------------------------------------------------------

// Builder accumulates joints and frames. The first error sticks and is
// returned by Build.
type Builder struct {
	name   string
	joints []Joint
	frames []Frame
	index  map[string]int
	err    error
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name, index: map[string]int{}}
}

// AddJoint appends j as a child of the named parent joint ("" for the
// world).
func (b *Builder) AddJoint(j Joint, parent string) *Builder {
	if b.err != nil {
		return b
	}
	if _, dup := b.index[j.Name]; dup || j.Name == "" {
		b.err = fmt.Errorf("%w: duplicate or empty joint name %q", ErrInvalidModel, j.Name)
		return b
	}
	j.parent = -1
	if parent != "" {
		p, ok := b.index[parent]
		if !ok {
			b.err = fmt.Errorf("%w: parent of %q: %q", ErrJointNotFound, j.Name, parent)
			return b
		}
		j.parent = p
	}
	if err := normalizeJoint(&j); err != nil {
		b.err = err
		return b
	}
	b.index[j.Name] = len(b.joints)
	b.joints = append(b.joints, j)
	return b
}

// AddFrame attaches a named frame to a joint ("" for the world).
func (b *Builder) AddFrame(name, joint string, placement lie.Transform) *Builder {
	if b.err != nil {
		return b
	}
	idx := -1
	if joint != "" {
		i, ok := b.index[joint]
		if !ok {
			b.err = fmt.Errorf("%w: parent of frame %q: %q", ErrJointNotFound, name, joint)
			return b
		}
		idx = i
	}
	if placement == (lie.Transform{}) {
		placement = lie.IdentityTransform()
	}
	b.frames = append(b.frames, Frame{Name: name, Joint: idx, Placement: placement})
	return b
}

func normalizeJoint(j *Joint) error {
	if j.Placement == (lie.Transform{}) {
		j.Placement = lie.IdentityTransform()
	}
	switch j.Type {
	case Revolute, Prismatic:
		n := r3.Norm(j.Axis)
		if n < 1e-12 {
			return fmt.Errorf("%w: joint %q has a zero axis", ErrInvalidModel, j.Name)
		}
		j.Axis = r3.Scale(1/n, j.Axis)
		if j.Lower == 0 && j.Upper == 0 {
			j.Lower, j.Upper = math.Inf(-1), math.Inf(1)
		}
		if j.Lower > j.Upper {
			return fmt.Errorf("%w: joint %q has lower limit %v above upper limit %v", ErrInvalidModel, j.Name, j.Lower, j.Upper)
		}
	case Spherical, FreeFlyer:
		j.Lower, j.Upper = math.Inf(-1), math.Inf(1)
	default:
		return fmt.Errorf("%w: joint %q has unknown type %q", ErrInvalidModel, j.Name, j.Type)
	}
	if j.Type == FreeFlyer && j.parent != -1 {
		return fmt.Errorf("%w: free-flyer joint %q must be attached to the world", ErrInvalidModel, j.Name)
	}
	if j.Mass < 0 {
		return fmt.Errorf("%w: joint %q has negative mass", ErrInvalidModel, j.Name)
	}
	if j.VelocityLimit <= 0 {
		j.VelocityLimit = math.Inf(1)
	}
	return nil
}

// Build freezes the model. Every joint also gets a frame of the same name.
func (b *Builder) Build() (*Model, error) {
	if b.err != nil {
		return nil, b.err
	}
	m := &Model{
		name:       b.name,
		joints:     append([]Joint(nil), b.joints...),
		jointIndex: map[string]int{},
		frameIndex: map[string]int{},
	}

	blocks := make([]manifold.Block, 0, len(m.joints))
	for i := range m.joints {
		j := &m.joints[i]
		j.block = i
		if j.parent >= 0 {
			j.support = append(append([]int(nil), m.joints[j.parent].support...), i)
		} else {
			j.support = []int{i}
		}
		switch j.Type {
		case Spherical:
			blocks = append(blocks, manifold.Spherical{})
		case FreeFlyer:
			blocks = append(blocks, manifold.FreeFlyer{})
		default:
			blocks = append(blocks, manifold.NewEuclidean(1))
		}
		m.jointIndex[j.Name] = i
		m.frames = append(m.frames, Frame{Name: j.Name, Joint: i, Placement: lie.IdentityTransform()})
		m.totalMass += j.Mass
	}
	m.frames = append(m.frames, b.frames...)
	for i, f := range m.frames {
		if _, dup := m.frameIndex[f.Name]; dup || f.Name == "" {
			return nil, fmt.Errorf("%w: duplicate or empty frame name %q", ErrInvalidModel, f.Name)
		}
		m.frameIndex[f.Name] = i
	}

	m.space = manifold.NewSpace(blocks...)
	m.lower = make([]float64, m.space.NQ())
	m.upper = make([]float64, m.space.NQ())
	m.velocity = make([]float64, m.space.NV())
	for _, j := range m.joints {
		qi := m.space.QIndex(j.block)
		for k := 0; k < j.nq(); k++ {
			m.lower[qi+k], m.upper[qi+k] = j.Lower, j.Upper
		}
		vi := m.space.VIndex(j.block)
		for k := 0; k < m.space.Block(j.block).NV(); k++ {
			m.velocity[vi+k] = j.VelocityLimit
		}
	}
	return m, nil
}
