package kinematics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/mohammadijoo/diffik/lie"
)

// ---- YAML robot description ----

type originDoc struct {
	XYZ []float64 `yaml:"xyz"`
	RPY []float64 `yaml:"rpy"`
}

type limitDoc struct {
	Lower    float64 `yaml:"lower"`
	Upper    float64 `yaml:"upper"`
	Velocity float64 `yaml:"velocity"`
}

type jointDoc struct {
	Name   string    `yaml:"name"`
	Type   string    `yaml:"type"`
	Parent string    `yaml:"parent"`
	Origin originDoc `yaml:"origin"`
	Axis   []float64 `yaml:"axis"`
	Limit  limitDoc  `yaml:"limit"`
	Mass   float64   `yaml:"mass"`
	CoM    []float64 `yaml:"com"`
}

type frameDoc struct {
	Name   string    `yaml:"name"`
	Parent string    `yaml:"parent"`
	Origin originDoc `yaml:"origin"`
}

type robotDoc struct {
	Name   string     `yaml:"name"`
	Joints []jointDoc `yaml:"joints"`
	Frames []frameDoc `yaml:"frames"`
}

// ParseYAML builds a model from a YAML robot description. Joints must be
// listed parents first. Unknown keys are rejected.
func ParseYAML(r io.Reader) (*Model, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc robotDoc
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty robot description", ErrInvalidModel)
		}
		return nil, fmt.Errorf("decode robot description: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("%w: robot description has no name", ErrInvalidModel)
	}

	b := NewBuilder(doc.Name)
	for _, jd := range doc.Joints {
		placement, err := jd.Origin.transform()
		if err != nil {
			return nil, fmt.Errorf("joint %q: %w", jd.Name, err)
		}
		axis, err := vec3(jd.Axis, r3.Vec{Z: 1})
		if err != nil {
			return nil, fmt.Errorf("joint %q axis: %w", jd.Name, err)
		}
		com, err := vec3(jd.CoM, r3.Vec{})
		if err != nil {
			return nil, fmt.Errorf("joint %q com: %w", jd.Name, err)
		}
		b.AddJoint(Joint{
			Name:          jd.Name,
			Type:          JointType(jd.Type),
			Placement:     placement,
			Axis:          axis,
			Lower:         jd.Limit.Lower,
			Upper:         jd.Limit.Upper,
			VelocityLimit: jd.Limit.Velocity,
			Mass:          jd.Mass,
			CoM:           com,
		}, jd.Parent)
	}
	for _, fd := range doc.Frames {
		placement, err := fd.Origin.transform()
		if err != nil {
			return nil, fmt.Errorf("frame %q: %w", fd.Name, err)
		}
		b.AddFrame(fd.Name, fd.Parent, placement)
	}
	return b.Build()
}

// LoadYAML reads a robot description from disk.
func LoadYAML(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read robot description %s: %w", path, err)
	}
	m, err := ParseYAML(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (o originDoc) transform() (lie.Transform, error) {
	p, err := vec3(o.XYZ, r3.Vec{})
	if err != nil {
		return lie.Transform{}, fmt.Errorf("origin xyz: %w", err)
	}
	rpy, err := vec3(o.RPY, r3.Vec{})
	if err != nil {
		return lie.Transform{}, fmt.Errorf("origin rpy: %w", err)
	}
	return lie.Transform{R: lie.RPY(rpy.X, rpy.Y, rpy.Z), P: p}, nil
}

func vec3(v []float64, def r3.Vec) (r3.Vec, error) {
	switch len(v) {
	case 0:
		return def, nil
	case 3:
		return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
	default:
		return r3.Vec{}, fmt.Errorf("%w: want 3 components, got %d", ErrInvalidModel, len(v))
	}
}
