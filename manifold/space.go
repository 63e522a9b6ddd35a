// Package manifold models robot configurations as points on a product of
// joint manifolds. A Space is an ordered list of typed joint blocks; each
// block knows how to integrate a tangent velocity and how to take the
// difference of two of its configurations. Configurations are immutable.
package manifold

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector does not match the
	// dimension of the space it is used with.
	ErrDimensionMismatch = errors.New("manifold: dimension mismatch")
	// ErrNotNormalized is returned for orientation blocks whose quaternion is
	// not unit-norm.
	ErrNotNormalized = errors.New("manifold: quaternion not normalized")
	// ErrSpaceMismatch is returned when combining configurations of different
	// spaces.
	ErrSpaceMismatch = errors.New("manifold: configurations belong to different spaces")
)

// Space is a product manifold of joint blocks.
type Space struct {
	blocks []Block
	qIdx   []int
	vIdx   []int
	nq, nv int
}

// NewSpace lays out blocks in order.
func NewSpace(blocks ...Block) *Space {
	s := &Space{blocks: append([]Block(nil), blocks...)}
	for _, b := range s.blocks {
		s.qIdx = append(s.qIdx, s.nq)
		s.vIdx = append(s.vIdx, s.nv)
		s.nq += b.NQ()
		s.nv += b.NV()
	}
	return s
}

// NQ is the dimension of the configuration vector.
func (s *Space) NQ() int { return s.nq }

// NV is the dimension of the tangent space (degrees of freedom).
func (s *Space) NV() int { return s.nv }

func (s *Space) NumBlocks() int   { return len(s.blocks) }
func (s *Space) Block(i int) Block { return s.blocks[i] }

// QIndex and VIndex return where block i starts in q and v.
func (s *Space) QIndex(i int) int { return s.qIdx[i] }
func (s *Space) VIndex(i int) int { return s.vIdx[i] }

// FloatingBaseNV returns the tangent dimension of a leading free-flyer block,
// or zero for fixed-base robots.
func (s *Space) FloatingBaseNV() int {
	if len(s.blocks) > 0 && s.blocks[0].Kind() == KindFreeFlyer {
		return s.blocks[0].NV()
	}
	return 0
}

// Neutral returns the neutral configuration.
func (s *Space) Neutral() Configuration {
	q := make([]float64, s.nq)
	for i, b := range s.blocks {
		b.Neutral(q[s.qIdx[i] : s.qIdx[i]+b.NQ()])
	}
	return Configuration{space: s, q: q}
}

// NewConfiguration validates q and returns a configuration holding a copy.
func (s *Space) NewConfiguration(q []float64) (Configuration, error) {
	if len(q) != s.nq {
		return Configuration{}, fmt.Errorf("%w: configuration has %d entries, want %d", ErrDimensionMismatch, len(q), s.nq)
	}
	for i, b := range s.blocks {
		if err := b.Check(q[s.qIdx[i] : s.qIdx[i]+b.NQ()]); err != nil {
			return Configuration{}, fmt.Errorf("block %d: %w", i, err)
		}
	}
	return Configuration{space: s, q: append([]float64(nil), q...)}, nil
}

// Integrate moves c along the tangent velocity v for a duration dt.
func (s *Space) Integrate(c Configuration, v []float64, dt float64) (Configuration, error) {
	if err := s.owns(c); err != nil {
		return Configuration{}, err
	}
	if len(v) != s.nv {
		return Configuration{}, fmt.Errorf("%w: velocity has %d entries, want %d", ErrDimensionMismatch, len(v), s.nv)
	}
	out := make([]float64, s.nq)
	for i, b := range s.blocks {
		qi, vi := s.qIdx[i], s.vIdx[i]
		b.Integrate(c.q[qi:qi+b.NQ()], v[vi:vi+b.NV()], dt, out[qi:qi+b.NQ()])
	}
	return Configuration{space: s, q: out}, nil
}

// Difference returns the tangent vector d such that Integrate(b, d, 1) = a.
func (s *Space) Difference(a, b Configuration) ([]float64, error) {
	if err := s.owns(a); err != nil {
		return nil, err
	}
	if err := s.owns(b); err != nil {
		return nil, err
	}
	out := make([]float64, s.nv)
	for i, blk := range s.blocks {
		qi, vi := s.qIdx[i], s.vIdx[i]
		blk.Difference(a.q[qi:qi+blk.NQ()], b.q[qi:qi+blk.NQ()], out[vi:vi+blk.NV()])
	}
	return out, nil
}

func (s *Space) owns(c Configuration) error {
	if c.space == nil {
		return fmt.Errorf("%w: empty configuration", ErrSpaceMismatch)
	}
	if c.space == s {
		return nil
	}
	if !s.sameLayout(c.space) {
		return ErrSpaceMismatch
	}
	return nil
}

func (s *Space) sameLayout(o *Space) bool {
	if len(s.blocks) != len(o.blocks) {
		return false
	}
	for i := range s.blocks {
		if s.blocks[i].Kind() != o.blocks[i].Kind() || s.blocks[i].NQ() != o.blocks[i].NQ() {
			return false
		}
	}
	return true
}

// Configuration is an immutable point of a Space.
type Configuration struct {
	space *Space
	q     []float64
}

// Space returns the space c belongs to.
func (c Configuration) Space() *Space { return c.space }

// Q returns a copy of the configuration vector.
func (c Configuration) Q() []float64 { return append([]float64(nil), c.q...) }

// At returns q[i].
func (c Configuration) At(i int) float64 { return c.q[i] }

// Len returns the length of the configuration vector.
func (c Configuration) Len() int { return len(c.q) }

// IsZero reports whether c is the zero value.
func (c Configuration) IsZero() bool { return c.space == nil }

// Integrate is shorthand for c.Space().Integrate(c, v, dt).
func (c Configuration) Integrate(v []float64, dt float64) (Configuration, error) {
	if c.space == nil {
		return Configuration{}, fmt.Errorf("%w: empty configuration", ErrSpaceMismatch)
	}
	return c.space.Integrate(c, v, dt)
}

// Block returns the configuration slice of block i (read-only by contract).
func (c Configuration) Block(i int) []float64 {
	b := c.space.blocks[i]
	qi := c.space.qIdx[i]
	return c.q[qi : qi+b.NQ()]
}
