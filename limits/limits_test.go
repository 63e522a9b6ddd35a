package limits

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mohammadijoo/diffik/kinematics"
	"github.com/mohammadijoo/diffik/manifold"
	"github.com/mohammadijoo/diffik/robots"
)

func planar(t *testing.T, q ...float64) (*kinematics.Model, manifold.Configuration) {
	t.Helper()
	m, err := robots.Load("planar3")
	require.NoError(t, err)
	if len(q) == 0 {
		return m, m.Neutral()
	}
	c, err := m.Space().NewConfiguration(q)
	require.NoError(t, err)
	return m, c
}

func TestVelocityLimitsDominateFarFromStops(t *testing.T) {
	m, c := planar(t)
	b, err := Compute(m, c, 0.1)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, -2, -2.5}, b.Lower)
	assert.Equal(t, []float64{2, 2, 2.5}, b.Upper)
	assert.Equal(t, 3, b.Active())
}

func TestPositionLimitsNearStop(t *testing.T) {
	m, c := planar(t, 2.55, -2.58, 0)
	b, err := Compute(m, c, 0.1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, b.Upper[0], 1e-12)
	assert.Equal(t, -2.0, b.Lower[0])
	assert.InDelta(t, -0.2, b.Lower[1], 1e-12)
	assert.Equal(t, 2.0, b.Upper[1])

	assert.True(t, b.Contains([]float64{0.5, -0.2, 0}, 1e-12))
	assert.False(t, b.Contains([]float64{0.6, 0, 0}, 1e-12))
	assert.False(t, b.Contains([]float64{0, 0}, 1e-12))
}

func TestEmptyFeasibleRegion(t *testing.T) {
	m, c := planar(t, 2.9, 0, 0)
	_, err := Compute(m, c, 0.1)
	require.ErrorIs(t, err, ErrEmptyFeasibleRegion)
	assert.Contains(t, err.Error(), "j1")

	// A longer step leaves enough velocity to get back inside.
	_, err = Compute(m, c, 1)
	assert.NoError(t, err)
}

func TestAccelerationLimits(t *testing.T) {
	m, c := planar(t)
	a := []float64{5, 5, math.Inf(1)}
	b, err := Compute(m, c, 0.1, WithAccelerationLimit(a), WithPreviousVelocity([]float64{1, -1.8, 0}))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, b.Lower[0], 1e-12)
	assert.InDelta(t, 1.5, b.Upper[0], 1e-12)
	assert.Equal(t, -2.0, b.Lower[1])
	assert.InDelta(t, -1.3, b.Upper[1], 1e-12)
	assert.Equal(t, -2.5, b.Lower[2])

	_, err = Compute(m, c, 0.1, WithAccelerationLimit(a), WithPreviousVelocity([]float64{3, 0, 0}))
	assert.ErrorIs(t, err, ErrEmptyFeasibleRegion)

	_, err = Compute(m, c, 0.1, WithAccelerationLimit([]float64{1}), WithPreviousVelocity([]float64{0}))
	assert.ErrorIs(t, err, manifold.ErrDimensionMismatch)

	// Without a previous velocity the acceleration limit is ignored.
	b, err = Compute(m, c, 0.1, WithAccelerationLimit(a))
	require.NoError(t, err)
	assert.Equal(t, 2.0, b.Upper[0])
}

func TestWithoutPositionLimits(t *testing.T) {
	m, c := planar(t, 2.55, 0, 0)
	b, err := Compute(m, c, 0.1, WithoutPositionLimits())
	require.NoError(t, err)
	assert.Equal(t, 2.0, b.Upper[0])
}

func TestInvalidTimeStep(t *testing.T) {
	m, c := planar(t)
	for _, dt := range []float64{0, -0.1, math.NaN(), math.Inf(1)} {
		_, err := Compute(m, c, dt)
		assert.ErrorIs(t, err, ErrInvalidTimeStep, "dt=%v", dt)
	}
}

func TestBoundedCoordinates(t *testing.T) {
	biped, err := robots.Load("biped")
	require.NoError(t, err)
	got := BoundedCoordinates(biped)
	assert.Equal(t, []Coordinate{{Q: 11, V: 9}, {Q: 12, V: 10}, {Q: 13, V: 11}, {Q: 14, V: 12}}, got)

	b, err := Compute(biped, biped.Neutral(), 0.01)
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		assert.True(t, math.IsInf(b.Upper[i], 1), "index %d", i)
	}
	assert.InDelta(t, -4.0, b.Lower[10], 1e-12)
}

func TestUnboundedModel(t *testing.T) {
	m, err := kinematics.NewBuilder("free").
		AddJoint(kinematics.Joint{Name: "slide", Type: kinematics.Prismatic, Axis: r3.Vec{X: 1}}, "").
		Build()
	require.NoError(t, err)
	assert.Empty(t, BoundedCoordinates(m))
	b, err := Compute(m, m.Neutral(), 1e-3)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Active())
	assert.NoError(t, CheckConfiguration(m, m.Neutral(), 0))
}

func TestCheckConfiguration(t *testing.T) {
	m, c := planar(t, 2.6, 0, -2.6)
	assert.NoError(t, CheckConfiguration(m, c, 0))

	m, c = planar(t, 0, 2.7, 0)
	err := CheckConfiguration(m, c, 1e-3)
	require.ErrorIs(t, err, ErrNotWithinConfigurationLimits)
	assert.Contains(t, err.Error(), "j2")
	assert.NoError(t, CheckConfiguration(m, c, 0.2))
}
