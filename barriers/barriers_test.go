package barriers

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammadijoo/diffik/kinematics"
	"github.com/mohammadijoo/diffik/robots"
	"github.com/mohammadijoo/diffik/tasks"
)

func load(t *testing.T, name string) *kinematics.Model {
	t.Helper()
	m, err := robots.Load(name)
	require.NoError(t, err)
	return m
}

func at(t *testing.T, m *kinematics.Model, q ...float64) *kinematics.Data {
	t.Helper()
	c, err := m.Space().NewConfiguration(q)
	require.NoError(t, err)
	d, err := m.Compute(c)
	require.NoError(t, err)
	return d
}

func TestConfigurationBarrier(t *testing.T) {
	m := load(t, "planar3")
	b, err := NewConfigurationBarrier(m)
	require.NoError(t, err)
	assert.Equal(t, 6, b.Dim())
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, b.Gain())

	d := at(t, m, 0.5, -1, 2)
	h, err := b.ComputeBarrier(d)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3.1, 1.6, 4.6, 2.1, 3.6, 0.6}, h.RawVector().Data, 1e-12)

	G, hh, err := Inequality(b, d)
	require.NoError(t, err)
	assert.Equal(t, -1.0, G.At(0, 0))
	assert.Equal(t, 1.0, G.At(3, 0))
	assert.Equal(t, 0.0, G.At(3, 1))
	assert.InDelta(t, 0.5*0.6/1.6, hh.AtVec(5), 1e-12)

	reg, err := Regularization(b, d)
	require.NoError(t, err)
	assert.InDelta(t, 3.0/6, reg, 1e-12)
}

func TestConfigurationBarrierBlocksMotionPastLimit(t *testing.T) {
	m := load(t, "planar3")
	b, err := NewConfigurationBarrier(m, WithGain(1))
	require.NoError(t, err)
	// j1 sits on its upper limit: the row -(-1)·v <= 0 forbids moving up.
	G, h, err := Inequality(b, at(t, m, 2.6, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1.0, G.At(3, 0))
	assert.InDelta(t, 0, h.AtVec(3), 1e-12)
}

func TestConfigurationBarrierNeedsBoundedJoints(t *testing.T) {
	m, err := kinematics.NewBuilder("free").
		AddJoint(kinematics.Joint{Name: "base", Type: kinematics.FreeFlyer}, "").
		Build()
	require.NoError(t, err)
	_, err = NewConfigurationBarrier(m)
	assert.ErrorIs(t, err, tasks.ErrInvalidParameter)
}

func TestPositionBarrierJacobian(t *testing.T) {
	m := load(t, "arm6")
	b, err := NewPositionBarrier(m, "ee", PositionLimits{Axes: []int{0, 2}, Min: []float64{-1, 0.1}, Max: []float64{1, 1.2}})
	require.NoError(t, err)
	assert.Equal(t, 4, b.Dim())

	rng := rand.New(rand.NewSource(4))
	v := make([]float64, m.NV())
	for i := range v {
		v[i] = rng.Float64() - 0.5
	}
	c, err := m.Neutral().Integrate(v, 1)
	require.NoError(t, err)
	d, err := m.Compute(c)
	require.NoError(t, err)

	h0, err := b.ComputeBarrier(d)
	require.NoError(t, err)
	J, err := b.ComputeJacobian(d)
	require.NoError(t, err)

	const step = 1e-7
	for k := 0; k < m.NV(); k++ {
		e := make([]float64, m.NV())
		e[k] = step
		moved, err := c.Integrate(e, 1)
		require.NoError(t, err)
		dm, err := m.Compute(moved)
		require.NoError(t, err)
		h1, err := b.ComputeBarrier(dm)
		require.NoError(t, err)
		for i := 0; i < b.Dim(); i++ {
			assert.InDelta(t, (h1.AtVec(i)-h0.AtVec(i))/step, J.At(i, k), 1e-5, "row %d col %d", i, k)
		}
	}

	reg, err := Regularization(b, d)
	require.NoError(t, err)
	assert.Zero(t, reg)
}

func TestPositionBarrierValues(t *testing.T) {
	m := load(t, "planar3")
	b, err := NewPositionBarrier(m, "ee", PositionLimits{Max: []float64{0.8, 0.5, 1}})
	require.NoError(t, err)
	h, err := b.ComputeBarrier(at(t, m, 0, 0, 0))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-0.1, 0.5, 1}, h.RawVector().Data, 1e-12)
}

func TestPositionBarrierErrors(t *testing.T) {
	m := load(t, "planar3")
	_, err := NewPositionBarrier(m, "ee", PositionLimits{})
	assert.ErrorIs(t, err, ErrNoPositionLimit)
	_, err = NewPositionBarrier(m, "nose", PositionLimits{Min: []float64{0, 0, 0}})
	assert.ErrorIs(t, err, kinematics.ErrFrameNotFound)
	_, err = NewPositionBarrier(m, "ee", PositionLimits{Axes: []int{3}, Min: []float64{0}})
	assert.ErrorIs(t, err, tasks.ErrInvalidParameter)
	_, err = NewPositionBarrier(m, "ee", PositionLimits{Axes: []int{0}, Min: []float64{0, 1}})
	assert.ErrorIs(t, err, tasks.ErrInvalidParameter)
	_, err = NewPositionBarrier(m, "ee", PositionLimits{Min: []float64{0, 0, 0}}, WithGain(-1))
	assert.ErrorIs(t, err, tasks.ErrInvalidParameter)
}

func TestClassK(t *testing.T) {
	assert.Equal(t, 0.5, Saturating(1))
	assert.Equal(t, -0.5, Saturating(-1))
	assert.Equal(t, 2.0, Identity(2))
}
