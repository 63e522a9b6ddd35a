package manifold

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func humanoidLikeSpace() *Space {
	return NewSpace(FreeFlyer{}, NewEuclidean(1), Spherical{}, NewEuclidean(2))
}

func randomVector(rng *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 2*rng.Float64() - 1
	}
	return v
}

func TestSpaceLayout(t *testing.T) {
	s := humanoidLikeSpace()
	assert.Equal(t, 7+1+4+2, s.NQ())
	assert.Equal(t, 6+1+3+2, s.NV())
	assert.Equal(t, 6, s.FloatingBaseNV())
	assert.Equal(t, 8, s.QIndex(2))
	assert.Equal(t, 7, s.VIndex(2))

	fixed := NewSpace(NewEuclidean(1), NewEuclidean(1))
	assert.Equal(t, 0, fixed.FloatingBaseNV())
}

func TestNeutralIsValid(t *testing.T) {
	s := humanoidLikeSpace()
	c := s.Neutral()
	_, err := s.NewConfiguration(c.Q())
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.At(6))
	assert.Equal(t, 1.0, c.At(11))
}

func TestIntegrateDifferenceRoundTrip(t *testing.T) {
	s := humanoidLikeSpace()
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		c, err := s.Integrate(s.Neutral(), randomVector(rng, s.NV()), 1)
		require.NoError(t, err)

		v := randomVector(rng, s.NV())
		for _, dt := range []float64{1, 0.5, 1e-3} {
			moved, err := s.Integrate(c, v, dt)
			require.NoError(t, err)
			d, err := s.Difference(moved, c)
			require.NoError(t, err)
			for i := range v {
				assert.InDelta(t, v[i]*dt, d[i], 1e-9, "trial %d dt %v index %d", trial, dt, i)
			}
		}
	}
}

func TestDifferenceThenIntegrate(t *testing.T) {
	s := humanoidLikeSpace()
	rng := rand.New(rand.NewSource(11))
	a, err := s.Integrate(s.Neutral(), randomVector(rng, s.NV()), 1)
	require.NoError(t, err)
	b, err := s.Integrate(s.Neutral(), randomVector(rng, s.NV()), 1)
	require.NoError(t, err)

	d, err := s.Difference(a, b)
	require.NoError(t, err)
	back, err := s.Integrate(b, d, 1)
	require.NoError(t, err)

	d2, err := s.Difference(back, a)
	require.NoError(t, err)
	for i := range d2 {
		assert.InDelta(t, 0, d2[i], 1e-9)
	}
}

func TestIntegrateKeepsQuaternionsNormalized(t *testing.T) {
	s := humanoidLikeSpace()
	rng := rand.New(rand.NewSource(3))
	c := s.Neutral()
	var err error
	for i := 0; i < 1000; i++ {
		c, err = c.Integrate(randomVector(rng, s.NV()), 0.01)
		require.NoError(t, err)
	}
	_, err = s.NewConfiguration(c.Q())
	assert.NoError(t, err)
}

func TestDimensionErrors(t *testing.T) {
	s := humanoidLikeSpace()
	_, err := s.NewConfiguration(make([]float64, 3))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.Integrate(s.Neutral(), make([]float64, s.NV()+1), 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	other := NewSpace(NewEuclidean(3))
	_, err = s.Difference(s.Neutral(), other.Neutral())
	assert.ErrorIs(t, err, ErrSpaceMismatch)

	_, err = Configuration{}.Integrate(nil, 1)
	assert.ErrorIs(t, err, ErrSpaceMismatch)
}

func TestNotNormalizedQuaternion(t *testing.T) {
	s := NewSpace(Spherical{})
	_, err := s.NewConfiguration([]float64{0, 0, 0, 2})
	assert.ErrorIs(t, err, ErrNotNormalized)
}

func TestConfigurationIsImmutable(t *testing.T) {
	s := NewSpace(NewEuclidean(2))
	q := []float64{1, 2}
	c, err := s.NewConfiguration(q)
	require.NoError(t, err)
	q[0] = 42
	assert.Equal(t, 1.0, c.At(0))

	out := c.Q()
	out[1] = 42
	assert.Equal(t, 2.0, c.At(1))
}
