package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/mohammadijoo/diffik/internal/logging"
	"github.com/mohammadijoo/diffik/robots"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func smallMap(dir string) mapOptions {
	return mapOptions{
		robot:      "planar3",
		frame:      "ee",
		start:      []float64{0.3, 0.6, 0.6},
		backend:    "goldfarb-idnani",
		n:          5,
		extent:     0.8,
		iterations: 100,
		dt:         0.05,
		tol:        1e-4,
		workers:    3,
		outDir:     dir,
		logLevel:   "error",
	}
}

func TestSweep(t *testing.T) {
	o := smallMap(t.TempDir())
	g, stats, err := sweep(context.Background(), o, zap.NewNop())
	require.NoError(t, err)

	// Grid coordinates are -0.8, -0.4, 0, 0.4, 0.8.
	assert.LessOrEqual(t, g.Z(3, 3), o.tol, "(0.4, 0.4) is inside the workspace")
	assert.Less(t, stats.iterations[3*5+3], o.iterations)
	for _, corner := range [][2]int{{0, 0}, {4, 0}, {0, 4}, {4, 4}} {
		// 1.13 m away, arm length 0.9 m.
		assert.Greater(t, g.Z(corner[0], corner[1]), 0.2, "corner %v", corner)
		assert.Equal(t, o.iterations, stats.iterations[corner[1]*5+corner[0]])
	}
	assert.GreaterOrEqual(t, stats.reached(o.tol), 1)
	assert.LessOrEqual(t, stats.reached(o.tol), 21)
}

func TestSweepErrors(t *testing.T) {
	o := smallMap(t.TempDir())
	o.n = 1
	_, _, err := sweep(context.Background(), o, zap.NewNop())
	assert.Error(t, err)

	o = smallMap(t.TempDir())
	o.robot = "hexapod"
	_, _, err = sweep(context.Background(), o, zap.NewNop())
	assert.ErrorIs(t, err, robots.ErrUnknownRobot)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = sweep(ctx, smallMap(t.TempDir()), zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWritesMap(t *testing.T) {
	t.Setenv(logging.EnvLogLevel, "off")
	dir := t.TempDir()
	require.NoError(t, run(context.Background(), smallMap(dir)))
	for _, name := range []string{"planar3_ee.csv", "planar3_ee.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}
}
