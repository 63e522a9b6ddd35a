package report

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestTraceWriteCSV(t *testing.T) {
	tr := NewTrace("t", "q0", "q1")
	tr.Add(0, 0.1, -0.2)
	tr.Add(0.05, 0.125, 1e-9)
	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, []float64{0.1, 0.125}, tr.Column("q0"))
	assert.Nil(t, tr.Column("q2"))

	path := filepath.Join(t.TempDir(), "sub", "log.csv")
	require.NoError(t, tr.WriteCSV(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"t", "q0", "q1"},
		{"0", "0.1", "-0.2"},
		{"0.05", "0.125", "1e-09"},
	}, rows)
}

func TestTraceAddPanicsOnWidth(t *testing.T) {
	tr := NewTrace("a", "b")
	assert.Panics(t, func() { tr.Add(1) })
}

func TestWriteCSVErrors(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, WriteCSV(filepath.Join(dir, "a.csv"), nil, nil))
	assert.Error(t, WriteCSV(filepath.Join(dir, "b.csv"), []string{"x"}, [][]float64{{1}, {2}}))
	assert.Error(t, WriteCSV(filepath.Join(dir, "c.csv"), []string{"x", "y"}, [][]float64{{1}, {2, 3}}))
}

func TestEvenTicks(t *testing.T) {
	ticks := evenTicks(5, "%.1f").Ticks(0, 2)
	require.Len(t, ticks, 5)
	assert.Equal(t, "0.0", ticks[0].Label)
	assert.Equal(t, "0.5", ticks[1].Label)
	assert.Equal(t, "2.0", ticks[4].Label)

	assert.Len(t, evenTicks(1, "%.1f").Ticks(0, 1), 2)
	assert.Len(t, evenTicks(10, "%.1f").Ticks(3, 3), 1)
	assert.Empty(t, evenTicks(4, "%.1f").Ticks(0, math.Inf(1)))
}

func TestNewPlotFigure(t *testing.T) {
	p := NewPlot(Figure{Title: "Errors", XLabel: "t", YLabel: "e", Ticks: 3, YFormat: "%.0e"})
	assert.Equal(t, "Errors", p.Title.Text)
	assert.Equal(t, "t", p.X.Label.Text)

	x := p.X.Tick.Marker.Ticks(0, 1)
	require.Len(t, x, 3)
	assert.Equal(t, "0.50", x[1].Label)
	y := p.Y.Tick.Marker.Ticks(0, 1000)
	require.Len(t, y, 3)
	assert.Equal(t, "5e+02", y[1].Label)

	assert.Len(t, NewPlot(Figure{}).Y.Tick.Marker.Ticks(0, 1), 10)
}

func readPNG(t *testing.T, path string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, pngMagic), "%s is not a PNG", path)
}

func TestSaveLinePlot(t *testing.T) {
	dir := t.TempDir()
	xs := []float64{0, 1, 2, 3}
	path := filepath.Join(dir, "plots", "joints.png")
	require.NoError(t, SaveLinePlot(path, Figure{Title: "Joints", XLabel: "time (s)", YLabel: "q (rad)"}, xs,
		Series{Name: "j1", Y: []float64{0, 0.1, 0.2, 0.3}},
		Series{Name: "j2", Y: []float64{0.3, 0.2, 0.1, 0}},
	))
	readPNG(t, path)

	assert.Error(t, SaveLinePlot(filepath.Join(dir, "x.png"), Figure{}, xs))
	assert.Error(t, SaveLinePlot(filepath.Join(dir, "y.png"), Figure{}, xs, Series{Y: []float64{1}}))
}

func TestSaveHeatMap(t *testing.T) {
	g := NewGrid(4, 3, -1, 1, 0, 2)
	assert.InDelta(t, -1.0/3, g.X(1), 1e-15)
	assert.Equal(t, 2.0, g.Y(2))
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			g.Set(c, r, float64(r*4+c))
		}
	}
	assert.Equal(t, 6.0, g.Z(2, 1))

	path := filepath.Join(t.TempDir(), "map.png")
	require.NoError(t, SaveHeatMap(path, Figure{Title: "Reach", XLabel: "x (m)", YLabel: "y (m)", Ticks: 5}, g))
	readPNG(t, path)

	assert.Error(t, SaveHeatMap(path, Figure{}, NewGrid(1, 3, 0, 1, 0, 1)))
}
