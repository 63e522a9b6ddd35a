package report

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Figure names a plot and sets how its axes are ticked.
type Figure struct {
	Title, XLabel, YLabel string

	// Ticks is the number of labels per axis; 0 means 10.
	Ticks int
	// XFormat and YFormat are fmt verbs for tick labels; empty means "%.2f".
	XFormat, YFormat string
}

func (f Figure) ticks() int {
	if f.Ticks == 0 {
		return 10
	}
	return f.Ticks
}

func orDefault(format string) string {
	if format == "" {
		return "%.2f"
	}
	return format
}

// evenTicks spaces n labels (at least two) evenly over the axis range.
func evenTicks(n int, format string) plot.Ticker {
	n = max(n, 2)
	return plot.TickerFunc(func(lo, hi float64) []plot.Tick {
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return nil
		}
		if lo == hi {
			return []plot.Tick{{Value: lo, Label: fmt.Sprintf(format, lo)}}
		}
		ticks := make([]plot.Tick, n)
		for i, v := range floats.Span(make([]float64, n), lo, hi) {
			ticks[i] = plot.Tick{Value: v, Label: fmt.Sprintf(format, v)}
		}
		return ticks
	})
}

// NewPlot returns a plot styled for 300 DPI output with the tick layout of f.
func NewPlot(f Figure) *plot.Plot {
	p := plot.New()
	p.Title.Text = f.Title
	p.Title.TextStyle.Font.Size = vg.Points(22)
	p.Title.Padding = vg.Points(12)

	for _, ax := range []struct {
		axis   *plot.Axis
		label  string
		format string
	}{
		{&p.X, f.XLabel, orDefault(f.XFormat)},
		{&p.Y, f.YLabel, orDefault(f.YFormat)},
	} {
		a := ax.axis
		a.Label.Text = ax.label
		a.Label.TextStyle.Font.Size = vg.Points(18)
		a.Label.Padding = vg.Points(10)
		a.LineStyle.Width = vg.Points(2.2)
		a.Padding = vg.Points(20)
		a.Tick.LineStyle.Width = vg.Points(2)
		a.Tick.Length = vg.Points(8)
		a.Tick.Label.Font.Size = vg.Points(14)
		a.Tick.Marker = evenTicks(f.ticks(), ax.format)
	}
	return p
}

// SavePNG renders p to a 300 DPI PNG of widthIn × heightIn inches.
func SavePNG(p *plot.Plot, widthIn, heightIn float64, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(300),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return f.Close()
}

// Series is one named line of a multi-line plot.
type Series struct {
	Name string
	Y    []float64
}

// SaveLinePlot plots every series against xs, one color each, with a legend
// when there is more than one series.
func SaveLinePlot(filename string, f Figure, xs []float64, series ...Series) error {
	if len(xs) == 0 || len(series) == 0 {
		return errors.New("plot data invalid")
	}
	p := NewPlot(f)
	for i, s := range series {
		if len(s.Y) != len(xs) {
			return fmt.Errorf("plot data invalid: series %q has %d points for %d x values", s.Name, len(s.Y), len(xs))
		}
		pts := make(plotter.XYs, len(xs))
		for k := range xs {
			pts[k].X = xs[k]
			pts[k].Y = s.Y[k]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.LineStyle.Width = vg.Points(3.0)
		line.LineStyle.Color = plotutil.Color(i)
		p.Add(line)
		if len(series) > 1 {
			p.Legend.Add(s.Name, line)
		}
	}
	p.Legend.Top = true
	return SavePNG(p, 8.0, 6.0, filename)
}

// Grid is a scalar field sampled on a regular nx × ny grid, stored row-major
// with x varying fastest.
type Grid struct {
	NX, NY int
	X0, DX float64
	Y0, DY float64
	Data   []float64
}

func NewGrid(nx, ny int, x0, x1, y0, y1 float64) *Grid {
	g := &Grid{NX: nx, NY: ny, X0: x0, Y0: y0, Data: make([]float64, nx*ny)}
	if nx > 1 {
		g.DX = (x1 - x0) / float64(nx-1)
	}
	if ny > 1 {
		g.DY = (y1 - y0) / float64(ny-1)
	}
	return g
}

func (g *Grid) Set(c, r int, v float64) { g.Data[r*g.NX+c] = v }

func (g *Grid) Dims() (c, r int)   { return g.NX, g.NY }
func (g *Grid) Z(c, r int) float64 { return g.Data[r*g.NX+c] }
func (g *Grid) X(c int) float64    { return g.X0 + float64(c)*g.DX }
func (g *Grid) Y(r int) float64    { return g.Y0 + float64(r)*g.DY }

// SaveHeatMap renders g with the Kindlmann palette.
func SaveHeatMap(filename string, f Figure, g *Grid) error {
	if g.NX < 2 || g.NY < 2 || len(g.Data) != g.NX*g.NY {
		return errors.New("heat map grid invalid")
	}
	p := NewPlot(f)
	p.Add(plotter.NewHeatMap(g, moreland.Kindlmann().Palette(255)))
	return SavePNG(p, 8.0, 6.5, filename)
}
