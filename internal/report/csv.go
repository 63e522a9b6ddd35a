// Package report writes simulation logs as CSV files and PNG plots.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WriteCSV saves equal-length columns to filename with a header row.
func WriteCSV(filename string, header []string, cols [][]float64) error {
	if len(cols) == 0 {
		return errors.New("CSV: no columns")
	}
	if len(header) != len(cols) {
		return fmt.Errorf("CSV: %d headers for %d columns", len(header), len(cols))
	}
	n := len(cols[0])
	for _, c := range cols {
		if len(c) != n {
			return errors.New("CSV: column size mismatch")
		}
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("CSV: cannot create directory: %w", err)
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("CSV: cannot open %s: %w", filename, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("CSV: cannot write header: %w", err)
	}
	row := make([]string, len(cols))
	for r := 0; r < n; r++ {
		for c := range cols {
			row[c] = fmt.Sprintf("%.15g", cols[c][r])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("CSV: cannot write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("CSV: %w", err)
	}
	return f.Close()
}

// Trace accumulates named columns sampled once per tick.
type Trace struct {
	names []string
	cols  [][]float64
}

func NewTrace(names ...string) *Trace {
	return &Trace{names: names, cols: make([][]float64, len(names))}
}

// Add appends one sample. It panics if the number of values does not match
// the number of columns.
func (t *Trace) Add(values ...float64) {
	if len(values) != len(t.cols) {
		panic(fmt.Sprintf("report: %d values for %d columns", len(values), len(t.cols)))
	}
	for i, v := range values {
		t.cols[i] = append(t.cols[i], v)
	}
}

func (t *Trace) Len() int {
	if len(t.cols) == 0 {
		return 0
	}
	return len(t.cols[0])
}

// Column returns the samples of the named column, or nil.
func (t *Trace) Column(name string) []float64 {
	for i, n := range t.names {
		if n == name {
			return t.cols[i]
		}
	}
	return nil
}

func (t *Trace) WriteCSV(filename string) error { return WriteCSV(filename, t.names, t.cols) }
