// Package result persists measurement results.
//
// A result is saved as a directory <root>/<sample>/<YYYY-MM-DD>/<name>/
// holding four files: <name>.json carries the whole result, <name>.yaml the
// context, <name>.csv the data table and <name>.txt a human readable
// summary.
package result

import (
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var (
	ErrShape    = errors.New("result: data does not match its axes")
	ErrNotFound = errors.New("result: not found")
)

// Axis is a swept parameter.
type Axis struct {
	Name   string    `json:"name" yaml:"name"`
	Unit   string    `json:"unit,omitempty" yaml:"unit,omitempty"`
	Values []float64 `json:"values" yaml:"values"`
}

// Data holds complex values over the cartesian product of the axes, the
// last axis varying fastest.
type Data struct {
	Axes []Axis    `json:"axes"`
	Real []float64 `json:"real"`
	Imag []float64 `json:"imag"`
}

// Points is the product of the axis lengths.
func (d Data) Points() int {
	if len(d.Axes) == 0 {
		return len(d.Real)
	}
	n := 1
	for _, a := range d.Axes {
		n *= len(a.Values)
	}
	return n
}

// Complex returns the values.
func (d Data) Complex() []complex128 {
	out := make([]complex128, len(d.Real))
	for k := range out {
		out[k] = complex(d.Real[k], d.Imag[k])
	}
	return out
}

// Context is what was needed to take the data.
type Context struct {
	Equipment map[string]map[string]any `json:"equipment,omitempty" yaml:"equipment,omitempty"`
	Comments  []string                  `json:"comments,omitempty" yaml:"comments,omitempty"`
}

// Result is one measurement.
type Result struct {
	ID       uuid.UUID          `json:"id"`
	Name     string             `json:"name"`
	Sample   string             `json:"sample"`
	Datetime time.Time          `json:"datetime"`
	Context  Context            `json:"context"`
	Data     Data               `json:"data"`
	Fit      map[string]float64 `json:"fit,omitempty"`
}

// New returns an empty result stamped with a fresh id and the current time.
func New(name, sample string) *Result {
	return &Result{
		ID:       uuid.New(),
		Name:     name,
		Sample:   sample,
		Datetime: time.Now(),
	}
}

// SetData replaces the data. len(values) must equal the product of the
// axis lengths.
func (r *Result) SetData(values []complex128, axes ...Axis) error {
	d := Data{Axes: axes, Real: make([]float64, len(values)), Imag: make([]float64, len(values))}
	if len(axes) > 0 && d.Points() != len(values) {
		return errors.Wrapf(ErrShape, "%d values for %d points", len(values), d.Points())
	}
	for k, v := range values {
		d.Real[k], d.Imag[k] = real(v), imag(v)
	}
	r.Data = d
	return nil
}

// SetEquipment records the settings of one instrument.
func (r *Result) SetEquipment(name string, settings map[string]any) {
	if r.Context.Equipment == nil {
		r.Context.Equipment = map[string]map[string]any{}
	}
	r.Context.Equipment[name] = settings
}

// Comment appends a free form note.
func (r *Result) Comment(format string, a ...any) {
	r.Context.Comments = append(r.Context.Comments, fmt.Sprintf(format, a...))
}

// SetFit records a fitted parameter.
func (r *Result) SetFit(name string, v float64) {
	if r.Fit == nil {
		r.Fit = map[string]float64{}
	}
	r.Fit[name] = v
}

func (r *Result) validate() error {
	d := r.Data
	if len(d.Real) != len(d.Imag) {
		return errors.Wrapf(ErrShape, "%d real and %d imaginary parts", len(d.Real), len(d.Imag))
	}
	if len(d.Axes) > 0 && d.Points() != len(d.Real) {
		return errors.Wrapf(ErrShape, "%d values for %d points", len(d.Real), d.Points())
	}
	return nil
}

// header returns the csv column names.
func (d Data) header() []string {
	var h []string
	for _, a := range d.Axes {
		col := a.Name
		if a.Unit != "" {
			col += " [" + a.Unit + "]"
		}
		h = append(h, col)
	}
	if len(d.Axes) == 0 {
		h = append(h, "index")
	}
	return append(h, "real", "imag", "abs", "phase")
}

// rows returns the table, one row per point.
func (d Data) rows() [][]float64 {
	out := make([][]float64, len(d.Real))
	for k := range out {
		var row []float64
		if len(d.Axes) == 0 {
			row = append(row, float64(k))
		} else {
			row = make([]float64, len(d.Axes))
			rem := k
			for a := len(d.Axes) - 1; a >= 0; a-- {
				n := len(d.Axes[a].Values)
				row[a] = d.Axes[a].Values[rem%n]
				rem /= n
			}
		}
		v := complex(d.Real[k], d.Imag[k])
		out[k] = append(row, real(v), imag(v), cmplx.Abs(v), cmplx.Phase(v))
	}
	return out
}

// WriteSummary writes the text summary of r.
func (r *Result) WriteSummary(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", r.Name, r.Sample)
	fmt.Fprintf(&b, "id:       %s\n", r.ID)
	fmt.Fprintf(&b, "datetime: %s\n", r.Datetime.Format(time.RFC3339))
	for _, a := range r.Data.Axes {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range a.Values {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		fmt.Fprintf(&b, "axis %s: %d points from %g to %g %s\n", a.Name, len(a.Values), lo, hi, a.Unit)
	}
	if len(r.Fit) > 0 {
		b.WriteString("fit:\n")
		keys := make([]string, 0, len(r.Fit))
		for k := range r.Fit {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s = %g\n", k, r.Fit[k])
		}
	}
	for _, c := range r.Context.Comments {
		fmt.Fprintf(&b, "# %s\n", c)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
