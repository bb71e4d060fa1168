// Package spectro finds resonators and qubit lines with continuous wave
// spectroscopy: a wide resonator scan, single-tone spectroscopy versus
// bias, two-tone spectroscopy and the sweet spot line search.
package spectro

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/go-faster/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/gotmc/fulaut/lib/fit"
)

var ErrNoResonance = errors.New("spectro: no resonance found")

// ResonatorType tells whether a resonance is a dip or a peak of |S21|.
type ResonatorType string

const (
	Notch        ResonatorType = "notch"
	Transmission ResonatorType = "transmission"
)

func (t ResonatorType) sign() float64 {
	if t == Transmission {
		return 1
	}
	return -1
}

// Resonance is a detected resonator.
type Resonance struct {
	Frequency float64
	Amplitude float64 // |S21| at the resonance
	Phase     float64 // rad
	Width     float64 // Hz, 0 for a fast detection
}

// Detector finds one resonance in a trace. A fast detector takes the
// extremum of |S21| instead of fitting a Lorentzian.
type Detector struct {
	Type ResonatorType
	Fast bool
}

// Detect returns the resonance in sdata measured at freqs.
func (d Detector) Detect(freqs []float64, sdata []complex128) (Resonance, error) {
	if len(freqs) != len(sdata) || len(freqs) < 5 {
		return Resonance{}, errors.Wrapf(ErrNoResonance, "%d frequencies for %d points", len(freqs), len(sdata))
	}
	amps := fit.Magnitudes(sdata)
	var f, width float64
	if d.Fast {
		k := extremum(smooth(amps), d.Type.sign())
		f = freqs[k]
	} else {
		l, err := fit.FitLorentzian(freqs, amps)
		if err != nil {
			return Resonance{}, errors.Wrap(ErrNoResonance, err.Error())
		}
		lo, hi := freqs[0], freqs[len(freqs)-1]
		switch {
		case l.Amplitude*d.Type.sign() <= 0:
			return Resonance{}, errors.Wrapf(ErrNoResonance, "fit found a %s", opposite(d.Type))
		case l.Center < lo || l.Center > hi:
			return Resonance{}, errors.Wrapf(ErrNoResonance, "fitted center %g outside [%g, %g]", l.Center, lo, hi)
		case l.Width > hi-lo:
			return Resonance{}, errors.Wrapf(ErrNoResonance, "fitted width %g wider than the scan", l.Width)
		}
		f, width = l.Center, l.Width
	}
	k := nearest(freqs, f)
	return Resonance{
		Frequency: f,
		Amplitude: cmplx.Abs(sdata[k]),
		Phase:     cmplx.Phase(sdata[k]),
		Width:     width,
	}, nil
}

// DetectResonance fits the resonance and falls back to the fast detector
// when the fit fails.
func DetectResonance(freqs []float64, sdata []complex128, typ ResonatorType) (Resonance, error) {
	r, err := Detector{Type: typ}.Detect(freqs, sdata)
	if err == nil {
		return r, nil
	}
	return Detector{Type: typ, Fast: true}.Detect(freqs, sdata)
}

func opposite(t ResonatorType) string {
	if t == Transmission {
		return "dip"
	}
	return "peak"
}

// FindResonances returns up to n resonances of |S21| at least minSep
// apart, sorted by frequency. Only local extrema standing out of the
// noise by more than 5 sigma count.
func FindResonances(freqs, amps []float64, n int, minSep float64, typ ResonatorType) []float64 {
	amps = smooth(amps)
	base := median(amps)
	dev := make([]float64, len(amps))
	for k, a := range amps {
		dev[k] = math.Abs(a - base)
	}
	sigma := 1.4826 * median(dev)
	threshold := math.Max(5*sigma, 1e-12)

	depth := make([]float64, len(amps))
	for k, a := range amps {
		depth[k] = typ.sign() * (a - base)
	}
	var candidates []int
	for k := 1; k < len(amps)-1; k++ {
		if depth[k] >= depth[k-1] && depth[k] >= depth[k+1] && depth[k] > threshold {
			candidates = append(candidates, k)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return depth[candidates[i]] > depth[candidates[j]] })

	var found []float64
	for _, k := range candidates {
		if len(found) == n {
			break
		}
		ok := true
		for _, f := range found {
			if math.Abs(f-freqs[k]) < minSep {
				ok = false
				break
			}
		}
		if ok {
			found = append(found, freqs[k])
		}
	}
	sort.Float64s(found)
	return found
}

// Peak is a line found in a two-tone trace.
type Peak struct {
	Frequency float64
	Contrast  float64 // peak height over the noise
	Fitted    bool
}

// FindPeak locates the qubit line in a two-tone trace. The complex data is
// projected on its principal axis and oriented so that the line is a peak.
func FindPeak(freqs []float64, sdata []complex128) Peak {
	ys := fit.Project(sdata)
	base := median(ys)
	k := 0
	for i := range ys {
		if math.Abs(ys[i]-base) > math.Abs(ys[k]-base) {
			k = i
		}
	}
	if ys[k] < base {
		floats.Scale(-1, ys)
		base = -base
	}
	dev := make([]float64, len(ys))
	for i, y := range ys {
		dev[i] = math.Abs(y - base)
	}
	sigma := 1.4826 * median(dev)
	p := Peak{Frequency: freqs[k], Contrast: math.Inf(1)}
	if sigma > 0 {
		p.Contrast = (ys[k] - base) / sigma
	}
	l, err := fit.FitLorentzian(freqs, ys)
	if err == nil && l.Amplitude > 0 && l.Center >= freqs[0] && l.Center <= freqs[len(freqs)-1] {
		p.Frequency, p.Fitted = l.Center, true
	}
	return p
}

func smooth(ys []float64) []float64 {
	if len(ys) < 3 {
		return ys
	}
	out := make([]float64, len(ys))
	out[0], out[len(ys)-1] = ys[0], ys[len(ys)-1]
	for k := 1; k < len(ys)-1; k++ {
		out[k] = (ys[k-1] + ys[k] + ys[k+1]) / 3
	}
	return out
}

func extremum(ys []float64, sign float64) int {
	if sign > 0 {
		return floats.MaxIdx(ys)
	}
	return floats.MinIdx(ys)
}

func nearest(xs []float64, x float64) int {
	k := 0
	for i := range xs {
		if math.Abs(xs[i]-x) < math.Abs(xs[k]-x) {
			k = i
		}
	}
	return k
}

func median(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	s := append([]float64(nil), ys...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func linspace(a, b float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = a
		return out
	}
	floats.Span(out, a, b)
	return out
}
