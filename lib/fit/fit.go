// Package fit fits the model curves of qubit spectroscopy and pulsed
// measurements by least squares.
//
// Parameters are optimised with Nelder-Mead in coordinates scaled by a
// per-parameter step, so that GHz frequencies and ns durations can be fitted
// together. Initial guesses are taken from the data.
package fit

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// ErrNoFit is returned when the data cannot be fitted.
var ErrNoFit = errors.New("fit: no fit")

// Model evaluates a curve at x.
type Model func(x float64, p []float64) float64

// Result holds fitted parameters and the mean squared residual.
type Result struct {
	Params []float64
	Loss   float64
}

// LeastSquares fits model to (xs, ys) starting at p0. scale gives the
// typical change of each parameter; zero entries default to |p0|, or 1.
func LeastSquares(model Model, xs, ys, p0, scale []float64) (Result, error) {
	if len(xs) != len(ys) {
		return Result{}, fmt.Errorf("%w: %d x values for %d y values", ErrNoFit, len(xs), len(ys))
	}
	if len(xs) < len(p0) {
		return Result{}, fmt.Errorf("%w: %d points for %d parameters", ErrNoFit, len(xs), len(p0))
	}
	s := make([]float64, len(p0))
	for k := range s {
		switch {
		case k < len(scale) && scale[k] != 0:
			s[k] = math.Abs(scale[k])
		case p0[k] != 0:
			s[k] = math.Abs(p0[k])
		default:
			s[k] = 1
		}
	}
	p := make([]float64, len(p0))
	toParams := func(u []float64) []float64 {
		for k := range u {
			p[k] = p0[k] + u[k]*s[k]
		}
		return p
	}
	loss := func(u []float64) float64 {
		pp := toParams(u)
		var sum float64
		for k, x := range xs {
			r := model(x, pp) - ys[k]
			sum += r * r
		}
		sum /= float64(len(xs))
		if math.IsNaN(sum) {
			return math.Inf(1)
		}
		return sum
	}

	u := make([]float64, len(p0))
	best := loss(u)
	// restarting from the best point shakes Nelder-Mead out of a collapsed
	// simplex
	for round := 0; round < 3; round++ {
		res, err := optimize.Minimize(
			optimize.Problem{Func: loss},
			u,
			&optimize.Settings{FuncEvaluations: 4000 * len(p0)},
			&optimize.NelderMead{SimplexSize: 0.5},
		)
		if res == nil {
			if err != nil {
				return Result{}, fmt.Errorf("%w: %v", ErrNoFit, err)
			}
			break
		}
		if res.F >= best {
			break
		}
		best = res.F
		copy(u, res.X)
	}
	if math.IsInf(best, 1) {
		return Result{}, ErrNoFit
	}
	return Result{Params: append([]float64(nil), toParams(u)...), Loss: best}, nil
}

// Lorentzian is a peak (amplitude > 0) or dip of full width w:
// p = [amplitude, offset, center, width].
func Lorentzian(f float64, p []float64) float64 {
	hw := 0.5 * p[3]
	return p[0]*hw*hw/((f-p[2])*(f-p[2])+hw*hw) + p[1]
}

// Lorentz holds the parameters of a Lorentzian.
type Lorentz struct {
	Amplitude, Offset, Center, Width float64
	Loss                             float64
}

// FitLorentzian fits a single peak or dip. The sign of the amplitude tells
// which one was found.
func FitLorentzian(fs, ys []float64) (Lorentz, error) {
	if len(fs) < 4 {
		return Lorentz{}, fmt.Errorf("%w: need 4 points", ErrNoFit)
	}
	med := median(ys)
	k := 0
	for i := range ys {
		if math.Abs(ys[i]-med) > math.Abs(ys[k]-med) {
			k = i
		}
	}
	amp := ys[k] - med
	width := halfWidth(fs, ys, k, med)
	span := math.Abs(fs[len(fs)-1] - fs[0])
	if width <= 0 {
		width = span / 10
	}
	p0 := []float64{amp, med, fs[k], width}
	scale := []float64{amp, floats.Max(ys) - floats.Min(ys), width, width}
	res, err := LeastSquares(Lorentzian, fs, ys, p0, scale)
	if err != nil {
		return Lorentz{}, err
	}
	p := res.Params
	return Lorentz{Amplitude: p[0], Offset: p[1], Center: p[2], Width: math.Abs(p[3]), Loss: res.Loss}, nil
}

// halfWidth estimates the full width at half depth around index k.
func halfWidth(fs, ys []float64, k int, base float64) float64 {
	half := (ys[k] - base) / 2
	lo, hi := k, k
	for lo > 0 && math.Abs(ys[lo]-base) > math.Abs(half) {
		lo--
	}
	for hi < len(ys)-1 && math.Abs(ys[hi]-base) > math.Abs(half) {
		hi++
	}
	return math.Abs(fs[hi] - fs[lo])
}

// TransmonSpectrum is the frequency of a flux-tunable transmon:
// p = [fmax, sweet spot, period].
func TransmonSpectrum(x float64, p []float64) float64 {
	return p[0] * math.Sqrt(math.Abs(math.Cos(math.Pi*(x-p[1])/p[2])))
}

// Transmon holds the parameters of a transmon spectrum.
type Transmon struct {
	Period    float64 // bias period
	SweetSpot float64 // bias of the upper sweet spot
	FMax      float64 // frequency at the upper sweet spot
	Loss      float64
}

// Frequency evaluates the spectrum at bias x.
func (t Transmon) Frequency(x float64) float64 {
	return TransmonSpectrum(x, []float64{t.FMax, t.SweetSpot, t.Period})
}

// FitTransmon fits the qubit frequencies ys found at biases xs. period0
// is the bias period found by single-tone spectroscopy, or 0 if unknown.
func FitTransmon(xs, ys []float64, period0 float64) (Transmon, error) {
	if len(xs) < 3 {
		return Transmon{}, fmt.Errorf("%w: need 3 points", ErrNoFit)
	}
	k := floats.MaxIdx(ys)
	if period0 == 0 {
		period0 = 2 * (floats.Max(xs) - floats.Min(xs))
	}
	p0 := []float64{ys[k], xs[k], period0}
	scale := []float64{floats.Max(ys) - floats.Min(ys), period0 / 10, period0 / 10}
	if scale[0] == 0 {
		scale[0] = ys[k] / 100
	}
	res, err := LeastSquares(TransmonSpectrum, xs, ys, p0, scale)
	if err != nil {
		return Transmon{}, err
	}
	p := res.Params
	return Transmon{FMax: p[0], SweetSpot: p[1], Period: math.Abs(p[2]), Loss: res.Loss}, nil
}

// Cosine is a periodic modulation: p = [amplitude, x0, period, offset].
// The maximum lies at x0.
func Cosine(x float64, p []float64) float64 {
	return p[0]*math.Cos(2*math.Pi*(x-p[1])/p[2]) + p[3]
}

// Periodic holds the parameters of a cosine.
type Periodic struct {
	Amplitude, X0, Period, Offset float64
	Loss                          float64
}

// FitCosine fits a cosine of positive amplitude to uniformly spaced data.
func FitCosine(xs, ys []float64) (Periodic, error) {
	if len(xs) < 5 {
		return Periodic{}, fmt.Errorf("%w: need 5 points", ErrNoFit)
	}
	dx := (xs[len(xs)-1] - xs[0]) / float64(len(xs)-1)
	freq := DominantFrequency(ys, dx)
	ptp := floats.Max(ys) - floats.Min(ys)
	if freq == 0 {
		freq = 1 / (xs[len(xs)-1] - xs[0])
	}
	period := 1 / freq
	x0 := xs[floats.MaxIdx(ys)]
	res, err := bestOf(periodFactors, func(f float64) (Result, error) {
		p0 := []float64{ptp / 2, x0, period * f, stat.Mean(ys, nil)}
		scale := []float64{ptp / 4, period / 10, period / 10, ptp / 4}
		return LeastSquares(Cosine, xs, ys, p0, scale)
	})
	if err != nil {
		return Periodic{}, err
	}
	p := res.Params
	out := Periodic{Amplitude: p[0], X0: p[1], Period: math.Abs(p[2]), Offset: p[3], Loss: res.Loss}
	if out.Amplitude < 0 {
		out.Amplitude = -out.Amplitude
		out.X0 += out.Period / 2
	}
	// fold x0 into the period closest to the middle of the data
	mid := (xs[0] + xs[len(xs)-1]) / 2
	out.X0 -= math.Round((out.X0-mid)/out.Period) * out.Period
	return out, nil
}

// DampedCosine is p = [amplitude, decay time, frequency, phase, offset].
func DampedCosine(t float64, p []float64) float64 {
	return p[0]*math.Exp(-t/p[1])*math.Cos(2*math.Pi*p[2]*t+p[3]) + p[4]
}

// Oscillation holds the parameters of a damped cosine.
type Oscillation struct {
	Amplitude, Decay, Frequency, Phase, Offset float64
	Loss                                       float64
}

// FitDampedCosine fits a decaying oscillation to uniformly spaced data.
func FitDampedCosine(ts, ys []float64) (Oscillation, error) {
	if len(ts) < 6 {
		return Oscillation{}, fmt.Errorf("%w: need 6 points", ErrNoFit)
	}
	duration := ts[len(ts)-1] - ts[0]
	dt := duration / float64(len(ts)-1)
	freq := DominantFrequency(ys, dt)
	if freq == 0 {
		freq = 1 / duration
	}
	mean := stat.Mean(ys, nil)
	ptp := floats.Max(ys) - floats.Min(ys)
	phase := 0.0
	if ys[0] < mean {
		phase = math.Pi
	}
	res, err := bestOf(periodFactors, func(f float64) (Result, error) {
		p0 := []float64{ptp / 2, duration, freq / f, phase, mean}
		scale := []float64{ptp / 4, duration / 2, freq / 10, 0.5, ptp / 4}
		return LeastSquares(DampedCosine, ts, ys, p0, scale)
	})
	if err != nil {
		return Oscillation{}, err
	}
	p := res.Params
	o := Oscillation{Amplitude: p[0], Decay: p[1], Frequency: math.Abs(p[2]), Phase: p[3], Offset: p[4], Loss: res.Loss}
	if p[2] < 0 {
		o.Phase = -o.Phase
	}
	if o.Amplitude < 0 {
		o.Amplitude = -o.Amplitude
		o.Phase += math.Pi
	}
	o.Phase = math.Remainder(o.Phase, 2*math.Pi)
	return o, nil
}

// Exponential is p = [amplitude, decay time, offset].
func Exponential(t float64, p []float64) float64 {
	return p[0]*math.Exp(-t/p[1]) + p[2]
}

// Decay holds the parameters of an exponential decay.
type Decay struct {
	Amplitude, Time, Offset float64
	Loss                    float64
}

// FitExponential fits an exponential decay.
func FitExponential(ts, ys []float64) (Decay, error) {
	if len(ts) < 4 {
		return Decay{}, fmt.Errorf("%w: need 4 points", ErrNoFit)
	}
	n := len(ys)
	tail := ys[n-n/5-1:]
	offset := stat.Mean(tail, nil)
	amp := ys[0] - offset
	duration := ts[n-1] - ts[0]
	p0 := []float64{amp, duration / 3, offset}
	scale := []float64{amp / 2, duration / 6, amp / 2}
	if amp == 0 {
		scale[0], scale[2] = 1, 1
	}
	res, err := LeastSquares(Exponential, ts, ys, p0, scale)
	if err != nil {
		return Decay{}, err
	}
	p := res.Params
	return Decay{Amplitude: p[0], Time: p[1], Offset: p[2], Loss: res.Loss}, nil
}

// periodFactors spread the starting period around the FFT estimate, whose
// resolution is one cycle per record.
var periodFactors = []float64{0.8, 0.9, 1, 1.1, 1.25}

// bestOf runs try for every factor and keeps the lowest loss.
func bestOf(factors []float64, try func(f float64) (Result, error)) (Result, error) {
	var best Result
	var lastErr error
	found := false
	for _, f := range factors {
		res, err := try(f)
		if err != nil {
			lastErr = err
			continue
		}
		if !found || res.Loss < best.Loss {
			best, found = res, true
		}
	}
	if !found {
		return Result{}, lastErr
	}
	return best, nil
}

// DominantFrequency returns the strongest non-zero frequency of uniformly
// sampled data, in cycles per unit of dx.
func DominantFrequency(ys []float64, dx float64) float64 {
	n := len(ys)
	if n < 4 || dx == 0 {
		return 0
	}
	seq := make([]float64, n)
	mean := stat.Mean(ys, nil)
	for k, y := range ys {
		seq[k] = y - mean
	}
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, seq)
	best, bestPow := 0, 0.0
	for k := 1; k < len(coeffs); k++ {
		if p := cmplx.Abs(coeffs[k]); p > bestPow {
			best, bestPow = k, p
		}
	}
	if best == 0 {
		return 0
	}
	return fft.Freq(best) / dx
}

// Project maps complex data on the real line along its principal axis, the
// direction of largest variance in the IQ plane. The sign is chosen so that
// the first point is not above the last.
func Project(data []complex128) []float64 {
	n := len(data)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []float64{cmplx.Abs(data[0])}
	}
	m := mat.NewDense(n, 2, nil)
	for k, d := range data {
		m.Set(k, 0, real(d))
		m.Set(k, 1, imag(d))
	}
	var pc stat.PC
	out := make([]float64, n)
	if !pc.PrincipalComponents(m, nil) {
		for k, d := range data {
			out[k] = cmplx.Abs(d)
		}
		return out
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	ax, ay := vecs.At(0, 0), vecs.At(1, 0)
	for k, d := range data {
		out[k] = real(d)*ax + imag(d)*ay
	}
	if out[0] > out[n-1] {
		floats.Scale(-1, out)
	}
	return out
}

// Magnitudes returns |d| for every point.
func Magnitudes(data []complex128) []float64 {
	out := make([]float64, len(data))
	for k, d := range data {
		out[k] = cmplx.Abs(d)
	}
	return out
}

func median(ys []float64) float64 {
	s := append([]float64(nil), ys...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
