package fit

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linspace(a, b float64, n int) []float64 {
	out := make([]float64, n)
	for k := range out {
		out[k] = a + (b-a)*float64(k)/float64(n-1)
	}
	return out
}

func sample(xs []float64, m Model, p []float64) []float64 {
	ys := make([]float64, len(xs))
	for k, x := range xs {
		ys[k] = m(x, p)
	}
	return ys
}

func TestFitLorentzianDip(t *testing.T) {
	fs := linspace(7.0e9, 7.02e9, 201)
	ys := sample(fs, Lorentzian, []float64{-0.8, 1, 7.0123e9, 1.5e6})
	l, err := FitLorentzian(fs, ys)
	require.NoError(t, err)
	assert.InDelta(t, 7.0123e9, l.Center, 2e4)
	assert.InDelta(t, 1.5e6, l.Width, 1e5)
	assert.InDelta(t, -0.8, l.Amplitude, 0.02)
	assert.Less(t, l.Loss, 1e-4)
}

func TestFitLorentzianPeak(t *testing.T) {
	fs := linspace(5.0e9, 5.5e9, 301)
	ys := sample(fs, Lorentzian, []float64{0.3, 0.1, 5.31e9, 10e6})
	l, err := FitLorentzian(fs, ys)
	require.NoError(t, err)
	assert.InDelta(t, 5.31e9, l.Center, 1e6)
	assert.Greater(t, l.Amplitude, 0.0)
}

func TestFitTransmon(t *testing.T) {
	want := Transmon{FMax: 5.4e9, SweetSpot: 0.2e-3, Period: 4e-3}
	xs := linspace(-1e-3, 1.4e-3, 31)
	ys := make([]float64, len(xs))
	for k, x := range xs {
		ys[k] = want.Frequency(x)
	}
	got, err := FitTransmon(xs, ys, 3.6e-3)
	require.NoError(t, err)
	assert.InDelta(t, want.FMax, got.FMax, 5e6)
	assert.InDelta(t, want.SweetSpot, got.SweetSpot, 2e-5)
	assert.InDelta(t, want.Period, got.Period, 1e-4)
}

func TestFitCosine(t *testing.T) {
	xs := linspace(-5e-3, 5e-3, 101)
	ys := sample(xs, Cosine, []float64{2e6, 1e-3, 4e-3, 7.01e9})
	p, err := FitCosine(xs, ys)
	require.NoError(t, err)
	assert.InDelta(t, 4e-3, p.Period, 5e-5)
	assert.InDelta(t, 2e6, p.Amplitude, 5e4)
	assert.InDelta(t, 7.01e9, p.Offset, 1e5)
	// x0 is periodic
	d := math.Remainder(p.X0-1e-3, p.Period)
	assert.InDelta(t, 0, d, 5e-5)
}

func TestFitDampedCosine(t *testing.T) {
	ts := linspace(0, 500, 201)
	ys := sample(ts, DampedCosine, []float64{0.2, 300, 0.01, 0, 0.5})
	o, err := FitDampedCosine(ts, ys)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, o.Frequency, 2e-4)
	assert.InDelta(t, 300, o.Decay, 30)
	assert.InDelta(t, 0.2, o.Amplitude, 0.02)
}

func TestFitExponential(t *testing.T) {
	ts := linspace(0, 20000, 101)
	ys := sample(ts, Exponential, []float64{-0.4, 4000, 0.9})
	d, err := FitExponential(ts, ys)
	require.NoError(t, err)
	assert.InDelta(t, 4000, d.Time, 100)
	assert.InDelta(t, 0.9, d.Offset, 0.01)
}

func TestDominantFrequency(t *testing.T) {
	ys := make([]float64, 128)
	for k := range ys {
		ys[k] = math.Sin(2 * math.Pi * 8 * float64(k) / 128)
	}
	assert.InDelta(t, 8.0/128/2, DominantFrequency(ys, 2), 1e-9)
	assert.Zero(t, DominantFrequency([]float64{1, 2}, 1))
}

func TestProject(t *testing.T) {
	axis := cmplx.Rect(1, 0.7)
	data := make([]complex128, 11)
	for k := range data {
		data[k] = complex(0.3, -0.1) + axis*complex(float64(k), 0)
	}
	p := Project(data)
	require.Len(t, p, 11)
	for k := 1; k < len(p); k++ {
		assert.InDelta(t, 1, p[k]-p[k-1], 1e-9)
	}
	assert.Equal(t, []float64{2}, Project([]complex128{2i}))
}

func TestLeastSquaresErrors(t *testing.T) {
	_, err := LeastSquares(Exponential, []float64{1}, []float64{1, 2}, []float64{1, 1, 1}, nil)
	assert.ErrorIs(t, err, ErrNoFit)
	_, err = FitLorentzian([]float64{1, 2}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrNoFit)
}
