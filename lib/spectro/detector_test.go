package spectro

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/fulaut/lib/fit"
)

type resonator struct {
	f, kappa, depth float64
}

func (r resonator) notch(f float64) complex128 {
	return 1 - complex(r.depth, 0)/complex(1, 2*(f-r.f)/r.kappa)
}

func (r resonator) peak(f float64) complex128 {
	return complex(r.depth, 0) / complex(1, 2*(f-r.f)/r.kappa)
}

// lorentz is the real Lorentzian line of the same width.
func (r resonator) lorentz(f float64) float64 {
	x := 2 * (f - r.f) / r.kappa
	return r.depth / (1 + x*x)
}

func trace(freqs []float64, sigma float64, seed uint64, model func(float64) complex128) []complex128 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]complex128, len(freqs))
	for k, f := range freqs {
		out[k] = model(f) + complex(sigma*rng.NormFloat64(), sigma*rng.NormFloat64())
	}
	return out
}

func TestDetect(t *testing.T) {
	r := resonator{f: 7.2013e9, kappa: 1e6, depth: 0.8}
	freqs := linspace(7.195e9, 7.205e9, 201)
	step := freqs[1] - freqs[0]
	testCases := []struct {
		name     string
		detector Detector
		model    func(float64) complex128
		tol      float64
	}{
		{"notch fit", Detector{Type: Notch}, r.notch, step},
		{"notch fast", Detector{Type: Notch, Fast: true}, r.notch, 3 * step},
		{"transmission fit", Detector{Type: Transmission}, r.peak, step},
		{"transmission fast", Detector{Type: Transmission, Fast: true}, r.peak, 3 * step},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tc.detector.Detect(freqs, trace(freqs, 0.01, 3, tc.model))
			require.NoError(t, err)
			assert.InDelta(t, r.f, res.Frequency, tc.tol)
			if tc.detector.Fast {
				assert.Zero(t, res.Width)
			} else {
				assert.Positive(t, res.Width)
			}
		})
	}
}

func TestDetectWrongType(t *testing.T) {
	r := resonator{f: 7.2e9, kappa: 1e6, depth: 0.8}
	freqs := linspace(7.195e9, 7.205e9, 201)
	data := trace(freqs, 0.005, 4, r.peak)
	_, err := Detector{Type: Notch}.Detect(freqs, data)
	require.ErrorIs(t, err, ErrNoResonance)

	// the fallback still answers
	res, err := DetectResonance(freqs, data, Notch)
	require.NoError(t, err)
	assert.Zero(t, res.Width)
}

func TestDetectShort(t *testing.T) {
	_, err := Detector{}.Detect([]float64{1, 2, 3}, make([]complex128, 3))
	assert.ErrorIs(t, err, ErrNoResonance)
	_, err = Detector{}.Detect(linspace(1, 2, 10), make([]complex128, 9))
	assert.ErrorIs(t, err, ErrNoResonance)
}

func TestFindResonances(t *testing.T) {
	rs := []resonator{
		{f: 7.1e9, kappa: 1e6, depth: 0.8},
		{f: 7.25e9, kappa: 1e6, depth: 0.5},
		{f: 7.4e9, kappa: 1e6, depth: 0.7},
	}
	freqs := linspace(7e9, 7.5e9, 10001)
	data := trace(freqs, 0.01, 5, func(f float64) complex128 {
		s := complex(1, 0)
		for _, r := range rs {
			s *= r.notch(f)
		}
		return s
	})
	amps := fit.Magnitudes(data)
	step := freqs[1] - freqs[0]

	all := FindResonances(freqs, amps, 4, 10e6, Notch)
	require.Len(t, all, 3)
	for k, r := range rs {
		assert.InDelta(t, r.f, all[k], 2*step)
	}

	deepest := FindResonances(freqs, amps, 2, 10e6, Notch)
	require.Len(t, deepest, 2)
	assert.InDelta(t, rs[0].f, deepest[0], 2*step)
	assert.InDelta(t, rs[2].f, deepest[1], 2*step)

	assert.Empty(t, FindResonances(freqs, amps, 4, 10e6, Transmission))
}

func TestFindPeak(t *testing.T) {
	freqs := linspace(4e9, 6e9, 401)
	line := resonator{f: 4.9137e9, kappa: 28e6, depth: 0.3}
	data := trace(freqs, 0.005, 6, func(f float64) complex128 {
		return complex(0.2, 0.1) + complex(line.lorentz(f), 0)*complex(0.6, 0.8)
	})
	p := FindPeak(freqs, data)
	assert.True(t, p.Fitted)
	assert.InDelta(t, line.f, p.Frequency, freqs[1]-freqs[0])
	assert.Greater(t, p.Contrast, 5.0)

	flat := trace(freqs, 0.005, 7, func(float64) complex128 { return complex(0.2, 0.1) })
	assert.Less(t, FindPeak(freqs, flat).Contrast, 5.0)
}
