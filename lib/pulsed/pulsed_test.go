package pulsed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/gotmc/fulaut/lib/awg"
	"github.com/gotmc/fulaut/lib/exg"
	"github.com/gotmc/fulaut/lib/fit"
	"github.com/gotmc/fulaut/lib/pna"
	"github.com/gotmc/fulaut/lib/pulse"
	"github.com/gotmc/fulaut/lib/result"
	"github.com/gotmc/fulaut/lib/scpi"
	"github.com/gotmc/fulaut/lib/sim"
)

func newEnv(t *testing.T) (Env, *sim.Bench) {
	t.Helper()
	b := sim.New(sim.DefaultChip())
	v, err := pna.New(scpi.New(b.VNA))
	require.NoError(t, err)
	return Env{
		VNA:        v,
		Excitation: exg.New(scpi.New(b.Excitation)),
		AWG:        awg.New(scpi.New(b.AWG)),
		Store:      result.NewStore(t.TempDir()),
		Sample:     "sim",
	}, b
}

// fixed drives qubit 0 of the default chip at zero bias.
func fixed(b *sim.Bench, period, detuning float64) Fixed {
	q := b.Chip().Qubits[0]
	return Fixed{
		Sequence: pulse.Params{
			ReadoutDuration:      2000,
			RepetitionPeriod:     period,
			EndGap:               100,
			ReadoutExcitationGap: 10,
			PiPulse:              50,
		},
		ReadoutFrequency:    q.ResonatorFrequency(0),
		ReadoutPower:        -20,
		Averages:            1000,
		ExcitationFrequency: q.Frequency(0) - detuning,
		ExcitationPower:     sim.ReferencePower,
		Mixer:               pulse.Mixer{IFFrequency: 100e6, AmplitudeRatio: 1},
		SampleRate:          250e6,
		Amplitude:           1,
	}
}

func TestRabi(t *testing.T) {
	env, b := newEnv(t)
	durations := make([]float64, 101)
	floats.Span(durations, 0, 500)
	r, err := NewRabi(env, "q0-rabi", fixed(b, 20000, 0), durations).Launch(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50, r.PiPulse, 5)
	assert.InEpsilon(t, 10e6, r.Frequency, 0.1)
	assert.Equal(t, "q0-rabi", r.Result.Name)
	assert.Equal(t, 101, r.Result.Data.Points())
	assert.InDelta(t, r.PiPulse, r.Result.Fit["pi_pulse_duration"], 1e-9)
	assert.Empty(t, b.Errors())

	saved, err := env.Store.Load("sim", "q0-rabi")
	require.NoError(t, err)
	assert.Equal(t, r.Result.ID, saved.ID)
	assert.Contains(t, saved.Context.Equipment, "q_awg")
}

func TestRamsey(t *testing.T) {
	env, b := newEnv(t)
	delays := make([]float64, 201)
	floats.Span(delays, 0, 2000)
	r, err := NewRamsey(env, "q0-ramsey", fixed(b, 20000, 5e6), delays).Launch(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 5e6, r.Frequency, 0.2e6)
	assert.Positive(t, r.T2Star)
	assert.Empty(t, b.Errors())
}

func TestHahnEcho(t *testing.T) {
	env, b := newEnv(t)
	delays := make([]float64, 51)
	floats.Span(delays, 0, 20000)
	r, err := NewHahnEcho(env, "q0-echo", fixed(b, 30000, 0), delays).Launch(context.Background())
	require.NoError(t, err)
	assert.InEpsilon(t, b.Chip().Qubits[0].T2, r.Time, 0.25)
	assert.InDelta(t, r.Time, r.Result.Fit["t2"], 1e-9)
}

func TestDecay(t *testing.T) {
	env, b := newEnv(t)
	delays := make([]float64, 51)
	floats.Span(delays, 0, 40000)
	r, err := NewDecay(env, "q0-decay", fixed(b, 50000, 0), delays).Launch(context.Background())
	require.NoError(t, err)
	assert.InEpsilon(t, b.Chip().Qubits[0].T1, r.Time, 0.25)
	assert.InDelta(t, r.Time, r.Result.Fit["t1"], 1e-9)
}

func TestDoesNotFit(t *testing.T) {
	env, b := newEnv(t)
	_, err := NewDecay(env, "q0-decay", fixed(b, 20000, 0), []float64{0, 30000}).Launch(context.Background())
	require.ErrorIs(t, err, pulse.ErrDoesNotFit)
	// the bench is left idle
	on, err := env.Excitation.Output()
	require.NoError(t, err)
	assert.False(t, on)
}

func TestCancelled(t *testing.T) {
	env, b := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRabi(env, "q0-rabi", fixed(b, 20000, 0), []float64{0, 10}).Launch(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRabiResultNoFrequency(t *testing.T) {
	for _, f := range []float64{0, math.NaN(), math.Inf(1)} {
		res := result.New("q0-rabi", "sim")
		_, err := rabiResult(res, fit.Oscillation{Frequency: f, Decay: 100})
		assert.ErrorIs(t, err, fit.ErrNoFit)
		assert.Empty(t, res.Fit)
	}

	res := result.New("q0-rabi", "sim")
	out, err := rabiResult(res, fit.Oscillation{Frequency: -0.01, Decay: 100})
	require.NoError(t, err)
	assert.InDelta(t, 50, out.PiPulse, 1e-9)
	assert.InDelta(t, 10e6, out.Frequency, 1e-3)

	// the fit values survive a save
	_, err = result.NewStore(t.TempDir()).Save(context.Background(), res)
	require.NoError(t, err)
}

func TestSaveSucceeds(t *testing.T) {
	env, _ := newEnv(t)
	m := &measurement{env: env, name: "q0-decay"}
	r := result.New("q0-decay", "sim")
	require.NoError(t, r.SetData([]complex128{1, 1i}, result.Axis{Name: "Delay", Unit: "ns", Values: []float64{0, 10}}))
	require.NoError(t, m.save(context.Background(), r))
	_, err := env.Store.Load("sim", "q0-decay")
	require.NoError(t, err)
}
