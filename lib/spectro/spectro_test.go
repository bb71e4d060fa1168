package spectro

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/fulaut/lib/exg"
	"github.com/gotmc/fulaut/lib/fit"
	"github.com/gotmc/fulaut/lib/gs210"
	"github.com/gotmc/fulaut/lib/params"
	"github.com/gotmc/fulaut/lib/pna"
	"github.com/gotmc/fulaut/lib/result"
	"github.com/gotmc/fulaut/lib/scpi"
	"github.com/gotmc/fulaut/lib/sim"
)

func newEnv(t *testing.T) (Env, *sim.Bench) {
	t.Helper()
	b := sim.New(sim.DefaultChip())
	v, err := pna.New(scpi.New(b.VNA))
	require.NoError(t, err)
	src, err := gs210.New(scpi.New(b.Bias))
	require.NoError(t, err)
	s := params.Default()
	s.Oracle.ResonatorCount = 2
	return Env{
		VNA:        v,
		Excitation: exg.New(scpi.New(b.Excitation)),
		Bias:       src,
		Settings:   s,
		Store:      result.NewStore(t.TempDir()),
		Sample:     "sim",
	}, b
}

func TestOracle(t *testing.T) {
	env, b := newEnv(t)
	areas, err := NewOracle(env).Launch(context.Background())
	require.NoError(t, err)
	require.Len(t, areas, 2)
	for k, q := range b.Chip().Qubits {
		fr := q.ResonatorFrequency(0)
		assert.Less(t, areas[k][0], fr)
		assert.Greater(t, areas[k][1], fr)
		assert.InDelta(t, env.Settings.Oracle.AreaWidth, areas[k][1]-areas[k][0], 1)
	}
	assert.Empty(t, b.Errors())

	saved, err := env.Store.Load("sim", "resonator-oracle")
	require.NoError(t, err)
	assert.Contains(t, saved.Fit, "resonator_1")
}

func TestOracleNothing(t *testing.T) {
	env, _ := newEnv(t)
	env.Settings.Oracle.FreqLimits = [2]float64{6e9, 6.5e9}
	_, err := NewOracle(env).Launch(context.Background())
	assert.ErrorIs(t, err, ErrNoResonance)
}

func TestDetectReadout(t *testing.T) {
	env, b := newEnv(t)
	q := b.Chip().Qubits[0]
	fr := q.ResonatorFrequency(0)
	res, err := env.DetectReadout(context.Background(), [2]float64{fr - 5e6, fr + 5e6}, 201, 1e5, 100)
	require.NoError(t, err)
	assert.InDelta(t, fr, res.Frequency, 50e3)
	assert.Empty(t, b.Errors())
}

func TestSpectroscopy(t *testing.T) {
	if testing.Short() {
		t.Skip("full spectroscopy chain")
	}
	ctx := context.Background()
	env, b := newEnv(t)
	q := b.Chip().Qubits[0]
	fr := q.ResonatorFrequency(0)

	sts := NewSTSRunner(env, "I", [2]float64{fr - 5e6, fr + 5e6})
	s, err := sts.Run(ctx)
	require.NoError(t, err)
	assert.InEpsilon(t, q.Period, s.Period, 0.05)
	assert.InDelta(t, q.SweetSpot, s.SweetSpot, q.Period/20)
	area := sts.ScanArea()
	assert.Less(t, area[0], q.ResonatorFrequency(q.SweetSpot+q.Period/2))
	assert.Greater(t, area[1], q.ResonatorFrequency(q.SweetSpot))

	tts := NewTTSRunner(env, "I", area, s)
	biases := tts.Biases()
	require.Len(t, biases, env.Settings.TTS.BiasPoints)
	assert.InDelta(t, s.SweetSpot, (biases[0]+biases[len(biases)-1])/2, 1e-12)
	tr, err := tts.Run(ctx)
	require.NoError(t, err)
	assert.InEpsilon(t, q.FMax, tr.FMax, 0.01)
	assert.InDelta(t, q.SweetSpot, tr.SweetSpot, q.Period/20)

	f, p, err := NewSweetSpotRunner(env, "I", area, tr).Launch(ctx, tr.SweetSpot)
	require.NoError(t, err)
	assert.InDelta(t, q.FMax, f, 2e6)
	assert.Equal(t, -40.0, p)
	assert.Empty(t, b.Errors())

	for _, name := range []string{"I-sts", "I-tts", "I-sws"} {
		_, err := env.Store.Load("sim", name)
		assert.NoError(t, err, name)
	}
	on, err := env.Excitation.Output()
	require.NoError(t, err)
	assert.False(t, on)
}

func TestSweetSpotNoLine(t *testing.T) {
	env, b := newEnv(t)
	q := b.Chip().Qubits[0]
	fr := q.ResonatorFrequency(0)
	// a spectrum predicting the line 200 MHz too high
	wrong := fit.Transmon{FMax: q.FMax + 200e6, SweetSpot: q.SweetSpot, Period: q.Period}
	_, _, err := NewSweetSpotRunner(env, "I", [2]float64{fr - 5e6, fr + 5e6}, wrong).Launch(context.Background(), q.SweetSpot)
	assert.ErrorIs(t, err, ErrNoLine)
}

func TestSaveAndTwoToneSucceed(t *testing.T) {
	env, b := newEnv(t)
	r := result.New("I-check", "sim")
	require.NoError(t, r.SetData([]complex128{1, 1i}, result.Axis{Name: "Frequency", Unit: "Hz", Values: []float64{1, 2}}))
	require.NoError(t, env.save(context.Background(), r))
	saved, err := env.Store.Load("sim", "I-check")
	require.NoError(t, err)
	assert.Equal(t, r.ID, saved.ID)

	require.NoError(t, env.twoTone(7.2e9, []float64{4.9e9, 5e9, 5.1e9}, 1e3, 1))
	assert.Empty(t, b.Errors())
}
