package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/fulaut/lib/connutil"
	"github.com/gotmc/fulaut/lib/fit"
	"github.com/gotmc/fulaut/lib/params"
	"github.com/gotmc/fulaut/lib/pna"
	"github.com/gotmc/fulaut/lib/result"
	"github.com/gotmc/fulaut/lib/sim"
)

func newRunner(t *testing.T) (*Runner, *sim.Bench, *result.Store) {
	t.Helper()
	sb := sim.New(sim.DefaultChip())
	b, err := connutil.Simulated(sb, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	s := params.Default()
	s.Oracle.ResonatorCount = 2
	store := result.NewStore(t.TempDir())
	r, err := New(b, "sim", "S21", s, store)
	require.NoError(t, err)
	return r, sb, store
}

func TestNewBadSParameter(t *testing.T) {
	sb := sim.New(sim.DefaultChip())
	b, err := connutil.Simulated(sb, nil)
	require.NoError(t, err)
	_, err = New(b, "sim", "S5", params.Default(), nil)
	assert.ErrorIs(t, err, pna.ErrSParameter)
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("end to end characterization")
	}
	r, sb, store := newRunner(t)
	q := sb.Chip().Qubits[0]

	reports, err := r.Run(context.Background(), []int{0, 5}, nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	rep := reports[0]
	assert.Equal(t, "I", rep.Qubit)
	assert.InDelta(t, q.SweetSpot, rep.SweetSpotBias, q.Period/20)
	assert.InDelta(t, q.FMax, rep.SweetSpotFreq, 2e6)
	assert.Equal(t, -40.0, rep.ExcitationPower)

	require.Len(t, rep.Points, 1)
	p := rep.Points[0]
	assert.Zero(t, p.PeriodFraction)
	assert.InDelta(t, q.ResonatorFrequency(p.Bias), p.ReadoutFrequency, 100e3)
	assert.InDelta(t, q.Frequency(p.Bias), p.QubitFrequency, 100e3)
	assert.InDelta(t, 50, p.Rabi.PiPulse, 5)
	assert.InDelta(t, r.settings.Ramsey.Detuning, p.Ramsey.Frequency, 0.3e6)
	assert.InEpsilon(t, q.T2, p.HahnEcho.Time, 0.3)
	assert.InEpsilon(t, q.T1, p.Decay.Time, 0.3)
	assert.Contains(t, rep.String(), "I: sweet spot")
	assert.Empty(t, sb.Errors())

	for _, name := range []string{"resonator-oracle", "I-sts", "I-tts", "I-sws", "I-rabi", "I-ramsey", "I-echo", "I-decay"} {
		_, err := store.Load("sim", name)
		assert.NoError(t, err, name)
	}
	ramsey, err := store.Load("sim", "I-ramsey")
	require.NoError(t, err)
	// the stored ramsey is the fine one
	require.Len(t, ramsey.Data.Axes, 1)
	delays := ramsey.Data.Axes[0].Values
	assert.InDelta(t, r.settings.Ramsey.MaxDelay, delays[len(delays)-1], 1e-9)
}

func TestRunSeveralFractions(t *testing.T) {
	if testing.Short() {
		t.Skip("end to end characterization")
	}
	r, _, store := newRunner(t)
	reports, err := r.Run(context.Background(), []int{0}, []float64{0, 0.05})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	points := reports[0].Points
	require.Len(t, points, 2)
	assert.Greater(t, points[0].QubitFrequency, points[1].QubitFrequency)

	for k, tag := range []string{"0", "0.05"} {
		saved, err := store.Load("sim", "I-rabi-"+tag)
		require.NoError(t, err, tag)
		assert.Equal(t, points[k].Rabi.Result.ID, saved.ID, tag)
		for _, name := range []string{"I-ramsey-", "I-echo-", "I-decay-"} {
			_, err := store.Load("sim", name+tag)
			assert.NoError(t, err, name+tag)
		}
	}
	_, err = store.Load("sim", "I-rabi")
	assert.ErrorIs(t, err, result.ErrNotFound)
}

func TestRunCancelled(t *testing.T) {
	r, _, _ := newRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, []int{0}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQubitFrequency(t *testing.T) {
	rep := Report{
		TTS:           fit.Transmon{FMax: 5e9, SweetSpot: 1e-3, Period: 8e-3},
		SweetSpotBias: 1e-3,
		SweetSpotFreq: 4.99e9,
	}
	assert.InDelta(t, 4.99e9, qubitFrequency(rep, 1e-3), 1e-3)
	shift := rep.TTS.Frequency(3e-3) - 5e9
	assert.InDelta(t, 4.99e9+shift, qubitFrequency(rep, 3e-3), 1e-3)
}
