package pulse

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var params = Params{
	TriggerDelay:         240,
	ReadoutDuration:      2000,
	RepetitionPeriod:     20000,
	EndGap:               100,
	ReadoutExcitationGap: 10,
	PiPulse:              50,
}

func TestBuilders(t *testing.T) {
	readout := 20000.0 - 2000 - 100
	tests := []struct {
		name   string
		seq    func() (Sequence, error)
		expect []Segment
	}{
		{"rabi", func() (Sequence, error) { return Rabi(params, 30) }, []Segment{
			{Start: readout - 10 - 30, Duration: 30, Amplitude: 1},
		}},
		{"ramsey", func() (Sequence, error) { return Ramsey(params, 100) }, []Segment{
			{Start: readout - 10 - 150, Duration: 25, Amplitude: 1},
			{Start: readout - 10 - 25, Duration: 25, Amplitude: 1},
		}},
		{"echo", func() (Sequence, error) { return HahnEcho(params, 100) }, []Segment{
			{Start: readout - 10 - 200, Duration: 25, Amplitude: 1},
			{Start: readout - 10 - 125, Duration: 50, Amplitude: 1},
			{Start: readout - 10 - 25, Duration: 25, Amplitude: 1},
		}},
		{"decay", func() (Sequence, error) { return Decay(params, 1000) }, []Segment{
			{Start: readout - 10 - 1050, Duration: 50, Amplitude: 1},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seq, err := tc.seq()
			require.NoError(t, err)
			assert.Equal(t, tc.expect, seq.Segments)
			assert.Equal(t, readout, seq.ReadoutStart)
			assert.Equal(t, 19900.0, seq.ReadoutEnd)
			assert.Equal(t, 20000.0, seq.Period)
			assert.Equal(t, tc.expect[len(tc.expect)-1].End(), seq.ExcitationEnd())
		})
	}
}

func TestRabiZeroDuration(t *testing.T) {
	seq, err := Rabi(params, 0)
	require.NoError(t, err)
	assert.Empty(t, seq.Segments)
}

func TestDoesNotFit(t *testing.T) {
	_, err := Decay(params, 18000)
	assert.ErrorIs(t, err, ErrDoesNotFit)
}

func TestReadoutTiming(t *testing.T) {
	assert.Equal(t, 17900.0, params.ADCTriggerDelay())
	assert.InDelta(t, 1e9/2100, params.ReadoutBandwidth(), 1e-9)
}

func TestRender(t *testing.T) {
	p := Params{RepetitionPeriod: 100, ReadoutDuration: 20, PiPulse: 20, ExcitationAmplitude: 0.8}
	seq, err := Rabi(p, 40)
	require.NoError(t, err)
	m := Mixer{IFFrequency: 100e6, DCOffsetI: 0.01, DCOffsetQ: -0.02, AmplitudeRatio: 0.9, PhaseSkew: 0.1}

	i, q := Render(seq, 1e9, m)
	require.Len(t, i, 100)
	require.Len(t, q, 100)

	// idle samples at the offsets
	assert.InDelta(t, 0.01, i[0], 1e-7)
	assert.InDelta(t, -0.02, q[0], 1e-7)
	assert.InDelta(t, 0.01, i[99], 1e-7)

	start := int(seq.Segments[0].Start)
	for k := start; k < start+40; k++ {
		arg := 2 * math.Pi * 100e6 * float64(k) * 1e-9
		assert.InDelta(t, 0.8*math.Cos(arg)+0.01, i[k], 1e-6)
		assert.InDelta(t, 0.9*0.8*math.Sin(arg+0.1)-0.02, q[k], 1e-6)
	}
}

func TestRenderClips(t *testing.T) {
	p := Params{RepetitionPeriod: 10, ExcitationAmplitude: 1}
	seq, err := Rabi(p, 10)
	require.NoError(t, err)
	i, q := Render(seq, 1e9, Mixer{DCOffsetI: 0.5, DCOffsetQ: 2})
	for k := range i {
		assert.LessOrEqual(t, i[k], float32(1))
		assert.Equal(t, float32(1), q[k])
	}
	assert.Equal(t, float32(1), i[0])
}
