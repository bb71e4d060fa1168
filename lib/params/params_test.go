package params

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/fulaut/lib/pulse"
)

const sample = `
[global]
readout_power = -25
resonator_type = "transmission"
which_sweet_spot = { II = "bottom" }

[oracle]
freq_limits = [6.0e9, 6.5e9]
resonator_count = 2

[ramsey]
detuning = 2e6
nop = 51

[bench]
prologix_port = "/dev/ttyUSB0"
[bench.instruments]
pna = "GPIB0::16::INSTR"
gs210 = "GPIB0::2::INSTR"

[mixer.I]
if_frequency = 50e6
dc_offset_i = 0.01
amplitude_ratio = 0.95
`

func TestDecode(t *testing.T) {
	s, err := Decode(sample)
	require.NoError(t, err)

	assert.Equal(t, -25.0, s.Global.ReadoutPower)
	assert.Equal(t, -20.0, s.Global.ExcitationPower)
	assert.Equal(t, "transmission", s.Global.ResonatorType)
	assert.Equal(t, "bottom", s.Global.SweetSpot("II"))
	assert.Equal(t, "top", s.Global.SweetSpot("I"))

	assert.Equal(t, [2]float64{6.0e9, 6.5e9}, s.Oracle.FreqLimits)
	assert.Equal(t, 2, s.Oracle.ResonatorCount)
	assert.Equal(t, 10001, s.Oracle.Points)

	assert.Equal(t, 2e6, s.Ramsey.Detuning)
	assert.Equal(t, 51, s.Ramsey.Points)
	assert.Equal(t, 2000.0, s.Ramsey.ReadoutDuration)

	assert.Equal(t, "/dev/ttyUSB0", s.Bench.PrologixPort)
	assert.Equal(t, "GPIB0::16::INSTR", s.Bench.Instruments["pna"])
	assert.Equal(t, "pna", s.Bench.VNA)

	assert.Equal(t, pulse.Mixer{IFFrequency: 50e6, DCOffsetI: 0.01, AmplitudeRatio: 0.95}, s.Mixer("I"))
	assert.Equal(t, defaultMixer, s.Mixer("III"))
}

func TestValidate(t *testing.T) {
	tests := map[string]string{
		"resonator type": `[global]
resonator_type = "ring"`,
		"sweet spot": `[global]
which_sweet_spot = { I = "middle" }`,
		"limits": `[oracle]
freq_limits = [7e9, 6e9]`,
		"count": `[oracle]
resonator_count = 9`,
		"points": `[rabi]
nop = 1`,
		"powers": `[sweet_spot]
powers = []`,
	}
	for name, blob := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(blob)
			assert.Error(t, err)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), s)

	path := filepath.Join(t.TempDir(), "fulaut.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	s, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Oracle.ResonatorCount)

	require.NoError(t, os.WriteFile(path, []byte("[global"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestWriteRoundTrip(t *testing.T) {
	s, err := Decode(sample)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, s.Write(&buf))
	back, err := Decode(buf.String())
	require.NoError(t, err)
	assert.Equal(t, s, back)
}
