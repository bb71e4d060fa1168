// Package pulsed runs time domain qubit measurements: each point uploads
// a pulse sequence to the AWG driving the excitation mixer and reads the
// resonator out with the VNA in CW mode, triggered by the AWG once per
// repetition period.
package pulsed

import (
	"context"
	"math/cmplx"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/awg"
	"github.com/gotmc/fulaut/lib/exg"
	"github.com/gotmc/fulaut/lib/fit"
	"github.com/gotmc/fulaut/lib/pna"
	"github.com/gotmc/fulaut/lib/pulse"
	"github.com/gotmc/fulaut/lib/result"
)

// waveform is the name of the AWG waveform holding the sequence.
const waveform = "FULAUT"

// Env is the bench and storage shared by the measurements.
type Env struct {
	VNA        *pna.VNA
	Excitation *exg.Generator
	AWG        *awg.Generator
	Store      *result.Store // nil to keep results in memory only
	Sample     string
	Log        *zap.Logger
}

// Fixed holds the parameters that stay constant during a measurement.
type Fixed struct {
	Sequence            pulse.Params
	ReadoutFrequency    float64 // Hz
	ReadoutPower        float64 // dBm
	Averages            int
	ExcitationFrequency float64 // Hz, the qubit drive
	ExcitationPower     float64 // dBm, of the local oscillator
	Mixer               pulse.Mixer
	SampleRate          float64 // Sa/s
	Amplitude           float64 // AWG Vpp
}

// LocalOscillator is the excitation source frequency: the drive sits one
// IF above it.
func (f Fixed) LocalOscillator() float64 {
	return f.ExcitationFrequency - f.Mixer.IFFrequency
}

type builder func(pulse.Params, float64) (pulse.Sequence, error)

// measurement sweeps one sequence parameter.
type measurement struct {
	env   Env
	name  string
	axis  result.Axis
	fixed Fixed
	build builder
}

func (m *measurement) log() *zap.Logger {
	if m.env.Log == nil {
		return zap.NewNop()
	}
	return m.env.Log.With(zap.String("measurement", m.name))
}

func (m *measurement) setup() error {
	f := m.fixed
	exc := m.env.Excitation
	steps := []func() error{
		exc.SetCW,
		func() error { return exc.SetFrequency(f.LocalOscillator()) },
		func() error { return exc.SetPower(f.ExcitationPower) },
		func() error { return exc.SetIQ(true) },
		func() error { return exc.SetModulation(true) },
		func() error { return exc.SetOutput(true) },
	}
	for ch := 1; ch <= 2; ch++ {
		ch := ch
		steps = append(steps,
			func() error { return m.env.AWG.SetSampleRate(ch, f.SampleRate) },
			func() error { return m.env.AWG.SetAmplitude(ch, f.Amplitude) },
			func() error { return m.env.AWG.SetOffset(ch, 0) },
			func() error { return m.env.AWG.SetTriggerSource(ch, "IMM") },
		)
	}
	delay := time.Duration(f.Sequence.ADCTriggerDelay()) * time.Nanosecond
	steps = append(steps, func() error {
		return m.env.VNA.Configure(
			pna.SweepType("CW"),
			pna.FreqLimits(f.ReadoutFrequency, f.ReadoutFrequency),
			pna.Points(1),
			pna.Bandwidth(f.Sequence.ReadoutBandwidth()),
			pna.Averages(f.Averages, pna.AveragePoint),
			pna.Power(f.ReadoutPower),
			pna.TriggerSource("EXT"),
			pna.TriggerDelay(delay),
		)
	})
	for _, step := range steps {
		if err := step(); err != nil {
			return errors.Wrap(err, "setup")
		}
	}
	return nil
}

func (m *measurement) teardown() error {
	return multierr.Combine(
		m.env.Excitation.SetOutput(false),
		m.env.Excitation.SetModulation(false),
		m.env.Excitation.SetIQ(false),
		m.env.AWG.SetOutput(1, false),
		m.env.AWG.SetOutput(2, false),
		m.env.VNA.SetTriggerSource("AUTO"),
	)
}

// point records one value: the mean of the trace taken with the sequence
// for x playing.
func (m *measurement) point(ctx context.Context, x float64) (complex128, error) {
	seq, err := m.build(m.fixed.Sequence, x)
	if err != nil {
		return 0, err
	}
	i, q := pulse.Render(seq, m.fixed.SampleRate, m.fixed.Mixer)
	if err := m.env.AWG.LoadIQ(waveform, i, q); err != nil {
		return 0, errors.Wrap(err, "load sequence")
	}
	if err := m.env.VNA.ClearAverages(); err != nil {
		return 0, err
	}
	tr, err := m.env.VNA.MeasureAndGetData(ctx, pna.Raw)
	if err != nil {
		return 0, errors.Wrap(err, "read out")
	}
	if len(tr.Raw) == 0 {
		return 0, errors.New("empty trace")
	}
	var sum complex128
	for _, v := range tr.Raw {
		sum += v
	}
	return sum / complex(float64(len(tr.Raw)), 0), nil
}

// run sweeps the axis and returns the result with its data set.
func (m *measurement) run(ctx context.Context) (_ *result.Result, err error) {
	log := m.log()
	if err := m.setup(); err != nil {
		return nil, err
	}
	defer func() { err = multierr.Append(err, m.teardown()) }()

	data := make([]complex128, len(m.axis.Values))
	for k, x := range m.axis.Values {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if data[k], err = m.point(ctx, x); err != nil {
			return nil, errors.Wrapf(err, "%s %g", m.axis.Name, x)
		}
		log.Debug("point", zap.Float64(m.axis.Name, x), zap.Float64("abs", cmplx.Abs(data[k])))
	}

	r := result.New(m.name, m.env.Sample)
	if err := r.SetData(data, m.axis); err != nil {
		return nil, err
	}
	f := m.fixed
	r.SetEquipment("vna", map[string]any{
		"freq_limits":       []float64{f.ReadoutFrequency, f.ReadoutFrequency},
		"nop":               1,
		"power":             f.ReadoutPower,
		"averages":          f.Averages,
		"bandwidth":         f.Sequence.ReadoutBandwidth(),
		"adc_trigger_delay": f.Sequence.ADCTriggerDelay(),
	})
	r.SetEquipment("exc_iqvg", map[string]any{"power": f.ExcitationPower, "freq": f.ExcitationFrequency})
	r.SetEquipment("q_awg", map[string]any{
		"sample_rate":     f.SampleRate,
		"amplitude":       f.Amplitude,
		"if_frequency":    f.Mixer.IFFrequency,
		"dc_offset_i":     f.Mixer.DCOffsetI,
		"dc_offset_q":     f.Mixer.DCOffsetQ,
		"amplitude_ratio": f.Mixer.AmplitudeRatio,
		"phase_skew":      f.Mixer.PhaseSkew,
	})
	r.SetEquipment("pulse_sequence", map[string]any{
		"awg_trigger_reaction_delay": f.Sequence.TriggerDelay,
		"readout_duration":           f.Sequence.ReadoutDuration,
		"repetition_period":          f.Sequence.RepetitionPeriod,
		"excitation_amplitude":       f.Sequence.ExcitationAmplitude,
		"end_gap":                    f.Sequence.EndGap,
		"readout_excitation_gap":     f.Sequence.ReadoutExcitationGap,
		"pi_pulse_duration":          f.Sequence.PiPulse,
	})
	return r, nil
}

func (m *measurement) save(ctx context.Context, r *result.Result) error {
	if m.env.Store == nil {
		return nil
	}
	if _, err := m.env.Store.Save(ctx, r); err != nil {
		return errors.Wrapf(err, "save %s", r.Name)
	}
	return nil
}

func (m *measurement) projected(r *result.Result) []float64 {
	return fit.Project(r.Data.Complex())
}
