// Package pulse builds excitation pulse sequences and renders them into the
// I/Q waveforms of an arbitrary waveform generator driving an IQ mixer.
//
// Times are in nanoseconds. A sequence spans one repetition period; the
// readout window closes EndGap before the end of the period and excitation
// pulses end ReadoutExcitationGap before the readout opens.
package pulse

import (
	"errors"
	"fmt"
	"math"
)

// ErrDoesNotFit is returned when the pulses do not fit before the readout.
var ErrDoesNotFit = errors.New("pulse: sequence does not fit in the repetition period")

// Segment is a constant-amplitude burst of the IF carrier.
type Segment struct {
	Start     float64 `json:"start" yaml:"start"`
	Duration  float64 `json:"duration" yaml:"duration"`
	Amplitude float64 `json:"amplitude" yaml:"amplitude"`
	Phase     float64 `json:"phase" yaml:"phase"`
}

// End returns Start + Duration.
func (s Segment) End() float64 { return s.Start + s.Duration }

// Sequence is one repetition period.
type Sequence struct {
	Segments     []Segment `json:"segments" yaml:"segments"`
	ReadoutStart float64   `json:"readout_start" yaml:"readout_start"`
	ReadoutEnd   float64   `json:"readout_end" yaml:"readout_end"`
	Period       float64   `json:"period" yaml:"period"`
}

// ExcitationEnd is when the last pulse ends.
func (s Sequence) ExcitationEnd() float64 {
	end := 0.0
	for _, seg := range s.Segments {
		end = math.Max(end, seg.End())
	}
	return end
}

// Params are the fixed parameters of a pulsed measurement.
type Params struct {
	TriggerDelay         float64 `json:"awg_trigger_reaction_delay" yaml:"awg_trigger_reaction_delay"`
	ReadoutDuration      float64 `json:"readout_duration" yaml:"readout_duration"`
	RepetitionPeriod     float64 `json:"repetition_period" yaml:"repetition_period"`
	ExcitationAmplitude  float64 `json:"excitation_amplitude" yaml:"excitation_amplitude"`
	EndGap               float64 `json:"end_gap" yaml:"end_gap"`
	ReadoutExcitationGap float64 `json:"readout_excitation_gap" yaml:"readout_excitation_gap"`
	PiPulse              float64 `json:"pi_pulse_duration" yaml:"pi_pulse_duration"`
}

// HalfPiPulse is half the pi pulse.
func (p Params) HalfPiPulse() float64 { return p.PiPulse / 2 }

func (p Params) amplitude() float64 {
	if p.ExcitationAmplitude == 0 {
		return 1
	}
	return p.ExcitationAmplitude
}

// ADCTriggerDelay is when the analyzer should start acquiring, counted from
// the start of the period.
func (p Params) ADCTriggerDelay() float64 {
	return p.RepetitionPeriod - p.ReadoutDuration - p.EndGap
}

// ReadoutBandwidth is the IF bandwidth matching the acquisition window, in
// Hz.
func (p Params) ReadoutBandwidth() float64 {
	return 1e9 / (p.ReadoutDuration + p.EndGap)
}

// build places pulses, given as (duration, phase) with zero duration
// meaning a free evolution gap, so that the last one ends right before the
// readout.
func build(p Params, parts ...[2]float64) (Sequence, error) {
	seq := Sequence{
		Period:       p.RepetitionPeriod,
		ReadoutStart: p.ADCTriggerDelay(),
		ReadoutEnd:   p.RepetitionPeriod - p.EndGap,
	}
	total := 0.0
	for _, part := range parts {
		total += part[0]
	}
	t := seq.ReadoutStart - p.ReadoutExcitationGap - total
	if t < p.TriggerDelay || seq.ReadoutStart < 0 {
		return seq, fmt.Errorf("%w: %g ns of pulses before readout at %g ns", ErrDoesNotFit, total, seq.ReadoutStart)
	}
	for k, part := range parts {
		// even parts are pulses, odd parts are waits
		if k%2 == 0 && part[0] > 0 {
			seq.Segments = append(seq.Segments, Segment{Start: t, Duration: part[0], Amplitude: p.amplitude(), Phase: part[1]})
		}
		t += part[0]
	}
	return seq, nil
}

// Rabi is one excitation pulse of the given duration.
func Rabi(p Params, duration float64) (Sequence, error) {
	return build(p, [2]float64{duration, 0})
}

// Ramsey is two pi/2 pulses separated by delay.
func Ramsey(p Params, delay float64) (Sequence, error) {
	h := p.HalfPiPulse()
	return build(p, [2]float64{h, 0}, [2]float64{delay, 0}, [2]float64{h, 0})
}

// HahnEcho is pi/2, delay/2, pi, delay/2, pi/2.
func HahnEcho(p Params, delay float64) (Sequence, error) {
	h := p.HalfPiPulse()
	return build(p,
		[2]float64{h, 0}, [2]float64{delay / 2, 0},
		[2]float64{p.PiPulse, 0}, [2]float64{delay / 2, 0},
		[2]float64{h, 0})
}

// Decay is a pi pulse followed by delay before the readout.
func Decay(p Params, delay float64) (Sequence, error) {
	return build(p, [2]float64{p.PiPulse, 0}, [2]float64{delay, 0})
}

// Mixer holds the IQ mixer calibration of an excitation line.
type Mixer struct {
	IFFrequency    float64 `json:"if_frequency" yaml:"if_frequency" toml:"if_frequency"`       // Hz
	DCOffsetI      float64 `json:"dc_offset_i" yaml:"dc_offset_i" toml:"dc_offset_i"`          // full scale units
	DCOffsetQ      float64 `json:"dc_offset_q" yaml:"dc_offset_q" toml:"dc_offset_q"`          // full scale units
	AmplitudeRatio float64 `json:"amplitude_ratio" yaml:"amplitude_ratio" toml:"amplitude_ratio"` // Q/I, 1 if zero
	PhaseSkew      float64 `json:"phase_skew" yaml:"phase_skew" toml:"phase_skew"`             // rad
}

// Render samples seq at rate samples per second. Outside pulses the
// outputs sit at the DC offsets. Samples are clipped to [-1, 1].
func Render(seq Sequence, rate float64, m Mixer) (i, q []float32) {
	n := int(math.Round(seq.Period * rate / 1e9))
	i = make([]float32, n)
	q = make([]float32, n)
	ratio := m.AmplitudeRatio
	if ratio == 0 {
		ratio = 1
	}
	for k := range i {
		i[k] = clip(m.DCOffsetI)
		q[k] = clip(m.DCOffsetQ)
	}
	dt := 1e9 / rate
	for _, seg := range seq.Segments {
		from := int(math.Ceil(seg.Start / dt))
		to := int(math.Ceil(seg.End() / dt))
		if to > n {
			to = n
		}
		for k := from; k < to; k++ {
			t := float64(k) * dt * 1e-9
			arg := 2*math.Pi*m.IFFrequency*t + seg.Phase
			i[k] = clip(seg.Amplitude*math.Cos(arg) + m.DCOffsetI)
			q[k] = clip(ratio*seg.Amplitude*math.Sin(arg+m.PhaseSkew) + m.DCOffsetQ)
		}
	}
	return i, q
}

func clip(v float64) float32 {
	return float32(math.Max(-1, math.Min(1, v)))
}
