package pulsed

import (
	"context"
	"math"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/fit"
	"github.com/gotmc/fulaut/lib/pulse"
	"github.com/gotmc/fulaut/lib/result"
)

// RabiResult is a Rabi oscillation fit. Times are in ns.
type RabiResult struct {
	Result    *result.Result
	PiPulse   float64
	Frequency float64 // Hz
	Decay     float64
}

// RamseyResult is a Ramsey fringe fit. Frequency is the detuning the
// fringes oscillate at.
type RamseyResult struct {
	Result    *result.Result
	Frequency float64 // Hz
	T2Star    float64 // ns
}

// DecayResult is an exponential fit: T2 for the echo, T1 for the decay.
type DecayResult struct {
	Result *result.Result
	Time   float64 // ns
}

// Rabi sweeps the duration of a single excitation pulse.
type Rabi struct{ m measurement }

// NewRabi prepares a Rabi measurement named name over durations in ns.
func NewRabi(env Env, name string, fixed Fixed, durations []float64) *Rabi {
	return &Rabi{m: measurement{
		env:   env,
		name:  name,
		fixed: fixed,
		build: pulse.Rabi,
		axis:  result.Axis{Name: "Excitation duration", Unit: "ns", Values: durations},
	}}
}

func (r *Rabi) Launch(ctx context.Context) (RabiResult, error) {
	res, err := r.m.run(ctx)
	if err != nil {
		return RabiResult{}, err
	}
	o, err := fit.FitDampedCosine(r.m.axis.Values, r.m.projected(res))
	if err != nil {
		return RabiResult{Result: res}, errors.Wrap(err, "fit rabi oscillations")
	}
	out, err := rabiResult(res, o)
	if err != nil {
		// keep the data even though the pi pulse is unknown
		return out, multierr.Append(err, r.m.save(ctx, res))
	}
	r.m.log().Info("rabi fitted", zap.Float64("pi_pulse", out.PiPulse), zap.Float64("frequency", out.Frequency))
	return out, r.m.save(ctx, res)
}

func rabiResult(res *result.Result, o fit.Oscillation) (RabiResult, error) {
	f := math.Abs(o.Frequency)
	if !(f > 0) || math.IsInf(f, 0) {
		return RabiResult{Result: res}, errors.Wrapf(fit.ErrNoFit, "rabi frequency %g", o.Frequency)
	}
	out := RabiResult{Result: res, PiPulse: 1 / (2 * f), Frequency: f * 1e9, Decay: o.Decay}
	res.SetFit("pi_pulse_duration", out.PiPulse)
	res.SetFit("rabi_frequency", out.Frequency)
	res.SetFit("decay", out.Decay)
	res.SetFit("loss", o.Loss)
	return out, nil
}

// Ramsey sweeps the delay between two half pi pulses driven off resonance.
type Ramsey struct{ m measurement }

func NewRamsey(env Env, name string, fixed Fixed, delays []float64) *Ramsey {
	return &Ramsey{m: measurement{
		env:   env,
		name:  name,
		fixed: fixed,
		build: pulse.Ramsey,
		axis:  result.Axis{Name: "Ramsey delay", Unit: "ns", Values: delays},
	}}
}

func (r *Ramsey) Launch(ctx context.Context) (RamseyResult, error) {
	res, err := r.m.run(ctx)
	if err != nil {
		return RamseyResult{}, err
	}
	o, err := fit.FitDampedCosine(r.m.axis.Values, r.m.projected(res))
	if err != nil {
		return RamseyResult{Result: res}, errors.Wrap(err, "fit ramsey fringes")
	}
	out := RamseyResult{Result: res, Frequency: o.Frequency * 1e9, T2Star: o.Decay}
	res.SetFit("frequency", out.Frequency)
	res.SetFit("t2_star", out.T2Star)
	res.SetFit("loss", o.Loss)
	r.m.log().Info("ramsey fitted", zap.Float64("frequency", out.Frequency), zap.Float64("t2_star", out.T2Star))
	return out, r.m.save(ctx, res)
}

// HahnEcho sweeps the total free evolution of a spin echo.
type HahnEcho struct{ m measurement }

func NewHahnEcho(env Env, name string, fixed Fixed, delays []float64) *HahnEcho {
	return &HahnEcho{m: measurement{
		env:   env,
		name:  name,
		fixed: fixed,
		build: pulse.HahnEcho,
		axis:  result.Axis{Name: "Echo delay", Unit: "ns", Values: delays},
	}}
}

func (e *HahnEcho) Launch(ctx context.Context) (DecayResult, error) {
	return launchDecay(ctx, &e.m, "t2")
}

// Decay sweeps the wait between a pi pulse and the readout.
type Decay struct{ m measurement }

func NewDecay(env Env, name string, fixed Fixed, delays []float64) *Decay {
	return &Decay{m: measurement{
		env:   env,
		name:  name,
		fixed: fixed,
		build: pulse.Decay,
		axis:  result.Axis{Name: "Readout delay", Unit: "ns", Values: delays},
	}}
}

func (d *Decay) Launch(ctx context.Context) (DecayResult, error) {
	return launchDecay(ctx, &d.m, "t1")
}

func launchDecay(ctx context.Context, m *measurement, key string) (DecayResult, error) {
	res, err := m.run(ctx)
	if err != nil {
		return DecayResult{}, err
	}
	ys := m.projected(res)
	// the excited state sits at the start: make the decay point downwards
	if n := len(ys); n > 1 && ys[0] < ys[n-1] {
		for k := range ys {
			ys[k] = -ys[k]
		}
	}
	d, err := fit.FitExponential(m.axis.Values, ys)
	if err != nil {
		return DecayResult{Result: res}, errors.Wrapf(err, "fit %s", key)
	}
	res.SetFit(key, d.Time)
	res.SetFit("loss", d.Loss)
	m.log().Info("decay fitted", zap.String("kind", key), zap.Float64("time", d.Time))
	return DecayResult{Result: res, Time: d.Time}, m.save(ctx, res)
}
