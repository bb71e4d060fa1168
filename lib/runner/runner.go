// Package runner chains the characterization of every qubit of a sample:
// resonator search, single and two-tone spectroscopy, the sweet spot, and
// the pulsed measurements at a set of bias points.
package runner

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/gotmc/fulaut/lib/connutil"
	"github.com/gotmc/fulaut/lib/fit"
	"github.com/gotmc/fulaut/lib/params"
	"github.com/gotmc/fulaut/lib/pna"
	"github.com/gotmc/fulaut/lib/pulse"
	"github.com/gotmc/fulaut/lib/pulsed"
	"github.com/gotmc/fulaut/lib/result"
	"github.com/gotmc/fulaut/lib/spectro"
)

// The coarse Ramsey measurement locating the qubit frequency.
const (
	coarseRamseyDetuning = 10e6 // Hz
	coarseRamseyDelay    = 500  // ns
	coarseRamseyPoints   = 201
)

// Readout detection before the pulsed measurements.
const (
	readoutAverages  = 1000
	readoutBandwidth = 1e5
	readoutPoints    = 201
)

// Report is what was learned about one qubit.
type Report struct {
	Qubit           string
	ScanArea        [2]float64
	STS             spectro.STSFit
	TTS             fit.Transmon
	SweetSpotBias   float64
	SweetSpotFreq   float64 // Hz
	ExcitationPower float64 // dBm
	Points          []Point
}

// Point are the pulsed measurements at one bias.
type Point struct {
	PeriodFraction   float64
	Bias             float64
	ReadoutFrequency float64 // Hz
	QubitFrequency   float64 // Hz, after the coarse Ramsey correction
	Rabi             pulsed.RabiResult
	Ramsey           pulsed.RamseyResult
	HahnEcho         pulsed.DecayResult
	Decay            pulsed.DecayResult
}

// Runner drives one bench through the whole characterization.
type Runner struct {
	bench    *connutil.Bench
	sample   string
	settings params.Settings
	store    *result.Store
	log      *zap.Logger
}

type Option func(*Runner)

func WithLogger(l *zap.Logger) Option { return func(r *Runner) { r.log = l } }

// New selects the S-parameter on the analyzer and switches the excitation
// off.
func New(bench *connutil.Bench, sample, sparam string, settings params.Settings, store *result.Store, opts ...Option) (*Runner, error) {
	r := &Runner{bench: bench, sample: sample, settings: settings, store: store, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if err := bench.VNA.SelectSParameter(sparam); err != nil {
		return nil, errors.Wrap(err, "select s-parameter")
	}
	if err := bench.Excitation.SetOutput(false); err != nil {
		return nil, errors.Wrap(err, "excitation off")
	}
	return r, nil
}

func (r *Runner) spectroEnv() spectro.Env {
	return spectro.Env{
		VNA:        r.bench.VNA,
		Excitation: r.bench.Excitation,
		Bias:       r.bench.Bias,
		Settings:   r.settings,
		Store:      r.store,
		Sample:     r.sample,
		Log:        r.log,
	}
}

func (r *Runner) pulsedEnv(qubit string) pulsed.Env {
	return pulsed.Env{
		VNA:        r.bench.VNA,
		Excitation: r.bench.Excitation,
		AWG:        r.bench.AWG,
		Store:      r.store,
		Sample:     r.sample,
		Log:        r.log.With(zap.String("qubit", qubit)),
	}
}

// Run characterizes the qubits, given as indices of the resonators in
// order of frequency, at each bias fraction of a period away from the
// sweet spot. No fractions means the sweet spot only.
func (r *Runner) Run(ctx context.Context, qubits []int, fractions []float64) ([]Report, error) {
	if len(fractions) == 0 {
		fractions = []float64{0}
	}
	r.log.Info("measurement started", zap.Ints("qubits", qubits), zap.Float64s("period_fractions", fractions))
	areas, err := spectro.NewOracle(r.spectroEnv()).Launch(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resonator oracle")
	}
	var reports []Report
	for idx, area := range areas {
		if !slices.Contains(qubits, idx) {
			continue
		}
		if idx >= len(params.QubitNames) {
			break
		}
		rep, err := r.qubit(ctx, params.QubitNames[idx], area, fractions)
		if err != nil {
			return reports, errors.Wrapf(err, "qubit %s", params.QubitNames[idx])
		}
		reports = append(reports, rep)
	}
	for _, q := range qubits {
		if q >= len(areas) {
			r.log.Warn("no resonator for qubit", zap.Int("index", q), zap.Int("found", len(areas)))
		}
	}
	return reports, nil
}

func (r *Runner) qubit(ctx context.Context, name string, area [2]float64, fractions []float64) (Report, error) {
	env := r.spectroEnv()
	log := r.log.With(zap.String("qubit", name))
	rep := Report{Qubit: name}

	sts := spectro.NewSTSRunner(env, name, area)
	var err error
	if rep.STS, err = sts.Run(ctx); err != nil {
		return rep, errors.Wrap(err, "single-tone spectroscopy")
	}
	rep.ScanArea = sts.ScanArea()

	if rep.TTS, err = spectro.NewTTSRunner(env, name, rep.ScanArea, rep.STS).Run(ctx); err != nil {
		return rep, errors.Wrap(err, "two-tone spectroscopy")
	}
	rep.SweetSpotBias = rep.TTS.SweetSpot
	if r.settings.Global.SweetSpot(name) == "bottom" {
		rep.SweetSpotBias -= rep.TTS.Period / 2
	}

	sws := spectro.NewSweetSpotRunner(env, name, rep.ScanArea, rep.TTS)
	rep.SweetSpotFreq, rep.ExcitationPower, err = sws.Launch(ctx, rep.SweetSpotBias)
	if errors.Is(err, spectro.ErrNoLine) {
		rep.SweetSpotFreq = rep.TTS.Frequency(rep.SweetSpotBias)
		rep.ExcitationPower = r.settings.Global.ExcitationPower
		log.Warn("no line at the sweet spot, using the spectrum fit",
			zap.Float64("frequency", rep.SweetSpotFreq), zap.Error(err))
	} else if err != nil {
		return rep, errors.Wrap(err, "sweet spot")
	}

	for _, frac := range fractions {
		tag := ""
		if len(fractions) > 1 {
			tag = fmt.Sprintf("-%g", frac)
		}
		p, err := r.pulsed(ctx, name, tag, rep, frac)
		if err != nil {
			return rep, errors.Wrapf(err, "pulsed measurements %g periods away", frac)
		}
		rep.Points = append(rep.Points, p)
	}
	return rep, nil
}

// readout finds the resonator with the readout settings, falling back to
// the fast detector when the fit fails.
func (r *Runner) readout(ctx context.Context, area [2]float64) (float64, error) {
	typ := spectro.ResonatorType(r.settings.Global.ResonatorType)
	v := r.bench.VNA
	if err := r.bench.Excitation.SetOutput(false); err != nil {
		return 0, err
	}
	err := v.Configure(
		pna.FreqLimits(area[0], area[1]),
		pna.SweepType("LIN"),
		pna.Points(readoutPoints),
		pna.Bandwidth(readoutBandwidth),
		pna.Averages(readoutAverages, pna.AverageSweep),
		pna.Power(r.settings.Global.ReadoutPower),
	)
	if err != nil {
		return 0, errors.Wrap(err, "configure readout detection")
	}
	tr, err := v.MeasureAndGetData(ctx, pna.Raw)
	if err != nil {
		return 0, errors.Wrap(err, "readout detection sweep")
	}
	freqs := v.Frequencies()
	res, err := spectro.Detector{Type: typ}.Detect(freqs, tr.Raw)
	if err != nil {
		r.log.Warn("readout fit failed, using the fast detector", zap.Error(err))
		if res, err = (spectro.Detector{Type: typ, Fast: true}).Detect(freqs, tr.Raw); err != nil {
			return 0, errors.Wrap(err, "detect readout resonator")
		}
	}
	return res.Frequency, nil
}

// qubitFrequency is the sweet spot frequency moved along the fitted
// spectrum to bias.
func qubitFrequency(rep Report, bias float64) float64 {
	return rep.SweetSpotFreq + rep.TTS.Frequency(bias) - rep.TTS.Frequency(rep.SweetSpotBias)
}

func (r *Runner) fixed(qubit string, p Point, s params.Pulsed, frequency float64) pulsed.Fixed {
	return pulsed.Fixed{
		Sequence: pulse.Params{
			ReadoutDuration:     s.ReadoutDuration,
			RepetitionPeriod:    s.RepetitionPeriod,
			ExcitationAmplitude: 1,
		},
		ReadoutFrequency:    p.ReadoutFrequency,
		ReadoutPower:        r.settings.Global.ReadoutPower,
		Averages:            s.Averages,
		ExcitationFrequency: frequency,
		ExcitationPower:     r.settings.Global.ExcitationPower,
		Mixer:               r.settings.Mixer(qubit),
		SampleRate:          r.settings.Bench.SampleRate,
		Amplitude:           r.settings.Bench.AWGAmplitude,
	}
}

func delays(max float64, n int) []float64 {
	xs := make([]float64, n)
	floats.Span(xs, 0, max)
	return xs
}

func (r *Runner) rabi(ctx context.Context, qubit, tag string, p Point) (pulsed.RabiResult, error) {
	s := r.settings.Rabi
	f := r.fixed(qubit, p, s, p.QubitFrequency)
	f.Sequence.EndGap = 100
	f.Sequence.ReadoutExcitationGap = 10
	return pulsed.NewRabi(r.pulsedEnv(qubit), qubit+"-rabi"+tag, f, delays(s.MaxDelay, s.Points)).Launch(ctx)
}

// pulsed measures at frac periods from the sweet spot. Results are saved as
// <qubit>-<measurement><tag>.
func (r *Runner) pulsed(ctx context.Context, qubit, tag string, rep Report, frac float64) (Point, error) {
	log := r.log.With(zap.String("qubit", qubit))
	p := Point{PeriodFraction: frac, Bias: rep.SweetSpotBias + frac*rep.TTS.Period}
	p.QubitFrequency = qubitFrequency(rep, p.Bias)
	log.Info("pulsed measurements",
		zap.Float64("frequency", p.QubitFrequency),
		zap.Float64("bias", p.Bias),
		zap.String("unit", r.bench.Bias.BiasType().Unit()),
		zap.Float64("period_fraction", frac))
	if err := r.bench.Bias.Set(p.Bias); err != nil {
		return p, errors.Wrap(err, "set bias")
	}
	var err error
	if p.ReadoutFrequency, err = r.readout(ctx, rep.ScanArea); err != nil {
		return p, err
	}
	log.Info("readout frequency", zap.Float64("frequency", p.ReadoutFrequency))

	rabi, err := r.rabi(ctx, qubit, tag, p)
	if err != nil {
		return p, errors.Wrap(err, "rabi")
	}

	// coarse ramsey, kept out of the store
	s := r.settings.Ramsey.Pulsed
	f := r.fixed(qubit, p, s, p.QubitFrequency-coarseRamseyDetuning)
	f.Sequence.PiPulse = rabi.PiPulse
	env := r.pulsedEnv(qubit)
	env.Store = nil
	coarse, err := pulsed.NewRamsey(env, qubit+"-ramsey", f, delays(coarseRamseyDelay, coarseRamseyPoints)).Launch(ctx)
	if err != nil {
		return p, errors.Wrap(err, "coarse ramsey")
	}
	p.QubitFrequency -= coarseRamseyDetuning - coarse.Frequency
	log.Info("qubit frequency corrected", zap.Float64("frequency", p.QubitFrequency),
		zap.Float64("error", coarseRamseyDetuning-coarse.Frequency))

	if p.Rabi, err = r.rabi(ctx, qubit, tag, p); err != nil {
		return p, errors.Wrap(err, "rabi")
	}
	pi := p.Rabi.PiPulse

	f = r.fixed(qubit, p, s, p.QubitFrequency-r.settings.Ramsey.Detuning)
	f.Sequence.PiPulse = pi
	if p.Ramsey, err = pulsed.NewRamsey(r.pulsedEnv(qubit), qubit+"-ramsey"+tag, f, delays(s.MaxDelay, s.Points)).Launch(ctx); err != nil {
		return p, errors.Wrap(err, "ramsey")
	}

	s = r.settings.HahnEcho
	f = r.fixed(qubit, p, s, p.QubitFrequency)
	f.Sequence.PiPulse = pi
	if p.HahnEcho, err = pulsed.NewHahnEcho(r.pulsedEnv(qubit), qubit+"-echo"+tag, f, delays(s.MaxDelay, s.Points)).Launch(ctx); err != nil {
		return p, errors.Wrap(err, "hahn echo")
	}

	s = r.settings.Decay
	f = r.fixed(qubit, p, s, p.QubitFrequency)
	f.Sequence.PiPulse = pi
	if p.Decay, err = pulsed.NewDecay(r.pulsedEnv(qubit), qubit+"-decay"+tag, f, delays(s.MaxDelay, s.Points)).Launch(ctx); err != nil {
		return p, errors.Wrap(err, "decay")
	}
	log.Info("qubit characterized",
		zap.Float64("pi_pulse", pi),
		zap.Float64("t2_star", p.Ramsey.T2Star),
		zap.Float64("t2", p.HahnEcho.Time),
		zap.Float64("t1", p.Decay.Time))
	return p, nil
}

// String summarizes the report on one line.
func (rep Report) String() string {
	s := fmt.Sprintf("%s: sweet spot %.4g at %.6g GHz", rep.Qubit, rep.SweetSpotBias, rep.SweetSpotFreq/1e9)
	for _, p := range rep.Points {
		s += fmt.Sprintf("; %.3g periods: readout %.6g GHz, f %.6g GHz, pi %.3g ns, T2* %.4g ns, T2 %.4g ns, T1 %.4g ns",
			p.PeriodFraction, p.ReadoutFrequency/1e9, p.QubitFrequency/1e9, p.Rabi.PiPulse, p.Ramsey.T2Star, p.HahnEcho.Time, p.Decay.Time)
	}
	return s
}
