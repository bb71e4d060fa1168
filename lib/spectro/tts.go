package spectro

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/fit"
	"github.com/gotmc/fulaut/lib/result"
)

// TTSRunner measures two-tone spectroscopy: at each bias the resonator is
// found again, the analyzer reads out at the resonance in CW mode and the
// excitation steps through its frequency list once per analyzer point.
type TTSRunner struct {
	env   Env
	qubit string
	area  [2]float64
	sts   STSFit
}

func NewTTSRunner(env Env, qubit string, area [2]float64, sts STSFit) *TTSRunner {
	return &TTSRunner{env: env, qubit: qubit, area: area, sts: sts}
}

// Biases are the biases measured: the sweet spot found by single-tone
// spectroscopy plus or minus half the configured period fraction.
func (r *TTSRunner) Biases() []float64 {
	s := r.env.Settings.TTS
	half := s.PeriodFraction * r.sts.Period / 2
	return linspace(r.sts.SweetSpot-half, r.sts.SweetSpot+half, s.BiasPoints)
}

// Run returns the fitted transmon spectrum.
func (r *TTSRunner) Run(ctx context.Context) (fit.Transmon, error) {
	s := r.env.Settings.TTS
	log := r.env.logger().With(zap.String("qubit", r.qubit))
	biases := r.Biases()
	excitation := linspace(s.ExcitationLimits[0], s.ExcitationLimits[1], s.Points)

	var all []complex128
	peaks := make([]float64, len(biases))
	for k, b := range biases {
		if err := r.env.Bias.Set(b); err != nil {
			return fit.Transmon{}, errors.Wrap(err, "set bias")
		}
		res, err := r.env.DetectReadout(ctx, r.area, s.DetectionPoints, s.DetectionBandwidth, s.Averages)
		if err != nil {
			return fit.Transmon{}, errors.Wrapf(err, "detect resonator at bias %g", b)
		}
		if err := r.env.twoTone(res.Frequency, excitation, s.Bandwidth, s.Averages); err != nil {
			return fit.Transmon{}, err
		}
		data, err := r.env.twoToneSweep(ctx, r.env.Settings.Global.ExcitationPower)
		if err != nil {
			return fit.Transmon{}, err
		}
		all = append(all, data...)
		p := FindPeak(excitation, data)
		peaks[k] = p.Frequency
		log.Debug("qubit line", zap.Float64("bias", b), zap.Float64("readout", res.Frequency),
			zap.Float64("frequency", p.Frequency), zap.Bool("fitted", p.Fitted))
	}
	if err := r.env.stopExcitation(); err != nil {
		return fit.Transmon{}, err
	}

	tr, err := fit.FitTransmon(biases, peaks, r.sts.Period)
	if err != nil {
		return fit.Transmon{}, errors.Wrap(err, "fit transmon spectrum")
	}
	log.Info("two-tone spectroscopy fitted",
		zap.Float64("period", tr.Period),
		zap.Float64("sweet_spot", tr.SweetSpot),
		zap.Float64("fmax", tr.FMax))

	rr := result.New(r.qubit+"-tts", r.env.Sample)
	if err := rr.SetData(all, r.env.biasAxis(biases), result.Axis{Name: "Frequency", Unit: "Hz", Values: excitation}); err != nil {
		return tr, err
	}
	rr.SetEquipment("vna", r.env.vnaSettings())
	rr.SetEquipment("exc_iqvg", map[string]any{"power": r.env.Settings.Global.ExcitationPower})
	rr.SetFit("period", tr.Period)
	rr.SetFit("sweet_spot", tr.SweetSpot)
	rr.SetFit("fmax", tr.FMax)
	rr.SetFit("loss", tr.Loss)
	return tr, r.env.save(ctx, rr)
}
