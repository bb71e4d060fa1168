package spectro

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/fit"
	"github.com/gotmc/fulaut/lib/result"
)

var ErrNoLine = errors.New("spectro: no qubit line found")

// SweetSpotRunner finds the qubit frequency at the sweet spot precisely. It
// repeats two-tone spectroscopy in a narrow window for each configured
// excitation power and keeps the weakest power that still shows the line,
// where the AC Stark shift is smallest.
type SweetSpotRunner struct {
	env   Env
	qubit string
	area  [2]float64
	tts   fit.Transmon
}

func NewSweetSpotRunner(env Env, qubit string, area [2]float64, tts fit.Transmon) *SweetSpotRunner {
	return &SweetSpotRunner{env: env, qubit: qubit, area: area, tts: tts}
}

// Launch returns the qubit frequency at bias and the excitation power it
// was found with.
func (r *SweetSpotRunner) Launch(ctx context.Context, bias float64) (frequency, power float64, err error) {
	s := r.env.Settings.SweetSpot
	tts := r.env.Settings.TTS
	log := r.env.logger().With(zap.String("qubit", r.qubit))
	if err := r.env.Bias.Set(bias); err != nil {
		return 0, 0, errors.Wrap(err, "set bias")
	}
	predicted := r.tts.Frequency(bias)
	excitation := linspace(predicted-s.Span/2, predicted+s.Span/2, s.Points)

	res, err := r.env.DetectReadout(ctx, r.area, tts.DetectionPoints, tts.DetectionBandwidth, s.Averages)
	if err != nil {
		return 0, 0, errors.Wrap(err, "detect resonator")
	}
	if err := r.env.twoTone(res.Frequency, excitation, s.Bandwidth, s.Averages); err != nil {
		return 0, 0, err
	}

	powers := append([]float64(nil), s.Powers...)
	sort.Float64s(powers)
	var all []complex128
	found := false
	for _, p := range powers {
		data, err := r.env.twoToneSweep(ctx, p)
		if err != nil {
			return 0, 0, err
		}
		all = append(all, data...)
		peak := FindPeak(excitation, data)
		log.Debug("sweet spot line", zap.Float64("power", p), zap.Float64("frequency", peak.Frequency),
			zap.Float64("contrast", peak.Contrast))
		if !found && peak.Fitted && peak.Contrast >= s.MinContrast {
			frequency, power, found = peak.Frequency, p, true
		}
	}
	if err := r.env.stopExcitation(); err != nil {
		return 0, 0, err
	}

	rr := result.New(r.qubit+"-sws", r.env.Sample)
	if err := rr.SetData(all,
		result.Axis{Name: "Power", Unit: "dBm", Values: powers},
		result.Axis{Name: "Frequency", Unit: "Hz", Values: excitation}); err != nil {
		return 0, 0, err
	}
	rr.SetEquipment("vna", r.env.vnaSettings())
	rr.Comment("bias %g %s, predicted %g Hz", bias, r.env.Bias.BiasType().Unit(), predicted)
	if found {
		rr.SetFit("frequency", frequency)
		rr.SetFit("power", power)
	}
	if err := r.env.save(ctx, rr); err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, errors.Wrapf(ErrNoLine, "near %g Hz", predicted)
	}
	log.Info("sweet spot frequency", zap.Float64("frequency", frequency), zap.Float64("power", power))
	return frequency, power, nil
}
