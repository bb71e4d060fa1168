package spectro

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/fit"
	"github.com/gotmc/fulaut/lib/pna"
	"github.com/gotmc/fulaut/lib/result"
)

// Oracle scans a wide frequency range for the readout resonators.
type Oracle struct {
	env Env
}

func NewOracle(env Env) *Oracle { return &Oracle{env: env} }

// Launch returns one scan area per resonator found, in order of frequency.
func (o *Oracle) Launch(ctx context.Context) ([][2]float64, error) {
	s := o.env.Settings.Oracle
	log := o.env.logger()
	if o.env.Excitation != nil {
		if err := o.env.Excitation.SetOutput(false); err != nil {
			return nil, err
		}
	}
	err := o.env.VNA.Configure(
		pna.FreqLimits(s.FreqLimits[0], s.FreqLimits[1]),
		pna.SweepType("LIN"),
		pna.Points(s.Points),
		pna.Bandwidth(s.Bandwidth),
		pna.Averages(s.Averages, pna.AverageSweep),
		pna.Power(o.env.Settings.Global.ReadoutPower),
	)
	if err != nil {
		return nil, errors.Wrap(err, "configure vna")
	}
	data, err := o.env.sweep(ctx)
	if err != nil {
		return nil, err
	}
	freqs := o.env.VNA.Frequencies()

	found := FindResonances(freqs, fit.Magnitudes(data), s.ResonatorCount, s.AreaWidth, o.env.resonatorType())
	if len(found) == 0 {
		return nil, errors.Wrapf(ErrNoResonance, "between %g and %g Hz", s.FreqLimits[0], s.FreqLimits[1])
	}
	if len(found) < s.ResonatorCount {
		log.Warn("fewer resonators than expected", zap.Int("found", len(found)), zap.Int("expected", s.ResonatorCount))
	}
	areas := make([][2]float64, len(found))
	for k, f := range found {
		areas[k] = [2]float64{f - s.AreaWidth/2, f + s.AreaWidth/2}
		log.Info("resonator found", zap.Int("index", k), zap.Float64("frequency", f))
	}

	r := result.New("resonator-oracle", o.env.Sample)
	if err := r.SetData(data, result.Axis{Name: "Frequency", Unit: "Hz", Values: freqs}); err != nil {
		return nil, err
	}
	r.SetEquipment("vna", o.env.vnaSettings())
	for k, f := range found {
		r.SetFit(fmt.Sprintf("resonator_%d", k), f)
	}
	return areas, o.env.save(ctx, r)
}
