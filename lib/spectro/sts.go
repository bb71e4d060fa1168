package spectro

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/gotmc/fulaut/lib/fit"
	"github.com/gotmc/fulaut/lib/pna"
	"github.com/gotmc/fulaut/lib/result"
)

// STSFit describes the resonator frequency versus bias.
type STSFit struct {
	Period    float64 // bias period
	SweetSpot float64 // bias of the resonator frequency maximum
	Offset    float64 // mean resonator frequency
	Amplitude float64 // Hz
	Loss      float64
}

// STSRunner measures single-tone spectroscopy versus bias.
type STSRunner struct {
	env   Env
	qubit string
	area  [2]float64
}

func NewSTSRunner(env Env, qubit string, area [2]float64) *STSRunner {
	return &STSRunner{env: env, qubit: qubit, area: area}
}

// ScanArea is the area after the last Run: it spans every resonator
// frequency seen plus the configured margin.
func (r *STSRunner) ScanArea() [2]float64 { return r.area }

// Run sweeps the bias, detects the resonator at each bias and fits a
// cosine to the resonator frequencies.
func (r *STSRunner) Run(ctx context.Context) (STSFit, error) {
	s := r.env.Settings.STS
	log := r.env.logger().With(zap.String("qubit", r.qubit))
	if r.env.Excitation != nil {
		if err := r.env.Excitation.SetOutput(false); err != nil {
			return STSFit{}, err
		}
	}
	err := r.env.VNA.Configure(
		pna.FreqLimits(r.area[0], r.area[1]),
		pna.SweepType("LIN"),
		pna.Points(s.Points),
		pna.Bandwidth(s.Bandwidth),
		pna.Averages(s.Averages, pna.AverageSweep),
		pna.Power(r.env.Settings.Global.ReadoutPower),
	)
	if err != nil {
		return STSFit{}, errors.Wrap(err, "configure vna")
	}
	freqs := r.env.VNA.Frequencies()
	biases := linspace(s.BiasLimits[0], s.BiasLimits[1], s.BiasPoints)

	var all []complex128
	resonances := make([]float64, len(biases))
	for k, b := range biases {
		if err := r.env.Bias.Set(b); err != nil {
			return STSFit{}, errors.Wrap(err, "set bias")
		}
		data, err := r.env.sweep(ctx)
		if err != nil {
			return STSFit{}, err
		}
		all = append(all, data...)
		res, err := DetectResonance(freqs, data, r.env.resonatorType())
		if err != nil {
			return STSFit{}, errors.Wrapf(err, "bias %g", b)
		}
		resonances[k] = res.Frequency
		log.Debug("resonator", zap.Float64("bias", b), zap.Float64("frequency", res.Frequency))
	}

	p, err := fit.FitCosine(biases, resonances)
	if err != nil {
		return STSFit{}, errors.Wrap(err, "fit resonator frequency versus bias")
	}
	out := STSFit{Period: p.Period, SweetSpot: p.X0, Offset: p.Offset, Amplitude: p.Amplitude, Loss: p.Loss}
	r.area = [2]float64{floats.Min(resonances) - s.AreaMargin, floats.Max(resonances) + s.AreaMargin}
	log.Info("single-tone spectroscopy fitted",
		zap.Float64("period", out.Period),
		zap.Float64("sweet_spot", out.SweetSpot),
		zap.Float64s("scan_area", r.area[:]))

	res := result.New(r.qubit+"-sts", r.env.Sample)
	if err := res.SetData(all, r.env.biasAxis(biases), result.Axis{Name: "Frequency", Unit: "Hz", Values: freqs}); err != nil {
		return out, err
	}
	res.SetEquipment("vna", r.env.vnaSettings())
	res.SetFit("period", out.Period)
	res.SetFit("sweet_spot", out.SweetSpot)
	res.SetFit("offset", out.Offset)
	res.SetFit("amplitude", out.Amplitude)
	res.SetFit("loss", out.Loss)
	return out, r.env.save(ctx, res)
}
