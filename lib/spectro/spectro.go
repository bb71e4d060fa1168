package spectro

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/bias"
	"github.com/gotmc/fulaut/lib/exg"
	"github.com/gotmc/fulaut/lib/params"
	"github.com/gotmc/fulaut/lib/pna"
	"github.com/gotmc/fulaut/lib/result"
)

// Env is what every spectroscopy runner works with.
type Env struct {
	VNA        *pna.VNA
	Excitation *exg.Generator
	Bias       bias.Source
	Settings   params.Settings
	Store      *result.Store // nil to keep results in memory only
	Sample     string
	Log        *zap.Logger
}

func (e Env) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Env) resonatorType() ResonatorType {
	return ResonatorType(e.Settings.Global.ResonatorType)
}

func (e Env) save(ctx context.Context, r *result.Result) error {
	if e.Store == nil {
		return nil
	}
	if _, err := e.Store.Save(ctx, r); err != nil {
		return errors.Wrapf(err, "save %s", r.Name)
	}
	return nil
}

// biasAxis names the bias axis after the source.
func (e Env) biasAxis(values []float64) result.Axis {
	t := e.Bias.BiasType()
	return result.Axis{Name: t.Name(), Unit: t.Unit(), Values: values}
}

// sweep runs one synchronised VNA sweep and returns the raw trace.
func (e Env) sweep(ctx context.Context) ([]complex128, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tr, err := e.VNA.MeasureAndGetData(ctx, pna.Raw)
	if err != nil {
		return nil, errors.Wrap(err, "vna sweep")
	}
	return tr.Raw, nil
}

// vnaSettings returns the analyzer settings for the result context.
func (e Env) vnaSettings() map[string]any {
	p, err := e.VNA.Parameters()
	if err != nil {
		e.logger().Warn("reading analyzer settings", zap.Error(err))
		return nil
	}
	return map[string]any{
		"bandwidth":   p.Bandwidth,
		"nop":         p.Points,
		"sweep_type":  p.SweepType,
		"power":       p.Power,
		"averages":    p.Averages,
		"freq_limits": []float64{p.FreqLimits[0], p.FreqLimits[1]},
	}
}

// DetectReadout measures the area with the excitation off and returns the
// resonance.
func (e Env) DetectReadout(ctx context.Context, area [2]float64, nop int, bandwidth float64, averages int) (Resonance, error) {
	if e.Excitation != nil {
		if err := e.Excitation.SetOutput(false); err != nil {
			return Resonance{}, err
		}
	}
	err := e.VNA.Configure(
		pna.FreqLimits(area[0], area[1]),
		pna.SweepType("LIN"),
		pna.Points(nop),
		pna.Bandwidth(bandwidth),
		pna.Averages(averages, pna.AverageSweep),
		pna.Power(e.Settings.Global.ReadoutPower),
	)
	if err != nil {
		return Resonance{}, errors.Wrap(err, "configure vna")
	}
	data, err := e.sweep(ctx)
	if err != nil {
		return Resonance{}, err
	}
	return DetectResonance(e.VNA.Frequencies(), data, e.resonatorType())
}

// twoTone prepares the analyzer for CW readout at frequency, stepping the
// excitation list one point per analyzer point.
func (e Env) twoTone(frequency float64, excitation []float64, bandwidth float64, averages int) error {
	err := e.VNA.Configure(
		pna.SweepType("CW"),
		pna.FreqLimits(frequency, frequency),
		pna.Points(len(excitation)),
		pna.Bandwidth(bandwidth),
		pna.Averages(averages, pna.AverageSweep),
		pna.Power(e.Settings.Global.ReadoutPower),
		pna.AuxNumber(1),
		pna.TriggerPerPoint(true),
		pna.AuxPositive(true),
		pna.AuxBefore(false),
	)
	if err != nil {
		return errors.Wrap(err, "configure vna")
	}
	err = e.Excitation.ConfigureListSweep(exg.ListSweep{
		Frequencies:  excitation,
		PointTrigger: "EXT",
		SweepTrigger: "BUS",
	})
	if err != nil {
		return errors.Wrap(err, "configure excitation list")
	}
	return nil
}

// twoToneSweep records one trace with the excitation list running.
func (e Env) twoToneSweep(ctx context.Context, power float64) ([]complex128, error) {
	if err := e.Excitation.SetPower(power); err != nil {
		return nil, err
	}
	if err := e.Excitation.SetOutput(true); err != nil {
		return nil, err
	}
	if err := e.Excitation.Initiate(); err != nil {
		return nil, err
	}
	if err := e.Excitation.SoftwareTrigger(); err != nil {
		return nil, err
	}
	if err := e.VNA.ClearAverages(); err != nil {
		return nil, err
	}
	return e.sweep(ctx)
}

// stopExcitation switches the excitation off and back to CW.
func (e Env) stopExcitation() error {
	if err := e.Excitation.SetOutput(false); err != nil {
		return err
	}
	return e.Excitation.SetCW()
}
