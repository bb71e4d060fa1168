package pna

import "time"

// Parameters is a snapshot of the sweep settings.
type Parameters struct {
	Bandwidth  float64    `json:"bandwidth" yaml:"bandwidth"`
	Points     int        `json:"nop" yaml:"nop"`
	SweepType  string     `json:"sweep_type" yaml:"sweep_type"`
	Power      float64    `json:"power" yaml:"power"`
	Averages   int        `json:"averages" yaml:"averages"`
	FreqLimits [2]float64 `json:"freq_limits" yaml:"freq_limits"`
}

// Parameters reads the sweep settings from the analyzer.
func (v *VNA) Parameters() (Parameters, error) {
	var p Parameters
	var err error
	if p.Bandwidth, err = v.Bandwidth(); err != nil {
		return p, err
	}
	if p.Points, err = v.Points(); err != nil {
		return p, err
	}
	if p.SweepType, err = v.SweepType(); err != nil {
		return p, err
	}
	if p.Power, err = v.Power(); err != nil {
		return p, err
	}
	if p.Averages, err = v.Averages(); err != nil {
		return p, err
	}
	p.FreqLimits = [2]float64{v.start, v.stop}
	return p, nil
}

// settings collects the values given to Configure. A nil pointer means the
// setting was not given.
type settings struct {
	bandwidth       *float64
	averages        *int
	averagingMode   AverageMode
	power           *float64
	points          *int
	freqLimits      *[2]float64
	span            *float64
	center          *float64
	sweepType       *string
	auxNumber       *int
	triggerSource   *string
	triggerDelay    *time.Duration
	triggerPerPoint *bool
	auxPositive     *bool
	auxBefore       *bool
	auxDuration     *time.Duration
}

// Setting is one argument of Configure.
type Setting func(*settings)

func Bandwidth(hz float64) Setting { return func(s *settings) { s.bandwidth = &hz } }

// Averages sets the average count and mode, see SetAverages.
func Averages(n int, mode AverageMode) Setting {
	return func(s *settings) { s.averages = &n; s.averagingMode = mode }
}

func Power(dBm float64) Setting { return func(s *settings) { s.power = &dBm } }
func Points(nop int) Setting { return func(s *settings) { s.points = &nop } }

// FreqLimits sets start and stop, or the CW frequency (their mean) when the
// sweep type is CW.
func FreqLimits(start, stop float64) Setting {
	return func(s *settings) { s.freqLimits = &[2]float64{start, stop} }
}

func Span(hz float64) Setting { return func(s *settings) { s.span = &hz } }
func Center(hz float64) Setting { return func(s *settings) { s.center = &hz } }
func SweepType(t string) Setting { return func(s *settings) { s.sweepType = &t } }
func AuxNumber(n int) Setting { return func(s *settings) { s.auxNumber = &n } }
func TriggerSource(t string) Setting { return func(s *settings) { s.triggerSource = &t } }
func TriggerDelay(d time.Duration) Setting {
	return func(s *settings) { s.triggerDelay = &d }
}
func TriggerPerPoint(b bool) Setting { return func(s *settings) { s.triggerPerPoint = &b } }
func AuxPositive(b bool) Setting { return func(s *settings) { s.auxPositive = &b } }
func AuxBefore(b bool) Setting { return func(s *settings) { s.auxBefore = &b } }
func AuxDuration(d time.Duration) Setting {
	return func(s *settings) { s.auxDuration = &d }
}

// Configure applies the given settings in a fixed order: bandwidth,
// averages, power, points, frequency limits, span, center, sweep type, aux
// output number, trigger source and delay, then the other aux settings. The
// order of the arguments does not matter.
func (v *VNA) Configure(opts ...Setting) error {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	if s.bandwidth != nil {
		if err := v.SetBandwidth(*s.bandwidth); err != nil {
			return err
		}
	}
	if s.averages != nil {
		if err := v.SetAverages(*s.averages, s.averagingMode); err != nil {
			return err
		}
	}
	if s.power != nil {
		if err := v.SetPower(*s.power); err != nil {
			return err
		}
	}
	if s.points != nil {
		if err := v.SetPoints(*s.points); err != nil {
			return err
		}
	}
	if s.freqLimits != nil {
		l := *s.freqLimits
		if s.sweepType != nil && *s.sweepType == "CW" {
			if err := v.SetCW((l[0]+l[1])/2, 0); err != nil {
				return err
			}
		} else if err := v.SetFrequencyLimits(l[0], l[1]); err != nil {
			return err
		}
	}
	if s.span != nil {
		if err := v.SetSpan(*s.span); err != nil {
			return err
		}
	}
	if s.center != nil {
		if err := v.SetCenter(*s.center); err != nil {
			return err
		}
	}
	if s.sweepType != nil {
		if err := v.SetSweepType(*s.sweepType); err != nil {
			return err
		}
	}
	if s.auxNumber != nil {
		if err := v.SetAuxNumber(*s.auxNumber); err != nil {
			return err
		}
	}
	if s.triggerSource != nil {
		if err := v.SetTriggerSource(*s.triggerSource); err != nil {
			return err
		}
	}
	if s.triggerDelay != nil {
		if err := v.SetTriggerDelay(*s.triggerDelay); err != nil {
			return err
		}
	}
	if s.triggerPerPoint != nil {
		if err := v.SetTriggerPerPoint(*s.triggerPerPoint); err != nil {
			return err
		}
	}
	if s.auxPositive != nil {
		if err := v.SetAuxPositive(*s.auxPositive); err != nil {
			return err
		}
	}
	if s.auxBefore != nil {
		if err := v.SetAuxBefore(*s.auxBefore); err != nil {
			return err
		}
	}
	if s.auxDuration != nil {
		if err := v.SetAuxDuration(*s.auxDuration); err != nil {
			return err
		}
	}
	return nil
}
