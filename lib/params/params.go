// Package params holds the experiment settings read from a TOML file.
package params

import (
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/pulse"
)

// QubitNames label the resonators in order of frequency.
var QubitNames = []string{"I", "II", "III", "IV", "V", "VI", "VII", "VIII"}

type Global struct {
	ReadoutPower    float64           `toml:"readout_power"`
	ExcitationPower float64           `toml:"excitation_power"`
	ResonatorType   string            `toml:"resonator_type"` // notch or transmission
	WhichSweetSpot  map[string]string `toml:"which_sweet_spot"`
	DataDir         string            `toml:"data_dir"`
	Catalog         string            `toml:"catalog"` // SQLite file, empty for none
}

// SweetSpot returns "top" or "bottom" for qubit, "top" if unset.
func (g Global) SweetSpot(qubit string) string {
	if s := g.WhichSweetSpot[qubit]; s == "bottom" {
		return s
	}
	return "top"
}

// Oracle is the wide scan looking for resonators.
type Oracle struct {
	FreqLimits     [2]float64 `toml:"freq_limits"`
	Points         int        `toml:"nop"`
	Bandwidth      float64    `toml:"bandwidth"`
	Averages       int        `toml:"averages"`
	ResonatorCount int        `toml:"resonator_count"`
	AreaWidth      float64    `toml:"area_width"`
}

// STS is single-tone spectroscopy versus bias.
type STS struct {
	BiasLimits [2]float64 `toml:"bias_limits"`
	BiasPoints int        `toml:"bias_nop"`
	Points     int        `toml:"nop"`
	Bandwidth  float64    `toml:"bandwidth"`
	Averages   int        `toml:"averages"`
	AreaMargin float64    `toml:"area_margin"`
}

// TTS is two-tone spectroscopy around the sweet spot.
type TTS struct {
	ExcitationLimits   [2]float64 `toml:"excitation_limits"`
	Points             int        `toml:"nop"`
	BiasPoints         int        `toml:"bias_nop"`
	PeriodFraction     float64    `toml:"period_fraction"` // bias span in periods
	Bandwidth          float64    `toml:"bandwidth"`
	Averages           int        `toml:"averages"`
	DetectionPoints    int        `toml:"resonator_detection_nop"`
	DetectionBandwidth float64    `toml:"resonator_detection_bandwidth"`
}

// SweetSpot is the precise qubit line search at the sweet spot.
type SweetSpot struct {
	Span        float64   `toml:"span"`
	Points      int       `toml:"nop"`
	Powers      []float64 `toml:"powers"`
	MinContrast float64   `toml:"min_contrast"`
	Bandwidth   float64   `toml:"bandwidth"`
	Averages    int       `toml:"averages"`
}

// Pulsed are the settings shared by the time domain measurements.
type Pulsed struct {
	MaxDelay         float64 `toml:"max_delay"` // ns
	Points           int     `toml:"nop"`
	ReadoutDuration  float64 `toml:"readout_duration"`  // ns
	RepetitionPeriod float64 `toml:"repetition_period"` // ns
	Averages         int     `toml:"averages"`
}

type Ramsey struct {
	Pulsed
	Detuning float64 `toml:"detuning"` // Hz
}

// Bench maps instrument aliases to resource strings and names the alias
// playing each role.
type Bench struct {
	Instruments  map[string]string `toml:"instruments"`
	VNA          string            `toml:"vna"`
	Excitation   string            `toml:"excitation"`
	AWG          string            `toml:"awg"`
	Bias         string            `toml:"bias"`
	PrologixPort string            `toml:"prologix_port"`
	SampleRate   float64           `toml:"sample_rate"`   // Sa/s
	AWGAmplitude float64           `toml:"awg_amplitude"` // Vpp
}

// Settings is the whole settings file.
type Settings struct {
	Global    Global                 `toml:"global"`
	Oracle    Oracle                 `toml:"oracle"`
	STS       STS                    `toml:"sts"`
	TTS       TTS                    `toml:"tts"`
	SweetSpot SweetSpot              `toml:"sweet_spot"`
	Rabi      Pulsed                 `toml:"rabi"`
	Ramsey    Ramsey                 `toml:"ramsey"`
	HahnEcho  Pulsed                 `toml:"hahn_echo"`
	Decay     Pulsed                 `toml:"decay"`
	Bench     Bench                  `toml:"bench"`
	Mixers    map[string]pulse.Mixer `toml:"mixer"`
}

var defaultMixer = pulse.Mixer{IFFrequency: 100e6, AmplitudeRatio: 1}

// Mixer returns the calibration of the excitation line of qubit.
func (s Settings) Mixer(qubit string) pulse.Mixer {
	if m, ok := s.Mixers[qubit]; ok {
		return m
	}
	return defaultMixer
}

// Default returns the settings used when a file leaves a value out.
func Default() Settings {
	return Settings{
		Global: Global{
			ReadoutPower:    -20,
			ExcitationPower: -20,
			ResonatorType:   "notch",
			WhichSweetSpot:  map[string]string{},
			DataDir:         "data",
		},
		Oracle: Oracle{
			FreqLimits:     [2]float64{7e9, 7.5e9},
			Points:         10001,
			Bandwidth:      1e3,
			Averages:       1,
			ResonatorCount: 4,
			AreaWidth:      10e6,
		},
		STS: STS{
			BiasLimits: [2]float64{-5e-3, 5e-3},
			BiasPoints: 51,
			Points:     201,
			Bandwidth:  1e3,
			Averages:   1,
			AreaMargin: 2e6,
		},
		TTS: TTS{
			ExcitationLimits:   [2]float64{4e9, 6e9},
			Points:             401,
			BiasPoints:         21,
			PeriodFraction:     0.5,
			Bandwidth:          1e3,
			Averages:           1,
			DetectionPoints:    201,
			DetectionBandwidth: 1e4,
		},
		SweetSpot: SweetSpot{
			Span:        50e6,
			Points:      201,
			Powers:      []float64{-40, -30, -20},
			MinContrast: 5,
			Bandwidth:   1e3,
			Averages:    1,
		},
		Rabi:     Pulsed{MaxDelay: 500, Points: 101, ReadoutDuration: 2000, RepetitionPeriod: 20000, Averages: 10000},
		Ramsey:   Ramsey{Pulsed: Pulsed{MaxDelay: 2000, Points: 201, ReadoutDuration: 2000, RepetitionPeriod: 20000, Averages: 10000}, Detuning: 5e6},
		HahnEcho: Pulsed{MaxDelay: 10000, Points: 101, ReadoutDuration: 2000, RepetitionPeriod: 30000, Averages: 10000},
		Decay:    Pulsed{MaxDelay: 20000, Points: 101, ReadoutDuration: 2000, RepetitionPeriod: 50000, Averages: 10000},
		Bench: Bench{
			Instruments:  map[string]string{},
			VNA:          "pna",
			Excitation:   "exg",
			AWG:          "awg",
			Bias:         "gs210",
			SampleRate:   250e6,
			AWGAmplitude: 1,
		},
		Mixers: map[string]pulse.Mixer{},
	}
}

// Load reads path over the defaults. A missing file gives the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	blob, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		zap.L().Info("settings file not found, using defaults", zap.String("path", path))
		return s, nil
	}
	if err != nil {
		return s, errors.Wrap(err, "read settings")
	}
	return Decode(string(blob))
}

// Decode parses blob over the defaults.
func Decode(blob string) (Settings, error) {
	s := Default()
	md, err := toml.Decode(blob, &s)
	if err != nil {
		return Settings{}, errors.Wrap(err, "decode settings")
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		zap.L().Warn("unknown settings ignored", zap.Stringers("keys", keys))
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Write encodes s as TOML.
func (s Settings) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(s)
}

// Validate checks the settings that would make a measurement meaningless.
func (s Settings) Validate() error {
	switch s.Global.ResonatorType {
	case "notch", "transmission":
	default:
		return errors.Errorf("resonator_type %q is not notch or transmission", s.Global.ResonatorType)
	}
	for q, which := range s.Global.WhichSweetSpot {
		if which != "top" && which != "bottom" {
			return errors.Errorf("sweet spot of qubit %s is %q, want top or bottom", q, which)
		}
	}
	if s.Oracle.FreqLimits[0] >= s.Oracle.FreqLimits[1] {
		return errors.Errorf("oracle freq_limits %v are not increasing", s.Oracle.FreqLimits)
	}
	if s.Oracle.ResonatorCount < 1 || s.Oracle.ResonatorCount > len(QubitNames) {
		return errors.Errorf("oracle resonator_count must be between 1 and %d", len(QubitNames))
	}
	for name, n := range map[string]int{
		"oracle nop":        s.Oracle.Points,
		"sts nop":           s.STS.Points,
		"sts bias_nop":      s.STS.BiasPoints,
		"tts nop":           s.TTS.Points,
		"tts bias_nop":      s.TTS.BiasPoints,
		"sweet_spot nop":    s.SweetSpot.Points,
		"rabi nop":          s.Rabi.Points,
		"ramsey nop":        s.Ramsey.Points,
		"hahn_echo nop":     s.HahnEcho.Points,
		"decay nop":         s.Decay.Points,
		"tts detection nop": s.TTS.DetectionPoints,
	} {
		if n < 2 {
			return errors.Errorf("%s must be at least 2, got %d", name, n)
		}
	}
	if len(s.SweetSpot.Powers) == 0 {
		return errors.New("sweet_spot powers must not be empty")
	}
	if s.Bench.SampleRate <= 0 {
		return errors.New("bench sample_rate must be positive")
	}
	return nil
}
