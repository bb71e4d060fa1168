// Package exg drives a Keysight EXG/MXG analog or vector signal generator
// used as the qubit excitation source.
package exg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/scpi"
)

// ErrTriggerSource is returned for trigger sources the generator does not
// know.
var ErrTriggerSource = errors.New("exg: invalid trigger source")

// Generator is an EXG/MXG.
type Generator struct {
	inst *scpi.Instrument
	log  *zap.Logger
}

type Option func(*Generator)

func WithLogger(l *zap.Logger) Option { return func(g *Generator) { g.log = l } }

func New(inst *scpi.Instrument, opts ...Option) *Generator {
	g := &Generator{inst: inst, log: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Instrument() *scpi.Instrument { return g.inst }

func (g *Generator) SetFrequency(hz float64) error {
	g.log.Debug("setting frequency", zap.Float64("hz", hz))
	return g.inst.Command(":SOUR:FREQ %f", hz)
}

func (g *Generator) Frequency() (float64, error) { return g.inst.QueryFloat(":SOUR:FREQ?") }

func (g *Generator) SetPower(dBm float64) error {
	return g.inst.Command(":SOUR:POW %.2f", dBm)
}

func (g *Generator) Power() (float64, error) { return g.inst.QueryFloat(":SOUR:POW?") }

// SetOutput switches the RF output.
func (g *Generator) SetOutput(on bool) error {
	return g.inst.Command(":OUTP:STAT %s", onOff(on))
}

func (g *Generator) Output() (bool, error) { return g.inst.QueryBool(":OUTP:STAT?") }

// SetModulation switches all modulation of the RF output.
func (g *Generator) SetModulation(on bool) error {
	return g.inst.Command(":OUTP:MOD:STAT %s", onOff(on))
}

// SetIQ switches the I/Q modulator fed by the external I and Q inputs.
func (g *Generator) SetIQ(on bool) error {
	return g.inst.Command(":DM:STAT %s", onOff(on))
}

func (g *Generator) IQ() (bool, error) { return g.inst.QueryBool(":DM:STAT?") }

// SetCW leaves list or step sweep mode.
func (g *Generator) SetCW() error { return g.inst.Command(":SOUR:FREQ:MODE CW") }

// ListSweep is a frequency list stepped through one point per trigger.
type ListSweep struct {
	Frequencies  []float64
	Dwell        time.Duration
	PointTrigger string // trigger advancing one point: IMM, BUS, EXT
	SweepTrigger string // trigger starting the list: IMM, BUS, EXT
}

func validTrigger(s string) (string, error) {
	s = strings.ToUpper(s)
	switch s {
	case "IMM", "BUS", "EXT", "KEY", "TIM":
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrTriggerSource, s)
}

// ConfigureListSweep loads the list and arms single list sweeps. Use
// EXT point triggers from the analyzer's aux output to step the list in
// sync with the analyzer points.
func (g *Generator) ConfigureListSweep(ls ListSweep) error {
	if len(ls.Frequencies) == 0 {
		return errors.New("exg: empty frequency list")
	}
	pt, err := validTrigger(ls.PointTrigger)
	if err != nil {
		return err
	}
	st, err := validTrigger(ls.SweepTrigger)
	if err != nil {
		return err
	}
	freqs := make([]string, len(ls.Frequencies))
	for k, f := range ls.Frequencies {
		freqs[k] = strconv.FormatFloat(f, 'f', 0, 64)
	}
	dwell := ls.Dwell
	if dwell == 0 {
		dwell = time.Millisecond
	}
	cmds := []string{
		":SOUR:LIST:TYPE LIST",
		":SOUR:LIST:FREQ " + strings.Join(freqs, ","),
		fmt.Sprintf(":SOUR:LIST:DWEL %g", dwell.Seconds()),
		":SOUR:LIST:DIR UP",
		":LIST:TRIG:SOUR " + pt,
		":TRIG:SOUR " + st,
		":INIT:CONT OFF",
		":SOUR:FREQ:MODE LIST",
	}
	for _, c := range cmds {
		if err := g.inst.Command("%s", c); err != nil {
			return err
		}
	}
	return nil
}

// ListPoints returns the number of points in the loaded list.
func (g *Generator) ListPoints() (int, error) { return g.inst.QueryInt(":SOUR:LIST:FREQ:POIN?") }

// Initiate arms one sweep.
func (g *Generator) Initiate() error { return g.inst.Command(":INIT") }

func (g *Generator) SoftwareTrigger() error { return g.inst.Command("*TRG") }

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
