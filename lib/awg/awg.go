// Package awg drives a Keysight 33500B-class two channel arbitrary waveform
// generator. Channel 1 carries I and channel 2 carries Q of the excitation
// mixer.
package awg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/scpi"
)

var (
	ErrChannel       = errors.New("awg: channel must be 1 or 2")
	ErrSample        = errors.New("awg: samples must lie in [-1, 1]")
	ErrTriggerSource = errors.New("awg: trigger source must be IMM, EXT, BUS or TIM")
)

// Generator is a 33500B.
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

func checkChannel(ch int) error {
	if ch != 1 && ch != 2 {
		return fmt.Errorf("%w: %d", ErrChannel, ch)
	}
	return nil
}

func (g *Generator) command(ch int, format string, a ...any) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return g.inst.Command(format, append([]any{ch}, a...)...)
}

// SetSampleRate sets the arbitrary waveform sample rate in Sa/s.
func (g *Generator) SetSampleRate(ch int, rate float64) error {
	return g.command(ch, "SOUR%d:FUNC:ARB:SRAT %g", rate)
}

func (g *Generator) SampleRate(ch int) (float64, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return g.inst.QueryFloat(fmt.Sprintf("SOUR%d:FUNC:ARB:SRAT?", ch))
}

// SetAmplitude sets the peak-to-peak amplitude in V.
func (g *Generator) SetAmplitude(ch int, vpp float64) error {
	return g.command(ch, "SOUR%d:VOLT %g", vpp)
}

func (g *Generator) SetOffset(ch int, v float64) error {
	return g.command(ch, "SOUR%d:VOLT:OFFS %g", v)
}

func (g *Generator) SetOutput(ch int, on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	return g.command(ch, "OUTP%d %s", state)
}

func (g *Generator) SetTriggerSource(ch int, source string) error {
	s := strings.ToUpper(source)
	switch s {
	case "IMM", "EXT", "BUS", "TIM":
	default:
		return fmt.Errorf("%w: %q", ErrTriggerSource, source)
	}
	return g.command(ch, "TRIG%d:SOUR %s", s)
}

// SetBurst plays cycles repetitions of the waveform per trigger.
func (g *Generator) SetBurst(ch int, cycles int) error {
	if err := g.command(ch, "SOUR%d:BURS:MODE TRIG"); err != nil {
		return err
	}
	if err := g.command(ch, "SOUR%d:BURS:NCYC %d", cycles); err != nil {
		return err
	}
	return g.command(ch, "SOUR%d:BURS:STAT ON")
}

// ClearVolatile frees waveform memory of the channel.
func (g *Generator) ClearVolatile(ch int) error {
	return g.command(ch, "SOUR%d:DATA:VOL:CLE")
}

// Upload stores samples as the named arbitrary waveform of the channel.
func (g *Generator) Upload(ch int, name string, samples []float32) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	for k, s := range samples {
		if s < -1 || s > 1 {
			return fmt.Errorf("%w: sample %d is %g", ErrSample, k, s)
		}
	}
	if err := g.inst.Command("FORM:BORD SWAP"); err != nil {
		return err
	}
	g.log.Debug("uploading waveform", zap.Int("channel", ch), zap.String("name", name), zap.Int("samples", len(samples)))
	prefix := fmt.Sprintf("SOUR%d:DATA:ARB %s,", ch, name)
	if err := g.inst.WriteBlock(prefix, scpi.PutFloat32s(samples, binary.LittleEndian)); err != nil {
		return err
	}
	return g.inst.WaitComplete()
}

// Select plays the named waveform on the channel.
func (g *Generator) Select(ch int, name string) error {
	if err := g.command(ch, "SOUR%d:FUNC:ARB %s", name); err != nil {
		return err
	}
	return g.command(ch, "SOUR%d:FUNC ARB")
}

// SyncPhase restarts both arbitrary waveforms together.
func (g *Generator) SyncPhase() error { return g.inst.Command("SOUR1:FUNC:ARB:SYNC") }

func (g *Generator) Trigger() error { return g.inst.Command("*TRG") }

// LoadIQ replaces the waveforms of both channels with i and q, selects them
// and synchronises their phase.
func (g *Generator) LoadIQ(name string, i, q []float32) error {
	if len(i) != len(q) {
		return fmt.Errorf("awg: I and Q lengths differ (%d, %d)", len(i), len(q))
	}
	for k, samples := range [][]float32{i, q} {
		ch := k + 1
		if err := g.SetOutput(ch, false); err != nil {
			return err
		}
		if err := g.ClearVolatile(ch); err != nil {
			return err
		}
		if err := g.Upload(ch, name, samples); err != nil {
			return err
		}
		if err := g.Select(ch, name); err != nil {
			return err
		}
	}
	if err := g.SyncPhase(); err != nil {
		return err
	}
	for ch := 1; ch <= 2; ch++ {
		if err := g.SetOutput(ch, true); err != nil {
			return err
		}
	}
	return nil
}
