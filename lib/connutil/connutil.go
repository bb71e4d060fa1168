// Package connutil opens the instruments of a measurement bench.
package connutil

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/awg"
	"github.com/gotmc/fulaut/lib/exg"
	"github.com/gotmc/fulaut/lib/gs210"
	"github.com/gotmc/fulaut/lib/params"
	"github.com/gotmc/fulaut/lib/pna"
	"github.com/gotmc/fulaut/lib/scpi"
	"github.com/gotmc/fulaut/lib/sim"
	"github.com/gotmc/fulaut/lib/visa"
)

// Bench holds the drivers of one measurement setup.
type Bench struct {
	VNA        *pna.VNA
	Excitation *exg.Generator
	AWG        *awg.Generator
	Bias       *gs210.Source

	insts []*scpi.Instrument
}

// Conn are the transport options shared by every instrument.
type Conn struct {
	Timeout    time.Duration
	WriteDelay time.Duration
	Trace      bool
	Logger     *zap.Logger
}

// Instruments returns the open instruments, for identification.
func (b *Bench) Instruments() []*scpi.Instrument { return b.insts }

// Close returns every instrument to local control and closes its
// transport.
func (b *Bench) Close() error {
	var err error
	for _, inst := range b.insts {
		err = multierr.Append(err, inst.Close())
	}
	b.insts = nil
	return err
}

// Open opens the instruments playing each role of s.
func Open(ctx context.Context, s params.Bench, c Conn) (_ *Bench, err error) {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	b := &Bench{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, b.Close())
		}
	}()
	open := func(alias string) (*scpi.Instrument, error) {
		resource, ok := s.Instruments[alias]
		if !ok {
			return nil, fmt.Errorf("connutil: no resource for instrument %q", alias)
		}
		inst, err := visa.Open(ctx, resource, visa.Options{
			Name:         alias,
			Timeout:      c.Timeout,
			PrologixLink: s.PrologixPort,
			WriteDelay:   c.WriteDelay,
			Trace:        c.Trace,
			Logger:       c.Logger.With(zap.String("instrument", alias)),
		})
		if err != nil {
			return nil, fmt.Errorf("connutil: %s: %w", alias, err)
		}
		b.insts = append(b.insts, inst)
		return inst, nil
	}

	insts := map[string]*scpi.Instrument{}
	for _, alias := range []string{s.VNA, s.Excitation, s.AWG, s.Bias} {
		if _, ok := insts[alias]; ok {
			continue
		}
		inst, err := open(alias)
		if err != nil {
			return nil, err
		}
		insts[alias] = inst
	}
	if err := b.build(insts[s.VNA], insts[s.Excitation], insts[s.AWG], insts[s.Bias], c.Logger); err != nil {
		return nil, err
	}
	return b, nil
}

// Simulated builds the bench over the simulated instruments of sb.
func Simulated(sb *sim.Bench, log *zap.Logger) (*Bench, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bench{}
	insts := make([]*scpi.Instrument, 4)
	names := []string{"pna", "exg", "awg", "gs210"}
	for k, c := range []*sim.Conn{sb.VNA, sb.Excitation, sb.AWG, sb.Bias} {
		insts[k] = scpi.New(c, scpi.WithName(names[k]), scpi.WithLogger(log.With(zap.String("instrument", names[k]))))
		b.insts = append(b.insts, insts[k])
	}
	if err := b.build(insts[0], insts[1], insts[2], insts[3], log); err != nil {
		return nil, multierr.Append(err, b.Close())
	}
	return b, nil
}

func (b *Bench) build(vna, excitation, arb, source *scpi.Instrument, log *zap.Logger) error {
	var err error
	if b.VNA, err = pna.New(vna, pna.WithLogger(log.Named("pna"))); err != nil {
		return fmt.Errorf("connutil: vna: %w", err)
	}
	if b.Bias, err = gs210.New(source, gs210.WithLogger(log.Named("gs210"))); err != nil {
		return fmt.Errorf("connutil: bias source: %w", err)
	}
	b.Excitation = exg.New(excitation, exg.WithLogger(log.Named("exg")))
	b.AWG = awg.New(arb, awg.WithLogger(log.Named("awg")))
	return nil
}
