// Copyright (c) 2020–2024 The fulaut developers. All rights reserved.
// Project site: https://github.com/gotmc/fulaut
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package gs210 drives a Yokogawa GS210 DC current/voltage source used as
// a flux bias.
//
// The source starts as a current source.
//
//	CURRENT SOURCE
//	Source Range    Range Generated     Resolution      Max. Load Voltage
//	1 mA            ±1.20000 mA         10 nA           ±30 V
//	10 mA           ±12.0000 mA         100 nA          ±30 V
//	100 mA          ±120.000 mA         1 μA            ±30 V
//	200 mA          ±200.000 mA         1 μA            ±30 V
//
//	VOLTAGE SOURCE
//	Source Range    Range Generated     Resolution      Max. Load Current
//	10 mV           ±12.0000 mV         100 nV          --------
//	100 mV          ±120.000 mV         1 μV            --------
//	1 V             ±1.20000 V          10 μV           ±200 mA
//	10 V            ±12.0000 V          100 μV          ±200 mA
//	30 V            ±32.000 V           1 mV            ±200 mA
package gs210

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/bias"
	"github.com/gotmc/fulaut/lib/scpi"
)

var (
	// ErrWrongMode is returned for current operations in voltage mode and
	// the other way around.
	ErrWrongMode = errors.New("gs210: wrong source mode")
	// ErrOutOfRange is returned for values outside the limits or ranges.
	ErrOutOfRange = errors.New("gs210: value out of range")
)

var (
	CurrentRanges = []float64{.001, .01, .1, .2}
	VoltageRanges = []float64{.01, .1, 1, 10, 30}
)

// Source is a GS210.
type Source struct {
	inst       *scpi.Instrument
	biasType   bias.Type
	minCurrent float64
	maxCurrent float64
	minVoltage float64
	maxVoltage float64
	compliance float64
	log        *zap.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithVoltageCompliance sets the compliance voltage applied at start, 3 V
// by default.
func WithVoltageCompliance(v float64) Option { return func(s *Source) { s.compliance = v } }

func WithLogger(l *zap.Logger) Option { return func(s *Source) { s.log = l } }

// New switches the source to current mode at 0 A with the output on.
func New(inst *scpi.Instrument, opts ...Option) (*Source, error) {
	s := &Source{
		inst:       inst,
		biasType:   bias.Current,
		minCurrent: -10e-3,
		maxCurrent: 10e-3,
		minVoltage: -1,
		maxVoltage: 1,
		compliance: 3,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := inst.Command(":SOUR:FUNC CURR"); err != nil {
		return nil, err
	}
	if err := s.SetVoltageCompliance(s.compliance); err != nil {
		return nil, err
	}
	if err := s.SetCurrent(0); err != nil {
		return nil, err
	}
	if err := s.SetOutput(true); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) Instrument() *scpi.Instrument { return s.inst }

// mode returns CURR or VOLT.
func (s *Source) mode() (string, error) { return s.inst.Query(":SOUR:FUNC?") }

func (s *Source) requireMode(want string) error {
	m, err := s.mode()
	if err != nil {
		return err
	}
	if m != want {
		return fmt.Errorf("%w: source is in %s mode", ErrWrongMode, m)
	}
	return nil
}

// SetCurrent sets the current in A and waits for it to settle.
func (s *Source) SetCurrent(i float64) error {
	if err := s.requireMode("CURR"); err != nil {
		return err
	}
	if i < s.minCurrent || i > s.maxCurrent {
		return fmt.Errorf("%w: %g A not in [%g, %g]", ErrOutOfRange, i, s.minCurrent, s.maxCurrent)
	}
	if err := s.inst.Command("SOUR:LEVEL %e", i); err != nil {
		return err
	}
	return s.inst.WaitComplete()
}

func (s *Source) Current() (float64, error) {
	if err := s.requireMode("CURR"); err != nil {
		return 0, err
	}
	return s.inst.QueryFloat("SOUR:LEVEL?")
}

// SetVoltage sets the voltage in V.
func (s *Source) SetVoltage(v float64) error {
	if err := s.requireMode("VOLT"); err != nil {
		return err
	}
	if v < s.minVoltage || v > s.maxVoltage {
		return fmt.Errorf("%w: %g V not in [%g, %g]", ErrOutOfRange, v, s.minVoltage, s.maxVoltage)
	}
	return s.inst.Command("SOUR:LEVEL %e", v)
}

func (s *Source) Voltage() (float64, error) {
	if err := s.requireMode("VOLT"); err != nil {
		return 0, err
	}
	return s.inst.QueryFloat("SOUR:LEVEL?")
}

func (s *Source) SetOutput(on bool) error {
	if on {
		return s.inst.Command("OUTP ON")
	}
	return s.inst.Command("OUTP OFF")
}

func (s *Source) Output() (bool, error) { return s.inst.QueryBool("OUTP?") }

func (s *Source) VoltageCompliance() (float64, error) {
	return s.inst.QueryFloat("SOUR:PROT:VOLT?")
}

// SetVoltageCompliance is only valid for a current source.
func (s *Source) SetVoltageCompliance(v float64) error {
	if err := s.requireMode("CURR"); err != nil {
		return err
	}
	return s.inst.Command("SOUR:PROT:VOLT %e", v)
}

func (s *Source) CurrentCompliance() (float64, error) {
	return s.inst.QueryFloat("SOUR:PROT:CURR?")
}

// SetCurrentCompliance is only valid for a voltage source.
func (s *Source) SetCurrentCompliance(i float64) error {
	if err := s.requireMode("VOLT"); err != nil {
		return err
	}
	return s.inst.Command("SOUR:PROT:CURR %e", i)
}

// Range returns the symmetric source range.
func (s *Source) Range() (min, max float64, err error) {
	r, err := s.inst.QueryFloat("SOUR:RANG?")
	return -r, r, err
}

// SetRange selects one of CurrentRanges or VoltageRanges, depending on the
// mode, and narrows the level limits to it.
func (s *Source) SetRange(max float64) error {
	m, err := s.mode()
	if err != nil {
		return err
	}
	switch m {
	case "CURR":
		if !supported(CurrentRanges, max) {
			return fmt.Errorf("%w: current range %g A, valid ranges are %v", ErrOutOfRange, max, CurrentRanges)
		}
		s.minCurrent, s.maxCurrent = -max, max
	case "VOLT":
		if !supported(VoltageRanges, max) {
			return fmt.Errorf("%w: voltage range %g V, valid ranges are %v", ErrOutOfRange, max, VoltageRanges)
		}
		s.minVoltage, s.maxVoltage = -max, max
	default:
		return fmt.Errorf("gs210: unknown source function %q", m)
	}
	return s.inst.Command("SOUR:RANG %e", max)
}

// SetAppropriateRange selects the smallest range holding both limits.
func (s *Source) SetAppropriateRange(maxBias, minBias float64) error {
	ranges := CurrentRanges
	if s.biasType == bias.Voltage {
		ranges = VoltageRanges
	}
	required := math.Max(math.Abs(maxBias), math.Abs(minBias))
	for _, r := range ranges {
		if r >= required {
			return s.SetRange(r)
		}
	}
	return fmt.Errorf("%w: %g %s exceeds the largest range", ErrOutOfRange, required, s.biasType.Unit())
}

// SetSourceModeVoltage switches to a voltage source with the output on. It
// reports whether the mode changed.
func (s *Source) SetSourceModeVoltage() (bool, error) {
	return s.switchMode("VOLT", bias.Voltage)
}

// SetSourceModeCurrent switches to a current source with the output on. It
// reports whether the mode changed.
func (s *Source) SetSourceModeCurrent() (bool, error) {
	return s.switchMode("CURR", bias.Current)
}

func (s *Source) switchMode(fn string, t bias.Type) (bool, error) {
	m, err := s.mode()
	if err != nil {
		return false, err
	}
	if m == fn {
		return false, nil
	}
	s.biasType = t
	if err := s.inst.Command(":SOUR:FUNC %s", fn); err != nil {
		return false, err
	}
	return true, s.SetOutput(true)
}

// SetCurrentLimits narrows the current limits within 1.2 times the range.
func (s *Source) SetCurrentLimits(min, max float64) error {
	if err := s.requireMode("CURR"); err != nil {
		return err
	}
	_, r, err := s.Range()
	if err != nil {
		return err
	}
	if min < -1.2*r || max > 1.2*r {
		return fmt.Errorf("%w: [%g, %g] A exceeds range %g A", ErrOutOfRange, min, max, r)
	}
	s.minCurrent, s.maxCurrent = min, max
	return nil
}

// SetVoltageLimits narrows the voltage limits within the range.
func (s *Source) SetVoltageLimits(min, max float64) error {
	if err := s.requireMode("VOLT"); err != nil {
		return err
	}
	_, r, err := s.Range()
	if err != nil {
		return err
	}
	if min < -r || max > r {
		return fmt.Errorf("%w: [%g, %g] V exceeds range %g V", ErrOutOfRange, min, max, r)
	}
	s.minVoltage, s.maxVoltage = min, max
	return nil
}

// Clear clears the event registers and the error queue.
func (s *Source) Clear() error { return s.inst.Clear() }

func (s *Source) BiasType() bias.Type { return s.biasType }

// Set sets the level in the unit of the current bias type.
func (s *Source) Set(v float64) error {
	if s.biasType == bias.Voltage {
		return s.SetVoltage(v)
	}
	return s.SetCurrent(v)
}

func (s *Source) level() (float64, error) {
	if s.biasType == bias.Voltage {
		return s.Voltage()
	}
	return s.Current()
}

// RampTo moves the level to target in steps no larger than step, pausing
// dwell after each.
func (s *Source) RampTo(ctx context.Context, target, step float64, dwell time.Duration) error {
	if step <= 0 {
		return fmt.Errorf("gs210: ramp step must be positive, got %g", step)
	}
	from, err := s.level()
	if err != nil {
		return err
	}
	n := int(math.Ceil(math.Abs(target-from) / step))
	s.log.Debug("ramping bias", zap.Float64("from", from), zap.Float64("to", target), zap.Int("steps", n))
	for k := 1; k <= n; k++ {
		v := from + (target-from)*float64(k)/float64(n)
		if err := s.Set(v); err != nil {
			return err
		}
		if k == n || dwell == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dwell):
		}
	}
	return nil
}

func supported(ranges []float64, v float64) bool {
	for _, r := range ranges {
		if math.Abs(r-v) <= 1e-12*r {
			return true
		}
	}
	return false
}
