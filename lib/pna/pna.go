// Copyright (c) 2020–2024 The fulaut developers. All rights reserved.
// Project site: https://github.com/gotmc/fulaut
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package pna drives an Agilent/Keysight PNA-L vector network analyzer.
//
// Every method maps onto the analyzer's SCPI commands for one measurement
// channel. Start, stop and point count are cached so that Frequencies does
// not need a round trip.
package pna

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/cmplx"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/scpi"
)

var (
	ErrTriggerSource = errors.New("pna: trigger source must be AUTO | MANual | EXTernal | REMote")
	ErrChannelIndex  = errors.New("pna: channel index out of range")
	ErrSParameter    = errors.New("pna: S-parameter must look like S21")
	ErrFormat        = errors.New("pna: trace format must be RAW, REALIMAG or AMPPHA")
)

// esb is the event status bit of the status byte.
const esb = 1 << 5

// AverageMode selects point or sweep averaging.
type AverageMode string

const (
	AveragePoint AverageMode = "POINT"
	AverageSweep AverageMode = "SWEEP"
)

// Format selects how TraceData returns a trace.
type Format int

const (
	Raw Format = iota
	RealImag
	AmpPha
)

// ParseFormat accepts "RAW", "REALIMAG" or "AMPPHA" in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(s) {
	case "RAW":
		return Raw, nil
	case "REALIMAG":
		return RealImag, nil
	case "AMPPHA":
		return AmpPha, nil
	}
	return Raw, fmt.Errorf("%w: %q", ErrFormat, s)
}

// VNA is one channel of a PNA-L.
type VNA struct {
	inst     *scpi.Instrument
	ci       int
	zerospan bool
	start    float64
	stop     float64
	nop      int
	oldNop   int
	oldSpan  float64
	poll     time.Duration
	log      *zap.Logger
}

// Option configures a VNA.
type Option func(*VNA)

// WithChannel addresses measurement channel ci instead of 1.
func WithChannel(ci int) Option { return func(v *VNA) { v.ci = ci } }

// WithPollInterval sets how often the status byte is polled.
func WithPollInterval(d time.Duration) Option { return func(v *VNA) { v.poll = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(v *VNA) { v.log = l } }

// New reads the current sweep limits from the analyzer.
func New(inst *scpi.Instrument, opts ...Option) (*VNA, error) {
	v := &VNA{inst: inst, ci: 1, poll: 20 * time.Millisecond, log: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	if err := v.Refresh(); err != nil {
		return nil, err
	}
	return v, nil
}

// Instrument returns the underlying SCPI instrument.
func (v *VNA) Instrument() *scpi.Instrument { return v.inst }

// Refresh re-reads the cached point count and frequency limits.
func (v *VNA) Refresh() error {
	if _, err := v.Points(); err != nil {
		return err
	}
	if _, err := v.Start(); err != nil {
		return err
	}
	_, err := v.Stop()
	return err
}

func (v *VNA) ChannelIndex() int { return v.ci }

// SetChannelIndex addresses channel ci, which must be between 1 and the
// number of channels on display.
func (v *VNA) SetChannelIndex(ci int) error {
	n, err := v.inst.QueryInt("DISP:COUN?")
	if err != nil {
		return err
	}
	if ci < 1 || ci > n {
		return fmt.Errorf("%w: %d not in 1..%d", ErrChannelIndex, ci, n)
	}
	v.ci = ci
	return nil
}

// Sweep

func (v *VNA) SetPoints(nop int) error {
	v.log.Debug("setting number of points", zap.Int("nop", nop))
	if err := v.inst.Command(":SENS%d:SWE:POIN %d", v.ci, nop); err != nil {
		return err
	}
	v.nop = nop
	return nil
}

// Points returns the number of points, 1 in zero span mode.
func (v *VNA) Points() (int, error) {
	if v.zerospan {
		return 1, nil
	}
	n, err := v.inst.QueryInt(fmt.Sprintf(":SENS%d:SWE:POIN?", v.ci))
	if err != nil {
		return 0, err
	}
	v.nop = n
	return n, nil
}

func (v *VNA) SetBandwidth(bw float64) error {
	v.log.Debug("setting bandwidth", zap.Float64("hz", bw))
	return v.inst.Command("SENS%d:BWID:RES %d", v.ci, int64(bw))
}

func (v *VNA) Bandwidth() (float64, error) {
	return v.inst.QueryFloat(fmt.Sprintf("SENS%d:BWID:RES?", v.ci))
}

func (v *VNA) SetAveraging(on bool) error {
	return v.inst.Command("SENS%d:AVER:STAT %s", v.ci, onOff(on))
}

func (v *VNA) Averaging() (bool, error) {
	return v.inst.QueryBool(fmt.Sprintf("SENS%d:AVER:STAT?", v.ci))
}

// SetAverages sets the average count. Averaging is switched on for counts
// above one. Sweep averaging also sets the sweep group count so that a
// group sweep completes the average.
func (v *VNA) SetAverages(n int, mode AverageMode) error {
	cmds := []string{
		fmt.Sprintf("SENS%d:AVER:COUN %d", v.ci, n),
		fmt.Sprintf("SENS%d:AVER %s", v.ci, onOff(n > 1)),
	}
	switch mode {
	case AveragePoint:
		cmds = append(cmds,
			fmt.Sprintf("SENS%d:SWE:GRO:COUN 1", v.ci),
			fmt.Sprintf("SENS%d:AVER:MODE POIN", v.ci))
	case AverageSweep, "":
		cmds = append(cmds,
			fmt.Sprintf("SENS%d:SWE:GRO:COUN %d", v.ci, n),
			fmt.Sprintf("SENS%d:AVER:MODE SWEEP", v.ci))
	default:
		return fmt.Errorf("pna: unknown averaging mode %q", mode)
	}
	return v.commands(cmds...)
}

// Averages returns the average count. In zero span mode points are the
// averages.
func (v *VNA) Averages() (int, error) {
	if v.zerospan {
		return v.inst.QueryInt(fmt.Sprintf("SWE%d:POIN?", v.ci))
	}
	return v.inst.QueryInt(fmt.Sprintf("SENS%d:AVER:COUN?", v.ci))
}

func (v *VNA) ClearAverages() error {
	return v.inst.Command(":SENS%d:AVER:CLE", v.ci)
}

func (v *VNA) SetCenter(f float64) error {
	v.log.Debug("setting center frequency", zap.Float64("hz", f))
	if err := v.inst.Command("SENS%d:FREQ:CENT %f", v.ci, f); err != nil {
		return err
	}
	return v.refreshLimits()
}

func (v *VNA) Center() (float64, error) {
	return v.inst.QueryFloat(fmt.Sprintf("SENS%d:FREQ:CENT?", v.ci))
}

func (v *VNA) SetSpan(span float64) error {
	v.log.Debug("setting span", zap.Float64("hz", span))
	if err := v.inst.Command("SENS%d:FREQ:SPAN %d", v.ci, int64(span)); err != nil {
		return err
	}
	return v.refreshLimits()
}

func (v *VNA) Span() (float64, error) {
	return v.inst.QueryFloat(fmt.Sprintf("SENS%d:FREQ:SPAN?", v.ci))
}

func (v *VNA) SetStart(f float64) error {
	if err := v.inst.Command("SENS%d:FREQ:STAR %f", v.ci, f); err != nil {
		return err
	}
	v.start = f
	return nil
}

func (v *VNA) Start() (float64, error) {
	f, err := v.inst.QueryFloat(fmt.Sprintf("SENS%d:FREQ:STAR?", v.ci))
	if err == nil {
		v.start = f
	}
	return f, err
}

func (v *VNA) SetStop(f float64) error {
	if err := v.inst.Command("SENS%d:FREQ:STOP %f", v.ci, f); err != nil {
		return err
	}
	v.stop = f
	return nil
}

func (v *VNA) Stop() (float64, error) {
	f, err := v.inst.QueryFloat(fmt.Sprintf("SENS%d:FREQ:STOP?", v.ci))
	if err == nil {
		v.stop = f
	}
	return f, err
}

// SetFrequencyLimits sets start and stop.
func (v *VNA) SetFrequencyLimits(start, stop float64) error {
	v.log.Debug("setting frequency limits", zap.Float64("start", start), zap.Float64("stop", stop))
	if err := v.SetStart(start); err != nil {
		return err
	}
	return v.SetStop(stop)
}

// FrequencyLimits returns the cached start and stop.
func (v *VNA) FrequencyLimits() (start, stop float64) { return v.start, v.stop }

// Frequencies returns the cached sweep points.
func (v *VNA) Frequencies() []float64 {
	return linspace(v.start, v.stop, v.nop)
}

func (v *VNA) SetPower(dBm float64) error {
	v.log.Debug("setting power", zap.Float64("dbm", dBm))
	return v.inst.Command("SOUR%d:POW1:LEV:IMM:AMPL %.2f", v.ci, dBm)
}

func (v *VNA) Power() (float64, error) {
	return v.inst.QueryFloat(fmt.Sprintf("SOUR%d:POW1:LEV:IMM:AMPL?", v.ci))
}

// SetSweepType sets LIN, LOG, POW, CW, SEGM or PHAS.
func (v *VNA) SetSweepType(t string) error {
	if t == "" {
		t = "LIN"
	}
	return v.inst.Command("SENS:SWE:TYPE %s", t)
}

func (v *VNA) SweepType() (string, error) { return v.inst.Query("SENS:SWE:TYPE?") }

// SweepTime returns the duration of one sweep in milliseconds.
func (v *VNA) SweepTime() (float64, error) {
	s, err := v.inst.QueryFloat(fmt.Sprintf(":SENS%d:SWE:TIME?", v.ci))
	return s * 1e3, err
}

// SetCW measures versus time at frequency. A zero sweep time selects the
// fastest sweep, a negative one the longest (one day).
func (v *VNA) SetCW(frequency float64, sweepTime time.Duration) error {
	cmds := []string{
		fmt.Sprintf("SENSe%d:SWEep:TYPE CW", v.ci),
		fmt.Sprintf("SENSe%d:FREQuency:CW %.0f", v.ci, frequency),
	}
	switch {
	case sweepTime == 0:
		cmds = append(cmds, fmt.Sprintf("SENSe%d:SWEep:TIME MIN", v.ci))
	case sweepTime < 0:
		cmds = append(cmds, fmt.Sprintf("SENSe%d:SWEep:TIME MAX", v.ci))
	default:
		cmds = append(cmds, fmt.Sprintf("SENSe%d:SWEep:TIME %dms", v.ci, sweepTime.Milliseconds()))
	}
	if err := v.commands(cmds...); err != nil {
		return err
	}
	v.start, v.stop = frequency, frequency
	return nil
}

// SetFrequency uses the analyzer as a CW source: call SetCW first.
func (v *VNA) SetFrequency(f float64) error {
	if err := v.SetCenter(f); err != nil {
		return err
	}
	return v.inst.WaitComplete()
}

// SetZeroSpan switches the virtual zero span mode: the span is reduced to
// its minimum and the point count is used for averaging.
func (v *VNA) SetZeroSpan(on bool) error {
	if on {
		nop, err := v.Points()
		if err != nil {
			return err
		}
		span, err := v.Span()
		if err != nil {
			return err
		}
		v.oldNop, v.oldSpan = nop, span
		if span > 0.002 {
			v.log.Warn("setting span to minimum for zero span mode")
			if err := v.SetSpan(0.002); err != nil {
				return err
			}
		}
	}
	av, err := v.Averages()
	if err != nil {
		return err
	}
	v.zerospan = on
	if on {
		if err := v.SetAveraging(false); err != nil {
			return err
		}
		return v.SetAverages(av, AverageSweep)
	}
	if err := v.SetAveraging(true); err != nil {
		return err
	}
	if err := v.SetSpan(v.oldSpan); err != nil {
		return err
	}
	return v.SetPoints(v.oldNop)
}

func (v *VNA) ZeroSpan() bool { return v.zerospan }

// Sweep modes

func (v *VNA) Hold() error       { return v.inst.Command("SENS:SWE:MODE HOLD") }
func (v *VNA) Continuous() error { return v.inst.Command("SENS:SWE:MODE CONT") }

// Single starts one sweep, or one sweep group when averaging is on.
func (v *VNA) Single() error {
	avg, err := v.Averaging()
	if err != nil {
		return err
	}
	if avg {
		return v.Groups()
	}
	return v.inst.Command("SENSe%d:SWEep:MODE SINGle", v.ci)
}

func (v *VNA) Groups() error { return v.inst.Command("SENS%d:SWE:MODE GROups", v.ci) }

// Init triggers enough sweeps to complete an average.
func (v *VNA) Init() error {
	n := 1
	if !v.zerospan {
		avg, err := v.Averaging()
		if err != nil {
			return err
		}
		if avg {
			if n, err = v.Averages(); err != nil {
				return err
			}
		}
	}
	for k := 0; k < n; k++ {
		if err := v.inst.Command("INIT1;*wai"); err != nil {
			return err
		}
	}
	return nil
}

// Restart aborts the current sweep and starts a new one.
func (v *VNA) Restart() error { return v.inst.Command("ABORT; INITiate:IMMediate;*wai") }

// Traces

// DefineS21 defines the CH1_S21_1 measurement.
func (v *VNA) DefineS21() error {
	return v.inst.Command("CALCulate:PARameter:DEF:EXT 'CH1_S21_1','S21'")
}

// DefineSij defines an Sij measurement, named CH1_Sij_1 if name is empty.
func (v *VNA) DefineSij(i, j int, name string) error {
	if name == "" {
		name = fmt.Sprintf("CH1_S%d%d_1", i, j)
	}
	return v.inst.Command("CALCulate:PARameter:DEF:EXT %s, S%d%d", name, i, j)
}

func (v *VNA) SelectS21() error { return v.inst.Command("CALC:PAR:SEL 'CH1_S21_1'") }

// SelectDefaultTrace selects the first defined measurement.
func (v *VNA) SelectDefaultTrace() error {
	s, err := v.inst.Query("CALC:PAR:CAT?")
	if err != nil {
		return err
	}
	traces := scpi.ParseStrings(s)
	if len(traces) == 0 {
		return errors.New("pna: no measurements defined")
	}
	return v.inst.Command("CALC:PAR:SEL '%s'", traces[0])
}

// SelectSParameter presets the analyzer and shows sp ("Sij", j being the
// source port) in three windows: polar, unwrapped phase and log magnitude.
func (v *VNA) SelectSParameter(sp string) error {
	if len(sp) != 3 || (sp[0] != 'S' && sp[0] != 's') ||
		sp[1] < '1' || sp[1] > '4' || sp[2] < '1' || sp[2] > '4' {
		return fmt.Errorf("%w: %q", ErrSParameter, sp)
	}
	if err := v.Preset(); err != nil {
		return err
	}
	if err := v.inst.Command("DISPlay:ARRange SPLit"); err != nil {
		return err
	}
	i, j := int(sp[1]-'0'), int(sp[2]-'0')
	for k, name := range []string{"POLar", "UPHase", "MLOGarithmic"} {
		if err := v.DefineSij(i, j, name); err != nil {
			return err
		}
		if err := v.commands(
			fmt.Sprintf("DISPlay:WINDow%d:TRACe1:FEED %s", k+1, name),
			"CALCulate1:PARameter:SELect "+name,
			"CALCulate1:FORMat "+name,
		); err != nil {
			return err
		}
	}
	return nil
}

func (v *VNA) DeleteAllMeasurements() error { return v.inst.Command("CALC:PAR:DEL:ALL") }

// AutoscaleAll autoscales every window.
func (v *VNA) AutoscaleAll() error {
	s, err := v.inst.Query("Disp:Cat?")
	if err != nil {
		return err
	}
	for _, w := range scpi.ParseStrings(s) {
		if err := v.inst.Command("DISP:WIND%s:TRAC:Y:AUTO", w); err != nil {
			return err
		}
	}
	return nil
}

func (v *VNA) Autoscale() error { return v.inst.Command("DISP:WIND:TRAC:Y:AUTO") }

func (v *VNA) ResetWindows() error { return v.commands("DISP:WIND Off", "DISP:WIND On") }

// Preset restores the factory preset without defining a measurement.
func (v *VNA) Preset() error { return v.inst.Command("SYST:FPReset") }

func (v *VNA) SetElectricalDelay(d float64) error {
	return v.inst.Command("CALC%d:CORRection:EDELay:TIME %g", v.ci, d)
}

func (v *VNA) ElectricalDelay() (float64, error) {
	return v.inst.QueryFloat(fmt.Sprintf("CALC%d:CORRection:EDELay:TIME?", v.ci))
}

func (v *VNA) SetOutput(on bool) error { return v.inst.Command("OUTP %s", onOff(on)) }

// Data

// SData reads the complex trace of the selected measurement.
func (v *VNA) SData() ([]complex128, error) {
	if err := v.inst.Command(":FORMAT:DATA REAL,32; :FORMat:BORDer SWAP;"); err != nil {
		return nil, err
	}
	vals, err := v.inst.QueryFloat32s("CALCulate:DATA? SDATA", binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	if len(vals)%2 != 0 {
		return nil, fmt.Errorf("pna: odd number of values (%d) in sdata", len(vals))
	}
	data := make([]complex128, len(vals)/2)
	for k := range data {
		data[k] = complex(float64(vals[2*k]), float64(vals[2*k+1]))
	}
	return data, nil
}

// Trace is a trace in the format it was requested in. A and B are the real
// and imaginary parts, or amplitude and phase. In zero span mode they hold
// the mean of the trace.
type Trace struct {
	Format Format
	Raw    []complex128
	A, B   []float64
}

// TraceData reads the trace and converts it to f.
func (v *VNA) TraceData(f Format) (Trace, error) {
	data, err := v.SData()
	if err != nil {
		return Trace{}, err
	}
	tr := Trace{Format: f, Raw: data}
	if f == Raw {
		return tr, nil
	}
	if v.zerospan {
		var mean complex128
		for _, d := range data {
			mean += d
		}
		if len(data) > 0 {
			mean /= complex(float64(len(data)), 0)
		}
		data = []complex128{mean}
	}
	tr.A = make([]float64, len(data))
	tr.B = make([]float64, len(data))
	for k, d := range data {
		switch f {
		case RealImag:
			tr.A[k], tr.B[k] = real(d), imag(d)
		case AmpPha:
			tr.A[k], tr.B[k] = cmplx.Abs(d), cmplx.Phase(d)
		default:
			return Trace{}, ErrFormat
		}
	}
	return tr, nil
}

// MeasureAndGetData runs one synchronised sweep and reads the trace.
func (v *VNA) MeasureAndGetData(ctx context.Context, f Format) (Trace, error) {
	if err := v.PrepareForSTB(ctx); err != nil {
		return Trace{}, err
	}
	if err := v.Single(); err != nil {
		return Trace{}, err
	}
	if err := v.WaitForSTB(ctx); err != nil {
		return Trace{}, err
	}
	return v.TraceData(f)
}

// Triggering

// SetTriggerSource sets AUTO, MAN, EXT or REM.
func (v *VNA) SetTriggerSource(source string) error {
	s := strings.ToUpper(source)
	switch s {
	case "AUTO", "MAN", "EXT", "REM":
		return v.inst.Command("TRIG:SOUR %s", s)
	}
	return fmt.Errorf("%w: %q", ErrTriggerSource, source)
}

func (v *VNA) TriggerSource() (string, error) { return v.inst.Query("TRIG:SOUR?") }

func (v *VNA) SoftwareTrigger() error { return v.inst.Command("*TRG") }

// SetTriggerDelay delays the measurement after each external trigger.
func (v *VNA) SetTriggerDelay(d time.Duration) error {
	return v.inst.Command("TRIG:DEL %g", d.Seconds())
}

// SetAuxNumber selects the aux trigger output.
func (v *VNA) SetAuxNumber(n int) error { return v.inst.Command("TRIG:CHAN:AUX %d", n) }

// SetTriggerPerPoint outputs the aux trigger once per point instead of once
// per sweep.
func (v *VNA) SetTriggerPerPoint(perPoint bool) error {
	if perPoint {
		return v.inst.Command("TRIG:CHAN:AUX:INT POIN")
	}
	return v.inst.Command("TRIG:CHAN:AUX:INT SWE")
}

func (v *VNA) SetAuxPositive(pos bool) error {
	if pos {
		return v.inst.Command("TRIG:CHAN:AUX:OPOL POS")
	}
	return v.inst.Command("TRIG:CHAN:AUX:OPOL NEG")
}

// SetAuxBefore sends the aux trigger before the measurement instead of after.
func (v *VNA) SetAuxBefore(before bool) error {
	if before {
		return v.inst.Command("TRIG:CHAN:AUX:POS BEF")
	}
	return v.inst.Command("TRIG:CHAN:AUX:POS AFT")
}

// SetAuxDuration sets the aux pulse width; an EXG needs at least 2 ms.
func (v *VNA) SetAuxDuration(d time.Duration) error {
	return v.inst.Command("TRIG:CHAN:AUX:DUR %f", d.Seconds())
}

// Status byte synchronisation

// PrepareForSTB clears the status byte and enables the operation complete
// bit, so that *OPC later raises bit 5 of the status byte.
func (v *VNA) PrepareForSTB(ctx context.Context) error {
	if err := v.commands("*CLS", "*ESE 1"); err != nil {
		return err
	}
	for {
		stb, err := v.inst.StatusByte()
		if err != nil {
			return err
		}
		if stb == 0 {
			return nil
		}
		if err := sleep(ctx, v.poll); err != nil {
			return err
		}
	}
}

// WaitForSTB blocks until the pending sweep has completed.
func (v *VNA) WaitForSTB(ctx context.Context) error {
	if err := v.inst.Command("*OPC"); err != nil {
		return err
	}
	for {
		stb, err := v.inst.StatusByte()
		if err != nil {
			return err
		}
		if stb&esb != 0 {
			return nil
		}
		if err := sleep(ctx, v.poll); err != nil {
			return err
		}
	}
}

func (v *VNA) commands(cmds ...string) error {
	for _, c := range cmds {
		if err := v.inst.Command("%s", c); err != nil {
			return err
		}
	}
	return nil
}

func (v *VNA) refreshLimits() error {
	if _, err := v.Start(); err != nil {
		return err
	}
	_, err := v.Stop()
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func linspace(a, b float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = a
		return out
	}
	step := (b - a) / float64(n-1)
	for k := range out {
		out[k] = a + float64(k)*step
	}
	out[n-1] = b
	return out
}
