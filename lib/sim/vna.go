package sim

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/gotmc/fulaut/lib/scpi"
)

// analyzer is a one channel PNA-L measuring S21 of the chip.
type analyzer struct {
	b     *Bench
	p     params
	trace []complex128
	meas  []string
}

func newAnalyzer(b *Bench) *analyzer {
	a := &analyzer{b: b}
	a.reset()
	return a
}

func (a *analyzer) identity() string {
	return "Agilent Technologies,N5230C,MY49001234,A.09.90.02"
}

func (a *analyzer) reset() {
	a.p = params{
		"SENS:SWE:POIN":         "201",
		"SENS:BWID:RES":         "1000",
		"SENS:AVER:STAT":        "0",
		"SENS:AVER:COUN":        "1",
		"SENS:AVER:MODE":        "SWEEP",
		"SENS:SWE:GRO:COUN":     "1",
		"SENS:FREQ:STAR":        "7e9",
		"SENS:FREQ:STOP":        "7.5e9",
		"SENS:FREQ:CW":          "7e9",
		"SOUR:POW:LEV:IMM:AMPL": "-20",
		"SENS:SWE:TYPE":         "LIN",
		"SENS:SWE:MODE":         "CONT",
		"TRIG:SOUR":             "IMM",
		"TRIG:DEL":              "0",
		"TRIG:CHAN:AUX":         "1",
		"TRIG:CHAN:AUX:INT":     "SWE",
		"TRIG:CHAN:AUX:OPOL":    "POS",
		"TRIG:CHAN:AUX:POS":     "AFT",
		"TRIG:CHAN:AUX:DUR":     "1e-6",
		"CALC:CORR:EDEL:TIME":   "0",
		"OUTP":                  "1",
		"FORM:DATA":             "ASC",
		"FORM:BORD":             "NORM",
	}
	a.meas = []string{"CH1_S11_1", "S11"}
	a.trace = nil
}

func (a *analyzer) exec(c cmd) (string, error) {
	switch c.key() {
	case "SENS:FREQ:CENT", "SENS:FREQ:SPAN":
		return a.centerSpan(c)
	case "SENS:SWE:TIME":
		if c.query() {
			return formatFloat(a.sweepTime()), nil
		}
		return "", nil
	case "SENS:SWE:MODE":
		if c.query() {
			return a.p["SENS:SWE:MODE"], nil
		}
		mode := c.upper()
		a.p["SENS:SWE:MODE"] = mode
		if strings.HasPrefix(mode, "SING") || strings.HasPrefix(mode, "GRO") {
			a.sweep()
		}
		return "", nil
	case "INIT", "INIT:IMM":
		a.sweep()
		return "", nil
	case "ABORT", "ABOR", "*TRG":
		return "", nil
	case "SENS:AVER:CLE":
		return "", nil
	case "SENS:AVER:STAT", "OUTP":
		if c.query() {
			return a.p[c.key()], nil
		}
		v, err := onOffArg(c.arg)
		a.p[c.key()] = v
		return "", err
	case "CALC:DATA":
		if !c.query() || c.upper() != "SDATA" {
			return "", fmt.Errorf("only SDATA can be read")
		}
		return a.sdata(), nil
	case "CALC:PAR:DEF:EXT":
		parts := scpi.ParseStrings(c.arg)
		if len(parts) != 2 {
			return "", fmt.Errorf("bad measurement definition %q", c.arg)
		}
		a.meas = append(a.meas, parts...)
		return "", nil
	case "CALC:PAR:CAT":
		return `"` + strings.Join(a.meas, ",") + `"`, nil
	case "CALC:PAR:DEL:ALL":
		a.meas = nil
		return "", nil
	case "SYST:FPR":
		a.reset()
		a.meas = nil
		return "", nil
	case "CALC:PAR:SEL", "CALC:FORM", "DISP:ARR", "DISP:WIND", "DISP:WIND:TRAC:FEED", "DISP:WIND:TRAC:Y:AUTO":
		return "", nil
	case "DISP:CAT":
		return `"1,2,3"`, nil
	case "DISP:COUN":
		return "1", nil
	case "TRIG:SOUR":
		if c.query() {
			return a.p["TRIG:SOUR"], nil
		}
		a.p["TRIG:SOUR"] = c.upper()
		return "", nil
	}
	return a.p.storeOrGet(c)
}

func (a *analyzer) centerSpan(c cmd) (string, error) {
	start, stop := a.p.float("SENS:FREQ:STAR"), a.p.float("SENS:FREQ:STOP")
	center, span := (start+stop)/2, stop-start
	if c.query() {
		if c.key() == "SENS:FREQ:CENT" {
			return formatFloat(center), nil
		}
		return formatFloat(span), nil
	}
	v, err := c.float()
	if err != nil {
		return "", err
	}
	if c.key() == "SENS:FREQ:CENT" {
		center = v
	} else {
		span = v
	}
	a.p["SENS:FREQ:STAR"] = formatFloat(center - span/2)
	a.p["SENS:FREQ:STOP"] = formatFloat(center + span/2)
	return "", nil
}

func (a *analyzer) points() int {
	n := a.p.int("SENS:SWE:POIN")
	if n < 1 {
		return 1
	}
	return n
}

func (a *analyzer) averages() int {
	if !a.p.on("SENS:AVER:STAT") {
		return 1
	}
	return max(1, a.p.int("SENS:AVER:COUN"))
}

func (a *analyzer) sweepTime() float64 {
	return float64(a.points()) / a.p.float("SENS:BWID:RES")
}

// frequencies are the stimulus frequencies of the sweep.
func (a *analyzer) frequencies() []float64 {
	n := a.points()
	out := make([]float64, n)
	if strings.HasPrefix(strings.ToUpper(a.p["SENS:SWE:TYPE"]), "CW") {
		cw := a.p.float("SENS:FREQ:CW")
		for k := range out {
			out[k] = cw
		}
		return out
	}
	start, stop := a.p.float("SENS:FREQ:STAR"), a.p.float("SENS:FREQ:STOP")
	for k := range out {
		if n > 1 {
			out[k] = start + (stop-start)*float64(k)/float64(n-1)
		} else {
			out[k] = start
		}
	}
	return out
}

// sweep measures the whole trace. An external trigger source means the
// analyzer is slaved to the AWG and reads out the pulsed sequence.
func (a *analyzer) sweep() {
	freqs := a.frequencies()
	bias := a.b.source.bias()
	sigma := a.b.noise / math.Sqrt(float64(a.averages()))
	a.trace = make([]complex128, len(freqs))

	var pulsed []float64
	if strings.HasPrefix(a.p["TRIG:SOUR"], "EXT") {
		pulsed = a.b.pulsedPopulations(bias, a.p.float("TRIG:DEL")*1e9)
	}
	for k, f := range freqs {
		s := complex(1, 0)
		for qi, q := range a.b.chip.Qubits {
			p := 0.0
			if pulsed != nil {
				p = pulsed[qi]
			} else if exc, power, ok := a.b.exg.drive(k); ok {
				p = q.steadyState(bias, exc, power)
			}
			s *= q.transmission(f, bias, p)
		}
		a.trace[k] = s + complex(a.b.rng.NormFloat64()*sigma, a.b.rng.NormFloat64()*sigma)
	}
}

// sdata is the trace as interleaved REAL,32 pairs in swapped byte order.
func (a *analyzer) sdata() string {
	vals := make([]float32, 0, 2*len(a.trace))
	for _, v := range a.trace {
		vals = append(vals, float32(real(v)), float32(imag(v)))
	}
	order := binary.ByteOrder(binary.BigEndian)
	if strings.HasPrefix(strings.ToUpper(a.p["FORM:BORD"]), "SWAP") {
		order = binary.LittleEndian
	}
	return string(scpi.EncodeBlock(scpi.PutFloat32s(vals, order)))
}
