package sim

import (
	"strings"

	"github.com/gotmc/fulaut/lib/scpi"
)

// generator is an EXG driving the qubits, either directly or through its
// I/Q modulator fed by the AWG.
type generator struct {
	p    params
	list []float64
}

func newGenerator() *generator {
	g := &generator{}
	g.reset()
	return g
}

func (g *generator) identity() string { return "Agilent Technologies, N5173B, MY53270123, B.01.86" }

func (g *generator) reset() {
	g.p = params{
		"SOUR:FREQ":      "5e9",
		"SOUR:POW":       "-20",
		"OUTP:STAT":      "0",
		"OUTP:MOD:STAT":  "0",
		"DM:STAT":        "0",
		"SOUR:FREQ:MODE": "CW",
		"SOUR:LIST:TYPE": "LIST",
		"SOUR:LIST:DWEL": "0.001",
		"SOUR:LIST:DIR":  "UP",
		"LIST:TRIG:SOUR": "IMM",
		"TRIG:SOUR":      "IMM",
		"INIT:CONT":      "0",
	}
	g.list = nil
}

func (g *generator) exec(c cmd) (string, error) {
	switch c.key() {
	case "OUTP:STAT", "OUTP:MOD:STAT", "DM:STAT", "INIT:CONT":
		if c.query() {
			return g.p[c.key()], nil
		}
		v, err := onOffArg(c.arg)
		g.p[c.key()] = v
		return "", err
	case "SOUR:LIST:FREQ":
		if c.query() {
			vals := make([]string, len(g.list))
			for k, f := range g.list {
				vals[k] = formatFloat(f)
			}
			return strings.Join(vals, ","), nil
		}
		vals, err := scpi.ParseFloats(c.arg)
		if err != nil {
			return "", err
		}
		g.list = vals
		return "", nil
	case "SOUR:LIST:FREQ:POIN":
		return formatFloat(float64(len(g.list))), nil
	case "INIT", "*TRG":
		return "", nil
	case "SOUR:FREQ:MODE":
		if c.query() {
			return g.p["SOUR:FREQ:MODE"], nil
		}
		g.p["SOUR:FREQ:MODE"] = c.upper()
		return "", nil
	}
	return g.p.storeOrGet(c)
}

func (g *generator) on() bool { return g.p.on("OUTP:STAT") }

// modulated reports whether the output is shaped by the I/Q inputs.
func (g *generator) modulated() bool {
	return g.p.on("DM:STAT") && g.p.on("OUTP:MOD:STAT")
}

func (g *generator) power() float64 { return g.p.float("SOUR:POW") }

func (g *generator) frequency() float64 { return g.p.float("SOUR:FREQ") }

// drive is the continuous tone at analyzer point k. A list sweep steps
// one frequency per point. A modulated output carries no tone of its own.
func (g *generator) drive(k int) (frequency, power float64, ok bool) {
	if !g.on() || g.modulated() {
		return 0, 0, false
	}
	if strings.HasPrefix(g.p["SOUR:FREQ:MODE"], "LIST") && len(g.list) > 0 {
		return g.list[k%len(g.list)], g.power(), true
	}
	return g.frequency(), g.power(), true
}
