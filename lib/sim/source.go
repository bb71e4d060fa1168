package sim

import (
	"fmt"
	"strings"
)

// source is a GS210 driving the flux bias of every qubit.
type source struct {
	p params
}

func newSource() *source {
	s := &source{}
	s.reset()
	return s
}

func (s *source) identity() string { return "YOKOGAWA,GS210,91T926459,2.02" }

func (s *source) reset() {
	s.p = params{
		"SOUR:FUNC":      "CURR",
		"SOUR:LEVEL":     "0",
		"SOUR:RANG":      "0.01",
		"SOUR:PROT:VOLT": "3",
		"SOUR:PROT:CURR": "0.01",
		"OUTP":           "0",
	}
}

// bias is the level seen by the chip.
func (s *source) bias() float64 {
	if !s.p.on("OUTP") {
		return 0
	}
	return s.p.float("SOUR:LEVEL")
}

func (s *source) exec(c cmd) (string, error) {
	switch c.key() {
	case "SOUR:FUNC":
		if c.query() {
			return s.p["SOUR:FUNC"], nil
		}
		fn := c.upper()
		if !strings.HasPrefix(fn, "CURR") && !strings.HasPrefix(fn, "VOLT") {
			return "", fmt.Errorf("unknown source function %q", c.arg)
		}
		s.p["SOUR:FUNC"] = fn[:4]
		s.p["SOUR:LEVEL"] = "0"
		return "", nil
	case "SOUR:LEVEL":
		if c.query() {
			return s.p["SOUR:LEVEL"], nil
		}
		v, err := c.float()
		if err != nil {
			return "", err
		}
		if r := s.p.float("SOUR:RANG"); v > 1.2*r || v < -1.2*r {
			return "", fmt.Errorf("level %g outside range %g", v, r)
		}
		s.p["SOUR:LEVEL"] = formatFloat(v)
		return "", nil
	case "OUTP":
		if c.query() {
			return s.p["OUTP"], nil
		}
		v, err := onOffArg(c.arg)
		s.p["OUTP"] = v
		return "", err
	}
	return s.p.storeOrGet(c)
}
