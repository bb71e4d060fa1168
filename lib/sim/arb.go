package sim

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gotmc/fulaut/lib/scpi"
)

// channel is one output of the AWG.
type channel struct {
	p         params
	waveforms map[string][]float32
	selected  string
}

func (ch *channel) samples() []float32 { return ch.waveforms[ch.selected] }

// arb is a 33500B whose channels feed the I and Q inputs of the EXG. Its
// sync output triggers the analyzer at the start of every repetition.
type arb struct {
	ch    [2]*channel
	order binary.ByteOrder
}

func newArb() *arb {
	a := &arb{}
	a.reset()
	return a
}

func (a *arb) identity() string { return "Agilent Technologies,33522B,MY52800123,3.05-1.19-2.00-52-00" }

func (a *arb) reset() {
	for k := range a.ch {
		a.ch[k] = &channel{
			p: params{
				"SOUR:FUNC:ARB:SRAT": "1e6",
				"SOUR:VOLT":          "0.1",
				"SOUR:VOLT:OFFS":     "0",
				"OUTP":               "0",
				"TRIG:SOUR":          "IMM",
				"SOUR:BURS:MODE":     "TRIG",
				"SOUR:BURS:NCYC":     "1",
				"SOUR:BURS:STAT":     "0",
				"SOUR:FUNC":          "SIN",
			},
			waveforms: make(map[string][]float32),
		}
	}
	a.order = binary.BigEndian
}

func (a *arb) exec(c cmd) (string, error) {
	switch c.key() {
	case "FORM:BORD":
		if strings.HasPrefix(c.upper(), "SWAP") {
			a.order = binary.LittleEndian
		} else {
			a.order = binary.BigEndian
		}
		return "", nil
	case "SOUR:FUNC:ARB:SYNC", "*TRG":
		return "", nil
	}
	ch, err := a.channel(c.num(0))
	if err != nil {
		return "", err
	}
	switch c.key() {
	case "SOUR:DATA:VOL:CLE":
		ch.waveforms = make(map[string][]float32)
		ch.selected = ""
		return "", nil
	case "SOUR:DATA:ARB":
		return "", a.upload(ch, c.arg)
	case "SOUR:FUNC:ARB":
		if c.query() {
			return `"` + ch.selected + `"`, nil
		}
		name := strings.Trim(c.arg, `"'`)
		if _, ok := ch.waveforms[name]; !ok {
			return "", fmt.Errorf("no waveform %q", name)
		}
		ch.selected = name
		return "", nil
	case "OUTP", "SOUR:BURS:STAT":
		if c.query() {
			return ch.p[c.key()], nil
		}
		v, err := onOffArg(c.arg)
		ch.p[c.key()] = v
		return "", err
	}
	return ch.p.storeOrGet(c)
}

// channel picks the channel from the numeric suffix of the first node.
func (a *arb) channel(n int) (*channel, error) {
	if n == 0 {
		n = 1
	}
	if n < 1 || n > len(a.ch) {
		return nil, fmt.Errorf("no channel %d", n)
	}
	return a.ch[n-1], nil
}

func (a *arb) upload(ch *channel, arg string) error {
	k := strings.IndexByte(arg, ',')
	if k < 0 {
		return fmt.Errorf("missing waveform name")
	}
	data, _, err := scpi.DecodeBlock([]byte(arg[k+1:]))
	if err != nil {
		return err
	}
	vals, err := scpi.Float32s(data, a.order)
	if err != nil {
		return err
	}
	ch.waveforms[strings.TrimSpace(arg[:k])] = vals
	return nil
}

// playing reports whether both channels output an arbitrary waveform.
func (a *arb) playing() bool {
	for _, ch := range a.ch {
		if !ch.p.on("OUTP") || !strings.HasPrefix(strings.ToUpper(ch.p["SOUR:FUNC"]), "ARB") || ch.samples() == nil {
			return false
		}
	}
	return true
}

// iq returns the I and Q samples, their sample rate in Sa/s and the
// amplitude scale of channel 1.
func (a *arb) iq() (i, q []float32, rate, vpp float64) {
	return a.ch[0].samples(), a.ch[1].samples(), a.ch[0].p.float("SOUR:FUNC:ARB:SRAT"), a.ch[0].p.float("SOUR:VOLT")
}
