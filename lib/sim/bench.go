package sim

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Bench is a simulated set of instruments wired to one chip.
type Bench struct {
	mu    sync.Mutex
	chip  Chip
	noise float64
	rng   *rand.Rand
	log   *zap.Logger

	vna    *analyzer
	source *source
	exg    *generator
	awg    *arb

	VNA        *Conn
	Bias       *Conn
	Excitation *Conn
	AWG        *Conn
}

type Option func(*Bench)

// WithSeed seeds the noise.
func WithSeed(seed uint64) Option {
	return func(b *Bench) { b.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithNoise sets the standard deviation of the complex noise on a single
// unaveraged analyzer point, in units of |S21|. The default is 0.01.
func WithNoise(sigma float64) Option { return func(b *Bench) { b.noise = sigma } }

func WithLogger(l *zap.Logger) Option { return func(b *Bench) { b.log = l } }

// New builds the bench around chip.
func New(chip Chip, opts ...Option) *Bench {
	b := &Bench{chip: chip, noise: 0.01, log: zap.NewNop()}
	WithSeed(1)(b)
	for _, opt := range opts {
		opt(b)
	}
	b.vna = newAnalyzer(b)
	b.source = newSource()
	b.exg = newGenerator()
	b.awg = newArb()
	b.VNA = newConn(&b.mu, b.vna, b.log.With(zap.String("instrument", "pna")))
	b.Bias = newConn(&b.mu, b.source, b.log.With(zap.String("instrument", "gs210")))
	b.Excitation = newConn(&b.mu, b.exg, b.log.With(zap.String("instrument", "exg")))
	b.AWG = newConn(&b.mu, b.awg, b.log.With(zap.String("instrument", "awg")))
	return b
}

// Chip returns the simulated chip.
func (b *Bench) Chip() Chip { return b.chip }

// Conn returns the transport of the instrument model: "pna", "gs210",
// "exg" or "33500b".
func (b *Bench) Conn(model string) (*Conn, error) {
	switch strings.ToLower(model) {
	case "pna":
		return b.VNA, nil
	case "gs210":
		return b.Bias, nil
	case "exg":
		return b.Excitation, nil
	case "33500b", "awg":
		return b.AWG, nil
	}
	return nil, fmt.Errorf("sim: no simulated %q", model)
}

// Errors collects the rejected commands of every instrument.
func (b *Bench) Errors() []string {
	var errs []string
	for _, c := range []*Conn{b.VNA, b.Bias, b.Excitation, b.AWG} {
		errs = append(errs, c.Errors()...)
	}
	return errs
}

// pulsedPopulations runs the sequence loaded in the AWG through every
// qubit and returns their excited state populations readout ns after the
// start of the period.
func (b *Bench) pulsedPopulations(bias, readout float64) []float64 {
	pops := make([]float64, len(b.chip.Qubits))
	if !b.exg.on() || !b.exg.modulated() || !b.awg.playing() {
		return pops
	}
	i, q, rate, vpp := b.awg.iq()
	if rate <= 0 || len(i) != len(q) {
		return pops
	}
	lo, power := b.exg.frequency(), b.exg.power()
	dt := 1e9 / rate
	for n, qb := range b.chip.Qubits {
		fq := qb.Frequency(bias)
		// a drive this far off resonance leaves the qubit alone
		if math.Abs(lo-fq) > 1e9 {
			continue
		}
		drive := make([]complex128, len(i))
		for k := range i {
			t := float64(k) * dt * 1e-9
			drive[k] = complex(float64(i[k]), float64(q[k])) * complex(vpp, 0) *
				cmplx.Exp(complex(0, 2*math.Pi*(lo-fq)*t))
		}
		pops[n] = qb.evolve(drive, dt, readout, qb.rabi(power, 1))
	}
	return pops
}
