package sim

import (
	"math"
	"math/cmplx"
)

// ReferencePower is the excitation power at which Qubit.RabiRate holds.
const ReferencePower = -20.0

// Qubit is a flux tunable transmon coupled to its readout resonator.
// Frequencies are in Hz, times in ns and biases in the unit of the bias
// source.
type Qubit struct {
	FMax      float64 // qubit frequency at the sweet spot
	Period    float64 // flux period in bias
	SweetSpot float64 // bias of FMax
	Resonator float64 // bare resonator frequency
	Coupling  float64 // qubit-resonator coupling g
	Kappa     float64 // resonator linewidth
	Depth     float64 // notch depth, 0 to 1
	Chi       float64 // dispersive shift, the excited state pulls the resonator down by 2 Chi
	T1        float64
	T2        float64
	RabiRate  float64 // Rabi frequency at ReferencePower and unit drive
}

// Frequency is the qubit frequency at bias.
func (q Qubit) Frequency(bias float64) float64 {
	return q.FMax * math.Sqrt(math.Abs(math.Cos(math.Pi*(bias-q.SweetSpot)/q.Period)))
}

// ResonatorFrequency is the resonator frequency at bias with the qubit in
// its ground state.
func (q Qubit) ResonatorFrequency(bias float64) float64 {
	return q.Resonator + q.Coupling*q.Coupling/(q.Resonator-q.Frequency(bias))
}

// rabi is the Rabi frequency for a drive at power dBm scaled by amplitude.
func (q Qubit) rabi(power, amplitude float64) float64 {
	return q.RabiRate * amplitude * math.Pow(10, (power-ReferencePower)/20)
}

func (q Qubit) notch(f, fr float64) complex128 {
	return 1 - complex(q.Depth, 0)/complex(1, 2*(f-fr)/q.Kappa)
}

// transmission is the resonator response at f when the qubit is excited
// with probability p.
func (q Qubit) transmission(f, bias, p float64) complex128 {
	fr := q.ResonatorFrequency(bias)
	g := q.notch(f, fr)
	if p == 0 {
		return g
	}
	e := q.notch(f, fr-2*q.Chi)
	return complex(1-p, 0)*g + complex(p, 0)*e
}

// steadyState is the excited state population under a continuous drive
// at frequency and power.
func (q Qubit) steadyState(bias, frequency, power float64) float64 {
	wr := 2 * math.Pi * q.rabi(power, 1)
	dw := 2 * math.Pi * (frequency - q.Frequency(bias))
	t1, t2 := q.T1*1e-9, q.T2*1e-9
	s := wr * wr * t1 * t2
	return 0.5 * s / (1 + dw*dw*t2*t2 + s)
}

// evolve starts from the ground state and applies drive, sampled every dt
// ns in the frame of the qubit, until until ns. It returns the excited
// state population. drive is in units of the Rabi frequency rate.
func (q Qubit) evolve(drive []complex128, dt, until float64, rate float64) float64 {
	x, y, z := 0.0, 0.0, -1.0
	d2 := math.Exp(-dt / q.T2)
	d1 := math.Exp(-dt / q.T1)
	steps := int(math.Min(float64(len(drive)), math.Ceil(until/dt)))
	idle := 0
	relax := func(n int) {
		if n == 0 {
			return
		}
		t := float64(n) * dt
		f2 := math.Exp(-t / q.T2)
		x, y = x*f2, y*f2
		z = -1 + (z+1)*math.Exp(-t/q.T1)
	}
	for k := 0; k < steps; k++ {
		d := drive[k]
		if d == 0 {
			idle++
			continue
		}
		relax(idle)
		idle = 0
		theta := 2 * math.Pi * rate * cmplx.Abs(d) * dt * 1e-9
		phi := cmplx.Phase(d)
		x, y, z = rotate(x, y, z, math.Cos(phi), math.Sin(phi), theta)
		x, y = x*d2, y*d2
		z = -1 + (z+1)*d1
	}
	relax(idle)
	// a sequence that ends before the readout keeps relaxing
	if rest := until - float64(steps)*dt; rest > 0 {
		z = -1 + (z+1)*math.Exp(-rest/q.T1)
	}
	return (1 + z) / 2
}

// rotate turns (x, y, z) by theta around the equatorial axis (nx, ny, 0).
func rotate(x, y, z, nx, ny, theta float64) (float64, float64, float64) {
	c, s := math.Cos(theta), math.Sin(theta)
	dot := nx*x + ny*y
	// n cross v with n = (nx, ny, 0)
	cx, cy, cz := ny*z, -nx*z, nx*y-ny*x
	return x*c + cx*s + nx*dot*(1-c),
		y*c + cy*s + ny*dot*(1-c),
		z*c + cz*s
}

// Chip is the device under test.
type Chip struct {
	Qubits []Qubit
}

// DefaultChip has two qubits read out at 7.2 and 7.35 GHz.
func DefaultChip() Chip {
	base := Qubit{
		Coupling: 100e6,
		Kappa:    1e6,
		Depth:    0.8,
		Chi:      0.5e6,
		T1:       20000,
		T2:       10000,
		RabiRate: 10e6,
	}
	q0, q1 := base, base
	q0.FMax, q0.Period, q0.SweetSpot, q0.Resonator = 5e9, 6e-3, 0.5e-3, 7.2e9
	q1.FMax, q1.Period, q1.SweetSpot, q1.Resonator = 5.4e9, 7e-3, -1e-3, 7.35e9
	return Chip{Qubits: []Qubit{q0, q1}}
}
