package sim

import (
	"context"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/fulaut/lib/exg"
	"github.com/gotmc/fulaut/lib/gs210"
	"github.com/gotmc/fulaut/lib/pna"
	"github.com/gotmc/fulaut/lib/scpi"
)

func TestShortForm(t *testing.T) {
	testCases := []struct {
		in   string
		key  string
		nums []int
	}{
		{"SENSe1:SWEep:POINts?", "SENS:SWE:POIN?", []int{1, 0, 0}},
		{":SENS2:SWE:POIN", "SENS:SWE:POIN", []int{2, 0, 0}},
		{"Disp:Cat?", "DISP:CAT?", []int{0, 0}},
		{"*wai", "*WAI", []int{0}},
		{"*OPC", "*OPC", []int{0}},
		{":FORMAT:DATA", "FORM:DATA", []int{0, 0}},
		{"SOUR1:POW1:LEV:IMM:AMPL", "SOUR:POW:LEV:IMM:AMPL", []int{1, 1, 0, 0, 0}},
		{"SYST:FPReset", "SYST:FPR", []int{0, 0}},
		{"SENS1:AVER", "SENS:AVER:STAT", []int{1, 0}},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			key, nums := shortForm(tc.in)
			assert.Equal(t, tc.key, key)
			assert.Equal(t, tc.nums, nums)
		})
	}
}

func TestSplitUnits(t *testing.T) {
	assert.Equal(t, []string{":FORMAT:DATA REAL,32", " :FORMat:BORDer SWAP", ""},
		splitUnits([]byte(":FORMAT:DATA REAL,32; :FORMat:BORDer SWAP;")))
	assert.Equal(t, []string{"CALC:PAR:SEL 'a;b'"}, splitUnits([]byte("CALC:PAR:SEL 'a;b'")))

	block := scpi.EncodeBlock([]byte{';', '\n', 0})
	msg := append([]byte("SOUR1:DATA:ARB w,"), block...)
	assert.Equal(t, []string{string(msg)}, splitUnits(msg))
}

func TestConnRejects(t *testing.T) {
	b := New(DefaultChip())
	inst := scpi.New(b.VNA)
	require.NoError(t, inst.Command("BOGUS:CMD 1"))
	_, err := inst.Query("BOGUS:CMD?")
	assert.Error(t, err)
	assert.Len(t, b.Errors(), 2)

	s, err := inst.Query("SYST:ERR?")
	require.NoError(t, err)
	assert.Contains(t, s, "BOGUS:CMD")
}

func TestIdentify(t *testing.T) {
	b := New(DefaultChip())
	for _, model := range []string{"pna", "gs210", "exg", "33500b"} {
		c, err := b.Conn(model)
		require.NoError(t, err)
		idn, err := scpi.New(c).Identify()
		require.NoError(t, err)
		assert.NotEmpty(t, idn)
	}
	_, err := b.Conn("scope")
	assert.Error(t, err)
}

func TestChip(t *testing.T) {
	q := DefaultChip().Qubits[0]
	assert.InDelta(t, q.FMax, q.Frequency(q.SweetSpot), 1)
	assert.InDelta(t, q.FMax, q.Frequency(q.SweetSpot+q.Period), 1)
	assert.Less(t, q.Frequency(q.SweetSpot+q.Period/4), q.FMax)
	assert.Greater(t, q.ResonatorFrequency(q.SweetSpot), q.Resonator)

	fr := q.ResonatorFrequency(0)
	assert.InDelta(t, 1-q.Depth, cmplx.Abs(q.transmission(fr, 0, 0)), 1e-9)
	assert.InDelta(t, 1, cmplx.Abs(q.transmission(fr+100e6, 0, 0)), 1e-3)
	assert.Greater(t, cmplx.Abs(q.transmission(fr, 0, 1)), 0.5)

	assert.InDelta(t, 0.5, q.steadyState(0, q.Frequency(0), ReferencePower), 0.01)
	assert.InDelta(t, 0, q.steadyState(0, q.Frequency(0)+200e6, ReferencePower), 0.01)
}

func TestEvolve(t *testing.T) {
	q := DefaultChip().Qubits[0]
	dt := 4.0
	pi := 1 / (2 * q.RabiRate) * 1e9
	n := int(math.Round(pi / dt))
	drive := make([]complex128, 1000)
	for k := 0; k < n; k++ {
		drive[k] = 1
	}
	assert.InDelta(t, 1, q.evolve(drive, dt, float64(n)*dt, q.RabiRate), 0.02)
	// relaxation after the pulse
	after := q.evolve(drive, dt, float64(n)*dt+q.T1, q.RabiRate)
	assert.InDelta(t, math.Exp(-1), after, 0.03)
	// two pi pulses return to the ground state
	for k := n; k < 2*n; k++ {
		drive[k] = 1
	}
	assert.InDelta(t, 0, q.evolve(drive, dt, float64(2*n)*dt, q.RabiRate), 0.03)
	assert.Zero(t, q.evolve(make([]complex128, 10), dt, 40, q.RabiRate))
}

func TestAnalyzerSeesResonator(t *testing.T) {
	b := New(DefaultChip(), WithNoise(0))
	v, err := pna.New(scpi.New(b.VNA))
	require.NoError(t, err)
	q := b.Chip().Qubits[0]
	fr := q.ResonatorFrequency(0)
	require.NoError(t, v.Configure(
		pna.FreqLimits(fr-5e6, fr+5e6),
		pna.SweepType("LIN"),
		pna.Points(201),
		pna.Averages(1, pna.AverageSweep),
	))
	tr, err := v.MeasureAndGetData(context.Background(), pna.Raw)
	require.NoError(t, err)
	require.Len(t, tr.Raw, 201)
	assert.InDelta(t, 1-q.Depth, cmplx.Abs(tr.Raw[100]), 1e-3)
	assert.Greater(t, cmplx.Abs(tr.Raw[0]), 0.9)
	assert.Empty(t, b.Errors())
}

func TestBiasMovesResonator(t *testing.T) {
	b := New(DefaultChip(), WithNoise(0))
	src, err := gs210.New(scpi.New(b.Bias))
	require.NoError(t, err)
	require.NoError(t, src.SetCurrent(2e-3))
	assert.InDelta(t, 2e-3, b.source.bias(), 1e-12)

	v, err := pna.New(scpi.New(b.VNA))
	require.NoError(t, err)
	q := b.Chip().Qubits[0]
	fr := q.ResonatorFrequency(2e-3)
	require.NoError(t, v.Configure(pna.SweepType("CW"), pna.FreqLimits(fr, fr), pna.Points(3)))
	tr, err := v.MeasureAndGetData(context.Background(), pna.Raw)
	require.NoError(t, err)
	assert.InDelta(t, 1-q.Depth, cmplx.Abs(tr.Raw[0]), 1e-3)

	require.NoError(t, src.SetOutput(false))
	assert.Zero(t, b.source.bias())
	assert.Empty(t, b.Errors())
}

func TestTwoToneList(t *testing.T) {
	b := New(DefaultChip(), WithNoise(0))
	v, err := pna.New(scpi.New(b.VNA))
	require.NoError(t, err)
	g := exg.New(scpi.New(b.Excitation))
	q := b.Chip().Qubits[0]
	fq, fr := q.Frequency(0), q.ResonatorFrequency(0)

	require.NoError(t, v.Configure(pna.SweepType("CW"), pna.FreqLimits(fr, fr), pna.Points(3)))
	require.NoError(t, g.ConfigureListSweep(exg.ListSweep{
		Frequencies:  []float64{fq - 300e6, fq, fq + 300e6},
		PointTrigger: "EXT",
		SweepTrigger: "BUS",
	}))
	n, err := g.ListPoints()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, g.SetPower(ReferencePower))
	require.NoError(t, g.SetOutput(true))

	tr, err := v.MeasureAndGetData(context.Background(), pna.Raw)
	require.NoError(t, err)
	off := cmplx.Abs(tr.Raw[0])
	assert.InDelta(t, off, cmplx.Abs(tr.Raw[2]), 1e-3)
	assert.Greater(t, cmplx.Abs(tr.Raw[1])-off, 0.1)
	assert.Empty(t, b.Errors())
}
