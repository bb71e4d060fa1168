package exg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/fulaut/lib/scpi"
	"github.com/gotmc/fulaut/lib/scpi/scpitest"
)

func TestSetters(t *testing.T) {
	fake := scpitest.New()
	g := New(scpi.New(fake))
	require.NoError(t, g.SetFrequency(5.2e9))
	require.NoError(t, g.SetPower(-10))
	require.NoError(t, g.SetOutput(true))
	require.NoError(t, g.SetModulation(false))
	require.NoError(t, g.SetIQ(true))
	assert.Equal(t, []string{
		":SOUR:FREQ 5200000000.000000",
		":SOUR:POW -10.00",
		":OUTP:STAT ON",
		":OUTP:MOD:STAT OFF",
		":DM:STAT ON",
	}, fake.Sent())
}

func TestQueries(t *testing.T) {
	fake := scpitest.New().
		On(":SOUR:FREQ?", "+5.2000000000000E+09").
		On(":OUTP:STAT?", "0").
		On(":SOUR:LIST:FREQ:POIN?", "3")
	g := New(scpi.New(fake))
	f, err := g.Frequency()
	require.NoError(t, err)
	assert.Equal(t, 5.2e9, f)
	on, err := g.Output()
	require.NoError(t, err)
	assert.False(t, on)
	n, err := g.ListPoints()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestConfigureListSweep(t *testing.T) {
	fake := scpitest.New()
	g := New(scpi.New(fake))
	err := g.ConfigureListSweep(ListSweep{
		Frequencies:  []float64{5e9, 5.1e9, 5.2e9},
		Dwell:        2 * time.Millisecond,
		PointTrigger: "ext",
		SweepTrigger: "BUS",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		":SOUR:LIST:TYPE LIST",
		":SOUR:LIST:FREQ 5000000000,5100000000,5200000000",
		":SOUR:LIST:DWEL 0.002",
		":SOUR:LIST:DIR UP",
		":LIST:TRIG:SOUR EXT",
		":TRIG:SOUR BUS",
		":INIT:CONT OFF",
		":SOUR:FREQ:MODE LIST",
	}, fake.Sent())

	assert.ErrorIs(t, g.ConfigureListSweep(ListSweep{Frequencies: []float64{1}, PointTrigger: "LAN", SweepTrigger: "BUS"}), ErrTriggerSource)
	assert.Error(t, g.ConfigureListSweep(ListSweep{}))
}
