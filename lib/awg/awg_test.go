package awg

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/fulaut/lib/scpi"
	"github.com/gotmc/fulaut/lib/scpi/scpitest"
)

func TestUpload(t *testing.T) {
	fake := scpitest.New().On("*OPC?", "1")
	g := New(scpi.New(fake))
	require.NoError(t, g.Upload(1, "rabi", []float32{0, 0.5, -1}))

	sent := fake.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "FORM:BORD SWAP", sent[0])
	prefix := "SOUR1:DATA:ARB rabi,"
	require.True(t, strings.HasPrefix(sent[1], prefix))
	data, _, err := scpi.DecodeBlock([]byte(sent[1][len(prefix):]))
	require.NoError(t, err)
	vals, err := scpi.Float32s(data, binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5, -1}, vals)
	assert.Equal(t, "*OPC?", sent[2])
}

func TestUploadRejects(t *testing.T) {
	g := New(scpi.New(scpitest.New()))
	assert.ErrorIs(t, g.Upload(1, "x", []float32{1.5}), ErrSample)
	assert.ErrorIs(t, g.Upload(3, "x", nil), ErrChannel)
	assert.ErrorIs(t, g.SetTriggerSource(1, "LAN"), ErrTriggerSource)
}

func TestSetters(t *testing.T) {
	fake := scpitest.New()
	g := New(scpi.New(fake))
	require.NoError(t, g.SetSampleRate(2, 1e9))
	require.NoError(t, g.SetAmplitude(1, 0.5))
	require.NoError(t, g.SetOffset(1, -0.01))
	require.NoError(t, g.SetTriggerSource(1, "ext"))
	require.NoError(t, g.SetBurst(1, 1))
	assert.Equal(t, []string{
		"SOUR2:FUNC:ARB:SRAT 1e+09",
		"SOUR1:VOLT 0.5",
		"SOUR1:VOLT:OFFS -0.01",
		"TRIG1:SOUR EXT",
		"SOUR1:BURS:MODE TRIG",
		"SOUR1:BURS:NCYC 1",
		"SOUR1:BURS:STAT ON",
	}, fake.Sent())
}

func TestLoadIQ(t *testing.T) {
	fake := scpitest.New().On("*OPC?", "1")
	g := New(scpi.New(fake))
	require.Error(t, g.LoadIQ("p", []float32{0}, nil))
	require.NoError(t, g.LoadIQ("p", []float32{0, 1}, []float32{1, 0}))

	var cmds []string
	for _, c := range fake.Commands() {
		if !strings.Contains(c, ":DATA:ARB ") {
			cmds = append(cmds, c)
		}
	}
	assert.Equal(t, []string{
		"OUTP1 OFF", "SOUR1:DATA:VOL:CLE", "FORM:BORD SWAP", "SOUR1:FUNC:ARB p", "SOUR1:FUNC ARB",
		"OUTP2 OFF", "SOUR2:DATA:VOL:CLE", "FORM:BORD SWAP", "SOUR2:FUNC:ARB p", "SOUR2:FUNC ARB",
		"SOUR1:FUNC:ARB:SYNC", "OUTP1 ON", "OUTP2 ON",
	}, cmds)
}
