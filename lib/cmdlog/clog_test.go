package cmdlog

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gotmc/fulaut/lib/scpi"
	"github.com/gotmc/fulaut/lib/scpi/scpitest"
)

func TestWrapLogsTraffic(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	fake := scpitest.New().On("*IDN?", "Agilent Technologies,N5230C,MY49001234,A.09.50")
	inst := scpi.New(Wrap(fake, zap.New(core)))

	idn, err := inst.Identify()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(idn, "Agilent"))

	tx := logs.FilterMessage("tx").All()
	require.Len(t, tx, 1)
	assert.Contains(t, tx[0].ContextMap()["data"], `*IDN?`)
	assert.NotEmpty(t, logs.FilterMessage("rx").All())
}

func TestWrapStatusByteFallsBack(t *testing.T) {
	fake := scpitest.New().On("*STB?", "32")
	conn := Wrap(fake, zap.NewNop())
	_, err := conn.StatusByte()
	assert.True(t, errors.Is(err, errors.ErrUnsupported))

	stb, err := scpi.New(conn).StatusByte()
	require.NoError(t, err)
	assert.Equal(t, byte(32), stb)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, `[3] "1.5"`, describe("1.5"))
	assert.Contains(t, describe("\x01\x02"), "01 02")
	assert.True(t, strings.HasSuffix(describe(strings.Repeat("\x00", 40)), "..."))
}

func TestPretty(t *testing.T) {
	fake := scpitest.New().On("SENS1:SWE:POIN?", "201")
	var out bytes.Buffer
	p := NewPretty(scpi.New(fake), &out)

	a, err := p.Query("SENS1:SWE:POIN?")
	require.NoError(t, err)
	assert.Equal(t, "201", a)
	require.NoError(t, p.Command("SENS1:SWE:POIN 101"))

	_, err = p.Query("DISP:COUN?")
	assert.Error(t, err)

	s := out.String()
	assert.Contains(t, s, "201")
	assert.Contains(t, s, "SENS1:SWE:POIN 101")
	assert.Equal(t, []string{"SENS1:SWE:POIN?", "SENS1:SWE:POIN 101", "DISP:COUN?"}, fake.Sent())
}
