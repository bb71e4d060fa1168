package visa

import (
	"bufio"
	"context"
	"strconv"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResource(t *testing.T) {
	testCases := []struct {
		in   string
		want Resource
	}{
		{"GPIB0::4::INSTR", Resource{Kind: GPIB, PrimaryAddr: 4}},
		{"GPIB1::4::101::INSTR", Resource{Kind: GPIB, Board: 1, PrimaryAddr: 4, SecondaryAddr: 101}},
		{"PROLOGIX::/dev/ttyUSB0::10", Resource{Kind: GPIB, Device: "/dev/ttyUSB0", PrimaryAddr: 10}},
		{"prologix::10.0.0.5:1234::2::96::INSTR", Resource{Kind: GPIB, Device: "10.0.0.5:1234", PrimaryAddr: 2, SecondaryAddr: 96}},
		{"TCPIP0::192.168.1.10::5025::SOCKET", Resource{Kind: Socket, Host: "192.168.1.10", Port: 5025}},
		{"ASRL/dev/ttyACM0::INSTR", Resource{Kind: Serial, Device: "/dev/ttyACM0"}},
		{"ASRL3::INSTR", Resource{Kind: Serial, Device: "COM3"}},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseResource(tc.in)
			require.NoError(t, err)
			tc.want.Raw = tc.in
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseResourceErrors(t *testing.T) {
	for _, in := range []string{
		"GPIB0::x::INSTR",
		"GPIB0::4",
		"TCPIP0::host::99999::SOCKET",
		"TCPIP0::host::SOCKET",
		"ASRL::INSTR",
		"PROLOGIX::/dev/ttyUSB0",
	} {
		_, err := ParseResource(in)
		assert.Error(t, err, in)
		assert.NotErrorIs(t, err, ErrUnsupported, in)
	}
	for _, in := range []string{"TCPIP0::10.0.0.1::inst0::INSTR", "USB0::0x0957::0x1796::MY1::INSTR"} {
		_, err := ParseResource(in)
		assert.ErrorIs(t, err, ErrUnsupported, in)
	}
}

func TestOpenSocket(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if line == "*IDN?\n" {
				conn.Write([]byte("Agilent Technologies,N5230C,MY1,A.09\n"))
			}
		}
	}()

	port := l.Addr().(*net.TCPAddr).Port
	inst, err := Open(context.Background(), "TCPIP0::127.0.0.1::"+strconv.Itoa(port)+"::SOCKET", Options{Name: "pna"})
	require.NoError(t, err)
	defer inst.Close()
	idn, err := inst.Identify()
	require.NoError(t, err)
	assert.Equal(t, "Agilent Technologies,N5230C,MY1,A.09", idn)
	assert.Equal(t, "pna", inst.Name())
}
