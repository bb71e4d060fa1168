// Package cmdlog logs the traffic between the host and an instrument and
// renders console transcripts of queries and commands.
package cmdlog

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

func isASCII(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

// describe formats a message the way the transcript shows it: quoted when
// printable, hex otherwise.
func describe(s string) string {
	switch {
	case isASCII(s):
		return fmt.Sprintf("[%d] %q", len(s), s)
	case len(s) < 32:
		return fmt.Sprintf("[%d] %q (% 2x)", len(s), s, []byte(s))
	default:
		return fmt.Sprintf("[%d] % 2x ...", len(s), []byte(s[:32]))
	}
}

// Conn logs every write and read on the wrapped transport.
type Conn struct {
	rw  io.ReadWriter
	log *zap.Logger
}

// Wrap returns rw with its traffic logged at debug level. Prologix
// read requests, serial polls and read deadlines are passed through when rw
// supports them.
func Wrap(rw io.ReadWriter, log *zap.Logger) *Conn {
	return &Conn{rw: rw, log: log}
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.rw.Write(p)
	c.log.Debug("tx", zap.String("data", describe(string(p[:n]))), zap.Error(err))
	return n, err
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.rw.Read(p)
	if n > 0 || (err != nil && !errors.Is(err, io.EOF)) {
		c.log.Debug("rx", zap.String("data", describe(string(p[:n]))), zap.Error(err))
	}
	return n, err
}

func (c *Conn) RequestRead() error {
	if rr, ok := c.rw.(interface{ RequestRead() error }); ok {
		return rr.RequestRead()
	}
	return nil
}

// StatusByte serial polls through the wrapped transport, or fails with
// errors.ErrUnsupported when it cannot.
func (c *Conn) StatusByte() (byte, error) {
	if sb, ok := c.rw.(interface{ StatusByte() (byte, error) }); ok {
		stb, err := sb.StatusByte()
		c.log.Debug("spoll", zap.Uint8("stb", stb), zap.Error(err))
		return stb, err
	}
	return 0, errors.ErrUnsupported
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	if d, ok := c.rw.(interface{ SetReadDeadline(time.Time) error }); ok {
		return d.SetReadDeadline(t)
	}
	return nil
}

func (c *Conn) Close() error {
	if cl, ok := c.rw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

var (
	CmdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Instrument is what a transcript needs from an instrument.
type Instrument interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
}

// Pretty writes a styled transcript of the queries and commands sent to an
// instrument.
type Pretty struct {
	inst Instrument
	w    io.Writer
}

func NewPretty(inst Instrument, w io.Writer) *Pretty {
	return &Pretty{inst: inst, w: w}
}

// Query sends q, prints the exchange and returns the response.
func (p *Pretty) Query(q string) (string, error) {
	a, err := p.inst.Query(q)
	qs := CmdStyle.Render(q)
	if err != nil {
		fmt.Fprintf(p.w, "%s: %s\n", qs, ErrStyle.Render(err.Error()))
		return "", err
	}
	if len(a) == 0 {
		fmt.Fprintf(p.w, "%s: %s\n", qs, R1Style.Render("<no response>"))
		return a, nil
	}
	fmt.Fprintf(p.w, "%s: %s\n", qs, R2Style.Render(describe(a)))
	return a, nil
}

// Command sends c and prints it.
func (p *Pretty) Command(c string) error {
	if err := p.inst.Command("%s", c); err != nil {
		fmt.Fprintf(p.w, "%s: %s\n", CmdStyle.Render(c), ErrStyle.Render(err.Error()))
		return err
	}
	fmt.Fprintf(p.w, "%s()\n", CmdStyle.Render(c))
	return nil
}
