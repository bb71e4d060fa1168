// Copyright (c) 2020–2024 The fulaut developers. All rights reserved.
// Project site: https://github.com/gotmc/fulaut
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package prologix drives a Prologix GPIB-USB or GPIB-Ethernet adapter (or
// an Arduino AR488 clone) as the GPIB controller-in-charge of a single
// instrument, so that the instrument can be used as a plain byte stream by
// the scpi package.
package prologix

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/query"
	"go.uber.org/zap"
)

const esc = 0x1b

// Controller models a GPIB controller-in-charge.
type Controller struct {
	rw               io.ReadWriter
	r                *bufio.Reader
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	auto             bool
	eoi              bool
	usbTerm          byte
	eotChar          byte
	readTimeout      time.Duration
	writeDelay       time.Duration
	lastWrite        time.Time
	debug            bool // if true, log controller commands before sending. Set via WithDebug().
	ar488            bool // compatibility with Arduino AR488 - see WithAR488 documentation for details.
	log              *zap.Logger
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// NewController creates a GPIB controller-in-charge at the given address using
// the given Prologix link, which can either be a Virtual COM Port (VCP) or an
// Ethernet socket. Enable clear to send the Selected Device Clear (SDC)
// message to the GPIB address. Optionally controller configuration can be
// included using a ControllerOption.
func NewController(
	rw io.ReadWriter,
	addr int,
	clear bool,
	opts ...ControllerOption,
) (*Controller, error) {
	c := Controller{
		rw:          rw,
		r:           bufio.NewReader(rw),
		primaryAddr: addr,
		auto:        false,
		eoi:         true,
		usbTerm:     '\n',
		eotChar:     '\n',
		readTimeout: 500 * time.Millisecond,
		log:         zap.L(),
	}

	// Apply options using the functional option pattern.
	for _, opt := range opts {
		opt(&c)
	}

	if !isPrimaryAddressValid(c.primaryAddr) {
		return nil, fmt.Errorf("invalid primary address %d (must by 0-30)", c.primaryAddr)
	}

	if c.hasSecondaryAddr && !isSecondaryAddressValid(c.secondaryAddr) {
		return nil, fmt.Errorf("invalid secondary address %d (must be 96-126)", c.secondaryAddr)
	}
	addrCmd := c.addrCmd()
	cmds := []string{}
	if !c.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // don't wear out the EPROM while configuring
		)
	}
	cmds = append(cmds,
		addrCmd,
		"mode 1", // controller mode
		"auto 0", // no read-after-write; queries ask for a read explicitly
		fmt.Sprintf("eoi %d", boolToInt(c.eoi)),
		"eos 0",
		fmt.Sprintf("read_tmo_ms %d", c.readTimeout.Milliseconds()),
		fmt.Sprintf("eot_char %d", c.eotChar),
		"eot_enable 1",
	)
	if clear {
		cmds = append(cmds, "clr")
	}
	for _, cmd := range cmds {
		if err := c.CommandController(cmd); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasSecondaryAddr = true
		c.secondaryAddr = addr
	}
}

// WithDebug causes commands and responses to be logged.
func WithDebug() ControllerOption { return func(c *Controller) { c.debug = true } }

// WithAR488 slightly alters the init commands, for compatiblity with the
// Arduino-based AR488. Specifically, we do not emit 'verbose 0', nor do
// we toggle savecfg.
func WithAR488() ControllerOption { return func(c *Controller) { c.ar488 = true } }

// WithWriteDelay enforces a minimum delay between consecutive writes. Some
// older instruments drop commands that arrive back to back.
func WithWriteDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.writeDelay = d }
}

// WithReadTimeout sets the adapter's GPIB read timeout (++read_tmo_ms). The
// Prologix accepts 1 to 3000 ms.
func WithReadTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		switch {
		case d < time.Millisecond:
			d = time.Millisecond
		case d > 3*time.Second:
			d = 3 * time.Second
		}
		c.readTimeout = d
	}
}

// WithLogger sets the logger used for debug output. The global zap logger is
// used otherwise.
func WithLogger(l *zap.Logger) ControllerOption {
	return func(c *Controller) { c.log = l }
}

// Write writes one program message to the instrument at the currently
// assigned GPIB address. A trailing USB terminator is passed through
// unescaped; CR, LF, ESC and '+' anywhere else in p are escaped so that
// binary blocks reach the instrument intact.
func (c *Controller) Write(p []byte) (n int, err error) {
	body := p
	term := false
	if l := len(p); l > 0 && p[l-1] == c.usbTerm {
		body = p[:l-1]
		term = true
	}
	buf := make([]byte, 0, len(p)+8)
	for _, b := range body {
		switch b {
		case '\r', '\n', esc, '+':
			buf = append(buf, esc)
		}
		buf = append(buf, b)
	}
	if term {
		buf = append(buf, c.usbTerm)
	}
	c.pace()
	if c.debug {
		c.log.Debug("prologix write", zap.Int("addr", c.primaryAddr), zap.ByteString("data", p))
	}
	if _, err := c.rw.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read reads from the instrument at the currently assigned GPIB address into
// the given byte slice.
func (c *Controller) Read(p []byte) (n int, err error) {
	return c.r.Read(p)
}

// RequestRead asks the adapter to address the instrument to talk. The scpi
// layer calls it after writing a query. When read-after-write is enabled the
// adapter does this on its own and RequestRead is a no-op.
func (c *Controller) RequestRead() error {
	if c.auto {
		return nil
	}
	return c.CommandController("read eoi")
}

// Command formats according to a format specifier if provided and sends a
// SCPI/ASCII command to the instrument at the currently assigned GPIB address.
// All leading and trailing whitespace is removed before appending the USB
// terminator to the command sent to the Prologix.
func (c *Controller) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	_, err := c.Write([]byte(strings.TrimSpace(cmd) + string(c.usbTerm)))
	return err
}

// Query queries the instrument at the currently assigned GPIB using the given
// SCPI/ASCII command. The cmd string does not need to include a new line
// character. When data from host is received over USB, the Prologix
// controller removes all non-escaped LF, CR and ESC characters and appends
// the GPIB terminator, as specified by the `eos` command, before sending the
// data to instruments.
func (c *Controller) Query(cmd string) (string, error) {
	if err := c.Command("%s", cmd); err != nil {
		return "", fmt.Errorf("error writing command: %w", err)
	}
	if err := c.RequestRead(); err != nil {
		return "", fmt.Errorf("error requesting read: %w", err)
	}
	s, err := c.r.ReadString(c.eotChar)
	if err == io.EOF {
		return s, nil
	}
	return s, err
}

// QueryController sends the given command to the Prologix controller and
// returns its response as a string. To indicate this is a command for the
// Prologix controller, thereby not transmitting over GPIB, two plus signs `++`
// are prepended. Addtionally, a new line is appended to act as the USB
// termination character.
func (c *Controller) QueryController(cmd string) (string, error) {
	err := c.CommandController(cmd)
	if err != nil {
		return "", err
	}
	s, err := c.r.ReadString(c.eotChar)
	if c.debug {
		c.log.Debug("prologix read", zap.String("data", s))
	}
	return s, err
}

// CommandController sends the given command to the Prologix controller. To
// indicate this is a command for the Prologix controller, thereby not
// transmitting to the instrument over GPIB, two plus signs `++` are prepended.
// Addtionally, a new line is appended to act as the USB termination character.
func (c *Controller) CommandController(cmd string) error {
	cmd = fmt.Sprintf("++%s%c", strings.ToLower(strings.TrimSpace(cmd)), c.usbTerm)
	if c.debug {
		c.log.Debug("prologix cmd", zap.String("cmd", cmd))
	}
	c.pace()
	_, err := c.rw.Write([]byte(cmd))
	return err
}

// StatusByte serial polls the instrument and returns its status byte.
func (c *Controller) StatusByte() (byte, error) {
	stb, err := query.Int(controllerQuerier{c}, "spoll")
	if err != nil {
		return 0, fmt.Errorf("serial poll: %w", err)
	}
	return byte(stb), nil
}

// ServiceRequest reports whether SRQ is asserted on the bus.
func (c *Controller) ServiceRequest() (bool, error) {
	srq, err := query.Int(controllerQuerier{c}, "srq")
	return srq == 1, err
}

// ClearDevice sends the Selected Device Clear (SDC) message to the currently
// addressed instrument.
func (c *Controller) ClearDevice() error {
	return c.CommandController("clr")
}

// FrontPanel returns the instrument to local control when local is true and
// locks out the front panel otherwise.
func (c *Controller) FrontPanel(local bool) error {
	if local {
		return c.CommandController("loc")
	}
	return c.CommandController("llo")
}

// InstrumentAddress returns the primary and, if set, secondary GPIB address
// the adapter is talking to. The secondary address is 0 when not set.
func (c *Controller) InstrumentAddress() (int, int, error) {
	s, err := c.QueryController("addr")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, 0, fmt.Errorf("empty ++addr response")
	}
	pad, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parse primary address %q: %w", fields[0], err)
	}
	if len(fields) < 2 {
		return pad, 0, nil
	}
	sad, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parse secondary address %q: %w", fields[1], err)
	}
	return pad, sad, nil
}

// Version returns the adapter firmware version string.
func (c *Controller) Version() (string, error) {
	s, err := c.QueryController("ver")
	return strings.TrimSpace(s), err
}

// ReadAfterWrite reports whether the adapter automatically addresses the
// instrument to talk after each write.
func (c *Controller) ReadAfterWrite() (bool, error) {
	auto, err := query.Int(controllerQuerier{c}, "auto")
	return auto == 1, err
}

// SetReadAfterWrite enables or disables read-after-write.
func (c *Controller) SetReadAfterWrite(enable bool) error {
	if err := c.CommandController(fmt.Sprintf("auto %d", boolToInt(enable))); err != nil {
		return err
	}
	c.auto = enable
	return nil
}

// ReadTimeout returns the adapter read timeout in milliseconds.
func (c *Controller) ReadTimeout() (int, error) {
	return query.Int(controllerQuerier{c}, "read_tmo_ms")
}

// GPIBTermination returns the terminator appended to instrument commands.
func (c *Controller) GPIBTermination() (GpibTerm, error) {
	term, err := query.Int(controllerQuerier{c}, "eos")
	return GpibTerm(term), err
}

// SetGPIBTermination sets the terminator appended to instrument commands.
func (c *Controller) SetGPIBTermination(term GpibTerm) error {
	return c.CommandController(fmt.Sprintf("eos %d", term))
}

// Select re-addresses the adapter to this controller's instrument. Needed
// when several controllers share one adapter.
func (c *Controller) Select() error {
	return c.CommandController(c.addrCmd())
}

func (c *Controller) addrCmd() string {
	if c.hasSecondaryAddr {
		return fmt.Sprintf("addr %d %d", c.primaryAddr, c.secondaryAddr)
	}
	return fmt.Sprintf("addr %d", c.primaryAddr)
}

// pace sleeps until the configured write delay has elapsed since the last
// write.
func (c *Controller) pace() {
	if c.writeDelay > 0 {
		if wait := c.writeDelay - time.Since(c.lastWrite); wait > 0 {
			time.Sleep(wait)
		}
	}
	c.lastWrite = time.Now()
}

// controllerQuerier sends queries to the adapter itself rather than the
// instrument.
type controllerQuerier struct{ c *Controller }

func (q controllerQuerier) Query(cmd string) (string, error) {
	s, err := q.c.QueryController(cmd)
	return strings.TrimSpace(s), err
}

// GpibTerm provides the type for the available GPIB terminators.
type GpibTerm int

// Available GPIB terminators for the Prologix Controller.
const (
	AppendCRLF GpibTerm = iota
	AppendCR
	AppendLF
	AppendNothing
)

var gpibTermDesc = map[GpibTerm]string{
	AppendCRLF:    `Append CR+LF (\r\n) to instrument commands`,
	AppendCR:      `Append CR (\r) to instrument commands`,
	AppendLF:      `Append LF (\n) to instrument commands`,
	AppendNothing: `Do not append anything to instrument commands`,
}

func (term GpibTerm) String() string {
	return gpibTermDesc[term]
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
