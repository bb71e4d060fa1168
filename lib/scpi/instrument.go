// Copyright (c) 2020–2024 The fulaut developers. All rights reserved.
// Project site: https://github.com/gotmc/fulaut
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package scpi sends SCPI program messages to an instrument over any byte
// stream and parses its responses, including IEEE 488.2 binary blocks.
package scpi

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/query"
	"go.uber.org/zap"
)

// ErrTimeout is returned when the transport reports a read timeout.
var ErrTimeout = errors.New("scpi: read timeout")

// ReadRequester is implemented by transports that must be told to address
// the instrument to talk before a response can be read, such as a Prologix
// adapter with read-after-write disabled.
type ReadRequester interface {
	RequestRead() error
}

// StatusByter is implemented by transports that can serial poll the
// instrument out of band. Instruments on other transports, or transports
// whose StatusByte fails with errors.ErrUnsupported, are polled with *STB?.
type StatusByter interface {
	StatusByte() (byte, error)
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Instrument is a SCPI instrument reachable through a byte stream.
type Instrument struct {
	rw      io.ReadWriter
	r       *bufio.Reader
	term    byte
	timeout time.Duration
	delay   time.Duration
	last    time.Time
	name    string
	log     *zap.Logger
}

// Option configures an Instrument.
type Option func(*Instrument)

// WithTimeout sets the read timeout for transports that support deadlines.
func WithTimeout(d time.Duration) Option { return func(i *Instrument) { i.timeout = d } }

// WithWriteDelay enforces a minimum delay between consecutive messages.
func WithWriteDelay(d time.Duration) Option { return func(i *Instrument) { i.delay = d } }

// WithLogger sets the logger used for message traces.
func WithLogger(l *zap.Logger) Option { return func(i *Instrument) { i.log = l } }

// WithName names the instrument in log output.
func WithName(name string) Option { return func(i *Instrument) { i.name = name } }

// WithTerminator sets the program and response message terminator.
func WithTerminator(term byte) Option { return func(i *Instrument) { i.term = term } }

// New wraps the transport rw.
func New(rw io.ReadWriter, opts ...Option) *Instrument {
	i := &Instrument{
		rw:      rw,
		r:       bufio.NewReader(rw),
		term:    '\n',
		timeout: 10 * time.Second,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.log = i.log.With(zap.String("instrument", i.name))
	return i
}

// Name returns the name given with WithName.
func (i *Instrument) Name() string { return i.name }

// Transport returns the underlying byte stream.
func (i *Instrument) Transport() io.ReadWriter { return i.rw }

// Command formats according to a format specifier if arguments are given and
// sends the result as one program message.
func (i *Instrument) Command(format string, a ...any) error {
	cmd := format
	if len(a) > 0 {
		cmd = fmt.Sprintf(format, a...)
	}
	if err := i.write([]byte(strings.TrimSpace(cmd))); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

// Query sends cmd and returns the response with surrounding whitespace
// removed.
func (i *Instrument) Query(cmd string) (string, error) {
	if err := i.ask(cmd); err != nil {
		return "", err
	}
	s, err := i.r.ReadString(i.term)
	if err != nil && !(err == io.EOF && len(s) > 0) {
		return "", fmt.Errorf("%s: %w", cmd, mapTimeout(err))
	}
	s = strings.TrimSpace(s)
	i.log.Debug("scpi response", zap.String("query", cmd), zap.String("response", s))
	return s, nil
}

// Queryf formats the query before sending it.
func (i *Instrument) Queryf(format string, a ...any) (string, error) {
	return i.Query(fmt.Sprintf(format, a...))
}

// QueryFloat sends cmd and parses the response as a float.
func (i *Instrument) QueryFloat(cmd string) (float64, error) {
	return query.Float64(i, cmd)
}

// QueryInt sends cmd and parses the response as an integer.
func (i *Instrument) QueryInt(cmd string) (int, error) {
	return query.Int(i, cmd)
}

// QueryBool sends cmd and parses 0/1/OFF/ON responses.
func (i *Instrument) QueryBool(cmd string) (bool, error) {
	s, err := i.Query(cmd)
	if err != nil {
		return false, err
	}
	return ParseBool(s)
}

// QueryBlock sends cmd and reads a definite-length block response.
func (i *Instrument) QueryBlock(cmd string) ([]byte, error) {
	if err := i.ask(cmd); err != nil {
		return nil, err
	}
	data, err := ReadBlock(i.r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, mapTimeout(err))
	}
	// swallow the response terminator
	if b, err := i.r.Peek(1); err == nil && b[0] == i.term {
		i.r.ReadByte()
	}
	i.log.Debug("scpi block", zap.String("query", cmd), zap.Int("bytes", len(data)))
	return data, nil
}

// QueryFloat32s reads a REAL,32 block in the given byte order.
func (i *Instrument) QueryFloat32s(cmd string, order binary.ByteOrder) ([]float32, error) {
	data, err := i.QueryBlock(cmd)
	if err != nil {
		return nil, err
	}
	return Float32s(data, order)
}

// WriteBlock sends prefix immediately followed by data as a definite-length
// block, e.g. `SOUR1:DATA:ARB pulse,` and the sample bytes.
func (i *Instrument) WriteBlock(prefix string, data []byte) error {
	msg := append([]byte(prefix), EncodeBlock(data)...)
	if err := i.write(msg); err != nil {
		return fmt.Errorf("%s<block %d>: %w", prefix, len(data), err)
	}
	return nil
}

// StatusByte returns the instrument status byte.
func (i *Instrument) StatusByte() (byte, error) {
	if sb, ok := i.rw.(StatusByter); ok {
		stb, err := sb.StatusByte()
		if !errors.Is(err, errors.ErrUnsupported) {
			return stb, err
		}
	}
	stb, err := i.QueryInt("*STB?")
	return byte(stb), err
}

// Identify returns the *IDN? response.
func (i *Instrument) Identify() (string, error) { return i.Query("*IDN?") }

// Reset sends *RST.
func (i *Instrument) Reset() error { return i.Command("*RST") }

// Clear clears the status registers and error queue (*CLS).
func (i *Instrument) Clear() error { return i.Command("*CLS") }

// WaitComplete blocks until all pending operations are complete (*OPC?).
func (i *Instrument) WaitComplete() error {
	_, err := i.Query("*OPC?")
	return err
}

// Close closes the transport if it can be closed.
func (i *Instrument) Close() error {
	if c, ok := i.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (i *Instrument) ask(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if err := i.write([]byte(cmd)); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if rr, ok := i.rw.(ReadRequester); ok {
		if err := rr.RequestRead(); err != nil {
			return fmt.Errorf("%s: request read: %w", cmd, err)
		}
	}
	if d, ok := i.rw.(deadliner); ok && i.timeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(i.timeout)); err != nil {
			return fmt.Errorf("%s: set deadline: %w", cmd, err)
		}
	}
	return nil
}

func (i *Instrument) write(msg []byte) error {
	// a stale response left over from a timed out query would otherwise be
	// returned for the next one
	if n := i.r.Buffered(); n > 0 {
		i.log.Warn("discarding unread response bytes", zap.Int("bytes", n))
		i.r.Discard(n)
	}
	if i.delay > 0 {
		if wait := i.delay - time.Since(i.last); wait > 0 {
			time.Sleep(wait)
		}
	}
	if len(msg) < 256 {
		i.log.Debug("scpi write", zap.ByteString("msg", msg))
	} else {
		i.log.Debug("scpi write", zap.Int("bytes", len(msg)))
	}
	_, err := i.rw.Write(append(msg, i.term))
	i.last = time.Now()
	return err
}

// ParseBool parses the boolean forms instruments answer with.
func ParseBool(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "+1", "ON":
		return true, nil
	case "0", "+0", "OFF":
		return false, nil
	}
	return false, fmt.Errorf("scpi: invalid boolean %q", s)
}

// ParseFloats parses a comma separated list of numbers.
func ParseFloats(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vals := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("scpi: parse %q: %w", p, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// ParseStrings splits a quoted, comma separated catalog response such as
// `"CH1_S11_1,S11,CH1_S21_2,S21"`.
func ParseStrings(s string) []string {
	s = strings.NewReplacer(`"`, "", "'", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for k := range parts {
		parts[k] = strings.TrimSpace(parts[k])
	}
	return parts
}

func mapTimeout(err error) error {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return ErrTimeout
	}
	return err
}
