// Copyright (c) 2020–2024 The fulaut developers. All rights reserved.
// Project site: https://github.com/gotmc/fulaut
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package visa opens instruments named by VISA style resource strings
// without depending on a vendor VISA library.
//
// Supported resources:
//
//	GPIB[board]::<pad>[::<sad>]::INSTR      through a Prologix adapter
//	PROLOGIX::<link>::<pad>[::<sad>][::INSTR] with an explicit adapter link
//	TCPIP[board]::<host>::<port>::SOCKET    raw SCPI socket
//	ASRL<device>::INSTR                     serial port
//
// The Prologix link is either a serial device path or host:port of a
// GPIB-Ethernet adapter.
package visa

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupported is returned for resource classes that need a vendor VISA
// stack, such as VXI-11 or HiSLIP.
var ErrUnsupported = errors.New("visa: unsupported resource")

// Kind is the interface class of a resource.
type Kind int

const (
	GPIB Kind = iota
	Socket
	Serial
)

func (k Kind) String() string {
	switch k {
	case GPIB:
		return "GPIB"
	case Socket:
		return "SOCKET"
	case Serial:
		return "ASRL"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Resource is a parsed resource string.
type Resource struct {
	Kind          Kind
	Board         int
	Host          string
	Port          int
	Device        string // serial device, or the Prologix link for GPIB
	PrimaryAddr   int
	SecondaryAddr int // 0 when not set
	Raw           string
}

// Address returns the host:port of a socket resource.
func (r Resource) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (r Resource) String() string { return r.Raw }

// ParseResource parses s.
func ParseResource(s string) (Resource, error) {
	raw := strings.TrimSpace(s)
	parts := strings.Split(raw, "::")
	head := strings.ToUpper(parts[0])
	last := strings.ToUpper(parts[len(parts)-1])
	res := Resource{Raw: raw}

	switch {
	case head == "PROLOGIX":
		if last == "INSTR" {
			parts = parts[:len(parts)-1]
		}
		if len(parts) != 3 && len(parts) != 4 {
			return res, fmt.Errorf("visa: malformed prologix resource %q", raw)
		}
		res.Kind = GPIB
		res.Device = parts[1]
		return res, parseAddrs(&res, parts[2:])

	case strings.HasPrefix(head, "GPIB"):
		if last != "INSTR" || (len(parts) != 3 && len(parts) != 4) {
			return res, fmt.Errorf("visa: malformed GPIB resource %q", raw)
		}
		res.Kind = GPIB
		board, err := parseBoard(head[len("GPIB"):])
		if err != nil {
			return res, fmt.Errorf("visa: %q: %w", raw, err)
		}
		res.Board = board
		return res, parseAddrs(&res, parts[1:len(parts)-1])

	case strings.HasPrefix(head, "TCPIP"):
		board, err := parseBoard(head[len("TCPIP"):])
		if err != nil {
			return res, fmt.Errorf("visa: %q: %w", raw, err)
		}
		res.Board = board
		if last != "SOCKET" {
			return res, fmt.Errorf("%w: %q (use TCPIP::<host>::<port>::SOCKET)", ErrUnsupported, raw)
		}
		if len(parts) != 4 {
			return res, fmt.Errorf("visa: malformed socket resource %q", raw)
		}
		port, err := strconv.Atoi(parts[2])
		if err != nil || port <= 0 || port > 65535 {
			return res, fmt.Errorf("visa: invalid port in %q", raw)
		}
		res.Kind = Socket
		res.Host = parts[1]
		res.Port = port
		return res, nil

	case strings.HasPrefix(head, "ASRL"):
		if last != "INSTR" || len(parts) != 2 {
			return res, fmt.Errorf("visa: malformed serial resource %q", raw)
		}
		dev := parts[0][len("ASRL"):]
		if dev == "" {
			return res, fmt.Errorf("visa: missing serial device in %q", raw)
		}
		if n, err := strconv.Atoi(dev); err == nil {
			dev = fmt.Sprintf("COM%d", n)
		}
		res.Kind = Serial
		res.Device = dev
		return res, nil
	}
	return res, fmt.Errorf("%w: %q", ErrUnsupported, raw)
}

func parseBoard(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseAddrs(res *Resource, fields []string) error {
	pad, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("visa: primary address %q: %w", fields[0], err)
	}
	res.PrimaryAddr = pad
	if len(fields) > 1 {
		sad, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("visa: secondary address %q: %w", fields[1], err)
		}
		res.SecondaryAddr = sad
	}
	return nil
}
