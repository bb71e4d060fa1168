package scpi

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// ErrBlockHeader is returned for data that does not start with a valid
// definite-length block header.
var ErrBlockHeader = errors.New("scpi: invalid block header")

// EncodeBlock frames data as an IEEE 488.2 definite-length arbitrary block:
// '#', the number of length digits, the length, then the data.
func EncodeBlock(data []byte) []byte {
	n := strconv.Itoa(len(data))
	out := make([]byte, 0, 2+len(n)+len(data))
	out = append(out, '#', byte('0'+len(n)))
	out = append(out, n...)
	return append(out, data...)
}

// DecodeBlock parses a complete block and returns its data and the number of
// bytes consumed.
func DecodeBlock(b []byte) ([]byte, int, error) {
	hdr, length, err := blockHeader(b)
	if err != nil {
		return nil, 0, err
	}
	if len(b) < hdr+length {
		return nil, 0, fmt.Errorf("%w: want %d data bytes, have %d", io.ErrUnexpectedEOF, length, len(b)-hdr)
	}
	return b[hdr : hdr+length], hdr + length, nil
}

// ReadBlock reads one block from r. Whitespace before the '#' is skipped.
// Indefinite-length blocks (#0) are not supported.
func ReadBlock(r *bufio.Reader) ([]byte, error) {
	var c byte
	var err error
	for {
		c, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
		if c != ' ' && c != '\r' && c != '\n' && c != '\t' {
			break
		}
	}
	if c != '#' {
		return nil, fmt.Errorf("%w: got %q", ErrBlockHeader, c)
	}
	d, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if d < '1' || d > '9' {
		return nil, fmt.Errorf("%w: length digits %q", ErrBlockHeader, d)
	}
	digits := make([]byte, int(d-'0'))
	if _, err := io.ReadFull(r, digits); err != nil {
		return nil, err
	}
	length, err := blockLength(digits)
	if err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// NextMessage returns the first complete program message in buf, without its
// terminator, and the number of bytes it used. Blocks inside the message are
// skipped over so that terminator bytes in binary data do not end it early.
func NextMessage(buf []byte, term byte) (msg []byte, n int, ok bool) {
	for k := 0; k < len(buf); k++ {
		switch buf[k] {
		case term:
			return buf[:k], k + 1, true
		case '#':
			hdr, length, err := blockHeader(buf[k:])
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, 0, false
			}
			if err != nil {
				continue
			}
			if len(buf) < k+hdr+length {
				return nil, 0, false
			}
			k += hdr + length - 1
		}
	}
	return nil, 0, false
}

func blockHeader(b []byte) (hdr, length int, err error) {
	if len(b) < 2 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	if b[0] != '#' {
		return 0, 0, fmt.Errorf("%w: got %q", ErrBlockHeader, b[0])
	}
	if b[1] < '1' || b[1] > '9' {
		return 0, 0, fmt.Errorf("%w: length digits %q", ErrBlockHeader, b[1])
	}
	nd := int(b[1] - '0')
	if len(b) < 2+nd {
		return 0, 0, io.ErrUnexpectedEOF
	}
	if length, err = blockLength(b[2 : 2+nd]); err != nil {
		return 0, 0, err
	}
	return 2 + nd, length, nil
}

// blockLength parses the length field, which holds decimal digits only.
func blockLength(digits []byte) (int, error) {
	n := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: length %q", ErrBlockHeader, digits)
		}
		n = 10*n + int(c-'0')
	}
	return n, nil
}

// Float32s decodes REAL,32 data.
func Float32s(data []byte, order binary.ByteOrder) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("scpi: %d bytes is not a whole number of float32 values", len(data))
	}
	vals := make([]float32, len(data)/4)
	for k := range vals {
		vals[k] = math.Float32frombits(order.Uint32(data[4*k:]))
	}
	return vals, nil
}

// PutFloat32s encodes vals as REAL,32 data.
func PutFloat32s(vals []float32, order binary.ByteOrder) []byte {
	data := make([]byte, 4*len(vals))
	for k, v := range vals {
		order.PutUint32(data[4*k:], math.Float32bits(v))
	}
	return data
}
