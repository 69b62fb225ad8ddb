package dht

import (
	"errors"
	"strings"
)

// Frame is one raw transmission: humidity high/low, temperature high/low and
// an additive checksum.
type Frame [5]byte

// Line prefixes used by the text codec.
const (
	linePrefix11 = "DHT11:"
	linePrefix22 = "DHT22:"
)

var (
	errFrameLength = errors.New("dht: frame must be 10 hex digits")
	errFrameHex    = errors.New("dht: invalid hex in frame")
	errLinePrefix  = errors.New("dht: unknown line prefix")
)

// Checksum returns the low byte of the sum of the four data bytes.
func (f Frame) Checksum() byte {
	return f[0] + f[1] + f[2] + f[3]
}

// Valid reports whether the checksum byte matches the data.
func (f Frame) Valid() bool { return f[4] == f.Checksum() }

// Verify returns a *ChecksumError when the frame is not valid.
func (f Frame) Verify() error {
	if f.Valid() {
		return nil
	}
	return &ChecksumError{Expected: f[4], Calculated: f.Checksum(), Frame: f}
}

// String returns the frame as 10 upper-case hex digits.
func (f Frame) String() string {
	return string(f.appendHex(make([]byte, 0, 10)))
}

func (f Frame) appendHex(dst []byte) []byte {
	const digits = "0123456789ABCDEF"
	for _, b := range f {
		dst = append(dst, digits[b>>4], digits[b&0x0F])
	}
	return dst
}

// ParseFrame parses 10 hex digits. The checksum is not checked.
func ParseFrame(s string) (Frame, error) {
	var f Frame
	if len(s) != 10 {
		return f, errFrameLength
	}
	for i := range f {
		hi, ok1 := unhex(s[2*i])
		lo, ok2 := unhex(s[2*i+1])
		if !ok1 || !ok2 {
			return f, errFrameHex
		}
		f[i] = hi<<4 | lo
	}
	return f, nil
}

// AppendLine appends the text form "DHT22:028C00A634" used on serial links.
func AppendLine(dst []byte, v Variant, f Frame) []byte {
	if v == DHT11 {
		dst = append(dst, linePrefix11...)
	} else {
		dst = append(dst, linePrefix22...)
	}
	return f.appendHex(dst)
}

// ParseLine parses one serial line produced by AppendLine. Surrounding
// whitespace is ignored. The checksum is not checked.
func ParseLine(line string) (Variant, Frame, error) {
	line = strings.TrimSpace(line)
	var v Variant
	switch {
	case strings.HasPrefix(line, linePrefix11):
		v = DHT11
	case strings.HasPrefix(line, linePrefix22):
		v = DHT22
	default:
		return 0, Frame{}, errLinePrefix
	}
	f, err := ParseFrame(line[len(linePrefix22):])
	return v, f, err
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
