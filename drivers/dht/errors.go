package dht

import (
	"errors"
	"strconv"
)

// Errors returned by the driver. Use errors.Is; the concrete values are
// *TimeoutError, *ChecksumError and *PinError.
var (
	ErrTimeout          = errors.New("dht: timeout")
	ErrChecksumMismatch = errors.New("dht: checksum mismatch")
	ErrPin              = errors.New("dht: pin error")
)

// TimeoutError reports a line transition that did not happen within MaxWait.
// Usually wiring, a missing sensor or reading too soon after the last read.
type TimeoutError struct {
	State State
	Bit   int // data bit index, -1 during the handshake
}

func (e *TimeoutError) Error() string {
	if e.Bit >= 0 {
		return "dht: timeout in " + e.State.String() + " at bit " + strconv.Itoa(e.Bit)
	}
	return "dht: timeout in " + e.State.String()
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ChecksumError reports a frame whose checksum byte does not match its data.
type ChecksumError struct {
	Expected   byte // checksum byte sent by the sensor
	Calculated byte
	Frame      Frame
}

func (e *ChecksumError) Error() string {
	return "dht: checksum mismatch (expected " + hexByte(e.Expected) + ", calculated " + hexByte(e.Calculated) + ")"
}

func (e *ChecksumError) Is(target error) bool { return target == ErrChecksumMismatch }

// PinError wraps a fault from the Pin during a read.
type PinError struct {
	State State
	Op    string
	Err   error
}

func (e *PinError) Error() string {
	return "dht: pin " + e.Op + " failed in " + e.State.String() + ": " + e.Err.Error()
}

func (e *PinError) Is(target error) bool { return target == ErrPin }
func (e *PinError) Unwrap() error        { return e.Err }

func hexByte(b byte) string {
	const digits = "0123456789ABCDEF"
	return "0x" + string([]byte{digits[b>>4], digits[b&0x0F]})
}
