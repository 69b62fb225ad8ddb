package errcode

import (
	"errors"

	"dhtcode-go/drivers/dht"
)

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK                Code = "ok"
	Busy              Code = "busy"
	Unsupported       Code = "unsupported"
	InvalidParams     Code = "invalid_params"
	InvalidPayload    Code = "invalid_payload"
	InvalidPeriod     Code = "invalid_period"
	InvalidTopic      Code = "invalid_topic"
	UnknownCapability Code = "unknown_capability"
	UnknownDevice     Code = "unknown_device_type"
	NoAdaptor         Code = "no_adaptor"
	HALNotReady       Code = "hal_not_ready"

	UnknownPin Code = "unknown_pin"

	// Sensor read failures.
	Timeout          Code = "timeout"
	ChecksumMismatch Code = "checksum_mismatch"
	PinFault         Code = "pin_error"
	Implausible      Code = "implausible"
	NotReady         Code = "not_ready"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, falling back to MapDriverErr.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return MapDriverErr(err)
}

// MapDriverErr maps low-level driver errors to a Code.
func MapDriverErr(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, dht.ErrTimeout):
		return Timeout
	case errors.Is(err, dht.ErrChecksumMismatch):
		return ChecksumMismatch
	case errors.Is(err, dht.ErrPin):
		return PinFault
	}
	return Error
}
