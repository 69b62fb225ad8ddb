package dht

import (
	"errors"
	"strings"
	"time"
)

// Variant selects the scaling and timing rules of a sensor family.
type Variant uint8

const (
	// DHT11 reports whole °C and whole %RH.
	DHT11 Variant = iota + 1
	// DHT22 covers the 22-class parts (DHT22, AM2302, DHT21, AM2301) which
	// report tenths of °C and %RH.
	DHT22
)

var errUnknownVariant = errors.New("dht: unknown variant")

// ParseVariant accepts a part name, case-insensitively.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dht11", "11":
		return DHT11, nil
	case "dht22", "22", "am2302", "dht21", "am2301":
		return DHT22, nil
	}
	return 0, errUnknownVariant
}

func (v Variant) String() string {
	switch v {
	case DHT11:
		return "dht11"
	case DHT22:
		return "dht22"
	default:
		return "unknown"
	}
}

// StartSignal is how long the host holds the line low to request a reading.
// The datasheet minimums are 18 ms (DHT11) and 1 ms (DHT22).
func (v Variant) StartSignal() time.Duration {
	if v == DHT11 {
		return 20 * time.Millisecond
	}
	return 1100 * time.Microsecond
}

// MinInterval is the minimum spacing between two reads.
func (v Variant) MinInterval() time.Duration {
	if v == DHT11 {
		return time.Second
	}
	return 2 * time.Second
}

// Decode scales a frame. It never fails; the checksum is not checked and
// out-of-range values pass through.
//
// DHT11 negative temperatures follow a convention of some low-cost parts:
// bit 7 of the temperature fraction byte marks the value negative. It is
// not part of the original datasheet; parts that never set the bit are
// unaffected.
func (v Variant) Decode(f Frame) Reading {
	if v == DHT11 {
		t := int32(f[2]) * 10
		if f[3]&0x80 != 0 {
			t = -t
		}
		return Reading{deciC: t, deciRH: int32(f[0]) * 10}
	}
	rh := int32(uint16(f[0])<<8 | uint16(f[1]))
	t := int32(uint16(f[2]&0x7F)<<8 | uint16(f[3]))
	if f[2]&0x80 != 0 {
		t = -t
	}
	return Reading{deciC: t, deciRH: rh}
}

// Encode is the inverse of Decode and returns a frame with a valid checksum.
// DHT11 values are truncated to whole units.
func (v Variant) Encode(r Reading) Frame {
	var f Frame
	t, neg := r.deciC, r.deciC < 0
	if neg {
		t = -t
	}
	if v == DHT11 {
		f[0] = byte(r.deciRH / 10)
		f[2] = byte(t / 10)
		if neg {
			f[3] = 0x80
		}
	} else {
		f[0] = byte(uint16(r.deciRH) >> 8)
		f[1] = byte(r.deciRH)
		f[2] = byte(uint16(t)>>8) & 0x7F
		f[3] = byte(t)
		if neg {
			f[2] |= 0x80
		}
	}
	f[4] = f.Checksum()
	return f
}

// Range returns the datasheet measuring range. The driver never enforces it.
func (v Variant) Range() Bounds {
	if v == DHT11 {
		return Bounds{MinDeciC: -200, MaxDeciC: 600, MinDeciRH: 0, MaxDeciRH: 1000}
	}
	return Bounds{MinDeciC: -400, MaxDeciC: 800, MinDeciRH: 0, MaxDeciRH: 1000}
}

// Bounds is an inclusive plausibility window in tenths.
type Bounds struct {
	MinDeciC, MaxDeciC   int32
	MinDeciRH, MaxDeciRH int32
}

// Contains reports whether both values of r lie inside b.
func (b Bounds) Contains(r Reading) bool {
	return r.deciC >= b.MinDeciC && r.deciC <= b.MaxDeciC &&
		r.deciRH >= b.MinDeciRH && r.deciRH <= b.MaxDeciRH
}

// Reading is one decoded measurement in fixed point.
type Reading struct {
	deciC  int32
	deciRH int32
}

// NewReading builds a Reading from tenths of °C and tenths of %RH.
func NewReading(deciC, deciRH int32) Reading {
	return Reading{deciC: deciC, deciRH: deciRH}
}

// DeciCelsius returns tenths of °C.
func (r Reading) DeciCelsius() int32 { return r.deciC }

// DeciRelHumidity returns tenths of %RH.
func (r Reading) DeciRelHumidity() int32 { return r.deciRH }

// Celsius returns °C (float). Prefer DeciCelsius for fixed-point.
func (r Reading) Celsius() float32 { return float32(r.deciC) / 10 }

// RelHumidity returns %RH (float). Prefer DeciRelHumidity for fixed-point.
func (r Reading) RelHumidity() float32 { return float32(r.deciRH) / 10 }
