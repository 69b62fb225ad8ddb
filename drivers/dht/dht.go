// Package dht provides a driver for the DHT11/DHT22 family of single-wire
// temperature/humidity sensors (DHT11, DHT21, DHT22, AM2301, AM2302).
//
// The sensor is driven over one bidirectional GPIO line. A read drives the
// start signal, waits for the sensor's acknowledgement and then samples 40
// data bits by measuring how long the line stays high for each bit:
//
//	d := dht.New(pin, delay, dht.DHT22)
//	d.Configure(dht.Config{Interrupts: irq})
//	r, err := d.Read()
//
// Pulse widths are measured by counting busy-wait steps of the supplied
// Delayer, so the driver needs no hardware timer. The Pin, Delayer and
// InterruptControl capabilities are supplied by the platform.
//
// Read does not retry and does not block to honour the sensor's minimum
// spacing between reads; ReadyIn reports how long the caller should wait.
// Reading sooner may return stale or corrupt data that still checksums.
package dht

import (
	"time"

	"tinygo.org/x/drivers"
)

// Protocol timing.
const (
	// BitThreshold separates a 0 (~26-28 µs high) from a 1 (~70 µs high).
	// A high pulse shorter than BitThreshold is 0, anything else is 1.
	BitThreshold = 30 * time.Microsecond
	// MaxWait bounds every awaited line transition.
	MaxWait = 100 * time.Microsecond

	pollStep      = time.Microsecond
	releaseSettle = 30 * time.Microsecond
	frameBits     = 40
)

// Pin is the single data line.
type Pin interface {
	// Low configures the line as an output and drives it low.
	Low() error
	// High drives the line high.
	High() error
	// Input releases the line; the pull-up holds it high until the sensor
	// drives it.
	Input() error
	// Get reads the current level.
	Get() (bool, error)
}

// Delayer busy-waits. It must not yield to a scheduler for short durations.
type Delayer interface {
	Delay(d time.Duration)
}

// InterruptControl masks preemption around the sampling window. Calls are
// always paired.
type InterruptControl interface {
	DisableInterrupts()
	EnableInterrupts()
}

// NoInterrupts is an InterruptControl that does nothing.
type NoInterrupts struct{}

func (NoInterrupts) DisableInterrupts() {}
func (NoInterrupts) EnableInterrupts()  {}

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Interrupts defaults to NoInterrupts.
	Interrupts InterruptControl
	// Clock is used only for read spacing. Defaults to time.Now.
	Clock func() time.Time
}

// Device is a DHT sensor on one line.
type Device struct {
	pin     Pin
	delay   Delayer
	irq     InterruptControl
	variant Variant
	now     func() time.Time

	state    State
	frame    Frame
	last     Reading
	lastRead time.Time
}

var _ drivers.Sensor = (*Device)(nil)

// New creates a new DHT device. It does not touch the line.
func New(pin Pin, delay Delayer, variant Variant) Device {
	return Device{
		pin:     pin,
		delay:   delay,
		irq:     NoInterrupts{},
		variant: variant,
		now:     time.Now,
	}
}

// Configure applies optional config. It may be called with no cfg.
func (d *Device) Configure(cfgs ...Config) {
	if len(cfgs) == 0 {
		return
	}
	c := cfgs[0]
	if c.Interrupts != nil {
		d.irq = c.Interrupts
	}
	if c.Clock != nil {
		d.now = c.Clock
	}
}

// Variant returns the sensor variant fixed at construction.
func (d *Device) Variant() Variant { return d.variant }

// State returns the last decoder state reached; Done after a good read.
func (d *Device) State() State { return d.state }

// LastReading returns the last successfully decoded reading.
func (d *Device) LastReading() Reading { return d.last }

// LastFrame returns the last complete 40-bit frame received, whether or not
// its checksum matched.
func (d *Device) LastFrame() Frame { return d.frame }

// ReadyIn returns how long until the sensor's minimum read spacing has
// elapsed. Zero means a read may start now.
func (d *Device) ReadyIn() time.Duration {
	if d.lastRead.IsZero() {
		return 0
	}
	left := d.variant.MinInterval() - d.now().Sub(d.lastRead)
	if left < 0 {
		return 0
	}
	return left
}

// Read performs one complete read. The returned error is a *TimeoutError,
// *ChecksumError or *PinError.
func (d *Device) Read() (Reading, error) {
	d.lastRead = d.now()
	var f Frame
	if err := d.receive(&f); err != nil {
		d.state = Failed
		return Reading{}, err
	}
	d.frame = f
	d.state = ChecksumVerify
	if err := f.Verify(); err != nil {
		d.state = Failed
		return Reading{}, err
	}
	d.last = d.variant.Decode(f)
	d.state = Done
	return d.last, nil
}

// Update reads the sensor when temperature or humidity is requested.
func (d *Device) Update(which drivers.Measurement) error {
	if which&(drivers.Temperature|drivers.Humidity) == 0 {
		return nil
	}
	_, err := d.Read()
	return err
}

// Temperature returns the last temperature in milli-°C.
func (d *Device) Temperature() int32 { return d.last.DeciCelsius() * 100 }

// Humidity returns the last relative humidity in hundredths of a percent.
func (d *Device) Humidity() int32 { return d.last.DeciRelHumidity() * 10 }

// Decode validates a received frame and scales it for the variant.
func Decode(f Frame, v Variant) (Reading, error) {
	if err := f.Verify(); err != nil {
		return Reading{}, err
	}
	return v.Decode(f), nil
}
