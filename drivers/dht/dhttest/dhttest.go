// Package dhttest provides a simulated DHT data line for tests and for
// running the HAL without hardware.
//
// Time is virtual: it advances only through Clock.Delay, so pulse widths
// seen by the driver are exact and tests are deterministic.
package dhttest

import (
	"sync"
	"time"

	"dhtcode-go/drivers/dht"
)

// Nominal sensor timings.
const (
	RespondAfter = 30 * time.Microsecond
	AckLow       = 80 * time.Microsecond
	AckHigh      = 80 * time.Microsecond
	BitLow       = 50 * time.Microsecond
	ZeroHigh     = 26 * time.Microsecond
	OneHigh      = 70 * time.Microsecond
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a virtual clock. It implements dht.Delayer.
type Clock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *Clock) Delay(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Advance moves the clock forward without any line activity.
func (c *Clock) Advance(d time.Duration) { c.Delay(d) }

// Now returns the virtual time since the clock was created.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Time maps virtual time onto a fixed epoch, for dht.Config.Clock.
func (c *Clock) Time() time.Time { return epoch.Add(c.Now()) }

// Interrupts records masking calls. It implements dht.InterruptControl.
type Interrupts struct {
	mu       sync.Mutex
	Disables int
	Enables  int
	MaxDepth int
	depth    int
}

func (i *Interrupts) DisableInterrupts() {
	i.mu.Lock()
	i.Disables++
	i.depth++
	if i.depth > i.MaxDepth {
		i.MaxDepth = i.depth
	}
	i.mu.Unlock()
}

func (i *Interrupts) EnableInterrupts() {
	i.mu.Lock()
	i.Enables++
	i.depth--
	i.mu.Unlock()
}

// Masked reports whether interrupts are currently disabled.
func (i *Interrupts) Masked() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.depth > 0
}

// Balanced reports whether every disable was matched by an enable.
func (i *Interrupts) Balanced() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.depth == 0 && i.Disables == i.Enables
}

// Line bundles a clock, a sensor and an interrupt recorder.
type Line struct {
	Clock  *Clock
	Sensor *Sensor
	IRQ    *Interrupts
}

// NewLine returns a line whose sensor answers every start signal with f.
func NewLine(v dht.Variant, f dht.Frame) *Line {
	c := &Clock{}
	irq := &Interrupts{}
	s := NewSensor(c, v, f)
	s.IRQ = irq
	return &Line{Clock: c, Sensor: s, IRQ: irq}
}

// Device returns a driver wired to the line.
func (l *Line) Device() dht.Device {
	d := dht.New(l.Sensor, l.Clock, l.Sensor.Variant)
	d.Configure(dht.Config{Interrupts: l.IRQ, Clock: l.Clock.Time})
	return d
}

// Highs returns the nominal high-pulse widths that transmit f, MSB first.
func Highs(f dht.Frame) []time.Duration {
	out := make([]time.Duration, 0, 40)
	for i := 0; i < 40; i++ {
		if f[i/8]&(1<<(7-i%8)) != 0 {
			out = append(out, OneHigh)
		} else {
			out = append(out, ZeroHigh)
		}
	}
	return out
}
